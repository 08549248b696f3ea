package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flexycode/altflex/internal/logging"
)

// HTTPScorer calls a remote scoring service. Every call carries a hard
// deadline; a slow model must never stall the analysis join.
type HTTPScorer struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPScorer creates a scorer client with a per-call timeout bound.
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPScorer{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScorer) Info() Info {
	return Info{Kind: "external_http", Endpoint: s.url, Available: true, Features: FeatureNames()}
}

type scoreResponse struct {
	Probability float64 `json:"probability"`
}

func (s *HTTPScorer) Score(ctx context.Context, f Features) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("failed to encode features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logging.L(ctx).Warn("anomaly scorer call failed", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: scorer returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var result scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("%w: invalid scorer response: %v", ErrUnavailable, err)
	}

	if result.Probability < 0 || result.Probability > 1 {
		return 0, fmt.Errorf("%w: probability %f out of range", ErrUnavailable, result.Probability)
	}
	return result.Probability, nil
}

// StaticScorer returns a fixed probability. Used when no scorer is
// configured and in tests.
type StaticScorer struct {
	Probability float64
}

func (s StaticScorer) Score(context.Context, Features) (float64, error) {
	return s.Probability, nil
}

func (s StaticScorer) Info() Info {
	return Info{Kind: "static", Available: true, Features: FeatureNames()}
}

// UnavailableScorer always fails. Used to exercise degraded analyses.
type UnavailableScorer struct{}

func (UnavailableScorer) Score(context.Context, Features) (float64, error) {
	return 0, ErrUnavailable
}

func (UnavailableScorer) Info() Info {
	return Info{Kind: "none", Available: false, Features: FeatureNames()}
}
