// Package anomaly is the client side of the external anomaly scoring
// service. The trained classifier lives behind an HTTP endpoint; this
// package only assembles the feature point and enforces the timeout bound.
package anomaly

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the scorer cannot produce a probability
// in time. The analysis pipeline degrades to rule-only scoring.
var ErrUnavailable = errors.New("anomaly scorer unavailable")

// Features is the feature point submitted for scoring.
type Features struct {
	ValueUSD     float64 `json:"valueUsd"`
	GasUsed      uint64  `json:"gasUsed"`
	GasPriceGwei float64 `json:"gasPriceGwei"`
	InputSize    int     `json:"inputSize"`
	IsError      bool    `json:"isError"`
}

// Scorer produces an anomaly probability in [0,1] for a feature point.
type Scorer interface {
	Score(ctx context.Context, f Features) (float64, error)
}

// FeatureNames lists the feature point fields in submission order.
func FeatureNames() []string {
	return []string{"valueUsd", "gasUsed", "gasPriceGwei", "inputSize", "isError"}
}

// Info describes a scorer for the diagnostics surface.
type Info struct {
	Kind      string   `json:"kind"`
	Endpoint  string   `json:"endpoint,omitempty"`
	Available bool     `json:"available"`
	Features  []string `json:"features"`
}
