package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flexycode/altflex/internal/anomaly"
	"github.com/flexycode/altflex/internal/audit"
	"github.com/flexycode/altflex/internal/custody"
	"github.com/flexycode/altflex/internal/logging"
	"github.com/flexycode/altflex/internal/metrics"
	"github.com/flexycode/altflex/internal/traces"
	"github.com/flexycode/altflex/internal/validation"
	"github.com/flexycode/altflex/internal/verify"
)

// ErrInvalidTransaction is returned for malformed submissions. They are
// rejected before rule evaluation and never reach the ledger.
var ErrInvalidTransaction = errors.New("invalid transaction")

// Broadcaster pushes completed assessments to subscribed alert clients.
type Broadcaster interface {
	Broadcast(a *RiskAssessment)
}

// Options configures the analysis service.
type Options struct {
	EthPriceUSD      float64
	AnomalyTimeout   time.Duration
	LendingProtocols map[string]struct{}
}

// Service runs the full analysis pipeline: rules, address verification,
// and anomaly scoring fork concurrently, join, aggregate, and the
// verdict is recorded in the audit ledger with a custody event.
type Service struct {
	engine     *Engine
	aggregator *Aggregator
	verifier   *verify.Verifier
	scorer     anomaly.Scorer
	attackers  verify.AttackerSource
	ledger     *audit.Ledger
	tracker    *custody.Tracker
	signer     *custody.Signer
	store      Store
	blocks     *BlockIndex
	alerts     Broadcaster
	opts       Options
}

// NewService wires the analysis pipeline. alerts may be nil when no
// realtime feed is attached.
func NewService(engine *Engine, aggregator *Aggregator, verifier *verify.Verifier, scorer anomaly.Scorer, attackers verify.AttackerSource, ledger *audit.Ledger, tracker *custody.Tracker, signer *custody.Signer, store Store, alerts Broadcaster, opts Options) *Service {
	return &Service{
		engine:     engine,
		aggregator: aggregator,
		verifier:   verifier,
		scorer:     scorer,
		attackers:  attackers,
		ledger:     ledger,
		tracker:    tracker,
		signer:     signer,
		store:      store,
		blocks:     NewBlockIndex(),
		alerts:     alerts,
		opts:       opts,
	}
}

// Rules exposes the engine's rule set.
func (s *Service) Rules() []Rule {
	return s.engine.Rules()
}

// Store exposes the assessment store for read endpoints.
func (s *Service) Store() Store {
	return s.store
}

func (s *Service) validate(tx *TransactionRecord) error {
	if tx == nil {
		return fmt.Errorf("%w: missing transaction", ErrInvalidTransaction)
	}
	if !validation.IsValidTxHash(tx.Hash) {
		return fmt.Errorf("%w: malformed transaction hash", ErrInvalidTransaction)
	}
	if !validation.IsValidAddress(tx.From) {
		return fmt.Errorf("%w: malformed sender address", ErrInvalidTransaction)
	}
	if tx.To != "" && !validation.IsValidAddress(tx.To) {
		return fmt.Errorf("%w: malformed recipient address", ErrInvalidTransaction)
	}
	return nil
}

// EvaluateRules runs only the deterministic rules against a transaction.
// Diagnostic path: nothing is recorded and the same-block pairing state
// is left untouched.
func (s *Service) EvaluateRules(ctx context.Context, tx *TransactionRecord) ([]DetectionResult, error) {
	if err := s.validate(tx); err != nil {
		return nil, err
	}
	attackers, err := s.attackers.KnownAttackers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load attacker set: %w", err)
	}
	return s.engine.Evaluate(tx, &RuleContext{
		KnownAttackers:   attackers,
		LendingProtocols: s.opts.LendingProtocols,
		Blocks:           s.blocks,
		EthPriceUSD:      s.opts.EthPriceUSD,
	}), nil
}

// ProbeAnomaly runs only the external anomaly scorer against a
// transaction. Diagnostic path: nothing is recorded.
func (s *Service) ProbeAnomaly(ctx context.Context, tx *TransactionRecord) (float64, bool, error) {
	if err := s.validate(tx); err != nil {
		return 0, false, err
	}
	score, available := s.scoreAnomaly(ctx, tx)
	return score, available, nil
}

// ModelInfo describes the configured anomaly scorer.
func (s *Service) ModelInfo() anomaly.Info {
	if d, ok := s.scorer.(interface{ Info() anomaly.Info }); ok {
		return d.Info()
	}
	return anomaly.Info{Kind: "custom", Available: true, Features: anomaly.FeatureNames()}
}

// AnalyzeTransaction runs the pipeline for one transaction. history is
// optional context for the behavioral verification stage. Either the
// full verdict is computed and appended to the ledger, or nothing is.
func (s *Service) AnalyzeTransaction(ctx context.Context, tx *TransactionRecord, history []verify.HistoryTx) (*RiskAssessment, error) {
	start := time.Now()
	if err := s.validate(tx); err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "analysis.AnalyzeTransaction", traces.TxHash(tx.Hash))
	defer span.End()
	ctx = logging.WithArtifact(ctx, tx.Hash)

	attackers, err := s.attackers.KnownAttackers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load attacker set: %w", err)
	}
	ruleCtx := &RuleContext{
		KnownAttackers:   attackers,
		LendingProtocols: s.opts.LendingProtocols,
		Blocks:           s.blocks,
		EthPriceUSD:      s.opts.EthPriceUSD,
	}
	s.blocks.Observe(tx.From, tx.BlockNumber, inputSelector(tx.Input))

	// Fork: rules, address verification, and the external anomaly call
	// run as independent tasks, joined before aggregation.
	var (
		wg           sync.WaitGroup
		results      []DetectionResult
		report       *verify.Report
		verifyErr    error
		anomalyScore float64
		mlAvailable  bool
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		results = s.engine.Evaluate(tx, ruleCtx)
	}()
	go func() {
		defer wg.Done()
		report, verifyErr = s.verifier.Verify(ctx, tx.From, history)
	}()
	go func() {
		defer wg.Done()
		anomalyScore, mlAvailable = s.scoreAnomaly(ctx, tx)
	}()
	wg.Wait()

	// Cancellation before the join completes must not leave a partial
	// ledger entry.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if verifyErr != nil {
		return nil, fmt.Errorf("address verification failed: %w", verifyErr)
	}

	assessment, err := s.aggregator.Aggregate(ctx, tx, results, report, anomalyScore, mlAvailable)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}

	entry, err := s.ledger.Append(ctx, audit.DetectionEvent{
		TxHash:           tx.Hash,
		RiskScore:        assessment.RiskScore,
		Classification:   string(assessment.Classification),
		TriggeredRules:   assessment.TriggeredRuleIDs(),
		AnomalyScore:     assessment.AnomalyScore,
		MLAvailable:      assessment.MLAvailable,
		MatchedExploitID: assessment.MatchedExploitID,
	})
	if err != nil {
		return nil, fmt.Errorf("audit append failed: %w", err)
	}
	assessment.LedgerEntryID = entry.ID

	if err := s.store.Save(ctx, assessment); err != nil {
		return nil, fmt.Errorf("failed to save assessment: %w", err)
	}

	s.recordCustody(ctx, tx.Hash)

	for _, r := range assessment.TriggeredRules {
		metrics.RulesTriggeredTotal.WithLabelValues(r.RuleID).Inc()
	}
	metrics.AnalysesTotal.WithLabelValues(string(assessment.Classification)).Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	if s.alerts != nil {
		s.alerts.Broadcast(assessment)
	}

	logging.L(ctx).Info("transaction analyzed",
		"tx_hash", tx.Hash,
		"risk_score", assessment.RiskScore,
		"classification", assessment.Classification,
		"rules_triggered", len(assessment.TriggeredRules),
		"ml_available", assessment.MLAvailable,
		"duration_ms", time.Since(start).Milliseconds())
	return assessment, nil
}

// scoreAnomaly calls the external classifier with a bounded timeout. On
// unavailability the pipeline degrades to rule-only scoring.
func (s *Service) scoreAnomaly(ctx context.Context, tx *TransactionRecord) (float64, bool) {
	timeout := s.opts.AnomalyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	score, err := s.scorer.Score(ctx, anomaly.Features{
		ValueUSD:     tx.ValueUSD(s.opts.EthPriceUSD),
		GasUsed:      tx.GasUsed,
		GasPriceGwei: tx.GasPriceGwei,
		InputSize:    len(tx.Input),
		IsError:      tx.IsError,
	})
	if err != nil {
		metrics.DegradedAnalysesTotal.Inc()
		logging.L(ctx).Warn("anomaly scorer unavailable, degrading to rule-only scoring",
			"tx_hash", tx.Hash, "error", err)
		return 0, false
	}
	return score, true
}

// recordCustody appends the ANALYZED custody event for the transaction.
// Best effort: the verdict is already in the ledger, so a custody
// failure is logged rather than failing the analysis.
func (s *Service) recordCustody(ctx context.Context, txHash string) {
	if s.tracker == nil || s.signer == nil {
		return
	}

	signedAt := time.Now().UTC()
	location := "analysis-engine"
	signature, err := s.signer.Sign(txHash, custody.ActionAnalyzed, location, signedAt)
	if err != nil {
		logging.L(ctx).Warn("failed to sign custody event", "tx_hash", txHash, "error", err)
		return
	}

	_, err = s.tracker.Record(ctx, custody.RecordRequest{
		ArtifactID: txHash,
		Actor:      s.signer.ID(),
		Action:     custody.ActionAnalyzed,
		Location:   location,
		SignedAt:   signedAt.Unix(),
		Signature:  signature,
	})
	if err != nil {
		logging.L(ctx).Warn("failed to record custody event", "tx_hash", txHash, "error", err)
	}
}

// BatchSummary aggregates a batch analysis run.
type BatchSummary struct {
	Total      int `json:"total"`
	Critical   int `json:"critical"`
	Suspicious int `json:"suspicious"`
	Normal     int `json:"normal"`
	Degraded   int `json:"degraded"`
	Failed     int `json:"failed"`
}

// BatchResult is one transaction's outcome within a batch.
type BatchResult struct {
	TxHash     string          `json:"txHash"`
	Assessment *RiskAssessment `json:"assessment,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// AnalyzeBatch analyzes transactions sequentially, preserving submission
// order in the ledger. A malformed transaction fails its slot without
// aborting the batch.
func (s *Service) AnalyzeBatch(ctx context.Context, txs []*TransactionRecord) ([]BatchResult, BatchSummary, error) {
	results := make([]BatchResult, 0, len(txs))
	summary := BatchSummary{Total: len(txs)}

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return results, summary, err
		}

		hash := ""
		if tx != nil {
			hash = tx.Hash
		}
		assessment, err := s.AnalyzeTransaction(ctx, tx, nil)
		if err != nil {
			if errors.Is(err, ErrInvalidTransaction) {
				summary.Failed++
				results = append(results, BatchResult{TxHash: hash, Error: err.Error()})
				continue
			}
			return results, summary, err
		}

		switch assessment.Classification {
		case ClassCritical:
			summary.Critical++
		case ClassSuspicious:
			summary.Suspicious++
		default:
			summary.Normal++
		}
		if !assessment.MLAvailable {
			summary.Degraded++
		}
		results = append(results, BatchResult{TxHash: hash, Assessment: assessment})
	}
	return results, summary, nil
}
