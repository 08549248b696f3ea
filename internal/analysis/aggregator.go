package analysis

import (
	"context"
	"math"
	"time"

	"github.com/flexycode/altflex/internal/exploitdb"
	"github.com/flexycode/altflex/internal/idgen"
	"github.com/flexycode/altflex/internal/verify"
)

// indicator tags derived from triggered rules, matched against the
// exploit signature catalog's indicator vocabulary.
var ruleIndicators = map[string]string{
	"flash_loan":              "flash_loan",
	"high_gas":                "high_gas_usage",
	"same_block_borrow_repay": "same_block_borrow_repay",
	"large_value":             "large_value_transfer",
}

// Aggregator merges rule results, the address verification report, and
// the anomaly probability into one classified assessment.
type Aggregator struct {
	critical   float64
	suspicious float64
	matcher    *exploitdb.Matcher
}

// NewAggregator creates an aggregator with the given classification
// thresholds. critical must be above suspicious.
func NewAggregator(critical, suspicious float64, matcher *exploitdb.Matcher) *Aggregator {
	return &Aggregator{critical: critical, suspicious: suspicious, matcher: matcher}
}

// Aggregate computes the risk score and classification. The score is a
// deterministic function of its inputs:
//
//	risk = clamp(0.6*anomaly + 0.4*max(rule confidences), 0, 1)
//
// A known attacker forces CRITICAL regardless of the numeric score.
func (g *Aggregator) Aggregate(ctx context.Context, tx *TransactionRecord, results []DetectionResult, report *verify.Report, anomalyScore float64, mlAvailable bool) (*RiskAssessment, error) {
	maxConfidence := 0.0
	var triggered []DetectionResult
	attackerRule := false
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		triggered = append(triggered, r)
		if r.Confidence > maxConfidence {
			maxConfidence = r.Confidence
		}
		if r.RuleID == "known_attacker" {
			attackerRule = true
		}
	}

	score := clamp(0.6*anomalyScore + 0.4*maxConfidence)

	knownAttacker := attackerRule || (report != nil && report.IsKnownAttacker)
	classification := g.classify(score)
	if knownAttacker {
		classification = ClassCritical
	}

	assessment := &RiskAssessment{
		ID:             idgen.WithPrefix("assess_"),
		TxHash:         tx.Hash,
		RiskScore:      round3(score),
		Classification: classification,
		TriggeredRules: triggered,
		RulesChecked:   len(results),
		AnomalyScore:   anomalyScore,
		MLAvailable:    mlAvailable,
		Verification:   report,
		CreatedAt:      time.Now().UTC(),
	}

	match, err := g.matcher.BestMatch(ctx, g.buildQuery(tx, triggered))
	if err != nil {
		return nil, err
	}
	if match != nil {
		assessment.MatchedExploitID = match.Signature.ID
	} else if classification != ClassNormal {
		assessment.NovelPattern = true
	}

	return assessment, nil
}

func (g *Aggregator) classify(score float64) Classification {
	switch {
	case score >= g.critical:
		return ClassCritical
	case score >= g.suspicious:
		return ClassSuspicious
	default:
		return ClassNormal
	}
}

func (g *Aggregator) buildQuery(tx *TransactionRecord, triggered []DetectionResult) exploitdb.Query {
	q := exploitdb.Query{}
	if tx.From != "" {
		q.Addresses = append(q.Addresses, tx.From)
	}
	if tx.To != "" {
		q.Addresses = append(q.Addresses, tx.To)
	}
	for _, r := range triggered {
		if tag, ok := ruleIndicators[r.RuleID]; ok {
			q.Indicators = append(q.Indicators, tag)
		}
		if r.RuleID == "flash_loan" {
			q.Vector = "flash_loan"
		}
	}
	return q
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
