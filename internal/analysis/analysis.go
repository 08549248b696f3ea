// Package analysis turns a raw transaction observation into a risk
// verdict: deterministic rule evaluation, address verification, and an
// external anomaly probability are combined into a single classified
// assessment, which is then durably recorded in the audit ledger.
package analysis

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/flexycode/altflex/internal/verify"
)

// ErrNotFound is returned when an assessment id is unknown.
var ErrNotFound = errors.New("assessment not found")

// TransactionRecord is a normalized transaction observation. Immutable
// once ingested; collectors upstream produce this schema.
type TransactionRecord struct {
	Hash         string    `json:"hash"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	ValueWei     *big.Int  `json:"valueWei"`
	GasUsed      uint64    `json:"gasUsed"`
	GasPriceGwei float64   `json:"gasPriceGwei"`
	BlockNumber  uint64    `json:"blockNumber"`
	Timestamp    time.Time `json:"timestamp"`
	Input        string    `json:"input"`
	IsError      bool      `json:"isError"`
}

// ValueUSD converts the wei value to USD at the given ETH reference
// price. A nil value converts to zero.
func (t *TransactionRecord) ValueUSD(ethPriceUSD float64) float64 {
	if t.ValueWei == nil {
		return 0
	}
	eth := new(big.Float).Quo(
		new(big.Float).SetInt(t.ValueWei),
		big.NewFloat(1e18),
	)
	usd, _ := new(big.Float).Mul(eth, big.NewFloat(ethPriceUSD)).Float64()
	return usd
}

// Severity ranks a detection rule's impact.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// DetectionResult is one rule's outcome for one transaction. Confidence
// is exactly 1.0 for deterministic rules; only ML-sourced scores carry
// continuous uncertainty.
type DetectionResult struct {
	RuleID     string   `json:"ruleId"`
	RuleName   string   `json:"ruleName"`
	Triggered  bool     `json:"triggered"`
	Confidence float64  `json:"confidence"`
	Severity   Severity `json:"severity"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Classification is the final verdict bucket.
type Classification string

const (
	ClassNormal     Classification = "NORMAL"
	ClassSuspicious Classification = "SUSPICIOUS"
	ClassCritical   Classification = "CRITICAL"
)

// RiskAssessment is the immutable result of one analysis call.
type RiskAssessment struct {
	ID               string            `json:"id"`
	TxHash           string            `json:"txHash"`
	RiskScore        float64           `json:"riskScore"`
	Classification   Classification    `json:"classification"`
	TriggeredRules   []DetectionResult `json:"triggeredRules"`
	RulesChecked     int               `json:"rulesChecked"`
	AnomalyScore     float64           `json:"anomalyScore"`
	MLAvailable      bool              `json:"mlAvailable"`
	MatchedExploitID string            `json:"matchedExploitId,omitempty"`
	NovelPattern     bool              `json:"novelPattern"`
	Verification     *verify.Report    `json:"verification,omitempty"`
	LedgerEntryID    string            `json:"ledgerEntryId,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// TriggeredRuleIDs returns the IDs of the triggered rules, for the audit
// event payload.
func (a *RiskAssessment) TriggeredRuleIDs() []string {
	ids := make([]string, 0, len(a.TriggeredRules))
	for _, r := range a.TriggeredRules {
		ids = append(ids, r.RuleID)
	}
	return ids
}

// Store persists completed risk assessments.
type Store interface {
	Save(ctx context.Context, a *RiskAssessment) error
	Get(ctx context.Context, id string) (*RiskAssessment, error)
	List(ctx context.Context, limit, offset int) ([]*RiskAssessment, error)
}
