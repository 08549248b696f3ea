package analysis

import (
	"fmt"
	"strings"
	"sync"
)

// Rule thresholds.
const (
	// LargeValueUSDThreshold flags transfers above this USD value.
	LargeValueUSDThreshold = 100_000
	// HighGasThreshold flags gas consumption typical of complex
	// multi-step exploit transactions.
	HighGasThreshold = 500_000
)

// Function selectors observed at the start of call data. Keys are the
// 4-byte selector in 0x-prefixed lowercase hex.
var (
	flashLoanSelectors = map[string]string{
		"0xab9c4b5d": "Aave flashLoan",
		"0x42b0b77c": "Aave flashLoanSimple",
		"0xa67a6a45": "dYdX operate",
	}
	borrowSelectors = map[string]string{
		"0xa415bcad": "Aave borrow",
		"0xc5ebeaec": "Compound borrow",
	}
	repaySelectors = map[string]string{
		"0x573ade81": "Aave repay",
		"0x0e752702": "Compound repayBorrow",
	}
)

// inputSelector extracts the 4-byte function selector from hex call
// data, or "" when the input is too short to carry one.
func inputSelector(input string) string {
	data := strings.ToLower(strings.TrimPrefix(input, "0x"))
	if len(data) < 8 {
		return ""
	}
	return "0x" + data[:8]
}

// BlockIndex records which loan selectors each sender has issued per
// block, so the same-block rule can correlate a borrow with its repay.
// Safe for concurrent use.
type BlockIndex struct {
	mu   sync.RWMutex
	seen map[blockKey]map[string]struct{}
}

type blockKey struct {
	sender string
	block  uint64
}

// NewBlockIndex creates an empty same-block activity index.
func NewBlockIndex() *BlockIndex {
	return &BlockIndex{seen: make(map[blockKey]map[string]struct{})}
}

// Observe records that sender issued a transaction with the given
// selector in the given block. Non-loan selectors are ignored.
func (i *BlockIndex) Observe(sender string, block uint64, selector string) {
	_, borrow := borrowSelectors[selector]
	_, repay := repaySelectors[selector]
	if !borrow && !repay {
		return
	}

	key := blockKey{sender: strings.ToLower(sender), block: block}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.seen[key] == nil {
		i.seen[key] = make(map[string]struct{})
	}
	i.seen[key][selector] = struct{}{}
}

func (i *BlockIndex) hasAny(sender string, block uint64, selectors map[string]string) bool {
	key := blockKey{sender: strings.ToLower(sender), block: block}
	i.mu.RLock()
	defer i.mu.RUnlock()
	for sel := range i.seen[key] {
		if _, ok := selectors[sel]; ok {
			return true
		}
	}
	return false
}

// RuleContext carries the reference data rules check against. Any field
// may be zero; a rule missing its context treats itself as not
// triggered.
type RuleContext struct {
	KnownAttackers   map[string]struct{}
	LendingProtocols map[string]struct{}
	Blocks           *BlockIndex
	EthPriceUSD      float64
}

func (rc *RuleContext) isAttacker(addr string) bool {
	if rc.KnownAttackers == nil || addr == "" {
		return false
	}
	_, ok := rc.KnownAttackers[strings.ToLower(addr)]
	return ok
}

// Rule is one deterministic exploit-pattern check. Rules are pure: they
// read the transaction and context, never mutate either, and the same
// inputs always produce the same outcome.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`

	eval func(tx *TransactionRecord, rc *RuleContext) (bool, []string)
}

func defaultRules() []Rule {
	return []Rule{
		{
			ID:          "known_attacker",
			Name:        "Known Attacker Address",
			Description: "Sender or recipient appears in the known attacker set",
			Severity:    SeverityCritical,
			eval: func(tx *TransactionRecord, rc *RuleContext) (bool, []string) {
				var evidence []string
				if rc.isAttacker(tx.From) {
					evidence = append(evidence, fmt.Sprintf("sender %s is a known attacker", strings.ToLower(tx.From)))
				}
				if rc.isAttacker(tx.To) {
					evidence = append(evidence, fmt.Sprintf("recipient %s is a known attacker", strings.ToLower(tx.To)))
				}
				return len(evidence) > 0, evidence
			},
		},
		{
			ID:          "large_value",
			Name:        "Large Value Transfer",
			Description: "Transfer value exceeds $100,000 at the reference ETH price",
			Severity:    SeverityHigh,
			eval: func(tx *TransactionRecord, rc *RuleContext) (bool, []string) {
				if rc.EthPriceUSD <= 0 {
					return false, nil
				}
				usd := tx.ValueUSD(rc.EthPriceUSD)
				if usd <= LargeValueUSDThreshold {
					return false, nil
				}
				return true, []string{fmt.Sprintf("transfer value $%.2f exceeds $%d", usd, LargeValueUSDThreshold)}
			},
		},
		{
			ID:          "high_gas",
			Name:        "High Gas Usage",
			Description: "Gas usage above 500,000 units, typical of multi-step exploits",
			Severity:    SeverityMedium,
			eval: func(tx *TransactionRecord, _ *RuleContext) (bool, []string) {
				if tx.GasUsed <= HighGasThreshold {
					return false, nil
				}
				return true, []string{fmt.Sprintf("gas used %d exceeds %d", tx.GasUsed, HighGasThreshold)}
			},
		},
		{
			ID:          "same_block_borrow_repay",
			Name:        "Same-Block Borrow/Repay",
			Description: "Sender issued a paired borrow and repay within one block",
			Severity:    SeverityHigh,
			eval: func(tx *TransactionRecord, rc *RuleContext) (bool, []string) {
				if rc.Blocks == nil {
					return false, nil
				}
				sel := inputSelector(tx.Input)
				if name, ok := borrowSelectors[sel]; ok {
					if rc.Blocks.hasAny(tx.From, tx.BlockNumber, repaySelectors) {
						return true, []string{fmt.Sprintf("%s paired with a repay in block %d", name, tx.BlockNumber)}
					}
				}
				if name, ok := repaySelectors[sel]; ok {
					if rc.Blocks.hasAny(tx.From, tx.BlockNumber, borrowSelectors) {
						return true, []string{fmt.Sprintf("%s paired with a borrow in block %d", name, tx.BlockNumber)}
					}
				}
				return false, nil
			},
		},
		{
			ID:          "lending_protocol",
			Name:        "Lending Protocol Interaction",
			Description: "Recipient is a monitored lending protocol contract",
			Severity:    SeverityMedium,
			eval: func(tx *TransactionRecord, rc *RuleContext) (bool, []string) {
				if rc.LendingProtocols == nil || tx.To == "" {
					return false, nil
				}
				if _, ok := rc.LendingProtocols[strings.ToLower(tx.To)]; !ok {
					return false, nil
				}
				return true, []string{fmt.Sprintf("recipient %s is a lending protocol", strings.ToLower(tx.To))}
			},
		},
		{
			ID:          "flash_loan",
			Name:        "Flash Loan Indicator",
			Description: "Call data carries a flash-loan function selector or signature",
			Severity:    SeverityCritical,
			eval: func(tx *TransactionRecord, _ *RuleContext) (bool, []string) {
				if name, ok := flashLoanSelectors[inputSelector(tx.Input)]; ok {
					return true, []string{fmt.Sprintf("call data starts with %s selector", name)}
				}
				if strings.Contains(tx.Input, "flashLoan(") {
					return true, []string{"call data contains a flashLoan( signature"}
				}
				return false, nil
			},
		},
	}
}

// Engine evaluates the fixed rule set against transactions. Stateless
// and safe for concurrent use.
type Engine struct {
	rules []Rule
}

// NewEngine creates a rule engine with the six built-in rules.
func NewEngine() *Engine {
	return &Engine{rules: defaultRules()}
}

// Rules returns the rule set for the configuration endpoint.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate runs every rule against the transaction. The result always
// has one entry per rule, in rule-set order; rules are independent and
// the triggered set does not depend on evaluation order.
func (e *Engine) Evaluate(tx *TransactionRecord, rc *RuleContext) []DetectionResult {
	if rc == nil {
		rc = &RuleContext{}
	}

	results := make([]DetectionResult, 0, len(e.rules))
	for _, rule := range e.rules {
		triggered, evidence := rule.eval(tx, rc)
		result := DetectionResult{
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			Triggered: triggered,
			Severity:  rule.Severity,
			Evidence:  evidence,
		}
		if triggered {
			result.Confidence = 1.0
		}
		results = append(results, result)
	}
	return results
}
