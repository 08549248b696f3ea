// Package verify implements the 5-stage address verification pipeline:
// format, checksum, on-chain existence, blacklist, and behavioral analysis.
//
// Only a format failure is terminal. Every other stage is advisory: a
// failed checksum or an unreachable chain-data provider degrades the
// report instead of rejecting the address.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flexycode/altflex/internal/chaindata"
	"github.com/flexycode/altflex/internal/exploitdb"
	"github.com/flexycode/altflex/internal/logging"
	"github.com/flexycode/altflex/internal/metrics"
	"github.com/flexycode/altflex/internal/traces"
	"github.com/flexycode/altflex/internal/validation"
)

// Outcome of a single pipeline stage.
type Outcome string

const (
	OutcomePass         Outcome = "PASS"
	OutcomeFail         Outcome = "FAIL"
	OutcomeInconclusive Outcome = "INCONCLUSIVE"
)

// Stage names, in pipeline order.
const (
	StageFormat     = "format"
	StageChecksum   = "checksum"
	StageOnChain    = "onchain"
	StageBlacklist  = "blacklist"
	StageBehavioral = "behavioral"
)

// Risk thresholds for on-chain evidence.
const (
	newAddressAgeDays  = 30
	dormantTxThreshold = 5
	highTxCountForNew  = 100
)

// StageResult is one stage's outcome.
type StageResult struct {
	Stage   string  `json:"stage"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// Report is the full verification result for one address.
type Report struct {
	Address           string                  `json:"address"`
	NormalizedAddress string                  `json:"normalizedAddress"`
	Stages            []StageResult           `json:"stages"`
	IsKnownAttacker   bool                    `json:"isKnownAttacker"`
	BehavioralRisk    float64                 `json:"behavioralRisk"`
	OnChain           *chaindata.AddressState `json:"onChain,omitempty"`
	Behavioral        *BehavioralResult       `json:"behavioral,omitempty"`
	MatchedExploit    *exploitdb.Signature    `json:"matchedExploit,omitempty"`
	Evidence          []string                `json:"evidence,omitempty"`
	VerifiedAt        time.Time               `json:"verifiedAt"`
}

// Rejected reports whether verification halted at the format stage.
func (r *Report) Rejected() bool {
	return len(r.Stages) == 1 && r.Stages[0].Outcome == OutcomeFail
}

// StageOutcomes returns stage → outcome, for audit events.
func (r *Report) StageOutcomes() map[string]string {
	m := make(map[string]string, len(r.Stages))
	for _, s := range r.Stages {
		m[s.Stage] = string(s.Outcome)
	}
	return m
}

// AttackerSource supplies the known attacker address set.
type AttackerSource interface {
	KnownAttackers(ctx context.Context) (map[string]struct{}, error)
}

// Verifier runs the verification pipeline.
type Verifier struct {
	chain     chaindata.Client
	attackers AttackerSource
	exploits  exploitdb.Store
}

// NewVerifier creates an address verifier. The chain client may be backed
// by a live provider or fixtures; attacker data comes from the exploit
// signature catalog.
func NewVerifier(chain chaindata.Client, attackers AttackerSource, exploits exploitdb.Store) *Verifier {
	return &Verifier{chain: chain, attackers: attackers, exploits: exploits}
}

// Verify runs all five stages over the address. history is optional; when
// absent the behavioral stage is INCONCLUSIVE.
func (v *Verifier) Verify(ctx context.Context, address string, history []HistoryTx) (*Report, error) {
	ctx, span := traces.StartSpan(ctx, "verify.Verify", traces.Address(address))
	defer span.End()

	report := &Report{
		Address:    address,
		VerifiedAt: time.Now().UTC(),
	}

	// Stage 1: format. A failure here is terminal.
	if !validation.IsValidAddress(address) {
		report.Stages = append(report.Stages, StageResult{
			Stage:   StageFormat,
			Outcome: OutcomeFail,
			Detail:  "address must be 0x followed by 40 hex characters",
		})
		metrics.VerificationsTotal.WithLabelValues("rejected").Inc()
		return report, nil
	}
	report.NormalizedAddress = validation.NormalizeAddress(address)
	report.Stages = append(report.Stages, StageResult{Stage: StageFormat, Outcome: OutcomePass})

	if validation.IsZeroAddress(address) {
		report.Evidence = append(report.Evidence, "zero address")
	}

	// Stage 2: checksum. Advisory; a mismatch flags low confidence but
	// the pipeline continues.
	report.Stages = append(report.Stages, v.checksumStage(address))

	// Stage 3: on-chain existence. Provider problems degrade to
	// INCONCLUSIVE rather than failing the address.
	report.Stages = append(report.Stages, v.onchainStage(ctx, report))

	// Stage 4: blacklist.
	blacklist, err := v.blacklistStage(ctx, report)
	if err != nil {
		return nil, err
	}
	report.Stages = append(report.Stages, blacklist)

	// Stage 5: behavioral. Requires caller-supplied history.
	report.Stages = append(report.Stages, v.behavioralStage(report, history))

	switch {
	case report.IsKnownAttacker:
		metrics.VerificationsTotal.WithLabelValues("known_attacker").Inc()
	default:
		metrics.VerificationsTotal.WithLabelValues("completed").Inc()
	}

	logging.L(ctx).Info("address verified",
		"address", report.NormalizedAddress,
		"known_attacker", report.IsKnownAttacker,
		"behavioral_risk", report.BehavioralRisk)
	return report, nil
}

func (v *Verifier) checksumStage(address string) StageResult {
	valid, checksummed := ValidChecksum(address)
	switch {
	case !valid:
		return StageResult{
			Stage:   StageChecksum,
			Outcome: OutcomeFail,
			Detail:  "mixed-case address does not match EIP-55 encoding",
		}
	case !checksummed:
		return StageResult{
			Stage:   StageChecksum,
			Outcome: OutcomePass,
			Detail:  "no checksum encoding present",
		}
	default:
		return StageResult{Stage: StageChecksum, Outcome: OutcomePass}
	}
}

func (v *Verifier) onchainStage(ctx context.Context, report *Report) StageResult {
	state, err := v.chain.FetchAddress(ctx, report.NormalizedAddress)
	if err != nil {
		if errors.Is(err, chaindata.ErrUnavailable) {
			return StageResult{
				Stage:   StageOnChain,
				Outcome: OutcomeInconclusive,
				Detail:  "chain data provider unavailable",
			}
		}
		return StageResult{
			Stage:   StageOnChain,
			Outcome: OutcomeInconclusive,
			Detail:  err.Error(),
		}
	}

	report.OnChain = state

	age := state.AgeDays(time.Now())
	if age >= 0 && age < newAddressAgeDays {
		if state.TxCount > highTxCountForNew {
			report.Evidence = append(report.Evidence, "new address with high transaction count")
		} else {
			report.Evidence = append(report.Evidence, fmt.Sprintf("new address (%d days old)", age))
		}
	}
	if state.TxCount < dormantTxThreshold {
		report.Evidence = append(report.Evidence, "dormant address (fewer than 5 transactions)")
	}

	exists := state.TxCount > 0 || (state.BalanceWei != nil && state.BalanceWei.Sign() > 0)
	if !exists {
		return StageResult{
			Stage:   StageOnChain,
			Outcome: OutcomePass,
			Detail:  "no on-chain activity",
		}
	}
	return StageResult{Stage: StageOnChain, Outcome: OutcomePass}
}

func (v *Verifier) blacklistStage(ctx context.Context, report *Report) (StageResult, error) {
	attackers, err := v.attackers.KnownAttackers(ctx)
	if err != nil {
		return StageResult{}, fmt.Errorf("failed to load attacker set: %w", err)
	}

	if _, ok := attackers[report.NormalizedAddress]; ok {
		report.IsKnownAttacker = true
		if sig, err := v.exploits.ByAttacker(ctx, report.NormalizedAddress); err == nil {
			report.MatchedExploit = sig
			report.Evidence = append(report.Evidence,
				fmt.Sprintf("known attacker from %s", sig.Name))
		} else {
			report.Evidence = append(report.Evidence, "known attacker address")
		}
		return StageResult{
			Stage:   StageBlacklist,
			Outcome: OutcomeFail,
			Detail:  "address appears in known attacker set",
		}, nil
	}

	if _, ok := knownMixers[report.NormalizedAddress]; ok {
		report.Evidence = append(report.Evidence, "known mixer address")
		return StageResult{
			Stage:   StageBlacklist,
			Outcome: OutcomeFail,
			Detail:  "address is a known mixer",
		}, nil
	}

	return StageResult{Stage: StageBlacklist, Outcome: OutcomePass}, nil
}

func (v *Verifier) behavioralStage(report *Report, history []HistoryTx) StageResult {
	if len(history) == 0 {
		return StageResult{
			Stage:   StageBehavioral,
			Outcome: OutcomeInconclusive,
			Detail:  "no transaction history supplied",
		}
	}

	result := analyzeBehavior(history, report.NormalizedAddress, time.Now())
	report.Behavioral = result
	report.BehavioralRisk = result.Risk
	report.Evidence = append(report.Evidence, result.Patterns...)

	return StageResult{Stage: StageBehavioral, Outcome: OutcomePass}
}
