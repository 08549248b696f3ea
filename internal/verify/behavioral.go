package verify

import (
	"math"
	"strings"
	"time"
)

// Behavioral thresholds.
const (
	burstTxThreshold      = 10  // transactions per hour to flag as burst
	highVelocityThreshold = 50  // transactions per day
	minFundingDiversity   = 3   // minimum distinct funding sources
	concentrationLimit    = 0.8 // share from a single source that is suspicious
)

// HistoryTx is one historical transaction supplied by the caller for
// behavioral analysis.
type HistoryTx struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// VelocityScore summarizes transaction frequency patterns.
type VelocityScore struct {
	TxCount1h     int     `json:"txCount1h"`
	TxCount24h    int     `json:"txCount24h"`
	AvgPerDay     float64 `json:"avgPerDay"`
	MaxTxInHour   int     `json:"maxTxInHour"`
	BurstDetected bool    `json:"burstDetected"`
	Risk          float64 `json:"risk"`
}

// FundingScore summarizes funding source diversity.
type FundingScore struct {
	UniqueSources    int     `json:"uniqueSources"`
	Concentration    float64 `json:"concentration"`
	CircularDetected bool    `json:"circularDetected"`
	MixerFunded      bool    `json:"mixerFunded"`
	Risk             float64 `json:"risk"`
}

// BehavioralResult is the combined behavioral analysis of an address.
type BehavioralResult struct {
	Velocity VelocityScore `json:"velocity"`
	Funding  FundingScore  `json:"funding"`
	Risk     float64       `json:"risk"`
	Patterns []string      `json:"patterns,omitempty"`
}

// tornado-style mixers whose funding taints an address
var knownMixers = map[string]struct{}{
	"0xd90e2f925da726b50c4ed8d0fb90ad053324f31b": {},
	"0x722122df12d4e14e13ac3b6895a86e84145b6967": {},
}

// analyzeBehavior computes velocity and funding diversity scores from the
// caller-supplied transaction history. now anchors the rolling windows.
func analyzeBehavior(history []HistoryTx, address string, now time.Time) *BehavioralResult {
	addr := strings.ToLower(address)

	var involved []HistoryTx
	for _, tx := range history {
		if strings.EqualFold(tx.From, addr) || strings.EqualFold(tx.To, addr) {
			involved = append(involved, tx)
		}
	}

	velocity := velocityScore(involved, now)
	funding := fundingScore(involved, addr)

	result := &BehavioralResult{
		Velocity: velocity,
		Funding:  funding,
		Risk:     round3(velocity.Risk*0.4 + funding.Risk*0.6),
	}

	if velocity.BurstDetected {
		result.Patterns = append(result.Patterns, "burst transaction activity")
	}
	if velocity.AvgPerDay > highVelocityThreshold {
		result.Patterns = append(result.Patterns, "unusually high transaction velocity")
	}
	if funding.CircularDetected {
		result.Patterns = append(result.Patterns, "circular funding pattern")
	}
	if funding.UniqueSources > 0 && funding.UniqueSources < minFundingDiversity {
		result.Patterns = append(result.Patterns, "low funding diversity (Sybil-like)")
	}
	if funding.MixerFunded {
		result.Patterns = append(result.Patterns, "funded from known mixer")
	}
	return result
}

func velocityScore(txs []HistoryTx, now time.Time) VelocityScore {
	if len(txs) == 0 {
		return VelocityScore{}
	}

	oneHourAgo := now.Add(-time.Hour)
	oneDayAgo := now.Add(-24 * time.Hour)

	var count1h, count24h int
	hourly := make(map[int64]int)
	first, last := txs[0].Timestamp, txs[0].Timestamp

	for _, tx := range txs {
		if tx.Timestamp.After(oneHourAgo) {
			count1h++
		}
		if tx.Timestamp.After(oneDayAgo) {
			count24h++
		}
		hourly[tx.Timestamp.Unix()/3600]++
		if tx.Timestamp.Before(first) {
			first = tx.Timestamp
		}
		if tx.Timestamp.After(last) {
			last = tx.Timestamp
		}
	}

	maxHour := 0
	for _, n := range hourly {
		if n > maxHour {
			maxHour = n
		}
	}

	daysActive := math.Max(last.Sub(first).Hours()/24, 1)
	avgPerDay := float64(len(txs)) / daysActive
	burst := maxHour >= burstTxThreshold

	risk := float64(count1h)/burstTxThreshold*0.4 + avgPerDay/highVelocityThreshold*0.3
	if burst {
		risk += 0.3
	}
	if risk > 1 {
		risk = 1
	}

	return VelocityScore{
		TxCount1h:     count1h,
		TxCount24h:    count24h,
		AvgPerDay:     round3(avgPerDay),
		MaxTxInHour:   maxHour,
		BurstDetected: burst,
		Risk:          round3(risk),
	}
}

func fundingScore(txs []HistoryTx, addr string) FundingScore {
	sources := make(map[string]int)
	recipients := make(map[string]struct{})
	inbound := 0

	for _, tx := range txs {
		if strings.EqualFold(tx.To, addr) {
			sources[strings.ToLower(tx.From)]++
			inbound++
		}
		if strings.EqualFold(tx.From, addr) {
			recipients[strings.ToLower(tx.To)] = struct{}{}
		}
	}

	if inbound == 0 {
		return FundingScore{}
	}

	top := 0
	circular := false
	mixerFunded := false
	for source, n := range sources {
		if n > top {
			top = n
		}
		if _, ok := recipients[source]; ok {
			circular = true
		}
		if _, ok := knownMixers[source]; ok {
			mixerFunded = true
		}
	}
	concentration := float64(top) / float64(inbound)

	indicators := 0
	if concentration > concentrationLimit {
		indicators++
	}
	if len(sources) < minFundingDiversity {
		indicators++
	}
	if circular {
		indicators += 2
	}
	if mixerFunded {
		indicators += 2
	}

	risk := concentration * 0.3
	if circular {
		risk += 0.3
	}
	risk += float64(indicators) / 6 * 0.4
	if risk > 1 {
		risk = 1
	}

	return FundingScore{
		UniqueSources:    len(sources),
		Concentration:    round3(concentration),
		CircularDetected: circular,
		MixerFunded:      mixerFunded,
		Risk:             round3(risk),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
