// Package exploitdb holds the catalog of documented exploit signatures and
// the similarity matcher used to link new assessments to known incidents.
//
// Signatures are read-only to the detection pipeline: they are loaded from
// the store at analysis time and never mutated. The matcher links an
// assessment to the closest known incident by shared attacker address,
// attack vector, or indicator overlap.
package exploitdb

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a signature id does not exist.
var ErrNotFound = errors.New("exploit signature not found")

// Signature describes a documented exploit incident.
type Signature struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Date              string   `json:"date"` // YYYY-MM-DD
	Chain             string   `json:"chain"`
	Protocol          string   `json:"protocol"`
	LossUSD           float64  `json:"lossUsd"`
	AttackVector      string   `json:"attackVector"`
	AttackerAddresses []string `json:"attackerAddresses"`
	Indicators        []string `json:"indicators"`
}

// Filter narrows List results.
type Filter struct {
	Chain        string
	AttackVector string
}

// Store is the read/query contract over the signature catalog.
type Store interface {
	List(ctx context.Context, filter Filter) ([]*Signature, error)
	Get(ctx context.Context, id string) (*Signature, error)
	ByAttacker(ctx context.Context, address string) (*Signature, error)
}

// Match is the result of a similarity lookup.
type Match struct {
	Signature *Signature `json:"signature"`
	Score     float64    `json:"score"`
	Reason    string     `json:"reason"`
}

// MatchThreshold is the minimum indicator-overlap ratio for a match.
const MatchThreshold = 0.7

// Matcher finds the known signature most similar to an observed pattern.
type Matcher struct {
	store Store
}

// NewMatcher creates a matcher over the given signature store.
func NewMatcher(store Store) *Matcher {
	return &Matcher{store: store}
}

// Query describes the observed pattern to match against the catalog.
type Query struct {
	Addresses  []string // sender, recipient, any involved address
	Vector     string   // inferred attack vector tag, if any
	Indicators []string // observed indicator tags
}

// BestMatch returns the closest known signature, or nil when nothing clears
// the threshold (a novel pattern). A shared attacker address or an identical
// attack-vector tag is an immediate match; otherwise the indicator-overlap
// ratio decides.
func (m *Matcher) BestMatch(ctx context.Context, q Query) (*Match, error) {
	sigs, err := m.store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	var best *Match
	for _, sig := range sigs {
		match := m.score(sig, q)
		if match == nil {
			continue
		}
		if best == nil || match.Score > best.Score {
			best = match
		}
	}
	return best, nil
}

func (m *Matcher) score(sig *Signature, q Query) *Match {
	for _, addr := range q.Addresses {
		for _, attacker := range sig.AttackerAddresses {
			if strings.EqualFold(addr, attacker) {
				return &Match{Signature: sig, Score: 1.0, Reason: "shared attacker address"}
			}
		}
	}

	if q.Vector != "" && strings.EqualFold(q.Vector, sig.AttackVector) {
		return &Match{Signature: sig, Score: 1.0, Reason: "identical attack vector"}
	}

	ratio := overlapRatio(q.Indicators, sig.Indicators)
	if ratio >= MatchThreshold {
		return &Match{Signature: sig, Score: ratio, Reason: "indicator overlap"}
	}
	return nil
}

// overlapRatio is |shared| / |smaller set|, case-insensitive.
// Empty sets never overlap.
func overlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[strings.ToLower(s)] = struct{}{}
	}

	shared := 0
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := set[key]; ok {
			shared++
		}
	}

	smaller := len(set)
	if len(seen) < smaller {
		smaller = len(seen)
	}
	return float64(shared) / float64(smaller)
}
