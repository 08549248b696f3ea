package exploitdb

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory signature catalog for demo/test use.
type MemoryStore struct {
	mu   sync.RWMutex
	sigs []*Signature
}

// NewMemoryStore creates a catalog seeded with documented incidents.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sigs: seedCatalog()}
}

// NewEmptyMemoryStore creates an unseeded catalog (for tests).
func NewEmptyMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add inserts a signature into the catalog.
func (s *MemoryStore) Add(sig *Signature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sig
	s.sigs = append(s.sigs, &cp)
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Signature, 0, len(s.sigs))
	for _, sig := range s.sigs {
		if filter.Chain != "" && !strings.EqualFold(sig.Chain, filter.Chain) {
			continue
		}
		if filter.AttackVector != "" && !strings.EqualFold(sig.AttackVector, filter.AttackVector) {
			continue
		}
		cp := *sig
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sig := range s.sigs {
		if sig.ID == id {
			cp := *sig
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ByAttacker(_ context.Context, address string) (*Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sig := range s.sigs {
		for _, attacker := range sig.AttackerAddresses {
			if strings.EqualFold(attacker, address) {
				cp := *sig
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

// KnownAttackers returns every attacker address across the catalog,
// lowercased. Used to build the rule-engine context.
func (s *MemoryStore) KnownAttackers(ctx context.Context) (map[string]struct{}, error) {
	sigs, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	return AttackerSet(sigs), nil
}

// AttackerSet collects lowercased attacker addresses from signatures.
func AttackerSet(sigs []*Signature) map[string]struct{} {
	set := make(map[string]struct{})
	for _, sig := range sigs {
		for _, addr := range sig.AttackerAddresses {
			set[strings.ToLower(addr)] = struct{}{}
		}
	}
	return set
}

// seedCatalog returns documented cross-chain bridge and DeFi incidents.
func seedCatalog() []*Signature {
	return []*Signature{
		{
			ID:           "ronin_bridge_2022",
			Name:         "Ronin Bridge Exploit",
			Date:         "2022-03-23",
			Chain:        "ethereum",
			Protocol:     "Ronin Network",
			LossUSD:      624_000_000,
			AttackVector: "validator_key_compromise",
			AttackerAddresses: []string{
				"0x098b716b8aaf21512996dc57eb0615e2383e2f96",
			},
			Indicators: []string{
				"bridge_withdrawal", "validator_signature_forgery",
				"large_value_transfer", "dormant_then_active",
			},
		},
		{
			ID:           "wormhole_2022",
			Name:         "Wormhole Bridge Exploit",
			Date:         "2022-02-02",
			Chain:        "ethereum",
			Protocol:     "Wormhole",
			LossUSD:      326_000_000,
			AttackVector: "signature_verification_bypass",
			AttackerAddresses: []string{
				"0x629e7da20197a5429d30da36e77d06cdf796b71a",
			},
			Indicators: []string{
				"bridge_mint", "signature_verification_bypass",
				"large_value_transfer",
			},
		},
		{
			ID:           "poly_network_2021",
			Name:         "Poly Network Exploit",
			Date:         "2021-08-10",
			Chain:        "ethereum",
			Protocol:     "Poly Network",
			LossUSD:      611_000_000,
			AttackVector: "cross_chain_message_forgery",
			AttackerAddresses: []string{
				"0xc8a65fadf0e0ddaf421f28feab69bf6e2e589963",
			},
			Indicators: []string{
				"cross_chain_call", "keeper_replacement",
				"large_value_transfer", "multi_chain_drain",
			},
		},
		{
			ID:           "euler_finance_2023",
			Name:         "Euler Finance Flash Loan Attack",
			Date:         "2023-03-13",
			Chain:        "ethereum",
			Protocol:     "Euler Finance",
			LossUSD:      197_000_000,
			AttackVector: "flash_loan",
			AttackerAddresses: []string{
				"0xb66cd966670d962c227b3eaba30a872dbfb995db",
			},
			Indicators: []string{
				"flash_loan", "donate_to_reserves", "self_liquidation",
				"high_gas_usage", "same_block_borrow_repay",
			},
		},
		{
			ID:           "harmony_horizon_2022",
			Name:         "Harmony Horizon Bridge Exploit",
			Date:         "2022-06-23",
			Chain:        "ethereum",
			Protocol:     "Harmony Horizon",
			LossUSD:      100_000_000,
			AttackVector: "multisig_key_compromise",
			AttackerAddresses: []string{
				"0x0d043128146654c7683fbf30ac98d7b2285ded00",
			},
			Indicators: []string{
				"bridge_withdrawal", "multisig_threshold_met",
				"large_value_transfer", "mixer_deposit",
			},
		},
		{
			ID:           "cream_finance_2021",
			Name:         "Cream Finance Flash Loan Attack",
			Date:         "2021-10-27",
			Chain:        "ethereum",
			Protocol:     "Cream Finance",
			LossUSD:      130_000_000,
			AttackVector: "flash_loan",
			AttackerAddresses: []string{
				"0x24354d31bc9d90f62fe5f2454709c32049cf866b",
			},
			Indicators: []string{
				"flash_loan", "price_oracle_manipulation",
				"same_block_borrow_repay", "high_gas_usage",
			},
		},
	}
}
