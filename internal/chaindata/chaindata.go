// Package chaindata provides the on-chain data provider client used by
// address verification. Provider failures surface as ErrUnavailable so the
// pipeline degrades instead of aborting.
package chaindata

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ErrUnavailable is returned when the provider cannot be reached, times out,
// or is shedding load. Callers treat it as INCONCLUSIVE, never as FAIL.
var ErrUnavailable = errors.New("chain data provider unavailable")

// AddressState is a point-in-time on-chain snapshot of an address.
type AddressState struct {
	Address    string    `json:"address"`
	BalanceWei *big.Int  `json:"balanceWei"`
	TxCount    int       `json:"txCount"`
	IsContract bool      `json:"isContract"`
	FirstSeen  time.Time `json:"firstSeen,omitempty"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// AgeDays returns how many whole days ago the address was first seen,
// or -1 when first activity is unknown.
func (s *AddressState) AgeDays(now time.Time) int {
	if s.FirstSeen.IsZero() {
		return -1
	}
	return int(now.Sub(s.FirstSeen).Hours() / 24)
}

// Client fetches on-chain address state from an external provider.
type Client interface {
	FetchAddress(ctx context.Context, address string) (*AddressState, error)
}
