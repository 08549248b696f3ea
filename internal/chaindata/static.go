package chaindata

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"
)

// StaticClient serves fixed address state from memory. Used when no provider
// is configured and in tests.
type StaticClient struct {
	mu     sync.RWMutex
	states map[string]*AddressState
}

// NewStaticClient creates an empty fixture client.
func NewStaticClient() *StaticClient {
	return &StaticClient{states: make(map[string]*AddressState)}
}

// Set registers the state returned for an address.
func (c *StaticClient) Set(state *AddressState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *state
	if cp.BalanceWei == nil {
		cp.BalanceWei = big.NewInt(0)
	}
	c.states[strings.ToLower(state.Address)] = &cp
}

// FetchAddress returns the registered state, or a zero snapshot for
// addresses never seen on chain.
func (c *StaticClient) FetchAddress(_ context.Context, address string) (*AddressState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if state, ok := c.states[strings.ToLower(address)]; ok {
		cp := *state
		cp.FetchedAt = time.Now()
		return &cp, nil
	}
	return &AddressState{
		Address:    address,
		BalanceWei: big.NewInt(0),
		FetchedAt:  time.Now(),
	}, nil
}

// UnavailableClient always fails with ErrUnavailable. Used to exercise the
// degraded verification path.
type UnavailableClient struct{}

func (UnavailableClient) FetchAddress(context.Context, string) (*AddressState, error) {
	return nil, ErrUnavailable
}
