package asset

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownAsset is returned by resolvers when no collaborator is
	// registered for the requested asset reference.
	ErrUnknownAsset = errors.New("asset: unknown asset")
	// ErrNotConfigured is returned by FuncAsset when a callback is missing.
	ErrNotConfigured = errors.New("asset: operation not configured")
	// ErrUnconfirmed marks a transfer that was submitted but whose outcome
	// is unknown. The funds may still move.
	ErrUnconfirmed = errors.New("asset: transfer unconfirmed")
)

// Asset captures the fungible-token operations the reward ledger consumes.
// TransferIn pulls amount from an external holder into the ledger's custody,
// subject to an allowance granted beforehand. TransferOut pushes amount from
// custody to the recipient.
//
// A transfer error means no funds moved, unless it wraps ErrUnconfirmed.
type Asset interface {
	TransferIn(ctx context.Context, from common.Address, amount *big.Int) error
	TransferOut(ctx context.Context, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, who common.Address) (*big.Int, error)
}

// Resolver maps a campaign's asset reference to its collaborator.
type Resolver interface {
	Asset(ref common.Address) (Asset, error)
}

// FuncAsset adapts callback functions to the Asset interface.
type FuncAsset struct {
	TransferInFunc  func(ctx context.Context, from common.Address, amount *big.Int) error
	TransferOutFunc func(ctx context.Context, to common.Address, amount *big.Int) error
	BalanceOfFunc   func(ctx context.Context, who common.Address) (*big.Int, error)
}

// TransferIn delegates to the configured callback.
func (a FuncAsset) TransferIn(ctx context.Context, from common.Address, amount *big.Int) error {
	if a.TransferInFunc == nil {
		return fmt.Errorf("%w: transfer in", ErrNotConfigured)
	}
	return a.TransferInFunc(ctx, from, amount)
}

// TransferOut delegates to the configured callback.
func (a FuncAsset) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	if a.TransferOutFunc == nil {
		return fmt.Errorf("%w: transfer out", ErrNotConfigured)
	}
	return a.TransferOutFunc(ctx, to, amount)
}

// BalanceOf delegates to the configured callback.
func (a FuncAsset) BalanceOf(ctx context.Context, who common.Address) (*big.Int, error) {
	if a.BalanceOfFunc == nil {
		return nil, fmt.Errorf("%w: balance of", ErrNotConfigured)
	}
	return a.BalanceOfFunc(ctx, who)
}

// Registry is a Resolver backed by an explicit set of collaborators. An
// optional factory is consulted for references that were not registered and
// its result is cached.
type Registry struct {
	mu      sync.RWMutex
	assets  map[common.Address]Asset
	factory func(ref common.Address) (Asset, error)
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{assets: make(map[common.Address]Asset)}
}

// Register binds ref to the collaborator, replacing any previous binding.
func (r *Registry) Register(ref common.Address, a Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a == nil {
		delete(r.assets, ref)
		return
	}
	r.assets[ref] = a
}

// SetFactory installs a constructor for references without a binding.
func (r *Registry) SetFactory(factory func(ref common.Address) (Asset, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = factory
}

// Asset implements Resolver.
func (r *Registry) Asset(ref common.Address) (Asset, error) {
	if r == nil {
		return nil, ErrUnknownAsset
	}
	r.mu.RLock()
	a, ok := r.assets[ref]
	factory := r.factory
	r.mu.RUnlock()
	if ok {
		return a, nil
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, ref.Hex())
	}
	built, err := factory(ref)
	if err != nil {
		return nil, fmt.Errorf("build asset %s: %w", ref.Hex(), err)
	}
	if built == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, ref.Hex())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.assets[ref]; ok {
		return existing, nil
	}
	r.assets[ref] = built
	return built, nil
}
