// Package assettest provides an in-memory fungible token implementing
// asset.Asset for tests.
package assettest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("assettest: insufficient balance")
	ErrInsufficientAllowance = errors.New("assettest: insufficient allowance")
)

// Token tracks balances and the allowances holders have granted to the
// custody account. Failures can be injected per operation.
type Token struct {
	mu         sync.Mutex
	custody    common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	failures   map[string]error
	calls      map[string]int
}

// NewToken constructs a token whose ledger custody lives at custody.
func NewToken(custody common.Address) *Token {
	return &Token{
		custody:    custody,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
}

// Custody returns the account holding ledger funds.
func (t *Token) Custody() common.Address { return t.custody }

// Mint credits amount to holder.
func (t *Token) Mint(holder common.Address, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(holder, big.NewInt(amount))
}

// Approve sets the allowance holder grants to the custody account.
func (t *Token) Approve(holder common.Address, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[holder] = big.NewInt(amount)
}

// FailWith makes every subsequent call of op ("in", "out", "balance") return
// err. A nil err clears the injected failure.
func (t *Token) FailWith(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failures, op)
		return
	}
	t.failures[op] = err
}

// Calls reports how many times op was invoked, including failed calls.
func (t *Token) Calls(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[op]
}

// Balance returns the current balance of holder.
func (t *Token) Balance(holder common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(holder))
}

// TransferIn implements asset.Asset.
func (t *Token) TransferIn(_ context.Context, from common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls["in"]++
	if err := t.failures["in"]; err != nil {
		return err
	}
	allowance := t.allowances[from]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientAllowance, from.Hex())
	}
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.allowances[from] = new(big.Int).Sub(allowance, amount)
	t.credit(t.custody, amount)
	return nil
}

// TransferOut implements asset.Asset.
func (t *Token) TransferOut(_ context.Context, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls["out"]++
	if err := t.failures["out"]; err != nil {
		return err
	}
	if err := t.debit(t.custody, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

// BalanceOf implements asset.Asset.
func (t *Token) BalanceOf(_ context.Context, who common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls["balance"]++
	if err := t.failures["balance"]; err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.balance(who)), nil
}

func (t *Token) balance(holder common.Address) *big.Int {
	if v, ok := t.balances[holder]; ok {
		return v
	}
	return big.NewInt(0)
}

func (t *Token) credit(holder common.Address, amount *big.Int) {
	t.balances[holder] = new(big.Int).Add(t.balance(holder), amount)
}

func (t *Token) debit(holder common.Address, amount *big.Int) error {
	current := t.balance(holder)
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, holder.Hex(), current, amount)
	}
	t.balances[holder] = new(big.Int).Sub(current, amount)
	return nil
}
