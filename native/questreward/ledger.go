package questreward

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ledger stages allocation changes for a single campaign. Nothing touches
// State until the staged changes are committed by the engine.
type ledger struct {
	st       State
	campaign *Campaign
	staged   map[common.Address]*Allocation
	order    []common.Address
	total    *big.Int
}

func newLedger(st State, campaign *Campaign) *ledger {
	return &ledger{
		st:       st,
		campaign: campaign,
		staged:   make(map[common.Address]*Allocation),
		total:    big.NewInt(0),
	}
}

func (l *ledger) load(recipient common.Address) (*Allocation, error) {
	if alloc, ok := l.staged[recipient]; ok {
		return alloc, nil
	}
	alloc, err := l.st.Allocation(l.campaign.Key, recipient)
	if err != nil {
		return nil, err
	}
	alloc = alloc.Clone()
	l.staged[recipient] = alloc
	l.order = append(l.order, recipient)
	return alloc, nil
}

// allocate adds amount to the recipient's pending balance and to the asset
// running total. There is no pool check; over-allocation is settled at claim
// time.
func (l *ledger) allocate(recipient common.Address, amount *big.Int) error {
	alloc, err := l.load(recipient)
	if err != nil {
		return err
	}
	pending, err := AddAmounts(alloc.Pending, amount)
	if err != nil {
		return err
	}
	total, err := AddAmounts(l.total, amount)
	if err != nil {
		return err
	}
	alloc.Pending = pending
	l.total = total
	return nil
}

// consumePending zeroes the recipient's pending balance and returns what was
// pending.
func (l *ledger) consumePending(recipient common.Address) (*big.Int, error) {
	alloc, err := l.load(recipient)
	if err != nil {
		return nil, err
	}
	if zeroOrNil(alloc.Pending) {
		return nil, fmt.Errorf("%w: %s", ErrNothingToClaim, recipient.Hex())
	}
	amount := alloc.Pending
	alloc.Pending = big.NewInt(0)
	return amount, nil
}

func (l *ledger) recordClaim(recipient common.Address, amount *big.Int) error {
	alloc, err := l.load(recipient)
	if err != nil {
		return err
	}
	claimed, err := AddAmounts(alloc.Claimed, amount)
	if err != nil {
		return err
	}
	alloc.Claimed = claimed
	return nil
}

func (l *ledger) pending(recipient common.Address) (*big.Int, error) {
	alloc, err := l.load(recipient)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(alloc.Pending), nil
}

// changes folds the staged allocations into cs.
func (l *ledger) changes(cs *Changeset) {
	for _, recipient := range l.order {
		cs.Allocations = append(cs.Allocations, AllocationUpdate{
			Campaign:   l.campaign.Key,
			Recipient:  recipient,
			Allocation: l.staged[recipient].Clone(),
		})
	}
	if l.total.Sign() > 0 {
		cs.TotalDeltas = append(cs.TotalDeltas, TotalDelta{Asset: l.campaign.Asset, Amount: new(big.Int).Set(l.total)})
	}
}

// UserRewards returns the pending allocation of recipient. Unknown campaigns
// and recipients read as zero.
func (e *Engine) UserRewards(key string, recipient common.Address) (*big.Int, error) {
	alloc, err := e.state.Allocation(key, recipient)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(alloc.Pending), nil
}

// ClaimedRewards returns the cumulative amount recipient has claimed.
func (e *Engine) ClaimedRewards(key string, recipient common.Address) (*big.Int, error) {
	alloc, err := e.state.Allocation(key, recipient)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(alloc.Claimed), nil
}

// TotalRewards returns the sum of every allocation ever made in asset.
func (e *Engine) TotalRewards(asset common.Address) (*big.Int, error) {
	return e.state.TotalRewards(asset)
}

// Allocations lists every allocation record of a campaign in first-allocation
// order.
func (e *Engine) Allocations(key string) ([]RecipientAllocation, error) {
	if _, err := e.loadCampaign(key); err != nil {
		return nil, err
	}
	recipients, err := e.state.Recipients(key)
	if err != nil {
		return nil, err
	}
	out := make([]RecipientAllocation, 0, len(recipients))
	for _, recipient := range recipients {
		alloc, err := e.state.Allocation(key, recipient)
		if err != nil {
			return nil, err
		}
		out = append(out, RecipientAllocation{Recipient: recipient, Allocation: *alloc.Clone()})
	}
	return out, nil
}
