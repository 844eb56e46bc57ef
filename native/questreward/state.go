package questreward

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// State describes the storage the engine needs. Reads return copies that the
// engine may mutate freely; Commit applies a changeset atomically. Total
// deltas are additive so concurrent commits on campaigns sharing an asset
// never lose updates.
type State interface {
	Rewarder() (common.Address, error)
	Campaign(key string) (*Campaign, bool, error)
	CampaignKeys() ([]string, error)
	Allocation(key string, recipient common.Address) (*Allocation, error)
	Recipients(key string) ([]common.Address, error)
	TotalRewards(asset common.Address) (*big.Int, error)
	Commit(cs *Changeset) error
}

type allocationKey struct {
	campaign  string
	recipient common.Address
}

// MemState is an in-memory State implementation.
type MemState struct {
	mu          sync.RWMutex
	rewarder    common.Address
	campaigns   map[string]*Campaign
	allocations map[allocationKey]*Allocation
	recipients  map[string][]common.Address
	totals      map[common.Address]*big.Int
}

// NewMemState constructs an empty in-memory state.
func NewMemState() *MemState {
	return &MemState{
		campaigns:   make(map[string]*Campaign),
		allocations: make(map[allocationKey]*Allocation),
		recipients:  make(map[string][]common.Address),
		totals:      make(map[common.Address]*big.Int),
	}
}

func (s *MemState) Rewarder() (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rewarder, nil
}

func (s *MemState) Campaign(key string) (*Campaign, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[key]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (s *MemState) CampaignKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.campaigns))
	for key := range s.campaigns {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemState) Allocation(key string, recipient common.Address) (*Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocations[allocationKey{campaign: key, recipient: recipient}].Clone(), nil
}

func (s *MemState) Recipients(key string) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address(nil), s.recipients[key]...), nil
}

func (s *MemState) TotalRewards(asset common.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBigInt(s.totals[asset]), nil
}

func (s *MemState) Commit(cs *Changeset) error {
	if cs.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Resolve every total first so an overflow rejects the whole changeset.
	totals := make(map[common.Address]*big.Int, len(cs.TotalDeltas))
	for _, delta := range cs.TotalDeltas {
		current, ok := totals[delta.Asset]
		if !ok {
			current = cloneBigInt(s.totals[delta.Asset])
		}
		next, err := AddAmounts(current, delta.Amount)
		if err != nil {
			return err
		}
		totals[delta.Asset] = next
	}

	if cs.Rewarder != nil {
		s.rewarder = *cs.Rewarder
	}
	for _, c := range cs.Campaigns {
		if c == nil {
			continue
		}
		s.campaigns[c.Key] = c.Clone()
	}
	for _, update := range cs.Allocations {
		k := allocationKey{campaign: update.Campaign, recipient: update.Recipient}
		if _, exists := s.allocations[k]; !exists {
			s.recipients[update.Campaign] = append(s.recipients[update.Campaign], update.Recipient)
		}
		s.allocations[k] = update.Allocation.Clone()
	}
	for asset, total := range totals {
		s.totals[asset] = total
	}
	return nil
}
