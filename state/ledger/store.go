// Package ledger persists the reward ledger in a key-value database using
// RLP-encoded records.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	nativecommon "questreward/native/common"
	"questreward/native/questreward"
	"questreward/storage"
)

var (
	rewarderKey      = []byte("questreward/rewarder")
	campaignPrefix   = []byte("questreward/campaign/")
	allocationPrefix = []byte("questreward/allocation/")
	recipientPrefix  = []byte("questreward/recipient/")
	recipientsCount  = []byte("questreward/recipient-count/")
	totalPrefix      = []byte("questreward/total/")
	pausePrefix      = []byte("questreward/pause/")
)

func campaignStorageKey(key string) []byte {
	buf := make([]byte, len(campaignPrefix)+len(key))
	copy(buf, campaignPrefix)
	copy(buf[len(campaignPrefix):], key)
	return buf
}

func allocationStorageKey(key string, recipient common.Address) []byte {
	campaign := ethcrypto.Keccak256([]byte(key))
	buf := make([]byte, 0, len(allocationPrefix)+len(campaign)+common.AddressLength)
	buf = append(buf, allocationPrefix...)
	buf = append(buf, campaign...)
	return append(buf, recipient.Bytes()...)
}

// recipientIndexPrefix covers one campaign's recipient index. Entries are
// keyed by big-endian sequence so prefix iteration yields first-allocation
// order.
func recipientIndexPrefix(key string) []byte {
	campaign := ethcrypto.Keccak256([]byte(key))
	buf := make([]byte, 0, len(recipientPrefix)+len(campaign)+8)
	buf = append(buf, recipientPrefix...)
	return append(buf, campaign...)
}

func recipientIndexKey(key string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(recipientIndexPrefix(key), seq)
}

func recipientCountKey(key string) []byte {
	campaign := ethcrypto.Keccak256([]byte(key))
	buf := make([]byte, 0, len(recipientsCount)+len(campaign))
	buf = append(buf, recipientsCount...)
	return append(buf, campaign...)
}

func totalStorageKey(asset common.Address) []byte {
	buf := make([]byte, 0, len(totalPrefix)+common.AddressLength)
	buf = append(buf, totalPrefix...)
	return append(buf, asset.Bytes()...)
}

type storedCampaign struct {
	Key       string
	Asset     common.Address
	Pool      *big.Int
	CreatedAt uint64
}

type storedAllocation struct {
	Pending *big.Int
	Claimed *big.Int
}

// Store implements questreward.State on top of a storage.Database. Every
// Commit is written as a single batch.
type Store struct {
	mu sync.Mutex
	db storage.Database
}

var (
	_ questreward.State       = (*Store)(nil)
	_ nativecommon.PauseStore = (*Store)(nil)
)

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("ledger: decode %x: %w", key, err)
	}
	return true, nil
}

func (s *Store) Rewarder() (common.Address, error) {
	var addr common.Address
	if _, err := s.get(rewarderKey, &addr); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

func (s *Store) Campaign(key string) (*questreward.Campaign, bool, error) {
	stored := new(storedCampaign)
	ok, err := s.get(campaignStorageKey(key), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	pool := big.NewInt(0)
	if stored.Pool != nil {
		pool.Set(stored.Pool)
	}
	return &questreward.Campaign{
		Key:       stored.Key,
		Asset:     stored.Asset,
		Pool:      pool,
		CreatedAt: int64(stored.CreatedAt),
	}, true, nil
}

func (s *Store) CampaignKeys() ([]string, error) {
	raw, err := s.db.Keys(campaignPrefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = string(k[len(campaignPrefix):])
	}
	return keys, nil
}

func (s *Store) Allocation(key string, recipient common.Address) (*questreward.Allocation, error) {
	stored := new(storedAllocation)
	ok, err := s.get(allocationStorageKey(key, recipient), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (*questreward.Allocation)(nil).Clone(), nil
	}
	return (&questreward.Allocation{Pending: stored.Pending, Claimed: stored.Claimed}).Clone(), nil
}

func (s *Store) Recipients(key string) ([]common.Address, error) {
	keys, err := s.db.Keys(recipientIndexPrefix(key))
	if err != nil {
		return nil, err
	}
	list := make([]common.Address, 0, len(keys))
	for _, k := range keys {
		var addr common.Address
		ok, err := s.get(k, &addr)
		if err != nil {
			return nil, err
		}
		if ok {
			list = append(list, addr)
		}
	}
	return list, nil
}

func (s *Store) recipientCount(key string) (uint64, error) {
	var count uint64
	if _, err := s.get(recipientCountKey(key), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) TotalRewards(asset common.Address) (*big.Int, error) {
	total := new(big.Int)
	if _, err := s.get(totalStorageKey(asset), total); err != nil {
		return nil, err
	}
	return total, nil
}

// Commit writes cs in one batch. Total deltas are folded into the stored
// totals while the store lock is held.
func (s *Store) Commit(cs *questreward.Changeset) error {
	if cs.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	put := func(key []byte, value interface{}) error {
		encoded, err := rlp.EncodeToBytes(value)
		if err != nil {
			return err
		}
		batch.Put(key, encoded)
		return nil
	}

	totals := make(map[common.Address]*big.Int)
	order := make([]common.Address, 0, len(cs.TotalDeltas))
	for _, delta := range cs.TotalDeltas {
		current, ok := totals[delta.Asset]
		if !ok {
			stored, err := s.TotalRewards(delta.Asset)
			if err != nil {
				return err
			}
			current = stored
			order = append(order, delta.Asset)
		}
		next, err := questreward.AddAmounts(current, delta.Amount)
		if err != nil {
			return err
		}
		totals[delta.Asset] = next
	}

	if cs.Rewarder != nil {
		if err := put(rewarderKey, *cs.Rewarder); err != nil {
			return err
		}
	}
	for _, c := range cs.Campaigns {
		if c == nil {
			continue
		}
		pool := big.NewInt(0)
		if c.Pool != nil {
			pool.Set(c.Pool)
		}
		record := &storedCampaign{Key: c.Key, Asset: c.Asset, Pool: pool, CreatedAt: uint64(c.CreatedAt)}
		if err := put(campaignStorageKey(c.Key), record); err != nil {
			return err
		}
	}

	counts := make(map[string]uint64)
	type member struct {
		campaign  string
		recipient common.Address
	}
	indexed := make(map[member]struct{})
	for _, update := range cs.Allocations {
		key := allocationStorageKey(update.Campaign, update.Recipient)
		exists, err := s.db.Has(key)
		if err != nil {
			return err
		}
		m := member{update.Campaign, update.Recipient}
		if _, dup := indexed[m]; !exists && !dup {
			indexed[m] = struct{}{}
			count, ok := counts[update.Campaign]
			if !ok {
				if count, err = s.recipientCount(update.Campaign); err != nil {
					return err
				}
			}
			if err := put(recipientIndexKey(update.Campaign, count), update.Recipient); err != nil {
				return err
			}
			counts[update.Campaign] = count + 1
		}
		alloc := update.Allocation.Clone()
		if err := put(key, &storedAllocation{Pending: alloc.Pending, Claimed: alloc.Claimed}); err != nil {
			return err
		}
	}
	for campaign, count := range counts {
		if err := put(recipientCountKey(campaign), count); err != nil {
			return err
		}
	}
	for _, asset := range order {
		if err := put(totalStorageKey(asset), totals[asset]); err != nil {
			return err
		}
	}
	return batch.Write()
}

// PausedModules lists the modules whose pause flag is set.
func (s *Store) PausedModules() ([]string, error) {
	raw, err := s.db.Keys(pausePrefix)
	if err != nil {
		return nil, err
	}
	modules := make([]string, len(raw))
	for i, k := range raw {
		modules[i] = string(k[len(pausePrefix):])
	}
	return modules, nil
}

// SetPaused records or clears the pause flag of module.
func (s *Store) SetPaused(module string, paused bool) error {
	key := append(append([]byte(nil), pausePrefix...), module...)
	if !paused {
		return s.db.Delete(key)
	}
	return s.db.Put(key, []byte{1})
}
