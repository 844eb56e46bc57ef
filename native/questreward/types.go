package questreward

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Role enumerates the distinguished identities of the ledger.
type Role uint8

const (
	RoleOwner Role = iota + 1
	RoleAdmin
	RoleRewarder
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleRewarder:
		return "rewarder"
	default:
		return "unknown"
	}
}

// Campaign is a named reward pool backed by a single asset.
type Campaign struct {
	Key       string
	Asset     common.Address
	Pool      *big.Int
	CreatedAt int64
}

// Clone returns a deep copy of the campaign.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	out.Pool = cloneBigInt(c.Pool)
	return &out
}

// Allocation tracks one recipient's balances within a campaign.
type Allocation struct {
	Pending *big.Int
	Claimed *big.Int
}

// Clone returns a deep copy with nil amounts normalised to zero.
func (a *Allocation) Clone() *Allocation {
	if a == nil {
		return &Allocation{Pending: big.NewInt(0), Claimed: big.NewInt(0)}
	}
	return &Allocation{Pending: cloneBigInt(a.Pending), Claimed: cloneBigInt(a.Claimed)}
}

// IsZero reports whether both balances are zero.
func (a *Allocation) IsZero() bool {
	return a == nil || (zeroOrNil(a.Pending) && zeroOrNil(a.Claimed))
}

// RecipientAllocation pairs a recipient with its allocation record.
type RecipientAllocation struct {
	Recipient common.Address
	Allocation
}

// AllocationUpdate replaces the stored allocation of a recipient.
type AllocationUpdate struct {
	Campaign   string
	Recipient  common.Address
	Allocation *Allocation
}

// TotalDelta increments the running allocation total of an asset.
type TotalDelta struct {
	Asset  common.Address
	Amount *big.Int
}

// Changeset is the unit of atomic state mutation. A state applies every
// entry or none of them.
type Changeset struct {
	Rewarder    *common.Address
	Campaigns   []*Campaign
	Allocations []AllocationUpdate
	TotalDeltas []TotalDelta
}

// Empty reports whether the changeset carries no mutation.
func (cs *Changeset) Empty() bool {
	return cs == nil || (cs.Rewarder == nil && len(cs.Campaigns) == 0 && len(cs.Allocations) == 0 && len(cs.TotalDeltas) == 0)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func zeroOrNil(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}
