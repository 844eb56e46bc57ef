package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"questreward/core/types"
)

const (
	// TypeQuestRewarderUpdated is emitted when the owner replaces the rewarder.
	TypeQuestRewarderUpdated = "questreward.rewarder.updated"
	// TypeQuestCampaignCreated is emitted when the rewarder registers a new
	// campaign.
	TypeQuestCampaignCreated = "questreward.campaign.created"
	// TypeQuestCampaignFunded is emitted when the admin tops up a campaign pool.
	TypeQuestCampaignFunded = "questreward.campaign.funded"
	// TypeQuestRewardAllocated is emitted once per element of a reward batch.
	TypeQuestRewardAllocated = "questreward.rewards.allocated"
	// TypeQuestRewardClaimed is emitted when a recipient settles its pending
	// allocation.
	TypeQuestRewardClaimed = "questreward.reward.claimed"
	// TypeQuestCampaignWithdrawn is emitted when the admin drains a pool.
	TypeQuestCampaignWithdrawn = "questreward.campaign.withdrawn"
)

// QuestRewarderUpdated records a rewarder rotation.
type QuestRewarderUpdated struct {
	Caller   common.Address
	Previous common.Address
	Rewarder common.Address
}

func (QuestRewarderUpdated) EventType() string { return TypeQuestRewarderUpdated }

func (e QuestRewarderUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeQuestRewarderUpdated,
		Attributes: map[string]string{
			"caller":   formatAddress(e.Caller),
			"previous": formatAddress(e.Previous),
			"rewarder": formatAddress(e.Rewarder),
		},
	}
}

// QuestCampaignCreated captures the metadata of a freshly registered campaign.
type QuestCampaignCreated struct {
	Campaign  string
	Asset     common.Address
	Caller    common.Address
	CreatedAt int64
}

func (QuestCampaignCreated) EventType() string { return TypeQuestCampaignCreated }

func (e QuestCampaignCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeQuestCampaignCreated,
		Attributes: map[string]string{
			"campaign":  e.Campaign,
			"asset":     formatAddress(e.Asset),
			"caller":    formatAddress(e.Caller),
			"createdAt": intToString(e.CreatedAt),
		},
	}
}

// QuestCampaignFunded records a pool top-up and the resulting balance.
type QuestCampaignFunded struct {
	Campaign string
	Asset    common.Address
	From     common.Address
	Amount   *big.Int
	Pool     *big.Int
}

func (QuestCampaignFunded) EventType() string { return TypeQuestCampaignFunded }

func (e QuestCampaignFunded) Event() *types.Event {
	return &types.Event{
		Type: TypeQuestCampaignFunded,
		Attributes: map[string]string{
			"campaign": e.Campaign,
			"asset":    formatAddress(e.Asset),
			"from":     formatAddress(e.From),
			"amount":   formatAmount(e.Amount),
			"pool":     formatAmount(e.Pool),
		},
	}
}

// QuestRewardAllocated records a single allocation made by the rewarder.
type QuestRewardAllocated struct {
	Campaign  string
	Asset     common.Address
	Recipient common.Address
	Amount    *big.Int
	Pending   *big.Int
}

func (QuestRewardAllocated) EventType() string { return TypeQuestRewardAllocated }

func (e QuestRewardAllocated) Event() *types.Event {
	return &types.Event{
		Type: TypeQuestRewardAllocated,
		Attributes: map[string]string{
			"campaign":  e.Campaign,
			"asset":     formatAddress(e.Asset),
			"recipient": formatAddress(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"pending":   formatAmount(e.Pending),
		},
	}
}

// QuestRewardClaimed records a settled claim.
type QuestRewardClaimed struct {
	Campaign  string
	Asset     common.Address
	Recipient common.Address
	Amount    *big.Int
	Claimed   *big.Int
	Pool      *big.Int
}

func (QuestRewardClaimed) EventType() string { return TypeQuestRewardClaimed }

func (e QuestRewardClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeQuestRewardClaimed,
		Attributes: map[string]string{
			"campaign":  e.Campaign,
			"asset":     formatAddress(e.Asset),
			"recipient": formatAddress(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"claimed":   formatAmount(e.Claimed),
			"pool":      formatAmount(e.Pool),
		},
	}
}

// QuestCampaignWithdrawn records the admin draining a campaign pool.
type QuestCampaignWithdrawn struct {
	Campaign string
	Asset    common.Address
	To       common.Address
	Amount   *big.Int
}

func (QuestCampaignWithdrawn) EventType() string { return TypeQuestCampaignWithdrawn }

func (e QuestCampaignWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeQuestCampaignWithdrawn,
		Attributes: map[string]string{
			"campaign": e.Campaign,
			"asset":    formatAddress(e.Asset),
			"to":       formatAddress(e.To),
			"amount":   formatAmount(e.Amount),
		},
	}
}
