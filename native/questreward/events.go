package questreward

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"questreward/core/events"
)

func newRewarderUpdatedEvent(caller, previous, rewarder common.Address) events.QuestRewarderUpdated {
	return events.QuestRewarderUpdated{Caller: caller, Previous: previous, Rewarder: rewarder}
}

func newCampaignCreatedEvent(campaign *Campaign, caller common.Address) events.QuestCampaignCreated {
	if campaign == nil {
		return events.QuestCampaignCreated{Caller: caller}
	}
	return events.QuestCampaignCreated{
		Campaign:  campaign.Key,
		Asset:     campaign.Asset,
		Caller:    caller,
		CreatedAt: campaign.CreatedAt,
	}
}

func newCampaignFundedEvent(campaign *Campaign, from common.Address, amount *big.Int) events.QuestCampaignFunded {
	return events.QuestCampaignFunded{
		Campaign: campaign.Key,
		Asset:    campaign.Asset,
		From:     from,
		Amount:   cloneBigInt(amount),
		Pool:     cloneBigInt(campaign.Pool),
	}
}

func newRewardAllocatedEvent(campaign *Campaign, recipient common.Address, amount, pending *big.Int) events.QuestRewardAllocated {
	return events.QuestRewardAllocated{
		Campaign:  campaign.Key,
		Asset:     campaign.Asset,
		Recipient: recipient,
		Amount:    cloneBigInt(amount),
		Pending:   cloneBigInt(pending),
	}
}

func newRewardClaimedEvent(campaign *Campaign, recipient common.Address, amount, claimed *big.Int) events.QuestRewardClaimed {
	return events.QuestRewardClaimed{
		Campaign:  campaign.Key,
		Asset:     campaign.Asset,
		Recipient: recipient,
		Amount:    cloneBigInt(amount),
		Claimed:   cloneBigInt(claimed),
		Pool:      cloneBigInt(campaign.Pool),
	}
}

func newCampaignWithdrawnEvent(campaign *Campaign, to common.Address, amount *big.Int) events.QuestCampaignWithdrawn {
	return events.QuestCampaignWithdrawn{
		Campaign: campaign.Key,
		Asset:    campaign.Asset,
		To:       to,
		Amount:   cloneBigInt(amount),
	}
}
