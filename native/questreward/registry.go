package questreward

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// MaxCampaignKeyLength bounds campaign identifiers in bytes.
const MaxCampaignKeyLength = 128

func validateCampaignKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: campaign key required", ErrInvalidArgument)
	}
	if len(key) > MaxCampaignKeyLength {
		return fmt.Errorf("%w: campaign key longer than %d bytes", ErrInvalidArgument, MaxCampaignKeyLength)
	}
	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: campaign key has surrounding whitespace", ErrInvalidArgument)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: campaign key must be valid utf-8", ErrInvalidArgument)
	}
	return nil
}

// CreateCampaign registers a campaign paying out in asset. Only the rewarder
// may call it and every key can be registered once.
func (e *Engine) CreateCampaign(caller, asset common.Address, key string) (err error) {
	defer e.observe("create_campaign", e.now(), &err)
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireRewarder(caller); err != nil {
		return err
	}
	if err := validateCampaignKey(key); err != nil {
		return err
	}
	if asset == (common.Address{}) {
		return fmt.Errorf("%w: 0x0 asset", ErrInvalidArgument)
	}

	unlock := e.locks.lock(key)
	defer unlock()

	_, exists, err := e.state.Campaign(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	campaign := &Campaign{Key: key, Asset: asset, Pool: cloneBigInt(nil), CreatedAt: e.now().Unix()}
	if err := e.state.Commit(&Changeset{Campaigns: []*Campaign{campaign}}); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCommit, err)
	}
	e.metrics.SetPool(key, campaign.Pool)
	e.emit(newCampaignCreatedEvent(campaign, caller))
	return nil
}

// Campaign returns a copy of the campaign record.
func (e *Engine) Campaign(key string) (*Campaign, error) {
	return e.loadCampaign(key)
}

// Campaigns lists every registered campaign key in lexical order.
func (e *Engine) Campaigns() ([]string, error) {
	return e.state.CampaignKeys()
}

func (e *Engine) loadCampaign(key string) (*Campaign, error) {
	campaign, ok, err := e.state.Campaign(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return campaign, nil
}
