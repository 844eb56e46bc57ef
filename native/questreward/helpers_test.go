package questreward_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"questreward/asset"
	"questreward/asset/assettest"
	"questreward/core/events"
	"questreward/native/questreward"
	"questreward/state/ledger"
	"questreward/storage"
)

var (
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	rewarderAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	custodyAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	tokenAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	user1        = common.HexToAddress("0x0000000000000000000000000000000000000101")
	user2        = common.HexToAddress("0x0000000000000000000000000000000000000102")
	stranger     = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

type fixture struct {
	engine  *questreward.Engine
	token   *assettest.Token
	emitter *capturingEmitter
}

type stateFactory struct {
	name string
	new  func(t *testing.T) questreward.State
}

func stateFactories() []stateFactory {
	return []stateFactory{
		{name: "memory", new: func(*testing.T) questreward.State { return questreward.NewMemState() }},
		{name: "kv", new: func(t *testing.T) questreward.State {
			db := storage.NewMemDB()
			t.Cleanup(db.Close)
			return ledger.NewStore(db)
		}},
	}
}

func newFixture(t *testing.T, st questreward.State) *fixture {
	t.Helper()
	token := assettest.NewToken(custodyAddr)
	assets := asset.NewRegistry()
	assets.Register(tokenAddr, token)
	engine, err := questreward.NewEngine(ownerAddr, adminAddr, st, assets)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	if err := engine.SetRewarder(ownerAddr, rewarderAddr); err != nil {
		t.Fatalf("set rewarder: %v", err)
	}
	return &fixture{engine: engine, token: token, emitter: emitter}
}

// newFundedCampaign creates key and funds it with amount from the admin.
func (f *fixture) newFundedCampaign(t *testing.T, key string, amount int64) {
	t.Helper()
	if err := f.engine.CreateCampaign(rewarderAddr, tokenAddr, key); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if amount == 0 {
		return
	}
	f.token.Mint(adminAddr, amount)
	f.token.Approve(adminAddr, amount)
	if err := f.engine.Fund(bg(), adminAddr, key, big.NewInt(amount)); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f *fixture) reward(t *testing.T, key string, recipient common.Address, amount int64) {
	t.Helper()
	if err := f.engine.Reward(bg(), rewarderAddr, amounts(amount), []common.Address{recipient}, key); err != nil {
		t.Fatalf("reward: %v", err)
	}
}

func (f *fixture) pool(t *testing.T, key string) int64 {
	t.Helper()
	campaign, err := f.engine.Campaign(key)
	if err != nil {
		t.Fatalf("campaign: %v", err)
	}
	return campaign.Pool.Int64()
}

func (f *fixture) pending(t *testing.T, key string, who common.Address) int64 {
	t.Helper()
	v, err := f.engine.UserRewards(key, who)
	if err != nil {
		t.Fatalf("user rewards: %v", err)
	}
	return v.Int64()
}

func (f *fixture) claimed(t *testing.T, key string, who common.Address) int64 {
	t.Helper()
	v, err := f.engine.ClaimedRewards(key, who)
	if err != nil {
		t.Fatalf("claimed rewards: %v", err)
	}
	return v.Int64()
}

func amounts(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}

func bg() context.Context { return context.Background() }
