package questreward_test

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"questreward/asset/assettest"
	"questreward/core/events"
	nativecommon "questreward/native/common"
	"questreward/native/questreward"
)

var errRPC = errors.New("rpc unavailable")

func TestFund(t *testing.T) {
	for _, factory := range stateFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.new(t))
			f.newFundedCampaign(t, "c", 0)
			f.token.Mint(adminAddr, 1_000)
			f.token.Approve(adminAddr, 1_000)

			require.ErrorIs(t, f.engine.Fund(bg(), rewarderAddr, "c", big.NewInt(10)), questreward.ErrUnauthorized)
			require.ErrorIs(t, f.engine.Fund(bg(), adminAddr, "missing", big.NewInt(10)), questreward.ErrNotFound)
			require.ErrorIs(t, f.engine.Fund(bg(), adminAddr, "c", big.NewInt(-1)), questreward.ErrInvalidArgument)
			require.ErrorIs(t, f.engine.Fund(bg(), adminAddr, "c", nil), questreward.ErrInvalidArgument)
			require.Equal(t, 0, f.token.Calls("in"))

			require.NoError(t, f.engine.Fund(bg(), adminAddr, "c", big.NewInt(600)))
			require.NoError(t, f.engine.Fund(bg(), adminAddr, "c", big.NewInt(400)))
			require.EqualValues(t, 1_000, f.pool(t, "c"))
			require.EqualValues(t, 1_000, f.token.Balance(custodyAddr).Int64())
			require.EqualValues(t, 0, f.token.Balance(adminAddr).Int64())
			require.Equal(t, 2, f.token.Calls("in"))

			funded := f.emitter.events[len(f.emitter.events)-1].(events.QuestCampaignFunded)
			require.EqualValues(t, 400, funded.Amount.Int64())
			require.EqualValues(t, 1_000, funded.Pool.Int64())
		})
	}
}

func TestFundPropagatesCollaboratorFailure(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 0)

	err := f.engine.Fund(bg(), adminAddr, "c", big.NewInt(50))
	require.ErrorIs(t, err, questreward.ErrTransferFailed)
	require.ErrorIs(t, err, assettest.ErrInsufficientAllowance)
	require.Equal(t, questreward.KindTransferFailed, questreward.Kind(err))
	require.EqualValues(t, 0, f.pool(t, "c"))
}

func TestRewardValidation(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 0)
	before := len(f.emitter.events)

	cases := []struct {
		name       string
		caller     common.Address
		key        string
		amounts    []*big.Int
		recipients []common.Address
		want       error
	}{
		{name: "not rewarder", caller: adminAddr, key: "c", amounts: amounts(1), recipients: []common.Address{user1}, want: questreward.ErrUnauthorized},
		{name: "unknown campaign", caller: rewarderAddr, key: "missing", amounts: amounts(1), recipients: []common.Address{user1}, want: questreward.ErrNotFound},
		{name: "empty", caller: rewarderAddr, key: "c", want: questreward.ErrInvalidArgument},
		{name: "length mismatch", caller: rewarderAddr, key: "c", amounts: amounts(1, 2), recipients: []common.Address{user1}, want: questreward.ErrInvalidArgument},
		{name: "zero recipient", caller: rewarderAddr, key: "c", amounts: amounts(1, 2), recipients: []common.Address{user1, {}}, want: questreward.ErrInvalidArgument},
		{name: "negative amount", caller: rewarderAddr, key: "c", amounts: amounts(5, -1), recipients: []common.Address{user1, user2}, want: questreward.ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.engine.Reward(bg(), tc.caller, tc.amounts, tc.recipients, tc.key)
			require.ErrorIs(t, err, tc.want)
		})
	}

	require.EqualValues(t, 0, f.pending(t, "c", user1))
	require.EqualValues(t, 0, f.pending(t, "c", user2))
	total, err := f.engine.TotalRewards(tokenAddr)
	require.NoError(t, err)
	require.EqualValues(t, 0, total.Int64())
	require.Len(t, f.emitter.events, before)
}

func TestRewardAccumulates(t *testing.T) {
	for _, factory := range stateFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.new(t))
			f.newFundedCampaign(t, "c", 0)

			f.reward(t, "c", user1, 100)
			require.EqualValues(t, 100, f.pending(t, "c", user1))
			total, err := f.engine.TotalRewards(tokenAddr)
			require.NoError(t, err)
			require.EqualValues(t, 100, total.Int64())

			f.reward(t, "c", user2, 50)
			f.reward(t, "c", user2, 50)
			require.EqualValues(t, 100, f.pending(t, "c", user2))

			// duplicates inside one batch accumulate as well
			err = f.engine.Reward(bg(), rewarderAddr, amounts(5, 7), []common.Address{user1, user1}, "c")
			require.NoError(t, err)
			require.EqualValues(t, 112, f.pending(t, "c", user1))

			total, err = f.engine.TotalRewards(tokenAddr)
			require.NoError(t, err)
			require.EqualValues(t, 212, total.Int64())
		})
	}
}

func TestTotalRewardsSpansCampaigns(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "a", 0)
	f.newFundedCampaign(t, "b", 0)
	f.reward(t, "a", user1, 30)
	f.reward(t, "b", user1, 70)

	total, err := f.engine.TotalRewards(tokenAddr)
	require.NoError(t, err)
	require.EqualValues(t, 100, total.Int64())
	require.EqualValues(t, 30, f.pending(t, "a", user1))
	require.EqualValues(t, 70, f.pending(t, "b", user1))
}

func TestRewardRejectsOverflow(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 0)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	require.NoError(t, f.engine.Reward(bg(), rewarderAddr, []*big.Int{max}, []common.Address{user1}, "c"))
	err := f.engine.Reward(bg(), rewarderAddr, amounts(1), []common.Address{user2}, "c")
	require.ErrorIs(t, err, questreward.ErrInvalidArgument)
	require.EqualValues(t, 0, f.pending(t, "c", user2))

	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256)
	err = f.engine.Reward(bg(), rewarderAddr, []*big.Int{tooLarge}, []common.Address{user2}, "c")
	require.ErrorIs(t, err, questreward.ErrInvalidArgument)
}

func TestClaim(t *testing.T) {
	for _, factory := range stateFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.new(t))
			f.newFundedCampaign(t, "c", 500)

			_, err := f.engine.Claim(bg(), user1, "c")
			require.ErrorIs(t, err, questreward.ErrNothingToClaim)
			_, err = f.engine.Claim(bg(), user1, "missing")
			require.ErrorIs(t, err, questreward.ErrNotFound)

			f.reward(t, "c", user1, 200)
			claimed, err := f.engine.Claim(bg(), user1, "c")
			require.NoError(t, err)
			require.EqualValues(t, 200, claimed.Int64())
			require.EqualValues(t, 300, f.pool(t, "c"))
			require.EqualValues(t, 0, f.pending(t, "c", user1))
			require.EqualValues(t, 200, f.claimed(t, "c", user1))
			require.EqualValues(t, 200, f.token.Balance(user1).Int64())

			_, err = f.engine.Claim(bg(), user1, "c")
			require.ErrorIs(t, err, questreward.ErrNothingToClaim)

			f.reward(t, "c", user1, 50)
			_, err = f.engine.Claim(bg(), user1, "c")
			require.NoError(t, err)
			require.EqualValues(t, 250, f.claimed(t, "c", user1))
			require.EqualValues(t, 250, f.pool(t, "c"))

			claimedEvt := f.emitter.events[len(f.emitter.events)-1].(events.QuestRewardClaimed)
			require.EqualValues(t, 50, claimedEvt.Amount.Int64())
			require.EqualValues(t, 250, claimedEvt.Claimed.Int64())
			require.EqualValues(t, 250, claimedEvt.Pool.Int64())
		})
	}
}

func TestClaimInsufficientPoolLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 99)
	f.reward(t, "c", user1, 100)

	_, err := f.engine.Claim(bg(), user1, "c")
	require.ErrorIs(t, err, questreward.ErrInsufficientPool)
	require.Equal(t, questreward.KindInsufficientPool, questreward.Kind(err))
	require.EqualValues(t, 100, f.pending(t, "c", user1))
	require.EqualValues(t, 99, f.pool(t, "c"))
	require.Equal(t, 0, f.token.Calls("out"))
}

func TestClaimTransferFailureRollsBack(t *testing.T) {
	for _, factory := range stateFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newFixture(t, factory.new(t))
			f.newFundedCampaign(t, "c", 100)
			f.reward(t, "c", user1, 60)
			f.token.FailWith("out", errRPC)
			before := len(f.emitter.events)

			_, err := f.engine.Claim(bg(), user1, "c")
			require.ErrorIs(t, err, questreward.ErrTransferFailed)
			require.ErrorIs(t, err, errRPC)
			require.EqualValues(t, 60, f.pending(t, "c", user1))
			require.EqualValues(t, 0, f.claimed(t, "c", user1))
			require.EqualValues(t, 100, f.pool(t, "c"))
			require.Len(t, f.emitter.events, before)

			f.token.FailWith("out", nil)
			_, err = f.engine.Claim(bg(), user1, "c")
			require.NoError(t, err)
			require.EqualValues(t, 40, f.pool(t, "c"))
		})
	}
}

func TestClaimRejectsZeroCaller(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 0)
	_, err := f.engine.Claim(bg(), common.Address{}, "c")
	require.ErrorIs(t, err, questreward.ErrInvalidArgument)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 300)

	_, err := f.engine.Withdraw(bg(), rewarderAddr, "c")
	require.ErrorIs(t, err, questreward.ErrUnauthorized)
	_, err = f.engine.Withdraw(bg(), adminAddr, "missing")
	require.ErrorIs(t, err, questreward.ErrNotFound)

	f.token.FailWith("out", errRPC)
	_, err = f.engine.Withdraw(bg(), adminAddr, "c")
	require.ErrorIs(t, err, questreward.ErrTransferFailed)
	require.EqualValues(t, 300, f.pool(t, "c"))
	f.token.FailWith("out", nil)

	withdrawn, err := f.engine.Withdraw(bg(), adminAddr, "c")
	require.NoError(t, err)
	require.EqualValues(t, 300, withdrawn.Int64())
	require.EqualValues(t, 0, f.pool(t, "c"))
	require.EqualValues(t, 300, f.token.Balance(adminAddr).Int64())

	calls := f.token.Calls("out")
	withdrawn, err = f.engine.Withdraw(bg(), adminAddr, "c")
	require.NoError(t, err)
	require.EqualValues(t, 0, withdrawn.Int64())
	require.Equal(t, calls+1, f.token.Calls("out"))
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 100)
	f.reward(t, "c", user1, 10)

	pauses := nativecommon.NewPauses()
	pauses.Pause(questreward.ModuleName)
	f.engine.SetPauses(pauses)

	require.ErrorIs(t, f.engine.SetRewarder(ownerAddr, user2), nativecommon.ErrModulePaused)
	require.ErrorIs(t, f.engine.CreateCampaign(rewarderAddr, tokenAddr, "d"), nativecommon.ErrModulePaused)
	require.ErrorIs(t, f.engine.Fund(bg(), adminAddr, "c", big.NewInt(1)), nativecommon.ErrModulePaused)
	require.ErrorIs(t, f.engine.Reward(bg(), rewarderAddr, amounts(1), []common.Address{user1}, "c"), nativecommon.ErrModulePaused)
	_, err := f.engine.Claim(bg(), user1, "c")
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	require.Equal(t, questreward.KindModulePaused, questreward.Kind(err))
	_, err = f.engine.Withdraw(bg(), adminAddr, "c")
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	// reads stay available
	require.EqualValues(t, 10, f.pending(t, "c", user1))

	pauses.Resume(questreward.ModuleName)
	_, err = f.engine.Claim(bg(), user1, "c")
	require.NoError(t, err)
}

func TestConcurrentClaimsNeverOverdraw(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 1_000)

	recipients := make([]common.Address, 20)
	for i := range recipients {
		recipients[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		f.reward(t, "c", recipients[i], 100)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, recipient := range recipients {
		wg.Add(1)
		go func(who common.Address) {
			defer wg.Done()
			_, err := f.engine.Claim(bg(), who, "c")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, questreward.ErrInsufficientPool) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}(recipient)
	}
	wg.Wait()

	require.Equal(t, 10, successes)
	require.EqualValues(t, 0, f.pool(t, "c"))
	require.EqualValues(t, 0, f.token.Balance(custodyAddr).Int64())
}

func TestAllocationsListing(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 100)
	f.reward(t, "c", user2, 30)
	f.reward(t, "c", user1, 20)
	_, err := f.engine.Claim(bg(), user2, "c")
	require.NoError(t, err)

	allocations, err := f.engine.Allocations("c")
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	require.Equal(t, user2, allocations[0].Recipient)
	require.EqualValues(t, 0, allocations[0].Pending.Int64())
	require.EqualValues(t, 30, allocations[0].Claimed.Int64())
	require.Equal(t, user1, allocations[1].Recipient)
	require.EqualValues(t, 20, allocations[1].Pending.Int64())

	_, err = f.engine.Allocations("missing")
	require.ErrorIs(t, err, questreward.ErrNotFound)
}

func TestPoolBalanceReadsCustody(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 250)
	balance, err := f.engine.PoolBalance(bg(), "c", custodyAddr)
	require.NoError(t, err)
	require.EqualValues(t, 250, balance.Int64())
}

func TestUnknownAssetFailsAsTransfer(t *testing.T) {
	f := newFixture(t, questreward.NewMemState())
	require.NoError(t, f.engine.CreateCampaign(rewarderAddr, user2, "unbacked"))
	err := f.engine.Fund(bg(), adminAddr, "unbacked", big.NewInt(1))
	require.ErrorIs(t, err, questreward.ErrTransferFailed)
	require.EqualValues(t, 0, f.pool(t, "unbacked"))
}

func TestKind(t *testing.T) {
	require.Equal(t, "", questreward.Kind(nil))
	require.Equal(t, questreward.KindInternal, questreward.Kind(errors.New("boom")))
	require.Equal(t, questreward.KindNotFound, questreward.Kind(questreward.ErrNotFound))
}
