package questreward_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"questreward/asset"
	"questreward/asset/assettest"
	"questreward/core/events"
	"questreward/native/questreward"
)

var errDiskFull = errors.New("disk full")

// flakyState fails the next commit once armed and counts every attempt.
type flakyState struct {
	questreward.State
	failIn  int
	commits int
}

// failCommit makes the nth commit from now fail.
func (s *flakyState) failCommit(n int) { s.failIn = n }

func (s *flakyState) Commit(cs *questreward.Changeset) error {
	s.commits++
	if s.failIn > 0 {
		s.failIn--
		if s.failIn == 0 {
			return errDiskFull
		}
	}
	return s.State.Commit(cs)
}

type recordingMetrics struct {
	mu      sync.Mutex
	commits []string
}

func (m *recordingMetrics) ObserveOperation(string, string, time.Duration) {}
func (m *recordingMetrics) SetPool(string, *big.Int)                       {}

func (m *recordingMetrics) RecordCommitFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, op)
}

func (m *recordingMetrics) failures() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commits...)
}

type settlementFixture struct {
	*fixture
	state   *flakyState
	metrics *recordingMetrics
}

func newSettlementFixture(t *testing.T, st questreward.State) *settlementFixture {
	t.Helper()
	flaky := &flakyState{State: st}
	f := newFixture(t, flaky)
	metrics := &recordingMetrics{}
	f.engine.SetMetrics(metrics)
	return &settlementFixture{fixture: f, state: flaky, metrics: metrics}
}

func TestClaimStagingCommitFailure(t *testing.T) {
	for _, factory := range stateFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newSettlementFixture(t, factory.new(t))
			f.newFundedCampaign(t, "c", 100)
			f.reward(t, "c", user1, 60)
			before := len(f.emitter.events)

			f.state.failCommit(1)
			_, err := f.engine.Claim(bg(), user1, "c")
			require.ErrorIs(t, err, questreward.ErrStateCommit)
			require.ErrorIs(t, err, errDiskFull)
			require.Equal(t, questreward.KindStateCommit, questreward.Kind(err))
			require.Equal(t, []string{"claim"}, f.metrics.failures())
			require.Equal(t, 0, f.token.Calls("out"))
			require.EqualValues(t, 60, f.pending(t, "c", user1))
			require.EqualValues(t, 100, f.pool(t, "c"))
			require.Len(t, f.emitter.events, before)

			amount, err := f.engine.Claim(bg(), user1, "c")
			require.NoError(t, err)
			require.EqualValues(t, 60, amount.Int64())
			require.EqualValues(t, 60, f.token.Balance(user1).Int64())
		})
	}
}

func TestClaimRevertCommitFailureKeepsDebit(t *testing.T) {
	for _, factory := range stateFactories() {
		t.Run(factory.name, func(t *testing.T) {
			f := newSettlementFixture(t, factory.new(t))
			f.newFundedCampaign(t, "c", 100)
			f.reward(t, "c", user1, 60)
			f.token.FailWith("out", errRPC)

			f.state.failCommit(2)
			_, err := f.engine.Claim(bg(), user1, "c")
			require.ErrorIs(t, err, questreward.ErrStateCommit)
			require.Equal(t, questreward.KindStateCommit, questreward.Kind(err))
			require.Contains(t, err.Error(), errRPC.Error())
			require.Equal(t, []string{"claim_revert"}, f.metrics.failures())
			require.Equal(t, 1, f.token.Calls("out"))

			require.EqualValues(t, 0, f.pending(t, "c", user1))
			require.EqualValues(t, 60, f.claimed(t, "c", user1))
			require.EqualValues(t, 40, f.pool(t, "c"))

			f.token.FailWith("out", nil)
			_, err = f.engine.Claim(bg(), user1, "c")
			require.ErrorIs(t, err, questreward.ErrNothingToClaim)
			require.Equal(t, 1, f.token.Calls("out"))
		})
	}
}

func TestWithdrawCommitFailures(t *testing.T) {
	f := newSettlementFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 300)

	f.state.failCommit(1)
	_, err := f.engine.Withdraw(bg(), adminAddr, "c")
	require.ErrorIs(t, err, questreward.ErrStateCommit)
	require.Equal(t, 0, f.token.Calls("out"))
	require.EqualValues(t, 300, f.pool(t, "c"))

	f.token.FailWith("out", errRPC)
	f.state.failCommit(2)
	_, err = f.engine.Withdraw(bg(), adminAddr, "c")
	require.ErrorIs(t, err, questreward.ErrStateCommit)
	require.EqualValues(t, 0, f.pool(t, "c"))
	require.Equal(t, []string{"withdraw", "withdraw_revert"}, f.metrics.failures())
}

func TestFundCommitFailureLeavesPoolUntouched(t *testing.T) {
	f := newSettlementFixture(t, questreward.NewMemState())
	f.newFundedCampaign(t, "c", 0)
	f.token.Mint(adminAddr, 50)
	f.token.Approve(adminAddr, 50)

	f.state.failCommit(1)
	err := f.engine.Fund(bg(), adminAddr, "c", big.NewInt(50))
	require.ErrorIs(t, err, questreward.ErrStateCommit)
	require.Equal(t, []string{"fund"}, f.metrics.failures())
	require.EqualValues(t, 0, f.pool(t, "c"))
	require.EqualValues(t, 50, f.token.Balance(custodyAddr).Int64())
}

// unconfirmedFixture backs tokenAddr with an asset whose outgoing transfers
// are submitted but never confirmed.
func unconfirmedFixture(t *testing.T, st questreward.State) (*questreward.Engine, *capturingEmitter, *int) {
	t.Helper()
	custody := assettest.NewToken(custodyAddr)
	sent := 0
	token := asset.FuncAsset{
		TransferInFunc: custody.TransferIn,
		TransferOutFunc: func(_ context.Context, to common.Address, amount *big.Int) error {
			sent++
			return fmt.Errorf("%w: transfer of %s to %s", asset.ErrUnconfirmed, amount, to.Hex())
		},
	}
	assets := asset.NewRegistry()
	assets.Register(tokenAddr, token)
	engine, err := questreward.NewEngine(ownerAddr, adminAddr, st, assets)
	require.NoError(t, err)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	require.NoError(t, engine.SetRewarder(ownerAddr, rewarderAddr))
	require.NoError(t, engine.CreateCampaign(rewarderAddr, tokenAddr, "c"))
	custody.Mint(adminAddr, 100)
	custody.Approve(adminAddr, 100)
	require.NoError(t, engine.Fund(bg(), adminAddr, "c", big.NewInt(100)))
	return engine, emitter, &sent
}

func TestUnconfirmedClaimStaysSettled(t *testing.T) {
	for _, factory := range stateFactories() {
		t.Run(factory.name, func(t *testing.T) {
			engine, emitter, sent := unconfirmedFixture(t, factory.new(t))
			require.NoError(t, engine.Reward(bg(), rewarderAddr, amounts(70), []common.Address{user1}, "c"))

			amount, err := engine.Claim(bg(), user1, "c")
			require.ErrorIs(t, err, questreward.ErrTransferPending)
			require.ErrorIs(t, err, asset.ErrUnconfirmed)
			require.NotErrorIs(t, err, questreward.ErrTransferFailed)
			require.Equal(t, questreward.KindTransferPending, questreward.Kind(err))
			require.EqualValues(t, 70, amount.Int64())
			require.Contains(t, emitter.types(), events.TypeQuestRewardClaimed)

			_, err = engine.Claim(bg(), user1, "c")
			require.ErrorIs(t, err, questreward.ErrNothingToClaim)
			require.Equal(t, 1, *sent)

			claimed, err := engine.ClaimedRewards("c", user1)
			require.NoError(t, err)
			require.EqualValues(t, 70, claimed.Int64())
			campaign, err := engine.Campaign("c")
			require.NoError(t, err)
			require.EqualValues(t, 30, campaign.Pool.Int64())
		})
	}
}

func TestUnconfirmedWithdrawStaysSettled(t *testing.T) {
	engine, _, sent := unconfirmedFixture(t, questreward.NewMemState())

	amount, err := engine.Withdraw(bg(), adminAddr, "c")
	require.ErrorIs(t, err, questreward.ErrTransferPending)
	require.EqualValues(t, 100, amount.Int64())
	campaign, err := engine.Campaign("c")
	require.NoError(t, err)
	require.Zero(t, campaign.Pool.Sign())
	require.Equal(t, 1, *sent)

	require.NoError(t, engine.Reward(bg(), rewarderAddr, amounts(10), []common.Address{user1}, "c"))
	_, err = engine.Claim(bg(), user1, "c")
	require.ErrorIs(t, err, questreward.ErrInsufficientPool)
	require.Equal(t, 1, *sent)
}
