package questreward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"questreward/asset"
	"questreward/core/events"
	nativecommon "questreward/native/common"
)

const moduleName = "questreward"

// ModuleName is the identifier used for operator pauses.
const ModuleName = moduleName

// Metrics receives engine instrumentation. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	SetPool(campaign string, pool *big.Int)
	RecordCommitFailure(op string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}
func (noopMetrics) SetPool(string, *big.Int)                       {}
func (noopMetrics) RecordCommitFailure(string)                     {}

// Engine is the campaign settlement state machine. Every mutating entry
// point checks its preconditions before touching state, holds the campaign's
// lock for its whole duration and invokes the asset collaborator at most
// once.
type Engine struct {
	access  accessControl
	state   State
	assets  asset.Resolver
	emitter events.Emitter
	pauses  nativecommon.PauseView
	metrics Metrics
	logger  *slog.Logger
	nowFn   func() time.Time

	locks  *campaignLocks
	roleMu sync.Mutex
}

// NewEngine constructs an engine. The admin must be non-zero; a nil state
// selects an in-memory state.
func NewEngine(owner, admin common.Address, st State, assets asset.Resolver) (*Engine, error) {
	access, err := newAccessControl(owner, admin)
	if err != nil {
		return nil, err
	}
	if assets == nil {
		return nil, fmt.Errorf("%w: asset resolver required", ErrInvalidArgument)
	}
	if st == nil {
		st = NewMemState()
	}
	return &Engine{
		access:  access,
		state:   st,
		assets:  assets,
		emitter: events.NoopEmitter{},
		metrics: noopMetrics{},
		logger:  slog.Default(),
		nowFn:   time.Now,
		locks:   newCampaignLocks(),
	}, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		e.metrics = noopMetrics{}
		return
	}
	e.metrics = m
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the clock. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// Fund pulls amount of the campaign asset from the admin into custody and
// credits the pool.
func (e *Engine) Fund(ctx context.Context, caller common.Address, key string, amount *big.Int) (err error) {
	defer e.observe("fund", e.now(), &err)
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if _, err := e.loadCampaign(key); err != nil {
		return err
	}
	if err := ValidateAmount(amount); err != nil {
		return err
	}

	unlock := e.locks.lock(key)
	defer unlock()

	campaign, err := e.loadCampaign(key)
	if err != nil {
		return err
	}
	pool, err := AddAmounts(campaign.Pool, amount)
	if err != nil {
		return err
	}
	token, err := e.resolve(campaign)
	if err != nil {
		return err
	}
	if err := token.TransferIn(ctx, e.access.admin, cloneBigInt(amount)); err != nil {
		return wrapTransfer("transfer in", err)
	}
	campaign.Pool = pool
	if err := e.commit("fund", campaign, &Changeset{Campaigns: []*Campaign{campaign}}); err != nil {
		return err
	}
	e.emit(newCampaignFundedEvent(campaign, e.access.admin, amount))
	return nil
}

// Reward allocates amounts[i] to recipients[i]. The batch is validated in
// full before anything is applied, so it either lands completely or not at
// all. Repeated recipients accumulate.
func (e *Engine) Reward(ctx context.Context, caller common.Address, amounts []*big.Int, recipients []common.Address, key string) (err error) {
	defer e.observe("reward", e.now(), &err)
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireRewarder(caller); err != nil {
		return err
	}
	if _, err := e.loadCampaign(key); err != nil {
		return err
	}
	if len(recipients) == 0 {
		return fmt.Errorf("%w: recipients required", ErrInvalidArgument)
	}
	if len(amounts) != len(recipients) {
		return fmt.Errorf("%w: %d amounts for %d recipients", ErrInvalidArgument, len(amounts), len(recipients))
	}
	for i, recipient := range recipients {
		if recipient == (common.Address{}) {
			return fmt.Errorf("%w: recipient %d is 0x0", ErrInvalidArgument, i)
		}
		if err := ValidateAmount(amounts[i]); err != nil {
			return fmt.Errorf("amount %d: %w", i, err)
		}
	}

	unlock := e.locks.lock(key)
	defer unlock()

	campaign, err := e.loadCampaign(key)
	if err != nil {
		return err
	}
	l := newLedger(e.state, campaign)
	pendings := make([]*big.Int, len(recipients))
	for i, recipient := range recipients {
		if err := l.allocate(recipient, amounts[i]); err != nil {
			return fmt.Errorf("allocate %d: %w", i, err)
		}
		if pendings[i], err = l.pending(recipient); err != nil {
			return err
		}
	}
	total, err := e.state.TotalRewards(campaign.Asset)
	if err != nil {
		return err
	}
	if _, err := AddAmounts(total, l.total); err != nil {
		return fmt.Errorf("running total: %w", err)
	}
	cs := &Changeset{}
	l.changes(cs)
	if err := e.commit("reward", nil, cs); err != nil {
		return err
	}
	for i, recipient := range recipients {
		e.emit(newRewardAllocatedEvent(campaign, recipient, amounts[i], pendings[i]))
	}
	return nil
}

// Claim settles the caller's whole pending allocation. The claim is rejected
// without side effects when the pending amount exceeds the current pool;
// pools are shared first-come-first-served and allocations reserve nothing.
//
// The debit is committed before the transfer is requested. When the transfer
// fails definitively the debit is reverted; when its outcome is unknown the
// debit stands and Claim returns the amount together with ErrTransferPending.
func (e *Engine) Claim(ctx context.Context, caller common.Address, key string) (claimed *big.Int, err error) {
	defer e.observe("claim", e.now(), &err)
	if err := e.guard(); err != nil {
		return nil, err
	}
	if caller == (common.Address{}) {
		return nil, fmt.Errorf("%w: 0x0 caller", ErrInvalidArgument)
	}
	if _, err := e.loadCampaign(key); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(key)
	defer unlock()

	campaign, err := e.loadCampaign(key)
	if err != nil {
		return nil, err
	}
	before, err := e.state.Allocation(key, caller)
	if err != nil {
		return nil, err
	}
	before = before.Clone()
	l := newLedger(e.state, campaign)
	pending, err := l.pending(caller)
	if err != nil {
		return nil, err
	}
	if pending.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToClaim, caller.Hex())
	}
	if pending.Cmp(campaign.Pool) > 0 {
		return nil, fmt.Errorf("%w: pending %s exceeds pool %s", ErrInsufficientPool, pending, campaign.Pool)
	}
	pool, err := subAmounts(campaign.Pool, pending)
	if err != nil {
		return nil, err
	}
	amount, err := l.consumePending(caller)
	if err != nil {
		return nil, err
	}
	if err := l.recordClaim(caller, amount); err != nil {
		return nil, err
	}
	token, err := e.resolve(campaign)
	if err != nil {
		return nil, err
	}

	restored := campaign.Clone()
	debited := campaign.Clone()
	debited.Pool = pool
	staged := &Changeset{Campaigns: []*Campaign{debited}}
	l.changes(staged)
	rollback := &Changeset{
		Campaigns:   []*Campaign{restored},
		Allocations: []AllocationUpdate{{Campaign: key, Recipient: caller, Allocation: before}},
	}
	settleErr := e.settle("claim", debited, restored, staged, rollback, func() error {
		return token.TransferOut(ctx, caller, cloneBigInt(amount))
	})
	if settleErr != nil && !errors.Is(settleErr, ErrTransferPending) {
		return nil, settleErr
	}
	alloc, err := l.load(caller)
	if err != nil {
		return nil, err
	}
	e.emit(newRewardClaimedEvent(debited, caller, amount, alloc.Claimed))
	return cloneBigInt(amount), settleErr
}

// Withdraw transfers the entire pool to the admin and zeroes it. Pending
// allocations are not consulted: the admin may strand outstanding claims
// until the pool is funded again. Settlement follows the same debit-first
// rule as Claim.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, key string) (withdrawn *big.Int, err error) {
	defer e.observe("withdraw", e.now(), &err)
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if _, err := e.loadCampaign(key); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(key)
	defer unlock()

	campaign, err := e.loadCampaign(key)
	if err != nil {
		return nil, err
	}
	amount := cloneBigInt(campaign.Pool)
	token, err := e.resolve(campaign)
	if err != nil {
		return nil, err
	}
	restored := campaign.Clone()
	emptied := campaign.Clone()
	emptied.Pool = big.NewInt(0)
	settleErr := e.settle("withdraw", emptied, restored,
		&Changeset{Campaigns: []*Campaign{emptied}},
		&Changeset{Campaigns: []*Campaign{restored}},
		func() error {
			return token.TransferOut(ctx, e.access.admin, cloneBigInt(amount))
		})
	if settleErr != nil && !errors.Is(settleErr, ErrTransferPending) {
		return nil, settleErr
	}
	e.emit(newCampaignWithdrawnEvent(emptied, e.access.admin, amount))
	return amount, settleErr
}

// settle commits staged, runs transfer and reverts to rollback only when the
// transfer failed definitively. An unconfirmed transfer keeps staged so the
// same funds are never released twice. If the revert itself cannot be
// committed the debit stands and ErrStateCommit is returned.
func (e *Engine) settle(op string, debited, restored *Campaign, staged, rollback *Changeset, transfer func() error) error {
	if err := e.commit(op, debited, staged); err != nil {
		return err
	}
	transferErr := transfer()
	if transferErr == nil {
		return nil
	}
	if errors.Is(transferErr, asset.ErrUnconfirmed) {
		e.logger.Warn("questreward transfer unconfirmed; settlement kept",
			slog.String("op", op),
			slog.String("campaign", debited.Key),
			slog.Any("error", transferErr))
		return fmt.Errorf("%w: %s: %w", ErrTransferPending, op, transferErr)
	}
	if err := e.commit(op+"_revert", restored, rollback); err != nil {
		return fmt.Errorf("%w (after transfer error: %v)", err, transferErr)
	}
	return wrapTransfer("transfer out", transferErr)
}

// PoolBalance reports the collaborator's view of the custody balance for the
// campaign asset. It is observability only; the ledger never consults it.
func (e *Engine) PoolBalance(ctx context.Context, key string, custody common.Address) (*big.Int, error) {
	campaign, err := e.loadCampaign(key)
	if err != nil {
		return nil, err
	}
	token, err := e.resolve(campaign)
	if err != nil {
		return nil, err
	}
	return token.BalanceOf(ctx, custody)
}

func (e *Engine) resolve(campaign *Campaign) (asset.Asset, error) {
	token, err := e.assets.Asset(campaign.Asset)
	if err != nil {
		return nil, wrapTransfer("resolve asset", err)
	}
	return token, nil
}

// commit applies cs and, when campaign is set, refreshes its pool gauge.
func (e *Engine) commit(op string, campaign *Campaign, cs *Changeset) error {
	if err := e.state.Commit(cs); err != nil {
		e.metrics.RecordCommitFailure(op)
		attrs := []any{slog.String("op", op), slog.Any("error", err)}
		if campaign != nil {
			attrs = append(attrs, slog.String("campaign", campaign.Key), slog.String("pool", campaign.Pool.String()))
		}
		e.logger.Error("questreward state commit failed", attrs...)
		return fmt.Errorf("%w: %s: %v", ErrStateCommit, op, err)
	}
	if campaign != nil {
		e.metrics.SetPool(campaign.Key, campaign.Pool)
	}
	return nil
}

func (e *Engine) guard() error {
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) emit(event events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() time.Time {
	if e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

func (e *Engine) observe(op string, started time.Time, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = Kind(*errp)
	}
	e.metrics.ObserveOperation(op, outcome, e.now().Sub(started))
}
