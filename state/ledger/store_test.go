package ledger

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "questreward/native/common"
	"questreward/native/questreward"
	"questreward/storage"
)

var (
	assetA = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000101")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000102")
)

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store := NewStore(db)
	rewarder := common.HexToAddress("0x00000000000000000000000000000000000000a3")
	err = store.Commit(&questreward.Changeset{
		Rewarder:  &rewarder,
		Campaigns: []*questreward.Campaign{{Key: "spring", Asset: assetA, Pool: big.NewInt(900), CreatedAt: 1_700_000_000}},
		Allocations: []questreward.AllocationUpdate{
			{Campaign: "spring", Recipient: bob, Allocation: &questreward.Allocation{Pending: big.NewInt(1000), Claimed: big.NewInt(0)}},
			{Campaign: "spring", Recipient: alice, Allocation: &questreward.Allocation{Pending: big.NewInt(0), Claimed: big.NewInt(100)}},
		},
		TotalDeltas: []questreward.TotalDelta{{Asset: assetA, Amount: big.NewInt(1100)}},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	db.Close()

	db, err = storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	store = NewStore(db)

	if got, _ := store.Rewarder(); got != rewarder {
		t.Fatalf("expected rewarder %s, got %s", rewarder.Hex(), got.Hex())
	}
	campaign, ok, err := store.Campaign("spring")
	if err != nil || !ok {
		t.Fatalf("campaign lookup: ok=%v err=%v", ok, err)
	}
	if campaign.Asset != assetA || campaign.Pool.Int64() != 900 || campaign.CreatedAt != 1_700_000_000 {
		t.Fatalf("unexpected campaign %+v", campaign)
	}
	alloc, err := store.Allocation("spring", alice)
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if alloc.Pending.Sign() != 0 || alloc.Claimed.Int64() != 100 {
		t.Fatalf("unexpected allocation %+v", alloc)
	}
	recipients, err := store.Recipients("spring")
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(recipients) != 2 || recipients[0] != bob || recipients[1] != alice {
		t.Fatalf("unexpected recipients %v", recipients)
	}
	total, err := store.TotalRewards(assetA)
	if err != nil || total.Int64() != 1100 {
		t.Fatalf("unexpected total %v %v", total, err)
	}
}

func TestStoreAbsentRecords(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	if _, ok, err := store.Campaign("missing"); ok || err != nil {
		t.Fatalf("expected missing campaign, ok=%v err=%v", ok, err)
	}
	alloc, err := store.Allocation("missing", alice)
	if err != nil || !alloc.IsZero() {
		t.Fatalf("expected zero allocation, got %+v %v", alloc, err)
	}
	total, err := store.TotalRewards(assetA)
	if err != nil || total.Sign() != 0 {
		t.Fatalf("expected zero total, got %v %v", total, err)
	}
	if got, _ := store.Rewarder(); got != (common.Address{}) {
		t.Fatalf("expected unset rewarder, got %s", got.Hex())
	}
}

func TestStoreTotalsAreAdditive(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	for i := 0; i < 3; i++ {
		err := store.Commit(&questreward.Changeset{TotalDeltas: []questreward.TotalDelta{
			{Asset: assetA, Amount: big.NewInt(10)},
			{Asset: assetA, Amount: big.NewInt(5)},
		}})
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	total, _ := store.TotalRewards(assetA)
	if total.Int64() != 45 {
		t.Fatalf("expected 45, got %s", total)
	}
}

func TestStoreOverflowRejectsWholeChangeset(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := store.Commit(&questreward.Changeset{TotalDeltas: []questreward.TotalDelta{{Asset: assetA, Amount: max}}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	err := store.Commit(&questreward.Changeset{
		Campaigns:   []*questreward.Campaign{{Key: "c", Asset: assetA, Pool: big.NewInt(1)}},
		TotalDeltas: []questreward.TotalDelta{{Asset: assetA, Amount: big.NewInt(1)}},
	})
	if !errors.Is(err, questreward.ErrInvalidArgument) {
		t.Fatalf("expected overflow rejection, got %v", err)
	}
	if _, ok, _ := store.Campaign("c"); ok {
		t.Fatalf("campaign written despite rejected changeset")
	}
}

func TestStoreCampaignKeysSorted(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	err := store.Commit(&questreward.Changeset{Campaigns: []*questreward.Campaign{
		{Key: "zeta", Asset: assetA},
		{Key: "alpha", Asset: assetA},
	}})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	keys, err := store.CampaignKeys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "zeta" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestStoreRecipientIndexKeepsFirstAllocationOrder(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	allocate := func(campaign string, recipient common.Address, pending int64) {
		t.Helper()
		err := store.Commit(&questreward.Changeset{Allocations: []questreward.AllocationUpdate{{
			Campaign:   campaign,
			Recipient:  recipient,
			Allocation: &questreward.Allocation{Pending: big.NewInt(pending), Claimed: big.NewInt(0)},
		}}})
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	const n = 300
	want := make([]common.Address, n)
	for i := range want {
		want[i] = common.BigToAddress(big.NewInt(int64(n - i)))
		allocate("spring", want[i], 1)
	}
	allocate("spring", want[0], 2)
	allocate("spring", want[n-1], 2)
	allocate("autumn", want[5], 1)

	got, err := store.Recipients("spring")
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d recipients, got %d", n, len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipient %d: expected %s, got %s", i, want[i].Hex(), got[i].Hex())
		}
	}
	entries, err := db.Keys(recipientIndexPrefix("spring"))
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("expected one index entry per recipient, got %d", len(entries))
	}
	autumn, err := store.Recipients("autumn")
	if err != nil || len(autumn) != 1 || autumn[0] != want[5] {
		t.Fatalf("unexpected autumn recipients %v %v", autumn, err)
	}
}

func TestStoreIndexesRecipientsWithinOneChangeset(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	update := func(recipient common.Address, pending int64) questreward.AllocationUpdate {
		return questreward.AllocationUpdate{
			Campaign:   "spring",
			Recipient:  recipient,
			Allocation: &questreward.Allocation{Pending: big.NewInt(pending), Claimed: big.NewInt(0)},
		}
	}
	err := store.Commit(&questreward.Changeset{Allocations: []questreward.AllocationUpdate{
		update(bob, 1), update(alice, 1), update(bob, 3),
	}})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	recipients, err := store.Recipients("spring")
	if err != nil || len(recipients) != 2 || recipients[0] != bob || recipients[1] != alice {
		t.Fatalf("unexpected recipients %v %v", recipients, err)
	}
	alloc, err := store.Allocation("spring", bob)
	if err != nil || alloc.Pending.Int64() != 3 {
		t.Fatalf("expected last update to win, got %+v %v", alloc, err)
	}
}

func TestPauseSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	pauses, err := nativecommon.LoadPauses(NewStore(db))
	if err != nil {
		t.Fatalf("load pauses: %v", err)
	}
	if _, err := pauses.Pause(questreward.ModuleName); err != nil {
		t.Fatalf("pause: %v", err)
	}
	db.Close()

	db, err = storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	store := NewStore(db)
	pauses, err = nativecommon.LoadPauses(store)
	if err != nil {
		t.Fatalf("reload pauses: %v", err)
	}
	if !pauses.IsPaused(questreward.ModuleName) {
		t.Fatalf("expected pause to survive a restart")
	}
	if _, err := pauses.Resume(questreward.ModuleName); err != nil {
		t.Fatalf("resume: %v", err)
	}
	modules, err := store.PausedModules()
	if err != nil || len(modules) != 0 {
		t.Fatalf("expected no persisted pauses, got %v %v", modules, err)
	}
}
