package common

import (
	"errors"
	"testing"
)

type memPauseStore struct {
	paused map[string]bool
	err    error
}

func (s *memPauseStore) PausedModules() ([]string, error) {
	out := make([]string, 0, len(s.paused))
	for module := range s.paused {
		out = append(out, module)
	}
	return out, nil
}

func (s *memPauseStore) SetPaused(module string, paused bool) error {
	if s.err != nil {
		return s.err
	}
	if paused {
		s.paused[module] = true
	} else {
		delete(s.paused, module)
	}
	return nil
}

func TestGuardHonoursPauses(t *testing.T) {
	pauses := NewPauses()
	if err := Guard(pauses, "questreward"); err != nil {
		t.Fatalf("expected no error before pause, got %v", err)
	}
	if changed, _ := pauses.Pause(" QuestReward "); !changed {
		t.Fatalf("expected pause to change state")
	}
	if changed, _ := pauses.Pause("questreward"); changed {
		t.Fatalf("expected repeated pause to be a no-op")
	}
	if err := Guard(pauses, "questreward"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "escrow"); err != nil {
		t.Fatalf("unrelated module should not be paused: %v", err)
	}
	if changed, _ := pauses.Resume("questreward"); !changed {
		t.Fatalf("expected resume to change state")
	}
	if err := Guard(pauses, "questreward"); err != nil {
		t.Fatalf("expected resumed module, got %v", err)
	}
}

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, "questreward"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	var pauses *Pauses
	if pauses.IsPaused("questreward") {
		t.Fatalf("nil pauses must report unpaused")
	}
}

func TestPausesWriteThroughStore(t *testing.T) {
	store := &memPauseStore{paused: map[string]bool{"questreward": true}}
	pauses, err := LoadPauses(store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !pauses.IsPaused("questreward") {
		t.Fatalf("expected persisted pause to be restored")
	}
	if _, err := pauses.Resume("questreward"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if store.paused["questreward"] {
		t.Fatalf("expected resume to be persisted")
	}

	store.err = errors.New("disk full")
	if changed, err := pauses.Pause("questreward"); err == nil || changed {
		t.Fatalf("expected store failure to abort the pause, changed=%v err=%v", changed, err)
	}
	if pauses.IsPaused("questreward") {
		t.Fatalf("pause applied despite store failure")
	}
}
