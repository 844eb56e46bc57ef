package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseStore persists pause flags so they survive a restart.
type PauseStore interface {
	PausedModules() ([]string, error)
	SetPaused(module string, paused bool) error
}

// Pauses is a PauseView toggled by operators. When backed by a PauseStore
// every change is written to the store before it takes effect.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
	store  PauseStore
}

func NewPauses() *Pauses {
	return &Pauses{paused: make(map[string]bool)}
}

// LoadPauses restores the flags recorded in store and writes later changes
// through to it.
func LoadPauses(store PauseStore) (*Pauses, error) {
	modules, err := store.PausedModules()
	if err != nil {
		return nil, err
	}
	p := &Pauses{paused: make(map[string]bool, len(modules)), store: store}
	for _, module := range modules {
		if name := normalizeModule(module); name != "" {
			p.paused[name] = true
		}
	}
	return p, nil
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[normalizeModule(module)]
}

// Pause marks the module paused. It reports whether the state changed.
func (p *Pauses) Pause(module string) (bool, error) {
	return p.set(module, true)
}

// Resume clears the pause flag. It reports whether the state changed.
func (p *Pauses) Resume(module string) (bool, error) {
	return p.set(module, false)
}

func (p *Pauses) set(module string, paused bool) (bool, error) {
	name := normalizeModule(module)
	if p == nil || name == "" {
		return false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused[name] == paused {
		return false, nil
	}
	if p.store != nil {
		if err := p.store.SetPaused(name, paused); err != nil {
			return false, err
		}
	}
	if paused {
		p.paused[name] = true
	} else {
		delete(p.paused, name)
	}
	return true, nil
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
