package questreward

import "sync"

// campaignLocks hands out one mutex per campaign key. Campaigns are never
// deleted so entries are never reclaimed.
type campaignLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newCampaignLocks() *campaignLocks {
	return &campaignLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *campaignLocks) lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
