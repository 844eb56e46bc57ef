package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"questreward/core/types"
)

const defaultStreamHistory = 2048

// Stream is an Emitter that stamps every event with a monotonically
// increasing sequence and fans it out to live subscribers. A bounded history
// lets late subscribers resume from a cursor.
type Stream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	limit   int
	history []*types.Event
	subs    map[uint64]chan *types.Event
	now     func() time.Time
}

// NewStream constructs a stream retaining at most limit events. A
// non-positive limit selects the default.
func NewStream(limit int) *Stream {
	if limit <= 0 {
		limit = defaultStreamHistory
	}
	return &Stream{
		limit: limit,
		subs:  make(map[uint64]chan *types.Event),
		now:   time.Now,
	}
}

// Emit implements the Emitter interface.
func (s *Stream) Emit(evt Event) {
	if s == nil || evt == nil {
		return
	}
	record := ToRecord(evt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	record.Sequence = s.seq
	record.Timestamp = s.now().UTC().Unix()
	s.history = append(s.history, record)
	if len(s.history) > s.limit {
		excess := len(s.history) - s.limit
		trimmed := make([]*types.Event, s.limit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	// Slow subscribers drop events rather than stall the ledger.
	for _, ch := range s.subs {
		select {
		case ch <- record.Clone():
		default:
		}
	}
}

// Subscribe registers a subscriber for events published after cursor. The
// returned backlog holds retained events newer than the cursor. The cancel
// function is idempotent and is also invoked when ctx is done.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan *types.Event, func(), []*types.Event) {
	updates := make(chan *types.Event, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]*types.Event, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, entry.Clone())
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Sequence returns the sequence number of the latest published event.
func (s *Stream) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
