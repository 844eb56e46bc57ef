package questrewardd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"questreward/core/events"
	"questreward/observability"
)

// AuditRecord is the persisted form of a ledger event.
type AuditRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Type       string    `gorm:"index" json:"type"`
	Campaign   string    `gorm:"index" json:"campaign,omitempty"`
	Attributes string    `gorm:"type:text" json:"attributes"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the audit table name.
func (AuditRecord) TableName() string { return "questreward_audit" }

// OpenAuditDB opens the audit database for driver ("postgres" or "sqlite")
// and migrates the schema.
func OpenAuditDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.AutoMigrate(&AuditRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return db, nil
}

// AuditSink persists ledger events. Emit only queues the record; a worker
// goroutine writes it so the engine never waits on the database.
type AuditSink struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	// mu orders Emit's send against Close so every record queued before
	// Close is drained by the worker.
	mu      sync.RWMutex
	stopped bool
	queue   chan AuditRecord
	closed  chan struct{}
	wg      sync.WaitGroup
}

// NewAuditSink starts a sink writing to db.
func NewAuditSink(db *gorm.DB, logger *slog.Logger) *AuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	sink := &AuditSink{
		db:     db,
		logger: logger,
		now:    time.Now,
		queue:  make(chan AuditRecord, 1024),
		closed: make(chan struct{}),
	}
	sink.wg.Add(1)
	go sink.worker()
	return sink
}

// Emit implements events.Emitter.
func (s *AuditSink) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	record := events.ToRecord(evt)
	attrs, err := json.Marshal(record.Attributes)
	if err != nil {
		s.drop(record.Type, err)
		return
	}
	entry := AuditRecord{
		ID:         uuid.New(),
		Type:       record.Type,
		Campaign:   record.Attributes["campaign"],
		Attributes: string(attrs),
		CreatedAt:  s.now().UTC(),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.drop(record.Type, fmt.Errorf("audit sink closed"))
		return
	}
	select {
	case s.queue <- entry:
	default:
		s.drop(record.Type, fmt.Errorf("audit queue full"))
	}
}

// Close stops accepting events and waits until queued records are written.
func (s *AuditSink) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.closed)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Recent returns up to limit records, newest first, optionally filtered by
// campaign.
func (s *AuditSink) Recent(ctx context.Context, campaign string, limit int) ([]AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if campaign != "" {
		query = query.Where("campaign = ?", campaign)
	}
	var records []AuditRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *AuditSink) worker() {
	defer s.wg.Done()
	for {
		select {
		case entry := <-s.queue:
			s.write(entry)
		case <-s.closed:
			for {
				select {
				case entry := <-s.queue:
					s.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *AuditSink) write(entry AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.drop(entry.Type, err)
	}
}

func (s *AuditSink) drop(eventType string, err error) {
	observability.Events().RecordAuditDrop()
	s.logger.Error("audit event dropped", slog.String("type", eventType), slog.Any("error", err))
}
