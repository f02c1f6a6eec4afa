package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/observability"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Record is the persisted form of an engine event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq        int64     `gorm:"uniqueIndex"`
	Type       string    `gorm:"index"`
	Account    string    `gorm:"index"`
	Attributes string    `gorm:"not null"`
	CreatedAt  time.Time
}

// Entry is an event as returned by queries.
type Entry struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Query filters journal reads. Zero values match everything.
type Query struct {
	Account string
	Type    string
	Limit   int
}

// Journal appends engine events to a sqlite database and serves them back
// newest first.
type Journal struct {
	db     *gorm.DB
	mu     sync.Mutex
	seq    int64
	logger *slog.Logger
	now    func() time.Time
}

var _ lending.Emitter = (*Journal)(nil)

// Open connects to the sqlite database at dsn and migrates the schema. An
// empty dsn opens a private in-memory database.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		trimmed = fmt.Sprintf("file:journal-%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	j := &Journal{db: db, logger: slog.Default(), now: time.Now}
	var last int64
	if err := db.Model(&Record{}).Select("COALESCE(MAX(seq), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("load journal sequence: %w", err)
	}
	j.seq = last
	return j, nil
}

// SetLogger replaces the logger used to report write failures.
func (j *Journal) SetLogger(logger *slog.Logger) {
	if j == nil || logger == nil {
		return
	}
	j.logger = logger
}

// Emit implements lending.Emitter. Write failures are logged and counted but
// never surface to the engine.
func (j *Journal) Emit(ev lending.Event) {
	if _, err := j.Append(context.Background(), ev); err != nil {
		observability.Events().RecordDropped()
		j.logger.Warn("journal write failed",
			slog.String("type", ev.Type),
			slog.Any("error", err))
		return
	}
	observability.Events().Record(ev.Type)
}

// Append stores ev and returns its journal entry.
func (j *Journal) Append(ctx context.Context, ev lending.Event) (Entry, error) {
	if j == nil || j.db == nil {
		return Entry{}, errors.New("journal not configured")
	}
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return Entry{}, fmt.Errorf("encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	record := Record{
		ID:         uuid.New(),
		Seq:        j.seq + 1,
		Type:       ev.Type,
		Account:    strings.ToLower(ev.Attributes["account"]),
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Entry{}, fmt.Errorf("insert event: %w", err)
	}
	j.seq = record.Seq
	return toEntry(record)
}

// Events returns entries matching q, newest first.
func (j *Journal) Events(ctx context.Context, q Query) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("journal not configured")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	tx := j.db.WithContext(ctx).Model(&Record{})
	if account := strings.TrimSpace(q.Account); account != "" {
		tx = tx.Where("account = ?", strings.ToLower(account))
	}
	if typ := strings.TrimSpace(q.Type); typ != "" {
		tx = tx.Where("type = ?", typ)
	}
	var records []Record
	if err := tx.Order("seq DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	entries := make([]Entry, 0, len(records))
	for _, record := range records {
		entry, err := toEntry(record)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close releases the database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toEntry(record Record) (Entry, error) {
	attrs := map[string]string{}
	if err := json.Unmarshal([]byte(record.Attributes), &attrs); err != nil {
		return Entry{}, fmt.Errorf("decode event %s: %w", record.ID, err)
	}
	return Entry{
		ID:         record.ID.String(),
		Seq:        record.Seq,
		Type:       record.Type,
		Attributes: attrs,
		CreatedAt:  record.CreatedAt,
	}, nil
}
