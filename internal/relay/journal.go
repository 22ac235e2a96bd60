package relay

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// JournalEntry is one relayed event. Seq is assigned by the database and is
// the value clients resume from.
type JournalEntry struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"index;not null"`
	Payload   []byte `gorm:"not null"`
	UserID    string `gorm:"index"`
	CreatedAt time.Time
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}

// Journal is the durable, ordered log of relayed events.
type Journal struct {
	db *gorm.DB
}

// OpenJournal opens the SQLite database at dsn and migrates it. ":memory:"
// gives a private in-memory journal.
func OpenJournal(dsn string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: open journal: %w", err)
	}

	// Every pooled connection to ":memory:" would see its own empty
	// database, and SQLite serializes writers anyway.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("relay: open journal: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&JournalEntry{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("relay: migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append stores an event and returns it with its sequence number.
func (j *Journal) Append(ctx context.Context, name string, payload []byte, userID string) (JournalEntry, error) {
	entry := JournalEntry{Name: name, Payload: payload, UserID: userID}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return JournalEntry{}, fmt.Errorf("relay: append %s: %w", name, err)
	}
	return entry, nil
}

// Since returns up to limit entries after seq, oldest first.
func (j *Journal) Since(ctx context.Context, seq int64, limit int) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := j.db.WithContext(ctx).
		Where("seq > ?", seq).
		Order("seq asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("relay: read journal: %w", err)
	}
	return entries, nil
}

// LastSeq returns the highest sequence number, or 0 for an empty journal.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := j.db.WithContext(ctx).Model(&JournalEntry{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("relay: read journal: %w", err)
	}
	return seq, nil
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
