package sink

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// writeBatchSize bounds the VALUES list per INSERT statement inside the
// transaction; all batches still commit together.
const writeBatchSize = 1000

// Row is one flattened key-value pair replicated from a metric document.
// (SourceID, Key) is the idempotency key: replaying a document is a no-op
// for rows that already exist.
type Row struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	SourceID  string    `gorm:"column:source_oid;not null;uniqueIndex:ux_metrics_kv_source_key,priority:1"`
	Publisher string    `gorm:"column:publisher_email;not null;index:ix_metrics_kv_email_ts,priority:1"`
	Timestamp time.Time `gorm:"column:ts;not null;index:ix_metrics_kv_email_ts,priority:2"`
	Key       string    `gorm:"column:key;not null;uniqueIndex:ux_metrics_kv_source_key,priority:2;index:ix_metrics_kv_key"`

	// Exactly one value slot is populated, chosen at flatten time.
	ValueText    *string  `gorm:"column:value_text"`
	ValueNumeric *float64 `gorm:"column:value_numeric"`
	ValueJSON    []byte   `gorm:"column:value_json;type:jsonb"`
}

// TableName keeps the table the query API already reads from.
func (Row) TableName() string { return "metrics_kv" }

// Sink is the write side of the relational store.
type Sink interface {
	// EnsureSchema idempotently creates the row table and its indexes.
	EnsureSchema(ctx context.Context) error

	// WriteRows inserts all rows in a single transaction with conflict-skip
	// on (SourceID, Key). Either every row is attempted and the transaction
	// commits, or it rolls back entirely.
	WriteRows(ctx context.Context, rows []Row) error

	Close() error
}

// DB implements Sink on a GORM connection. The connection is passed in
// explicitly; its lifecycle belongs to the process entry point.
type DB struct {
	db *gorm.DB
}

// New wraps an existing GORM connection.
func New(db *gorm.DB) *DB {
	return &DB{db: db}
}

// Open connects to PostgreSQL with the given DSN.
func Open(dsn string) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sink database: %w", err)
	}
	return &DB{db: db}, nil
}

// EnsureSchema creates the metrics_kv table, the (source_oid, key) unique
// constraint and the two supporting indexes if they do not exist yet.
func (s *DB) EnsureSchema(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Row{}); err != nil {
		return fmt.Errorf("failed to ensure sink schema: %w", err)
	}
	return nil
}

// WriteRows writes the batch in one transaction. Rows whose (SourceID, Key)
// already exists are silently skipped, never overwritten; replication is
// append-only and safe under at-least-once delivery.
func (s *DB) WriteRows(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_oid"}, {Name: "key"}},
			DoNothing: true,
		}).CreateInBatches(&rows, writeBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *DB) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
