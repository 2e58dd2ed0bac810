package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/landgrid/registry/internal/domain"
)

// LedgerEvent represents the ledger_events table - the append-only record of
// contract events observed by the reconciliation engine
type LedgerEvent struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Chain identifies the ledger network where this event occurred
	Chain domain.Chain `gorm:"column:chain;not null;type:text"`
	// EventType identifies the contract event
	EventType domain.EventType `gorm:"column:event_type;not null;type:text"`
	// PropertyLedgerID is the parcel identifier carried by the event
	PropertyLedgerID uint64 `gorm:"column:property_ledger_id;not null;index:idx_ledger_events_property"`
	// TxHash is the transaction hash that emitted this event
	TxHash string `gorm:"column:tx_hash;not null;type:text;uniqueIndex:uq_ledger_events_tx_log,priority:1"`
	// LogIndex is the position of the log within the transaction's block
	LogIndex uint `gorm:"column:log_index;not null;uniqueIndex:uq_ledger_events_tx_log,priority:2"`
	// BlockNumber is the block where this event was recorded
	BlockNumber uint64 `gorm:"column:block_number;not null;index:idx_ledger_events_block"`
	// Timestamp is the block timestamp
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	// Payload contains the decoded event fields as JSON
	Payload datatypes.JSON `gorm:"column:payload;type:jsonb"`
	// Processed indicates the event has been projected into the cache
	Processed bool `gorm:"column:processed;not null;default:false;index:idx_ledger_events_processed"`
	// ProcessError records the last projection failure, if any
	ProcessError *string `gorm:"column:process_error;type:text"`
	// ProcessedAt is the timestamp when the event was projected
	ProcessedAt *time.Time `gorm:"column:processed_at;type:timestamptz"`
	// CreatedAt is the timestamp when this record was ingested
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the LedgerEvent model
func (LedgerEvent) TableName() string {
	return "ledger_events"
}
