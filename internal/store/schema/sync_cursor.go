package schema

import (
	"time"

	"github.com/landgrid/registry/internal/domain"
)

// SyncCursor represents the sync_cursors table - one row per (chain, contract)
// recording how far ingestion has progressed
type SyncCursor struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Chain identifies the ledger network
	Chain domain.Chain `gorm:"column:chain;not null;type:text;uniqueIndex:uq_sync_cursors_chain_contract,priority:1"`
	// ContractAddress is the registry contract being followed
	ContractAddress string `gorm:"column:contract_address;not null;type:text;uniqueIndex:uq_sync_cursors_chain_contract,priority:2"`
	// LastBlock is the highest block whose events are all persisted and projected
	LastBlock uint64 `gorm:"column:last_block;not null;default:0"`
	// IsSyncing indicates a sync cycle is currently running
	IsSyncing bool `gorm:"column:is_syncing;not null;default:false"`
	// LastSyncAt is when the last cycle completed
	LastSyncAt *time.Time `gorm:"column:last_sync_at;type:timestamptz"`
	// LastError records the most recent cycle failure, if any
	LastError *string `gorm:"column:last_error;type:text"`
	// EventsIngested counts events persisted over the cursor's lifetime
	EventsIngested uint64 `gorm:"column:events_ingested;not null;default:0"`
	// ErrorsTotal counts failed cycles over the cursor's lifetime
	ErrorsTotal uint64 `gorm:"column:errors_total;not null;default:0"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the SyncCursor model
func (SyncCursor) TableName() string {
	return "sync_cursors"
}
