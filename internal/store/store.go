package store

import (
	"context"
	"time"

	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/store/schema"
)

// PropertyUpdate carries the mutable columns of a property projection.
// Nil fields are left untouched.
type PropertyUpdate struct {
	OwnerAddress *string
	Status       *domain.PropertyStatus
	Value        *string
	Verified     *bool
	DocumentHash *string
}

// Store defines the interface for database operations. Tests double it with
// storetest.MemoryStore rather than a generated mock.
type Store interface {
	// UpsertProperty inserts or updates a property keyed by (chain, ledger_id).
	// Returns domain.ErrDuplicateRegistration when the location is held by a
	// different parcel.
	UpsertProperty(ctx context.Context, property *schema.Property) error
	// GetPropertyByLedgerID retrieves a property by its on-ledger identifier
	GetPropertyByLedgerID(ctx context.Context, chain domain.Chain, ledgerID uint64) (*schema.Property, error)
	// GetPropertyByLocation retrieves a property by its location business key
	GetPropertyByLocation(ctx context.Context, location string) (*schema.Property, error)
	// GetPropertiesByOwner retrieves all properties held by an address
	GetPropertiesByOwner(ctx context.Context, chain domain.Chain, owner string) ([]*schema.Property, error)
	// UpdateProperty applies the non-nil fields of update to a property
	UpdateProperty(ctx context.Context, chain domain.Chain, ledgerID uint64, update PropertyUpdate) error

	// InsertLedgerEvent persists an observed event. The returned bool is false
	// when a row with the same (tx_hash, log_index) already existed, in which
	// case the existing row is returned instead.
	InsertLedgerEvent(ctx context.Context, event *schema.LedgerEvent) (*schema.LedgerEvent, bool, error)
	// MarkEventProcessed flags an event as projected into the cache
	MarkEventProcessed(ctx context.Context, eventID uint64) error
	// MarkEventFailed records a projection failure on an event
	MarkEventFailed(ctx context.Context, eventID uint64, reason string) error
	// GetUnprocessedEvents retrieves persisted events that still need projection,
	// ordered by block number then log index
	GetUnprocessedEvents(ctx context.Context, chain domain.Chain, limit int) ([]*schema.LedgerEvent, error)

	// GetSyncCursor retrieves the cursor for a (chain, contract) pair, creating
	// a zero cursor when none exists
	GetSyncCursor(ctx context.Context, chain domain.Chain, contract string) (*schema.SyncCursor, error)
	// AdvanceSyncCursor moves the cursor forward to block. Moves backward are
	// ignored so the cursor stays monotonic.
	AdvanceSyncCursor(ctx context.Context, chain domain.Chain, contract string, block uint64, ingested uint64) error
	// SetSyncState records whether a cycle is running and its last error
	SetSyncState(ctx context.Context, chain domain.Chain, contract string, syncing bool, lastError *string) error

	// CreateDocument inserts a document row. Returns domain.ErrDuplicateDocument
	// when a document with the same content hash already exists.
	CreateDocument(ctx context.Context, doc *schema.Document) error
	// ReviveDocument reactivates a discarded row in place for a re-upload of
	// the same content, replacing its reference and metadata
	ReviveDocument(ctx context.Context, doc *schema.Document) error
	// GetDocumentByRef retrieves a document by its content reference
	GetDocumentByRef(ctx context.Context, contentRef string) (*schema.Document, error)
	// GetDocumentByHash retrieves a document by its content hash
	GetDocumentByHash(ctx context.Context, contentHash string) (*schema.Document, error)
	// GetDocumentsByProperty retrieves all non-discarded documents for a property
	GetDocumentsByProperty(ctx context.Context, propertyID uint64) ([]*schema.Document, error)
	// AnchorDocument attaches a document to a property projection
	AnchorDocument(ctx context.Context, documentID uint64, propertyID uint64) error
	// DiscardDocument marks a document as compensated
	DiscardDocument(ctx context.Context, documentID uint64) error
	// IncrementDownloadCount bumps the retrieval counter
	IncrementDownloadCount(ctx context.Context, documentID uint64) error
	// SetDocumentVerified records the deed attestation on a document
	SetDocumentVerified(ctx context.Context, documentID uint64, verified bool) error
	// GetOrphanedDocuments retrieves documents pinned before olderThan that
	// were never anchored to a property and never discarded
	GetOrphanedDocuments(ctx context.Context, olderThan time.Time) ([]*schema.Document, error)

	// UpsertGrant creates or refreshes a grant keyed by (document, grantee)
	UpsertGrant(ctx context.Context, grant *schema.DocumentAccessGrant) error
	// GetGrant retrieves the grant for a (document, grantee) pair
	GetGrant(ctx context.Context, documentID uint64, grantee string) (*schema.DocumentAccessGrant, error)
	// RevokeGrant disables a grant, recording who revoked it and when;
	// revocation cannot be undone
	RevokeGrant(ctx context.Context, documentID uint64, grantee, revokedBy string) error
	// PurgeExpiredGrants deletes grants expired before the given time
	PurgeExpiredGrants(ctx context.Context, before time.Time) (int64, error)
}
