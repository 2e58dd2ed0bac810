package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings
// into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 1 hour
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (int, int, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = time.Hour
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime
}

// AutoMigrate creates or updates the cache tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Property{},
		&schema.LedgerEvent{},
		&schema.SyncCursor{},
		&schema.Document{},
		&schema.DocumentAccessGrant{},
	)
}

// UpsertProperty inserts or updates a property keyed by (chain, ledger_id).
// A conflict on the location index means a different parcel holds the key.
func (s *pgStore) UpsertProperty(ctx context.Context, property *schema.Property) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain"}, {Name: "ledger_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"location", "coordinates", "area_sq_meters", "value", "property_type",
			"status", "owner_address", "registrar_address", "verified",
			"document_hash", "token_uri", "registration_tx_hash", "updated_at",
		}),
	}).Create(property).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateRegistration
		}
		return fmt.Errorf("failed to upsert property: %w", err)
	}
	return nil
}

// GetPropertyByLedgerID retrieves a property by its on-ledger identifier
func (s *pgStore) GetPropertyByLedgerID(ctx context.Context, chain domain.Chain, ledgerID uint64) (*schema.Property, error) {
	var property schema.Property
	err := s.db.WithContext(ctx).
		Where("chain = ? AND ledger_id = ?", chain, ledgerID).
		First(&property).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return &property, nil
}

// GetPropertyByLocation retrieves a property by its location business key
func (s *pgStore) GetPropertyByLocation(ctx context.Context, location string) (*schema.Property, error) {
	var property schema.Property
	err := s.db.WithContext(ctx).
		Where("location = ?", location).
		First(&property).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return &property, nil
}

// GetPropertiesByOwner retrieves all properties held by an address
func (s *pgStore) GetPropertiesByOwner(ctx context.Context, chain domain.Chain, owner string) ([]*schema.Property, error) {
	var properties []*schema.Property
	err := s.db.WithContext(ctx).
		Where("chain = ? AND owner_address = ?", chain, owner).
		Order("ledger_id ASC").
		Find(&properties).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get properties by owner: %w", err)
	}
	return properties, nil
}

// UpdateProperty applies the non-nil fields of update to a property
func (s *pgStore) UpdateProperty(ctx context.Context, chain domain.Chain, ledgerID uint64, update PropertyUpdate) error {
	updates := map[string]interface{}{}
	if update.OwnerAddress != nil {
		updates["owner_address"] = *update.OwnerAddress
	}
	if update.Status != nil {
		updates["status"] = *update.Status
	}
	if update.Value != nil {
		updates["value"] = *update.Value
	}
	if update.Verified != nil {
		updates["verified"] = *update.Verified
	}
	if update.DocumentHash != nil {
		updates["document_hash"] = *update.DocumentHash
	}
	if len(updates) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).
		Model(&schema.Property{}).
		Where("chain = ? AND ledger_id = ?", chain, ledgerID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update property: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrPropertyNotFound
	}
	return nil
}

// InsertLedgerEvent persists an observed event, deduplicating on (tx_hash, log_index)
func (s *pgStore) InsertLedgerEvent(ctx context.Context, event *schema.LedgerEvent) (*schema.LedgerEvent, bool, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).Clauses(clause.Returning{Columns: []clause.Column{}}).
		Create(event).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert ledger event: %w", err)
	}

	// If event.ID is 0 the row already existed; fetch it so callers can
	// inspect its processed flag
	if event.ID == 0 {
		var existing schema.LedgerEvent
		if err := s.db.WithContext(ctx).
			Where("tx_hash = ? AND log_index = ?", event.TxHash, event.LogIndex).
			First(&existing).Error; err != nil {
			return nil, false, fmt.Errorf("failed to fetch existing ledger event: %w", err)
		}
		return &existing, false, nil
	}
	return event, true, nil
}

// MarkEventProcessed flags an event as projected into the cache
func (s *pgStore) MarkEventProcessed(ctx context.Context, eventID uint64) error {
	err := s.db.WithContext(ctx).
		Model(&schema.LedgerEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"processed":     true,
			"process_error": nil,
			"processed_at":  time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// MarkEventFailed records a projection failure on an event
func (s *pgStore) MarkEventFailed(ctx context.Context, eventID uint64, reason string) error {
	err := s.db.WithContext(ctx).
		Model(&schema.LedgerEvent{}).
		Where("id = ?", eventID).
		Update("process_error", reason).Error
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

// GetUnprocessedEvents retrieves persisted events that still need projection
func (s *pgStore) GetUnprocessedEvents(ctx context.Context, chain domain.Chain, limit int) ([]*schema.LedgerEvent, error) {
	var events []*schema.LedgerEvent
	err := s.db.WithContext(ctx).
		Where("chain = ? AND processed = ?", chain, false).
		Order("block_number ASC, log_index ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get unprocessed events: %w", err)
	}
	return events, nil
}

// GetSyncCursor retrieves the cursor for a (chain, contract) pair
func (s *pgStore) GetSyncCursor(ctx context.Context, chain domain.Chain, contract string) (*schema.SyncCursor, error) {
	var cursor schema.SyncCursor
	err := s.db.WithContext(ctx).
		Where("chain = ? AND contract_address = ?", chain, contract).
		First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cursor = schema.SyncCursor{Chain: chain, ContractAddress: contract}
			if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "chain"}, {Name: "contract_address"}},
				DoNothing: true,
			}).Create(&cursor).Error; err != nil {
				return nil, fmt.Errorf("failed to create sync cursor: %w", err)
			}
			return &cursor, nil
		}
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return &cursor, nil
}

// AdvanceSyncCursor moves the cursor forward to block, never backward
func (s *pgStore) AdvanceSyncCursor(ctx context.Context, chain domain.Chain, contract string, block uint64, ingested uint64) error {
	now := time.Now()
	err := s.db.WithContext(ctx).
		Model(&schema.SyncCursor{}).
		Where("chain = ? AND contract_address = ? AND last_block <= ?", chain, contract, block).
		Updates(map[string]interface{}{
			"last_block":      block,
			"last_sync_at":    now,
			"events_ingested": gorm.Expr("events_ingested + ?", ingested),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	return nil
}

// SetSyncState records whether a cycle is running and its last error
func (s *pgStore) SetSyncState(ctx context.Context, chain domain.Chain, contract string, syncing bool, lastError *string) error {
	updates := map[string]interface{}{
		"is_syncing": syncing,
		"last_error": lastError,
	}
	if lastError != nil {
		updates["errors_total"] = gorm.Expr("errors_total + 1")
	}
	err := s.db.WithContext(ctx).
		Model(&schema.SyncCursor{}).
		Where("chain = ? AND contract_address = ?", chain, contract).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to set sync state: %w", err)
	}
	return nil
}

// CreateDocument inserts a document row
func (s *pgStore) CreateDocument(ctx context.Context, doc *schema.Document) error {
	err := s.db.WithContext(ctx).Create(doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateDocument
		}
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// ReviveDocument reactivates a discarded row for a re-upload of the same
// content. The row is matched by id and must still be discarded.
func (s *pgStore) ReviveDocument(ctx context.Context, doc *schema.Document) error {
	result := s.db.WithContext(ctx).
		Model(&schema.Document{}).
		Where("id = ? AND discarded = ?", doc.ID, true).
		Updates(map[string]interface{}{
			"content_ref":      doc.ContentRef,
			"file_name":        doc.FileName,
			"mime_type":        doc.MimeType,
			"size_bytes":       doc.SizeBytes,
			"encrypted":        doc.Encrypted,
			"uploader_address": doc.UploaderAddress,
			"public":           doc.Public,
			"property_id":      nil,
			"discarded":        false,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to revive document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// GetDocumentByRef retrieves a document by its content reference
func (s *pgStore) GetDocumentByRef(ctx context.Context, contentRef string) (*schema.Document, error) {
	var doc schema.Document
	err := s.db.WithContext(ctx).
		Where("content_ref = ?", contentRef).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// GetDocumentByHash retrieves a document by its content hash
func (s *pgStore) GetDocumentByHash(ctx context.Context, contentHash string) (*schema.Document, error) {
	var doc schema.Document
	err := s.db.WithContext(ctx).
		Where("content_hash = ?", contentHash).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// GetDocumentsByProperty retrieves all non-discarded documents for a property
func (s *pgStore) GetDocumentsByProperty(ctx context.Context, propertyID uint64) ([]*schema.Document, error) {
	var docs []*schema.Document
	err := s.db.WithContext(ctx).
		Where("property_id = ? AND discarded = ?", propertyID, false).
		Order("created_at ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get documents by property: %w", err)
	}
	return docs, nil
}

// AnchorDocument attaches a document to a property projection
func (s *pgStore) AnchorDocument(ctx context.Context, documentID uint64, propertyID uint64) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Document{}).
		Where("id = ?", documentID).
		Update("property_id", propertyID).Error
	if err != nil {
		return fmt.Errorf("failed to anchor document: %w", err)
	}
	return nil
}

// DiscardDocument marks a document as compensated
func (s *pgStore) DiscardDocument(ctx context.Context, documentID uint64) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Document{}).
		Where("id = ?", documentID).
		Update("discarded", true).Error
	if err != nil {
		return fmt.Errorf("failed to discard document: %w", err)
	}
	return nil
}

// IncrementDownloadCount bumps the retrieval counter
func (s *pgStore) IncrementDownloadCount(ctx context.Context, documentID uint64) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Document{}).
		Where("id = ?", documentID).
		Update("download_count", gorm.Expr("download_count + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	return nil
}

// SetDocumentVerified records the deed attestation on a document
func (s *pgStore) SetDocumentVerified(ctx context.Context, documentID uint64, verified bool) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Document{}).
		Where("id = ?", documentID).
		Update("verified", verified).Error
	if err != nil {
		return fmt.Errorf("failed to set document verified: %w", err)
	}
	return nil
}

// GetOrphanedDocuments retrieves documents pinned before olderThan that were
// never anchored to a property and never discarded
func (s *pgStore) GetOrphanedDocuments(ctx context.Context, olderThan time.Time) ([]*schema.Document, error) {
	var docs []*schema.Document
	err := s.db.WithContext(ctx).
		Where("property_id IS NULL AND discarded = ? AND created_at < ?", false, olderThan).
		Order("created_at ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get orphaned documents: %w", err)
	}
	return docs, nil
}

// UpsertGrant creates or refreshes a grant keyed by (document, grantee).
// A revoked grant stays revoked.
func (s *pgStore) UpsertGrant(ctx context.Context, grant *schema.DocumentAccessGrant) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}, {Name: "grantee_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"permission": grant.Permission,
			"granted_by": grant.GrantedBy,
			"valid_from": grant.ValidFrom,
			"expires_at": grant.ExpiresAt,
			"updated_at": time.Now(),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "document_access_grants", Name: "revoked"}, Value: false},
		}},
	}).Create(grant).Error
	if err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

// GetGrant retrieves the grant for a (document, grantee) pair
func (s *pgStore) GetGrant(ctx context.Context, documentID uint64, grantee string) (*schema.DocumentAccessGrant, error) {
	var grant schema.DocumentAccessGrant
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND grantee_address = ?", documentID, grantee).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return &grant, nil
}

// RevokeGrant disables a grant; revocation cannot be undone
func (s *pgStore) RevokeGrant(ctx context.Context, documentID uint64, grantee, revokedBy string) error {
	err := s.db.WithContext(ctx).
		Model(&schema.DocumentAccessGrant{}).
		Where("document_id = ? AND grantee_address = ?", documentID, grantee).
		Updates(map[string]interface{}{
			"revoked":    true,
			"revoked_at": time.Now(),
			"revoked_by": revokedBy,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

// PurgeExpiredGrants deletes grants expired before the given time
func (s *pgStore) PurgeExpiredGrants(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", before).
		Delete(&schema.DocumentAccessGrant{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge expired grants: %w", result.Error)
	}
	return result.RowsAffected, nil
}
