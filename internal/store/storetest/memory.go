// Package storetest provides an in-memory Store implementation for tests.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/store"
	"github.com/landgrid/registry/internal/store/schema"
)

// MemoryStore is a concurrency-safe in-memory store.Store
type MemoryStore struct {
	mu sync.Mutex

	nextPropertyID uint64
	nextEventID    uint64
	nextDocumentID uint64
	nextGrantID    uint64

	Properties []*schema.Property
	Events     []*schema.LedgerEvent
	Cursors    []*schema.SyncCursor
	Documents  []*schema.Document
	Grants     []*schema.DocumentAccessGrant

	// FailUpsertProperty forces UpsertProperty to return this error
	FailUpsertProperty error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ store.Store = (*MemoryStore)(nil)

func (m *MemoryStore) UpsertProperty(_ context.Context, property *schema.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpsertProperty != nil {
		return m.FailUpsertProperty
	}
	for _, p := range m.Properties {
		if p.Location == property.Location &&
			(p.Chain != property.Chain || p.LedgerID != property.LedgerID) {
			return domain.ErrDuplicateRegistration
		}
	}
	for _, p := range m.Properties {
		if p.Chain == property.Chain && p.LedgerID == property.LedgerID {
			p.Location = property.Location
			p.Coordinates = property.Coordinates
			p.AreaSqMeters = property.AreaSqMeters
			p.Value = property.Value
			p.PropertyType = property.PropertyType
			p.Status = property.Status
			p.OwnerAddress = property.OwnerAddress
			p.RegistrarAddress = property.RegistrarAddress
			p.Verified = property.Verified
			p.DocumentHash = property.DocumentHash
			p.TokenURI = property.TokenURI
			p.RegistrationTxHash = property.RegistrationTxHash
			p.UpdatedAt = time.Now()
			property.ID = p.ID
			return nil
		}
	}
	m.nextPropertyID++
	property.ID = m.nextPropertyID
	cp := *property
	m.Properties = append(m.Properties, &cp)
	return nil
}

func (m *MemoryStore) GetPropertyByLedgerID(_ context.Context, chain domain.Chain, ledgerID uint64) (*schema.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Properties {
		if p.Chain == chain && p.LedgerID == ledgerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetPropertyByLocation(_ context.Context, location string) (*schema.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Properties {
		if p.Location == location {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetPropertiesByOwner(_ context.Context, chain domain.Chain, owner string) ([]*schema.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Property
	for _, p := range m.Properties {
		if p.Chain == chain && p.OwnerAddress == owner {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateProperty(_ context.Context, chain domain.Chain, ledgerID uint64, update store.PropertyUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Properties {
		if p.Chain == chain && p.LedgerID == ledgerID {
			if update.OwnerAddress != nil {
				p.OwnerAddress = *update.OwnerAddress
			}
			if update.Status != nil {
				p.Status = *update.Status
			}
			if update.Value != nil {
				p.Value = *update.Value
			}
			if update.Verified != nil {
				p.Verified = *update.Verified
			}
			if update.DocumentHash != nil {
				p.DocumentHash = update.DocumentHash
			}
			p.UpdatedAt = time.Now()
			return nil
		}
	}
	return domain.ErrPropertyNotFound
}

func (m *MemoryStore) InsertLedgerEvent(_ context.Context, event *schema.LedgerEvent) (*schema.LedgerEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Events {
		if e.TxHash == event.TxHash && e.LogIndex == event.LogIndex {
			cp := *e
			return &cp, false, nil
		}
	}
	m.nextEventID++
	event.ID = m.nextEventID
	cp := *event
	m.Events = append(m.Events, &cp)
	out := cp
	return &out, true, nil
}

func (m *MemoryStore) MarkEventProcessed(_ context.Context, eventID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Events {
		if e.ID == eventID {
			now := time.Now()
			e.Processed = true
			e.ProcessError = nil
			e.ProcessedAt = &now
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) MarkEventFailed(_ context.Context, eventID uint64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Events {
		if e.ID == eventID {
			r := reason
			e.ProcessError = &r
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) GetUnprocessedEvents(_ context.Context, chain domain.Chain, limit int) ([]*schema.LedgerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.LedgerEvent
	for _, e := range m.Events {
		if e.Chain == chain && !e.Processed {
			cp := *e
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) GetSyncCursor(_ context.Context, chain domain.Chain, contract string) (*schema.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Cursors {
		if c.Chain == chain && c.ContractAddress == contract {
			cp := *c
			return &cp, nil
		}
	}
	cursor := &schema.SyncCursor{
		ID:              uint64(len(m.Cursors) + 1),
		Chain:           chain,
		ContractAddress: contract,
	}
	m.Cursors = append(m.Cursors, cursor)
	cp := *cursor
	return &cp, nil
}

func (m *MemoryStore) AdvanceSyncCursor(_ context.Context, chain domain.Chain, contract string, block uint64, ingested uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Cursors {
		if c.Chain == chain && c.ContractAddress == contract {
			if c.LastBlock <= block {
				c.LastBlock = block
				now := time.Now()
				c.LastSyncAt = &now
				c.EventsIngested += ingested
			}
			return nil
		}
	}
	now := time.Now()
	m.Cursors = append(m.Cursors, &schema.SyncCursor{
		Chain:           chain,
		ContractAddress: contract,
		LastBlock:       block,
		LastSyncAt:      &now,
		EventsIngested:  ingested,
	})
	return nil
}

func (m *MemoryStore) SetSyncState(_ context.Context, chain domain.Chain, contract string, syncing bool, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Cursors {
		if c.Chain == chain && c.ContractAddress == contract {
			c.IsSyncing = syncing
			c.LastError = lastError
			if lastError != nil {
				c.ErrorsTotal++
			}
			return nil
		}
	}
	cursor := &schema.SyncCursor{
		Chain:           chain,
		ContractAddress: contract,
		IsSyncing:       syncing,
		LastError:       lastError,
	}
	if lastError != nil {
		cursor.ErrorsTotal = 1
	}
	m.Cursors = append(m.Cursors, cursor)
	return nil
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc *schema.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Documents {
		if d.ContentHash == doc.ContentHash {
			return domain.ErrDuplicateDocument
		}
		if d.ContentRef == doc.ContentRef {
			return domain.ErrDuplicateDocument
		}
	}
	m.nextDocumentID++
	doc.ID = m.nextDocumentID
	doc.CreatedAt = time.Now()
	cp := *doc
	m.Documents = append(m.Documents, &cp)
	return nil
}

func (m *MemoryStore) ReviveDocument(_ context.Context, doc *schema.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Documents {
		if d.ID == doc.ID && d.Discarded {
			d.ContentRef = doc.ContentRef
			d.FileName = doc.FileName
			d.MimeType = doc.MimeType
			d.SizeBytes = doc.SizeBytes
			d.Encrypted = doc.Encrypted
			d.UploaderAddress = doc.UploaderAddress
			d.Public = doc.Public
			d.PropertyID = nil
			d.Discarded = false
			d.UpdatedAt = time.Now()
			return nil
		}
	}
	return domain.ErrDocumentNotFound
}

func (m *MemoryStore) GetDocumentByRef(_ context.Context, contentRef string) (*schema.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Documents {
		if d.ContentRef == contentRef {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetDocumentByHash(_ context.Context, contentHash string) (*schema.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Documents {
		if d.ContentHash == contentHash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetDocumentsByProperty(_ context.Context, propertyID uint64) ([]*schema.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Document
	for _, d := range m.Documents {
		if d.PropertyID != nil && *d.PropertyID == propertyID && !d.Discarded {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) AnchorDocument(_ context.Context, documentID uint64, propertyID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Documents {
		if d.ID == documentID {
			pid := propertyID
			d.PropertyID = &pid
			return nil
		}
	}
	return domain.ErrDocumentNotFound
}

func (m *MemoryStore) DiscardDocument(_ context.Context, documentID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Documents {
		if d.ID == documentID {
			d.Discarded = true
			return nil
		}
	}
	return domain.ErrDocumentNotFound
}

func (m *MemoryStore) IncrementDownloadCount(_ context.Context, documentID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Documents {
		if d.ID == documentID {
			d.DownloadCount++
			return nil
		}
	}
	return domain.ErrDocumentNotFound
}

func (m *MemoryStore) SetDocumentVerified(_ context.Context, documentID uint64, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Documents {
		if d.ID == documentID {
			d.Verified = verified
			return nil
		}
	}
	return domain.ErrDocumentNotFound
}

func (m *MemoryStore) GetOrphanedDocuments(_ context.Context, olderThan time.Time) ([]*schema.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Document
	for _, d := range m.Documents {
		if d.PropertyID == nil && !d.Discarded && d.CreatedAt.Before(olderThan) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertGrant(_ context.Context, grant *schema.DocumentAccessGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.Grants {
		if g.DocumentID == grant.DocumentID && g.GranteeAddress == grant.GranteeAddress {
			if g.Revoked {
				return nil
			}
			g.Permission = grant.Permission
			g.GrantedBy = grant.GrantedBy
			g.ValidFrom = grant.ValidFrom
			g.ExpiresAt = grant.ExpiresAt
			g.UpdatedAt = time.Now()
			return nil
		}
	}
	m.nextGrantID++
	grant.ID = m.nextGrantID
	cp := *grant
	m.Grants = append(m.Grants, &cp)
	return nil
}

func (m *MemoryStore) GetGrant(_ context.Context, documentID uint64, grantee string) (*schema.DocumentAccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.Grants {
		if g.DocumentID == documentID && g.GranteeAddress == grantee {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) RevokeGrant(_ context.Context, documentID uint64, grantee, revokedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.Grants {
		if g.DocumentID == documentID && g.GranteeAddress == grantee {
			now := time.Now()
			by := revokedBy
			g.Revoked = true
			g.RevokedAt = &now
			g.RevokedBy = &by
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) PurgeExpiredGrants(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*schema.DocumentAccessGrant
	var purged int64
	for _, g := range m.Grants {
		if g.ExpiresAt != nil && g.ExpiresAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, g)
	}
	m.Grants = kept
	return purged, nil
}
