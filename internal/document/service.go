// Package document stores parcel documents in the content-addressable gateway
// and enforces integrity and access rules over them.
package document

import (
	"context"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/contentstore"
	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/logger"
	"github.com/landgrid/registry/internal/store"
	"github.com/landgrid/registry/internal/store/schema"
)

// Config holds document layer settings
type Config struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// UploadInput describes a document upload request
type UploadInput struct {
	FileName string
	Content  []byte
	Uploader string
	Public   bool
	Encrypt  bool
}

// Service stores, retrieves, and guards documents
type Service struct {
	cfg     Config
	store   store.Store
	gateway contentstore.Gateway
	sealer  *Sealer
	clock   adapter.Clock
}

// NewService creates a document service. sealer may be nil when encryption is
// not configured; uploads requesting encryption will then fail.
func NewService(cfg Config, st store.Store, gateway contentstore.Gateway, sealer *Sealer, clock adapter.Clock) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		gateway: gateway,
		sealer:  sealer,
		clock:   clock,
	}
}

func (s *Service) validate(input UploadInput) (string, error) {
	if int64(len(input.Content)) > s.cfg.MaxFileSize {
		return "", domain.ErrFileTooLarge
	}

	mime := mimetype.Detect(input.Content)
	for _, allowed := range s.cfg.AllowedTypes {
		if mime.Is(allowed) {
			return mime.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedFileType, mime.String())
}

// Store validates, optionally encrypts, and pins a document, then records its
// metadata. The content hash is computed over the plaintext before sealing.
// Returns domain.ErrDuplicateDocument when identical content already exists.
func (s *Service) Store(ctx context.Context, input UploadInput) (*schema.Document, error) {
	mime, err := s.validate(input)
	if err != nil {
		return nil, err
	}

	contentHash := HashContent(input.Content)
	existing, err := s.store.GetDocumentByHash(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Discarded {
		return nil, domain.ErrDuplicateDocument
	}

	payload := input.Content
	if input.Encrypt {
		if s.sealer == nil {
			return nil, fmt.Errorf("encryption requested but no key configured")
		}
		payload, err = s.sealer.Seal(input.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to seal content: %w", err)
		}
	}

	ref, err := s.gateway.Pin(ctx, input.FileName, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	doc := &schema.Document{
		ContentRef:      ref,
		ContentHash:     contentHash,
		FileName:        input.FileName,
		MimeType:        mime,
		SizeBytes:       int64(len(input.Content)),
		Encrypted:       input.Encrypt,
		UploaderAddress: input.Uploader,
		Public:          input.Public,
	}

	// A discarded row still holds the unique content hash; a re-upload of
	// compensated content revives it in place instead of inserting
	record := s.store.CreateDocument
	if existing != nil {
		doc.ID = existing.ID
		record = s.store.ReviveDocument
	}
	if err := record(ctx, doc); err != nil {
		// Metadata write failed after the pin; release the pin so the
		// gateway does not accumulate unreferenced content
		if unpinErr := s.gateway.Unpin(ctx, ref); unpinErr != nil {
			logger.WarnCtx(ctx, "failed to unpin after metadata failure",
				zap.String("content_ref", ref), zap.Error(unpinErr))
		}
		return nil, err
	}

	logger.InfoCtx(ctx, "document stored",
		zap.String("content_ref", ref),
		zap.String("content_hash", contentHash),
		zap.String("mime_type", mime))
	return doc, nil
}

// Retrieve authorizes the requester, fetches the content, verifies it still
// hashes to the recorded digest, and counts the download
func (s *Service) Retrieve(ctx context.Context, contentRef, requester string) ([]byte, *schema.Document, error) {
	doc, err := s.store.GetDocumentByRef(ctx, contentRef)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil || doc.Discarded {
		return nil, nil, domain.ErrDocumentNotFound
	}

	if err := s.Authorize(ctx, doc, requester, domain.PermissionDownload); err != nil {
		return nil, nil, err
	}

	payload, err := s.gateway.Fetch(ctx, contentRef)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch content: %w", err)
	}

	content := payload
	if doc.Encrypted {
		if s.sealer == nil {
			return nil, nil, fmt.Errorf("document is encrypted but no key configured")
		}
		content, err = s.sealer.Open(payload)
		if err != nil {
			return nil, nil, err
		}
	}

	if HashContent(content) != doc.ContentHash {
		logger.ErrorCtx(ctx, domain.ErrIntegrityMismatch,
			zap.String("content_ref", contentRef))
		return nil, nil, domain.ErrIntegrityMismatch
	}

	if err := s.store.IncrementDownloadCount(ctx, doc.ID); err != nil {
		logger.WarnCtx(ctx, "failed to count download", zap.Error(err))
	}
	return content, doc, nil
}

// Authorize checks whether requester holds the permission on doc. The
// uploader always has full access; public documents grant view and download
// to anyone; otherwise an unrevoked, unexpired grant is required.
func (s *Service) Authorize(ctx context.Context, doc *schema.Document, requester string, perm domain.Permission) error {
	if requester == doc.UploaderAddress {
		return nil
	}
	if doc.Public && (perm == domain.PermissionView || perm == domain.PermissionDownload) {
		return nil
	}

	grant, err := s.store.GetGrant(ctx, doc.ID, requester)
	if err != nil {
		return err
	}
	if grant == nil || grant.Revoked {
		return domain.ErrAccessDenied
	}
	now := s.clock.Now()
	if grant.ValidFrom != nil && now.Before(*grant.ValidFrom) {
		return domain.ErrAccessDenied
	}
	if grant.ExpiresAt != nil && grant.ExpiresAt.Before(now) {
		return domain.ErrAccessDenied
	}
	if !permits(grant.Permission, perm) {
		return domain.ErrAccessDenied
	}
	return nil
}

// permits reports whether held covers requested. Share implies download,
// download implies view.
func permits(held, requested domain.Permission) bool {
	rank := map[domain.Permission]int{
		domain.PermissionView:     1,
		domain.PermissionDownload: 2,
		domain.PermissionShare:    3,
	}
	return rank[held] >= rank[requested]
}

// Grant issues or refreshes access for grantee, effective over
// [validFrom, expiresAt]; nil bounds mean immediately and forever. Only the
// uploader or a holder of share permission may grant.
func (s *Service) Grant(ctx context.Context, contentRef, granter, grantee string, perm domain.Permission, validFrom, expiresAt *time.Time) error {
	doc, err := s.store.GetDocumentByRef(ctx, contentRef)
	if err != nil {
		return err
	}
	if doc == nil || doc.Discarded {
		return domain.ErrDocumentNotFound
	}
	if err := s.Authorize(ctx, doc, granter, domain.PermissionShare); err != nil {
		return err
	}

	return s.store.UpsertGrant(ctx, &schema.DocumentAccessGrant{
		DocumentID:     doc.ID,
		GranteeAddress: grantee,
		Permission:     perm,
		GrantedBy:      granter,
		ValidFrom:      validFrom,
		ExpiresAt:      expiresAt,
	})
}

// Revoke disables a grant. Revocation is one-way; re-granting requires the
// uploader to issue a fresh grant, which UpsertGrant will refuse while the
// revoked row exists.
func (s *Service) Revoke(ctx context.Context, contentRef, revoker, grantee string) error {
	doc, err := s.store.GetDocumentByRef(ctx, contentRef)
	if err != nil {
		return err
	}
	if doc == nil {
		return domain.ErrDocumentNotFound
	}
	if err := s.Authorize(ctx, doc, revoker, domain.PermissionShare); err != nil {
		return err
	}
	return s.store.RevokeGrant(ctx, doc.ID, grantee, revoker)
}

// Discard compensates a stored document after a failed registration. The
// content is unpinned and the row is kept, marked discarded, for audit.
func (s *Service) Discard(ctx context.Context, contentRef string) error {
	doc, err := s.store.GetDocumentByRef(ctx, contentRef)
	if err != nil {
		return err
	}
	if doc == nil {
		return domain.ErrDocumentNotFound
	}

	if err := s.gateway.Unpin(ctx, contentRef); err != nil {
		logger.WarnCtx(ctx, "failed to unpin discarded document",
			zap.String("content_ref", contentRef), zap.Error(err))
	}
	return s.store.DiscardDocument(ctx, doc.ID)
}

// ReapOrphans discards documents pinned before olderThan that were never
// anchored to a property. These accumulate when a registration fails
// ambiguously and the transaction never lands. Returns the number reaped.
func (s *Service) ReapOrphans(ctx context.Context, olderThan time.Time) (int, error) {
	orphans, err := s.store.GetOrphanedDocuments(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, doc := range orphans {
		if err := s.Discard(ctx, doc.ContentRef); err != nil {
			logger.WarnCtx(ctx, "failed to reap orphaned document",
				zap.String("content_ref", doc.ContentRef), zap.Error(err))
			continue
		}
		reaped++
	}
	if reaped > 0 {
		logger.InfoCtx(ctx, "orphaned documents reaped", zap.Int("count", reaped))
	}
	return reaped, nil
}
