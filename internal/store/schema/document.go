package schema

import "time"

// Document represents the documents table - metadata for content stored in the
// content-addressable gateway
type Document struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// PropertyID references the property this document belongs to, if anchored
	PropertyID *uint64 `gorm:"column:property_id;index:idx_documents_property"`
	// ContentRef is the content-addressable reference returned by the gateway
	ContentRef string `gorm:"column:content_ref;not null;type:text;uniqueIndex:uq_documents_content_ref"`
	// ContentHash is the sha256 hex digest of the plaintext content
	ContentHash string `gorm:"column:content_hash;not null;type:text;uniqueIndex:uq_documents_content_hash"`
	// FileName is the original upload name
	FileName string `gorm:"column:file_name;not null;type:text"`
	// MimeType is the detected content type
	MimeType string `gorm:"column:mime_type;not null;type:text"`
	// SizeBytes is the plaintext size
	SizeBytes int64 `gorm:"column:size_bytes;not null"`
	// Encrypted indicates the stored bytes are AES-GCM sealed
	Encrypted bool `gorm:"column:encrypted;not null;default:false"`
	// UploaderAddress is the ledger address of the uploader
	UploaderAddress string `gorm:"column:uploader_address;not null;type:text;index:idx_documents_uploader"`
	// Public grants view access to any requester
	Public bool `gorm:"column:public;not null;default:false"`
	// Verified mirrors the on-ledger attestation of the anchored deed
	Verified bool `gorm:"column:verified;not null;default:false"`
	// DownloadCount tracks successful retrievals
	DownloadCount uint64 `gorm:"column:download_count;not null;default:0"`
	// Discarded marks a compensated upload; the row is kept for audit
	Discarded bool `gorm:"column:discarded;not null;default:false"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	Grants []DocumentAccessGrant `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Document model
func (Document) TableName() string {
	return "documents"
}
