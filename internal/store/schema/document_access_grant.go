package schema

import (
	"time"

	"github.com/landgrid/registry/internal/domain"
)

// DocumentAccessGrant represents the document_access_grants table - a
// per-address permission on a document, optionally time-bounded
type DocumentAccessGrant struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// DocumentID references the granted document
	DocumentID uint64 `gorm:"column:document_id;not null;uniqueIndex:uq_grants_document_grantee,priority:1"`
	// GranteeAddress is the address receiving access
	GranteeAddress string `gorm:"column:grantee_address;not null;type:text;uniqueIndex:uq_grants_document_grantee,priority:2"`
	// Permission is the granted capability
	Permission domain.Permission `gorm:"column:permission;not null;type:text"`
	// GrantedBy is the address that issued the grant
	GrantedBy string `gorm:"column:granted_by;not null;type:text"`
	// ValidFrom defers the grant; nil means effective immediately
	ValidFrom *time.Time `gorm:"column:valid_from;type:timestamptz"`
	// ExpiresAt bounds the grant in time; nil means no expiry
	ExpiresAt *time.Time `gorm:"column:expires_at;type:timestamptz"`
	// Revoked disables the grant; revocation is one-way
	Revoked bool `gorm:"column:revoked;not null;default:false"`
	// RevokedAt records when the grant was revoked
	RevokedAt *time.Time `gorm:"column:revoked_at;type:timestamptz"`
	// RevokedBy records the address that revoked the grant
	RevokedBy *string `gorm:"column:revoked_by;type:text"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	Document Document `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the DocumentAccessGrant model
func (DocumentAccessGrant) TableName() string {
	return "document_access_grants"
}
