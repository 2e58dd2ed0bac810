package schema

import (
	"time"

	"github.com/landgrid/registry/internal/domain"
)

// Property represents the properties table - the relational projection of a
// parcel recorded on the ledger
type Property struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// LedgerID is the parcel identifier assigned by the ledger contract
	LedgerID uint64 `gorm:"column:ledger_id;not null;uniqueIndex:uq_properties_chain_ledger_id,priority:2"`
	// Chain identifies the ledger network this property is recorded on
	Chain domain.Chain `gorm:"column:chain;not null;type:text;uniqueIndex:uq_properties_chain_ledger_id,priority:1"`
	// Location is the human-readable address; unique per registry
	Location string `gorm:"column:location;not null;type:text;uniqueIndex:uq_properties_location"`
	// Coordinates holds the parcel geometry as GeoJSON text
	Coordinates string `gorm:"column:coordinates;type:text"`
	// AreaSqMeters is the surveyed parcel area
	AreaSqMeters float64 `gorm:"column:area_sq_meters;not null"`
	// Value is the declared value in wei (stored as string to support up to 78 digits)
	Value string `gorm:"column:value;type:numeric(78,0)"`
	// PropertyType classifies the parcel use
	PropertyType domain.PropertyType `gorm:"column:property_type;not null;default:0"`
	// Status is the lifecycle state mirrored from the ledger
	Status domain.PropertyStatus `gorm:"column:status;not null;default:0;index:idx_properties_status"`
	// OwnerAddress is the current owner's ledger address
	OwnerAddress string `gorm:"column:owner_address;not null;type:text;index:idx_properties_owner"`
	// RegistrarAddress is the address that submitted the registration
	RegistrarAddress *string `gorm:"column:registrar_address;type:text"`
	// Verified indicates a registrar has attested the parcel record
	Verified bool `gorm:"column:verified;not null;default:false"`
	// DocumentHash is the content hash of the primary deed document
	DocumentHash *string `gorm:"column:document_hash;type:text"`
	// TokenURI is the metadata reference recorded on the ledger
	TokenURI *string `gorm:"column:token_uri;type:text"`
	// RegistrationTxHash is the transaction that created this parcel
	RegistrationTxHash *string `gorm:"column:registration_tx_hash;type:text"`
	// CreatedAt is the timestamp when this record was cached
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	Documents []Document `gorm:"foreignKey:PropertyID"`
}

// TableName specifies the table name for the Property model
func (Property) TableName() string {
	return "properties"
}
