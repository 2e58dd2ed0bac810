package domain

import (
	"time"
)

// Chain represents the blockchain network identifier using CAIP-2 format
type Chain string

const (
	ChainCeloMainnet   Chain = "eip155:42220"
	ChainCeloAlfajores Chain = "eip155:44787"
	ChainEthereumLocal Chain = "eip155:1337"
)

// PropertyStatus represents the lifecycle status of a land parcel.
// The numeric values mirror the uint8 status codes of the registry contract.
type PropertyStatus uint8

const (
	StatusActive PropertyStatus = iota
	StatusDisputed
	StatusFrozen
	StatusTransferred
)

// String returns the canonical status name stored in the relational cache
func (s PropertyStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusDisputed:
		return "DISPUTED"
	case StatusFrozen:
		return "FROZEN"
	case StatusTransferred:
		return "TRANSFERRED"
	default:
		return "UNKNOWN"
	}
}

// PropertyType classifies a land parcel.
// The numeric values mirror the uint8 propertyType codes of the registry contract.
type PropertyType uint8

const (
	TypeResidential PropertyType = iota
	TypeCommercial
	TypeIndustrial
	TypeAgricultural
	TypeForest
	TypeOther
)

// String returns the canonical type name stored in the relational cache
func (t PropertyType) String() string {
	switch t {
	case TypeResidential:
		return "RESIDENTIAL"
	case TypeCommercial:
		return "COMMERCIAL"
	case TypeIndustrial:
		return "INDUSTRIAL"
	case TypeAgricultural:
		return "AGRICULTURAL"
	case TypeForest:
		return "FOREST"
	default:
		return "OTHER"
	}
}

// EventType identifies a decoded registry contract event
type EventType string

const (
	EventPropertyRegistered    EventType = "property_registered"
	EventPropertyTransferred   EventType = "property_transferred"
	EventPropertyVerified      EventType = "property_verified"
	EventPropertyStatusChanged EventType = "property_status_changed"
	EventPropertyValueUpdated  EventType = "property_value_updated"
)

// RegistryEvent is a decoded log entry emitted by the land registry contract.
// (TxHash, LogIndex) is the deduplication identity of an event; every other
// field is derived from the log payload or its enclosing block.
type RegistryEvent struct {
	EventType       EventType
	Chain           Chain
	ContractAddress string
	TxHash          string
	BlockNumber     uint64
	LogIndex        uint
	Timestamp       time.Time

	// PropertyID is the ledger-assigned parcel identifier (topic 1 on every event)
	PropertyID uint64

	// OwnerAddress is the owner recorded by a registration, or the verifier
	// address on a verification event
	OwnerAddress string

	// FromAddress/ToAddress are populated on transfer events
	FromAddress string
	ToAddress   string

	// Location is the parcel address carried by a registration event
	Location string

	// DocumentHash is the content hash anchored by a registration event
	DocumentHash string

	// Status is populated on status-change events
	Status *PropertyStatus

	// Value is populated on value-update events, decimal string in cUSD
	Value *string
}

// Permission enumerates document access capabilities
type Permission string

const (
	PermissionView     Permission = "view"
	PermissionDownload Permission = "download"
	PermissionShare    Permission = "share"
)
