package registry

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/landgrid/registry/internal/domain"
)

// Event signatures
var (
	// PropertyRegistered(uint256 indexed propertyId, address indexed owner, string location)
	propertyRegisteredSignature = crypto.Keccak256Hash([]byte("PropertyRegistered(uint256,address,string)"))

	// PropertyTransferred(uint256 indexed propertyId, address indexed from, address indexed to)
	propertyTransferredSignature = crypto.Keccak256Hash([]byte("PropertyTransferred(uint256,address,address)"))

	// PropertyVerified(uint256 indexed propertyId, address indexed verifier)
	propertyVerifiedSignature = crypto.Keccak256Hash([]byte("PropertyVerified(uint256,address)"))

	// PropertyStatusChanged(uint256 indexed propertyId, uint8 status)
	propertyStatusChangedSignature = crypto.Keccak256Hash([]byte("PropertyStatusChanged(uint256,uint8)"))

	// PropertyValueUpdated(uint256 indexed propertyId, uint256 newValue)
	propertyValueUpdatedSignature = crypto.Keccak256Hash([]byte("PropertyValueUpdated(uint256,uint256)"))
)

// EventSignatures returns the topic hashes of all registry events, for filter
// queries
func EventSignatures() []common.Hash {
	return []common.Hash{
		propertyRegisteredSignature,
		propertyTransferredSignature,
		propertyVerifiedSignature,
		propertyStatusChangedSignature,
		propertyValueUpdatedSignature,
	}
}

// ParseEventLog decodes a contract log into a domain event. Returns nil for
// logs that are not registry events.
func ParseEventLog(chain domain.Chain, vLog types.Log, blockTime time.Time) (*domain.RegistryEvent, error) {
	if len(vLog.Topics) == 0 {
		return nil, nil
	}

	event := &domain.RegistryEvent{
		Chain:           chain,
		ContractAddress: vLog.Address.Hex(),
		TxHash:          vLog.TxHash.Hex(),
		BlockNumber:     vLog.BlockNumber,
		LogIndex:        vLog.Index,
		Timestamp:       blockTime,
	}

	parsed, err := ContractABI()
	if err != nil {
		return nil, err
	}

	switch vLog.Topics[0] {
	case propertyRegisteredSignature:
		if len(vLog.Topics) < 3 {
			return nil, fmt.Errorf("malformed PropertyRegistered log: %d topics", len(vLog.Topics))
		}
		event.EventType = domain.EventPropertyRegistered
		event.PropertyID = vLog.Topics[1].Big().Uint64()
		event.OwnerAddress = common.HexToAddress(vLog.Topics[2].Hex()).Hex()
		var out struct {
			Location string
		}
		if err := parsed.UnpackIntoInterface(&out, "PropertyRegistered", vLog.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack PropertyRegistered: %w", err)
		}
		event.Location = out.Location

	case propertyTransferredSignature:
		if len(vLog.Topics) < 4 {
			return nil, fmt.Errorf("malformed PropertyTransferred log: %d topics", len(vLog.Topics))
		}
		event.EventType = domain.EventPropertyTransferred
		event.PropertyID = vLog.Topics[1].Big().Uint64()
		event.FromAddress = common.HexToAddress(vLog.Topics[2].Hex()).Hex()
		event.ToAddress = common.HexToAddress(vLog.Topics[3].Hex()).Hex()
		event.OwnerAddress = event.ToAddress

	case propertyVerifiedSignature:
		if len(vLog.Topics) < 3 {
			return nil, fmt.Errorf("malformed PropertyVerified log: %d topics", len(vLog.Topics))
		}
		event.EventType = domain.EventPropertyVerified
		event.PropertyID = vLog.Topics[1].Big().Uint64()
		event.FromAddress = common.HexToAddress(vLog.Topics[2].Hex()).Hex()

	case propertyStatusChangedSignature:
		if len(vLog.Topics) < 2 {
			return nil, fmt.Errorf("malformed PropertyStatusChanged log: %d topics", len(vLog.Topics))
		}
		event.EventType = domain.EventPropertyStatusChanged
		event.PropertyID = vLog.Topics[1].Big().Uint64()
		var out struct {
			Status uint8
		}
		if err := parsed.UnpackIntoInterface(&out, "PropertyStatusChanged", vLog.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack PropertyStatusChanged: %w", err)
		}
		status := domain.PropertyStatus(out.Status)
		event.Status = &status

	case propertyValueUpdatedSignature:
		if len(vLog.Topics) < 2 {
			return nil, fmt.Errorf("malformed PropertyValueUpdated log: %d topics", len(vLog.Topics))
		}
		event.EventType = domain.EventPropertyValueUpdated
		event.PropertyID = vLog.Topics[1].Big().Uint64()
		var out struct {
			NewValue *big.Int
		}
		if err := parsed.UnpackIntoInterface(&out, "PropertyValueUpdated", vLog.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack PropertyValueUpdated: %w", err)
		}
		v := out.NewValue.String()
		event.Value = &v

	default:
		// Not a registry event
		return nil, nil
	}

	return event, nil
}

// ExtractRegisteredID scans a confirmed receipt for the PropertyRegistered
// event emitted by contract and returns the assigned parcel identifier
func ExtractRegisteredID(receipt *types.Receipt, contract common.Address) (uint64, bool) {
	for _, vLog := range receipt.Logs {
		if vLog.Address != contract {
			continue
		}
		if len(vLog.Topics) >= 2 && vLog.Topics[0] == propertyRegisteredSignature {
			return vLog.Topics[1].Big().Uint64(), true
		}
	}
	return 0, false
}
