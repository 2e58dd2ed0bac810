// Package registry binds the land registry smart contract: call encoding for
// the writes the orchestrator submits, and log decoding for the events the
// reconciliation engine ingests.
package registry

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/landgrid/registry/internal/domain"
)

// contractABIJSON is the registry contract interface
const contractABIJSON = `[
	{"type":"function","name":"registerProperty","inputs":[
		{"name":"owner","type":"address"},
		{"name":"location","type":"string"},
		{"name":"coordinates","type":"string"},
		{"name":"area","type":"uint256"},
		{"name":"value","type":"uint256"},
		{"name":"propertyType","type":"uint8"},
		{"name":"documentHash","type":"string"},
		{"name":"tokenURI","type":"string"}],
	"outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"verifyProperty","inputs":[
		{"name":"propertyId","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"transferProperty","inputs":[
		{"name":"propertyId","type":"uint256"},
		{"name":"newOwner","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"setPropertyStatus","inputs":[
		{"name":"propertyId","type":"uint256"},
		{"name":"status","type":"uint8"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"updatePropertyValue","inputs":[
		{"name":"propertyId","type":"uint256"},
		{"name":"newValue","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"getProperty","inputs":[
		{"name":"propertyId","type":"uint256"}],"outputs":[
		{"name":"owner","type":"address"},
		{"name":"location","type":"string"},
		{"name":"status","type":"uint8"},
		{"name":"value","type":"uint256"}],"stateMutability":"view"},
	{"type":"event","name":"PropertyRegistered","inputs":[
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"owner","type":"address","indexed":true},
		{"name":"location","type":"string","indexed":false}],"anonymous":false},
	{"type":"event","name":"PropertyTransferred","inputs":[
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true}],"anonymous":false},
	{"type":"event","name":"PropertyVerified","inputs":[
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"verifier","type":"address","indexed":true}],"anonymous":false},
	{"type":"event","name":"PropertyStatusChanged","inputs":[
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"status","type":"uint8","indexed":false}],"anonymous":false},
	{"type":"event","name":"PropertyValueUpdated","inputs":[
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"newValue","type":"uint256","indexed":false}],"anonymous":false}
]`

var (
	abiOnce     sync.Once
	contractABI abi.ABI
	abiErr      error
)

// ContractABI returns the parsed registry contract ABI
func ContractABI() (abi.ABI, error) {
	abiOnce.Do(func() {
		contractABI, abiErr = abi.JSON(strings.NewReader(contractABIJSON))
	})
	return contractABI, abiErr
}

// RegisterPropertyInput carries the arguments of a registration call
type RegisterPropertyInput struct {
	Owner        common.Address
	Location     string
	Coordinates  string
	AreaSqMeters float64
	Value        *big.Int
	PropertyType domain.PropertyType
	DocumentHash string
	TokenURI     string
}

// PackRegisterProperty encodes a registerProperty call. Area is recorded in
// whole square meters on the ledger.
func PackRegisterProperty(input RegisterPropertyInput) ([]byte, error) {
	parsed, err := ContractABI()
	if err != nil {
		return nil, err
	}
	area := new(big.Int).SetUint64(uint64(input.AreaSqMeters))
	value := input.Value
	if value == nil {
		value = big.NewInt(0)
	}
	data, err := parsed.Pack("registerProperty",
		input.Owner,
		input.Location,
		input.Coordinates,
		area,
		value,
		uint8(input.PropertyType),
		input.DocumentHash,
		input.TokenURI,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack registerProperty: %w", err)
	}
	return data, nil
}

// PackVerifyProperty encodes a verifyProperty call
func PackVerifyProperty(propertyID uint64) ([]byte, error) {
	parsed, err := ContractABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("verifyProperty", new(big.Int).SetUint64(propertyID))
	if err != nil {
		return nil, fmt.Errorf("failed to pack verifyProperty: %w", err)
	}
	return data, nil
}

// PackTransferProperty encodes a transferProperty call
func PackTransferProperty(propertyID uint64, newOwner common.Address) ([]byte, error) {
	parsed, err := ContractABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("transferProperty", new(big.Int).SetUint64(propertyID), newOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transferProperty: %w", err)
	}
	return data, nil
}

// PackSetPropertyStatus encodes a setPropertyStatus call
func PackSetPropertyStatus(propertyID uint64, status domain.PropertyStatus) ([]byte, error) {
	parsed, err := ContractABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("setPropertyStatus", new(big.Int).SetUint64(propertyID), uint8(status))
	if err != nil {
		return nil, fmt.Errorf("failed to pack setPropertyStatus: %w", err)
	}
	return data, nil
}

// PackUpdatePropertyValue encodes an updatePropertyValue call
func PackUpdatePropertyValue(propertyID uint64, newValue *big.Int) ([]byte, error) {
	parsed, err := ContractABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("updatePropertyValue", new(big.Int).SetUint64(propertyID), newValue)
	if err != nil {
		return nil, fmt.Errorf("failed to pack updatePropertyValue: %w", err)
	}
	return data, nil
}
