// Package saga coordinates property registration across the three stores:
// the content gateway, the ledger contract, and the relational cache. None of
// them share a transaction, so each flow orders its writes by reversibility
// and compensates only when an outcome is known.
package saga

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/landgrid/registry/internal/document"
	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/executor"
	"github.com/landgrid/registry/internal/invalidation"
	"github.com/landgrid/registry/internal/logger"
	"github.com/landgrid/registry/internal/registry"
	"github.com/landgrid/registry/internal/store"
	"github.com/landgrid/registry/internal/store/schema"
)

// RegistrationInput describes a property registration request
type RegistrationInput struct {
	Owner        string
	Location     string
	Coordinates  string
	AreaSqMeters float64
	// Value is the declared value in wei, decimal string; empty means zero
	Value        string
	PropertyType domain.PropertyType
	// Deed is the supporting document; its hash is anchored on the ledger
	Deed document.UploadInput
}

// RegistrationResult reports a completed registration
type RegistrationResult struct {
	LedgerID    uint64
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	ContentRef  string
	ContentHash string
}

// Config holds orchestrator settings
type Config struct {
	Chain    domain.Chain
	Contract common.Address
}

// Orchestrator runs the registration, verification, and transfer flows
type Orchestrator struct {
	cfg         Config
	store       store.Store
	documents   *document.Service
	executor    executor.Executor
	invalidator invalidation.Invalidator

	// submitMu serializes ledger submissions; the executor draws a fresh
	// nonce per call and concurrent sends from one signer would collide
	submitMu sync.Mutex
}

// NewOrchestrator creates a saga orchestrator. invalidator may be nil.
func NewOrchestrator(cfg Config, st store.Store, documents *document.Service, exec executor.Executor, invalidator invalidation.Invalidator) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		store:       st,
		documents:   documents,
		executor:    exec,
		invalidator: invalidator,
	}
}

func parseValue(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(value, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("malformed value %q", value)
	}
	return v, nil
}

// RegisterProperty runs the registration saga:
//
//  1. reject inputs that would certainly fail (duplicate location)
//  2. pin the deed document (reversible)
//  3. submit the ledger transaction (the point of no return)
//  4. project the new parcel into the cache (repairable)
//
// A final ledger failure unpins the deed. An ambiguous failure leaves the pin
// in place because the transaction may still confirm; the reconciliation
// engine settles the outcome either way.
func (o *Orchestrator) RegisterProperty(ctx context.Context, input RegistrationInput) (*RegistrationResult, error) {
	// Correlates the log lines of one registration across its three stores
	sagaID := uuid.NewString()

	value, err := parseValue(input.Value)
	if err != nil {
		return nil, err
	}
	if common.HexToAddress(input.Owner).Hex() == domain.ZERO_ADDRESS {
		return nil, fmt.Errorf("owner must not be the zero address")
	}

	if existing, err := o.store.GetPropertyByLocation(ctx, input.Location); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, domain.ErrDuplicateRegistration
	}

	doc, err := o.documents.Store(ctx, input.Deed)
	if err != nil {
		return nil, err
	}

	calldata, err := registry.PackRegisterProperty(registry.RegisterPropertyInput{
		Owner:        common.HexToAddress(input.Owner),
		Location:     input.Location,
		Coordinates:  input.Coordinates,
		AreaSqMeters: input.AreaSqMeters,
		Value:        value,
		PropertyType: input.PropertyType,
		DocumentHash: doc.ContentHash,
		TokenURI:     "ipfs://" + doc.ContentRef,
	})
	if err != nil {
		o.compensateDeed(ctx, doc.ContentRef)
		return nil, err
	}

	result, err := o.submit(ctx, calldata)
	if err != nil {
		if ee, ok := domain.AsExecutorError(err); ok && !ee.Ambiguous() {
			o.compensateDeed(ctx, doc.ContentRef)
		}
		return nil, err
	}

	ledgerID, ok := registry.ExtractRegisteredID(result.Receipt, o.cfg.Contract)
	if !ok {
		// The transaction confirmed, so the ledger holds a record we cannot
		// identify. Keep the pin and surface the mismatch loudly.
		ee := domain.NewExecutorError(domain.ExecutorIdentifierNotEmitted,
			fmt.Errorf("confirmed registration emitted no registration event"))
		ee.TxHash = result.TxHash
		logger.ErrorCtx(ctx, ee,
			zap.String("saga_id", sagaID),
			zap.String("tx_hash", result.TxHash))
		return nil, ee
	}

	docHash := doc.ContentHash
	tokenURI := "ipfs://" + doc.ContentRef
	registrar := o.executor.SignerAddress().Hex()
	txHash := result.TxHash
	property := &schema.Property{
		LedgerID:           ledgerID,
		Chain:              o.cfg.Chain,
		Location:           input.Location,
		Coordinates:        input.Coordinates,
		AreaSqMeters:       input.AreaSqMeters,
		Value:              value.String(),
		PropertyType:       input.PropertyType,
		Status:             domain.StatusActive,
		OwnerAddress:       common.HexToAddress(input.Owner).Hex(),
		RegistrarAddress:   &registrar,
		DocumentHash:       &docHash,
		TokenURI:           &tokenURI,
		RegistrationTxHash: &txHash,
	}
	out := &RegistrationResult{
		LedgerID:    ledgerID,
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
		GasUsed:     result.GasUsed,
		ContentRef:  doc.ContentRef,
		ContentHash: doc.ContentHash,
	}

	// Upsert, not insert: the reconciliation engine may have already projected
	// this parcel from the registration event, and both writers converge on
	// the same ledger-derived state
	if err := o.store.UpsertProperty(ctx, property); err != nil {
		// The ledger already holds the record; never unwind here. The
		// reconciliation engine backfills the row from the registration event.
		logger.ErrorCtx(ctx, err,
			zap.String("saga_id", sagaID),
			zap.Uint64("ledger_id", ledgerID),
			zap.String("tx_hash", result.TxHash))
		return out, fmt.Errorf("%w: %v", domain.ErrCachePersistenceFailed, err)
	}

	if err := o.store.AnchorDocument(ctx, doc.ID, property.ID); err != nil {
		logger.WarnCtx(ctx, "failed to anchor deed document", zap.Error(err))
	}

	o.invalidate(ctx, ledgerID)
	logger.InfoCtx(ctx, "property registered",
		zap.String("saga_id", sagaID),
		zap.Uint64("ledger_id", ledgerID),
		zap.String("tx_hash", result.TxHash),
		zap.Uint64("gas_used", result.GasUsed))
	return out, nil
}

// VerifyProperty attests a parcel record on the ledger and mirrors the flag
// into the cache
func (o *Orchestrator) VerifyProperty(ctx context.Context, ledgerID uint64) (string, error) {
	property, err := o.store.GetPropertyByLedgerID(ctx, o.cfg.Chain, ledgerID)
	if err != nil {
		return "", err
	}
	if property == nil {
		return "", domain.ErrPropertyNotFound
	}

	calldata, err := registry.PackVerifyProperty(ledgerID)
	if err != nil {
		return "", err
	}
	result, err := o.submit(ctx, calldata)
	if err != nil {
		return "", err
	}

	verified := true
	if err := o.store.UpdateProperty(ctx, o.cfg.Chain, ledgerID,
		store.PropertyUpdate{Verified: &verified}); err != nil {
		logger.ErrorCtx(ctx, err, zap.Uint64("ledger_id", ledgerID))
		return result.TxHash, fmt.Errorf("%w: %v", domain.ErrCachePersistenceFailed, err)
	}

	// The attestation covers the anchored deed too
	if property.DocumentHash != nil {
		if doc, err := o.store.GetDocumentByHash(ctx, *property.DocumentHash); err != nil {
			logger.WarnCtx(ctx, "failed to load deed for verification", zap.Error(err))
		} else if doc != nil {
			if err := o.store.SetDocumentVerified(ctx, doc.ID, true); err != nil {
				logger.WarnCtx(ctx, "failed to mark deed verified", zap.Error(err))
			}
		}
	}

	o.invalidate(ctx, ledgerID)
	return result.TxHash, nil
}

// TransferProperty moves ownership of a parcel. The caller must match the
// cache's recorded owner at submission time.
func (o *Orchestrator) TransferProperty(ctx context.Context, caller string, ledgerID uint64, newOwner string) (string, error) {
	property, err := o.store.GetPropertyByLedgerID(ctx, o.cfg.Chain, ledgerID)
	if err != nil {
		return "", err
	}
	if property == nil {
		return "", domain.ErrPropertyNotFound
	}
	if property.OwnerAddress != common.HexToAddress(caller).Hex() {
		return "", domain.ErrStaleOwner
	}
	if common.HexToAddress(newOwner).Hex() == domain.ZERO_ADDRESS {
		return "", fmt.Errorf("cannot transfer to the zero address")
	}

	calldata, err := registry.PackTransferProperty(ledgerID, common.HexToAddress(newOwner))
	if err != nil {
		return "", err
	}
	result, err := o.submit(ctx, calldata)
	if err != nil {
		return "", err
	}

	owner := common.HexToAddress(newOwner).Hex()
	if err := o.store.UpdateProperty(ctx, o.cfg.Chain, ledgerID,
		store.PropertyUpdate{OwnerAddress: &owner}); err != nil {
		logger.ErrorCtx(ctx, err, zap.Uint64("ledger_id", ledgerID))
		return result.TxHash, fmt.Errorf("%w: %v", domain.ErrCachePersistenceFailed, err)
	}

	o.invalidate(ctx, ledgerID)
	logger.InfoCtx(ctx, "property transferred",
		zap.Uint64("ledger_id", ledgerID),
		zap.String("new_owner", owner))
	return result.TxHash, nil
}

func (o *Orchestrator) submit(ctx context.Context, calldata []byte) (*executor.Result, error) {
	o.submitMu.Lock()
	defer o.submitMu.Unlock()
	return o.executor.Submit(ctx, calldata)
}

// compensateDeed unpins a deed after a known-final ledger failure. Compensation
// failures are logged and swallowed; the discard flag makes the orphan visible.
func (o *Orchestrator) compensateDeed(ctx context.Context, contentRef string) {
	if err := o.documents.Discard(ctx, contentRef); err != nil {
		logger.WarnCtx(ctx, "failed to discard deed document",
			zap.String("content_ref", contentRef), zap.Error(err))
	}
}

func (o *Orchestrator) invalidate(ctx context.Context, ledgerID uint64) {
	if o.invalidator == nil {
		return
	}
	if err := o.invalidator.PropertyChanged(ctx, o.cfg.Chain, ledgerID); err != nil {
		logger.WarnCtx(ctx, "failed to invalidate property cache",
			zap.Uint64("ledger_id", ledgerID), zap.Error(err))
	}
}
