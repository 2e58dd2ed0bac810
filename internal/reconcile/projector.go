// Package reconcile ingests registry contract events and folds them into the
// relational cache, treating the ledger as the source of truth.
package reconcile

import (
	"context"
	"fmt"

	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/store"
	"github.com/landgrid/registry/internal/store/schema"
)

// Projector folds decoded registry events into the cache. Every projection is
// an upsert or a keyed update, so replaying an event is harmless.
type Projector struct {
	store store.Store
}

// NewProjector creates a projector over the given store
func NewProjector(st store.Store) *Projector {
	return &Projector{store: st}
}

// Project applies a single event to the cache
func (p *Projector) Project(ctx context.Context, event *domain.RegistryEvent) error {
	switch event.EventType {
	case domain.EventPropertyRegistered:
		return p.projectRegistered(ctx, event)
	case domain.EventPropertyTransferred:
		// A transfer only moves ownership. Status is owned by the status
		// change events and must not be reset here.
		owner := event.ToAddress
		return p.updateProperty(ctx, event, store.PropertyUpdate{OwnerAddress: &owner})
	case domain.EventPropertyVerified:
		verified := true
		return p.updateProperty(ctx, event, store.PropertyUpdate{Verified: &verified})
	case domain.EventPropertyStatusChanged:
		if event.Status == nil {
			return fmt.Errorf("status change event without status")
		}
		return p.updateProperty(ctx, event, store.PropertyUpdate{Status: event.Status})
	case domain.EventPropertyValueUpdated:
		if event.Value == nil {
			return fmt.Errorf("value update event without value")
		}
		return p.updateProperty(ctx, event, store.PropertyUpdate{Value: event.Value})
	default:
		return fmt.Errorf("unknown event type %q", event.EventType)
	}
}

// projectRegistered ensures a property row exists for a registration event.
// When the orchestrator already wrote the full row this is a no-op beyond
// confirming the owner; when the cache write was lost, a minimal row is
// backfilled from the event.
func (p *Projector) projectRegistered(ctx context.Context, event *domain.RegistryEvent) error {
	existing, err := p.store.GetPropertyByLedgerID(ctx, event.Chain, event.PropertyID)
	if err != nil {
		return err
	}

	if existing == nil {
		txHash := event.TxHash
		property := &schema.Property{
			LedgerID:           event.PropertyID,
			Chain:              event.Chain,
			Location:           event.Location,
			Status:             domain.StatusActive,
			OwnerAddress:       event.OwnerAddress,
			RegistrationTxHash: &txHash,
		}
		if err := p.store.UpsertProperty(ctx, property); err != nil {
			return err
		}
		return p.anchorDocument(ctx, property)
	}

	if existing.OwnerAddress != event.OwnerAddress {
		owner := event.OwnerAddress
		if err := p.store.UpdateProperty(ctx, event.Chain, event.PropertyID,
			store.PropertyUpdate{OwnerAddress: &owner}); err != nil {
			return err
		}
	}
	return p.anchorDocument(ctx, existing)
}

// anchorDocument links the property's deed document row to the property once
// both exist
func (p *Projector) anchorDocument(ctx context.Context, property *schema.Property) error {
	if property.DocumentHash == nil {
		return nil
	}
	doc, err := p.store.GetDocumentByHash(ctx, *property.DocumentHash)
	if err != nil {
		return err
	}
	if doc == nil || doc.PropertyID != nil {
		return nil
	}
	return p.store.AnchorDocument(ctx, doc.ID, property.ID)
}

func (p *Projector) updateProperty(ctx context.Context, event *domain.RegistryEvent, update store.PropertyUpdate) error {
	err := p.store.UpdateProperty(ctx, event.Chain, event.PropertyID, update)
	if err != nil {
		return fmt.Errorf("failed to project %s for parcel %d: %w", event.EventType, event.PropertyID, err)
	}
	return nil
}
