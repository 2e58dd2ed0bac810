package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/headcache"
	"github.com/landgrid/registry/internal/invalidation"
	"github.com/landgrid/registry/internal/logger"
	"github.com/landgrid/registry/internal/messaging"
	"github.com/landgrid/registry/internal/registry"
	"github.com/landgrid/registry/internal/store"
	"github.com/landgrid/registry/internal/store/schema"
)

// Config holds reconciliation engine settings
type Config struct {
	Chain        domain.Chain
	Contract     string
	StartBlock   uint64
	PollInterval time.Duration
	// BatchWindow caps how many blocks one cycle scans
	BatchWindow uint64
}

// Engine drives the ingest-project-advance loop. The sync cursor only moves
// over a fully projected prefix: when an event fails to project, the cursor
// stalls just before its block so the next cycle retries it, and no later
// event is projected out of order.
type Engine struct {
	cfg         Config
	store       store.Store
	source      registry.EventSource
	projector   *Projector
	heads       *headcache.Provider
	publisher   messaging.Publisher
	invalidator invalidation.Invalidator
	clock       adapter.Clock
}

// NewEngine creates a reconciliation engine. publisher and invalidator may be
// nil; delivery is then skipped.
func NewEngine(
	cfg Config,
	st store.Store,
	source registry.EventSource,
	projector *Projector,
	heads *headcache.Provider,
	publisher messaging.Publisher,
	invalidator invalidation.Invalidator,
	clock adapter.Clock,
) *Engine {
	return &Engine{
		cfg:         cfg,
		store:       st,
		source:      source,
		projector:   projector,
		heads:       heads,
		publisher:   publisher,
		invalidator: invalidator,
		clock:       clock,
	}
}

// Run executes sync cycles until ctx is cancelled. Failed cycles back off
// exponentially; a clean cycle resets the backoff.
func (e *Engine) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever
	bo.MaxInterval = 5 * time.Minute

	for {
		ingested, err := e.Sync(ctx)
		var wait time.Duration
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.ErrorCtx(ctx, err, zap.String("message", "sync cycle failed"))
			wait = bo.NextBackOff()
		} else {
			bo.Reset()
			wait = e.cfg.PollInterval
			if ingested > 0 {
				logger.InfoCtx(ctx, "sync cycle complete", zap.Int("events_ingested", ingested))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(wait):
		}
	}
}

// Sync performs one cycle: fetch the next window of events, persist and
// project them in order, and advance the cursor over the projected prefix.
// Returns the number of newly projected events.
func (e *Engine) Sync(ctx context.Context) (int, error) {
	cursor, err := e.store.GetSyncCursor(ctx, e.cfg.Chain, e.cfg.Contract)
	if err != nil {
		return 0, err
	}

	from := cursor.LastBlock + 1
	if e.cfg.StartBlock > from {
		from = e.cfg.StartBlock
	}

	head, err := e.heads.LatestBlock(ctx)
	if err != nil {
		return 0, e.finishCycle(ctx, err)
	}
	if head < from {
		return 0, nil
	}

	to := head
	if e.cfg.BatchWindow > 0 && from+e.cfg.BatchWindow-1 < head {
		to = from + e.cfg.BatchWindow - 1
	}

	if err := e.store.SetSyncState(ctx, e.cfg.Chain, e.cfg.Contract, true, nil); err != nil {
		return 0, err
	}

	events, err := e.source.FetchEvents(ctx, from, to)
	if err != nil {
		return 0, e.finishCycle(ctx, err)
	}

	ingested := 0
	for _, event := range events {
		projected, err := e.ingestOne(ctx, event)
		if err != nil {
			// Stall just before the failed event's block; everything up to
			// there is fully projected
			if event.BlockNumber > 0 && event.BlockNumber-1 >= from {
				if advErr := e.store.AdvanceSyncCursor(ctx, e.cfg.Chain, e.cfg.Contract,
					event.BlockNumber-1, uint64(ingested)); advErr != nil {
					logger.ErrorCtx(ctx, advErr)
				}
			}
			return ingested, e.finishCycle(ctx, err)
		}
		if projected {
			ingested++
		}
	}

	if err := e.store.AdvanceSyncCursor(ctx, e.cfg.Chain, e.cfg.Contract, to, uint64(ingested)); err != nil {
		return ingested, e.finishCycle(ctx, err)
	}
	return ingested, e.finishCycle(ctx, nil)
}

// finishCycle clears the syncing flag and records the cycle outcome
func (e *Engine) finishCycle(ctx context.Context, cycleErr error) error {
	var lastError *string
	if cycleErr != nil {
		msg := cycleErr.Error()
		lastError = &msg
	}
	if err := e.store.SetSyncState(ctx, e.cfg.Chain, e.cfg.Contract, false, lastError); err != nil {
		logger.ErrorCtx(ctx, err)
	}
	return cycleErr
}

// ingestOne persists and projects a single event. Returns true when the event
// was newly projected, false when it was already processed.
func (e *Engine) ingestOne(ctx context.Context, event *domain.RegistryEvent) (bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return false, err
	}

	row := &schema.LedgerEvent{
		Chain:            event.Chain,
		EventType:        event.EventType,
		PropertyLedgerID: event.PropertyID,
		TxHash:           event.TxHash,
		LogIndex:         event.LogIndex,
		BlockNumber:      event.BlockNumber,
		Timestamp:        event.Timestamp,
		Payload:          payload,
	}
	persisted, inserted, err := e.store.InsertLedgerEvent(ctx, row)
	if err != nil {
		return false, err
	}

	// A duplicate that already projected is skipped; a duplicate whose
	// projection failed earlier is retried
	if !inserted && persisted.Processed {
		return false, nil
	}

	if err := e.projector.Project(ctx, event); err != nil {
		if markErr := e.store.MarkEventFailed(ctx, persisted.ID, err.Error()); markErr != nil {
			logger.ErrorCtx(ctx, markErr)
		}
		return false, err
	}

	if err := e.store.MarkEventProcessed(ctx, persisted.ID); err != nil {
		return false, err
	}

	e.deliver(ctx, event)
	return true, nil
}

// deliver pushes the projected event downstream. Delivery failures do not
// fail the cycle: the cache is already consistent and consumers catch up on
// the next change.
func (e *Engine) deliver(ctx context.Context, event *domain.RegistryEvent) {
	if e.publisher != nil {
		if err := e.publisher.PublishEvent(ctx, event); err != nil {
			logger.WarnCtx(ctx, "failed to publish event",
				zap.String("tx_hash", event.TxHash), zap.Error(err))
		}
	}
	if e.invalidator != nil {
		if err := e.invalidator.PropertyChanged(ctx, event.Chain, event.PropertyID); err != nil {
			logger.WarnCtx(ctx, "failed to invalidate cache",
				zap.Uint64("ledger_id", event.PropertyID), zap.Error(err))
		}
	}
}
