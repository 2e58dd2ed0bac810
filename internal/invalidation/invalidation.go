// Package invalidation broadcasts cache invalidation hints over Redis so API
// replicas drop their read-through entries when a projection changes a row.
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/logger"
)

// Invalidator notifies caches that a property projection changed
//
//go:generate mockgen -source=invalidation.go -destination=../mocks/invalidation.go -package=mocks -mock_names=Invalidator=MockInvalidator
type Invalidator interface {
	// PropertyChanged drops and announces the cached entry for a parcel
	PropertyChanged(ctx context.Context, chain domain.Chain, ledgerID uint64) error
}

// Message is the payload broadcast on the invalidation channel
type Message struct {
	Chain     domain.Chain `json:"chain"`
	LedgerID  uint64       `json:"ledger_id"`
	Timestamp time.Time    `json:"timestamp"`
}

// Config holds invalidation settings
type Config struct {
	Channel string
}

type redisInvalidator struct {
	cfg    Config
	client adapter.RedisClient
	clock  adapter.Clock
}

// NewRedisInvalidator creates an Invalidator backed by Redis pub/sub
func NewRedisInvalidator(cfg Config, client adapter.RedisClient, clock adapter.Clock) Invalidator {
	return &redisInvalidator{cfg: cfg, client: client, clock: clock}
}

// Key returns the read-through cache key for a parcel
func Key(chain domain.Chain, ledgerID uint64) string {
	return fmt.Sprintf("landgrid:property:%s:%d", chain, ledgerID)
}

func (i *redisInvalidator) PropertyChanged(ctx context.Context, chain domain.Chain, ledgerID uint64) error {
	if err := i.client.Del(ctx, Key(chain, ledgerID)); err != nil {
		return fmt.Errorf("failed to delete cached property: %w", err)
	}

	payload, err := json.Marshal(Message{
		Chain:     chain,
		LedgerID:  ledgerID,
		Timestamp: i.clock.Now(),
	})
	if err != nil {
		return err
	}
	if err := i.client.Publish(ctx, i.cfg.Channel, payload); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	logger.DebugCtx(ctx, "property cache invalidated",
		zap.String("chain", string(chain)),
		zap.Uint64("ledger_id", ledgerID))
	return nil
}
