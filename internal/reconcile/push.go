package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/logger"
	"github.com/landgrid/registry/internal/registry"
)

// PushDelivery feeds the engine from a log subscription instead of polling.
// Ingestion and projection stay identical to the polled path, so a pushed
// event and a later polled duplicate collapse onto the same ledger_events row.
// The sync cursor is not advanced here; the polling cycle remains the source
// of truth for what has been fully covered.
type PushDelivery struct {
	engine *Engine
	client adapter.EthClient
}

// NewPushDelivery creates a push delivery on a websocket-capable client
func NewPushDelivery(engine *Engine, client adapter.EthClient) *PushDelivery {
	return &PushDelivery{engine: engine, client: client}
}

// Run subscribes and ingests until ctx is cancelled, resubscribing with
// exponential backoff when the subscription drops
func (p *PushDelivery) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = time.Minute

	for {
		err := p.listen(ctx)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WarnCtx(ctx, "log subscription dropped", zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.engine.clock.After(bo.NextBackOff()):
		}
	}
}

func (p *PushDelivery) listen(ctx context.Context) error {
	logs := make(chan types.Log, 64)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(p.engine.cfg.Contract)},
		Topics:    [][]common.Hash{registry.EventSignatures()},
	}

	sub, err := p.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to logs: %w", err)
	}
	defer sub.Unsubscribe()

	logger.InfoCtx(ctx, "log subscription established",
		zap.String("contract", p.engine.cfg.Contract))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case vLog := <-logs:
			if vLog.Removed {
				continue
			}
			p.handle(ctx, vLog)
		}
	}
}

// handle ingests one pushed log. Failures are logged and left to the polling
// cycle, which will refetch the block and stall on it properly.
func (p *PushDelivery) handle(ctx context.Context, vLog types.Log) {
	header, err := p.client.HeaderByNumber(ctx, new(big.Int).SetUint64(vLog.BlockNumber))
	if err != nil {
		logger.WarnCtx(ctx, "failed to get header for pushed log",
			zap.Uint64("block_number", vLog.BlockNumber), zap.Error(err))
		return
	}

	event, err := registry.ParseEventLog(p.engine.cfg.Chain, vLog, time.Unix(int64(header.Time), 0).UTC())
	if err != nil {
		logger.WarnCtx(ctx, "failed to parse pushed log",
			zap.String("tx_hash", vLog.TxHash.Hex()), zap.Error(err))
		return
	}
	if event == nil {
		return
	}

	if _, err := p.engine.ingestOne(ctx, event); err != nil {
		logger.WarnCtx(ctx, "failed to ingest pushed event",
			zap.String("tx_hash", event.TxHash),
			zap.Uint64("block_number", event.BlockNumber),
			zap.Error(err))
	}
}
