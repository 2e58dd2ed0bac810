// Package headcache caches the ledger head block number so the reconciler and
// saga orchestrator do not hit the RPC provider on every cycle.
package headcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/logger"
)

type headInfo struct {
	number    uint64
	fetchedAt time.Time
}

// Fetcher fetches the current head block from the ledger
//
//go:generate mockgen -source=headcache.go -destination=../mocks/headcache.go -package=mocks -mock_names=Fetcher=MockHeadFetcher
type Fetcher interface {
	FetchLatestBlock(ctx context.Context) (uint64, error)
}

// Config holds head cache settings
type Config struct {
	// TTL is how long a fetched head number stays fresh
	TTL time.Duration
	// StaleWindow is how long a stale head may still be served when a fresh
	// fetch fails
	StaleWindow time.Duration
}

// Provider serves the head block number with TTL-based caching
type Provider struct {
	fetcher Fetcher
	config  Config
	clock   adapter.Clock

	mu   sync.RWMutex
	head *headInfo
}

// NewProvider creates a caching head provider
func NewProvider(fetcher Fetcher, config Config, clock adapter.Clock) *Provider {
	return &Provider{
		fetcher: fetcher,
		config:  config,
		clock:   clock,
	}
}

// LatestBlock returns the head block number, using the cache while fresh and
// falling back to a stale value when the ledger is briefly unreachable
func (p *Provider) LatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()
	if cached != nil && now.Sub(cached.fetchedAt) < p.config.TTL {
		return cached.number, nil
	}

	blockNumber, err := p.fetcher.FetchLatestBlock(ctx)
	if err != nil {
		if cached != nil && now.Sub(cached.fetchedAt) < p.config.StaleWindow {
			logger.DebugCtx(ctx, "serving stale head block",
				zap.Uint64("block_number", cached.number))
			return cached.number, nil
		}
		return 0, fmt.Errorf("failed to fetch head block and no usable cache: %w", err)
	}

	p.mu.Lock()
	p.head = &headInfo{number: blockNumber, fetchedAt: now}
	p.mu.Unlock()

	return blockNumber, nil
}

// ethFetcher adapts an RPC client into a Fetcher
type ethFetcher struct {
	client adapter.EthClient
}

// NewEthFetcher creates a Fetcher backed by an Ethereum RPC client
func NewEthFetcher(client adapter.EthClient) Fetcher {
	return &ethFetcher{client: client}
}

func (f *ethFetcher) FetchLatestBlock(ctx context.Context) (uint64, error) {
	header, err := f.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest header: %w", err)
	}
	return header.Number.Uint64(), nil
}
