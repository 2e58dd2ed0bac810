package registry

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/domain"
)

// EventSource supplies decoded registry events to the reconciliation engine
//
//go:generate mockgen -source=source.go -destination=../mocks/source.go -package=mocks -mock_names=EventSource=MockEventSource
type EventSource interface {
	// FetchEvents retrieves the registry events in [fromBlock, toBlock],
	// ordered by block number then log index
	FetchEvents(ctx context.Context, fromBlock, toBlock uint64) ([]*domain.RegistryEvent, error)
	// LatestBlock returns the current head block number
	LatestBlock(ctx context.Context) (uint64, error)
}

type ethEventSource struct {
	client   adapter.EthClient
	chain    domain.Chain
	contract common.Address
}

// NewEventSource creates an EventSource that polls a registry contract over
// an Ethereum RPC connection
func NewEventSource(client adapter.EthClient, chain domain.Chain, contract common.Address) EventSource {
	return &ethEventSource{
		client:   client,
		chain:    chain,
		contract: contract,
	}
}

func (s *ethEventSource) FetchEvents(ctx context.Context, fromBlock, toBlock uint64) ([]*domain.RegistryEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{EventSignatures()},
	}

	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}

	// Block timestamps are shared by all logs in a block; fetch each header once
	blockTimes := make(map[uint64]time.Time)
	events := make([]*domain.RegistryEvent, 0, len(logs))
	for _, vLog := range logs {
		blockTime, ok := blockTimes[vLog.BlockNumber]
		if !ok {
			header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(vLog.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("failed to get header for block %d: %w", vLog.BlockNumber, err)
			}
			blockTime = time.Unix(int64(header.Time), 0).UTC()
			blockTimes[vLog.BlockNumber] = blockTime
		}

		event, err := ParseEventLog(s.chain, vLog, blockTime)
		if err != nil {
			return nil, err
		}
		if event == nil {
			continue
		}
		events = append(events, event)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

func (s *ethEventSource) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}
