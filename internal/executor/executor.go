// Package executor submits signed transactions to the registry contract and
// classifies their outcomes.
package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/logger"
)

// receiptPollInterval is how often the executor polls for a receipt while
// waiting for confirmation
const receiptPollInterval = 2 * time.Second

// Config holds executor settings
type Config struct {
	Contract common.Address
	ChainID  *big.Int
	// GasMargin is multiplied into the node's gas estimate to absorb state
	// drift between estimation and inclusion
	GasMargin float64
	// ConfirmTimeout bounds the receipt wait; expiry is an ambiguous outcome
	ConfirmTimeout time.Duration
}

// Result describes a confirmed transaction
type Result struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	GasPrice    *big.Int
	Receipt     *types.Receipt
}

// Executor submits contract calls and waits for their confirmation
//
//go:generate mockgen -source=executor.go -destination=../mocks/executor.go -package=mocks -mock_names=Executor=MockExecutor
type Executor interface {
	// Submit signs, sends, and confirms a contract call built from calldata.
	// Failures carry a *domain.ExecutorError classifying the outcome.
	Submit(ctx context.Context, calldata []byte) (*Result, error)
	// SignerAddress returns the address transactions are sent from
	SignerAddress() common.Address
}

type ethExecutor struct {
	cfg    Config
	client adapter.EthClient
	key    *ecdsa.PrivateKey
	from   common.Address
	clock  adapter.Clock
}

// NewExecutor creates an executor signing with the given hex-encoded key
func NewExecutor(cfg Config, client adapter.EthClient, hexKey string, clock adapter.Clock) (Executor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer key: %w", err)
	}
	if cfg.GasMargin < 1.0 {
		return nil, errors.New("gas margin must be at least 1.0")
	}
	return &ethExecutor{
		cfg:    cfg,
		client: client,
		key:    key,
		from:   crypto.PubkeyToAddress(key.PublicKey),
		clock:  clock,
	}, nil
}

func (e *ethExecutor) SignerAddress() common.Address {
	return e.from
}

// classifySendError maps a node error from estimation or submission onto the
// executor's outcome taxonomy
func classifySendError(err error, sent bool) *domain.ExecutorError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return domain.NewExecutorError(domain.ExecutorUnderfunded, err)
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "always failing transaction"):
		return domain.NewExecutorError(domain.ExecutorGasEstimationFailed, err)
	case !sent:
		// Estimation and pricing happen before anything reaches the mempool,
		// so a transport failure here is still a clean failure
		return domain.NewExecutorError(domain.ExecutorGasEstimationFailed, err)
	default:
		// The transaction may or may not have been accepted
		return domain.NewExecutorError(domain.ExecutorConnectionLost, err)
	}
}

func (e *ethExecutor) Submit(ctx context.Context, calldata []byte) (*Result, error) {
	// A fresh nonce per call; concurrent submissions from the same signer are
	// serialized by the caller
	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, classifySendError(err, false)
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classifySendError(err, false)
	}

	msg := ethereum.CallMsg{
		From: e.from,
		To:   &e.cfg.Contract,
		Data: calldata,
	}
	gasEstimate, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, classifySendError(err, false)
	}
	gasLimit := uint64(float64(gasEstimate) * e.cfg.GasMargin)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.cfg.Contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(e.cfg.ChainID), e.key)
	if err != nil {
		return nil, domain.NewExecutorError(domain.ExecutorGasEstimationFailed, err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		ee := classifySendError(err, true)
		ee.TxHash = signedTx.Hash().Hex()
		return nil, ee
	}

	txHash := signedTx.Hash()
	logger.InfoCtx(ctx, "transaction submitted",
		zap.String("tx_hash", txHash.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))

	receipt, err := e.waitForReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}

	if receipt.Status == types.ReceiptStatusFailed {
		ee := domain.NewExecutorError(domain.ExecutorReverted,
			fmt.Errorf("transaction reverted in block %d", receipt.BlockNumber.Uint64()))
		ee.TxHash = txHash.Hex()
		return nil, ee
	}

	return &Result{
		TxHash:      txHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		GasPrice:    gasPrice,
		Receipt:     receipt,
	}, nil
}

func (e *ethExecutor) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := e.clock.Now().Add(e.cfg.ConfirmTimeout)
	for {
		receipt, err := e.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			ee := domain.NewExecutorError(domain.ExecutorConnectionLost, err)
			ee.TxHash = txHash.Hex()
			return nil, ee
		}

		if e.clock.Now().After(deadline) {
			ee := domain.NewExecutorError(domain.ExecutorTimeout,
				fmt.Errorf("no receipt within %s", e.cfg.ConfirmTimeout))
			ee.TxHash = txHash.Hex()
			return nil, ee
		}

		select {
		case <-ctx.Done():
			ee := domain.NewExecutorError(domain.ExecutorTimeout, ctx.Err())
			ee.TxHash = txHash.Hex()
			return nil, ee
		case <-e.clock.After(receiptPollInterval):
		}
	}
}
