package executor_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/executor"
	"github.com/landgrid/registry/internal/logger"
	"github.com/landgrid/registry/internal/mocks"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

// well-known throwaway key, never funded anywhere
const testSignerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testContract = common.HexToAddress("0x1111111111111111111111111111111111111111")

func testConfig() executor.Config {
	return executor.Config{
		Contract:       testContract,
		ChainID:        big.NewInt(44787),
		GasMargin:      1.2,
		ConfirmTimeout: 120 * time.Second,
	}
}

// stubClock drives Now() through a fixed sequence and never blocks on After
func stubClock(ctrl *gomock.Controller, start time.Time, step time.Duration) *mocks.MockClock {
	clock := mocks.NewMockClock(ctrl)
	now := start
	clock.EXPECT().Now().DoAndReturn(func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}).AnyTimes()
	fired := make(chan time.Time, 1)
	fired <- start
	close(fired)
	clock.EXPECT().After(gomock.Any()).Return((<-chan time.Time)(fired)).AnyTimes()
	return clock
}

func TestSubmitSuccessAppliesGasMargin(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockEthClient(ctrl)
	clock := stubClock(ctrl, time.Now(), time.Second)

	exec, err := executor.NewExecutor(testConfig(), client, testSignerKey, clock)
	require.NoError(t, err)

	client.EXPECT().PendingNonceAt(gomock.Any(), exec.SignerAddress()).Return(uint64(7), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(2_000_000_000), nil)
	client.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(100_000), nil)

	var sentTx *types.Transaction
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, tx *types.Transaction) error {
			sentTx = tx
			return nil
		})
	client.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
			return &types.Receipt{
				Status:      types.ReceiptStatusSuccessful,
				BlockNumber: big.NewInt(42),
				GasUsed:     90_000,
				TxHash:      txHash,
			}, nil
		})

	result, err := exec.Submit(context.Background(), []byte{0x01, 0x02})
	require.NoError(t, err)
	require.NotNil(t, sentTx)

	assert.Equal(t, uint64(120_000), sentTx.Gas())
	assert.Equal(t, uint64(7), sentTx.Nonce())
	assert.Equal(t, uint64(42), result.BlockNumber)
	assert.Equal(t, uint64(90_000), result.GasUsed)
	assert.Equal(t, sentTx.Hash().Hex(), result.TxHash)
}

func TestSubmitUnderfundedIsFinal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockEthClient(ctrl)
	clock := stubClock(ctrl, time.Now(), time.Second)

	exec, err := executor.NewExecutor(testConfig(), client, testSignerKey, clock)
	require.NoError(t, err)

	client.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(1), nil)
	client.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).
		Return(uint64(0), errors.New("insufficient funds for gas * price + value"))

	_, err = exec.Submit(context.Background(), nil)
	ee, ok := domain.AsExecutorError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutorUnderfunded, ee.Kind)
	assert.False(t, ee.Ambiguous())
}

func TestSubmitEstimationFailureIsFinal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockEthClient(ctrl)
	clock := stubClock(ctrl, time.Now(), time.Second)

	exec, err := executor.NewExecutor(testConfig(), client, testSignerKey, clock)
	require.NoError(t, err)

	client.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(1), nil)
	client.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).
		Return(uint64(0), errors.New("execution reverted: location taken"))

	_, err = exec.Submit(context.Background(), nil)
	ee, ok := domain.AsExecutorError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutorGasEstimationFailed, ee.Kind)
	assert.False(t, ee.Ambiguous())
}

func TestSubmitRevertedReceipt(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockEthClient(ctrl)
	clock := stubClock(ctrl, time.Now(), time.Second)

	exec, err := executor.NewExecutor(testConfig(), client, testSignerKey, clock)
	require.NoError(t, err)

	client.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(1), nil)
	client.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(21_000), nil)
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).
		Return(&types.Receipt{
			Status:      types.ReceiptStatusFailed,
			BlockNumber: big.NewInt(10),
		}, nil)

	_, err = exec.Submit(context.Background(), nil)
	ee, ok := domain.AsExecutorError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutorReverted, ee.Kind)
	assert.False(t, ee.Ambiguous())
	assert.NotEmpty(t, ee.TxHash)
}

func TestSubmitTimeoutIsAmbiguous(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockEthClient(ctrl)
	// Each Now() call jumps a minute, so the third poll is past the window
	clock := stubClock(ctrl, time.Now(), time.Minute)

	exec, err := executor.NewExecutor(testConfig(), client, testSignerKey, clock)
	require.NoError(t, err)

	client.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(1), nil)
	client.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(21_000), nil)
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).
		Return(nil, ethereum.NotFound).AnyTimes()

	_, err = exec.Submit(context.Background(), nil)
	ee, ok := domain.AsExecutorError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutorTimeout, ee.Kind)
	assert.True(t, ee.Ambiguous())
	assert.NotEmpty(t, ee.TxHash)
}

func TestSubmitReceiptTransportFailureIsAmbiguous(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockEthClient(ctrl)
	clock := stubClock(ctrl, time.Now(), time.Second)

	exec, err := executor.NewExecutor(testConfig(), client, testSignerKey, clock)
	require.NoError(t, err)

	client.EXPECT().PendingNonceAt(gomock.Any(), gomock.Any()).Return(uint64(0), nil)
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(1), nil)
	client.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(21_000), nil)
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection reset by peer"))

	_, err = exec.Submit(context.Background(), nil)
	ee, ok := domain.AsExecutorError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutorConnectionLost, ee.Kind)
	assert.True(t, ee.Ambiguous())
}

func TestNewExecutorRejectsLowGasMargin(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig()
	cfg.GasMargin = 0.5
	_, err := executor.NewExecutor(cfg, mocks.NewMockEthClient(ctrl), testSignerKey, mocks.NewMockClock(ctrl))
	assert.Error(t, err)
}
