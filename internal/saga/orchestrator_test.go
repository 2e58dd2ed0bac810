package saga_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/document"
	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/executor"
	"github.com/landgrid/registry/internal/logger"
	"github.com/landgrid/registry/internal/mocks"
	"github.com/landgrid/registry/internal/saga"
	"github.com/landgrid/registry/internal/store/storetest"
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

const (
	testRef   = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	testOwner = "0x2222222222222222222222222222222222222222"
)

var (
	testContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSigner   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testDeed     = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF")
)

type fixture struct {
	store        *storetest.MemoryStore
	gateway      *mocks.MockGateway
	exec         *mocks.MockExecutor
	orchestrator *saga.Orchestrator
}

func newFixture(t *testing.T) (*fixture, *gomock.Controller) {
	ctrl := gomock.NewController(t)

	st := storetest.NewMemoryStore()
	gateway := mocks.NewMockGateway(ctrl)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().SignerAddress().Return(testSigner).AnyTimes()

	docs := document.NewService(document.Config{
		MaxFileSize:  10 << 20,
		AllowedTypes: []string{"application/pdf", "image/png"},
	}, st, gateway, nil, adapter.NewClock())

	orch := saga.NewOrchestrator(saga.Config{
		Chain:    domain.ChainCeloAlfajores,
		Contract: testContract,
	}, st, docs, exec, nil)

	return &fixture{store: st, gateway: gateway, exec: exec, orchestrator: orch}, ctrl
}

func registrationInput() saga.RegistrationInput {
	return saga.RegistrationInput{
		Owner:        testOwner,
		Location:     "12 Harbor Lane, Accra",
		Coordinates:  `{"type":"Point","coordinates":[-0.186964,5.603717]}`,
		AreaSqMeters: 450,
		Value:        "1000000000000000000",
		PropertyType: domain.TypeResidential,
		Deed: document.UploadInput{
			FileName: "deed.pdf",
			Content:  testDeed,
			Uploader: testOwner,
		},
	}
}

// confirmedReceipt builds a receipt carrying a PropertyRegistered event for
// the given parcel identifier
func confirmedReceipt(ledgerID uint64) *types.Receipt {
	sig := crypto.Keccak256Hash([]byte("PropertyRegistered(uint256,address,string)"))
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		GasUsed:     250_000,
		Logs: []*types.Log{{
			Address: testContract,
			Topics: []common.Hash{
				sig,
				common.BigToHash(new(big.Int).SetUint64(ledgerID)),
				common.BytesToHash(common.HexToAddress(testOwner).Bytes()),
			},
		}},
	}
}

func TestRegisterPropertyHappyPath(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), "deed.pdf", gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{
		TxHash:      "0xabc",
		BlockNumber: 100,
		GasUsed:     250_000,
		Receipt:     confirmedReceipt(17),
	}, nil)

	result, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	require.NoError(t, err)
	assert.Equal(t, uint64(17), result.LedgerID)
	assert.Equal(t, testRef, result.ContentRef)

	property, err := f.store.GetPropertyByLedgerID(context.Background(), domain.ChainCeloAlfajores, 17)
	require.NoError(t, err)
	require.NotNil(t, property)
	assert.Equal(t, common.HexToAddress(testOwner).Hex(), property.OwnerAddress)
	assert.Equal(t, domain.StatusActive, property.Status)
	require.NotNil(t, property.DocumentHash)
	assert.Equal(t, result.ContentHash, *property.DocumentHash)

	// The deed row is anchored to the property
	doc, err := f.store.GetDocumentByRef(context.Background(), testRef)
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.NotNil(t, doc.PropertyID)
	assert.Equal(t, property.ID, *doc.PropertyID)
}

func TestRegisterPropertyRejectsDuplicateLocationBeforeSideEffects(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{
		TxHash:  "0xabc",
		Receipt: confirmedReceipt(1),
	}, nil)

	_, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	require.NoError(t, err)

	// Second attempt for the same location: no pin, no submission
	input := registrationInput()
	input.Deed.Content = append([]byte(nil), testDeed...)
	input.Deed.Content = append(input.Deed.Content, " v2"...)
	_, err = f.orchestrator.RegisterProperty(context.Background(), input)
	assert.ErrorIs(t, err, domain.ErrDuplicateRegistration)
}

func TestRegisterPropertyCompensatesOnFinalFailure(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(nil, domain.NewExecutorError(domain.ExecutorReverted, errors.New("reverted")))
	f.gateway.EXPECT().Unpin(gomock.Any(), testRef).Return(nil)

	_, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	ee, ok := domain.AsExecutorError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutorReverted, ee.Kind)

	// The metadata row survives, marked discarded
	doc, err := f.store.GetDocumentByRef(context.Background(), testRef)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.True(t, doc.Discarded)
}

func TestRegisterPropertyKeepsPinOnAmbiguousFailure(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(nil, domain.NewExecutorError(domain.ExecutorTimeout, errors.New("no receipt")))
	// No Unpin expectation: compensating an unknown outcome could orphan a
	// ledger record that confirmed late

	_, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	ee, ok := domain.AsExecutorError(err)
	require.True(t, ok)
	assert.True(t, ee.Ambiguous())

	doc, err := f.store.GetDocumentByRef(context.Background(), testRef)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.False(t, doc.Discarded)
}

func TestRegisterPropertyCacheFailureDoesNotUnwindLedger(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{
		TxHash:  "0xabc",
		Receipt: confirmedReceipt(5),
	}, nil)
	f.store.FailUpsertProperty = errors.New("connection refused")

	result, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	assert.ErrorIs(t, err, domain.ErrCachePersistenceFailed)
	// The ledger identifier is still reported so callers can track the parcel
	require.NotNil(t, result)
	assert.Equal(t, uint64(5), result.LedgerID)
}

func TestRegisterPropertyIdentifierNotEmitted(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{
		TxHash: "0xabc",
		Receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
		},
	}, nil)

	_, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	ee, ok := domain.AsExecutorError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutorIdentifierNotEmitted, ee.Kind)
}

func TestTransferPropertyRejectsStaleOwner(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{
		TxHash:  "0xabc",
		Receipt: confirmedReceipt(9),
	}, nil)
	_, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	require.NoError(t, err)

	_, err = f.orchestrator.TransferProperty(context.Background(),
		"0x9999999999999999999999999999999999999999", 9,
		"0x4444444444444444444444444444444444444444")
	assert.ErrorIs(t, err, domain.ErrStaleOwner)
}

func TestTransferPropertyUpdatesOwner(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{
		TxHash:  "0xabc",
		Receipt: confirmedReceipt(3),
	}, nil)
	_, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	require.NoError(t, err)

	newOwner := "0x4444444444444444444444444444444444444444"
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{TxHash: "0xdef"}, nil)

	txHash, err := f.orchestrator.TransferProperty(context.Background(), testOwner, 3, newOwner)
	require.NoError(t, err)
	assert.Equal(t, "0xdef", txHash)

	property, err := f.store.GetPropertyByLedgerID(context.Background(), domain.ChainCeloAlfajores, 3)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(newOwner).Hex(), property.OwnerAddress)
}

func TestTransferPropertyRejectsZeroAddress(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{
		TxHash:  "0xabc",
		Receipt: confirmedReceipt(7),
	}, nil)
	_, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	require.NoError(t, err)

	_, err = f.orchestrator.TransferProperty(context.Background(), testOwner, 7, domain.ZERO_ADDRESS)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrStaleOwner)
}

func TestVerifyPropertyUnknownParcel(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	_, err := f.orchestrator.VerifyProperty(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrPropertyNotFound)
}

func TestVerifyPropertySetsFlag(t *testing.T) {
	f, ctrl := newFixture(t)
	defer ctrl.Finish()

	f.gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{
		TxHash:  "0xabc",
		Receipt: confirmedReceipt(11),
	}, nil)
	_, err := f.orchestrator.RegisterProperty(context.Background(), registrationInput())
	require.NoError(t, err)

	f.exec.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&executor.Result{TxHash: "0xdef"}, nil)
	_, err = f.orchestrator.VerifyProperty(context.Background(), 11)
	require.NoError(t, err)

	property, err := f.store.GetPropertyByLedgerID(context.Background(), domain.ChainCeloAlfajores, 11)
	require.NoError(t, err)
	assert.True(t, property.Verified)

	// The attestation reaches the anchored deed as well
	doc, err := f.store.GetDocumentByRef(context.Background(), testRef)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.True(t, doc.Verified)
}
