package document_test

import (
	"context"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/document"
	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/logger"
	"github.com/landgrid/registry/internal/mocks"
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
	testRef      = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	testUploader = "0x2222222222222222222222222222222222222222"
	testReader   = "0x4444444444444444444444444444444444444444"
)

var testPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF")

func newService(t *testing.T) (*document.Service, *storetest.MemoryStore, *mocks.MockGateway, *gomock.Controller) {
	ctrl := gomock.NewController(t)
	st := storetest.NewMemoryStore()
	gateway := mocks.NewMockGateway(ctrl)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	sealer, err := document.NewSealer(hex.EncodeToString(key))
	require.NoError(t, err)

	svc := document.NewService(document.Config{
		MaxFileSize:  1 << 20,
		AllowedTypes: []string{"application/pdf", "image/png"},
	}, st, gateway, sealer, adapter.NewClock())
	return svc, st, gateway, ctrl
}

func upload() document.UploadInput {
	return document.UploadInput{
		FileName: "deed.pdf",
		Content:  testPDF,
		Uploader: testUploader,
	}
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	svc, _, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	var pinned []byte
	gateway.EXPECT().Pin(gomock.Any(), "deed.pdf", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, content []byte) (string, error) {
			pinned = content
			return testRef, nil
		})

	doc, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)
	assert.Equal(t, document.HashContent(testPDF), doc.ContentHash)
	assert.Equal(t, "application/pdf", doc.MimeType)

	gateway.EXPECT().Fetch(gomock.Any(), testRef).Return(pinned, nil)
	content, got, err := svc.Retrieve(context.Background(), testRef, testUploader)
	require.NoError(t, err)
	assert.Equal(t, testPDF, content)
	assert.Equal(t, uint64(0), doc.DownloadCount)
	assert.Equal(t, doc.ID, got.ID)
}

func TestStoreEncryptsBeforePinning(t *testing.T) {
	svc, _, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	var pinned []byte
	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, content []byte) (string, error) {
			pinned = content
			return testRef, nil
		})

	input := upload()
	input.Encrypt = true
	doc, err := svc.Store(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, doc.Encrypted)
	// The gateway never sees plaintext
	assert.NotEqual(t, testPDF, pinned)
	// But the hash is over the plaintext
	assert.Equal(t, document.HashContent(testPDF), doc.ContentHash)

	gateway.EXPECT().Fetch(gomock.Any(), testRef).Return(pinned, nil)
	content, _, err := svc.Retrieve(context.Background(), testRef, testUploader)
	require.NoError(t, err)
	assert.Equal(t, testPDF, content)
}

func TestStoreRejectsDuplicateContent(t *testing.T) {
	svc, _, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	_, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	_, err = svc.Store(context.Background(), upload())
	assert.ErrorIs(t, err, domain.ErrDuplicateDocument)
}

func TestStoreRejectsOversizeAndWrongType(t *testing.T) {
	svc, _, _, ctrl := newService(t)
	defer ctrl.Finish()

	big := upload()
	big.Content = make([]byte, 2<<20)
	_, err := svc.Store(context.Background(), big)
	assert.ErrorIs(t, err, domain.ErrFileTooLarge)

	text := upload()
	text.Content = []byte("plain text, not a deed")
	_, err = svc.Store(context.Background(), text)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFileType)
}

func TestStoreDuplicateContentNeverReachesGateway(t *testing.T) {
	svc, st, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	_, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	// Same bytes under a different name still collide on content hash
	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	input := upload()
	input.FileName = "copy.pdf"
	_, err = svc.Store(context.Background(), input)
	assert.ErrorIs(t, err, domain.ErrDuplicateDocument)
	assert.Len(t, st.Documents, 1)
}

func TestStoreRevivesDiscardedDocument(t *testing.T) {
	svc, st, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	first, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	gateway.EXPECT().Unpin(gomock.Any(), testRef).Return(nil)
	require.NoError(t, svc.Discard(context.Background(), testRef))

	// Re-registering the same deed after a compensated upload must pin again
	// and reactivate the existing row, not fail on the content hash
	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	second, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, st.Documents, 1)

	stored, err := st.GetDocumentByRef(context.Background(), testRef)
	require.NoError(t, err)
	assert.False(t, stored.Discarded)
	assert.Nil(t, stored.PropertyID)
}

func TestRetrieveDetectsIntegrityMismatch(t *testing.T) {
	svc, _, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	_, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	tampered := append([]byte(nil), testPDF...)
	tampered[0] ^= 0xff
	gateway.EXPECT().Fetch(gomock.Any(), testRef).Return(tampered, nil)

	_, _, err = svc.Retrieve(context.Background(), testRef, testUploader)
	assert.ErrorIs(t, err, domain.ErrIntegrityMismatch)
}

func TestRetrieveCountsDownloads(t *testing.T) {
	svc, st, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	doc, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	gateway.EXPECT().Fetch(gomock.Any(), testRef).Return(testPDF, nil).Times(2)
	_, _, err = svc.Retrieve(context.Background(), testRef, testUploader)
	require.NoError(t, err)
	_, _, err = svc.Retrieve(context.Background(), testRef, testUploader)
	require.NoError(t, err)

	stored, err := st.GetDocumentByRef(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.DownloadCount)
	assert.Equal(t, doc.ID, stored.ID)
}

func TestAccessControl(t *testing.T) {
	svc, _, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	_, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	// A stranger has no access
	_, _, err = svc.Retrieve(context.Background(), testRef, testReader)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	// A download grant opens retrieval
	require.NoError(t, svc.Grant(context.Background(), testRef, testUploader, testReader,
		domain.PermissionDownload, nil, nil))
	gateway.EXPECT().Fetch(gomock.Any(), testRef).Return(testPDF, nil)
	_, _, err = svc.Retrieve(context.Background(), testRef, testReader)
	require.NoError(t, err)

	// Revocation is immediate and one-way
	require.NoError(t, svc.Revoke(context.Background(), testRef, testUploader, testReader))
	_, _, err = svc.Retrieve(context.Background(), testRef, testReader)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestExpiredGrantDeniesAccess(t *testing.T) {
	svc, _, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	_, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, svc.Grant(context.Background(), testRef, testUploader, testReader,
		domain.PermissionDownload, nil, &expired))

	_, _, err = svc.Retrieve(context.Background(), testRef, testReader)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestGrantNotYetValidDeniesAccess(t *testing.T) {
	svc, _, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	_, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	validFrom := time.Now().Add(time.Hour)
	require.NoError(t, svc.Grant(context.Background(), testRef, testUploader, testReader,
		domain.PermissionDownload, &validFrom, nil))

	_, _, err = svc.Retrieve(context.Background(), testRef, testReader)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestRevokeRecordsWhoAndWhen(t *testing.T) {
	svc, st, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	doc, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	require.NoError(t, svc.Grant(context.Background(), testRef, testUploader, testReader,
		domain.PermissionDownload, nil, nil))
	require.NoError(t, svc.Revoke(context.Background(), testRef, testUploader, testReader))

	grant, err := st.GetGrant(context.Background(), doc.ID, testReader)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.True(t, grant.Revoked)
	require.NotNil(t, grant.RevokedAt)
	require.NotNil(t, grant.RevokedBy)
	assert.Equal(t, testUploader, *grant.RevokedBy)
}

func TestViewGrantDoesNotPermitDownload(t *testing.T) {
	svc, st, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	_, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	require.NoError(t, svc.Grant(context.Background(), testRef, testUploader, testReader,
		domain.PermissionView, nil, nil))

	doc, err := st.GetDocumentByRef(context.Background(), testRef)
	require.NoError(t, err)
	assert.NoError(t, svc.Authorize(context.Background(), doc, testReader, domain.PermissionView))
	assert.ErrorIs(t, svc.Authorize(context.Background(), doc, testReader, domain.PermissionDownload),
		domain.ErrAccessDenied)
}

func TestPublicDocumentReadableByAnyone(t *testing.T) {
	svc, _, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	input := upload()
	input.Public = true
	_, err := svc.Store(context.Background(), input)
	require.NoError(t, err)

	gateway.EXPECT().Fetch(gomock.Any(), testRef).Return(testPDF, nil)
	_, _, err = svc.Retrieve(context.Background(), testRef, testReader)
	require.NoError(t, err)

	// Public grants reading, not sharing
	err = svc.Grant(context.Background(), testRef, testReader,
		"0x5555555555555555555555555555555555555555", domain.PermissionView, nil, nil)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestReapOrphansDiscardsOldUnanchoredDocuments(t *testing.T) {
	svc, st, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	doc, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	// A second document that did get anchored must survive the reap
	anchoredRef := "QmPZ9gcCEpqKTo6aq61g2nXGUhM4iCL3ewB6LDXZCtioEB"
	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(anchoredRef, nil)
	png := append([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 64)...)
	anchored, err := svc.Store(context.Background(), document.UploadInput{
		FileName: "survey.png",
		Content:  png,
		Uploader: testUploader,
	})
	require.NoError(t, err)
	require.NoError(t, st.AnchorDocument(context.Background(), anchored.ID, 1))

	gateway.EXPECT().Unpin(gomock.Any(), testRef).Return(nil)
	reaped, err := svc.ReapOrphans(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	orphan, err := st.GetDocumentByRef(context.Background(), testRef)
	require.NoError(t, err)
	assert.True(t, orphan.Discarded)
	assert.Equal(t, doc.ID, orphan.ID)

	kept, err := st.GetDocumentByRef(context.Background(), anchoredRef)
	require.NoError(t, err)
	assert.False(t, kept.Discarded)
}

func TestDiscardMarksRowAndUnpins(t *testing.T) {
	svc, st, gateway, ctrl := newService(t)
	defer ctrl.Finish()

	gateway.EXPECT().Pin(gomock.Any(), gomock.Any(), gomock.Any()).Return(testRef, nil)
	_, err := svc.Store(context.Background(), upload())
	require.NoError(t, err)

	gateway.EXPECT().Unpin(gomock.Any(), testRef).Return(nil)
	require.NoError(t, svc.Discard(context.Background(), testRef))

	doc, err := st.GetDocumentByRef(context.Background(), testRef)
	require.NoError(t, err)
	assert.True(t, doc.Discarded)

	_, _, err = svc.Retrieve(context.Background(), testRef, testUploader)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
