package contentstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landgrid/registry/internal/contentstore"
	"github.com/landgrid/registry/internal/mocks"
)

const testRef = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func newGateway(t *testing.T) (contentstore.Gateway, *mocks.MockHTTPClient, *gomock.Controller) {
	ctrl := gomock.NewController(t)
	httpClient := mocks.NewMockHTTPClient(ctrl)
	gateway := contentstore.NewPinataGateway(contentstore.Config{
		APIURL:     "https://api.pinata.cloud",
		GatewayURL: "https://gateway.pinata.cloud",
		APIKey:     "key",
		APISecret:  "secret",
		Timeout:    30 * time.Second,
	}, httpClient)
	return gateway, httpClient, ctrl
}

func TestValidRef(t *testing.T) {
	assert.True(t, contentstore.ValidRef(testRef))
	assert.True(t, contentstore.ValidRef("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"))
	assert.False(t, contentstore.ValidRef(""))
	assert.False(t, contentstore.ValidRef("Qmtooshort"))
	assert.False(t, contentstore.ValidRef("notaref"))
	// base58 excludes 0, O, I, l
	assert.False(t, contentstore.ValidRef("Qm0wAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"))
}

func TestPinParsesGatewayResponse(t *testing.T) {
	gateway, httpClient, ctrl := newGateway(t)
	defer ctrl.Finish()

	httpClient.EXPECT().PostMultipart(gomock.Any(),
		"https://api.pinata.cloud/pinning/pinFileToIPFS",
		"file", "deed.pdf", gomock.Any(), gomock.Nil(), gomock.Any()).
		Return([]byte(`{"IpfsHash":"`+testRef+`","PinSize":1234}`), nil)

	ref, err := gateway.Pin(context.Background(), "deed.pdf", []byte("content"))
	require.NoError(t, err)
	assert.Equal(t, testRef, ref)
}

func TestPinRejectsMalformedReference(t *testing.T) {
	gateway, httpClient, ctrl := newGateway(t)
	defer ctrl.Finish()

	httpClient.EXPECT().PostMultipart(gomock.Any(), gomock.Any(), gomock.Any(),
		gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]byte(`{"IpfsHash":"garbage"}`), nil)

	_, err := gateway.Pin(context.Background(), "deed.pdf", []byte("content"))
	assert.Error(t, err)
}

func TestFetchUsesPublicGateway(t *testing.T) {
	gateway, httpClient, ctrl := newGateway(t)
	defer ctrl.Finish()

	httpClient.EXPECT().GetBytes(gomock.Any(),
		"https://gateway.pinata.cloud/ipfs/"+testRef, gomock.Nil()).
		Return([]byte("content"), nil)

	content, err := gateway.Fetch(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), content)
}

func TestFetchRejectsMalformedReference(t *testing.T) {
	gateway, _, ctrl := newGateway(t)
	defer ctrl.Finish()

	_, err := gateway.Fetch(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
}

func TestUnpinCallsDelete(t *testing.T) {
	gateway, httpClient, ctrl := newGateway(t)
	defer ctrl.Finish()

	httpClient.EXPECT().Delete(gomock.Any(),
		"https://api.pinata.cloud/pinning/unpin/"+testRef, gomock.Any()).
		Return(nil, nil)

	assert.NoError(t, gateway.Unpin(context.Background(), testRef))
}
