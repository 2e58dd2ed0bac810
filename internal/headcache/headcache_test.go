package headcache_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landgrid/registry/internal/headcache"
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

func TestLatestBlockCachesWithinTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockHeadFetcher(ctrl)
	clock := mocks.NewMockClock(ctrl)

	base := time.Unix(1700000000, 0)
	clock.EXPECT().Now().Return(base)
	fetcher.EXPECT().FetchLatestBlock(gomock.Any()).Return(uint64(100), nil)

	provider := headcache.NewProvider(fetcher,
		headcache.Config{TTL: 10 * time.Second, StaleWindow: time.Minute}, clock)

	block, err := provider.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), block)

	// Within the TTL the cache answers without a fetch
	clock.EXPECT().Now().Return(base.Add(5 * time.Second))
	block, err = provider.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), block)

	// Past the TTL a fresh fetch happens
	clock.EXPECT().Now().Return(base.Add(15 * time.Second))
	fetcher.EXPECT().FetchLatestBlock(gomock.Any()).Return(uint64(105), nil)
	block, err = provider.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(105), block)
}

func TestLatestBlockServesStaleOnFetchFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockHeadFetcher(ctrl)
	clock := mocks.NewMockClock(ctrl)

	base := time.Unix(1700000000, 0)
	clock.EXPECT().Now().Return(base)
	fetcher.EXPECT().FetchLatestBlock(gomock.Any()).Return(uint64(100), nil)

	provider := headcache.NewProvider(fetcher,
		headcache.Config{TTL: 10 * time.Second, StaleWindow: time.Minute}, clock)

	_, err := provider.LatestBlock(context.Background())
	require.NoError(t, err)

	// Fetch fails inside the stale window: the old value is served
	clock.EXPECT().Now().Return(base.Add(30 * time.Second))
	fetcher.EXPECT().FetchLatestBlock(gomock.Any()).Return(uint64(0), errors.New("rpc down"))
	block, err := provider.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), block)

	// Beyond the stale window the failure surfaces
	clock.EXPECT().Now().Return(base.Add(5 * time.Minute))
	fetcher.EXPECT().FetchLatestBlock(gomock.Any()).Return(uint64(0), errors.New("rpc down"))
	_, err = provider.LatestBlock(context.Background())
	assert.Error(t, err)
}
