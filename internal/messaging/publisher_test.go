package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landgrid/registry/internal/adapter"
	"github.com/landgrid/registry/internal/domain"
	"github.com/landgrid/registry/internal/logger"
	"github.com/landgrid/registry/internal/messaging"
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

func publisherConfig() messaging.Config {
	return messaging.Config{
		URL:           "nats://localhost:4222",
		StreamName:    "LANDGRID_EVENTS",
		SubjectPrefix: "landgrid.registry.events",
	}
}

func newPublisher(t *testing.T, ctrl *gomock.Controller, jsonAdapter adapter.JSON) (messaging.Publisher, *mocks.MockNatsConn, *mocks.MockJetStream) {
	natsJS := mocks.NewMockNatsJetStream(ctrl)
	conn := mocks.NewMockNatsConn(ctrl)
	js := mocks.NewMockJetStream(ctrl)

	cfg := publisherConfig()
	natsJS.EXPECT().Connect(cfg.URL, gomock.Any()).Return(conn, js, nil)
	js.EXPECT().CreateOrUpdateStream(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, streamCfg jetstream.StreamConfig) (jetstream.Stream, error) {
			assert.Equal(t, cfg.StreamName, streamCfg.Name)
			assert.Equal(t, []string{cfg.SubjectPrefix + ".>"}, streamCfg.Subjects)
			return nil, nil
		})

	pub, err := messaging.NewPublisher(context.Background(), cfg, natsJS, jsonAdapter)
	require.NoError(t, err)
	return pub, conn, js
}

func registeredEvent() *domain.RegistryEvent {
	return &domain.RegistryEvent{
		EventType:   domain.EventPropertyRegistered,
		Chain:       domain.ChainCeloAlfajores,
		TxHash:      "0xabc",
		BlockNumber: 100,
		PropertyID:  17,
	}
}

func TestPublishEventSubjectAndPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pub, _, js := newPublisher(t, ctrl, adapter.NewJSON())

	event := registeredEvent()
	js.EXPECT().Publish(gomock.Any(),
		"landgrid.registry.events.eip155_44787.property_registered", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
			var decoded domain.RegistryEvent
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, event.TxHash, decoded.TxHash)
			assert.Equal(t, event.PropertyID, decoded.PropertyID)
			return &jetstream.PubAck{}, nil
		})

	require.NoError(t, pub.PublishEvent(context.Background(), event))
}

func TestPublishEventMarshalFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	jsonAdapter := mocks.NewMockJSON(ctrl)
	pub, _, _ := newPublisher(t, ctrl, jsonAdapter)

	jsonAdapter.EXPECT().Marshal(gomock.Any()).Return(nil, errors.New("cyclic value"))
	assert.Error(t, pub.PublishEvent(context.Background(), registeredEvent()))
}

func TestCloseClosesConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pub, conn, _ := newPublisher(t, ctrl, adapter.NewJSON())
	conn.EXPECT().Close()
	pub.Close()
}
