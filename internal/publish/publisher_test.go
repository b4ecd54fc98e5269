package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/bulletin-reader/internal/core"
	"github.com/book-expert/bulletin-reader/internal/publish"
)

const testSubject = "programme.ready"

var errMockUpload = errors.New("mock upload error")

// mockObjectStore is a mock implementation of the ObjectStore interface.
type mockObjectStore struct {
	uploadShouldFail bool
	uploadedKey      string
	uploadedData     []byte
}

func (m *mockObjectStore) Download(_ context.Context, _ string) ([]byte, error) {
	return m.uploadedData, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	if m.uploadShouldFail {
		return errMockUpload
	}

	m.uploadedKey = key
	m.uploadedData = data

	return nil
}

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	lg, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lg.Close() })

	return lg
}

func startServer(t *testing.T) *server.Server {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	return natsServer
}

func connect(t *testing.T, natsServer *server.Server) *nats.Conn {
	t.Helper()

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	return natsConnection
}

func TestNatsPublisher_Publish(t *testing.T) {
	t.Parallel()

	natsServer := startServer(t)
	natsConnection := connect(t, natsServer)
	listener := connect(t, natsServer)

	sub, err := listener.SubscribeSync(testSubject)
	require.NoError(t, err)
	require.NoError(t, listener.Flush())

	store := &mockObjectStore{}
	publisher, err := publish.NewNatsPublisher(natsConnection, testSubject, store, createTestLogger(t))
	require.NoError(t, err)

	created := time.Date(2026, 10, 18, 5, 20, 0, 0, time.UTC)

	key, err := publisher.Publish(context.Background(), core.Announcement{
		RunID:    "run-1",
		Show:     "The Shipping Forecast",
		Path:     "/shows/01/output.mp3",
		Duration: 90 * time.Second,
		Created:  created,
	}, []byte("programme"))
	require.NoError(t, err)

	assert.Equal(t, "the-shipping-forecast/run-1.mp3", key)
	assert.Equal(t, key, store.uploadedKey)
	assert.Equal(t, []byte("programme"), store.uploadedData)

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var announcement core.Announcement
	require.NoError(t, json.Unmarshal(msg.Data, &announcement))
	assert.Equal(t, "run-1", announcement.RunID)
	assert.Equal(t, "The Shipping Forecast", announcement.Show)
	assert.Equal(t, key, announcement.Key)
	assert.Equal(t, 90*time.Second, announcement.Duration)
	assert.True(t, created.Equal(announcement.Created))
}

func TestNatsPublisher_Publish_GeneratesRunID(t *testing.T) {
	t.Parallel()

	natsConnection := connect(t, startServer(t))
	store := &mockObjectStore{}

	publisher, err := publish.NewNatsPublisher(natsConnection, testSubject, store, createTestLogger(t))
	require.NoError(t, err)

	first, err := publisher.Publish(context.Background(), core.Announcement{Show: "Inshore"}, []byte("a"))
	require.NoError(t, err)

	second, err := publisher.Publish(context.Background(), core.Announcement{Show: "Inshore"}, []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Regexp(t, `^inshore/[0-9a-f-]{36}\.mp3$`, first)
}

func TestNatsPublisher_Publish_Errors(t *testing.T) {
	t.Parallel()

	natsConnection := connect(t, startServer(t))
	lg := createTestLogger(t)

	_, err := publish.NewNatsPublisher(natsConnection, "", &mockObjectStore{}, lg)
	require.ErrorIs(t, err, publish.ErrSubjectEmpty)

	publisher, err := publish.NewNatsPublisher(natsConnection, testSubject, &mockObjectStore{uploadShouldFail: true}, lg)
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), core.Announcement{Show: "Inshore"}, []byte("a"))
	require.ErrorIs(t, err, errMockUpload)

	_, err = publisher.Publish(context.Background(), core.Announcement{Show: "Inshore"}, nil)
	require.ErrorIs(t, err, publish.ErrProgrammeEmpty)

	_, err = publisher.Publish(context.Background(), core.Announcement{}, []byte("a"))
	require.ErrorIs(t, err, publish.ErrShowEmpty)
}

func TestConnect_RoundTripThroughObjectStore(t *testing.T) {
	t.Parallel()

	natsServer := startServer(t)

	publisher, err := publish.Connect(natsServer.ClientURL(), "PROGRAMMES", testSubject, createTestLogger(t))
	require.NoError(t, err)

	defer func() { _ = publisher.Close() }()

	key, err := publisher.Publish(context.Background(), core.Announcement{Show: "Shipping", RunID: "r1"}, []byte("mp3"))
	require.NoError(t, err)

	reader := connect(t, natsServer)
	jetstreamContext, err := reader.JetStream()
	require.NoError(t, err)

	bucket, err := jetstreamContext.ObjectStore("PROGRAMMES")
	require.NoError(t, err)

	data, err := bucket.GetBytes(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), data)
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()

	_, err := publish.Connect("nats://127.0.0.1:1", "PROGRAMMES", testSubject, createTestLogger(t))
	require.Error(t, err)
}
