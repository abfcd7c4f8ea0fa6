// Package worker_test tests the NATS text-to-audio worker.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/ingest"
	"github.com/book-expert/speaker-service/internal/worker"
)

const testSubject = "speaker.tts.request"

var errMockIngest = errors.New("mock ingest error")

// mockIngester records the inputs it receives.
type mockIngester struct {
	mu               sync.Mutex
	ingestShouldFail bool
	received         []ingest.RawInput
}

func (m *mockIngester) Ingest(_ context.Context, in ingest.RawInput) (core.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received = append(m.received, in)

	if m.ingestShouldFail {
		return core.Artifact{}, errMockIngest
	}

	return core.Artifact{
		ID:       "speech-1.mp3",
		PublicID: "speech-1",
		Location: "http://localhost:3000/uploads/speech-1.mp3",
	}, nil
}

func (m *mockIngester) calls() []ingest.RawInput {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]ingest.RawInput(nil), m.received...)
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func startWorker(t *testing.T, ingester *mockIngester) *nats.Conn {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(natsConnection, testSubject, "speakers", ingester, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	// Requests sent before the subscription is registered would go unanswered.
	require.Eventually(t, func() bool {
		_, reqErr := natsConnection.Request(testSubject, []byte(`{}`), 200*time.Millisecond)

		return reqErr == nil
	}, 5*time.Second, 50*time.Millisecond)

	return natsConnection
}

func request(t *testing.T, natsConnection *nats.Conn, payload any) worker.TextToAudioReply {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testSubject, data, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply worker.TextToAudioReply
	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	ingester := &mockIngester{}
	natsConnection := startWorker(t, ingester)

	req := worker.TextToAudioRequest{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		Text: "hello",
		Name: "greeting",
	}

	reply := request(t, natsConnection, req)

	assert.Empty(t, reply.Error)
	assert.Equal(t, "http://localhost:3000/uploads/speech-1.mp3", reply.URL)
	assert.Equal(t, "speech-1", reply.PublicID)
	assert.Equal(t, req.Header.WorkflowID, reply.Header.WorkflowID)

	calls := ingester.calls()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, ingest.KindText, last.Kind)
	assert.Equal(t, "hello", last.Text)
	assert.Equal(t, "greeting", last.Name)
}

func TestMessageHandler_EmptyTextIsRejected(t *testing.T) {
	t.Parallel()

	ingester := &mockIngester{}
	natsConnection := startWorker(t, ingester)
	before := len(ingester.calls())

	reply := request(t, natsConnection, worker.TextToAudioRequest{Text: "   "})

	assert.Equal(t, worker.ErrTextEmpty.Error(), reply.Error)
	assert.Empty(t, reply.URL)
	assert.Len(t, ingester.calls(), before, "no ingestion for an empty request")
}

func TestMessageHandler_IngestFailure(t *testing.T) {
	t.Parallel()

	ingester := &mockIngester{ingestShouldFail: true}
	natsConnection := startWorker(t, ingester)

	reply := request(t, natsConnection, worker.TextToAudioRequest{Text: "hello"})

	assert.Contains(t, reply.Error, errMockIngest.Error())
	assert.Empty(t, reply.PublicID)
}

func TestMessageHandler_MalformedJSON(t *testing.T) {
	t.Parallel()

	natsConnection := startWorker(t, &mockIngester{})

	replyMsg, err := natsConnection.Request(testSubject, []byte("{not json"), 5*time.Second)
	require.NoError(t, err)

	var reply worker.TextToAudioReply
	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Contains(t, reply.Error, "failed to unmarshal request")
}

func TestNewNatsWorker_RequiresSubject(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, "", "", &mockIngester{}, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}
