package playback_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speaker-service/internal/playback"
)

// silentMP3 builds frames of MPEG-1 Layer III, 128 kbps, 44.1 kHz with
// an all-zero payload, which decodes to silence.
func silentMP3(frames int) []byte {
	const frameBytes = 417

	header := []byte{0xFF, 0xFB, 0x90, 0x00}

	var buf bytes.Buffer

	for range frames {
		buf.Write(header)
		buf.Write(make([]byte, frameBytes-len(header)))
	}

	return buf.Bytes()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Len()
}

func TestHTTPOpener_DecodesToSink(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(silentMP3(8))
	}))
	t.Cleanup(server.Close)

	sink := &lockedBuffer{}
	opener := playback.NewHTTPOpener(sink, 1024)

	stream, err := opener.Open(context.Background(), server.URL+"/chime.mp3")
	require.NoError(t, err)

	var pumpErr error
	for range 10000 {
		pumpErr = stream.Pump()
		if pumpErr != nil {
			break
		}
	}

	require.ErrorIs(t, pumpErr, io.EOF)
	assert.Positive(t, sink.Len())
	require.NoError(t, stream.Close())
}

func TestHTTPOpener_Failures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.mp3":
			http.NotFound(w, r)
		default:
			_, _ = w.Write([]byte("<html>not audio</html>"))
		}
	}))
	t.Cleanup(server.Close)

	opener := playback.NewHTTPOpener(io.Discard, 0)

	_, err := opener.Open(context.Background(), "bad://url")
	require.ErrorIs(t, err, playback.ErrUnsupportedScheme)

	_, err = opener.Open(context.Background(), server.URL+"/missing.mp3")
	require.ErrorIs(t, err, playback.ErrBadStatus)

	_, err = opener.Open(context.Background(), server.URL+"/page.html")
	require.Error(t, err)

	_, err = opener.Open(context.Background(), "http://127.0.0.1:1/nothing.mp3")
	require.Error(t, err)
}

func TestController_WithHTTPOpener(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(silentMP3(4))
	}))
	t.Cleanup(server.Close)

	amp := &recordingAmplifier{}
	controller, err := playback.NewController(playback.Options{
		Opener:    playback.NewHTTPOpener(io.Discard, 0),
		Amplifier: amp,
	})
	require.NoError(t, err)

	require.NoError(t, controller.Play(context.Background(), server.URL+"/a.mp3"))
	assert.True(t, controller.Snapshot().Amplifier)

	for controller.Pump() {
	}

	assert.Equal(t, "idle", controller.Snapshot().State)
	assert.Equal(t, []bool{false, true, false}, amp.history())
}

func TestController_StopInterruptsStalledStream(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(silentMP3(4))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	sink := &lockedBuffer{}
	amp := &recordingAmplifier{}
	controller, err := playback.NewController(playback.Options{
		Opener:    playback.NewHTTPOpener(sink, 512),
		Amplifier: amp,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)

	go func() {
		runDone <- controller.Run(ctx, time.Millisecond)
	}()

	require.NoError(t, controller.Play(context.Background(), server.URL+"/stall.mp3"))

	// The sent frames drain into the sink, then the decoder waits on the body.
	require.Eventually(t, func() bool { return sink.Len() > 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan struct{})

	go func() {
		_ = controller.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind a stalled stream")
	}

	snapshot := controller.Snapshot()
	assert.Equal(t, "idle", snapshot.State)
	assert.False(t, snapshot.Amplifier)
	assert.Equal(t, []bool{false, true, false}, amp.history())

	cancel()

	select {
	case runErr := <-runDone:
		require.NoError(t, runErr)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the stream was closed")
	}
}

func TestGPIOAmplifier(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "value")
	amp := playback.NewGPIOAmplifier(path)

	require.NoError(t, amp.SetEnabled(true))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	require.NoError(t, amp.SetEnabled(false))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0", string(data))

	missing := playback.NewGPIOAmplifier(filepath.Join(t.TempDir(), "no", "such", "value"))
	require.Error(t, missing.SetEnabled(true))
}

func TestNewController_BootFailure(t *testing.T) {
	t.Parallel()

	_, err := playback.NewController(playback.Options{
		Opener:    playback.NewHTTPOpener(io.Discard, 0),
		Amplifier: playback.NewGPIOAmplifier(filepath.Join(t.TempDir(), "no", "value")),
	})
	require.Error(t, err)

	var pathErr *os.PathError
	assert.True(t, errors.As(err, &pathErr))
}

func TestFileSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pcm.raw")
	sink := playback.NewFileSink(path)

	_, err := sink.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = sink.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}
