package playback_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/observe"
	"github.com/book-expert/speaker-service/internal/observe/observetest"
	"github.com/book-expert/speaker-service/internal/playback"
)

var errMockOpen = errors.New("mock open failed")

// recordingAmplifier keeps every hardware write.
type recordingAmplifier struct {
	mu     sync.Mutex
	writes []bool
}

func (a *recordingAmplifier) SetEnabled(enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.writes = append(a.writes, enabled)

	return nil
}

func (a *recordingAmplifier) history() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]bool(nil), a.writes...)
}

func (a *recordingAmplifier) enables() int {
	count := 0

	for _, w := range a.history() {
		if w {
			count++
		}
	}

	return count
}

// fakeStream ends after chunks pumps.
type fakeStream struct {
	mu     sync.Mutex
	url    string
	chunks int
	pumped int
	closed bool
}

func (s *fakeStream) Pump() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pumped++

	if s.pumped > s.chunks {
		return io.EOF
	}

	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// fakeOpener opens fakeStreams. URLs listed in block wait for a release.
type fakeOpener struct {
	mu      sync.Mutex
	streams []*fakeStream
	chunks  int
	block   map[string]chan struct{}
	opening chan string
}

func newFakeOpener(chunks int) *fakeOpener {
	return &fakeOpener{
		chunks:  chunks,
		block:   make(map[string]chan struct{}),
		opening: make(chan string, 8),
	}
}

func (o *fakeOpener) hold(url string) chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	release := make(chan struct{})
	o.block[url] = release

	return release
}

func (o *fakeOpener) Open(_ context.Context, url string) (playback.Stream, error) {
	o.mu.Lock()
	release := o.block[url]
	o.mu.Unlock()

	o.opening <- url

	if release != nil {
		<-release
	}

	if url == "bad://url" {
		return nil, errMockOpen
	}

	stream := &fakeStream{url: url, chunks: o.chunks}

	o.mu.Lock()
	o.streams = append(o.streams, stream)
	o.mu.Unlock()

	return stream, nil
}

func (o *fakeOpener) opened() []*fakeStream {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]*fakeStream(nil), o.streams...)
}

func newController(t *testing.T, opener playback.Opener, grace time.Duration) (*playback.Controller, *recordingAmplifier, *observe.Metrics) {
	t.Helper()

	amp := &recordingAmplifier{}
	metrics, _ := observetest.New(t)

	controller, err := playback.NewController(playback.Options{
		Opener:     opener,
		Amplifier:  amp,
		GraceDelay: grace,
		Metrics:    metrics,
	})
	require.NoError(t, err)

	return controller, amp, metrics
}

func TestNewController_DisablesAmplifierAtBoot(t *testing.T) {
	t.Parallel()

	controller, amp, _ := newController(t, newFakeOpener(1), 0)

	assert.Equal(t, []bool{false}, amp.history())

	snapshot := controller.Snapshot()
	assert.Equal(t, "idle", snapshot.State)
	assert.False(t, snapshot.Amplifier)
	assert.Empty(t, snapshot.URL)
}

func TestPlay_OpenFailureLeavesIdleAndDisabled(t *testing.T) {
	t.Parallel()

	controller, amp, _ := newController(t, newFakeOpener(1), 0)

	err := controller.Play(context.Background(), "bad://url")
	require.ErrorIs(t, err, core.ErrStreamOpen)
	require.ErrorIs(t, err, errMockOpen)

	snapshot := controller.Snapshot()
	assert.Equal(t, "idle", snapshot.State)
	assert.False(t, snapshot.Amplifier)
	assert.Equal(t, []bool{false, true, false}, amp.history())
}

func TestPlay_EmptyURL(t *testing.T) {
	t.Parallel()

	controller, amp, _ := newController(t, newFakeOpener(1), 0)

	err := controller.Play(context.Background(), "")
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, []bool{false}, amp.history())
}

func TestPlay_PreemptionKeepsOneStreamAndOneEnable(t *testing.T) {
	t.Parallel()

	opener := newFakeOpener(100)
	controller, amp, _ := newController(t, opener, 5*time.Millisecond)

	require.NoError(t, controller.Play(context.Background(), "http://a/1.mp3"))
	require.NoError(t, controller.Play(context.Background(), "http://a/2.mp3"))

	streams := opener.opened()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].isClosed(), "first stream closed by preemption")
	assert.False(t, streams[1].isClosed())

	snapshot := controller.Snapshot()
	assert.Equal(t, "active", snapshot.State)
	assert.Equal(t, "http://a/2.mp3", snapshot.URL)
	assert.True(t, snapshot.Amplifier)
	assert.Equal(t, 1, amp.enables(), "no double-enable glitch")
	assert.Equal(t, []bool{false, true}, amp.history())
}

func TestPlay_PreemptionWaitsGraceDelay(t *testing.T) {
	t.Parallel()

	opener := newFakeOpener(100)
	controller, _, _ := newController(t, opener, 50*time.Millisecond)

	require.NoError(t, controller.Play(context.Background(), "http://a/1.mp3"))

	start := time.Now()
	require.NoError(t, controller.Play(context.Background(), "http://a/2.mp3"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestStop_IsIdempotent(t *testing.T) {
	t.Parallel()

	controller, amp, _ := newController(t, newFakeOpener(1), 0)

	require.NoError(t, controller.Stop())
	first := controller.Snapshot()

	require.NoError(t, controller.Stop())
	second := controller.Snapshot()

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Amplifier, second.Amplifier)
	assert.Equal(t, "idle", second.State)
	assert.Equal(t, []bool{false}, amp.history(), "no hardware writes without an edge")
}

func TestStop_EndsActiveStream(t *testing.T) {
	t.Parallel()

	opener := newFakeOpener(100)
	controller, amp, _ := newController(t, opener, 0)

	require.NoError(t, controller.Play(context.Background(), "http://a/1.mp3"))
	require.NoError(t, controller.Stop())

	assert.True(t, opener.opened()[0].isClosed())
	assert.Equal(t, "idle", controller.Snapshot().State)
	assert.Equal(t, []bool{false, true, false}, amp.history())
}

func TestPump_StreamEndDisablesAmplifier(t *testing.T) {
	t.Parallel()

	opener := newFakeOpener(2)
	controller, amp, _ := newController(t, opener, 0)

	require.NoError(t, controller.Play(context.Background(), "http://a/1.mp3"))

	assert.True(t, controller.Pump())
	assert.True(t, controller.Pump())
	assert.False(t, controller.Pump(), "third pump reaches end of stream")

	assert.Equal(t, "idle", controller.Snapshot().State)
	assert.False(t, controller.Snapshot().Amplifier)
	assert.True(t, opener.opened()[0].isClosed())
	assert.Equal(t, []bool{false, true, false}, amp.history())

	assert.False(t, controller.Pump(), "pumping while idle is a no-op")
}

func TestStop_DuringStartSupersedesPlay(t *testing.T) {
	t.Parallel()

	opener := newFakeOpener(100)
	release := opener.hold("http://a/slow.mp3")
	controller, amp, _ := newController(t, opener, 0)

	result := make(chan error, 1)

	go func() {
		result <- controller.Play(context.Background(), "http://a/slow.mp3")
	}()

	<-opener.opening
	assert.Equal(t, "starting", controller.Snapshot().State)
	assert.True(t, controller.Snapshot().Amplifier)

	require.NoError(t, controller.Stop())
	close(release)

	require.ErrorIs(t, <-result, playback.ErrSuperseded)

	assert.Equal(t, "idle", controller.Snapshot().State)
	assert.False(t, controller.Snapshot().Amplifier)
	require.Len(t, opener.opened(), 1)
	assert.True(t, opener.opened()[0].isClosed(), "superseded stream is closed")
	assert.Equal(t, []bool{false, true, false}, amp.history())
}

func TestPlay_DuringStartSupersedesEarlierPlay(t *testing.T) {
	t.Parallel()

	opener := newFakeOpener(100)
	release := opener.hold("http://a/slow.mp3")
	controller, amp, _ := newController(t, opener, time.Millisecond)

	first := make(chan error, 1)

	go func() {
		first <- controller.Play(context.Background(), "http://a/slow.mp3")
	}()

	<-opener.opening

	second := make(chan error, 1)

	go func() {
		second <- controller.Play(context.Background(), "http://a/fast.mp3")
	}()

	require.NoError(t, <-second)
	close(release)
	require.ErrorIs(t, <-first, playback.ErrSuperseded)

	snapshot := controller.Snapshot()
	assert.Equal(t, "active", snapshot.State)
	assert.Equal(t, "http://a/fast.mp3", snapshot.URL)
	assert.Equal(t, 1, amp.enables())

	for _, stream := range opener.opened() {
		assert.Equal(t, stream.url == "http://a/slow.mp3", stream.isClosed(), stream.url)
	}
}

func TestPlay_CancelledDuringGraceDelay(t *testing.T) {
	t.Parallel()

	opener := newFakeOpener(100)
	controller, _, _ := newController(t, opener, time.Hour)

	require.NoError(t, controller.Play(context.Background(), "http://a/1.mp3"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := controller.Play(ctx, "http://a/2.mp3")
	require.ErrorIs(t, err, core.ErrStreamOpen)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, "idle", controller.Snapshot().State)
	assert.False(t, controller.Snapshot().Amplifier)
}

func TestPlay_CancelledBeforeTakeoverLeavesPlaybackAlone(t *testing.T) {
	t.Parallel()

	opener := newFakeOpener(100)
	controller, amp, _ := newController(t, opener, 0)

	require.NoError(t, controller.Play(context.Background(), "http://a/1.mp3"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := controller.Play(ctx, "http://a/2.mp3")
	require.ErrorIs(t, err, playback.ErrSuperseded)
	require.ErrorIs(t, err, context.Canceled)

	snapshot := controller.Snapshot()
	assert.Equal(t, "active", snapshot.State)
	assert.Equal(t, "http://a/1.mp3", snapshot.URL)
	assert.True(t, snapshot.Amplifier)
	assert.Equal(t, []bool{false, true}, amp.history())
}

func TestRun_PumpsUntilEndAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	opener := newFakeOpener(3)
	controller, _, _ := newController(t, opener, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- controller.Run(ctx, time.Millisecond)
	}()

	require.NoError(t, controller.Play(context.Background(), "http://a/1.mp3"))

	require.Eventually(t, func() bool {
		return controller.Snapshot().State == "idle"
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, controller.Play(context.Background(), "http://a/2.mp3"))
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "idle", controller.Snapshot().State)
	assert.False(t, controller.Snapshot().Amplifier)
}

func TestChanges_ReportsTransitions(t *testing.T) {
	t.Parallel()

	controller, _, _ := newController(t, newFakeOpener(1), 0)

	require.NoError(t, controller.Play(context.Background(), "http://a/1.mp3"))

	starting := <-controller.Changes()
	assert.Equal(t, "starting", starting.State)

	active := <-controller.Changes()
	assert.Equal(t, "active", active.State)
	assert.Equal(t, "http://a/1.mp3", active.URL)
	assert.True(t, active.Amplifier)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", playback.Idle.String())
	assert.Equal(t, "starting", playback.Starting.String())
	assert.Equal(t, "active", playback.Active.String())
	assert.Equal(t, "stopping", playback.Stopping.String())
	assert.Equal(t, "state(9)", playback.State(9).String())
}
