// Package playback is the device-resident side of the speaker: a controller
// owning the single live stream and the amplifier-enable line, the mp3 stream
// opener and the PCM sinks it decodes into.
//
// The amplifier is enabled only while a stream is starting or active. Every
// path into Idle disables it first, and NewController forces it off at boot.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/observe"
)

// State is the lifecycle state of the current stream session.
type State int

// Controller states.
const (
	Idle State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const changeBuffer = 16

// Static errors.
var (
	// ErrSuperseded is returned to a play request overtaken by a later play or stop.
	ErrSuperseded = errors.New("play request superseded")
	// ErrURLRequired is returned for an empty play url.
	ErrURLRequired = errors.New("url is required")
)

// Stream is one opened, decodable audio stream.
type Stream interface {
	// Pump decodes at most one bounded chunk into the output. It returns io.EOF
	// once the stream has ended.
	Pump() error
	Close() error
}

// Opener opens a stream for a url.
type Opener interface {
	Open(ctx context.Context, url string) (Stream, error)
}

// Amplifier drives the amplifier-enable line.
type Amplifier interface {
	SetEnabled(enabled bool) error
}

// Player is the controller surface used by the HTTP and MQTT control paths.
type Player interface {
	Play(ctx context.Context, url string) error
	Stop() error
	Snapshot() Snapshot
	Changes() <-chan Snapshot
}

var _ Player = (*Controller)(nil)

// Snapshot is the observable state of the controller.
type Snapshot struct {
	State     string    `json:"state"`
	URL       string    `json:"url,omitempty"`
	Amplifier bool      `json:"amplifier"`
	Since     time.Time `json:"since"`
}

// Options configures a Controller. Logger and Metrics are optional.
type Options struct {
	Opener     Opener
	Amplifier  Amplifier
	GraceDelay time.Duration
	Logger     *logger.Logger
	Metrics    *observe.Metrics
}

// Controller is the playback state machine. All methods are safe for
// concurrent use; the HTTP handlers, the MQTT link and the pump loop share one
// instance.
type Controller struct {
	mu         sync.Mutex
	state      State
	url        string
	since      time.Time
	stream     Stream
	generation uint64
	amplified  bool

	opener    Opener
	amplifier Amplifier
	grace     time.Duration
	log       *logger.Logger
	metrics   *observe.Metrics
	changes   chan Snapshot
}

// NewController creates an idle controller and drives the amplifier off.
func NewController(opts Options) (*Controller, error) {
	if opts.Metrics == nil {
		opts.Metrics = observe.Discard()
	}

	c := &Controller{
		state:     Idle,
		since:     time.Now(),
		opener:    opts.Opener,
		amplifier: opts.Amplifier,
		grace:     opts.GraceDelay,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		changes:   make(chan Snapshot, changeBuffer),
	}

	err := c.amplifier.SetEnabled(false)
	if err != nil {
		return nil, fmt.Errorf("failed to disable amplifier at boot: %w", err)
	}

	return c, nil
}

// Play starts streaming url, preempting whatever is playing. The old stream is
// closed and the grace delay elapses before the new one is opened; the
// amplifier stays enabled across the switch.
//
// Errors wrap core.ErrStreamOpen when url cannot be opened, in which case the
// controller is Idle with the amplifier disabled. ErrSuperseded means a later
// Play or Stop took over while this one was opening.
func (c *Controller) Play(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("%w: %w", core.ErrValidation, ErrURLRequired)
	}

	c.mu.Lock()

	// A request cancelled before it takes over must not disturb the controller.
	err := ctx.Err()
	if err != nil {
		c.mu.Unlock()

		return fmt.Errorf("%w: %w", ErrSuperseded, err)
	}

	c.generation++
	generation := c.generation
	preempting := c.state != Idle

	c.closeStream()
	c.url = url
	c.transition(Starting)
	c.setAmplifier(true)
	c.mu.Unlock()

	if preempting && c.grace > 0 {
		timer := time.NewTimer(c.grace)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return c.abandon(generation, ctx.Err())
		}
	}

	stream, err := c.opener.Open(ctx, url)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		if stream != nil {
			_ = stream.Close()
		}

		return ErrSuperseded
	}

	if err != nil {
		c.goIdle()
		c.logWarn("Failed to open stream %s: %v", url, err)

		return fmt.Errorf("%w: %w", core.ErrStreamOpen, err)
	}

	c.stream = stream
	c.transition(Active)
	c.logInfo("Playing %s", url)

	return nil
}

// abandon returns a start that gave up before opening to Idle, unless a later
// request already owns the controller.
func (c *Controller) abandon(generation uint64, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return ErrSuperseded
	}

	c.goIdle()

	return fmt.Errorf("%w: %w", core.ErrStreamOpen, cause)
}

// Stop ends any stream and disables the amplifier. It is idempotent and always succeeds.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.closeStream()
	c.goIdle()

	return nil
}

// Pump decodes one chunk of the active stream. It reports whether a stream is
// still active afterwards; end of stream or a decode error returns the
// controller to Idle.
//
// The decode runs without the lock, so Play and Stop can close a stalled
// stream underneath it. Closing the stream unblocks its pending read.
func (c *Controller) Pump() bool {
	c.mu.Lock()
	if c.state != Active || c.stream == nil {
		c.mu.Unlock()

		return false
	}

	stream := c.stream
	c.mu.Unlock()

	err := stream.Pump()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != stream {
		return false
	}

	if err == nil {
		return true
	}

	if !errors.Is(err, io.EOF) {
		c.logWarn("Stream %s failed: %v", c.url, err)
	} else {
		c.logInfo("Stream %s ended", c.url)
	}

	c.closeStream()
	c.goIdle()

	return false
}

// Run pumps until ctx is done, sleeping interval whenever nothing is playing.
// On exit the controller is stopped.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.Pump() {
			select {
			case <-ctx.Done():
				return c.Stop()
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return c.Stop()
		case <-ticker.C:
		}
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

// Changes delivers a snapshot after every state change. Slow readers miss
// intermediate snapshots rather than blocking the controller.
func (c *Controller) Changes() <-chan Snapshot {
	return c.changes
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:     c.state.String(),
		URL:       c.url,
		Amplifier: c.amplified,
		Since:     c.since,
	}
}

// closeStream closes the current stream, passing through Stopping.
func (c *Controller) closeStream() {
	if c.stream == nil {
		return
	}

	c.transition(Stopping)

	err := c.stream.Close()
	if err != nil {
		c.logWarn("Failed to close stream %s: %v", c.url, err)
	}

	c.stream = nil
}

// goIdle disables the amplifier, then enters Idle.
func (c *Controller) goIdle() {
	c.setAmplifier(false)
	c.url = ""
	c.transition(Idle)
}

func (c *Controller) transition(next State) {
	if c.state == next {
		return
	}

	c.metrics.RecordTransition(context.Background(), c.state.String(), next.String())
	c.state = next
	c.since = time.Now()

	select {
	case c.changes <- c.snapshotLocked():
	default:
	}
}

// setAmplifier drives the line only on an edge. The recorded flag follows the
// request even when the hardware write fails.
func (c *Controller) setAmplifier(enabled bool) {
	if c.amplified == enabled {
		return
	}

	err := c.amplifier.SetEnabled(enabled)
	if err != nil {
		c.logError("Failed to set amplifier to %t: %v", enabled, err)
	}

	c.amplified = enabled
	c.metrics.RecordAmplifier(context.Background(), enabled)
}

func (c *Controller) logInfo(format string, args ...any) {
	if c.log != nil {
		c.log.Info(format, args...)
	}
}

func (c *Controller) logWarn(format string, args ...any) {
	if c.log != nil {
		c.log.Warn(format, args...)
	}
}

func (c *Controller) logError(format string, args ...any) {
	if c.log != nil {
		c.log.Error(format, args...)
	}
}
