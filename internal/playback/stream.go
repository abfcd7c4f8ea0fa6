package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

const (
	defaultChunkBytes     = 4096
	defaultConnectTimeout = 5 * time.Second
	maxErrorBodyBytes     = 256
)

// Static errors.
var (
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrBadStatus         = errors.New("unexpected http status")
)

// HTTPOpener fetches an mp3 over HTTP and decodes it to 16-bit stereo PCM
// written to a sink.
type HTTPOpener struct {
	client     *http.Client
	sink       io.Writer
	chunkBytes int
}

var _ Opener = (*HTTPOpener)(nil)

// NewHTTPOpener creates an opener writing PCM to sink in chunks of chunkBytes.
func NewHTTPOpener(sink io.Writer, chunkBytes int) *HTTPOpener {
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}

	// Only connection setup and response headers are bounded: a stream has
	// no duration limit.
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   defaultConnectTimeout,
		ResponseHeaderTimeout: defaultConnectTimeout,
	}

	return &HTTPOpener{
		client:     &http.Client{Transport: transport},
		sink:       sink,
		chunkBytes: chunkBytes,
	}
}

// Open requests rawURL and validates the first mp3 frame. The stream outlives
// ctx's cancellation; only Close ends it.
func (o *HTTPOpener) Open(ctx context.Context, rawURL string) (Stream, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, parsed.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%w: %s: %s", ErrBadStatus, resp.Status, string(body))
	}

	decoder, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("failed to decode mp3 from %s: %w", rawURL, err)
	}

	return &mp3Stream{
		body:    resp.Body,
		decoder: decoder,
		sink:    o.sink,
		buf:     make([]byte, o.chunkBytes),
	}, nil
}

// mp3Stream pumps decoded PCM into the sink one buffer at a time.
type mp3Stream struct {
	body    io.ReadCloser
	decoder *mp3.Decoder
	sink    io.Writer
	buf     []byte
}

func (s *mp3Stream) Pump() error {
	n, err := s.decoder.Read(s.buf)
	if n > 0 {
		_, writeErr := s.sink.Write(s.buf[:n])
		if writeErr != nil {
			return fmt.Errorf("failed to write pcm: %w", writeErr)
		}
	}

	return err
}

func (s *mp3Stream) Close() error {
	return s.body.Close()
}
