package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/speaker-service/internal/core"
	"github.com/hegedustibor/htgo-tts/voices"
)

const (
	googleEndpoint     = "https://translate.google.com/translate_tts"
	googleChunkRunes   = 200
	googleUserAgent    = "Mozilla/5.0"
	defaultGoogleVoice = voices.English
)

// GoogleSynthesizer fetches MP3 speech from the Google translate endpoint.
// Text longer than the endpoint accepts is split into chunks whose MP3
// streams are concatenated.
type GoogleSynthesizer struct {
	httpClient *http.Client
	endpoint   string
	voice      string
}

var _ core.Synthesizer = (*GoogleSynthesizer)(nil)

// SupportedVoices lists the voice codes accepted by NewGoogleSynthesizer.
var SupportedVoices = []string{
	voices.English,
	voices.EnglishUK,
	voices.Spanish,
	voices.French,
	voices.German,
	voices.Portuguese,
}

// NewGoogleSynthesizer creates a synthesizer for voice. An empty or unknown
// voice falls back to English.
func NewGoogleSynthesizer(voice string, timeout time.Duration) *GoogleSynthesizer {
	return &GoogleSynthesizer{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   googleEndpoint,
		voice:      resolveVoice(voice),
	}
}

// WithEndpoint points the synthesizer at another endpoint.
func (g *GoogleSynthesizer) WithEndpoint(endpoint string) *GoogleSynthesizer {
	g.endpoint = endpoint

	return g
}

// Extension reports the format returned by the endpoint.
func (g *GoogleSynthesizer) Extension() string {
	return ".mp3"
}

// Synthesize implements core.Synthesizer.
func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil, ErrTextEmpty
	}

	buf := bytes.NewBuffer(nil)

	for start := 0; start < len(runes); start += googleChunkRunes {
		end := min(start+googleChunkRunes, len(runes))

		audio, err := g.fetchChunk(ctx, string(runes[start:end]))
		if err != nil {
			return nil, err
		}

		buf.Write(audio)
	}

	if buf.Len() == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return buf.Bytes(), nil
}

func (g *GoogleSynthesizer) fetchChunk(ctx context.Context, text string) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", g.voice)
	params.Set("total", "1")
	params.Set("idx", "0")
	params.Set("textlen", strconv.Itoa(len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", googleUserAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach speech endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return nil, fmt.Errorf("speech endpoint status %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	return audio, nil
}

func resolveVoice(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return defaultGoogleVoice
	}

	for _, voice := range SupportedVoices {
		if strings.EqualFold(voice, code) {
			return voice
		}
	}

	// Regional codes fall back to their language (es-es -> es).
	if idx := strings.Index(code, "-"); idx > 0 {
		return resolveVoice(code[:idx])
	}

	return defaultGoogleVoice
}

// Voice returns the resolved voice code.
func (g *GoogleSynthesizer) Voice() string {
	return g.voice
}
