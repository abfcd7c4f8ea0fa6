// Package tts provides the speech synthesizers used by the text-to-audio path:
// a standalone TTS HTTP service and the Google translate speech endpoint.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/speaker-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Default values.
const (
	defaultTemperature = 0.75
	defaultLanguage    = "en"
	maxErrorBodyBytes  = 512
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode  = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "TTS service returned non-OK status: %s, body: %s"
)

// Static errors.
var (
	ErrTextEmpty          = errors.New("text cannot be empty")
	ErrReceivedEmptyAudio = errors.New("received empty audio data")
)

// HTTPClient represents a client for the standalone TTS HTTP service.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	language    string
	speakerRef  string
	temperature float64
}

var _ core.Synthesizer = (*HTTPClient)(nil)

// Request defines the JSON payload of a speech generation request.
type Request struct {
	// Text contains the input text to convert to speech.
	Text string `json:"text"`

	// SpeakerRefPath optionally names a server-side reference voice.
	SpeakerRefPath string `json:"speaker_ref_path,omitempty"`

	// Language is the target language code. Defaults to "en".
	Language string `json:"language"`

	// Temperature controls randomness in speech generation.
	Temperature float64 `json:"temperature"`
}

// ErrorResponse is the structured error body returned by the service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPClientOptions tunes an HTTPClient. Zero values fall back to defaults.
type HTTPClientOptions struct {
	Language    string
	Voice       string
	Temperature float64
	Timeout     time.Duration
}

// NewHTTPClient creates a client for the service at baseURL (e.g. "http://localhost:8000").
func NewHTTPClient(baseURL string, opts HTTPClientOptions) *HTTPClient {
	language := opts.Language
	if language == "" {
		language = defaultLanguage
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		language:    language,
		speakerRef:  opts.Voice,
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// Extension reports the format returned by the service.
func (c *HTTPClient) Extension() string {
	return ".wav"
}

// Synthesize implements core.Synthesizer.
func (c *HTTPClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return c.GenerateSpeech(ctx, Request{
		Text:           text,
		SpeakerRefPath: c.speakerRef,
		Language:       c.language,
		Temperature:    c.temperature,
	})
}

// GenerateSpeech sends a TTS generation request and returns the WAV bytes.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeWAV) {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the TTS service is running and operational.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
