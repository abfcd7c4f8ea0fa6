package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrRequestFailed is returned for every non-2xx answer of the server.
var ErrRequestFailed = errors.New("request failed")

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

type uploadResult struct {
	Message        string `json:"message"`
	OriginalName   string `json:"originalName"`
	CompressedFile string `json:"compressedFile"`
	URL            string `json:"url"`
	PublicID       string `json:"public_id"`
	Sizes          struct {
		OriginalHuman   string `json:"originalHuman"`
		CompressedHuman string `json:"compressedHuman"`
	} `json:"sizes"`
}

type speakResult struct {
	Message  string `json:"message"`
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

type trackInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	SizeHuman  string    `json:"sizeHuman"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	URL        string    `json:"url"`
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) Upload(ctx context.Context, path string) (uploadResult, error) {
	// #nosec G304 -- the path is the operator's own argument
	file, err := os.Open(path)
	if err != nil {
		return uploadResult{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)

	go func() {
		part, partErr := form.CreateFormFile("audioFile", filepath.Base(path))
		if partErr == nil {
			_, partErr = io.Copy(part, file)
		}

		if partErr == nil {
			partErr = form.Close()
		}

		writer.CloseWithError(partErr)
	}()

	var result uploadResult

	err = c.do(ctx, http.MethodPost, "/api/upload", form.FormDataContentType(), body, &result)

	return result, err
}

func (c *apiClient) Speak(ctx context.Context, text, name string) (speakResult, error) {
	payload, err := json.Marshal(map[string]string{"text": text, "name": name})
	if err != nil {
		return speakResult{}, fmt.Errorf("failed to encode request: %w", err)
	}

	var result speakResult

	err = c.do(ctx, http.MethodPost, "/api/text-to-audio", "application/json", strings.NewReader(string(payload)), &result)

	return result, err
}

func (c *apiClient) List(ctx context.Context) ([]string, error) {
	var names []string

	err := c.do(ctx, http.MethodGet, "/api/tracks", "", nil, &names)

	return names, err
}

func (c *apiClient) Info(ctx context.Context, name string) (trackInfo, error) {
	var info trackInfo

	err := c.do(ctx, http.MethodGet, "/api/tracks/"+url.PathEscape(name)+"/info", "", nil, &info)

	return info, err
}

func (c *apiClient) Remove(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/tracks/"+url.PathEscape(name), "", nil, nil)
}

func (c *apiClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", "", nil, nil)
}

func (c *apiClient) DevicePlay(ctx context.Context, deviceID, streamURL, track string) error {
	payload, err := json.Marshal(map[string]string{"url": streamURL, "track": track})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	path := "/api/devices/" + url.PathEscape(deviceID) + "/play"

	return c.do(ctx, http.MethodPost, path, "application/json", strings.NewReader(string(payload)), nil)
}

func (c *apiClient) DeviceStop(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(deviceID)+"/stop", "", nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var failure struct {
			Error string `json:"error"`
		}

		_ = json.NewDecoder(resp.Body).Decode(&failure)

		return fmt.Errorf("%w: %s %s: %d %s", ErrRequestFailed, method, path, resp.StatusCode, failure.Error)
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", path, err)
	}

	return nil
}
