// Package api serves the speaker service HTTP surface: uploads, text to audio,
// the track catalog, media delivery and device commands.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/speaker-service/internal/audiofile"
	"github.com/book-expert/speaker-service/internal/catalog"
	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/ingest"
	"github.com/book-expert/speaker-service/internal/mqttlink"
)

const (
	uploadField         = "audioFile"
	multipartOverhead   = 1 << 20
	maxJSONBodyBytes    = 1 << 20
	mediaContentType    = "audio/mpeg"
	mediaCacheControl   = "public, max-age=31536000, immutable"
	defaultUploadPrefix = "/uploads/"
)

// Ingester runs inputs through the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, in ingest.RawInput) (core.Artifact, error)
}

// Commander sends commands to speaker devices.
type Commander interface {
	Send(deviceID string, cmd mqttlink.Command) error
}

// Options wires a Server. Media, UploadsDir and Commander are optional.
type Options struct {
	Ingester       Ingester
	Catalog        *catalog.Reader
	Media          core.MediaOpener
	Commander      Commander
	Logger         *logger.Logger
	UploadsDir     string
	StaticPrefix   string
	MaxUploadBytes int64
}

// Server holds the handlers. Routes are attached with Register.
type Server struct {
	ingester     Ingester
	catalog      *catalog.Reader
	media        core.MediaOpener
	commander    Commander
	log          *logger.Logger
	uploadsDir   string
	staticPrefix string
	maxBodyBytes int64
}

// New creates a Server.
func New(opts Options) *Server {
	prefix := opts.StaticPrefix
	if prefix == "" {
		prefix = defaultUploadPrefix
	}

	return &Server{
		ingester:     opts.Ingester,
		catalog:      opts.Catalog,
		media:        opts.Media,
		commander:    opts.Commander,
		log:          opts.Logger,
		uploadsDir:   opts.UploadsDir,
		staticPrefix: prefix,
		maxBodyBytes: opts.MaxUploadBytes + multipartOverhead,
	}
}

// Register adds every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload", s.Upload)
	mux.HandleFunc("POST /api/text-to-audio", s.TextToAudio)
	mux.HandleFunc("GET /api/tracks", s.ListTracks)
	mux.HandleFunc("DELETE /api/tracks/{filename}", s.DeleteTrack)
	mux.HandleFunc("GET /api/tracks/{filename}/info", s.TrackInfo)
	mux.HandleFunc("POST /api/devices/{id}/play", s.DevicePlay)
	mux.HandleFunc("POST /api/devices/{id}/stop", s.DeviceStop)

	if s.media != nil {
		mux.HandleFunc("GET /media/{name}", s.Media)
	}

	if s.uploadsDir != "" {
		mux.Handle("GET "+s.staticPrefix, http.StripPrefix(s.staticPrefix, http.FileServer(playableFS{root: http.Dir(s.uploadsDir)})))
	}
}

// Handler returns mux wrapped in panic recovery.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	return Recover(s.log, mux)
}

type sizes struct {
	Original        int64  `json:"original"`
	Compressed      int64  `json:"compressed"`
	OriginalHuman   string `json:"originalHuman"`
	CompressedHuman string `json:"compressedHuman"`
}

type uploadResponse struct {
	Message        string `json:"message"`
	OriginalName   string `json:"originalName"`
	CompressedFile string `json:"compressedFile,omitempty"`
	URL            string `json:"url,omitempty"`
	PublicID       string `json:"public_id,omitempty"`
	Sizes          sizes  `json:"sizes"`
}

type textRequest struct {
	Text string `json:"text"`
	Name string `json:"name"`
}

type textResponse struct {
	Message  string `json:"message"`
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type deviceCommandRequest struct {
	URL   string `json:"url"`
	Track string `json:"track"`
}

// Upload handles POST /api/upload with a multipart audioFile part. The part is
// streamed straight into the pipeline.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	part, err := findPart(r, uploadField)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", core.ErrValidation, err))

		return
	}
	defer part.Close()

	body := &countingReader{reader: part}
	originalName := part.FileName()

	artifact, err := s.ingester.Ingest(r.Context(), ingest.RawInput{
		Kind:        ingest.KindUpload,
		Name:        originalName,
		ContentType: part.Header.Get("Content-Type"),
		Body:        body,
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	response := uploadResponse{
		Message:      "File uploaded and compressed successfully",
		OriginalName: originalName,
		Sizes: sizes{
			Original:        body.count,
			Compressed:      artifact.Size,
			OriginalHuman:   audiofile.FormatFileSize(body.count),
			CompressedHuman: audiofile.FormatFileSize(artifact.Size),
		},
	}

	if s.media != nil {
		response.URL = artifact.Location
		response.PublicID = artifact.PublicID
	} else {
		response.CompressedFile = artifact.ID
	}

	writeJSON(w, http.StatusOK, response)
}

// TextToAudio handles POST /api/text-to-audio {"text": "..."}.
func (s *Server) TextToAudio(w http.ResponseWriter, r *http.Request) {
	var req textRequest

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(&req)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))

		return
	}

	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, fmt.Errorf("%w: %w", core.ErrValidation, ingest.ErrEmptyText))

		return
	}

	artifact, err := s.ingester.Ingest(r.Context(), ingest.RawInput{
		Kind: ingest.KindText,
		Name: req.Name,
		Text: req.Text,
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, textResponse{
		Message:  "Audio generated successfully",
		URL:      artifact.Location,
		PublicID: artifact.PublicID,
	})
}

// ListTracks handles GET /api/tracks.
func (s *Server) ListTracks(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.ListPlayable(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, names)
}

// DeleteTrack handles DELETE /api/tracks/{filename}.
func (s *Server) DeleteTrack(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	err := s.catalog.Remove(r.Context(), name)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Track deleted successfully"})
}

// TrackInfo handles GET /api/tracks/{filename}/info.
func (s *Server) TrackInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.catalog.Info(r.Context(), r.PathValue("filename"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, info)
}

// Media handles GET /media/{name} for backends without static serving.
func (s *Server) Media(w http.ResponseWriter, r *http.Request) {
	reader, artifact, err := s.media.Open(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)

		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", mediaContentType)
	w.Header().Set("Cache-Control", mediaCacheControl)
	w.Header().Set("Content-Length", fmt.Sprint(artifact.Size))
	w.WriteHeader(http.StatusOK)

	_, err = io.Copy(w, reader)
	if err != nil && s.log != nil {
		s.log.Warn("Streaming %s interrupted: %v", artifact.ID, err)
	}
}

// DevicePlay handles POST /api/devices/{id}/play with {"url"} or {"track"}.
func (s *Server) DevicePlay(w http.ResponseWriter, r *http.Request) {
	if !s.commandsEnabled(w) {
		return
	}

	var req deviceCommandRequest

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(&req)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid JSON body", core.ErrValidation))

		return
	}

	url := strings.TrimSpace(req.URL)
	if url == "" && req.Track != "" {
		info, infoErr := s.catalog.Info(r.Context(), req.Track)
		if infoErr != nil {
			s.writeError(w, infoErr)

			return
		}

		url = info.Location
	}

	s.sendCommand(w, r.PathValue("id"), mqttlink.Command{Action: mqttlink.ActionPlay, URL: url})
}

// DeviceStop handles POST /api/devices/{id}/stop.
func (s *Server) DeviceStop(w http.ResponseWriter, r *http.Request) {
	if !s.commandsEnabled(w) {
		return
	}

	s.sendCommand(w, r.PathValue("id"), mqttlink.Command{Action: mqttlink.ActionStop})
}

func (s *Server) commandsEnabled(w http.ResponseWriter) bool {
	if s.commander != nil {
		return true
	}

	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "device commands are not configured"})

	return false
}

func (s *Server) sendCommand(w http.ResponseWriter, deviceID string, cmd mqttlink.Command) {
	err := s.commander.Send(deviceID, cmd)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "action": cmd.Action})
}

// writeError maps the error taxonomy onto a status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError && s.log != nil {
		s.log.Error("Request failed: %v", err)
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func findPart(r *http.Request, field string) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ingest.ErrEmptyBody, err)
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, ingest.ErrEmptyBody
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}

		if part.FormName() == field && part.FileName() != "" {
			return part, nil
		}

		_ = part.Close()
	}
}

// countingReader reports how many bytes passed through it.
type countingReader struct {
	reader io.Reader
	count  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.count += int64(n)

	return n, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
