// Package ingest turns uploaded clips and announcement text into published
// speaker artifacts.
//
// Every invocation owns two temporaries in the shared temp directory: the
// raw input and the transcoded output. Both are removed on every exit path,
// so after Ingest returns either exactly one artifact was published or
// nothing was, and the temp directory holds nothing of that invocation.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/speaker-service/internal/audiofile"
	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/observe"
	"github.com/book-expert/speaker-service/internal/tts/text"
)

// Kind is the declared source of a RawInput.
type Kind string

// Input kinds.
const (
	KindUpload Kind = "upload"
	KindText   Kind = "text"
)

const (
	defaultUploadExtension = ".wav"
	defaultTextBaseName    = "speech"
	rawSuffix              = "-raw"
	tempFilePermissions    = 0o600
	tempDirPermissions     = 0o755
	octetStream            = "application/octet-stream"
	audioTypePrefix        = "audio/"
)

// Static errors.
var (
	ErrEmptyBody         = errors.New("no file uploaded")
	ErrEmptyText         = errors.New("text is required")
	ErrUnsupportedType   = errors.New("only audio files are allowed")
	ErrTooLarge          = errors.New("upload exceeds size limit")
	ErrUnknownKind       = errors.New("unknown input kind")
	ErrNoSynthesizer     = errors.New("speech synthesis is not configured")
	ErrNoTranscodeResult = errors.New("transcoder finished without a result")
	ErrStoreRequired     = errors.New("artifact store is required")
	ErrTranscoderNeeded  = errors.New("transcoder is required")
)

// RawInput is one ingestion request. Body is read once; Text is used for KindText.
type RawInput struct {
	Kind        Kind
	Name        string
	ContentType string
	Body        io.Reader
	Text        string
}

// Notifier is told about every published artifact.
type Notifier interface {
	ArtifactCreated(ctx context.Context, artifact core.Artifact, kind string) error
}

// Options wires a Pipeline. Synthesizer, Notifier and Metrics are optional.
type Options struct {
	Store          core.ArtifactStore
	Transcoder     core.Transcoder
	Synthesizer    core.Synthesizer
	Normalizer     *text.Normalizer
	Notifier       Notifier
	Metrics        *observe.Metrics
	Logger         *logger.Logger
	TempDir        string
	MaxUploadBytes int64
	Profile        core.Profile
}

// Pipeline orchestrates validate, materialize, transcode, publish and cleanup.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	store      core.ArtifactStore
	transcoder core.Transcoder
	synth      core.Synthesizer
	normalizer *text.Normalizer
	notifier   Notifier
	metrics    *observe.Metrics
	log        *logger.Logger
	tempDir    string
	maxBytes   int64
	profile    core.Profile
	newID      func() (uuid.UUID, error)
}

// New validates opts and creates the temp directory.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, ErrStoreRequired
	}

	if opts.Transcoder == nil {
		return nil, ErrTranscoderNeeded
	}

	if opts.Profile == (core.Profile{}) {
		opts.Profile = core.SpeakerProfile
	}

	err := opts.Profile.Validate()
	if err != nil {
		return nil, err
	}

	if opts.Metrics == nil {
		opts.Metrics = observe.Discard()
	}

	if opts.Normalizer == nil {
		opts.Normalizer = text.NewNormalizer(0)
	}

	err = os.MkdirAll(opts.TempDir, tempDirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory '%s': %w", opts.TempDir, err)
	}

	return &Pipeline{
		store:      opts.Store,
		transcoder: opts.Transcoder,
		synth:      opts.Synthesizer,
		normalizer: opts.Normalizer,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		tempDir:    opts.TempDir,
		maxBytes:   opts.MaxUploadBytes,
		profile:    opts.Profile,
		newID:      uuid.NewV7,
	}, nil
}

// Ingest runs one input through the pipeline and returns the published artifact.
//
// Errors wrap core.ErrValidation, core.ErrSynthesis, core.ErrTranscode or
// core.ErrStore. The call blocks until the transcoder reports completion.
func (p *Pipeline) Ingest(ctx context.Context, in RawInput) (artifact core.Artifact, err error) {
	start := time.Now()

	defer func() {
		p.metrics.RecordIngest(ctx, string(in.Kind), outcomeOf(err), time.Since(start).Seconds())
	}()

	err = validate(in)
	if err != nil {
		return core.Artifact{}, err
	}

	body, extension, displayName, err := p.source(ctx, in)
	if err != nil {
		return core.Artifact{}, err
	}

	id, err := p.newID()
	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to generate id: %w", err)
	}

	publicID := audiofile.SanitizeBaseName(displayName) + "-" + id.String()
	rawPath := filepath.Join(p.tempDir, publicID+rawSuffix+extension)
	outputPath := filepath.Join(p.tempDir, publicID+p.profile.Extension)

	defer p.cleanup(rawPath, outputPath)

	err = p.materialize(rawPath, body)
	if err != nil {
		return core.Artifact{}, err
	}

	err = p.transcode(ctx, core.TranscodeJob{
		InputPath:  rawPath,
		OutputPath: outputPath,
		Profile:    p.profile,
	})
	if err != nil {
		return core.Artifact{}, err
	}

	artifact, err = p.store.Put(ctx, outputPath, publicID, core.ArtifactMeta{DisplayName: displayName})
	if err != nil {
		return core.Artifact{}, fmt.Errorf("%w: %w", core.ErrStore, err)
	}

	p.logInfo("Published '%s' (%d bytes) from %s input '%s'", artifact.ID, artifact.Size, in.Kind, displayName)

	if p.notifier != nil {
		notifyErr := p.notifier.ArtifactCreated(ctx, artifact, string(in.Kind))
		if notifyErr != nil {
			p.logWarn("Failed to announce artifact '%s': %v", artifact.ID, notifyErr)
		}
	}

	return artifact, nil
}

func validate(in RawInput) error {
	switch in.Kind {
	case KindUpload:
		if in.Body == nil {
			return fmt.Errorf("%w: %w", core.ErrValidation, ErrEmptyBody)
		}

		if !acceptedContentType(in.ContentType) {
			return fmt.Errorf("%w: %w: %q", core.ErrValidation, ErrUnsupportedType, in.ContentType)
		}
	case KindText:
		if strings.TrimSpace(in.Text) == "" {
			return fmt.Errorf("%w: %w", core.ErrValidation, ErrEmptyText)
		}
	default:
		return fmt.Errorf("%w: %w: %q", core.ErrValidation, ErrUnknownKind, in.Kind)
	}

	return nil
}

func acceptedContentType(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}

	return strings.HasPrefix(mediaType, audioTypePrefix) || mediaType == octetStream
}

// source resolves the byte stream to materialize, its extension and display name.
func (p *Pipeline) source(ctx context.Context, in RawInput) (io.Reader, string, string, error) {
	if in.Kind == KindUpload {
		return in.Body, audiofile.Extension(in.Name, defaultUploadExtension), in.Name, nil
	}

	if p.synth == nil {
		return nil, "", "", fmt.Errorf("%w: %w", core.ErrSynthesis, ErrNoSynthesizer)
	}

	spoken := p.normalizer.Normalize(in.Text)
	if spoken == "" {
		return nil, "", "", fmt.Errorf("%w: %w", core.ErrValidation, ErrEmptyText)
	}

	start := time.Now()
	audio, err := p.synth.Synthesize(ctx, spoken)
	p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	if len(audio) == 0 {
		return nil, "", "", fmt.Errorf("%w: synthesizer returned no audio", core.ErrSynthesis)
	}

	name := in.Name
	if strings.TrimSpace(name) == "" {
		name = defaultTextBaseName
	}

	return bytes.NewReader(audio), p.synth.Extension(), name, nil
}

// materialize writes body to a file that must not already exist, enforcing the size limit.
func (p *Pipeline) materialize(path string, body io.Reader) error {
	// #nosec G304 -- path is built from a sanitised name inside the temp dir
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, tempFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	reader := body
	if p.maxBytes > 0 {
		reader = io.LimitReader(body, p.maxBytes+1)
	}

	written, copyErr := io.Copy(file, reader)
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		return fmt.Errorf("%w: failed to read upload: %w", core.ErrValidation, copyErr)
	case closeErr != nil:
		return fmt.Errorf("failed to write temporary file: %w", closeErr)
	case p.maxBytes > 0 && written > p.maxBytes:
		return fmt.Errorf("%w: %w (%s)", core.ErrValidation, ErrTooLarge, audiofile.FormatFileSize(p.maxBytes))
	case written == 0:
		return fmt.Errorf("%w: %w", core.ErrValidation, ErrEmptyBody)
	}

	return nil
}

// transcode starts the job and waits for its single completion signal.
func (p *Pipeline) transcode(ctx context.Context, job core.TranscodeJob) error {
	start := time.Now()

	results, err := p.transcoder.Start(ctx, job)
	if err != nil {
		return asTranscodeError(err)
	}

	result, ok := <-results

	p.metrics.TranscodeDuration.Record(ctx, time.Since(start).Seconds())

	if !ok {
		return fmt.Errorf("%w: %w", core.ErrTranscode, ErrNoTranscodeResult)
	}

	if result.Err != nil {
		return asTranscodeError(result.Err)
	}

	return nil
}

func asTranscodeError(err error) error {
	if errors.Is(err, core.ErrTranscode) {
		return err
	}

	return fmt.Errorf("%w: %w", core.ErrTranscode, err)
}

// cleanup removes this invocation's temporaries. Failures are logged and never
// replace the primary error.
func (p *Pipeline) cleanup(paths ...string) {
	for _, path := range paths {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logWarn("Failed to remove temporary file '%s': %v", path, err)
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observe.OutcomeOK
	case errors.Is(err, core.ErrValidation):
		return observe.OutcomeValidation
	case errors.Is(err, core.ErrSynthesis):
		return observe.OutcomeSynthesis
	case errors.Is(err, core.ErrTranscode):
		return observe.OutcomeTranscode
	case errors.Is(err, core.ErrStore):
		return observe.OutcomeStore
	default:
		return observe.OutcomeError
	}
}

func (p *Pipeline) logInfo(format string, args ...any) {
	if p.log != nil {
		p.log.Info(format, args...)
	}
}

func (p *Pipeline) logWarn(format string, args ...any) {
	if p.log != nil {
		p.log.Warn(format, args...)
	}
}
