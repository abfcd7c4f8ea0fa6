// Package transcode runs the external audio converter that normalises every
// upload into the speaker profile.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/speaker-service/internal/core"
)

// maxDiagnosticBytes bounds how much of the converter's stderr is kept for error messages.
const maxDiagnosticBytes = 2048

// Static errors.
var (
	ErrInputPathEmpty  = errors.New("input path cannot be empty")
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	ErrEmptyOutput     = errors.New("converter produced no output")
)

// FFmpeg implements core.Transcoder by running the ffmpeg binary.
type FFmpeg struct {
	binaryPath string
	log        *logger.Logger
}

var _ core.Transcoder = (*FFmpeg)(nil)

// New creates an FFmpeg transcoder for the given binary.
func New(binaryPath string, log *logger.Logger) *FFmpeg {
	return &FFmpeg{
		binaryPath: binaryPath,
		log:        log,
	}
}

// Args renders the command line for job.
func Args(job core.TranscodeJob) []string {
	profile := job.Profile

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", job.InputPath,
		"-vn",
		"-ac", strconv.Itoa(profile.Channels),
		"-ar", strconv.Itoa(profile.SampleRate),
	}

	if chain := profile.FilterChain(); chain != "" {
		args = append(args, "-af", chain)
	}

	return append(args,
		"-c:a", profile.Codec,
		"-b:a", strconv.Itoa(profile.BitrateK)+"k",
		"-f", profile.Format,
		job.OutputPath,
	)
}

// Start launches the converter for job. A process that cannot be launched is
// reported synchronously; otherwise exactly one result arrives on the returned
// channel, which is then closed. The converter cannot be cancelled part way,
// so ctx cancellation is not forwarded to the process.
func (f *FFmpeg) Start(ctx context.Context, job core.TranscodeJob) (<-chan core.TranscodeResult, error) {
	err := validateJob(job)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTranscode, err)
	}

	diagnostics := &tailBuffer{limit: maxDiagnosticBytes}

	// #nosec G204 -- binary comes from configuration, arguments are built from a fixed profile
	cmd := exec.CommandContext(context.WithoutCancel(ctx), f.binaryPath, Args(job)...)
	cmd.Stdout = diagnostics
	cmd.Stderr = diagnostics

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %w", core.ErrTranscode, f.binaryPath, err)
	}

	results := make(chan core.TranscodeResult, 1)

	go func() {
		defer close(results)

		waitErr := cmd.Wait()
		if waitErr != nil {
			f.log.Warn("Transcode of '%s' failed: %v", job.InputPath, waitErr)
			results <- core.TranscodeResult{
				OutputPath: job.OutputPath,
				Err: fmt.Errorf("%w: %s execution failed: %w - output: %s",
					core.ErrTranscode, f.binaryPath, waitErr, diagnostics.String()),
			}

			return
		}

		info, statErr := os.Stat(job.OutputPath)
		if statErr != nil || info.Size() == 0 {
			results <- core.TranscodeResult{
				OutputPath: job.OutputPath,
				Err:        fmt.Errorf("%w: %w: %s", core.ErrTranscode, ErrEmptyOutput, job.OutputPath),
			}

			return
		}

		results <- core.TranscodeResult{OutputPath: job.OutputPath, Err: nil}
	}()

	return results, nil
}

// Check verifies the converter binary can be found.
func (f *FFmpeg) Check(_ context.Context) error {
	_, err := exec.LookPath(f.binaryPath)
	if err != nil {
		return fmt.Errorf("transcoder binary %s not found: %w", f.binaryPath, err)
	}

	return nil
}

func validateJob(job core.TranscodeJob) error {
	if job.InputPath == "" {
		return ErrInputPathEmpty
	}

	if job.OutputPath == "" {
		return ErrOutputPathEmpty
	}

	return job.Profile.Validate()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	data  []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if overflow := len(b.data) - b.limit; overflow > 0 {
		b.data = b.data[overflow:]
	}

	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.TrimSpace(string(b.data))
}
