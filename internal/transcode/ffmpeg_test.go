package transcode_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stand-ins for ffmpeg: the output path is always the last argument.
// Tests that write and exec these scripts run serially to avoid ETXTBSY.
const (
	copyScript = `#!/bin/sh
for arg in "$@"; do last="$arg"; done
cp "$5" "$last"
`
	failScript = `#!/bin/sh
echo "Invalid data found when processing input" >&2
exit 1
`
	silentScript = `#!/bin/sh
exit 0
`
)

func writeScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell stand-in requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700))

	return path
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "transcode-test.log")
	require.NoError(t, err)

	return log
}

func newJob(t *testing.T) core.TranscodeJob {
	t.Helper()

	dir := t.TempDir()
	input := filepath.Join(dir, "clip-raw.wav")
	require.NoError(t, os.WriteFile(input, []byte("RIFF fake wave"), 0o600))

	return core.TranscodeJob{
		InputPath:  input,
		OutputPath: filepath.Join(dir, "clip.mp3"),
		Profile:    core.SpeakerProfile,
	}
}

func awaitResult(t *testing.T, results <-chan core.TranscodeResult) core.TranscodeResult {
	t.Helper()

	select {
	case result, ok := <-results:
		require.True(t, ok, "channel closed without a result")

		_, more := <-results
		assert.False(t, more, "exactly one result per job")

		return result
	case <-time.After(10 * time.Second):
		t.Fatal("transcoder did not signal completion")

		return core.TranscodeResult{}
	}
}

func TestArgs(t *testing.T) {
	t.Parallel()

	args := transcode.Args(core.TranscodeJob{InputPath: "in.wav", OutputPath: "out.mp3", Profile: core.SpeakerProfile})

	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", "in.wav",
		"-vn",
		"-ac", "1",
		"-ar", "44100",
		"-af", "highpass=f=200,dynaudnorm",
		"-c:a", "libmp3lame",
		"-b:a", "96k",
		"-f", "mp3",
		"out.mp3",
	}, args)
}

func TestStart_Success(t *testing.T) {
	ffmpeg := transcode.New(writeScript(t, copyScript), newLogger(t))
	job := newJob(t)

	results, err := ffmpeg.Start(context.Background(), job)
	require.NoError(t, err)

	result := awaitResult(t, results)
	require.NoError(t, result.Err)
	assert.Equal(t, job.OutputPath, result.OutputPath)
	assert.FileExists(t, job.OutputPath)
}

func TestStart_ProcessFailureCarriesDiagnostics(t *testing.T) {
	ffmpeg := transcode.New(writeScript(t, failScript), newLogger(t))

	results, err := ffmpeg.Start(context.Background(), newJob(t))
	require.NoError(t, err)

	result := awaitResult(t, results)
	require.ErrorIs(t, result.Err, core.ErrTranscode)
	assert.Contains(t, result.Err.Error(), "Invalid data found")
}

func TestStart_MissingOutputIsFailure(t *testing.T) {
	ffmpeg := transcode.New(writeScript(t, silentScript), newLogger(t))

	results, err := ffmpeg.Start(context.Background(), newJob(t))
	require.NoError(t, err)

	result := awaitResult(t, results)
	require.ErrorIs(t, result.Err, transcode.ErrEmptyOutput)
}

func TestStart_UnstartableBinaryFailsSynchronously(t *testing.T) {
	ffmpeg := transcode.New(filepath.Join(t.TempDir(), "no-such-ffmpeg"), newLogger(t))

	results, err := ffmpeg.Start(context.Background(), newJob(t))
	require.ErrorIs(t, err, core.ErrTranscode)
	assert.Nil(t, results)
	require.Error(t, ffmpeg.Check(context.Background()))
}

func TestStart_CancelledContextStillCompletes(t *testing.T) {
	ffmpeg := transcode.New(writeScript(t, copyScript), newLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	results, err := ffmpeg.Start(ctx, newJob(t))
	require.NoError(t, err)
	cancel()

	result := awaitResult(t, results)
	require.NoError(t, result.Err)
}

func TestStart_RejectsInvalidJob(t *testing.T) {
	ffmpeg := transcode.New(writeScript(t, copyScript), newLogger(t))

	_, err := ffmpeg.Start(context.Background(), core.TranscodeJob{OutputPath: "x.mp3", Profile: core.SpeakerProfile})
	require.ErrorIs(t, err, transcode.ErrInputPathEmpty)

	_, err = ffmpeg.Start(context.Background(), core.TranscodeJob{InputPath: "x.wav", Profile: core.SpeakerProfile})
	require.ErrorIs(t, err, transcode.ErrOutputPathEmpty)
}
