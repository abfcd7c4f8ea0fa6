package core

import "errors"

// Error taxonomy shared by the pipeline, the stores and the playback controller.
// Callers wrap these with context and match them with errors.Is.
var (
	// ErrValidation marks bad or missing input. No side effects have occurred.
	ErrValidation = errors.New("validation error")
	// ErrSynthesis marks a failed text-to-speech request.
	ErrSynthesis = errors.New("synthesis error")
	// ErrTranscode marks a failed external conversion. Temporaries are gone.
	ErrTranscode = errors.New("transcode error")
	// ErrStore marks a failed publish after a successful transcode. No artifact is visible.
	ErrStore = errors.New("store error")
	// ErrNotFound marks a catalog operation on an absent artifact.
	ErrNotFound = errors.New("not found")
	// ErrStreamOpen marks a playback URL the device could not open.
	ErrStreamOpen = errors.New("stream open error")
)
