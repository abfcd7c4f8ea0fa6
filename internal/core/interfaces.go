// Package core defines the shared types and capability interfaces of the speaker service.
package core

import (
	"context"
	"io"
	"time"
)

// ArtifactMeta carries the caller-supplied attributes of an artifact being published.
type ArtifactMeta struct {
	DisplayName string
}

// Artifact is a published, playable audio file.
type Artifact struct {
	ID          string    `json:"id"`
	PublicID    string    `json:"public_id"`
	Location    string    `json:"location"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
	DisplayName string    `json:"display_name,omitempty"`
}

// ArtifactStore publishes and observes artifacts in a single backend.
//
// Put must only return once the bytes are durable at the returned location.
// Delete reports false when id does not exist.
type ArtifactStore interface {
	Put(ctx context.Context, localPath, publicID string, meta ArtifactMeta) (Artifact, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]Artifact, error)
	Stat(ctx context.Context, id string) (Artifact, error)
}

// MediaOpener is implemented by backends whose artifacts are not reachable
// through static file serving.
type MediaOpener interface {
	Open(ctx context.Context, id string) (io.ReadCloser, Artifact, error)
}

// Transcoder converts a materialized input file into the speaker profile.
//
// Start reports a process that could not be launched synchronously. Otherwise
// the returned channel delivers exactly one result and is then closed.
type Transcoder interface {
	Start(ctx context.Context, job TranscodeJob) (<-chan TranscodeResult, error)
}

// Synthesizer turns text into a raw audio byte stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	// Extension is the file extension (with dot) of the produced audio.
	Extension() string
}
