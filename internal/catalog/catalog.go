// Package catalog is the read and delete view over the artifact store used by
// the tracks API.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/book-expert/speaker-service/internal/audiofile"
	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/observe"
)

// Info is the metadata answered for a single track.
type Info struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	SizeHuman  string    `json:"sizeHuman"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Location   string    `json:"url"`
}

// Reader projects a core.ArtifactStore. It keeps no state of its own.
type Reader struct {
	store   core.ArtifactStore
	metrics *observe.Metrics
}

// New creates a Reader over store. metrics may be nil.
func New(store core.ArtifactStore, metrics *observe.Metrics) *Reader {
	if metrics == nil {
		metrics = observe.Discard()
	}

	return &Reader{store: store, metrics: metrics}
}

// ListPlayable returns the names of every playable artifact, sorted.
func (r *Reader) ListPlayable(ctx context.Context) ([]string, error) {
	artifacts, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list artifacts: %w", core.ErrStore, err)
	}

	names := make([]string, 0, len(artifacts))

	for _, artifact := range artifacts {
		if audiofile.IsPlayable(artifact.ID) {
			names = append(names, artifact.ID)
		}
	}

	sort.Strings(names)

	return names, nil
}

// Info returns metadata for name, or an error wrapping core.ErrNotFound.
func (r *Reader) Info(ctx context.Context, name string) (Info, error) {
	err := checkName(name)
	if err != nil {
		return Info{}, err
	}

	artifact, err := r.store.Stat(ctx, name)
	if err != nil {
		return Info{}, err
	}

	return Info{
		Name:       artifact.ID,
		Size:       artifact.Size,
		SizeHuman:  audiofile.FormatFileSize(artifact.Size),
		CreatedAt:  artifact.CreatedAt,
		ModifiedAt: artifact.ModifiedAt,
		Location:   artifact.Location,
	}, nil
}

// Remove deletes name. It reports an error wrapping core.ErrNotFound when
// nothing was deleted.
func (r *Reader) Remove(ctx context.Context, name string) error {
	err := checkName(name)
	if err != nil {
		return err
	}

	deleted, err := r.store.Delete(ctx, name)
	if err != nil {
		if errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrNotFound) {
			return err
		}

		return fmt.Errorf("%w: failed to delete %s: %w", core.ErrStore, name, err)
	}

	if !deleted {
		return fmt.Errorf("%w: %s", core.ErrNotFound, name)
	}

	r.metrics.ArtifactsDeleted.Add(ctx, 1)

	return nil
}

func checkName(name string) error {
	if !audiofile.ValidID(name) {
		return fmt.Errorf("%w: invalid track name %q", core.ErrValidation, name)
	}

	return nil
}
