package objectstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/book-expert/speaker-service/internal/audiofile"
	"github.com/book-expert/speaker-service/internal/core"
)

const (
	filePermissions = 0o644
	dirPermissions  = 0o755
	copyBufferSize  = 64 * 1024
	partialPattern  = ".partial-*"
)

// LocalStore implements core.ArtifactStore on a directory served statically.
type LocalStore struct {
	dir      string
	baseURL  string
	prefix   string
	profile  core.Profile
	statFile func(name string) (fs.FileInfo, error)
}

var _ core.ArtifactStore = (*LocalStore)(nil)

// NewLocal creates a LocalStore rooted at dir. Artifacts are addressed as
// baseURL + prefix + file name.
func NewLocal(dir, baseURL, prefix string) (*LocalStore, error) {
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create uploads directory '%s': %w", dir, err)
	}

	return &LocalStore{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		prefix:   "/" + strings.Trim(prefix, "/") + "/",
		profile:  core.SpeakerProfile,
		statFile: os.Stat,
	}, nil
}

// Dir returns the uploads directory.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put copies localPath into the uploads directory as publicID plus the profile
// extension. The file only becomes visible under its final name once fully
// written and synced.
func (s *LocalStore) Put(ctx context.Context, localPath, publicID string, meta core.ArtifactMeta) (core.Artifact, error) {
	name := publicID + s.profile.Extension
	if !audiofile.ValidID(name) {
		return core.Artifact{}, fmt.Errorf("%w: invalid public id %q", core.ErrValidation, publicID)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to open '%s': %w", localPath, err)
	}
	defer src.Close()

	dest := filepath.Join(s.dir, name)

	err = writeAtomic(ctx, dest, src)
	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to publish '%s': %w", name, err)
	}

	artifact, err := s.Stat(ctx, name)
	if err != nil {
		// A Put that reports failure must not leave a visible artifact.
		_ = os.Remove(dest)

		return core.Artifact{}, fmt.Errorf("failed to publish '%s': %w", name, err)
	}

	artifact.DisplayName = meta.DisplayName

	return artifact, nil
}

// Delete removes the artifact named id.
func (s *LocalStore) Delete(_ context.Context, id string) (bool, error) {
	if !audiofile.ValidID(id) {
		return false, nil
	}

	err := os.Remove(filepath.Join(s.dir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to delete '%s': %w", id, err)
	}

	return true, nil
}

// List returns every playable file in the uploads directory, sorted by name.
func (s *LocalStore) List(_ context.Context) ([]core.Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploads directory '%s': %w", s.dir, err)
	}

	artifacts := make([]core.Artifact, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !audiofile.IsPlayable(entry.Name()) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			// Removed between ReadDir and Info.
			continue
		}

		artifacts = append(artifacts, s.artifactFor(info))
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ID < artifacts[j].ID })

	return artifacts, nil
}

// Stat returns the artifact named id or core.ErrNotFound.
func (s *LocalStore) Stat(_ context.Context, id string) (core.Artifact, error) {
	if !audiofile.ValidID(id) || !audiofile.IsPlayable(id) {
		return core.Artifact{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}

	info, err := s.statFile(filepath.Join(s.dir, id))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return core.Artifact{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}

	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to stat '%s': %w", id, err)
	}

	return s.artifactFor(info), nil
}

func (s *LocalStore) artifactFor(info fs.FileInfo) core.Artifact {
	name := info.Name()

	// The portable FileInfo exposes no birth time; a published file is never
	// rewritten in place, so its modification time is its creation time.
	return core.Artifact{
		ID:         name,
		PublicID:   strings.TrimSuffix(name, filepath.Ext(name)),
		Location:   s.baseURL + s.prefix + name,
		Size:       info.Size(),
		CreatedAt:  info.ModTime(),
		ModifiedAt: info.ModTime(),
	}
}

// writeAtomic writes r to a hidden file next to dest, syncs it and renames it
// into place, then syncs the parent directory.
func writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)

	tmp, err := os.CreateTemp(dir, partialPattern)
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()

	fail := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return cause
	}

	err = os.Chmod(tmpPath, filePermissions)
	if err != nil {
		return fail(err)
	}

	writer := bufio.NewWriterSize(tmp, copyBufferSize)

	_, err = io.Copy(writer, readerWithContext(ctx, r))
	if err != nil {
		return fail(err)
	}

	err = writer.Flush()
	if err != nil {
		return fail(err)
	}

	err = tmp.Sync()
	if err != nil {
		return fail(err)
	}

	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmpPath)

		return err
	}

	err = os.Rename(tmpPath, dest)
	if err != nil {
		_ = os.Remove(tmpPath)

		return err
	}

	err = syncDir(dir)
	if err != nil {
		_ = os.Remove(dest)

		return err
	}

	return nil
}

func syncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer handle.Close()

	// Some filesystems refuse fsync on directories; the rename has already happened.
	_ = handle.Sync()

	return nil
}

type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, reader: r}
}

func (c *contextReader) Read(p []byte) (int, error) {
	err := c.ctx.Err()
	if err != nil {
		return 0, err
	}

	return c.reader.Read(p)
}
