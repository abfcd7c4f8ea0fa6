// Package objectstore provides the artifact store backends: a local uploads
// directory and a NATS JetStream object store.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/book-expert/speaker-service/internal/audiofile"
	"github.com/book-expert/speaker-service/internal/core"
	"github.com/nats-io/nats.go"
)

// MediaPrefix is the HTTP path under which NATS-backed artifacts are served.
const MediaPrefix = "/media/"

// Object metadata keys and values.
const (
	metaResourceType = "resource_type"
	metaPublicID     = "public_id"
	metaDisplayName  = "display_name"
	resourceTypeRaw  = "raw"
	contentTypeMPEG  = "audio/mpeg"
	headerContent    = "Content-Type"
	defaultFolder    = "speaker"
)

// NatsStore implements core.ArtifactStore using a NATS JetStream object store.
// Objects live under a folder namespace and are stored as raw resources.
type NatsStore struct {
	bucket  string
	folder  string
	baseURL string
	store   nats.ObjectStore
	profile core.Profile
}

var (
	_ core.ArtifactStore = (*NatsStore)(nil)
	_ core.MediaOpener   = (*NatsStore)(nil)
)

// New creates the bucket if needed, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName, folder, baseURL string) (*NatsStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Speaker artifacts for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		var bindErr error

		store, bindErr = jetstreamContext.ObjectStore(bucketName)
		if bindErr != nil {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}
	}

	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = defaultFolder
	}

	return &NatsStore{
		bucket:  bucketName,
		folder:  folder,
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		profile: core.SpeakerProfile,
	}, nil
}

// Put uploads localPath as publicID under the folder namespace. An existing
// object with the same public id is overwritten.
func (n *NatsStore) Put(_ context.Context, localPath, publicID string, meta core.ArtifactMeta) (core.Artifact, error) {
	id := publicID + n.profile.Extension
	if !audiofile.ValidID(id) {
		return core.Artifact{}, fmt.Errorf("%w: invalid public id %q", core.ErrValidation, publicID)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to open '%s': %w", localPath, err)
	}
	defer file.Close()

	info, err := n.store.Put(&nats.ObjectMeta{
		Name:        n.objectName(id),
		Description: meta.DisplayName,
		Headers:     nats.Header{headerContent: []string{contentTypeMPEG}},
		Metadata: map[string]string{
			metaResourceType: resourceTypeRaw,
			metaPublicID:     publicID,
			metaDisplayName:  meta.DisplayName,
		},
		Opts: nil,
	}, file)
	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to put object '%s' to bucket '%s': %w", id, n.bucket, err)
	}

	return n.artifactFor(info), nil
}

// Delete removes the object named id.
func (n *NatsStore) Delete(_ context.Context, id string) (bool, error) {
	if !audiofile.ValidID(id) {
		return false, nil
	}

	err := n.store.Delete(n.objectName(id))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", id, n.bucket, err)
	}

	return true, nil
}

// List returns the live objects of the folder, sorted by id.
func (n *NatsStore) List(_ context.Context) ([]core.Artifact, error) {
	infos, err := n.store.List()
	if errors.Is(err, nats.ErrNoObjectsFound) {
		return []core.Artifact{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list bucket '%s': %w", n.bucket, err)
	}

	prefix := n.folder + "/"
	artifacts := make([]core.Artifact, 0, len(infos))

	for _, info := range infos {
		if info.Deleted || !strings.HasPrefix(info.Name, prefix) {
			continue
		}

		artifacts = append(artifacts, n.artifactFor(info))
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ID < artifacts[j].ID })

	return artifacts, nil
}

// Stat returns the object named id or core.ErrNotFound.
func (n *NatsStore) Stat(_ context.Context, id string) (core.Artifact, error) {
	if !audiofile.ValidID(id) {
		return core.Artifact{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}

	info, err := n.store.GetInfo(n.objectName(id))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return core.Artifact{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}

	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to stat object '%s': %w", id, err)
	}

	return n.artifactFor(info), nil
}

// Open streams the bytes of the object named id.
func (n *NatsStore) Open(_ context.Context, id string) (io.ReadCloser, core.Artifact, error) {
	if !audiofile.ValidID(id) {
		return nil, core.Artifact{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}

	obj, err := n.store.Get(n.objectName(id))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, core.Artifact{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}

	if err != nil {
		return nil, core.Artifact{}, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", id, n.bucket, err)
	}

	info, err := obj.Info()
	if err != nil {
		_ = obj.Close()

		return nil, core.Artifact{}, fmt.Errorf("failed to read info of object '%s': %w", id, err)
	}

	return obj, n.artifactFor(info), nil
}

func (n *NatsStore) objectName(id string) string {
	return path.Join(n.folder, id)
}

func (n *NatsStore) artifactFor(info *nats.ObjectInfo) core.Artifact {
	id := path.Base(info.Name)

	publicID := info.Metadata[metaPublicID]
	if publicID == "" {
		publicID = strings.TrimSuffix(id, path.Ext(id))
	}

	return core.Artifact{
		ID:          id,
		PublicID:    publicID,
		Location:    n.baseURL + MediaPrefix + id,
		Size:        int64(info.Size),
		CreatedAt:   info.ModTime,
		ModifiedAt:  info.ModTime,
		DisplayName: info.Metadata[metaDisplayName],
	}
}
