package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pressroom/api/internal/client"
	"github.com/pressroom/api/internal/model"
)

const (
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeHTML     = "text/html; charset=utf-8"
)

// ArtifactKey identifies one immutable artifact version.
type ArtifactKey struct {
	DocumentID string
	StageID    model.StageID
	Version    int64
}

func (k ArtifactKey) String() string {
	return fmt.Sprintf("documents/%s/%s/v%d", k.DocumentID, k.StageID, k.Version)
}

// ParseArtifactKey parses "documents/<docID>/<stageID>/v<version>".
func ParseArtifactKey(s string) (ArtifactKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 || parts[0] != "documents" || !strings.HasPrefix(parts[3], "v") {
		return ArtifactKey{}, model.NewError(model.KindNotFound, "", "", "malformed artifact key %q", s)
	}
	version, err := strconv.ParseInt(parts[3][1:], 10, 64)
	if err != nil || version < 1 {
		return ArtifactKey{}, model.NewError(model.KindNotFound, "", "", "malformed artifact key %q", s)
	}
	return ArtifactKey{
		DocumentID: parts[1],
		StageID:    model.StageID(parts[2]),
		Version:    version,
	}, nil
}

// ArtifactStore is the durable, keyed, immutable-per-version payload store.
// The backing store is the source of truth; the local cache is populated on
// write and on read miss and is never authoritative.
type ArtifactStore struct {
	storage  client.StorageClient
	versions VersionAllocator
	docs     DocumentStore
	cache    *gocache.Cache
}

func NewArtifactStore(storage client.StorageClient, versions VersionAllocator, docs DocumentStore, cacheTTL time.Duration) *ArtifactStore {
	return &ArtifactStore{
		storage:  storage,
		versions: versions,
		docs:     docs,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Put writes the next version for (document, stage): durable store first,
// then the cache, so nothing is visible before it is durable. Writes against
// a published document are rejected.
func (s *ArtifactStore) Put(ctx context.Context, documentID string, stageID model.StageID, content string, contentType string) (ArtifactKey, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return ArtifactKey{}, err
	}
	if doc.Status == model.DocumentStatusPublished {
		return ArtifactKey{}, model.NewError(model.KindAlreadyPublished, documentID, stageID, "document is published, artifacts are frozen")
	}

	version, err := s.versions.NextVersion(ctx, documentID, stageID)
	if err != nil {
		return ArtifactKey{}, err
	}

	key := ArtifactKey{DocumentID: documentID, StageID: stageID, Version: version}
	if _, err := s.storage.Upload(ctx, key.String(), strings.NewReader(content), contentType); err != nil {
		return ArtifactKey{}, err
	}
	s.cache.Set(key.String(), content, gocache.DefaultExpiration)

	return key, nil
}

// Get returns the exact bytes written under key. Artifacts are immutable, so
// a cache hit is always safe.
func (s *ArtifactStore) Get(ctx context.Context, key ArtifactKey) (string, error) {
	if cached, ok := s.cache.Get(key.String()); ok {
		return cached.(string), nil
	}

	data, err := s.storage.Download(ctx, key.String())
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			return "", model.NewError(model.KindNotFound, key.DocumentID, key.StageID, "artifact %s not found", key.String())
		}
		return "", err
	}

	content := string(data)
	s.cache.Set(key.String(), content, gocache.DefaultExpiration)
	return content, nil
}

// PublicURL returns the stable external reference for an artifact.
func (s *ArtifactStore) PublicURL(key ArtifactKey) string {
	return s.storage.GetPublicURL(key.String())
}

// GC removes all but the newest keep versions per stage. Only valid for
// published documents and never invoked implicitly during a run.
func (s *ArtifactStore) GC(ctx context.Context, documentID string, keep int) (int, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if doc.Status != model.DocumentStatusPublished {
		return 0, model.NewError(model.KindInvalidState, documentID, "", "gc only runs on published documents")
	}
	if keep < 1 {
		keep = 1
	}

	stages := make(map[model.StageID]bool)
	for _, ref := range doc.ArtifactRefs {
		stages[ref.StageID] = true
	}

	deleted := 0
	for stageID := range stages {
		current, err := s.versions.CurrentVersion(ctx, documentID, stageID)
		if err != nil {
			return deleted, err
		}
		for v := int64(1); v <= current-int64(keep); v++ {
			key := ArtifactKey{DocumentID: documentID, StageID: stageID, Version: v}
			if err := s.storage.Delete(ctx, key.String()); err != nil {
				return deleted, err
			}
			s.cache.Delete(key.String())
			deleted++
		}
	}
	return deleted, nil
}
