package store

import (
	"context"
	"testing"
	"time"

	"github.com/pressroom/api/internal/client"
	"github.com/pressroom/api/internal/model"
)

func newTestArtifactStore(t *testing.T) (*ArtifactStore, *MemoryDocumentStore, *client.MemoryStorage) {
	t.Helper()
	storage := client.NewMemoryStorage()
	docs := NewMemoryDocumentStore()
	store := NewArtifactStore(storage, NewMemoryVersionAllocator(), docs, 5*time.Minute)
	return store, docs, storage
}

func saveTestDocument(t *testing.T, docs *MemoryDocumentStore, id string, status model.DocumentStatus) {
	t.Helper()
	err := docs.Save(context.Background(), &model.Document{
		ID:           id,
		Status:       status,
		CurrentStage: model.StageContentRewrite,
	})
	if err != nil {
		t.Fatalf("failed to save document: %v", err)
	}
}

func TestArtifactPutGetRoundTrip(t *testing.T) {
	store, docs, _ := newTestArtifactStore(t)
	ctx := context.Background()
	saveTestDocument(t, docs, "doc-1", model.DocumentStatusPending)

	content := "# Title\n\nBody with unicode: ünïcödé."
	key, err := store.Put(ctx, "doc-1", model.StageExtract, content, ContentTypeMarkdown)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if key.Version != 1 {
		t.Errorf("expected first version 1, got %d", key.Version)
	}
	if key.String() != "documents/doc-1/extract/v1" {
		t.Errorf("unexpected key %q", key.String())
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != content {
		t.Errorf("round trip mismatch: %q != %q", got, content)
	}
}

func TestArtifactVersionsIncrease(t *testing.T) {
	store, docs, _ := newTestArtifactStore(t)
	ctx := context.Background()
	saveTestDocument(t, docs, "doc-1", model.DocumentStatusRunning)

	for want := int64(1); want <= 3; want++ {
		key, err := store.Put(ctx, "doc-1", model.StageContentRewrite, "run output", ContentTypeMarkdown)
		if err != nil {
			t.Fatalf("put %d failed: %v", want, err)
		}
		if key.Version != want {
			t.Errorf("expected version %d, got %d", want, key.Version)
		}
	}

	// Versions are scoped per (document, stage).
	key, err := store.Put(ctx, "doc-1", model.StagePRPolish, "other stage", ContentTypeMarkdown)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if key.Version != 1 {
		t.Errorf("expected fresh sequence for new stage, got %d", key.Version)
	}
}

func TestArtifactGetNotFound(t *testing.T) {
	store, _, _ := newTestArtifactStore(t)

	_, err := store.Get(context.Background(), ArtifactKey{
		DocumentID: "doc-1", StageID: model.StageExtract, Version: 9,
	})
	if !model.IsKind(err, model.KindNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestArtifactPutRejectedAfterPublish(t *testing.T) {
	store, docs, _ := newTestArtifactStore(t)
	ctx := context.Background()
	saveTestDocument(t, docs, "doc-1", model.DocumentStatusPublished)

	_, err := store.Put(ctx, "doc-1", model.StageContentRewrite, "late write", ContentTypeMarkdown)
	if !model.IsKind(err, model.KindAlreadyPublished) {
		t.Errorf("expected ALREADY_PUBLISHED, got %v", err)
	}
}

func TestArtifactGetServedFromCacheAfterDurableLoss(t *testing.T) {
	store, docs, storage := newTestArtifactStore(t)
	ctx := context.Background()
	saveTestDocument(t, docs, "doc-1", model.DocumentStatusPending)

	key, err := store.Put(ctx, "doc-1", model.StageExtract, "cached content", ContentTypeMarkdown)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Simulate durable-store unavailability; the write-through cache still
	// serves the immutable content.
	if err := storage.Delete(ctx, key.String()); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "cached content" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestArtifactParseKey(t *testing.T) {
	key, err := ParseArtifactKey("documents/doc-9/format/v12")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if key.DocumentID != "doc-9" || key.StageID != model.StageFormat || key.Version != 12 {
		t.Errorf("unexpected key %+v", key)
	}

	for _, bad := range []string{"", "documents/doc/format", "other/doc/format/v1", "documents/doc/format/12", "documents/doc/format/v0"} {
		if _, err := ParseArtifactKey(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestArtifactGC(t *testing.T) {
	store, docs, storage := newTestArtifactStore(t)
	ctx := context.Background()
	saveTestDocument(t, docs, "doc-1", model.DocumentStatusRunning)

	doc, _ := docs.Get(ctx, "doc-1")
	for i := 0; i < 3; i++ {
		key, err := store.Put(ctx, "doc-1", model.StageContentRewrite, "output", ContentTypeMarkdown)
		if err != nil {
			t.Fatalf("put failed: %v", err)
		}
		doc.AppendRef(model.ArtifactRef{StageID: key.StageID, Version: key.Version, Key: key.String()})
	}
	if err := docs.Save(ctx, doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// GC before publication is rejected.
	if _, err := store.GC(ctx, "doc-1", 1); !model.IsKind(err, model.KindInvalidState) {
		t.Errorf("expected INVALID_STATE before publish, got %v", err)
	}

	doc.Status = model.DocumentStatusPublished
	if err := docs.Save(ctx, doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	deleted, err := store.GC(ctx, "doc-1", 1)
	if err != nil {
		t.Fatalf("gc failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted versions, got %d", deleted)
	}
	if storage.Len() != 1 {
		t.Errorf("expected 1 object left in storage, got %d", storage.Len())
	}

	// The newest version survives.
	got, err := store.Get(ctx, ArtifactKey{DocumentID: "doc-1", StageID: model.StageContentRewrite, Version: 3})
	if err != nil || got != "output" {
		t.Errorf("expected newest version readable, got %q err %v", got, err)
	}
}
