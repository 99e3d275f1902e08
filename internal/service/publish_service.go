package service

import (
	"context"
	"strings"
	"time"

	"github.com/pressroom/api/internal/model"
	"github.com/pressroom/api/internal/store"
)

// PublishService is the gate at the end of the pipeline. A document can only
// be published once, and only from the terminal stage with a non-empty
// human-review artifact behind it.
type PublishService struct {
	docs      store.DocumentStore
	artifacts *store.ArtifactStore
	pipeline  *model.Pipeline
	gcKeep    int
}

func NewPublishService(docs store.DocumentStore, artifacts *store.ArtifactStore, pipeline *model.Pipeline, gcKeep int) *PublishService {
	return &PublishService{
		docs:      docs,
		artifacts: artifacts,
		pipeline:  pipeline,
		gcKeep:    gcKeep,
	}
}

// Publish marks the document published. Publishing is not idempotent: a
// second call reports ALREADY_PUBLISHED.
func (s *PublishService) Publish(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if doc.Status == model.DocumentStatusPublished {
		return nil, model.NewError(model.KindAlreadyPublished, documentID, doc.CurrentStage, "document is already published")
	}

	terminal := s.pipeline.Terminal()
	if doc.CurrentStage != terminal.ID || doc.Status != model.DocumentStatusRunning {
		return nil, model.NewError(model.KindNotReady, documentID, doc.CurrentStage, "document has not completed review")
	}

	review, ok := s.pipeline.Review()
	if !ok {
		return nil, model.NewError(model.KindNotReady, documentID, doc.CurrentStage, "pipeline has no review stage")
	}
	ref, ok := doc.LatestRef(review.ID)
	if !ok {
		return nil, model.NewError(model.KindNotReady, documentID, doc.CurrentStage, "no approved review artifact")
	}
	key, err := store.ParseArtifactKey(ref.Key)
	if err != nil {
		return nil, err
	}
	content, err := s.artifacts.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, model.NewError(model.KindNotReady, documentID, doc.CurrentStage, "approved review artifact is empty")
	}

	now := time.Now().UTC()
	doc.Status = model.DocumentStatusPublished
	doc.PublishedAt = &now
	doc.UpdatedAt = now
	if err := s.docs.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// CollectGarbage prunes superseded artifact versions of a published document,
// keeping the newest versions per stage.
func (s *PublishService) CollectGarbage(ctx context.Context, documentID string) (int, error) {
	return s.artifacts.GC(ctx, documentID, s.gcKeep)
}
