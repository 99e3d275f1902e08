package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pressroom/api/internal/model"
	"github.com/pressroom/api/internal/store"
)

const TaskTypeStage = "pipeline:stage"

// StageTaskPayload is one enqueued stage execution. ConfigVersion is the
// configuration resolved when advance was called; a concurrent setConfig does
// not affect a run already in flight.
type StageTaskPayload struct {
	DocumentID    string        `json:"documentId"`
	StageID       model.StageID `json:"stageId"`
	ConfigVersion int64         `json:"configVersion"`
}

// Enqueuer hands stage tasks to the worker pool.
type Enqueuer interface {
	EnqueueStage(ctx context.Context, payload *StageTaskPayload) error
}

// AsynqEnqueuer queues stage tasks on the pipeline queue. Asynq-level retry
// is disabled: the bounded retry budget lives in the worker and is recorded
// on the document.
type AsynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

func (e *AsynqEnqueuer) EnqueueStage(ctx context.Context, payload *StageTaskPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeStage, data),
		asynq.Queue("pipeline"),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	return err
}

// PipelineService drives documents through the ordered stage list. It is the
// only component that mutates document status, currentStage and artifact
// references.
type PipelineService struct {
	docs      store.DocumentStore
	configs   store.ConfigStore
	artifacts *store.ArtifactStore
	pipeline  *model.Pipeline
	enqueuer  Enqueuer
	sanitizer *bluemonday.Policy
	leaseTTL  time.Duration
}

func NewPipelineService(
	docs store.DocumentStore,
	configs store.ConfigStore,
	artifacts *store.ArtifactStore,
	pipeline *model.Pipeline,
	enqueuer Enqueuer,
	leaseTTL time.Duration,
) *PipelineService {
	return &PipelineService{
		docs:      docs,
		configs:   configs,
		artifacts: artifacts,
		pipeline:  pipeline,
		enqueuer:  enqueuer,
		sanitizer: bluemonday.UGCPolicy(),
		leaseTTL:  leaseTTL,
	}
}

// Pipeline exposes the stage list to workers and handlers.
func (s *PipelineService) Pipeline() *model.Pipeline {
	return s.pipeline
}

// Intake creates a document from extracted source content and stores the
// content as the source stage's first artifact.
func (s *PipelineService) Intake(ctx context.Context, req *model.IntakeRequest) (*model.Document, error) {
	id := req.DocumentID
	if id == "" {
		id = uuid.New().String()
	}

	if _, err := s.docs.Get(ctx, id); err == nil {
		return nil, model.NewError(model.KindInvalidState, id, "", "document already exists")
	} else if !model.IsKind(err, model.KindNotFound) {
		return nil, err
	}

	mode := model.ProcessingMode(req.Mode)
	if mode == "" {
		mode = model.ModeAuto
	}

	now := time.Now().UTC()
	doc := &model.Document{
		ID:           id,
		Mode:         mode,
		Status:       model.DocumentStatusPending,
		CurrentStage: s.pipeline.FirstProcessing().ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.docs.Save(ctx, doc); err != nil {
		return nil, err
	}

	source := s.pipeline.Source()
	key, err := s.artifacts.Put(ctx, id, source.ID, req.Content, store.ContentTypeMarkdown)
	if err != nil {
		return nil, err
	}
	doc.AppendRef(model.ArtifactRef{
		StageID:   source.ID,
		Version:   key.Version,
		Key:       key.String(),
		CreatedAt: now,
	})
	if err := s.docs.Save(ctx, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// Advance schedules the document's current automated stage. Valid from
// pending and running (idle), and from failed as the retry path. The
// per-document lease is the admission check: at most one stage execution is
// in flight per document.
func (s *PipelineService) Advance(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	switch doc.Status {
	case model.DocumentStatusAwaitingReview:
		return nil, model.NewError(model.KindInvalidState, documentID, doc.CurrentStage, "document is awaiting human review")
	case model.DocumentStatusPublished:
		return nil, model.NewError(model.KindInvalidState, documentID, doc.CurrentStage, "document is already published")
	}

	stage, ok := s.pipeline.Stage(doc.CurrentStage)
	if !ok {
		return nil, fmt.Errorf("document %s references unknown stage %q", documentID, doc.CurrentStage)
	}
	switch stage.Kind {
	case model.StageKindTerminal:
		return nil, model.NewError(model.KindInvalidState, documentID, stage.ID, "review is resolved, call publish")
	case model.StageKindHumanReview, model.StageKindSource:
		return nil, model.NewError(model.KindInvalidState, documentID, stage.ID, "stage %q is not automated", stage.ID)
	}

	// Resolve the config before touching any state: a never-configured stage
	// must fail without side effects.
	cfg, err := s.configs.GetActive(ctx, stage.ID)
	if err != nil {
		if model.IsKind(err, model.KindNotConfigured) {
			return nil, model.NewError(model.KindNotConfigured, documentID, stage.ID, "stage %q has no active AI configuration", stage.ID)
		}
		return nil, err
	}

	acquired, err := s.docs.AcquireLease(ctx, documentID, s.leaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, model.NewError(model.KindInvalidState, documentID, stage.ID, "a stage execution is already in flight")
	}

	doc.Status = model.DocumentStatusRunning
	doc.AttemptCount = 0
	doc.UpdatedAt = time.Now().UTC()
	if err := s.docs.Save(ctx, doc); err != nil {
		_ = s.docs.ReleaseLease(ctx, documentID)
		return nil, err
	}

	payload := &StageTaskPayload{
		DocumentID:    documentID,
		StageID:       stage.ID,
		ConfigVersion: cfg.Version,
	}
	if err := s.enqueuer.EnqueueStage(ctx, payload); err != nil {
		_ = s.docs.ReleaseLease(ctx, documentID)
		return nil, fmt.Errorf("failed to enqueue stage task: %w", err)
	}

	return doc, nil
}

// ResumeAfterReview stores the human-edited content as a new review-stage
// artifact and moves the document to the terminal stage.
func (s *PipelineService) ResumeAfterReview(ctx context.Context, documentID, content string) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != model.DocumentStatusAwaitingReview {
		return nil, model.NewError(model.KindInvalidState, documentID, doc.CurrentStage, "document is not awaiting review")
	}

	review, ok := s.pipeline.Review()
	if !ok {
		return nil, fmt.Errorf("pipeline has no review stage")
	}

	acquired, err := s.docs.AcquireLease(ctx, documentID, s.leaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, model.NewError(model.KindInvalidState, documentID, review.ID, "a stage execution is already in flight")
	}
	defer func() { _ = s.docs.ReleaseLease(ctx, documentID) }()

	sanitized := s.sanitizer.Sanitize(content)
	key, err := s.artifacts.Put(ctx, documentID, review.ID, sanitized, store.ContentTypeHTML)
	if err != nil {
		return nil, err
	}

	next, ok := s.pipeline.Next(review.ID)
	if !ok {
		return nil, fmt.Errorf("review stage has no successor")
	}

	now := time.Now().UTC()
	doc.AppendRef(model.ArtifactRef{
		StageID:   review.ID,
		Version:   key.Version,
		Key:       key.String(),
		CreatedAt: now,
	})
	doc.CurrentStage = next.ID
	doc.Status = model.DocumentStatusRunning
	doc.AttemptCount = 0
	doc.UpdatedAt = now
	if err := s.docs.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetStatus returns a read-only snapshot. No side effects.
func (s *PipelineService) GetStatus(ctx context.Context, documentID string) (*model.Document, error) {
	return s.docs.Get(ctx, documentID)
}

// GetCurrentArtifact returns the newest artifact, which is what the review
// surface edits while the document is awaiting review.
func (s *PipelineService) GetCurrentArtifact(ctx context.Context, documentID string) (*model.ArtifactResponse, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	ref, ok := doc.LastRef()
	if !ok {
		return nil, model.NewError(model.KindNotFound, documentID, doc.CurrentStage, "document has no artifacts")
	}

	key, err := store.ParseArtifactKey(ref.Key)
	if err != nil {
		return nil, err
	}
	content, err := s.artifacts.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	return &model.ArtifactResponse{
		Key:       ref.Key,
		StageID:   ref.StageID,
		Version:   ref.Version,
		Content:   content,
		CreatedAt: ref.CreatedAt,
	}, nil
}

// Reset clears a failed document back to pending so advance can retry the
// failed stage. This is the only operator-triggered escape from failed.
func (s *PipelineService) Reset(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != model.DocumentStatusFailed {
		return nil, model.NewError(model.KindInvalidState, documentID, doc.CurrentStage, "only failed documents can be reset")
	}

	doc.Status = model.DocumentStatusPending
	doc.LastError = nil
	doc.AttemptCount = 0
	doc.UpdatedAt = time.Now().UTC()
	if err := s.docs.Save(ctx, doc); err != nil {
		return nil, err
	}
	// Drop any stale lease left by a crashed worker.
	_ = s.docs.ReleaseLease(ctx, documentID)
	return doc, nil
}

// CompleteStage commits a successful stage execution: appends the artifact
// reference, advances currentStage and releases the lease. Called by the
// stage worker only.
func (s *PipelineService) CompleteStage(ctx context.Context, documentID string, stageID model.StageID, key store.ArtifactKey) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	next, ok := s.pipeline.Next(stageID)
	if !ok {
		return nil, fmt.Errorf("stage %q has no successor", stageID)
	}

	now := time.Now().UTC()
	doc.AppendRef(model.ArtifactRef{
		StageID:   stageID,
		Version:   key.Version,
		Key:       key.String(),
		CreatedAt: now,
	})
	doc.CurrentStage = next.ID
	if next.Kind == model.StageKindHumanReview {
		doc.Status = model.DocumentStatusAwaitingReview
	} else {
		doc.Status = model.DocumentStatusRunning
	}
	doc.AttemptCount = 0
	doc.LastError = nil
	doc.UpdatedAt = now

	if err := s.docs.Save(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.docs.ReleaseLease(ctx, documentID); err != nil {
		return nil, err
	}
	return doc, nil
}

// RecordAttempt persists the retry counter mid-flight so retry exhaustion is
// observable from the status snapshot.
func (s *PipelineService) RecordAttempt(ctx context.Context, documentID string, attempt int) error {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return err
	}
	doc.AttemptCount = attempt
	doc.UpdatedAt = time.Now().UTC()
	return s.docs.Save(ctx, doc)
}

// FailStage marks the document failed without advancing currentStage, so the
// failed stage can be retried once the underlying cause is fixed. Artifacts
// from earlier stages are retained.
func (s *PipelineService) FailStage(ctx context.Context, documentID string, stageID model.StageID, kind model.ErrorKind, message string, attempts int) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc.Status = model.DocumentStatusFailed
	doc.AttemptCount = attempts
	doc.LastError = &model.ErrorRecord{
		Kind:    kind,
		Message: message,
		StageID: stageID,
		At:      now,
	}
	doc.UpdatedAt = now

	if err := s.docs.Save(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.docs.ReleaseLease(ctx, documentID); err != nil {
		return nil, err
	}
	return doc, nil
}
