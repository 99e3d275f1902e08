package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pressroom/api/internal/executor"
	"github.com/pressroom/api/internal/model"
	"github.com/pressroom/api/internal/service"
	"github.com/pressroom/api/internal/store"
	"github.com/pressroom/api/internal/websocket"
)

// StageWorker executes one automated stage per task. It owns the bounded
// retry budget: asynq-level retry is disabled, so a task either commits the
// stage or marks the document failed before returning.
type StageWorker struct {
	pipeline    *service.PipelineService
	configs     store.ConfigStore
	artifacts   *store.ArtifactStore
	executor    *executor.Executor
	hub         *websocket.Hub
	maxAttempts int
	backoff     time.Duration
}

// NewStageWorker creates a new stage worker
func NewStageWorker(
	pipeline *service.PipelineService,
	configs store.ConfigStore,
	artifacts *store.ArtifactStore,
	exec *executor.Executor,
	hub *websocket.Hub,
	maxAttempts int,
	backoff time.Duration,
) *StageWorker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &StageWorker{
		pipeline:    pipeline,
		configs:     configs,
		artifacts:   artifacts,
		executor:    exec,
		hub:         hub,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// ProcessTask handles one enqueued stage execution
func (w *StageWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.StageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal stage task payload: %w", err)
	}

	log.Printf("Starting stage %s for document %s", payload.StageID, payload.DocumentID)

	doc, err := w.pipeline.GetStatus(ctx, payload.DocumentID)
	if err != nil {
		if model.IsKind(err, model.KindNotFound) {
			log.Printf("Document %s no longer exists, dropping task", payload.DocumentID)
			return nil
		}
		return err
	}

	// A reset or an operator action may have moved the document since the
	// task was enqueued. Stale tasks are dropped without touching state.
	if doc.CurrentStage != payload.StageID || doc.Status != model.DocumentStatusRunning {
		log.Printf("Dropping stale task for document %s: stage=%s status=%s", doc.ID, doc.CurrentStage, doc.Status)
		return nil
	}

	cfg, err := w.configs.GetVersion(ctx, payload.StageID, payload.ConfigVersion)
	if err != nil {
		w.fail(ctx, doc, payload.StageID, model.KindPermanentBackend,
			fmt.Sprintf("configuration version %d is unavailable: %v", payload.ConfigVersion, err), 0)
		return nil
	}

	input, err := w.stageInput(ctx, doc, payload.StageID)
	if err != nil {
		w.fail(ctx, doc, payload.StageID, model.KindPermanentBackend,
			fmt.Sprintf("input artifact unavailable: %v", err), 0)
		return nil
	}

	progress := w.pipeline.Pipeline().Progress(payload.StageID)

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err := w.pipeline.RecordAttempt(ctx, doc.ID, attempt); err != nil {
			log.Printf("Failed to record attempt for document %s: %v", doc.ID, err)
		}
		w.hub.BroadcastProgress(doc.ID, progress, model.DocumentStatusRunning, payload.StageID, attempt)

		output, err := w.executor.Execute(ctx, doc.ID, cfg, input)
		if err == nil {
			return w.commit(ctx, doc, payload.StageID, cfg, output)
		}
		lastErr = err

		if model.KindOf(err) == model.KindPermanentBackend {
			log.Printf("Stage %s failed permanently for document %s: %v", payload.StageID, doc.ID, err)
			w.fail(ctx, doc, payload.StageID, model.KindPermanentBackend, err.Error(), attempt)
			return nil
		}

		log.Printf("Stage %s attempt %d/%d failed for document %s: %v", payload.StageID, attempt, w.maxAttempts, doc.ID, err)
		if attempt < w.maxAttempts {
			select {
			case <-ctx.Done():
				w.fail(ctx, doc, payload.StageID, model.KindTransientBackend, ctx.Err().Error(), attempt)
				return nil
			case <-time.After(w.backoff * time.Duration(attempt)):
			}
		}
	}

	w.fail(ctx, doc, payload.StageID, model.KindTransientBackend,
		fmt.Sprintf("retry budget exhausted: %v", lastErr), w.maxAttempts)
	return nil
}

// stageInput loads the newest artifact of the stage immediately before the
// one being executed.
func (w *StageWorker) stageInput(ctx context.Context, doc *model.Document, stageID model.StageID) (string, error) {
	prev, ok := w.pipeline.Pipeline().Prev(stageID)
	if !ok {
		return "", fmt.Errorf("stage %q has no predecessor", stageID)
	}
	ref, ok := doc.LatestRef(prev.ID)
	if !ok {
		return "", fmt.Errorf("no artifact recorded for stage %q", prev.ID)
	}
	key, err := store.ParseArtifactKey(ref.Key)
	if err != nil {
		return "", err
	}
	return w.artifacts.Get(ctx, key)
}

func (w *StageWorker) commit(ctx context.Context, doc *model.Document, stageID model.StageID, cfg *model.AIStepConfig, output string) error {
	contentType := store.ContentTypeMarkdown
	if cfg.Provider == model.ProviderMarkdown {
		contentType = store.ContentTypeHTML
	}

	key, err := w.artifacts.Put(ctx, doc.ID, stageID, output, contentType)
	if err != nil {
		w.fail(ctx, doc, stageID, model.KindTransientBackend, fmt.Sprintf("failed to store artifact: %v", err), doc.AttemptCount)
		return nil
	}

	updated, err := w.pipeline.CompleteStage(ctx, doc.ID, stageID, key)
	if err != nil {
		return err
	}

	progress := w.pipeline.Pipeline().Progress(updated.CurrentStage)
	w.hub.BroadcastProgress(updated.ID, progress, updated.Status, updated.CurrentStage, 0)
	w.hub.BroadcastComplete(updated.ID, model.NewDocumentResponse(updated))
	log.Printf("Stage %s completed for document %s, now at %s", stageID, updated.ID, updated.CurrentStage)

	// Auto mode chains straight into the next automated stage. A missing
	// configuration stops the chain but leaves the document advanceable.
	if updated.Mode == model.ModeAuto && updated.Status == model.DocumentStatusRunning {
		if next, ok := w.pipeline.Pipeline().Stage(updated.CurrentStage); ok && next.Kind == model.StageKindAutomated {
			if _, err := w.pipeline.Advance(ctx, updated.ID); err != nil {
				if model.IsKind(err, model.KindNotConfigured) {
					log.Printf("Auto-advance paused for document %s: stage %s is not configured", updated.ID, next.ID)
				} else {
					log.Printf("Auto-advance failed for document %s: %v", updated.ID, err)
				}
			}
		}
	}
	return nil
}

func (w *StageWorker) fail(ctx context.Context, doc *model.Document, stageID model.StageID, kind model.ErrorKind, message string, attempts int) {
	updated, err := w.pipeline.FailStage(ctx, doc.ID, stageID, kind, message, attempts)
	if err != nil {
		log.Printf("Failed to mark document %s failed: %v", doc.ID, err)
		return
	}
	w.hub.BroadcastError(updated.ID, string(kind), message)
}
