package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pressroom/api/internal/client"
	"github.com/pressroom/api/internal/executor"
	"github.com/pressroom/api/internal/model"
	"github.com/pressroom/api/internal/service"
	"github.com/pressroom/api/internal/store"
	"github.com/pressroom/api/internal/websocket"
)

type captureEnqueuer struct {
	tasks []*service.StageTaskPayload
}

func (e *captureEnqueuer) EnqueueStage(ctx context.Context, payload *service.StageTaskPayload) error {
	e.tasks = append(e.tasks, payload)
	return nil
}

type failingBackend struct {
	err   error
	calls int
}

func (b *failingBackend) Name() model.Provider { return model.ProviderMock }
func (b *failingBackend) IsConfigured() bool   { return true }
func (b *failingBackend) Run(ctx context.Context, cfg *model.AIStepConfig, prompt, input string) (string, error) {
	b.calls++
	return "", b.err
}

type workerFixture struct {
	worker   *StageWorker
	pipeline *service.PipelineService
	docs     *store.MemoryDocumentStore
	configs  *store.MemoryConfigStore
	enqueuer *captureEnqueuer
}

func newWorkerFixture(t *testing.T, backend executor.Backend) *workerFixture {
	t.Helper()
	docs := store.NewMemoryDocumentStore()
	configs := store.NewMemoryConfigStore()
	artifacts := store.NewArtifactStore(client.NewMemoryStorage(), store.NewMemoryVersionAllocator(), docs, 5*time.Minute)
	enqueuer := &captureEnqueuer{}
	pipeline := service.NewPipelineService(docs, configs, artifacts, model.DefaultPipeline(), enqueuer, time.Minute)
	exec := executor.New(executor.NewRegistry(backend, executor.NewMarkdownBackend()), time.Minute)
	hub := websocket.NewHub()
	go hub.Run()
	w := NewStageWorker(pipeline, configs, artifacts, exec, hub, 3, time.Millisecond)
	return &workerFixture{worker: w, pipeline: pipeline, docs: docs, configs: configs, enqueuer: enqueuer}
}

func (f *workerFixture) configure(t *testing.T, stageID model.StageID, provider model.Provider) {
	t.Helper()
	_, err := f.configs.Put(context.Background(), &model.AIStepConfig{
		StageID:        stageID,
		Provider:       provider,
		Model:          "test-model",
		PromptTemplate: "Process: ${content}",
	})
	if err != nil {
		t.Fatalf("failed to configure stage %s: %v", stageID, err)
	}
}

func stageTask(t *testing.T, payload *service.StageTaskPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return asynq.NewTask(service.TaskTypeStage, data)
}

// runNext pops and executes the oldest enqueued task.
func (f *workerFixture) runNext(t *testing.T) {
	t.Helper()
	if len(f.enqueuer.tasks) == 0 {
		t.Fatal("no enqueued tasks")
	}
	payload := f.enqueuer.tasks[0]
	f.enqueuer.tasks = f.enqueuer.tasks[1:]
	if err := f.worker.ProcessTask(context.Background(), stageTask(t, payload)); err != nil {
		t.Fatalf("process task failed: %v", err)
	}
}

func TestWorkerCommitsSuccessfulStage(t *testing.T) {
	f := newWorkerFixture(t, executor.NewMockBackend())
	ctx := context.Background()
	f.configure(t, model.StageContentRewrite, model.ProviderMock)

	doc, err := f.pipeline.Intake(ctx, &model.IntakeRequest{Content: "source text", Mode: "manual"})
	if err != nil {
		t.Fatalf("intake failed: %v", err)
	}
	if _, err := f.pipeline.Advance(ctx, doc.ID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	f.runNext(t)

	after, _ := f.pipeline.GetStatus(ctx, doc.ID)
	if after.CurrentStage != model.StagePRPolish {
		t.Errorf("expected move to %s, got %s", model.StagePRPolish, after.CurrentStage)
	}
	if after.Status != model.DocumentStatusRunning {
		t.Errorf("expected running, got %s", after.Status)
	}

	art, err := f.pipeline.GetCurrentArtifact(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get artifact failed: %v", err)
	}
	if art.StageID != model.StageContentRewrite || art.Version != 1 {
		t.Errorf("unexpected artifact %+v", art)
	}
	if art.Content != executor.MockOutput("test-model", "source text") {
		t.Errorf("unexpected content %q", art.Content)
	}
}

func TestWorkerRetriesTransientThenFails(t *testing.T) {
	backend := &failingBackend{err: &client.APIError{StatusCode: 503, Body: "overloaded"}}
	f := newWorkerFixture(t, backend)
	ctx := context.Background()
	f.configure(t, model.StageContentRewrite, model.ProviderMock)

	doc, _ := f.pipeline.Intake(ctx, &model.IntakeRequest{Content: "text", Mode: "manual"})
	if _, err := f.pipeline.Advance(ctx, doc.ID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	f.runNext(t)

	if backend.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", backend.calls)
	}

	after, _ := f.pipeline.GetStatus(ctx, doc.ID)
	if after.Status != model.DocumentStatusFailed {
		t.Errorf("expected failed, got %s", after.Status)
	}
	if after.AttemptCount != 3 {
		t.Errorf("expected 3 recorded attempts, got %d", after.AttemptCount)
	}
	if after.LastError == nil || after.LastError.Kind != model.KindTransientBackend {
		t.Errorf("expected transient error record, got %+v", after.LastError)
	}
	if after.CurrentStage != model.StageContentRewrite {
		t.Errorf("expected currentStage unchanged, got %s", after.CurrentStage)
	}

	// The lease is released on failure, so reset + advance works.
	if _, err := f.pipeline.Reset(ctx, doc.ID); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if _, err := f.pipeline.Advance(ctx, doc.ID); err != nil {
		t.Errorf("advance after reset failed: %v", err)
	}
}

func TestWorkerPermanentFailureSkipsRetry(t *testing.T) {
	backend := &failingBackend{err: &client.APIError{StatusCode: 401, Body: "bad key"}}
	f := newWorkerFixture(t, backend)
	ctx := context.Background()
	f.configure(t, model.StageContentRewrite, model.ProviderMock)

	doc, _ := f.pipeline.Intake(ctx, &model.IntakeRequest{Content: "text", Mode: "manual"})
	if _, err := f.pipeline.Advance(ctx, doc.ID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	f.runNext(t)

	if backend.calls != 1 {
		t.Errorf("expected single attempt for permanent failure, got %d", backend.calls)
	}

	after, _ := f.pipeline.GetStatus(ctx, doc.ID)
	if after.Status != model.DocumentStatusFailed {
		t.Errorf("expected failed, got %s", after.Status)
	}
	if after.LastError == nil || after.LastError.Kind != model.KindPermanentBackend {
		t.Errorf("expected permanent error record, got %+v", after.LastError)
	}
}

func TestWorkerDropsStaleTask(t *testing.T) {
	f := newWorkerFixture(t, executor.NewMockBackend())
	ctx := context.Background()
	f.configure(t, model.StageContentRewrite, model.ProviderMock)

	doc, _ := f.pipeline.Intake(ctx, &model.IntakeRequest{Content: "text", Mode: "manual"})
	if _, err := f.pipeline.Advance(ctx, doc.ID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	// Operator resets before the task runs; the queued task is stale.
	if _, err := f.pipeline.FailStage(ctx, doc.ID, model.StageContentRewrite, model.KindTransientBackend, "crash", 1); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if _, err := f.pipeline.Reset(ctx, doc.ID); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	f.runNext(t)

	after, _ := f.pipeline.GetStatus(ctx, doc.ID)
	if after.Status != model.DocumentStatusPending {
		t.Errorf("stale task mutated state: %+v", after)
	}
	if after.CurrentStage != model.StageContentRewrite {
		t.Errorf("stale task moved currentStage: %s", after.CurrentStage)
	}
}

func TestWorkerAutoModeChainsToReview(t *testing.T) {
	f := newWorkerFixture(t, executor.NewMockBackend())
	ctx := context.Background()
	f.configure(t, model.StageContentRewrite, model.ProviderMock)
	f.configure(t, model.StagePRPolish, model.ProviderMock)
	f.configure(t, model.StageFormat, model.ProviderMarkdown)

	doc, _ := f.pipeline.Intake(ctx, &model.IntakeRequest{Content: "# Title\n\nBody.", Mode: "auto"})
	if _, err := f.pipeline.Advance(ctx, doc.ID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	// Drain the chain: each completed stage enqueues the next.
	for i := 0; i < 10 && len(f.enqueuer.tasks) > 0; i++ {
		f.runNext(t)
	}

	after, _ := f.pipeline.GetStatus(ctx, doc.ID)
	if after.Status != model.DocumentStatusAwaitingReview {
		t.Errorf("expected awaiting-review at end of chain, got %s", after.Status)
	}
	if after.CurrentStage != model.StageReview {
		t.Errorf("expected review stage, got %s", after.CurrentStage)
	}

	// Every automated stage left exactly one artifact.
	for _, stage := range []model.StageID{model.StageExtract, model.StageContentRewrite, model.StagePRPolish, model.StageFormat} {
		if _, ok := after.LatestRef(stage); !ok {
			t.Errorf("missing artifact for stage %s", stage)
		}
	}
}

func TestWorkerAutoModePausesOnUnconfiguredStage(t *testing.T) {
	f := newWorkerFixture(t, executor.NewMockBackend())
	ctx := context.Background()
	f.configure(t, model.StageContentRewrite, model.ProviderMock)
	// pr-polish intentionally left unconfigured

	doc, _ := f.pipeline.Intake(ctx, &model.IntakeRequest{Content: "text", Mode: "auto"})
	if _, err := f.pipeline.Advance(ctx, doc.ID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	f.runNext(t)

	after, _ := f.pipeline.GetStatus(ctx, doc.ID)
	if after.CurrentStage != model.StagePRPolish {
		t.Errorf("expected pause at unconfigured stage, got %s", after.CurrentStage)
	}
	if after.Status != model.DocumentStatusRunning {
		t.Errorf("expected running (advanceable), got %s", after.Status)
	}
	if len(f.enqueuer.tasks) != 0 {
		t.Errorf("expected no further tasks, got %d", len(f.enqueuer.tasks))
	}
}
