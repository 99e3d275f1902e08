package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"

	"github.com/pressroom/api/internal/client"
	"github.com/pressroom/api/internal/executor"
	"github.com/pressroom/api/internal/handler"
	"github.com/pressroom/api/internal/middleware"
	"github.com/pressroom/api/internal/model"
	"github.com/pressroom/api/internal/service"
	"github.com/pressroom/api/internal/store"
	"github.com/pressroom/api/internal/worker"
	ws "github.com/pressroom/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
}

// inlineEnqueuer runs stage tasks synchronously inside the request, so tests
// observe completed stages without a broker.
type inlineEnqueuer struct {
	worker *worker.StageWorker
}

func (e *inlineEnqueuer) EnqueueStage(ctx context.Context, payload *service.StageTaskPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.worker.ProcessTask(ctx, asynq.NewTask(service.TaskTypeStage, data))
}

// setupApp creates a Fiber app wired like main.go but with in-memory stores,
// an inline task runner and only the deterministic backends.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	validate := validator.New()
	pipeline := model.DefaultPipeline()

	hub := ws.NewHub()
	go hub.Run()

	docStore := store.NewMemoryDocumentStore()
	configStore := store.NewMemoryConfigStore()
	artifactStore := store.NewArtifactStore(client.NewMemoryStorage(), store.NewMemoryVersionAllocator(), docStore, 5*time.Minute)

	registry := executor.NewRegistry(executor.NewMockBackend(), executor.NewMarkdownBackend())
	exec := executor.New(registry, time.Minute)

	enqueuer := &inlineEnqueuer{}
	pipelineService := service.NewPipelineService(docStore, configStore, artifactStore, pipeline, enqueuer, time.Minute)
	configService := service.NewConfigService(configStore, pipeline)
	publishService := service.NewPublishService(docStore, artifactStore, pipeline, 1)

	enqueuer.worker = worker.NewStageWorker(pipelineService, configStore, artifactStore, exec, hub, 3, time.Millisecond)

	documentHandler := handler.NewDocumentHandler(pipelineService, publishService, validate)
	configHandler := handler.NewConfigHandler(configService, validate)
	artifactHandler := handler.NewArtifactHandler(artifactStore, time.Hour)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":   false,
				"storage": false,
				"auth":    true,
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	documents := api.Group("/documents")
	documents.Post("/", documentHandler.Intake)
	documents.Get("/:id", documentHandler.Status)
	documents.Post("/:id/advance", documentHandler.Advance)
	documents.Get("/:id/artifact", documentHandler.CurrentArtifact)
	documents.Post("/:id/review", documentHandler.Review)
	documents.Post("/:id/publish", documentHandler.Publish)
	documents.Post("/:id/reset", documentHandler.Reset)
	documents.Post("/:id/gc", documentHandler.GarbageCollect)

	api.Get("/artifacts/+", artifactHandler.Get)

	configGroup := api.Group("/config")
	configGroup.Get("/stages", configHandler.ListStages)
	configGroup.Get("/stages/:stageId", configHandler.GetActive)
	configGroup.Put("/stages/:stageId", configHandler.Set)
	configGroup.Get("/stages/:stageId/versions", configHandler.ListVersions)
	configGroup.Get("/stages/:stageId/versions/:version", configHandler.GetVersion)

	return &testApp{app: app}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := middleware.UserClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "pressroom-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts the error envelope code from a response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	result := parseJSON(t, resp)
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}

// configureStage sets a stage configuration through the API.
func configureStage(t *testing.T, ta *testApp, stageID, provider string) {
	t.Helper()
	body := `{"provider":"` + provider + `","model":"test-model","promptTemplate":"Process: ${content}"}`
	resp, err := doAuthRequest(t, ta.app, http.MethodPut, "/api/config/stages/"+stageID, body)
	if err != nil {
		t.Fatalf("config request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	readBody(t, resp)
}
