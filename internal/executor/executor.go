package executor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pressroom/api/internal/client"
	"github.com/pressroom/api/internal/model"
)

// Backend is the capability one provider must offer. The orchestrator and
// the configuration registry depend only on this interface, never on a
// vendor's request/response shape.
type Backend interface {
	Name() model.Provider
	IsConfigured() bool
	// Run performs one transformation. prompt is the rendered template;
	// input is the raw artifact for backends that ignore prompts.
	Run(ctx context.Context, cfg *model.AIStepConfig, prompt, input string) (string, error)
}

// Registry holds the injected backends keyed by provider.
type Registry struct {
	backends map[model.Provider]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[model.Provider]Backend)}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

// Backend looks up the backend for a provider.
func (r *Registry) Backend(p model.Provider) (Backend, bool) {
	b, ok := r.backends[p]
	return b, ok
}

// Executor invokes one configured backend for one stage. It enforces a
// per-call deadline and classifies failures; it never retries — retry policy
// belongs to the orchestrator.
type Executor struct {
	registry *Registry
	timeout  time.Duration
}

func New(registry *Registry, timeout time.Duration) *Executor {
	return &Executor{registry: registry, timeout: timeout}
}

// RenderPrompt substitutes the input artifact into the template. Templates
// without the placeholder get the input appended, so no content is dropped.
func RenderPrompt(template, input string) string {
	if strings.Contains(template, model.PromptPlaceholder) {
		return strings.ReplaceAll(template, model.PromptPlaceholder, input)
	}
	return template + "\n\n" + input
}

// Execute runs one stage transformation and returns the new artifact
// content. Failures carry TRANSIENT_BACKEND or PERMANENT_BACKEND kinds with
// document and stage context.
func (e *Executor) Execute(ctx context.Context, documentID string, cfg *model.AIStepConfig, input string) (string, error) {
	backend, ok := e.registry.Backend(cfg.Provider)
	if !ok {
		return "", model.NewError(model.KindPermanentBackend, documentID, cfg.StageID, "no backend registered for provider %q", cfg.Provider)
	}
	if !backend.IsConfigured() {
		return "", model.NewError(model.KindPermanentBackend, documentID, cfg.StageID, "provider %q is not configured", cfg.Provider)
	}

	prompt := RenderPrompt(cfg.PromptTemplate, input)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, err := backend.Run(runCtx, cfg, prompt, input)
	if err != nil {
		return "", model.WrapError(classify(err), documentID, cfg.StageID, err)
	}
	if strings.TrimSpace(output) == "" {
		return "", model.NewError(model.KindPermanentBackend, documentID, cfg.StageID, "backend returned empty content")
	}
	return output, nil
}

// classify maps a backend failure to a retryable or fatal kind. Deadline
// expiry, connection failures and 429/5xx responses are transient; every
// other HTTP failure is permanent.
func classify(err error) model.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.KindTransientBackend
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return model.KindTransientBackend
		}
		return model.KindPermanentBackend
	}

	// Network-level failures without an HTTP status are worth retrying.
	return model.KindTransientBackend
}
