package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/pressroom/api/internal/model"
)

// MockBackend is the deterministic development backend: same input, same
// model, same output, no network.
type MockBackend struct{}

func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (b *MockBackend) Name() model.Provider {
	return model.ProviderMock
}

func (b *MockBackend) IsConfigured() bool {
	return true
}

func (b *MockBackend) Run(ctx context.Context, cfg *model.AIStepConfig, prompt, input string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return MockOutput(cfg.Model, input), nil
}

// MockOutput is the transform MockBackend applies, exported so tests can
// assert stage outputs byte for byte.
func MockOutput(modelName, input string) string {
	return fmt.Sprintf("%s\n\n<!-- processed by mock/%s -->", strings.TrimSpace(input), modelName)
}
