package executor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/pressroom/api/internal/model"
)

// MarkdownBackend is the builtin provider behind the format stage: it renders
// the markdown artifact to sanitized HTML for the review editor. It ignores
// the prompt template.
type MarkdownBackend struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func NewMarkdownBackend() *MarkdownBackend {
	return &MarkdownBackend{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

func (b *MarkdownBackend) Name() model.Provider {
	return model.ProviderMarkdown
}

func (b *MarkdownBackend) IsConfigured() bool {
	return true
}

func (b *MarkdownBackend) Run(ctx context.Context, cfg *model.AIStepConfig, prompt, input string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := b.md.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("markdown conversion failed: %w", err)
	}
	return b.policy.Sanitize(buf.String()), nil
}
