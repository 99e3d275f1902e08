package handler

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pressroom/api/internal/model"
	"github.com/pressroom/api/internal/store"
	"github.com/pressroom/api/pkg/response"
)

// ArtifactHandler serves stored artifacts by their stable key. Artifacts are
// immutable, so responses carry aggressive cache headers.
type ArtifactHandler struct {
	artifacts *store.ArtifactStore
	maxAge    time.Duration
}

func NewArtifactHandler(artifacts *store.ArtifactStore, maxAge time.Duration) *ArtifactHandler {
	return &ArtifactHandler{
		artifacts: artifacts,
		maxAge:    maxAge,
	}
}

// Get handles GET /api/artifacts/+
func (h *ArtifactHandler) Get(c *fiber.Ctx) error {
	raw := c.Params("+")
	if raw == "" {
		return response.ValidationError(c, "Artifact key is required", nil)
	}

	key, err := store.ParseArtifactKey(raw)
	if err != nil {
		return response.ValidationError(c, "Malformed artifact key", nil)
	}

	content, err := h.artifacts.Get(c.Context(), key)
	if err != nil {
		return respondPipelineError(c, err)
	}

	c.Set(fiber.HeaderCacheControl, fmt.Sprintf("public, max-age=%d, immutable", int(h.maxAge.Seconds())))
	return response.OK(c, model.ArtifactResponse{
		Key:     key.String(),
		StageID: key.StageID,
		Version: key.Version,
		Content: content,
	})
}
