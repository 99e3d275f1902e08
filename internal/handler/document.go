package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/pressroom/api/internal/model"
	"github.com/pressroom/api/internal/service"
	"github.com/pressroom/api/pkg/response"
)

type DocumentHandler struct {
	pipeline  *service.PipelineService
	publisher *service.PublishService
	validator *validator.Validate
}

func NewDocumentHandler(pipeline *service.PipelineService, publisher *service.PublishService, v *validator.Validate) *DocumentHandler {
	return &DocumentHandler{
		pipeline:  pipeline,
		publisher: publisher,
		validator: v,
	}
}

// Intake handles POST /api/documents
func (h *DocumentHandler) Intake(c *fiber.Ctx) error {
	var req model.IntakeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	doc, err := h.pipeline.Intake(c.Context(), &req)
	if err != nil {
		return respondPipelineError(c, err)
	}

	return response.Created(c, model.NewDocumentResponse(doc))
}

// Status handles GET /api/documents/:id
func (h *DocumentHandler) Status(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if id == "" {
		return response.ValidationError(c, "Document ID is required", nil)
	}

	doc, err := h.pipeline.GetStatus(c.Context(), id)
	if err != nil {
		return respondPipelineError(c, err)
	}

	return response.OK(c, model.NewDocumentResponse(doc))
}

// Advance handles POST /api/documents/:id/advance
func (h *DocumentHandler) Advance(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if id == "" {
		return response.ValidationError(c, "Document ID is required", nil)
	}

	doc, err := h.pipeline.Advance(c.Context(), id)
	if err != nil {
		return respondPipelineError(c, err)
	}

	return response.Accepted(c, model.NewDocumentResponse(doc))
}

// CurrentArtifact handles GET /api/documents/:id/artifact
func (h *DocumentHandler) CurrentArtifact(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if id == "" {
		return response.ValidationError(c, "Document ID is required", nil)
	}

	artifact, err := h.pipeline.GetCurrentArtifact(c.Context(), id)
	if err != nil {
		return respondPipelineError(c, err)
	}

	return response.OK(c, artifact)
}

// Review handles POST /api/documents/:id/review
func (h *DocumentHandler) Review(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if id == "" {
		return response.ValidationError(c, "Document ID is required", nil)
	}

	var req model.ReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	doc, err := h.pipeline.ResumeAfterReview(c.Context(), id, req.Content)
	if err != nil {
		return respondPipelineError(c, err)
	}

	return response.OK(c, model.NewDocumentResponse(doc))
}

// Publish handles POST /api/documents/:id/publish
func (h *DocumentHandler) Publish(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if id == "" {
		return response.ValidationError(c, "Document ID is required", nil)
	}

	doc, err := h.publisher.Publish(c.Context(), id)
	if err != nil {
		return respondPipelineError(c, err)
	}

	return response.OK(c, model.NewDocumentResponse(doc))
}

// Reset handles POST /api/documents/:id/reset
func (h *DocumentHandler) Reset(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if id == "" {
		return response.ValidationError(c, "Document ID is required", nil)
	}

	doc, err := h.pipeline.Reset(c.Context(), id)
	if err != nil {
		return respondPipelineError(c, err)
	}

	return response.OK(c, model.NewDocumentResponse(doc))
}

// GarbageCollect handles POST /api/documents/:id/gc
func (h *DocumentHandler) GarbageCollect(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if id == "" {
		return response.ValidationError(c, "Document ID is required", nil)
	}

	deleted, err := h.publisher.CollectGarbage(c.Context(), id)
	if err != nil {
		return respondPipelineError(c, err)
	}

	return response.OK(c, fiber.Map{"deleted": deleted})
}

// respondPipelineError maps pipeline error kinds to HTTP error envelopes.
func respondPipelineError(c *fiber.Ctx, err error) error {
	switch model.KindOf(err) {
	case model.KindNotFound:
		return response.NotFound(c, err.Error())
	case model.KindNotConfigured:
		return response.NotConfigured(c, err.Error())
	case model.KindInvalidState:
		return response.InvalidState(c, err.Error())
	case model.KindAlreadyPublished:
		return response.AlreadyPublished(c, err.Error())
	case model.KindNotReady:
		return response.NotReady(c, err.Error())
	case model.KindTransientBackend, model.KindPermanentBackend:
		return response.BackendError(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

func queryInt64(c *fiber.Ctx, name string) int64 {
	raw := c.Query(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
