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

type ConfigHandler struct {
	service   *service.ConfigService
	validator *validator.Validate
}

func NewConfigHandler(svc *service.ConfigService, v *validator.Validate) *ConfigHandler {
	return &ConfigHandler{
		service:   svc,
		validator: v,
	}
}

// ListStages handles GET /api/config/stages
func (h *ConfigHandler) ListStages(c *fiber.Ctx) error {
	stages, err := h.service.ListStages(c.Context())
	if err != nil {
		return respondPipelineError(c, err)
	}
	return response.OK(c, fiber.Map{"stages": stages})
}

// GetActive handles GET /api/config/stages/:stageId
func (h *ConfigHandler) GetActive(c *fiber.Ctx) error {
	stageID := utils.CopyString(c.Params("stageId"))
	if stageID == "" {
		return response.ValidationError(c, "Stage ID is required", nil)
	}

	cfg, err := h.service.GetActive(c.Context(), model.StageID(stageID))
	if err != nil {
		return respondPipelineError(c, err)
	}
	return response.OK(c, cfg)
}

// Set handles PUT /api/config/stages/:stageId
func (h *ConfigHandler) Set(c *fiber.Ctx) error {
	stageID := utils.CopyString(c.Params("stageId"))
	if stageID == "" {
		return response.ValidationError(c, "Stage ID is required", nil)
	}

	var req model.SetConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	cfg, err := h.service.Set(c.Context(), model.StageID(stageID), &req)
	if err != nil {
		return respondPipelineError(c, err)
	}
	return response.Created(c, cfg)
}

// GetVersion handles GET /api/config/stages/:stageId/versions/:version
func (h *ConfigHandler) GetVersion(c *fiber.Ctx) error {
	stageID := utils.CopyString(c.Params("stageId"))
	if stageID == "" {
		return response.ValidationError(c, "Stage ID is required", nil)
	}

	version, err := strconv.ParseInt(c.Params("version"), 10, 64)
	if err != nil || version < 1 {
		return response.ValidationError(c, "Version must be a positive integer", nil)
	}

	cfg, err := h.service.GetVersion(c.Context(), model.StageID(stageID), version)
	if err != nil {
		return respondPipelineError(c, err)
	}
	return response.OK(c, cfg)
}

// ListVersions handles GET /api/config/stages/:stageId/versions
func (h *ConfigHandler) ListVersions(c *fiber.Ctx) error {
	stageID := utils.CopyString(c.Params("stageId"))
	if stageID == "" {
		return response.ValidationError(c, "Stage ID is required", nil)
	}

	after := queryInt64(c, "after")
	limit := c.QueryInt("limit")

	page, err := h.service.ListVersions(c.Context(), model.StageID(stageID), after, limit)
	if err != nil {
		return respondPipelineError(c, err)
	}
	return response.OK(c, page)
}
