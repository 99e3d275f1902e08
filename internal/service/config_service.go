package service

import (
	"context"
	"log"
	"time"

	"github.com/pressroom/api/internal/config"
	"github.com/pressroom/api/internal/model"
	"github.com/pressroom/api/internal/store"
)

const defaultVersionsPageSize = 20

// ConfigService manages per-stage AI configurations. Every update creates a
// new immutable version; reads always see a complete record.
type ConfigService struct {
	configs  store.ConfigStore
	pipeline *model.Pipeline
}

func NewConfigService(configs store.ConfigStore, pipeline *model.Pipeline) *ConfigService {
	return &ConfigService{configs: configs, pipeline: pipeline}
}

// GetActive returns the active configuration for an automated stage.
func (s *ConfigService) GetActive(ctx context.Context, stageID model.StageID) (*model.AIStepConfig, error) {
	if _, err := s.automatedStage(stageID); err != nil {
		return nil, err
	}
	return s.configs.GetActive(ctx, stageID)
}

// Set writes a new configuration version and makes it active. The previous
// version stays readable through GetVersion and ListVersions.
func (s *ConfigService) Set(ctx context.Context, stageID model.StageID, req *model.SetConfigRequest) (*model.AIStepConfig, error) {
	if _, err := s.automatedStage(stageID); err != nil {
		return nil, err
	}

	cfg := &model.AIStepConfig{
		StageID:        stageID,
		Provider:       model.Provider(req.Provider),
		Model:          req.Model,
		PromptTemplate: req.PromptTemplate,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		UpdatedAt:      time.Now().UTC(),
	}
	return s.configs.Put(ctx, cfg)
}

// GetVersion returns one historical configuration version.
func (s *ConfigService) GetVersion(ctx context.Context, stageID model.StageID, version int64) (*model.AIStepConfig, error) {
	if _, err := s.automatedStage(stageID); err != nil {
		return nil, err
	}
	return s.configs.GetVersion(ctx, stageID, version)
}

// ListVersions pages the configuration history newest first.
func (s *ConfigService) ListVersions(ctx context.Context, stageID model.StageID, afterVersion int64, limit int) (*model.ConfigVersionsResponse, error) {
	if _, err := s.automatedStage(stageID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = defaultVersionsPageSize
	}

	versions, err := s.configs.ListVersions(ctx, stageID, afterVersion, limit)
	if err != nil {
		return nil, err
	}

	resp := &model.ConfigVersionsResponse{
		StageID:  stageID,
		Versions: versions,
	}
	if len(versions) == limit && versions[len(versions)-1].Version > 1 {
		resp.NextAfter = versions[len(versions)-1].Version
	}
	return resp, nil
}

// ListStages returns every stage in pipeline order with its configuration
// state, so the admin surface can show unconfigured stages.
func (s *ConfigService) ListStages(ctx context.Context) ([]model.StageStatus, error) {
	stages := s.pipeline.Stages()
	out := make([]model.StageStatus, 0, len(stages))
	for _, stage := range stages {
		status := model.StageStatus{
			ID:    stage.ID,
			Order: stage.Order,
			Kind:  stage.Kind,
		}
		if stage.Kind == model.StageKindAutomated {
			cfg, err := s.configs.GetActive(ctx, stage.ID)
			switch {
			case err == nil:
				status.Configured = true
				status.ActiveVersion = cfg.Version
				status.Provider = cfg.Provider
				status.Model = cfg.Model
			case !model.IsKind(err, model.KindNotConfigured):
				return nil, err
			}
		}
		out = append(out, status)
	}
	return out, nil
}

// Seed installs deployment-provided stage configurations, but only for stages
// that have never been configured. Operator updates survive restarts.
func (s *ConfigService) Seed(ctx context.Context, seeds []config.StageSeed) error {
	for _, seed := range seeds {
		stageID := model.StageID(seed.ID)
		if _, err := s.automatedStage(stageID); err != nil {
			log.Printf("Skipping seed for stage %q: not an automated stage", seed.ID)
			continue
		}

		_, err := s.configs.GetActive(ctx, stageID)
		if err == nil {
			continue
		}
		if !model.IsKind(err, model.KindNotConfigured) {
			return err
		}

		cfg := &model.AIStepConfig{
			StageID:        stageID,
			Provider:       model.Provider(seed.Provider),
			Model:          seed.Model,
			PromptTemplate: seed.Prompt,
			UpdatedAt:      time.Now().UTC(),
		}
		if _, err := s.configs.Put(ctx, cfg); err != nil {
			return err
		}
		log.Printf("Seeded initial configuration for stage %q (provider=%s)", stageID, seed.Provider)
	}
	return nil
}

func (s *ConfigService) automatedStage(stageID model.StageID) (model.StageDefinition, error) {
	stage, ok := s.pipeline.Stage(stageID)
	if !ok {
		return model.StageDefinition{}, model.NewError(model.KindNotFound, "", stageID, "unknown stage %q", stageID)
	}
	if stage.Kind != model.StageKindAutomated {
		return model.StageDefinition{}, model.NewError(model.KindInvalidState, "", stageID, "stage %q does not take an AI configuration", stageID)
	}
	return stage, nil
}
