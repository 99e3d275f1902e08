package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/pressroom/api/internal/model"
)

// RedisDocumentStore keeps documents as JSON values under document:<id>.
type RedisDocumentStore struct {
	redis *redis.Client
}

func NewRedisDocumentStore(redisClient *redis.Client) *RedisDocumentStore {
	return &RedisDocumentStore{redis: redisClient}
}

func documentKey(id string) string {
	return fmt.Sprintf("document:%s", id)
}

func leaseKey(id string) string {
	return fmt.Sprintf("document:lease:%s", id)
}

func (s *RedisDocumentStore) Save(ctx context.Context, doc *model.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, documentKey(doc.ID), data, 0).Err()
}

func (s *RedisDocumentStore) Get(ctx context.Context, id string) (*model.Document, error) {
	data, err := s.redis.Get(ctx, documentKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.NewError(model.KindNotFound, id, "", "document not found")
		}
		return nil, err
	}

	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *RedisDocumentStore) AcquireLease(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return s.redis.SetNX(ctx, leaseKey(id), time.Now().UnixNano(), ttl).Result()
}

func (s *RedisDocumentStore) ReleaseLease(ctx context.Context, id string) error {
	return s.redis.Del(ctx, leaseKey(id)).Err()
}

// RedisConfigStore keeps versioned stage configs. Versions come from a
// per-stage INCR sequence; the active pointer is swapped with an optimistic
// WATCH transaction so concurrent writers serialize by commit order.
type RedisConfigStore struct {
	redis *redis.Client
}

func NewRedisConfigStore(redisClient *redis.Client) *RedisConfigStore {
	return &RedisConfigStore{redis: redisClient}
}

func configSeqKey(stageID model.StageID) string {
	return fmt.Sprintf("stageconfig:seq:%s", stageID)
}

func configActiveKey(stageID model.StageID) string {
	return fmt.Sprintf("stageconfig:active:%s", stageID)
}

func configVersionKey(stageID model.StageID, version int64) string {
	return fmt.Sprintf("stageconfig:%s:v%d", stageID, version)
}

func (s *RedisConfigStore) GetActive(ctx context.Context, stageID model.StageID) (*model.AIStepConfig, error) {
	version, err := s.redis.Get(ctx, configActiveKey(stageID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.NewError(model.KindNotConfigured, "", stageID, "stage has no active configuration")
		}
		return nil, err
	}
	return s.GetVersion(ctx, stageID, version)
}

func (s *RedisConfigStore) Put(ctx context.Context, cfg *model.AIStepConfig) (*model.AIStepConfig, error) {
	version, err := s.redis.Incr(ctx, configSeqKey(cfg.StageID)).Result()
	if err != nil {
		return nil, err
	}

	out := *cfg
	out.Version = version
	out.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(&out)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, configVersionKey(out.StageID, version), data, 0).Err(); err != nil {
		return nil, err
	}

	// Swap the active pointer only if this version is newer than the current
	// one, so two racing writers converge on the later commit.
	activeKey := configActiveKey(out.StageID)
	swap := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, activeKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current >= version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, activeKey, version, 0)
			return nil
		})
		return err
	}
	for i := 0; i < 5; i++ {
		err = s.redis.Watch(ctx, swap, activeKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to swap active config: %w", err)
	}

	return &out, nil
}

func (s *RedisConfigStore) GetVersion(ctx context.Context, stageID model.StageID, version int64) (*model.AIStepConfig, error) {
	data, err := s.redis.Get(ctx, configVersionKey(stageID, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.NewError(model.KindNotFound, "", stageID, "config version %d not found", version)
		}
		return nil, err
	}

	var cfg model.AIStepConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *RedisConfigStore) ListVersions(ctx context.Context, stageID model.StageID, afterVersion int64, limit int) ([]model.AIStepConfig, error) {
	if limit <= 0 {
		limit = 20
	}

	start := afterVersion - 1
	if afterVersion == 0 {
		seq, err := s.redis.Get(ctx, configSeqKey(stageID)).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, err
		}
		start = seq
	}

	var out []model.AIStepConfig
	for v := start; v >= 1 && len(out) < limit; v-- {
		cfg, err := s.GetVersion(ctx, stageID, v)
		if err != nil {
			if model.IsKind(err, model.KindNotFound) {
				continue // allocated but never written (crashed writer)
			}
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, nil
}

// RedisVersionAllocator allocates artifact versions with INCR, which makes
// them strictly increasing from 1 with no gaps.
type RedisVersionAllocator struct {
	redis *redis.Client
}

func NewRedisVersionAllocator(redisClient *redis.Client) *RedisVersionAllocator {
	return &RedisVersionAllocator{redis: redisClient}
}

func artifactSeqKey(documentID string, stageID model.StageID) string {
	return fmt.Sprintf("artifact:seq:%s:%s", documentID, stageID)
}

func (a *RedisVersionAllocator) NextVersion(ctx context.Context, documentID string, stageID model.StageID) (int64, error) {
	return a.redis.Incr(ctx, artifactSeqKey(documentID, stageID)).Result()
}

func (a *RedisVersionAllocator) CurrentVersion(ctx context.Context, documentID string, stageID model.StageID) (int64, error) {
	v, err := a.redis.Get(ctx, artifactSeqKey(documentID, stageID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}
