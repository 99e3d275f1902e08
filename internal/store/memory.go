package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pressroom/api/internal/model"
)

// MemoryDocumentStore is an in-process DocumentStore for tests and for
// running without Redis.
type MemoryDocumentStore struct {
	mu     sync.Mutex
	docs   map[string][]byte
	leases map[string]time.Time
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs:   make(map[string][]byte),
		leases: make(map[string]time.Time),
	}
}

func (s *MemoryDocumentStore) Save(ctx context.Context, doc *model.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[doc.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryDocumentStore) Get(ctx context.Context, id string) (*model.Document, error) {
	s.mu.Lock()
	data, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		return nil, model.NewError(model.KindNotFound, id, "", "document not found")
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MemoryDocumentStore) AcquireLease(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiry, held := s.leases[id]; held && time.Now().Before(expiry) {
		return false, nil
	}
	s.leases[id] = time.Now().Add(ttl)
	return true, nil
}

func (s *MemoryDocumentStore) ReleaseLease(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.leases, id)
	s.mu.Unlock()
	return nil
}

// MemoryConfigStore is an in-process ConfigStore.
type MemoryConfigStore struct {
	mu       sync.Mutex
	seq      map[model.StageID]int64
	active   map[model.StageID]int64
	versions map[model.StageID]map[int64]model.AIStepConfig
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{
		seq:      make(map[model.StageID]int64),
		active:   make(map[model.StageID]int64),
		versions: make(map[model.StageID]map[int64]model.AIStepConfig),
	}
}

func (s *MemoryConfigStore) GetActive(ctx context.Context, stageID model.StageID) (*model.AIStepConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.active[stageID]
	if !ok {
		return nil, model.NewError(model.KindNotConfigured, "", stageID, "stage has no active configuration")
	}
	cfg := s.versions[stageID][version]
	return &cfg, nil
}

func (s *MemoryConfigStore) Put(ctx context.Context, cfg *model.AIStepConfig) (*model.AIStepConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[cfg.StageID]++
	out := *cfg
	out.Version = s.seq[cfg.StageID]
	out.UpdatedAt = time.Now().UTC()

	if s.versions[out.StageID] == nil {
		s.versions[out.StageID] = make(map[int64]model.AIStepConfig)
	}
	s.versions[out.StageID][out.Version] = out
	if out.Version > s.active[out.StageID] {
		s.active[out.StageID] = out.Version
	}
	return &out, nil
}

func (s *MemoryConfigStore) GetVersion(ctx context.Context, stageID model.StageID, version int64) (*model.AIStepConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.versions[stageID][version]
	if !ok {
		return nil, model.NewError(model.KindNotFound, "", stageID, "config version %d not found", version)
	}
	return &cfg, nil
}

func (s *MemoryConfigStore) ListVersions(ctx context.Context, stageID model.StageID, afterVersion int64, limit int) ([]model.AIStepConfig, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := afterVersion - 1
	if afterVersion == 0 {
		start = s.seq[stageID]
	}

	var out []model.AIStepConfig
	for v := start; v >= 1 && len(out) < limit; v-- {
		if cfg, ok := s.versions[stageID][v]; ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// MemoryVersionAllocator is an in-process VersionAllocator.
type MemoryVersionAllocator struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewMemoryVersionAllocator() *MemoryVersionAllocator {
	return &MemoryVersionAllocator{counters: make(map[string]int64)}
}

func (a *MemoryVersionAllocator) NextVersion(ctx context.Context, documentID string, stageID model.StageID) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := documentID + ":" + string(stageID)
	a.counters[key]++
	return a.counters[key], nil
}

func (a *MemoryVersionAllocator) CurrentVersion(ctx context.Context, documentID string, stageID model.StageID) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters[documentID+":"+string(stageID)], nil
}
