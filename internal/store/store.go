// Package store keeps analyst workspaces in a TTL cache. Nothing is persisted:
// a workspace disappears when its TTL lapses without a write, or on restart
// with the in-memory backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/wind-analytics-service/internal/cache"
	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/observability"
)

var ErrNotFound = errors.New("workspace not found")

const (
	workspaceCacheType = "workspace"
	datasetCacheType   = "dataset"

	// lockStripes bounds the number of write locks regardless of how many workspaces exist.
	lockStripes = 64
)

// Dataset is one uploaded file after parsing and preprocessing.
type Dataset struct {
	Kind       models.Kind
	Site       string
	Filename   string
	UploadedAt time.Time
	Table      *dataset.Table
}

// Workspace holds at most one dataset per (kind, site).
type Workspace struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Datasets  map[string]*Dataset
}

// Manifest is the cached form of a workspace. Datasets are cached under their
// own keys so no single item carries every upload.
type Manifest struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Datasets  []string
}

// DatasetKey is the map key for a (kind, site) pair.
func DatasetKey(kind models.Kind, site string) string {
	return string(kind) + "/" + site
}

// Dataset returns the dataset for kind and site, or nil.
func (w *Workspace) Dataset(kind models.Kind, site string) *Dataset {
	if w == nil || w.Datasets == nil {
		return nil
	}
	return w.Datasets[DatasetKey(kind, site)]
}

// Store wraps the manifest and dataset caches. Writes for one workspace are
// serialised so concurrent uploads to different sites do not drop each other.
type Store struct {
	manifests cache.Cache[*Manifest]
	datasets  cache.Cache[*Dataset]
	ttl       time.Duration
	now       func() time.Time

	locks [lockStripes]sync.Mutex
}

// New returns a Store whose workspaces live for ttl after their last write.
func New(manifests cache.Cache[*Manifest], datasets cache.Cache[*Dataset], ttl time.Duration) *Store {
	return &Store{manifests: manifests, datasets: datasets, ttl: ttl, now: time.Now}
}

func datasetCacheKey(id, key string) string {
	return id + "/" + key
}

// Create stores an empty workspace under a fresh UUID.
func (s *Store) Create(ctx context.Context) (*Workspace, error) {
	now := s.now()
	m := &Manifest{ID: uuid.New().String(), CreatedAt: now, UpdatedAt: now}
	if err := s.manifests.Set(ctx, m.ID, m, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues(workspaceCacheType, "set").Inc()
		return nil, fmt.Errorf("store workspace: %w", err)
	}
	observability.WorkspacesCreatedTotal.Inc()
	return &Workspace{ID: m.ID, CreatedAt: now, UpdatedAt: now, Datasets: make(map[string]*Dataset)}, nil
}

func (s *Store) manifest(ctx context.Context, id string) (*Manifest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	m, ok, err := s.manifests.Get(ctx, id)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues(workspaceCacheType, "get").Inc()
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	if !ok || m == nil {
		observability.CacheMissesTotal.WithLabelValues(workspaceCacheType).Inc()
		return nil, ErrNotFound
	}
	observability.CacheHitsTotal.WithLabelValues(workspaceCacheType).Inc()
	return m, nil
}

// Get returns the workspace with its datasets, or ErrNotFound. Datasets the
// cache has already evicted are left out.
func (s *Store) Get(ctx context.Context, id string) (*Workspace, error) {
	m, err := s.manifest(ctx, id)
	if err != nil {
		return nil, err
	}
	ws := &Workspace{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Datasets:  make(map[string]*Dataset, len(m.Datasets)),
	}
	for _, key := range m.Datasets {
		ds, ok, err := s.datasets.Get(ctx, datasetCacheKey(id, key))
		if err != nil {
			observability.CacheErrorsTotal.WithLabelValues(datasetCacheType, "get").Inc()
			return nil, fmt.Errorf("load dataset %s: %w", key, err)
		}
		if !ok || ds == nil {
			observability.CacheMissesTotal.WithLabelValues(datasetCacheType).Inc()
			continue
		}
		observability.CacheHitsTotal.WithLabelValues(datasetCacheType).Inc()
		ws.Datasets[key] = ds
	}
	return ws, nil
}

// PutDataset adds or replaces a dataset and re-stores the workspace, refreshing the
// TTL of the manifest and every dataset. The returned workspace is a fresh copy;
// callers holding an earlier Workspace do not see the change.
// A dataset too large for the cache backend fails with dataset.ErrTooLarge.
func (s *Store) PutDataset(ctx context.Context, id string, ds *Dataset) (*Workspace, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	ws, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := &Workspace{
		ID:        ws.ID,
		CreatedAt: ws.CreatedAt,
		UpdatedAt: s.now(),
		Datasets:  make(map[string]*Dataset, len(ws.Datasets)+1),
	}
	for k, v := range ws.Datasets {
		next.Datasets[k] = v
	}
	key := DatasetKey(ds.Kind, ds.Site)
	next.Datasets[key] = ds

	if err := s.setDataset(ctx, id, key, ds); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(next.Datasets))
	for k, v := range next.Datasets {
		keys = append(keys, k)
		if k == key {
			continue
		}
		if err := s.setDataset(ctx, id, k, v); err != nil {
			return nil, err
		}
	}
	sort.Strings(keys)
	m := &Manifest{ID: next.ID, CreatedAt: next.CreatedAt, UpdatedAt: next.UpdatedAt, Datasets: keys}
	if err := s.manifests.Set(ctx, id, m, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues(workspaceCacheType, "set").Inc()
		return nil, fmt.Errorf("store workspace: %w", err)
	}
	return next, nil
}

func (s *Store) setDataset(ctx context.Context, id, key string, ds *Dataset) error {
	err := s.datasets.Set(ctx, datasetCacheKey(id, key), ds, s.ttl)
	if err == nil {
		return nil
	}
	observability.CacheErrorsTotal.WithLabelValues(datasetCacheType, "set").Inc()
	if errors.Is(err, cache.ErrValueTooLarge) {
		return fmt.Errorf("%w: %s does not fit in the cache: %v", dataset.ErrTooLarge, key, err)
	}
	return fmt.Errorf("store dataset %s: %w", key, err)
}

// Delete removes a workspace and its datasets. Missing workspaces are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	m, err := s.manifest(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, key := range m.Datasets {
		if err := s.datasets.Delete(ctx, datasetCacheKey(id, key)); err != nil {
			observability.CacheErrorsTotal.WithLabelValues(datasetCacheType, "delete").Inc()
			return fmt.Errorf("delete dataset %s: %w", key, err)
		}
	}
	if err := s.manifests.Delete(ctx, id); err != nil {
		observability.CacheErrorsTotal.WithLabelValues(workspaceCacheType, "delete").Inc()
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

// lockFor maps id onto one of a fixed set of mutexes.
func (s *Store) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}
