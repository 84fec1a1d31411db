package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/wind-analytics-service/internal/cache"
	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

type failingManifests struct {
	cache.Cache[*Manifest]
	err error
}

func (f failingManifests) Set(context.Context, string, *Manifest, time.Duration) error { return f.err }

// failingDatasets delegates to an in-memory cache but fails Set with err.
type failingDatasets struct {
	*cache.InMemoryCache[*Dataset]
	err error
}

func (f failingDatasets) Set(context.Context, string, *Dataset, time.Duration) error { return f.err }

func newStore() *Store {
	return New(cache.NewInMemoryCache[*Manifest](0), cache.NewInMemoryCache[*Dataset](0), time.Hour)
}

func TestStore_CreateGet(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	ws, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ws.ID == "" || len(ws.Datasets) != 0 {
		t.Errorf("Create() = %+v", ws)
	}
	got, err := s.Get(ctx, ws.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != ws.ID {
		t.Errorf("Get().ID = %q, want %q", got.ID, ws.ID)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	s := newStore()
	for _, id := range []string{"not-a-uuid", "6f1c0a8e-2f3b-4c55-9d1e-000000000000"} {
		if _, err := s.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

// TestStore_PutDataset verifies replace-per-(kind, site) and copy-on-write semantics.
func TestStore_PutDataset(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	ws, _ := s.Create(ctx)

	first := &Dataset{Kind: models.KindMesoscale, Site: "scotland", Filename: "a.csv", Table: &dataset.Table{Rows: 1}}
	if _, err := s.PutDataset(ctx, ws.ID, first); err != nil {
		t.Fatalf("PutDataset() error = %v", err)
	}
	second := &Dataset{Kind: models.KindMesoscale, Site: "scotland", Filename: "b.csv", Table: &dataset.Table{Rows: 2}}
	updated, err := s.PutDataset(ctx, ws.ID, second)
	if err != nil {
		t.Fatalf("PutDataset() error = %v", err)
	}
	if len(updated.Datasets) != 1 || updated.Dataset(models.KindMesoscale, "scotland").Filename != "b.csv" {
		t.Errorf("Datasets = %+v, want single replaced entry", updated.Datasets)
	}
	if ws.Dataset(models.KindMesoscale, "scotland") != nil {
		t.Error("original workspace mutated")
	}
}

func TestStore_PutDataset_Missing(t *testing.T) {
	s := newStore()
	_, err := s.PutDataset(context.Background(), "6f1c0a8e-2f3b-4c55-9d1e-000000000000", &Dataset{Kind: models.KindLidar, Site: "ireland"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("PutDataset() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Create_CacheError(t *testing.T) {
	boom := errors.New("memcached down")
	s := New(failingManifests{err: boom}, cache.NewInMemoryCache[*Dataset](0), time.Hour)
	if _, err := s.Create(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Create() error = %v, want wrapped %v", err, boom)
	}
}

// TestStore_ConcurrentUploads verifies that concurrent uploads to different sites are all kept.
func TestStore_ConcurrentUploads(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	ws, _ := s.Create(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.PutDataset(ctx, ws.ID, &Dataset{Kind: models.KindGeneric, Site: fmt.Sprintf("site%d", i)})
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, ws.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Datasets) != 20 {
		t.Errorf("len(Datasets) = %d, want 20", len(got.Datasets))
	}
}

func TestStore_Delete(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	ws, _ := s.Create(ctx)
	if err := s.Delete(ctx, ws.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, ws.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v", err)
	}
}

func TestStore_DatasetsCachedUnderOwnKeys(t *testing.T) {
	manifests := cache.NewInMemoryCache[*Manifest](0)
	datasets := cache.NewInMemoryCache[*Dataset](0)
	s := New(manifests, datasets, time.Hour)
	ctx := context.Background()
	ws, _ := s.Create(ctx)

	for _, site := range []string{"scotland", "ireland"} {
		if _, err := s.PutDataset(ctx, ws.ID, &Dataset{Kind: models.KindLidar, Site: site}); err != nil {
			t.Fatalf("PutDataset(%s) error = %v", site, err)
		}
	}
	if datasets.Len() != 2 {
		t.Errorf("dataset cache entries = %d, want 2", datasets.Len())
	}
	m, ok, _ := manifests.Get(ctx, ws.ID)
	if !ok || len(m.Datasets) != 2 || m.Datasets[0] != "lidar/ireland" || m.Datasets[1] != "lidar/scotland" {
		t.Errorf("manifest = %+v, want sorted dataset keys", m)
	}
}

func TestStore_Get_SkipsEvictedDataset(t *testing.T) {
	datasets := cache.NewInMemoryCache[*Dataset](0)
	s := New(cache.NewInMemoryCache[*Manifest](0), datasets, time.Hour)
	ctx := context.Background()
	ws, _ := s.Create(ctx)
	_, _ = s.PutDataset(ctx, ws.ID, &Dataset{Kind: models.KindMesoscale, Site: "scotland"})
	_, _ = s.PutDataset(ctx, ws.ID, &Dataset{Kind: models.KindMesoscale, Site: "ireland"})
	_ = datasets.Delete(ctx, ws.ID+"/mesoscale/ireland")

	got, err := s.Get(ctx, ws.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Datasets) != 1 || got.Dataset(models.KindMesoscale, "scotland") == nil {
		t.Errorf("Datasets = %+v, want only scotland", got.Datasets)
	}
}

// TestStore_PutDataset_TooLarge verifies an item rejected by the cache for size is
// reported as an oversized upload.
func TestStore_PutDataset_TooLarge(t *testing.T) {
	datasets := failingDatasets{
		InMemoryCache: cache.NewInMemoryCache[*Dataset](0),
		err:           fmt.Errorf("%w: 2000000 bytes", cache.ErrValueTooLarge),
	}
	s := New(cache.NewInMemoryCache[*Manifest](0), datasets, time.Hour)
	ctx := context.Background()
	ws, _ := s.Create(ctx)

	_, err := s.PutDataset(ctx, ws.ID, &Dataset{Kind: models.KindLidar, Site: "scotland"})
	if !errors.Is(err, dataset.ErrTooLarge) {
		t.Errorf("PutDataset() error = %v, want dataset.ErrTooLarge", err)
	}
	got, _ := s.Get(ctx, ws.ID)
	if len(got.Datasets) != 0 {
		t.Errorf("Datasets = %+v, want none after failed write", got.Datasets)
	}
}

func TestStore_PutDataset_OtherCacheError(t *testing.T) {
	boom := errors.New("memcached down")
	s := New(cache.NewInMemoryCache[*Manifest](0), failingDatasets{InMemoryCache: cache.NewInMemoryCache[*Dataset](0), err: boom}, time.Hour)
	ctx := context.Background()
	ws, _ := s.Create(ctx)
	_, err := s.PutDataset(ctx, ws.ID, &Dataset{Kind: models.KindLidar, Site: "scotland"})
	if !errors.Is(err, boom) || errors.Is(err, dataset.ErrTooLarge) {
		t.Errorf("PutDataset() error = %v, want wrapped %v", err, boom)
	}
}

// TestStore_LocksAreStriped verifies write locks come from a fixed pool, so expired
// workspaces leave nothing behind.
func TestStore_LocksAreStriped(t *testing.T) {
	s := New(cache.NewInMemoryCache[*Manifest](0), cache.NewInMemoryCache[*Dataset](0), time.Millisecond)
	ctx := context.Background()
	seen := make(map[*sync.Mutex]struct{})
	for i := 0; i < 1000; i++ {
		ws, err := s.Create(ctx)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if s.lockFor(ws.ID) != s.lockFor(ws.ID) {
			t.Fatal("lockFor() not stable for one id")
		}
		seen[s.lockFor(ws.ID)] = struct{}{}
	}
	if len(seen) > lockStripes {
		t.Errorf("distinct locks = %d, want at most %d", len(seen), lockStripes)
	}
}

func TestStore_DeleteRemovesDatasets(t *testing.T) {
	datasets := cache.NewInMemoryCache[*Dataset](0)
	s := New(cache.NewInMemoryCache[*Manifest](0), datasets, time.Hour)
	ctx := context.Background()
	ws, _ := s.Create(ctx)
	_, _ = s.PutDataset(ctx, ws.ID, &Dataset{Kind: models.KindLidar, Site: "scotland"})
	if err := s.Delete(ctx, ws.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if datasets.Len() != 0 {
		t.Errorf("dataset cache entries = %d, want 0", datasets.Len())
	}
	if err := s.Delete(ctx, ws.ID); err != nil {
		t.Errorf("Delete() twice error = %v", err)
	}
}
