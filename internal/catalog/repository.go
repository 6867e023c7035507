package catalog

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"escape-room-service/internal/domain"
)

// Repository caches the catalog with a TTL so each new session does not
// hit the backing source. The catalog is immutable for a session; the TTL
// only bounds how stale a long-running process can get.
type Repository struct {
	loader Loader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu      sync.RWMutex
	cached  domain.Catalog
	loaded  bool
	expires time.Time
}

func NewRepository(loader Loader, ttl time.Duration) *Repository {
	return &Repository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Repository) Get(ctx context.Context) (domain.Catalog, error) {
	now := r.clock()

	r.mu.RLock()
	if r.loaded && r.expires.After(now) {
		cat := r.cached
		r.mu.RUnlock()
		return cat, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do("catalog", func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if r.loaded && r.expires.After(now) {
			cat := r.cached
			r.mu.RUnlock()
			return cat, nil
		}
		r.mu.RUnlock()

		cat, err := r.loader.Load(ctx)
		if err != nil {
			return domain.Catalog{}, err
		}

		r.mu.Lock()
		r.cached = cat
		r.loaded = true
		r.expires = now.Add(r.ttlWithJitter())
		r.mu.Unlock()
		return cat, nil
	})
	if err != nil {
		return domain.Catalog{}, err
	}
	return result.(domain.Catalog), nil
}

func (r *Repository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread reloads
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
