package memory

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/domain"
)

// ExamCache caches exam bundles in process with TTL to avoid repeated store hits.
type ExamCache struct {
	loader app.ExamLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu       sync.RWMutex
	cache    map[string]cachedBundle
	versions map[string]uint64
}

type cachedBundle struct {
	bundle    domain.ExamBundle
	expiresAt time.Time
}

func NewExamCache(loader app.ExamLoader, ttl time.Duration) *ExamCache {
	return &ExamCache{
		loader:   loader,
		ttl:      ttl,
		clock:    time.Now,
		cache:    make(map[string]cachedBundle),
		versions: make(map[string]uint64),
	}
}

func (c *ExamCache) GetExamBundle(ctx context.Context, examID string) (domain.ExamBundle, error) {
	if bundle, ok := c.lookup(examID, c.clock()); ok {
		return bundle, nil
	}

	result, err, _ := c.sf.Do(examID, func() (interface{}, error) {
		now := c.clock()
		if bundle, ok := c.lookup(examID, now); ok {
			return bundle, nil
		}

		c.mu.RLock()
		version := c.versions[examID]
		c.mu.RUnlock()

		bundle, err := c.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.ExamBundle{}, err
		}

		c.mu.Lock()
		// Skip the write if the exam was invalidated while loading.
		if c.versions[examID] == version {
			c.cache[examID] = cachedBundle{bundle: bundle, expiresAt: now.Add(c.ttlWithJitter())}
		}
		c.mu.Unlock()
		return bundle, nil
	})
	if err != nil {
		return domain.ExamBundle{}, err
	}
	return result.(domain.ExamBundle), nil
}

// Invalidate drops the cached bundle so the next read reloads it.
func (c *ExamCache) Invalidate(_ context.Context, examID string) error {
	c.mu.Lock()
	delete(c.cache, examID)
	c.versions[examID]++
	c.mu.Unlock()
	c.sf.Forget(examID)
	return nil
}

func (c *ExamCache) lookup(examID string, now time.Time) (domain.ExamBundle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[examID]
	if !ok || !entry.expiresAt.After(now) {
		return domain.ExamBundle{}, false
	}
	return entry.bundle, true
}

func (c *ExamCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int64N(jitterMax+1))
}
