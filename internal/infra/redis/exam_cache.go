package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/domain"
)

// ExamCache keeps exam bundles in Redis so every instance shares one copy, and falls
// back to the loader on a miss. Bundles are stored as JSON under cbt:exam:{examID}.
// Invalidate bumps cbt:exam:{examID}:v; a load only writes back while that version is
// unchanged, so a bundle read before an edit is never cached after it.
type ExamCache struct {
	client *redis.Client
	loader app.ExamLoader
	ttl    time.Duration
	sf     singleflight.Group
	log    *slog.Logger
}

func NewExamCache(client *redis.Client, loader app.ExamLoader, ttl time.Duration) *ExamCache {
	return &ExamCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    slog.Default(),
	}
}

func (c *ExamCache) GetExamBundle(ctx context.Context, examID string) (domain.ExamBundle, error) {
	if bundle, ok := c.lookup(ctx, examID); ok {
		return bundle, nil
	}

	result, err, _ := c.sf.Do(examID, func() (interface{}, error) {
		// Re-check in case another instance filled it.
		if bundle, ok := c.lookup(ctx, examID); ok {
			return bundle, nil
		}

		version, err := c.version(ctx, c.client, examID)
		if err != nil {
			c.log.Warn("exam cache version read failed", "exam_id", examID, "error", err)
			return c.loader.LoadExam(ctx, examID)
		}

		bundle, err := c.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.ExamBundle{}, err
		}
		raw, err := json.Marshal(bundle)
		if err != nil {
			return domain.ExamBundle{}, fmt.Errorf("encode exam bundle: %w", err)
		}
		err = c.store(ctx, examID, version, raw)
		switch {
		case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
			c.log.Debug("exam cache write skipped, invalidated while loading", "exam_id", examID)
		case err != nil:
			c.log.Warn("exam cache write failed", "exam_id", examID, "error", err)
		}
		return bundle, nil
	})
	if err != nil {
		return domain.ExamBundle{}, err
	}
	return result.(domain.ExamBundle), nil
}

var errStale = errors.New("exam cache: version changed")

// store writes the bundle only if the version key still reads version.
func (c *ExamCache) store(ctx context.Context, examID string, version int64, raw []byte) error {
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.version(ctx, tx, examID)
		if err != nil {
			return err
		}
		if current != version {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(examID), raw, c.ttlWithJitter())
			return nil
		})
		return err
	}, versionKey(examID))
}

func (c *ExamCache) version(ctx context.Context, cmd redis.Cmdable, examID string) (int64, error) {
	v, err := cmd.Get(ctx, versionKey(examID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Invalidate bumps the version and deletes the cached bundle for every instance.
func (c *ExamCache) Invalidate(ctx context.Context, examID string) error {
	c.sf.Forget(examID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(examID))
		pipe.Del(ctx, key(examID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate exam %s: %w", examID, err)
	}
	return nil
}

func (c *ExamCache) lookup(ctx context.Context, examID string) (domain.ExamBundle, bool) {
	raw, err := c.client.Get(ctx, key(examID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("exam cache read failed", "exam_id", examID, "error", err)
		}
		return domain.ExamBundle{}, false
	}
	var bundle domain.ExamBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		c.log.Warn("exam cache entry corrupt", "exam_id", examID, "error", err)
		return domain.ExamBundle{}, false
	}
	return bundle, true
}

func key(examID string) string {
	return "cbt:exam:" + examID
}

func versionKey(examID string) string {
	return "cbt:exam:" + examID + ":v"
}

func (c *ExamCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int64N(jitterMax+1))
}
