package ads

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/itranswarp/backend/internal/metrics"
	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
	"github.com/itranswarp/backend/pkg/clock"
)

const (
	DefaultCacheKey = "ads:serving"
	DefaultCacheTTL = 10 * time.Minute

	invalidateAttempts = 3
	invalidateBackoff  = 50 * time.Millisecond
)

// CacheStore is a shared byte cache. Get reports ok=false on a miss.
// Incr atomically increments the integer stored at key, starting from 0.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// CacheOptions configures a ServingCache.
type CacheOptions struct {
	Key string
	TTL time.Duration
}

// cachedSnapshot is what is stored under the cache key. Day pins the entry to
// the calendar day it was resolved for, Generation to the invalidation counter
// read before the snapshot was computed.
type cachedSnapshot struct {
	Day        models.Date     `json:"day"`
	Generation int64           `json:"generation"`
	Snapshot   json.RawMessage `json:"snapshot"`
}

// ServingCache serves the resolved snapshot from a shared cache and recomputes it on a miss.
type ServingCache struct {
	cache    CacheStore
	store    Store
	imageURL ImageURLFunc
	clock    clock.Clock
	key      string
	genKey   string
	ttl      time.Duration
	logger   *zap.Logger

	group singleflight.Group
}

// NewServingCache creates a serving cache over store.
func NewServingCache(cache CacheStore, store Store, imageURL ImageURLFunc, clk clock.Clock, opts CacheOptions, logger *zap.Logger) *ServingCache {
	if opts.Key == "" {
		opts.Key = DefaultCacheKey
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &ServingCache{
		cache:    cache,
		store:    store,
		imageURL: imageURL,
		clock:    clk,
		key:      opts.Key,
		genKey:   opts.Key + ":gen",
		ttl:      opts.TTL,
		logger:   logger,
	}
}

// SnapshotJSON returns the encoded snapshot for today. Two calls with no mutation
// in between return identical bytes.
func (c *ServingCache) SnapshotJSON(ctx context.Context) ([]byte, error) {
	today := models.DateOf(c.clock.Now())
	gen, genErr := c.generation(ctx)
	if genErr == nil {
		if data, ok := c.lookup(ctx, today, gen); ok {
			metrics.ServingCacheLookups.WithLabelValues("hit").Inc()
			return data, nil
		}
	} else {
		c.logger.Warn("read serving cache generation failed", zap.Error(genErr))
	}
	metrics.ServingCacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(string(today)+"/"+strconv.FormatInt(gen, 10), func() (interface{}, error) {
		snap, err := c.Compute(ctx, today)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, err
		}
		// Without a known generation the entry could not be checked on read.
		if genErr == nil {
			c.fill(ctx, today, gen, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, apperr.From(err)
	}
	return v.([]byte), nil
}

// Snapshot returns the decoded snapshot for today.
func (c *ServingCache) Snapshot(ctx context.Context) (models.ServingSnapshot, error) {
	data, err := c.SnapshotJSON(ctx)
	if err != nil {
		return nil, err
	}
	var snap models.ServingSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("decode serving snapshot: %w", err))
	}
	return snap, nil
}

// Compute resolves the snapshot for today directly from the store.
func (c *ServingCache) Compute(ctx context.Context, today models.Date) (models.ServingSnapshot, error) {
	var snap models.ServingSnapshot
	err := c.store.InTx(ctx, func(q Queries) error {
		slots, err := q.ListSlots(ctx)
		if err != nil {
			return err
		}
		periods, err := q.ListPeriods(ctx, PeriodFilter{ActiveOn: today})
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(periods))
		for _, p := range periods {
			ids = append(ids, p.ID)
		}
		var materials []models.AdMaterial
		if len(ids) > 0 {
			if materials, err = q.ListMaterials(ctx, MaterialFilter{PeriodIDs: ids}); err != nil {
				return err
			}
		}
		snap = Resolve(today, slots, periods, materials, c.imageURL)
		return nil
	})
	if err != nil {
		return nil, apperr.From(err)
	}
	return snap, nil
}

// Invalidate bumps the shared generation and drops the cached snapshot, retrying
// transient failures. Entries filled under an older generation are never served.
func (c *ServingCache) Invalidate(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= invalidateAttempts; attempt++ {
		if err = c.invalidateOnce(ctx); err == nil {
			return nil
		}
		if attempt < invalidateAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * invalidateBackoff):
			}
		}
	}
	return err
}

func (c *ServingCache) invalidateOnce(ctx context.Context) error {
	if _, err := c.cache.Incr(ctx, c.genKey); err != nil {
		return fmt.Errorf("bump generation: %w", err)
	}
	return c.cache.Delete(ctx, c.key)
}

// Hook returns a commit hook that invalidates the snapshot. A failed invalidation
// is logged and counted; the entry then expires by TTL.
func (c *ServingCache) Hook() CommitHook {
	return func(ctx context.Context, ch Change) {
		if err := c.Invalidate(ctx); err != nil {
			metrics.ServingCacheInvalidationFailures.Inc()
			c.logger.Error("invalidate serving cache failed",
				zap.String("change", string(ch.Kind)),
				zap.String("entity_id", ch.EntityID.String()),
				zap.Error(err),
			)
		}
	}
}

// generation returns the shared invalidation counter; a missing key is 0.
func (c *ServingCache) generation(ctx context.Context) (int64, error) {
	raw, ok, err := c.cache.Get(ctx, c.genKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse generation %q: %w", raw, err)
	}
	return gen, nil
}

func (c *ServingCache) lookup(ctx context.Context, today models.Date, gen int64) ([]byte, bool) {
	raw, ok, err := c.cache.Get(ctx, c.key)
	if err != nil {
		c.logger.Warn("read serving cache failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry cachedSnapshot
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("discard malformed serving cache entry", zap.Error(err))
		return nil, false
	}
	if entry.Day != today || entry.Generation != gen {
		return nil, false
	}
	return entry.Snapshot, true
}

// fill stores data computed under gen. If an invalidation landed meanwhile the
// entry is dropped again; lookup rejects it either way.
func (c *ServingCache) fill(ctx context.Context, today models.Date, gen int64, data []byte) {
	raw, err := json.Marshal(cachedSnapshot{Day: today, Generation: gen, Snapshot: data})
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.key, raw, c.ttl); err != nil {
		c.logger.Warn("write serving cache failed", zap.Error(err))
		return
	}
	current, err := c.generation(ctx)
	if err == nil && current == gen {
		return
	}
	if err := c.cache.Delete(ctx, c.key); err != nil {
		c.logger.Warn("drop stale serving cache entry failed", zap.Error(err))
	}
}
