// Package cache memoises pipeline results per source, keyed by source id and
// invalidated by source fingerprint and age.
package cache

import (
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/source"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Policy decides what concurrent callers see while a source is being recomputed.
type Policy string

const (
	// PolicyBlock makes every caller wait for the in-flight recompute and share its result.
	PolicyBlock Policy = "block"
	// PolicyStale returns the previous complete entry at once and refreshes in the background.
	// Callers with no previous entry block as under PolicyBlock.
	PolicyStale Policy = "stale"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyBlock, PolicyStale:
		return p, nil
	case "":
		return PolicyBlock, nil
	}
	return "", fmt.Errorf("unknown cache policy %q", s)
}

// ComputeFunc runs the full pipeline for a source.
type ComputeFunc func(ctx context.Context, src source.Source) (*model.Batch, error)

// Entry is an immutable cached result. Entries are replaced, never modified.
type Entry struct {
	Batch       *model.Batch
	Fingerprint string
	ComputedAt  time.Time
}

// Cache holds one entry per source id. Readers of a fresh entry take no lock; each
// source id has at most one recompute in flight.
type Cache struct {
	compute ComputeFunc
	ttl     time.Duration
	policy  Policy
	logger  *zap.Logger
	now     func() time.Time

	entries    sync.Map // source id -> *Entry
	flights    singleflight.Group
	recomputes atomic.Int64
}

// New creates a cache. A ttl <= 0 disables age-based expiry, leaving only fingerprint checks.
func New(compute ComputeFunc, ttl time.Duration, policy Policy, logger *zap.Logger) *Cache {
	if policy == "" {
		policy = PolicyBlock
	}
	return &Cache{
		compute: compute,
		ttl:     ttl,
		policy:  policy,
		logger:  logger.With(logging.Component("cache")),
		now:     time.Now,
	}
}

// GetOrCompute returns the batch for src, recomputing it when the cached entry is missing,
// stale, or was computed from different content. The returned batch is shared and must
// be treated as read-only.
//
// When ctx ends before a recompute finishes, the previous entry is returned if one exists;
// otherwise the context error is. The recompute itself keeps running and still fills the cache.
func (c *Cache) GetOrCompute(ctx context.Context, src source.Source) (*model.Batch, error) {
	id := src.ID()

	fp, err := src.Fingerprint()
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.entries.Delete(id)
		}
		return nil, err
	}

	prev := c.load(id)
	if c.fresh(prev, fp) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return prev.Batch, nil
	}

	ch := c.flights.DoChan(id, func() (interface{}, error) {
		return c.refresh(src)
	})

	if c.policy == PolicyStale && prev != nil {
		metrics.CacheRequests.WithLabelValues("stale").Inc()
		c.logger.Debug("serving stale entry while refreshing", logging.Source(id))
		return prev.Batch, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	for retried := false; ; retried = true {
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			e := res.Val.(*Entry)
			if e.Fingerprint == fp || retried {
				return e.Batch, nil
			}
			// The flight was already computing content older than fp. Any flight started
			// from here on reads the source after fp was taken.
			c.logger.Debug("joined flight computed older content, refreshing again", logging.Source(id))
			ch = c.flights.DoChan(id, func() (interface{}, error) {
				return c.refresh(src)
			})
		case <-ctx.Done():
			if prev != nil {
				metrics.CacheRequests.WithLabelValues("stale").Inc()
				c.logger.Warn("recompute timed out, serving last good entry",
					logging.Source(id),
					zap.Time("computed_at", prev.ComputedAt))
				return prev.Batch, nil
			}
			return nil, ctx.Err()
		}
	}
}

// refresh runs inside the single flight for src. It re-checks freshness first so a caller
// that lost the race to a just-finished flight does not recompute again.
func (c *Cache) refresh(src source.Source) (*Entry, error) {
	id := src.ID()

	fp, err := src.Fingerprint()
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.entries.Delete(id)
		}
		return nil, err
	}
	if e := c.load(id); c.fresh(e, fp) {
		return e, nil
	}

	c.recomputes.Add(1)
	metrics.CacheRecomputes.Inc()

	// detached from any caller so a timed-out request does not abort the shared work
	batch, err := c.compute(context.Background(), src)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.entries.Delete(id)
		}
		c.logger.Warn("recompute failed", logging.Source(id), zap.Error(err))
		return nil, err
	}

	e := &Entry{Batch: batch, Fingerprint: fp, ComputedAt: c.now()}
	c.entries.Store(id, e)
	c.logger.Debug("entry replaced", logging.Source(id), logging.Fingerprint(fp))
	return e, nil
}

func (c *Cache) load(id string) *Entry {
	v, ok := c.entries.Load(id)
	if !ok {
		return nil
	}
	return v.(*Entry)
}

func (c *Cache) fresh(e *Entry, fp string) bool {
	if e == nil || e.Batch == nil || e.Fingerprint != fp {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(e.ComputedAt) < c.ttl
}

// Peek returns the current entry for id without checking freshness.
func (c *Cache) Peek(id string) (*Entry, bool) {
	e := c.load(id)
	return e, e != nil
}

// Invalidate drops the entry for id. The next request recomputes.
func (c *Cache) Invalidate(id string) {
	c.entries.Delete(id)
}

// Recomputes returns how many times the pipeline has been run.
func (c *Cache) Recomputes() int64 {
	return c.recomputes.Load()
}
