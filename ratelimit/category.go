package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Category generalizes catrate.Limiter's signature feature - independent
// rate limiting per arbitrary comparable key - into a decorator usable
// over any Limiter constructor, rather than being hardwired to
// catrate's multi-window sliding algorithm. Idle keys are evicted by a
// background worker using the same self-stopping ticker strategy as
// catrate.Limiter.worker.
type Category[K comparable] struct {
	newLimiter func() Limiter
	retention  time.Duration
	logger     Logger

	running    atomic.Bool
	categories sync.Map // K -> *categoryEntry

	stop chan struct{}
}

type categoryEntry struct {
	limiter Limiter
	// lastUsed, in UnixNano, updated on every TryAcquire call.
	lastUsed atomic.Int64
}

// NewCategory builds a Category that lazily constructs one Limiter per
// key via newLimiter, evicting keys idle for longer than retention. A
// retention <= 0 disables eviction (entries live as long as the process).
func NewCategory[K comparable](newLimiter func() Limiter, retention time.Duration) *Category[K] {
	if newLimiter == nil {
		panic("ratelimit: category: nil newLimiter")
	}
	return &Category[K]{newLimiter: newLimiter, retention: retention, stop: make(chan struct{})}
}

// SetLogger wires an optional structured-diagnostics hook for the
// idle-category eviction worker. Must be called before the worker is
// first started (i.e. before the first TryAcquire) to take effect.
func (c *Category[K]) SetLogger(l Logger) { c.logger = l }

func (c *Category[K]) entry(key K) *categoryEntry {
	if v, ok := c.categories.Load(key); ok {
		return v.(*categoryEntry)
	}
	e := &categoryEntry{limiter: c.newLimiter()}
	actual, _ := c.categories.LoadOrStore(key, e)
	return actual.(*categoryEntry)
}

// TryAcquire attempts to admit one event for key, never blocking.
func (c *Category[K]) TryAcquire(key K) bool {
	c.maybeStartWorker()
	e := c.entry(key)
	e.lastUsed.Store(timeNow().UnixNano())
	return e.limiter.TryAcquire()
}

func (c *Category[K]) maybeStartWorker() {
	if c.retention <= 0 {
		return
	}
	if c.running.CompareAndSwap(false, true) {
		go c.worker()
	}
}

// worker periodically evicts categories idle longer than retention,
// mirroring catrate.Limiter.worker's self-stopping ticker: it exits once
// a sweep finds nothing left to clean, and is restarted lazily by the
// next TryAcquire.
func (c *Category[K]) worker() {
	interval := time.Duration(math.Max(float64(c.retention)*0.5, float64(time.Second)))
	ticker := timeNewTicker(interval)
	defer ticker.Stop()

	for {
		<-ticker.C

		threshold := timeNow().Add(-c.retention).UnixNano()
		anyLive := false
		var toDelete []K

		c.categories.Range(func(k, v any) bool {
			e := v.(*categoryEntry)
			if e.lastUsed.Load() < threshold {
				toDelete = append(toDelete, k.(K))
			} else {
				anyLive = true
			}
			return true
		})

		for _, k := range toDelete {
			c.categories.Delete(k)
		}

		if len(toDelete) > 0 {
			logEvent(c.logger, "category_evicted", "count", len(toDelete))
		}

		if !anyLive && len(toDelete) == 0 {
			c.running.Store(false)
			logEvent(c.logger, "category_worker_stopped")
			return
		}
	}
}
