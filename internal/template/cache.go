package template

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds how long an edited template can be served stale.
const DefaultTTL = 5 * time.Minute

// FetchTimeout bounds a shared fetch. It runs detached from the caller that
// started it, so one cancelled request cannot fail the others waiting on it.
const FetchTimeout = 30 * time.Second

// FetchFunc returns the raw source of one template.
type FetchFunc func(ctx context.Context) (string, error)

type entry struct {
	compiled  *Compiled
	fetchedAt time.Time
}

// Cache holds compiled templates keyed by owner and template id. Concurrent
// misses on one key share a single fetch and compile. Compile failures are
// never cached.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	// gens is bumped on Invalidate so a fetch that started earlier does not
	// repopulate the key with the old source.
	gens  map[string]uint64
	group singleflight.Group
}

// NewCache creates a Cache. ttl <= 0 uses DefaultTTL; now may be nil.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
	}
}

func cacheKey(ownerID, templateID string) string {
	return ownerID + "/" + templateID
}

// Get returns the compiled template, calling fetch on a miss or when the
// entry is older than the TTL.
func (c *Cache) Get(ctx context.Context, ownerID, templateID string, fetch FetchFunc) (*Compiled, error) {
	key := cacheKey(ownerID, templateID)

	c.mu.RLock()
	e, ok := c.entries[key]
	gen := c.gens[key]
	c.mu.RUnlock()

	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		metrics.IncTemplateCache("hit")
		return e.compiled, nil
	}
	if ok {
		metrics.IncTemplateCache("expired")
	} else {
		metrics.IncTemplateCache("miss")
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()
		source, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		compiled, err := Compile(source)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gens[key] == gen {
			c.entries[key] = entry{compiled: compiled, fetchedAt: c.now()}
		}
		c.mu.Unlock()
		return compiled, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Compiled), nil
	}
}

// Invalidate drops the entry so the next Get fetches fresh source.
func (c *Cache) Invalidate(ownerID, templateID string) {
	key := cacheKey(ownerID, templateID)

	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()

	c.group.Forget(key)
}

// Len reports the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Listen invalidates entries for every "{ownerID}/{templateID}" reference
// received on refs until the channel closes or ctx is done.
func (c *Cache) Listen(ctx context.Context, refs <-chan string, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref, ok := <-refs:
			if !ok {
				return
			}
			i := strings.LastIndex(ref, "/")
			if i <= 0 || i == len(ref)-1 {
				logger.Warn().Str("ref", ref).Msg("ignoring malformed template invalidation")
				continue
			}
			c.Invalidate(ref[:i], ref[i+1:])
			logger.Debug().Str("ref", ref).Msg("template invalidated")
		}
	}
}
