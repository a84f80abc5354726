package render

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// HeadFunc computes the head fragment for an app.
type HeadFunc func(ctx context.Context, app string) (string, error)

// StaticHeads returns a HeadFunc serving fragments from a fixed map. Unknown
// apps get an empty fragment.
func StaticHeads(heads map[string]string) HeadFunc {
	return func(_ context.Context, app string) (string, error) {
		return heads[app], nil
	}
}

// HeadCache memoizes head fragments per app for the process lifetime.
// Concurrent misses for the same app share one computation. Errors are not
// cached.
type HeadCache struct {
	fn    HeadFunc
	group singleflight.Group

	mu    sync.RWMutex
	heads map[string]string
}

// NewHeadCache creates a cache around fn. A nil fn yields empty fragments.
func NewHeadCache(fn HeadFunc) *HeadCache {
	if fn == nil {
		fn = StaticHeads(nil)
	}
	return &HeadCache{
		fn:    fn,
		heads: make(map[string]string),
	}
}

// Get returns the head fragment for app, computing it on first use.
func (c *HeadCache) Get(ctx context.Context, app string) (string, error) {
	c.mu.RLock()
	head, ok := c.heads[app]
	c.mu.RUnlock()
	if ok {
		return head, nil
	}

	v, err, _ := c.group.Do(app, func() (any, error) {
		c.mu.RLock()
		head, ok := c.heads[app]
		c.mu.RUnlock()
		if ok {
			return head, nil
		}
		head, err := c.fn(ctx, app)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.heads[app] = head
		c.mu.Unlock()
		return head, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len returns the number of cached fragments.
func (c *HeadCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.heads)
}
