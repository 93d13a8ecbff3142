// Package spike coalesces concurrent reads of the same slow resource and keeps the result for a short time
package spike

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultCleanupInterval = time.Minute
	defaultFetchTimeout    = 5 * time.Second
)

type call[T any] struct {
	done chan struct{}
	v    T
	err  error
}

// Fetcher runs at most one fetch per key at a time, errors are not cached
type Fetcher[T any] struct {
	mu       sync.Mutex
	fetch    func(ctx context.Context, key string) (T, error)
	cache    *gocache.Cache
	inflight map[string]*call[T]

	fetchTimeout time.Duration
}

func NewFetcher[T any](fetch func(ctx context.Context, key string) (T, error), cacheTime time.Duration) *Fetcher[T] {
	return &Fetcher[T]{
		fetch:        fetch,
		cache:        gocache.New(cacheTime, defaultCleanupInterval),
		inflight:     make(map[string]*call[T]),
		fetchTimeout: defaultFetchTimeout,
	}
}

func (f *Fetcher[T]) Get(ctx context.Context, key string) (T, error) { //nolint:ireturn
	if v, ok := f.cache.Get(key); ok {
		return v.(T), nil //nolint:forcetypeassert
	}

	f.mu.Lock()
	c, ok := f.inflight[key]
	if !ok {
		c = &call[T]{done: make(chan struct{})}
		f.inflight[key] = c
		go f.run(key, c)
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		var empty T
		return empty, ctx.Err()
	case <-c.done:
		return c.v, c.err
	}
}

// run is detached from the caller context, other callers may still wait for the result
func (f *Fetcher[T]) run(key string, c *call[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), f.fetchTimeout)
	defer cancel()

	c.v, c.err = f.fetch(ctx, key)
	if c.err == nil {
		f.cache.SetDefault(key, c.v)
	}

	f.mu.Lock()
	delete(f.inflight, key)
	f.mu.Unlock()
	close(c.done)
}
