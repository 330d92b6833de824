// Package singleflight reimplements the deduplication algorithm of
// [golang.org/x/sync/singleflight], typed over a comparable key and an
// arbitrary result instead of "string" and "any" so that [Group.DoChan]'s
// callers (patchcache.Cache, [github.com/psi-daq/daqbuffer-go/internal/cache.Live])
// get a typed result without a type assertion at every call site.
package singleflight

import "sync"

// Result is the value sent on the channel returned by [Group.DoChan].
type Result[V any] struct {
	Val V
	Err error
}

// Group deduplicates concurrent calls sharing a key, so that the function
// passed to [Group.DoChan] runs at most once per in-flight key regardless of
// how many callers ask for it.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	wg  sync.WaitGroup
	val V
	err error
}

// DoChan executes and returns the results of fn, making sure that only one
// execution is in-flight for a given key at a time. The returned channel
// receives exactly one [Result].
func (g *Group[K, V]) DoChan(key K, fn func() (V, error)) <-chan Result[V] {
	ch := make(chan Result[V], 1)

	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		go func() {
			c.wg.Wait()
			ch <- Result[V]{Val: c.val, Err: c.err}
		}()
		return ch
	}
	c := new(call[V])
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	go func() {
		c.val, c.err = fn()
		c.wg.Done()

		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()

		ch <- Result[V]{Val: c.val, Err: c.err}
	}()

	return ch
}

// Forget tells the Group to forget a key so that the next call with that key
// will call fn rather than waiting on an earlier (possibly stalled) call.
//
// It does not cancel the earlier in-flight call itself.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.m, key)
}
