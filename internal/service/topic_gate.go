package service

import (
	"context"
	"sort"
	"sync"
)

// TopicGate serializes units that touch the same keys (topic keys and
// fingerprints). Units with disjoint keys never wait on each other.
type TopicGate struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewTopicGate() *TopicGate {
	return &TopicGate{locks: make(map[string]*keyLock)}
}

// Acquire takes all keys in sorted order so that two units sharing several
// keys cannot deadlock. The returned release must be called exactly once.
func (g *TopicGate) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = uniqueSorted(keys)

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := g.lock(ctx, key); err != nil {
			g.unlock(held)
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(func() { g.unlock(held) }) }, nil
}

func (g *TopicGate) lock(ctx context.Context, key string) error {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		g.release(key, l)
		g.mu.Unlock()
		return ctx.Err()
	}
}

func (g *TopicGate) unlock(keys []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := len(keys) - 1; i >= 0; i-- {
		l := g.locks[keys[i]]
		<-l.sem
		g.release(keys[i], l)
	}
}

// release drops one reference; g.mu must be held.
func (g *TopicGate) release(key string, l *keyLock) {
	l.refs--
	if l.refs == 0 {
		delete(g.locks, key)
	}
}

// Len reports how many keys are held or awaited.
func (g *TopicGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
