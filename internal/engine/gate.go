package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Gate serializes reconciliation. Acquire blocks until the caller may
// mutate state for every key in keys, or ctx is done. The returned release
// must be called exactly once.
type Gate interface {
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

// GlobalGate admits one batch at a time regardless of which calls it
// touches. Waiters are admitted in arrival order.
//
// Unrelated calls queue behind each other; prefer KeyedGate unless strict
// process-wide ordering of callbacks is required.
type GlobalGate struct {
	sem chan struct{}
}

func NewGlobalGate() *GlobalGate {
	return &GlobalGate{sem: make(chan struct{}, 1)}
}

func (g *GlobalGate) Acquire(ctx context.Context, _ []string) (func(), error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-g.sem }) }, nil
}

// KeyedGate serializes batches per call id. Batches touching disjoint calls
// run concurrently. Keys are locked in sorted order so two batches sharing
// several calls cannot deadlock.
type KeyedGate struct {
	mu      sync.Mutex
	entries map[string]*gateEntry
}

type gateEntry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedGate() *KeyedGate {
	return &KeyedGate{entries: make(map[string]*gateEntry)}
}

func (g *KeyedGate) Acquire(ctx context.Context, keys []string) (func(), error) {
	keys = normaliseKeys(keys)
	held := make([]string, 0, len(keys))

	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			g.unlock(held[i])
		}
	}

	for _, k := range keys {
		e := g.ref(k)
		select {
		case e.sem <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			g.unref(k)
			releaseHeld()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

// active reports how many keys currently have holders or waiters.
func (g *KeyedGate) active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *KeyedGate) ref(key string) *gateEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		e = &gateEntry{sem: make(chan struct{}, 1)}
		g.entries[key] = e
	}
	e.refs++
	return e
}

func (g *KeyedGate) unref(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(g.entries, key)
	}
}

func (g *KeyedGate) unlock(key string) {
	g.mu.Lock()
	e := g.entries[key]
	g.mu.Unlock()
	if e != nil {
		<-e.sem
	}
	g.unref(key)
}

// LeaseClient is a cross-process, single-holder lease keyed by string.
// Each holder presents the token it acquired with. utils.RedisLease
// implements it.
type LeaseClient interface {
	TryAcquire(ctx context.Context, key, token string) (bool, error)
	Refresh(ctx context.Context, key, token string) (bool, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// RedisGate serializes per call id across every process sharing the
// lease backend. Leases are renewed every RefreshInterval while held and
// expire on their own if a holder dies. RefreshInterval must stay well
// below the lease TTL.
type RedisGate struct {
	Lease           LeaseClient
	Prefix          string
	PollInterval    time.Duration
	RefreshInterval time.Duration
	Log             *slog.Logger
}

func (g *RedisGate) log() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.Default()
}

func (g *RedisGate) Acquire(ctx context.Context, keys []string) (func(), error) {
	keys = normaliseKeys(keys)
	poll := g.PollInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	token := uuid.NewString()

	held := make([]string, 0, len(keys))
	releaseHeld := func() {
		rctx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			ok, err := g.Lease.Release(rctx, held[i], token)
			switch {
			case err != nil:
				g.log().Warn("gate lease release failed", "key", held[i], "err", err)
			case !ok:
				g.log().Warn("gate lease expired before release", "key", held[i])
			}
		}
	}

	for _, k := range keys {
		key := g.Prefix + k
		for {
			ok, err := g.Lease.TryAcquire(ctx, key, token)
			if err != nil {
				releaseHeld()
				return nil, err
			}
			if ok {
				held = append(held, key)
				break
			}
			t := time.NewTimer(poll)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				releaseHeld()
				return nil, ctx.Err()
			}
		}
	}

	stop := g.renew(ctx, held, token)
	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			releaseHeld()
		})
	}, nil
}

// renew refreshes every held lease until the returned stop is called.
// A lease that can no longer be refreshed is dropped from the loop.
func (g *RedisGate) renew(ctx context.Context, held []string, token string) (stop func()) {
	if len(held) == 0 {
		return func() {}
	}
	every := g.RefreshInterval
	if every <= 0 {
		every = 10 * time.Second
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	keys := slices.Clone(held)

	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				return
			case <-ticker.C:
			}
			live := keys[:0]
			for _, key := range keys {
				ok, err := g.Lease.Refresh(rctx, key, token)
				switch {
				case rctx.Err() != nil:
					return
				case err != nil:
					g.log().Warn("gate lease refresh failed", "key", key, "err", err)
					live = append(live, key)
				case !ok:
					g.log().Error("gate lease lost while held", "key", key)
				default:
					live = append(live, key)
				}
			}
			keys = live
			if len(keys) == 0 {
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func normaliseKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
