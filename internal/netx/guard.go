package netx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pollwise/fieldsync/internal/storage"
)

const (
	// DefaultTTL is how long successful responses stay cached.
	DefaultTTL = 5 * time.Minute
	// GoneTTL is how long a "permanently gone" sentinel short-circuits
	// further attempts for its key.
	GoneTTL = 24 * time.Hour
	// DefaultAttempts bounds the retry loop for ordinary calls.
	DefaultAttempts = 3
)

// Call is one unit of remote work. The guard knows nothing about its
// shape: a single-record fetch and a whole-file download compose the
// same way.
type Call func(ctx context.Context) ([]byte, error)

// CacheStore is the durable response-cache partition.
type CacheStore interface {
	GetCacheEntry(key string) (storage.CacheEntry, error)
	PutCacheEntry(e storage.CacheEntry) error
}

// Options select which guard behaviors apply to one call.
type Options struct {
	// CacheKey identifies the call for coalescing and caching. Calls
	// with an empty key are never coalesced or cached.
	CacheKey string
	// TTL for a cached successful response; DefaultTTL when zero.
	TTL time.Duration
	// Attempts bounds the retry loop; DefaultAttempts when zero.
	// Critical low-latency calls pass 2.
	Attempts int
	// Cacheable stores successful payloads. Gone sentinels are stored
	// whenever CacheKey is set, regardless.
	Cacheable bool
	// SkipProbe suppresses the connectivity check (used by the probe
	// target itself and by tests).
	SkipProbe bool
}

// Guard decorates remote calls with connectivity probing, response
// caching, request coalescing, and bounded retry with backoff. It is
// handed to components at construction; there is no ambient instance.
type Guard struct {
	cache  CacheStore
	prober *Prober
	group  singleflight.Group
	logger *slog.Logger

	// sleep is swappable so tests do not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGuard builds a Guard over the durable response cache and prober.
func NewGuard(cache CacheStore, prober *Prober) *Guard {
	return &Guard{
		cache:  cache,
		prober: prober,
		logger: slog.Default(),
		sleep:  sleepCtx,
	}
}

// Do runs one guarded call.
func (g *Guard) Do(ctx context.Context, opts Options, call Call) ([]byte, error) {
	if opts.CacheKey != "" {
		entry, err := g.cache.GetCacheEntry(opts.CacheKey)
		switch {
		case err == nil && entry.Gone:
			return nil, fmt.Errorf("%s: %w", opts.CacheKey, ErrGone)
		case err == nil:
			return entry.Payload, nil
		case !errors.Is(err, storage.ErrNotFound):
			g.logger.Warn("response cache read failed", "key", opts.CacheKey, "error", err)
		}
	}

	if opts.CacheKey == "" {
		return g.execute(ctx, opts, call)
	}

	// Concurrent callers for the same key share one in-flight call.
	v, err, _ := g.group.Do(opts.CacheKey, func() (any, error) {
		return g.execute(ctx, opts, call)
	})
	if err != nil {
		return nil, err
	}
	payload, _ := v.([]byte)
	return payload, nil
}

func (g *Guard) execute(ctx context.Context, opts Options, call Call) ([]byte, error) {
	if !opts.SkipProbe && !g.prober.Online(ctx) {
		return nil, ErrOffline
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, backoffDelay(attempt-1)); err != nil {
				return nil, err
			}
		}

		payload, err := call(ctx)
		if err == nil {
			if opts.Cacheable && opts.CacheKey != "" {
				g.cacheSuccess(opts, payload)
			}
			return payload, nil
		}

		class := Classify(err)
		if class == ClassGone {
			if opts.CacheKey != "" {
				g.cacheGone(opts.CacheKey)
			}
			return nil, err
		}
		if class != ClassTransient {
			// Permanent and duplicate outcomes get zero retries.
			return nil, err
		}
		lastErr = err
		g.logger.Debug("transient failure, will retry", "key", opts.CacheKey, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (g *Guard) cacheSuccess(opts Options, payload []byte) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	err := g.cache.PutCacheEntry(storage.CacheEntry{
		Key:       opts.CacheKey,
		Payload:   payload,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		g.logger.Warn("response cache write failed", "key", opts.CacheKey, "error", err)
	}
}

func (g *Guard) cacheGone(key string) {
	err := g.cache.PutCacheEntry(storage.CacheEntry{
		Key:       key,
		Gone:      true,
		ExpiresAt: time.Now().Add(GoneTTL),
	})
	if err != nil {
		g.logger.Warn("gone sentinel write failed", "key", key, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
