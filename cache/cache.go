// Package cache is a get-or-compute key/value store with per entry expiry,
// shared by all requests of the process.
package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggdash_cache_hits_total",
		Help: "The total number of cache fetches answered from the cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggdash_cache_misses_total",
		Help: "The total number of cache fetches that had to compute their value",
	})

	cacheComputeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggdash_cache_compute_errors_total",
		Help: "The total number of failed computations, none of which were stored",
	})

	cacheFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggdash_cache_flushes_total",
		Help: "The total number of cache flushes",
	})
)

// Backend stores serialized values with an expiry
type Backend interface {
	// Get returns the value for key, or false when it is absent or expired
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Flush discards every entry and returns how many were discarded
	Flush(ctx context.Context) (int, error)
}

// ComputeFunc produces the value for a missing key
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Store answers fetches from its backend and computes missing values.
// Concurrent misses on the same key share a single computation, while
// misses on other keys proceed independently.
type Store struct {
	backend Backend
	group   singleflight.Group
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Fetch returns the live value for key, or computes, stores and returns it.
// A failed computation is returned to the caller and nothing is stored.
func (s *Store) Fetch(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	if value, ok := s.lookup(ctx, key); ok {
		cacheHits.Inc()
		return value, nil
	}

	result, err, shared := s.group.Do(key, func() (interface{}, error) {
		// Another flight may have stored the value between our lookup and now
		if value, ok := s.lookup(ctx, key); ok {
			cacheHits.Inc()
			return value, nil
		}

		cacheMisses.Inc()
		start := time.Now()
		value, err := compute(ctx)
		if err != nil {
			cacheComputeErrors.Inc()
			return nil, err
		}

		if err := s.backend.Set(ctx, key, value, ttl); err != nil {
			log.WithFields(log.Fields{
				"key":   key,
				"error": err,
			}).Error("Failed to store cache entry")
		}

		log.WithFields(log.Fields{
			"key":     key,
			"ttl":     ttl,
			"size":    len(value),
			"compute": time.Since(start),
		}).Info("Cache entry stored")
		return value, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		log.WithFields(log.Fields{
			"key": key,
		}).Debug("Cache computation shared between callers")
	}
	return result.([]byte), nil
}

// Flush discards all entries
func (s *Store) Flush(ctx context.Context) (int, error) {
	count, err := s.backend.Flush(ctx)
	if err != nil {
		return 0, err
	}
	cacheFlushes.Inc()
	log.WithFields(log.Fields{
		"count": count,
	}).Info("Cache flushed")
	return count, nil
}

// lookup treats backend failures as misses so an unreachable cache degrades
// to calling upstream instead of failing reads.
func (s *Store) lookup(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		log.WithFields(log.Fields{
			"key":   key,
			"error": err,
		}).Warn("Cache lookup failed")
		return nil, false
	}
	return value, ok
}
