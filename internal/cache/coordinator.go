package cache

import (
	"encoding/json"
	"errors"
	"net/url"
	"sync/atomic"
	"time"

	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/metrics"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

// Key namespaces.
const (
	prefixRenderedBody = "model:rendered_body:"
	prefixMetadata     = "model:metadata:"
	prefixData         = "model:data:"
	prefixHashbangs    = "model:hashbangs:"
	prefixTitles       = "model:titles:"
	prefixWikiquery    = "model:wikiquery:"
	keyConfig          = "model:config"
	keyRecentEditors   = "view:recentemails"

	maxRecentEditors = 20
)

// Key constructors, exported for callers that memoize their own types with Memo.
func RenderedBodyKey(title string) string { return prefixRenderedBody + title }
func MetadataKey(title string) string     { return prefixMetadata + title }
func DataKey(title string) string         { return prefixData + title }
func HashbangsKey(title string) string    { return prefixHashbangs + title }
func TitlesKey(email string) string       { return prefixTitles + email }
func ConfigKey() string                   { return keyConfig }

func WikiqueryKey(query, email string) string {
	return prefixWikiquery + url.QueryEscape(query) + ":" + email
}

// Coordinator memoizes values derived from page state and invalidates them
// when that state changes. Backend failures are logged and behave as misses;
// the coordinator never returns a backend error to its caller.
type Coordinator struct {
	backend    Backend
	breaker    *gobreaker.CircuitBreaker
	group      singleflight.Group
	log        logger.Logger
	metrics    *metrics.Collector
	defaultTTL time.Duration

	// epoch is bumped by every invalidation. A value computed while the
	// epoch moved may be stale and is returned without being stored.
	epoch atomic.Uint64
}

// NewCoordinator creates a coordinator over backend. defaultTTL applies to
// entries without a namespace-specific lifetime; zero means no expiry.
func NewCoordinator(backend Backend, log logger.Logger, m *metrics.Collector, defaultTTL time.Duration) *Coordinator {
	c := &Coordinator{
		backend:    backend,
		log:        log,
		metrics:    m,
		defaultTTL: defaultTTL,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.With(map[string]interface{}{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("Cache circuit breaker changed state")
		},
	})
	return c
}

func (c *Coordinator) exec(op, key string, fn func() (interface{}, error)) (interface{}, bool) {
	res, err := c.breaker.Execute(fn)
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.log.With(map[string]interface{}{"op": op, "key": key}).Error(err, "Cache backend call failed")
		}
		return nil, false
	}
	return res, true
}

// get decodes the entry at key into v. It reports whether there was a hit.
func (c *Coordinator) get(key string, v interface{}) bool {
	res, ok := c.exec("get", key, func() (interface{}, error) {
		return c.backend.Get(key)
	})
	if !ok {
		c.metrics.RecordCache("error")
		return false
	}
	b, _ := res.([]byte)
	if b == nil {
		c.metrics.RecordCache("miss")
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		c.log.With(map[string]interface{}{"key": key}).Error(err, "Discarding undecodable cache entry")
		c.delete(key)
		c.metrics.RecordCache("miss")
		return false
	}
	c.metrics.RecordCache("hit")
	return true
}

func (c *Coordinator) set(key string, v interface{}, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.With(map[string]interface{}{"key": key}).Error(err, "Failed to encode cache entry")
		return
	}
	c.exec("set", key, func() (interface{}, error) {
		return nil, c.backend.Set(key, b, ttl)
	})
}

func (c *Coordinator) delete(keys ...string) {
	c.epoch.Add(1)
	for _, key := range keys {
		c.exec("delete", key, func() (interface{}, error) {
			return nil, c.backend.Delete(key)
		})
	}
}

func (c *Coordinator) deletePrefix(prefix string) {
	c.epoch.Add(1)
	c.exec("delete_prefix", prefix, func() (interface{}, error) {
		return nil, c.backend.DeletePrefix(prefix)
	})
}

// Memo returns the cached value at key, or computes, stores and returns it.
// Concurrent callers for the same key share one computation. ttl receives the
// computed value; a nil ttl uses the coordinator default.
func Memo[T any](c *Coordinator, key string, ttl func(T) time.Duration, compute func() (T, error)) (T, error) {
	var cached T
	if c.get(key, &cached) {
		return cached, nil
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		before := c.epoch.Load()
		v, err := compute()
		if err != nil {
			return nil, err
		}
		if c.epoch.Load() == before {
			d := c.defaultTTL
			if ttl != nil {
				d = ttl(v)
			}
			c.set(key, v, d)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// RenderedBody memoizes the rendered HTML of title.
func (c *Coordinator) RenderedBody(title string, compute func() (string, error)) (string, error) {
	return Memo(c, RenderedBodyKey(title), nil, compute)
}

// Metadata memoizes the parsed metadata of title.
func (c *Coordinator) Metadata(title string, compute func() (map[string]string, error)) (map[string]string, error) {
	return Memo(c, MetadataKey(title), nil, compute)
}

// Hashbangs memoizes the code languages used by title.
func (c *Coordinator) Hashbangs(title string, compute func() ([]string, error)) ([]string, error) {
	return Memo(c, HashbangsKey(title), nil, compute)
}

// Titles memoizes the titles readable by email.
func (c *Coordinator) Titles(email string, compute func() ([]string, error)) ([]string, error) {
	return Memo(c, TitlesKey(email), nil, compute)
}

// WikiQuery memoizes a query result for email. Small results expire sooner
// since they are the most likely to change.
func (c *Coordinator) WikiQuery(query, email string, compute func() ([]string, error)) ([]string, error) {
	return Memo(c, WikiqueryKey(query, email), WikiQueryTTL, compute)
}

// WikiQueryTTL returns the lifetime of a query result of the given size.
func WikiQueryTTL(result []string) time.Duration {
	switch n := len(result); {
	case n < 2:
		return time.Minute
	case n < 10:
		return 5 * time.Minute
	case n < 100:
		return time.Hour
	case n < 500:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// InvalidatePage drops every per-title entry of title.
func (c *Coordinator) InvalidatePage(title string) {
	c.delete(
		RenderedBodyKey(title),
		MetadataKey(title),
		DataKey(title),
		HashbangsKey(title),
	)
}

// InvalidateLists drops the per-user title lists and query results.
func (c *Coordinator) InvalidateLists() {
	c.deletePrefix(prefixTitles)
	c.deletePrefix(prefixWikiquery)
}

// InvalidateConfig drops the cached site configuration.
func (c *Coordinator) InvalidateConfig() {
	c.delete(keyConfig)
}

// RecentEditors returns the most recent editors, oldest first.
func (c *Coordinator) RecentEditors() []string {
	var emails []string
	if !c.get(keyRecentEditors, &emails) {
		return []string{}
	}
	return emails
}

// AddRecentEditor moves email to the end of the recent editor list, keeping
// at most 20 entries.
func (c *Coordinator) AddRecentEditor(email string) {
	emails := c.RecentEditors()
	if n := len(emails); n > 0 && emails[n-1] == email {
		return
	}
	kept := emails[:0]
	for _, e := range emails {
		if e != email {
			kept = append(kept, e)
		}
	}
	kept = append(kept, email)
	if len(kept) > maxRecentEditors {
		kept = kept[len(kept)-maxRecentEditors:]
	}
	c.set(keyRecentEditors, kept, 0)
}

// FlushAll empties the whole cache.
func (c *Coordinator) FlushAll() {
	c.epoch.Add(1)
	c.exec("clear", "*", func() (interface{}, error) {
		return nil, c.backend.Clear()
	})
}
