package signingkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lestrrat-go/blackmagic"
	"github.com/lestrrat-go/sigv4/scope"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is the number of signing keys kept by a Cache unless
// WithCapacity says otherwise.
const DefaultCapacity = 300

type entry struct {
	key  []byte
	date string
}

// Cache holds derived signing keys keyed by secret, region and service.
// An entry is only served for the UTC date it was derived for. Lookups do
// not refresh an entry's position, so eviction is in insertion order.
//
// A Cache is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, entry]
	group   singleflight.Group

	hits        prometheus.Counter
	misses      prometheus.Counter
	derivations prometheus.Counter
	size        prometheus.GaugeFunc
}

// NewCache creates a new Cache
func NewCache(options ...Option) (*Cache, error) {
	capacity := DefaultCapacity
	for _, opt := range options {
		switch opt.Ident() {
		case identCapacity{}:
			if err := blackmagic.AssignIfCompatible(&capacity, opt.Value()); err != nil {
				return nil, fmt.Errorf("failed to assign option %s: %w", opt.Ident(), err)
			}
		}
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}

	entries, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing key cache: %w", err)
	}

	c := &Cache{
		entries: entries,
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sigv4",
			Subsystem: "signing_key_cache",
			Name:      "hits_total",
			Help:      "Number of signing key lookups served from the cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sigv4",
			Subsystem: "signing_key_cache",
			Name:      "misses_total",
			Help:      "Number of signing key lookups that had no valid entry.",
		}),
		derivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sigv4",
			Subsystem: "signing_key_cache",
			Name:      "derivations_total",
			Help:      "Number of times the signing key chain was computed.",
		}),
	}
	c.size = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "sigv4",
		Subsystem: "signing_key_cache",
		Name:      "entries",
		Help:      "Number of signing keys currently cached.",
	}, func() float64 { return float64(c.entries.Len()) })
	return c, nil
}

// MustNewCache is like NewCache but panics on error
func MustNewCache(options ...Option) *Cache {
	c, err := NewCache(options...)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the signing key for creds on the UTC date of t. The returned
// slice is shared and must not be modified.
func (c *Cache) Get(creds aws.Credentials, t time.Time, region, service string) []byte {
	date := scope.FormatDate(t)
	ck := cacheKey(creds.SecretAccessKey, region, service)

	if e, ok := c.entries.Peek(ck); ok && e.date == date {
		c.hits.Inc()
		return e.key
	}
	c.misses.Inc()

	v, _, _ := c.group.Do(ck+"/"+date, func() (any, error) {
		// another caller may have stored it while we were waiting
		if e, ok := c.entries.Peek(ck); ok && e.date == date {
			return e.key, nil
		}
		key := Derive(creds.SecretAccessKey, date, region, service)
		c.derivations.Inc()
		c.entries.Add(ck, entry{key: key, date: date})
		return key, nil
	})
	return v.([]byte)
}

// Len returns the number of cached keys
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every cached key
func (c *Cache) Purge() {
	c.entries.Purge()
}

func (c *Cache) Describe(ch chan<- *prometheus.Desc) {
	c.hits.Describe(ch)
	c.misses.Describe(ch)
	c.derivations.Describe(ch)
	c.size.Describe(ch)
}

func (c *Cache) Collect(ch chan<- prometheus.Metric) {
	c.hits.Collect(ch)
	c.misses.Collect(ch)
	c.derivations.Collect(ch)
	c.size.Collect(ch)
}

// cacheKey never contains the plain secret. Fields are length prefixed
// since regions themselves contain '-'.
func cacheKey(secret, region, service string) string {
	h := sha256.New()
	for _, field := range []string{secret, region, service} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
