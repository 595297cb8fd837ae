package redis

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/burugo/syncstore"
)

// DefaultPrefix namespaces TTL records in Redis.
const DefaultPrefix = "syncstore:ttl:"

// client implements syncstore.FreshnessStore using Redis.
// The counters field tracks operation statistics for monitoring (thread-safe).
type client struct {
	redisClient       *redis.Client  // Underlying Redis client
	prefix            string         // Key prefix for TTL records
	expiration        time.Duration  // Redis expiry of TTL records, 0 keeps them forever
	mu                sync.Mutex     // Protects counters map
	counters          map[string]int // Operation counters for stats (e.g., "LastRefresh", "LastRefreshMiss")
	createdInternally bool           // Indicates whether redisClient was created by this struct
}

// Client is the FreshnessStore returned by NewClient.
type Client interface {
	syncstore.FreshnessStore
	io.Closer
	// Stats returns a copy of the operation counters.
	Stats() map[string]int
}

// Ensure client implements Client.
var _ Client = (*client)(nil)

// incrementCounter safely increments a named operation counter.
func (c *client) incrementCounter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = make(map[string]int)
	}
	c.counters[name]++
}

// Options holds configuration for the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix for TTL record keys, defaults to DefaultPrefix.
	Prefix string
	// Expiration lets Redis forget records that have not been touched for a
	// while. Zero keeps them forever.
	Expiration time.Duration
}

// Close implements io.Closer. Only closes redisClient if client.createdInternally is true.
func (c *client) Close() error {
	if c.createdInternally && c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

// NewClient creates a Redis backed FreshnessStore.
// If redisCli is not nil, it will be used directly. Otherwise, opts will be used to create a new client.
func NewClient(redisCli *redis.Client, opts *Options) (Client, error) {
	var rdb *redis.Client
	var createdInternally bool

	if opts == nil {
		opts = &Options{}
	}
	if redisCli != nil {
		rdb = redisCli
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		createdInternally = true

		// Ping Redis to check connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	log.Println("Redis freshness store initialized successfully.")
	return &client{
		redisClient:       rdb,
		prefix:            prefix,
		expiration:        opts.Expiration,
		counters:          make(map[string]int),
		createdInternally: createdInternally,
	}, nil
}

// LastRefresh reads the TTL record for key.
func (c *client) LastRefresh(ctx context.Context, key string) (time.Time, bool, error) {
	c.incrementCounter("LastRefresh") // total calls
	val, err := c.redisClient.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		c.incrementCounter("LastRefreshMiss")
		return time.Time{}, false, nil
	} else if err != nil {
		c.incrementCounter("LastRefreshError")
		return time.Time{}, false, fmt.Errorf("redis Get error for key '%s': %w", key, err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		c.incrementCounter("LastRefreshError")
		log.Printf("WARN: malformed ttl record for key '%s': %q", key, val)
		return time.Time{}, false, nil
	}
	c.incrementCounter("LastRefreshHit")
	return time.Unix(0, nanos), true, nil
}

// Touch stores at as the last refresh of key.
func (c *client) Touch(ctx context.Context, key string, at time.Time) error {
	c.incrementCounter("Touch")
	err := c.redisClient.Set(ctx, c.prefix+key, strconv.FormatInt(at.UnixNano(), 10), c.expiration).Err()
	if err != nil {
		c.incrementCounter("TouchError")
		return fmt.Errorf("redis Set error for key '%s': %w", key, err)
	}
	return nil
}

// Stats returns a copy of the operation counters.
func (c *client) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}
