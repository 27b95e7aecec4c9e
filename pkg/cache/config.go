package cache

import (
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig is the connection setup for NewRedisCache.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	// PingTimeout bounds the reachability check made by NewRedisCache.
	PingTimeout time.Duration
	// Prefix namespaces every key, joined with ':'.
	Prefix string
}

// DefaultRedisConfig returns a local single-node setup.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 5,
		PoolTimeout:  30 * time.Second,
		PingTimeout:  5 * time.Second,
		Prefix:       "finpulse",
	}
}

// Addr is host:port.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c RedisConfig) clientOptions() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		PoolTimeout:  c.PoolTimeout,
	}
}

type RedisOption func(*RedisConfig)

// WithRedisAddr sets the server; empty host or non-positive port keep the default.
func WithRedisAddr(host string, port int) RedisOption {
	return func(c *RedisConfig) {
		if host != "" {
			c.Host = host
		}
		if port > 0 {
			c.Port = port
		}
	}
}

// WithRedisAuth selects the logical database and password.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
		c.DB = db
	}
}

// WithRedisPool sizes the connection pool. Zero values keep the default.
func WithRedisPool(size, minIdle int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		if size > 0 {
			c.PoolSize = size
		}
		if minIdle > 0 {
			c.MinIdleConns = minIdle
		}
		if timeout > 0 {
			c.PoolTimeout = timeout
		}
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

func WithRedisPingTimeout(d time.Duration) RedisOption {
	return func(c *RedisConfig) {
		if d > 0 {
			c.PingTimeout = d
		}
	}
}

// MemoryConfig sizes the in-process cache.
type MemoryConfig struct {
	MaxSize int
	// CleanupInterval of zero disables the expiry janitor.
	CleanupInterval time.Duration
	Now             func() time.Time
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{MaxSize: 1000, CleanupInterval: 5 * time.Minute, Now: time.Now}
}

type MemoryOption func(*MemoryConfig)

// WithMemoryMaxSize caps the entry count; the least recently read entry goes first.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *MemoryConfig) {
		if n > 0 {
			c.MaxSize = n
		}
	}
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryConfig) {
		if now != nil {
			c.Now = now
		}
	}
}

// LayeredConfig controls the L1 copy kept in front of the remote cache.
type LayeredConfig struct {
	L1 []MemoryOption
	// L1TTL caps how long remote hits stay in memory.
	L1TTL time.Duration
}

type LayeredOption func(*LayeredConfig)

// WithLayeredL1 configures the in-process layer.
func WithLayeredL1(opts ...MemoryOption) LayeredOption {
	return func(c *LayeredConfig) { c.L1 = append(c.L1, opts...) }
}

func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		if ttl > 0 {
			c.L1TTL = ttl
		}
	}
}
