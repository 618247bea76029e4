package view

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces mirrored views in Redis.
const KeyPrefix = "arena:view:"

// RedisConfig holds the connection settings of the view mirror.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	// TTL expires mirrored views; zero keeps them until overwritten.
	TTL time.Duration
}

// DefaultRedisConfig returns a RedisConfig sized for a single client process.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     4,
	}
}

// RedisMirror writes views to Redis with plain SET/GET.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror connects to addr with the default config.
func NewRedisMirror(addr string, ttl time.Duration) (*RedisMirror, error) {
	config := DefaultRedisConfig()
	config.Addr = addr
	config.TTL = ttl
	return NewRedisMirrorWithConfig(config)
}

// NewRedisMirrorWithConfig connects and pings before returning.
func NewRedisMirrorWithConfig(config *RedisConfig) (*RedisMirror, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Addr == "" {
		return nil, fmt.Errorf("addr cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout+time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisMirror{client: client, ttl: config.TTL}, nil
}

// NewRedisMirrorWithClient wraps an existing client.
func NewRedisMirrorWithClient(client *redis.Client, ttl time.Duration) (*RedisMirror, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	return &RedisMirror{client: client, ttl: ttl}, nil
}

func (m *RedisMirror) Save(ctx context.Context, name string, payload json.RawMessage) error {
	return m.client.Set(ctx, KeyPrefix+name, []byte(payload), m.ttl).Err()
}

func (m *RedisMirror) Load(ctx context.Context, name string) (json.RawMessage, bool, error) {
	value, err := m.client.Get(ctx, KeyPrefix+name).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(value), true, nil
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
