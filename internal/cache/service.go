package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aviatorstc/autopilot/pkg/errors"
)

// Service caches expensive read-side aggregates: audit summaries,
// performance metrics and error statistics. Everything is read-through;
// the database remains the source of truth.
type Service struct {
	redis  *RedisClient
	config *Config
}

// Config holds the per-aggregate cache TTLs.
type Config struct {
	DefaultTTL     time.Duration `json:"default_ttl"`
	SummaryTTL     time.Duration `json:"summary_ttl"`
	PerformanceTTL time.Duration `json:"performance_ttl"`
}

// DefaultConfig returns default cache TTLs.
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:     time.Hour,
		SummaryTTL:     5 * time.Minute,
		PerformanceTTL: 5 * time.Minute,
	}
}

// NewService creates a cache service.
func NewService(redis *RedisClient, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		redis:  redis,
		config: config,
	}
}

// Key generates cache keys with consistent prefixes.
type Key struct {
	Prefix string
	ID     string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Prefix, k.ID)
}

// Cache key prefixes
const (
	PrefixAuditSummary = "audit_summary"
	PrefixPerformance  = "performance"
)

// Set stores a value with the specified TTL. A zero TTL uses the default.
func (s *Service) Set(ctx context.Context, key Key, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}

	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	return s.redis.Set(ctx, key.String(), data, ttl)
}

// Get retrieves a value into dest. A miss returns a not-found error.
func (s *Service) Get(ctx context.Context, key Key, dest interface{}) error {
	data, err := s.redis.Get(ctx, key.String())
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}
	return nil
}

// Invalidate removes the given keys.
func (s *Service) Invalidate(ctx context.Context, keys ...Key) error {
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = k.String()
	}
	return s.redis.Delete(ctx, raw...)
}

// TTLFor returns the configured TTL for a prefix.
func (s *Service) TTLFor(prefix string) time.Duration {
	switch prefix {
	case PrefixAuditSummary:
		return s.config.SummaryTTL
	case PrefixPerformance:
		return s.config.PerformanceTTL
	}
	return s.config.DefaultTTL
}
