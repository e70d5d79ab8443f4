// Package store provides the gateway's caching and connection plumbing:
// a report cache keyed by idempotency key, and env-driven Redis and
// Postgres constructors.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

// ErrCacheMiss is returned when no report is cached under a key.
var ErrCacheMiss = errors.New("report cache miss")

// ReportCache stores evaluation reports so repeated submissions with
// the same idempotency key replay the original result.
type ReportCache interface {
	Get(ctx context.Context, key string) (models.EvaluationReport, error)
	Set(ctx context.Context, key string, report models.EvaluationReport, ttl time.Duration) error
}

// RedisReportCache keeps reports in Redis as JSON.
type RedisReportCache struct{ client *redis.Client }

func (r *RedisReportCache) Get(ctx context.Context, key string) (models.EvaluationReport, error) {
	raw, err := r.client.Get(ctx, reportKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.EvaluationReport{}, ErrCacheMiss
	}
	if err != nil {
		return models.EvaluationReport{}, err
	}
	var report models.EvaluationReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return models.EvaluationReport{}, err
	}
	return report, nil
}

func (r *RedisReportCache) Set(ctx context.Context, key string, report models.EvaluationReport, ttl time.Duration) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, reportKey(key), raw, ttl).Err()
}

func reportKey(key string) string { return "report:" + key }

// MemoryReportCache is the in-process fallback when Redis is not
// configured.
type MemoryReportCache struct {
	mu    sync.Mutex
	items map[string]memReport
}

type memReport struct {
	report    models.EvaluationReport
	expiresAt time.Time
}

func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{items: map[string]memReport{}}
}

func (m *MemoryReportCache) Get(ctx context.Context, key string) (models.EvaluationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
	item, ok := m.items[key]
	if !ok {
		return models.EvaluationReport{}, ErrCacheMiss
	}
	return item.report, nil
}

func (m *MemoryReportCache) Set(ctx context.Context, key string, report models.EvaluationReport, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
	m.items[key] = memReport{report: report, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryReportCache) cleanupLocked() {
	now := time.Now()
	for k, v := range m.items {
		if now.After(v.expiresAt) {
			delete(m.items, k)
		}
	}
}

// NewReportCache tries Redis, falls back to memory.
func NewReportCache(ctx context.Context, client *redis.Client) ReportCache {
	if client != nil {
		if err := client.Ping(ctx).Err(); err == nil {
			return &RedisReportCache{client: client}
		}
	}
	return NewMemoryReportCache()
}
