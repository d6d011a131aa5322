package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"building-monitor/internal/models"
)

const anomalyListKey = "anomaly_list"

// RedisCache зеркало показаний и аномалий в Redis с TTL
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Options параметры подключения
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache подключается к Redis и проверяет соединение
func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, ttl: opts.TTL}, nil
}

// Ключ содержит метку времени и случайный суффикс: показания
// одной миллисекунды не перезаписывают друг друга.
func readingKey(ts int64) string {
	return "reading:" + strconv.FormatInt(ts, 10) + ":" + uuid.NewString()
}

func anomalyKey(ts int64) string {
	return "anomaly:" + strconv.FormatInt(ts, 10) + ":" + uuid.NewString()
}

// StoreReading сохраняет показание
func (r *RedisCache) StoreReading(ctx context.Context, reading models.Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	return r.client.Set(ctx, readingKey(reading.Timestamp), data, r.ttl).Err()
}

// StoreAnomaly сохраняет аномалию (с более длительным TTL) и индексирует ее
func (r *RedisCache) StoreAnomaly(ctx context.Context, reading models.Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly: %w", err)
	}

	key := anomalyKey(reading.Timestamp)
	anomalyTTL := r.ttl * 24

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, anomalyTTL)
	pipe.ZAdd(ctx, anomalyListKey, redis.Z{Score: float64(reading.Timestamp), Member: key})
	pipe.Expire(ctx, anomalyListKey, anomalyTTL)

	_, err = pipe.Exec(ctx)
	return err
}

// RecentAnomalies возвращает последние аномалии, новые первыми.
// Истекшие ключи пропускаются.
func (r *RedisCache) RecentAnomalies(ctx context.Context, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		return []models.Reading{}, nil
	}

	keys, err := r.client.ZRevRange(ctx, anomalyListKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get anomalies: %w", err)
	}
	if len(keys) == 0 {
		return []models.Reading{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load anomalies: %w", err)
	}

	out := make([]models.Reading, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var reading models.Reading
		if err := json.Unmarshal([]byte(s), &reading); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anomaly: %w", err)
		}
		out = append(out, reading)
	}
	return out, nil
}

// Close закрывает соединение с Redis
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping проверяет доступность Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetStats возвращает статистику пула соединений
func (r *RedisCache) GetStats() map[string]interface{} {
	stats := r.client.PoolStats()

	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}
