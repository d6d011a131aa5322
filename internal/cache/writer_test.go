package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"building-monitor/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	readings  []models.Reading
	anomalies []models.Reading
	err       error
}

func (s *memStore) StoreReading(_ context.Context, r models.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.readings = append(s.readings, r)
	return nil
}

func (s *memStore) StoreAnomaly(_ context.Context, r models.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.anomalies = append(s.anomalies, r)
	return nil
}

type opCounter struct {
	mu  sync.Mutex
	ops map[string]int
}

func (c *opCounter) RedisOperation(op, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops == nil {
		c.ops = map[string]int{}
	}
	c.ops[op+"/"+status]++
}

func TestWriterMirrorsReadingsAndAnomalies(t *testing.T) {
	store := &memStore{}
	ops := &opCounter{}
	w := NewWriter(store, 100, ops, nil)
	w.Start(3)

	for i := int64(0); i < 10; i++ {
		require.True(t, w.Publish(models.Reading{Timestamp: i, IsAnomaly: i%5 == 0}))
	}
	w.Stop()

	assert.Len(t, store.readings, 10)
	assert.Len(t, store.anomalies, 2)
	assert.Equal(t, 10, ops.ops["store_reading/success"])
	assert.Equal(t, 2, ops.ops["store_anomaly/success"])
}

func TestWriterDropsWhenFull(t *testing.T) {
	ops := &opCounter{}
	w := NewWriter(&memStore{}, 1, ops, nil)

	assert.True(t, w.Publish(models.Reading{Timestamp: 1}))
	assert.False(t, w.Publish(models.Reading{Timestamp: 2}))
	assert.Equal(t, 1, w.QueueSize())
	assert.Equal(t, 1, ops.ops["enqueue/dropped"])

	w.Start(1)
	w.Stop()
	assert.Zero(t, w.QueueSize())
}

func TestWriterPublishAfterStop(t *testing.T) {
	w := NewWriter(&memStore{}, 10, nil, nil)
	w.Start(1)
	w.Stop()
	w.Stop()

	assert.False(t, w.Publish(models.Reading{Timestamp: 1}))
}

func TestWriterCountsErrors(t *testing.T) {
	ops := &opCounter{}
	w := NewWriter(&memStore{err: errors.New("down")}, 10, ops, nil)
	w.Start(1)

	w.Publish(models.Reading{Timestamp: 1, IsAnomaly: true})
	w.Stop()

	assert.Equal(t, 1, ops.ops["store_reading/error"])
	assert.Equal(t, 1, ops.ops["store_anomaly/error"])
}

func TestWriterWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), Options{Addr: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	w := NewWriter(c, 10, nil, nil)
	w.Start(2)
	w.Publish(models.Reading{Timestamp: 42, IsAnomaly: true, Status: "Detected"})
	w.Publish(models.Reading{Timestamp: 43, Status: "Normal"})
	w.Stop()

	assert.Len(t, keysWithPrefix(mr, "reading:42:"), 1)
	assert.Len(t, keysWithPrefix(mr, "reading:43:"), 1)
	got, err := c.RecentAnomalies(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].Timestamp)
}
