package history

import (
	"sync"

	"building-monitor/internal/models"
)

// DefaultCapacity размер истории по умолчанию
const DefaultCapacity = 100

// Buffer кольцевой буфер последних показаний, старые вытесняются первыми
type Buffer struct {
	mu    sync.RWMutex
	items []models.Reading
	start int
	count int
}

// New создает буфер; capacity < 1 заменяется на DefaultCapacity
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]models.Reading, capacity)}
}

// Append добавляет показание, вытесняя самое старое при заполнении.
// Возвращает true, если что-то было вытеснено.
func (b *Buffer) Append(r models.Reading) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.items)
	if b.count < capacity {
		b.items[(b.start+b.count)%capacity] = r
		b.count++
		return false
	}

	b.items[b.start] = r
	b.start = (b.start + 1) % capacity
	return true
}

// Snapshot возвращает копию содержимого от старых к новым
func (b *Buffer) Snapshot() []models.Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.Reading, b.count)
	for i := range out {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Len текущее количество показаний
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap максимальное количество показаний
func (b *Buffer) Cap() int {
	return len(b.items)
}
