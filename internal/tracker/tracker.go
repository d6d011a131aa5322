package tracker

import (
	"sync"

	"building-monitor/internal/models"
)

// Tracker хранит активные аномалии в порядке обнаружения.
// Хранятся копии показаний, независимые от буфера истории.
type Tracker struct {
	mu       sync.RWMutex
	active   []models.Reading
	detected uint64
}

// New создает пустой трекер
func New() *Tracker {
	return &Tracker{}
}

// RecordAnomaly добавляет аномалию и возвращает число активных
func (t *Tracker) RecordAnomaly(r models.Reading) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = append(t.active, r)
	t.detected++
	return len(t.active)
}

// RecordNormal снимает последнюю активную аномалию, только если у нее
// ровно та же метка времени, что и у нормального показания.
// Другого способа сократить набор нет.
func (t *Tracker) RecordNormal(r models.Reading) (cleared bool, active int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.active); n > 0 && t.active[n-1].Timestamp == r.Timestamp {
		t.active[n-1] = models.Reading{}
		t.active = t.active[:n-1]
		cleared = true
	}
	return cleared, len(t.active)
}

// ActiveCount число активных аномалий
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// Detected общее число зарегистрированных аномалий за время работы
func (t *Tracker) Detected() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.detected
}

// Snapshot копия активных аномалий в порядке обнаружения
func (t *Tracker) Snapshot() []models.Reading {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Reading, len(t.active))
	copy(out, t.active)
	return out
}
