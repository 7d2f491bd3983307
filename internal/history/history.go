// Package history хранит ограниченное окно недавних тиков для диффов,
// отката и интерполяции. Один писатель (тик-движущий поток), много
// читателей (отправка, демо-запись, реконсиляция): читатели видят
// только закоммиченные неизменяемые записи.
package history

import (
	"errors"
	"sync"

	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
)

var (
	// ErrNonMonotonicTick — попытка записать тик не больше последнего
	ErrNonMonotonicTick = errors.New("history: тик меньше или равен последнему")
	// ErrTickGap — пропуск тика в закоммиченной последовательности
	ErrTickGap = errors.New("history: разрыв в последовательности тиков")
)

// Entry — одна запись истории: мир, применённые к нему вводы и
// (опционально) закешированный снапшот этого мира.
type Entry struct {
	Tick   uint64
	World  *sim.World
	Inputs []sim.Input
	Snap   *snapshot.Snapshot
}

// Buffer — кольцо записей, ключ — номер тика. Тики строго возрастают
// без пропусков; вытеснение FIFO по тикам, никогда по давности доступа.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	start    int // Индекс самой старой записи
	count    int
	capacity int
}

// NewBuffer создает буфер на capacity тиков
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Push добавляет запись. Тики обязаны идти строго по возрастанию;
// при заполнении вытесняется самая старая запись.
func (b *Buffer) Push(e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count > 0 {
		last := b.entries[(b.start+b.count-1)%b.capacity].Tick
		if e.Tick <= last {
			return ErrNonMonotonicTick
		}
		if e.Tick != last+1 {
			return ErrTickGap
		}
	}

	if b.count == b.capacity {
		b.entries[b.start] = e
		b.start = (b.start + 1) % b.capacity
		return nil
	}

	b.entries[(b.start+b.count)%b.capacity] = e
	b.count++
	return nil
}

// Get возвращает запись по тику
func (b *Buffer) Get(tick uint64) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return Entry{}, false
	}
	first := b.entries[b.start].Tick
	if tick < first || tick >= first+uint64(b.count) {
		return Entry{}, false
	}
	// Тики непрерывны, позиция вычисляется напрямую
	idx := (b.start + int(tick-first)) % b.capacity
	return b.entries[idx], true
}

// Latest возвращает самую свежую запись
func (b *Buffer) Latest() (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return Entry{}, false
	}
	return b.entries[(b.start+b.count-1)%b.capacity], true
}

// OldestTick возвращает тик самой старой записи
func (b *Buffer) OldestTick() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return 0, false
	}
	return b.entries[b.start].Tick, true
}

// LatestTick возвращает тик самой свежей записи
func (b *Buffer) LatestTick() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return 0, false
	}
	return b.entries[(b.start+b.count-1)%b.capacity].Tick, true
}

// Len возвращает количество записей
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// TruncateBefore вытесняет записи старше tick (сервер подтвердил,
// что откат за эту границу больше невозможен)
func (b *Buffer) TruncateBefore(tick uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count > 0 && b.entries[b.start].Tick < tick {
		b.entries[b.start] = Entry{}
		b.start = (b.start + 1) % b.capacity
		b.count--
	}
}

// Clear полностью очищает буфер (ресинхронизация с нового базиса)
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		b.entries[i] = Entry{}
	}
	b.start = 0
	b.count = 0
}
