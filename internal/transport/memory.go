package transport

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryChannel — внутрипроцессный канал для тестов и локального
// воспроизведения. Пара каналов соединена встречными очередями;
// для ненадёжного трафика настраиваются потери и перестановка.
type MemoryChannel struct {
	in  chan []byte
	out chan []byte

	lossRate    float64 // Вероятность потери unreliable-сообщения
	reorderRate float64 // Вероятность придержать unreliable-сообщение
	rng         *rand.Rand
	rngMu       sync.Mutex
	held        [][]byte // Придержанные сообщения (имитация переупорядочивания)

	closed atomic.Bool
	once   sync.Once
	done   chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// NewMemoryPair создает соединённую пару каналов (клиент и сервер)
func NewMemoryPair(bufferSize int) (*MemoryChannel, *MemoryChannel) {
	if bufferSize < 1 {
		bufferSize = 256
	}
	ab := make(chan []byte, bufferSize)
	ba := make(chan []byte, bufferSize)
	done := make(chan struct{})

	a := &MemoryChannel{in: ba, out: ab, done: done, rng: rand.New(rand.NewSource(1))}
	b := &MemoryChannel{in: ab, out: ba, done: done, rng: rand.New(rand.NewSource(2))}
	return a, b
}

// SetLoss настраивает имитацию потерь и перестановок для
// unreliable-сообщений. Только для тестов.
func (mc *MemoryChannel) SetLoss(lossRate, reorderRate float64, seed int64) {
	mc.rngMu.Lock()
	defer mc.rngMu.Unlock()
	mc.lossRate = lossRate
	mc.reorderRate = reorderRate
	mc.rng = rand.New(rand.NewSource(seed))
}

// Send отправляет сообщение. Ненадёжные сообщения могут теряться
// и переставляться согласно настройкам.
func (mc *MemoryChannel) Send(ctx context.Context, payload []byte, flags Flags) error {
	if mc.closed.Load() {
		return ErrClosed
	}

	msg := append([]byte(nil), payload...)

	if flags&FlagReliable == 0 {
		mc.rngMu.Lock()
		roll := mc.rng.Float64()
		if roll < mc.lossRate {
			mc.rngMu.Unlock()
			return nil // Потеряно "сетью"
		}
		if roll < mc.lossRate+mc.reorderRate {
			mc.held = append(mc.held, msg)
			mc.rngMu.Unlock()
			return nil
		}
		// Отдаём придержанное после текущего — порядок нарушен
		pending := mc.held
		mc.held = nil
		mc.rngMu.Unlock()

		if err := mc.push(ctx, msg); err != nil {
			return err
		}
		for _, held := range pending {
			if err := mc.push(ctx, held); err != nil {
				return err
			}
		}
		return nil
	}

	return mc.push(ctx, msg)
}

func (mc *MemoryChannel) push(ctx context.Context, msg []byte) error {
	select {
	case mc.out <- msg:
		mc.statsMu.Lock()
		mc.stats.PacketsSent++
		mc.stats.BytesSent += uint64(len(msg))
		mc.stats.LastActivity = time.Now()
		mc.statsMu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-mc.done:
		return ErrClosed
	}
}

// Receive возвращает следующее входящее сообщение
func (mc *MemoryChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-mc.in:
		mc.statsMu.Lock()
		mc.stats.PacketsReceived++
		mc.stats.BytesReceived += uint64(len(msg))
		mc.stats.LastActivity = time.Now()
		mc.statsMu.Unlock()
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-mc.done:
		return nil, ErrClosed
	}
}

// Stats возвращает статистику канала
func (mc *MemoryChannel) Stats() Stats {
	mc.statsMu.Lock()
	defer mc.statsMu.Unlock()
	return mc.stats
}

// Close закрывает обе стороны пары
func (mc *MemoryChannel) Close() error {
	mc.closed.Store(true)
	mc.once.Do(func() { close(mc.done) })
	return nil
}
