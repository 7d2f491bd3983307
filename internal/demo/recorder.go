package demo

import (
	"sync"
	"sync/atomic"

	"github.com/annel0/arena-game/internal/delta"
	"github.com/annel0/arena-game/internal/logging"
	"github.com/annel0/arena-game/internal/protocol"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
)

// Recorder пишет авторитетный поток в RecordStore: полный снапшот
// каждые fullInterval тиков, между ними — дельты. Никогда не блокирует
// симуляцию: запись буферизована и уходит в фоне, ошибка хранилища
// логируется и отключает запись до конца сессии.
type Recorder struct {
	store        RecordStore
	codec        *snapshot.Codec
	logger       *logging.Logger
	fullInterval uint64

	queue    chan *sim.World
	disabled atomic.Bool
	dropped  atomic.Uint64
	written  atomic.Uint64

	stopOnce sync.Once
	done     chan struct{}
}

// NewRecorder создает рекордер и запускает фоновую запись.
// fullInterval == 1 означает полный снапшот каждый тик.
func NewRecorder(store RecordStore, codec *snapshot.Codec, fullInterval uint64, bufferSize int) *Recorder {
	if fullInterval == 0 {
		fullInterval = 1
	}
	if bufferSize < 1 {
		bufferSize = 64
	}

	r := &Recorder{
		store:        store,
		codec:        codec,
		logger:       logging.GetComponentLogger("demo"),
		fullInterval: fullInterval,
		queue:        make(chan *sim.World, bufferSize),
		done:         make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// Record ставит мир в очередь на запись. Не блокирует: при
// переполненном буфере тик просто пропускается (следующий полный
// снапшот восстановит непрерывность воспроизведения).
func (r *Recorder) Record(w *sim.World) {
	if r.disabled.Load() {
		return
	}
	select {
	case r.queue <- w:
	default:
		r.dropped.Add(1)
	}
}

// Written возвращает количество записанных записей
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Dropped возвращает количество пропущенных из-за переполнения тиков
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Disabled сообщает, была ли запись отключена из-за ошибки хранилища
func (r *Recorder) Disabled() bool { return r.disabled.Load() }

// Stop завершает запись на границе тика: дописывает очередь и
// чистый trailer. Мир и файл при остановке не повреждаются.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}

// writeLoop — фоновая горутина записи
func (r *Recorder) writeLoop() {
	defer close(r.done)

	var lastWorld *sim.World
	var lastFullTick uint64
	haveFull := false

	for w := range r.queue {
		if r.disabled.Load() {
			continue // Дочитываем очередь, ничего не пишем
		}

		var rec *protocol.Record
		if !haveFull || w.Tick-lastFullTick >= r.fullInterval || lastWorld == nil || w.Tick != lastWorld.Tick+1 {
			snap := r.codec.Encode(w)
			rec = &protocol.Record{
				Tick:    w.Tick,
				Kind:    protocol.KindFullSnapshot,
				Payload: snap.Data,
			}
			lastFullTick = w.Tick
			haveFull = true
		} else {
			d := delta.Compute(lastWorld, w)
			rec = &protocol.Record{
				Tick:     w.Tick,
				Kind:     protocol.KindDelta,
				BaseTick: d.BaseTick,
				Payload:  d.Data,
			}
		}

		if err := r.store.Append(rec.Encode()); err != nil {
			// Геймплей важнее записи: деградируем молча для игроков
			r.logger.Error("запись демо отключена: %v", err)
			r.disabled.Store(true)
			continue
		}
		r.written.Add(1)
		lastWorld = w
	}

	if !r.disabled.Load() {
		trailer := &protocol.Record{Kind: protocol.KindTrailer}
		if lastWorld != nil {
			trailer.Tick = lastWorld.Tick
		}
		if err := r.store.Append(trailer.Encode()); err != nil {
			r.logger.Error("не удалось записать trailer демо: %v", err)
		}
	}
}
