// Package eventbus рассылает презентационные события симуляции и
// метаданные тиков наблюдателям (лог, метрики, внешние потребители).
// Шина не участвует в детерминированном ядре: подписчики видят
// только уже закоммиченные тики.
package eventbus

import (
	"context"
	"sync"
	"time"
)

// Типы событий шины
const (
	TypeSimEvent  = "SimEvent"  // Презентационное событие симуляции
	TypeWorldTick = "WorldTick" // Метаданные закоммиченного тика
)

// Envelope — универсальный контейнер события
type Envelope struct {
	ID        string            // Глобально уникальный идентификатор (UUID)
	Timestamp time.Time         // Время создания события (UTC)
	Source    string            // Имя компонента-источника
	EventType string            // Тип события (SimEvent, WorldTick…)
	Tick      uint64            // Тик симуляции, к которому относится событие
	Payload   []byte            // Сериализованное содержимое
	Metadata  map[string]string // Произвольные метаданные
}

// Filter позволяет подписаться только на нужные события
type Filter struct {
	Types   []string // Если пусто — все типы
	Sources []string // Если пусто — все источники
}

func (f Filter) matches(ev *Envelope) bool {
	contains := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return contains(ev.EventType, f.Types) && contains(ev.Source, f.Sources)
}

// Handler потребляет события
type Handler func(ctx context.Context, ev *Envelope)

// Subscription возвращается при подписке; позволяет отписаться
type Subscription interface {
	Unsubscribe()
}

// Stats — агрегированные метрики шины
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus — абстракция шины событий.
// Реализации: in-memory (локальная сессия) и NATS JetStream.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memorySub struct {
	filter Filter
	ch     chan *Envelope
	cancel context.CancelFunc
}

// MemoryBus доставляет события внутри процесса. У каждого подписчика
// своя буферизованная очередь: медленный потребитель теряет события,
// но никогда не тормозит публикующий тик-поток.
type MemoryBus struct {
	mu       sync.RWMutex
	subs     map[int]*memorySub
	nextID   int
	capacity int
	stats    Stats
	closed   bool
}

// NewMemoryBus создает in-memory шину; capacity — буфер подписчика
func NewMemoryBus(capacity int) *MemoryBus {
	if capacity < 1 {
		capacity = 64
	}
	return &MemoryBus{
		subs:     make(map[int]*memorySub),
		capacity: capacity,
	}
}

// Publish рассылает событие всем подходящим подписчикам.
// Никогда не блокируется: переполненные очереди учитываются в Dropped.
func (mb *MemoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return context.Canceled
	}

	mb.stats.Published++
	for _, sub := range mb.subs {
		if !sub.filter.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			mb.stats.Dropped++
		}
	}
	return nil
}

// Subscribe регистрирует обработчик; он вызывается в отдельной горутине
func (mb *MemoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	cctx, cancel := context.WithCancel(ctx)
	sub := &memorySub{
		filter: f,
		ch:     make(chan *Envelope, mb.capacity),
		cancel: cancel,
	}

	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	mb.subs[id] = sub
	mb.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-sub.ch:
				if !ok {
					return
				}
				h(cctx, ev)
				mb.mu.Lock()
				mb.stats.Consumed++
				mb.mu.Unlock()
			case <-cctx.Done():
				return
			}
		}
	}()

	return &memUnsub{bus: mb, id: id}, nil
}

// Metrics возвращает статистику шины
func (mb *MemoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	s := mb.stats
	for _, sub := range mb.subs {
		s.InFlight += len(sub.ch)
	}
	return s
}

// Close отписывает всех подписчиков
func (mb *MemoryBus) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.closed = true
	for id, sub := range mb.subs {
		sub.cancel()
		delete(mb.subs, id)
	}
	return nil
}

type memUnsub struct {
	bus *MemoryBus
	id  int
}

func (s *memUnsub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subs[s.id]; ok {
		sub.cancel()
		delete(s.bus.subs, s.id)
	}
	s.bus.mu.Unlock()
}
