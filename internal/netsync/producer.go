// Package netsync координирует доставку авторитетного состояния:
// сервер (Producer) шлёт полные снапшоты и дельты относительно
// подтверждённых клиентом тиков, клиент (Consumer) очередями применяет
// их на границе своего тика и подтверждает принятое.
package netsync

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/arena-game/internal/delta"
	"github.com/annel0/arena-game/internal/demo"
	"github.com/annel0/arena-game/internal/eventbus"
	"github.com/annel0/arena-game/internal/history"
	"github.com/annel0/arena-game/internal/logging"
	"github.com/annel0/arena-game/internal/observability"
	"github.com/annel0/arena-game/internal/protocol"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
	"github.com/annel0/arena-game/internal/transport"
)

// outQueueCap — глубина исходящей очереди клиента. Клиент, не
// успевающий вычитывать, теряет обновления, но не тормозит тик.
const outQueueCap = 64

// ProducerConfig — настройки серверной синхронизации
type ProducerConfig struct {
	FullInterval  uint64 // Каждый N-й тик клиенту уходит полный снапшот
	HistoryWindow int    // Окно истории для базисов дельт

	Bus      eventbus.EventBus      // Опционально: публикация событий тика
	Recorder *demo.Recorder         // Опционально: запись демо
	Metrics  *observability.Metrics // Опционально: метрики
}

// outMsg — одна исходящая запись: канал назначения и готовые байты
type outMsg struct {
	ch    transport.Channel
	data  []byte
	flags transport.Flags
}

// client — состояние одного подключённого наблюдателя.
// Поля entity/lastAck/needFull защищены мьютексом продюсера.
type client struct {
	id         uint64
	entity     uint64 // ID персонажа; 0, пока вход не применён тиком
	reliable   transport.Channel
	unreliable transport.Channel
	lastAck    uint64 // Последний тик, подтверждённый клиентом
	needFull   bool   // Клиент ждёт полный снапшот

	out  chan outMsg   // Исходящая очередь, обслуживается writeLoop
	done chan struct{} // Закрывается при выходе клиента
}

// Producer — серверная сторона: продвигает мир, ведёт историю и
// рассылает снапшоты/дельты. Все мутации мира выполняет только
// тик-движущий поток через TickOnce: подключения и отключения
// становятся в очередь и применяются на границе тика, как и вводы.
type Producer struct {
	mu     sync.Mutex
	engine *sim.Engine
	codec  *snapshot.Codec
	logger *logging.Logger
	cfg    ProducerConfig

	world   *sim.World
	hist    *history.Buffer
	clients map[uint64]*client
	nextID  uint64
	pending []sim.Input // Вводы, ждущие своего тика
	joins   []*client   // Подключения, ждущие границы тика
	leaves  []uint64    // Отключения, ждущие границы тика

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProducer создает серверную синхронизацию вокруг стартового мира
func NewProducer(engine *sim.Engine, codec *snapshot.Codec, world *sim.World, cfg ProducerConfig) *Producer {
	if cfg.FullInterval == 0 {
		cfg.FullInterval = 10
	}
	if cfg.HistoryWindow < 1 {
		cfg.HistoryWindow = 128
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		engine:  engine,
		codec:   codec,
		logger:  logging.GetComponentLogger("netsync"),
		cfg:     cfg,
		world:   world,
		hist:    history.NewBuffer(cfg.HistoryWindow),
		clients: make(map[uint64]*client),
		nextID:  1,
		ctx:     ctx,
		cancel:  cancel,
	}
	return p
}

// World возвращает текущий авторитетный мир
func (p *Producer) World() *sim.World {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.world
}

// AddClient ставит клиента в очередь на вход и начинает читать его
// записи. Персонаж появляется на ближайшей границе тика, вместе с
// первым полным снапшотом; ID сущности после этого доступен через
// ClientEntity.
func (p *Producer) AddClient(reliable, unreliable transport.Channel) (clientID uint64, err error) {
	c := &client{
		reliable:   reliable,
		unreliable: unreliable,
		needFull:   true,
		out:        make(chan outMsg, outQueueCap),
		done:       make(chan struct{}),
	}

	p.mu.Lock()
	c.id = p.nextID
	p.nextID++
	p.joins = append(p.joins, c)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.writeLoop(c)
	p.wg.Add(1)
	go p.readLoop(c, c.reliable)
	// Подтверждения приходят ненадёжным каналом; если он отдельный,
	// его тоже нужно слушать
	if c.unreliable != c.reliable {
		p.wg.Add(1)
		go p.readLoop(c, c.unreliable)
	}

	p.logger.Info("клиент %d в очереди на вход", c.id)
	return c.id, nil
}

// ClientEntity возвращает ID персонажа клиента. false, пока вход
// клиента не применён тиком либо клиент уже отключён.
func (p *Producer) ClientEntity(clientID uint64) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[clientID]
	if !ok || c.entity == 0 {
		return 0, false
	}
	return c.entity, true
}

// RemoveClient ставит отключение в очередь; персонаж исчезает из мира
// на ближайшей границе тика
func (p *Producer) RemoveClient(clientID uint64) {
	p.mu.Lock()
	p.leaves = append(p.leaves, clientID)
	p.mu.Unlock()
}

// QueueInputs ставит вводы в очередь; применение строго на границе тика
func (p *Producer) QueueInputs(inputs []sim.Input) {
	p.mu.Lock()
	p.pending = append(p.pending, inputs...)
	p.mu.Unlock()
}

// readLoop принимает записи одного клиента с одного канала
func (p *Producer) readLoop(c *client, ch transport.Channel) {
	defer p.wg.Done()

	for {
		msg, err := ch.Receive(p.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrClosed) {
				p.logger.Warn("клиент %d: приём прерван: %v", c.id, err)
			}
			return
		}

		rec, err := protocol.DecodeRecord(msg)
		if err != nil {
			p.logger.Warn("клиент %d: битая запись: %v", c.id, err)
			continue
		}

		switch rec.Kind {
		case protocol.KindInputBatch:
			inputs, err := protocol.DecodeInputs(rec.Payload)
			if err != nil {
				p.logger.Warn("клиент %d: битый пакет вводов: %v", c.id, err)
				continue
			}
			// Клиент управляет только своим персонажем; до входа в мир
			// вводы ничьи и отбрасываются
			p.mu.Lock()
			owner := c.entity
			p.mu.Unlock()
			if owner == 0 {
				continue
			}
			own := inputs[:0]
			for _, in := range inputs {
				if in.Owner == owner {
					own = append(own, in)
				}
			}
			p.QueueInputs(own)

		case protocol.KindAck:
			p.mu.Lock()
			if rec.Tick > c.lastAck {
				c.lastAck = rec.Tick
			}
			p.mu.Unlock()

		case protocol.KindFullRequest:
			p.mu.Lock()
			c.needFull = true
			p.mu.Unlock()
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.FullRequests.Inc()
			}

		default:
			p.logger.Warn("клиент %d: неожиданная запись типа %d", c.id, rec.Kind)
		}
	}
}

// writeLoop отправляет записи из исходящей очереди клиента.
// Медленный канал блокирует только эту горутину, тик идёт дальше.
func (p *Producer) writeLoop(c *client) {
	defer p.wg.Done()

	for {
		select {
		case m := <-c.out:
			if err := m.ch.Send(p.ctx, m.data, m.flags); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrClosed) {
					p.logger.Debug("клиент %d: отправка не удалась: %v", c.id, err)
				}
			}
		case <-c.done:
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// enqueue кладёт запись в исходящую очередь без блокировки
func (c *client) enqueue(m outMsg) bool {
	select {
	case c.out <- m:
		return true
	default:
		return false
	}
}

// TickOnce продвигает мир на один тик и рассылает обновления.
// Вызывается только тик-движущим потоком.
func (p *Producer) TickOnce() []sim.Event {
	start := time.Now()

	p.mu.Lock()

	nextTick := p.world.Tick + 1

	// Вводы будущих тиков придерживаются; остальные уходят в Step
	// (устаревшие он отбросит сам)
	due := make([]sim.Input, 0, len(p.pending))
	held := p.pending[:0]
	for _, in := range p.pending {
		if in.Tick <= nextTick {
			due = append(due, in)
		} else {
			held = append(held, in)
		}
	}
	p.pending = held

	joins := p.joins
	p.joins = nil
	leaves := p.leaves
	p.leaves = nil

	world, events := p.engine.Step(p.world, due)

	// Новый мир ещё никому не виден: вход и выход клиентов применяются
	// здесь, до коммита в историю. Зафиксированные записи истории
	// дальше не меняются.
	for _, c := range joins {
		c.entity = p.engine.SpawnCharacter(world)
		p.clients[c.id] = c
		p.logger.Info("✅ клиент %d вошёл, персонаж %d", c.id, c.entity)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ConnectedClients.Inc()
		}
	}
	for _, id := range leaves {
		c, ok := p.clients[id]
		if !ok {
			continue
		}
		world.Remove(c.entity)
		delete(p.clients, id)
		close(c.done)
		p.logger.Info("клиент %d отключён", id)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ConnectedClients.Dec()
		}
	}

	p.world = world

	snap := p.codec.Encode(world)
	_ = p.hist.Push(history.Entry{Tick: world.Tick, World: world, Inputs: due, Snap: snap})

	// Снимок списка клиентов для отправки вне блокировки
	targets := make([]*client, 0, len(p.clients))
	for _, c := range p.clients {
		targets = append(targets, c)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	p.mu.Unlock()

	if p.cfg.Recorder != nil {
		p.cfg.Recorder.Record(world)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.DemoRecords.Inc()
		}
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SnapshotBytes.Observe(float64(snap.Size()))
	}

	for _, c := range targets {
		p.sendUpdate(c, world, snap)
	}

	p.publish(world, snap, events)

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveTick(time.Since(start))
	}
	return events
}

// sendUpdate ставит клиенту в очередь полный снапшот либо дельту
// относительно последнего подтверждённого им тика
func (p *Producer) sendUpdate(c *client, world *sim.World, snap *snapshot.Snapshot) {
	p.mu.Lock()
	needFull := c.needFull || c.lastAck == 0 || world.Tick%p.cfg.FullInterval == 0
	var base *sim.World
	if !needFull {
		if e, ok := p.hist.Get(c.lastAck); ok {
			base = e.World
		} else {
			// Базис вытеснен из окна — только полный снапшот
			needFull = true
		}
	}
	c.needFull = false
	p.mu.Unlock()

	if needFull {
		rec := &protocol.Record{Tick: snap.Tick, Kind: protocol.KindFullSnapshot, Payload: snap.Data}
		if !c.enqueue(outMsg{ch: c.reliable, data: rec.Encode(), flags: transport.FlagReliable}) {
			// Полный снапшот нельзя терять молча: повтор на следующем тике
			p.mu.Lock()
			c.needFull = true
			p.mu.Unlock()
			p.logger.Warn("клиент %d: очередь отправки переполнена, снапшот отложен", c.id)
			return
		}
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.FullsSent.Inc()
		}
		return
	}

	d := delta.Compute(base, world)
	rec := &protocol.Record{
		Tick:     d.TargetTick,
		Kind:     protocol.KindDelta,
		BaseTick: d.BaseTick,
		Payload:  d.Data,
	}
	if !c.enqueue(outMsg{ch: c.unreliable, data: rec.Encode(), flags: transport.FlagUnreliable}) {
		// Потерянную дельту восполнит интервальный полный снапшот
		p.logger.Debug("клиент %d: очередь отправки переполнена, дельта отброшена", c.id)
		return
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.DeltasSent.Inc()
		p.cfg.Metrics.DeltaBytes.Observe(float64(d.Size()))
	}
}

// publish отдаёт метаданные тика и события симуляции на шину
func (p *Producer) publish(world *sim.World, snap *snapshot.Snapshot, events []sim.Event) {
	if p.cfg.Bus == nil {
		return
	}

	tickMeta, _ := json.Marshal(map[string]interface{}{
		"tick":     world.Tick,
		"entities": len(world.Entities),
		"bytes":    snap.Size(),
	})
	_ = p.cfg.Bus.Publish(p.ctx, &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "producer",
		EventType: eventbus.TypeWorldTick,
		Tick:      world.Tick,
		Payload:   tickMeta,
	})

	for i := range events {
		payload, err := json.Marshal(&events[i])
		if err != nil {
			continue
		}
		_ = p.cfg.Bus.Publish(p.ctx, &eventbus.Envelope{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Source:    "producer",
			EventType: eventbus.TypeSimEvent,
			Tick:      events[i].Tick,
			Payload:   payload,
		})
	}
}

// Stop останавливает приёмные и отправляющие горутины. Мир и история
// остаются валидными: остановка возможна на любой границе тика.
func (p *Producer) Stop() {
	p.cancel()
	p.wg.Wait()
}
