package netsync

import (
	"context"
	"errors"
	"sync"

	"github.com/annel0/arena-game/internal/delta"
	"github.com/annel0/arena-game/internal/logging"
	"github.com/annel0/arena-game/internal/observability"
	"github.com/annel0/arena-game/internal/protocol"
	"github.com/annel0/arena-game/internal/reconcile"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
	"github.com/annel0/arena-game/internal/transport"
)

// Consumer — клиентская сторона: принимает снапшоты и дельты в фоне,
// применяет их на границе тика через reconcile.Controller и
// подтверждает серверу последний принятый тик.
type Consumer struct {
	mu    sync.Mutex
	ctrl  *reconcile.Controller
	codec *snapshot.Codec

	reliable   transport.Channel
	unreliable transport.Channel
	logger     *logging.Logger
	metrics    *observability.Metrics

	queue       []*protocol.Record // Принятое, ещё не применённое
	lastApplied uint64             // Последний применённый авторитетный тик
	started     bool               // Был ли применён хотя бы один снапшот

	seenCorrections uint64 // Коррекции контроллера, уже учтённые в метриках

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer создаёт клиентскую синхронизацию. Окно window ограничивает
// объём локальной истории предсказаний, metrics может быть nil.
func NewConsumer(engine *sim.Engine, codec *snapshot.Codec, window int,
	reliable, unreliable transport.Channel, metrics *observability.Metrics) *Consumer {

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		codec:      codec,
		reliable:   reliable,
		unreliable: unreliable,
		logger:     logging.GetComponentLogger("netsync"),
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.ctrl = reconcile.NewController(engine, codec, window, c.requestFull)
	return c
}

// Controller открывает доступ к предсказанию и состоянию мира
func (c *Consumer) Controller() *reconcile.Controller { return c.ctrl }

// Start запускает приём по обоим каналам
func (c *Consumer) Start() {
	c.wg.Add(2)
	go c.readLoop(c.reliable)
	go c.readLoop(c.unreliable)
}

func (c *Consumer) readLoop(ch transport.Channel) {
	defer c.wg.Done()

	for {
		msg, err := ch.Receive(c.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrClosed) {
				c.logger.Warn("приём прерван: %v", err)
			}
			return
		}

		rec, err := protocol.DecodeRecord(msg)
		if err != nil {
			c.logger.Warn("битая запись от сервера: %v", err)
			continue
		}

		switch rec.Kind {
		case protocol.KindFullSnapshot, protocol.KindDelta:
			c.mu.Lock()
			c.queue = append(c.queue, rec)
			c.mu.Unlock()
		default:
			c.logger.Warn("неожиданная запись типа %d от сервера", rec.Kind)
		}
	}
}

// ApplyPending применяет накопленные записи. Вызывается на границе
// локального тика, до предсказания следующего.
func (c *Consumer) ApplyPending() {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, rec := range pending {
		// Дубликаты и опоздавшие записи бессмысленны: состояние уже новее.
		// Стартовый мир живёт на тике 0, поэтому до первого применения
		// проверка не действует.
		if c.started && rec.Tick <= c.lastApplied {
			if c.metrics != nil {
				c.metrics.StaleDropped.Inc()
			}
			continue
		}

		switch rec.Kind {
		case protocol.KindFullSnapshot:
			err := c.ctrl.OnFullSnapshot(&snapshot.Snapshot{Tick: rec.Tick, Data: rec.Payload})
			if err != nil {
				c.logger.Warn("полный снапшот тика %d отвергнут: %v", rec.Tick, err)
				continue
			}
			c.mu.Lock()
			c.lastApplied = rec.Tick
			c.started = true
			c.mu.Unlock()
			c.sendAck(rec.Tick)

		case protocol.KindDelta:
			d := &delta.Delta{BaseTick: rec.BaseTick, TargetTick: rec.Tick, Data: rec.Payload}
			err := c.ctrl.OnDelta(d)
			if errors.Is(err, delta.ErrBaseMismatch) {
				// Контроллер уже перешёл в Resyncing и запросил полный
				continue
			}
			if err != nil {
				c.logger.Warn("дельта %d->%d отвергнута: %v", rec.BaseTick, rec.Tick, err)
				continue
			}
			c.mu.Lock()
			c.lastApplied = rec.Tick
			c.started = true
			c.mu.Unlock()
			c.sendAck(rec.Tick)
		}
	}

	if c.metrics != nil {
		if n := c.ctrl.Corrections(); n > c.seenCorrections {
			c.metrics.Corrections.Add(float64(n - c.seenCorrections))
			c.seenCorrections = n
		}
	}
}

// PredictTick применяет принятое и предсказывает следующий локальный тик
func (c *Consumer) PredictTick(inputs []sim.Input) (*sim.World, []sim.Event, error) {
	c.ApplyPending()
	return c.ctrl.PredictTick(inputs)
}

// SendInputs отправляет вводы на сервер надёжным каналом
func (c *Consumer) SendInputs(inputs []sim.Input) error {
	if len(inputs) == 0 {
		return nil
	}
	rec := &protocol.Record{
		Tick:    inputs[len(inputs)-1].Tick,
		Kind:    protocol.KindInputBatch,
		Payload: protocol.EncodeInputs(inputs),
	}
	return c.reliable.Send(c.ctx, rec.Encode(), transport.FlagReliable)
}

// sendAck подтверждает тик ненадёжным каналом: потеря не страшна,
// сервер просто возьмёт более старый базис для следующей дельты
func (c *Consumer) sendAck(tick uint64) {
	rec := &protocol.Record{Tick: tick, Kind: protocol.KindAck}
	if err := c.unreliable.Send(c.ctx, rec.Encode(), transport.FlagUnreliable); err != nil {
		c.logger.Debug("ack тика %d не отправлен: %v", tick, err)
	}
}

// requestFull шлёт запрос полного снапшота; вызывается контроллером
// при потере базиса дельты
func (c *Consumer) requestFull() {
	rec := &protocol.Record{Kind: protocol.KindFullRequest}
	if err := c.reliable.Send(c.ctx, rec.Encode(), transport.FlagReliable); err != nil {
		c.logger.Warn("запрос полного снапшота не отправлен: %v", err)
	}
	if c.metrics != nil {
		c.metrics.FullRequests.Inc()
	}
}

// LastApplied возвращает последний применённый авторитетный тик
func (c *Consumer) LastApplied() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastApplied
}

// Stop останавливает приёмные горутины
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
}
