package tests

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-game/internal/eventbus"
	"github.com/annel0/arena-game/internal/gamemap"
	"github.com/annel0/arena-game/internal/netsync"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
	"github.com/annel0/arena-game/internal/transport"
)

// testSession — собранный сервер с движком и кодеком
type testSession struct {
	engine   *sim.Engine
	codec    *snapshot.Codec
	producer *netsync.Producer
}

// newArena генерирует карту из сида и собирает движок с кодеком
func newArena(t *testing.T, seed uint64) (*sim.Engine, *snapshot.Codec, *sim.World) {
	t.Helper()

	m := gamemap.NewGenerator(int64(seed), 32, 32).Generate()
	engine := sim.NewEngine(m, sim.DefaultParams())

	codec, err := snapshot.NewCodec(true)
	require.NoError(t, err)

	return engine, codec, engine.InitialWorld(seed)
}

func newSession(t *testing.T, seed uint64, cfg netsync.ProducerConfig) *testSession {
	t.Helper()

	engine, codec, world := newArena(t, seed)
	return &testSession{
		engine:   engine,
		codec:    codec,
		producer: netsync.NewProducer(engine, codec, world, cfg),
	}
}

// connect подключает нового клиента через пару каналов в памяти
func (s *testSession) connect(t *testing.T, lossRate float64, seed int64) (*netsync.Consumer, uint64) {
	t.Helper()

	srvRel, cliRel := transport.NewMemoryPair(512)
	srvUnrel, cliUnrel := transport.NewMemoryPair(512)
	if lossRate > 0 {
		srvUnrel.SetLoss(lossRate, 0, seed)
		cliUnrel.SetLoss(lossRate, 0, seed+1)
	}

	cid, err := s.producer.AddClient(srvRel, srvUnrel)
	require.NoError(t, err)

	// Вход клиента применяется ближайшей границей тика
	s.producer.TickOnce()
	entityID, ok := s.producer.ClientEntity(cid)
	require.True(t, ok)

	c := netsync.NewConsumer(s.engine, s.codec, 128, cliRel, cliUnrel, nil)
	c.Start()
	return c, entityID
}

// catchUp тикает сервер, пока клиент не подтвердит текущий тик
func catchUp(t *testing.T, s *testSession, c *netsync.Consumer, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		s.producer.TickOnce()
		target := s.producer.World().Tick
		deadline := time.Now().Add(50 * time.Millisecond)
		for time.Now().Before(deadline) {
			c.ApplyPending()
			if c.LastApplied() == target {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatalf("клиент не догнал сервер за %d тиков", maxTicks)
}

// TestE2E_TwoClientsConverge проверяет полную сессию: два клиента
// двигаются, сервер тикает, оба сходятся к авторитетному миру.
func TestE2E_TwoClientsConverge(t *testing.T) {
	s := newSession(t, 42, netsync.ProducerConfig{FullInterval: 8, HistoryWindow: 128})
	defer s.producer.Stop()

	c1, e1 := s.connect(t, 0, 0)
	defer c1.Stop()
	c2, e2 := s.connect(t, 0, 0)
	defer c2.Stop()

	start1, ok := s.producer.World().Get(e1)
	require.True(t, ok)

	for i := 0; i < 40; i++ {
		tick := s.producer.World().Tick + 1
		require.NoError(t, c1.SendInputs([]sim.Input{{Owner: e1, Tick: tick, MoveX: 1}}))
		require.NoError(t, c2.SendInputs([]sim.Input{{Owner: e2, Tick: tick, MoveY: 1}}))

		// Вводы идут через канал асинхронно; даем им дойти
		time.Sleep(2 * time.Millisecond)
		s.producer.TickOnce()

		target := s.producer.World().Tick
		for _, c := range []*netsync.Consumer{c1, c2} {
			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				c.ApplyPending()
				if c.LastApplied() == target {
					break
				}
				time.Sleep(time.Millisecond)
			}
			require.Equal(t, target, c.LastApplied())
		}
	}

	srv := s.producer.World()
	assert.True(t, c1.Controller().CurrentWorld().Equal(srv), "клиент 1 разошёлся")
	assert.True(t, c2.Controller().CurrentWorld().Equal(srv), "клиент 2 разошёлся")

	// Вводы действительно двигали персонажей
	now1, ok := srv.Get(e1)
	require.True(t, ok)
	assert.Greater(t, now1.Pos.X, start1.Pos.X, "персонаж 1 должен сместиться вправо")
}

// TestE2E_LossyClientRecovers гоняет клиента через канал с потерями:
// дельты теряются, но полные снапшоты по надёжному каналу возвращают
// его к авторитетному состоянию.
func TestE2E_LossyClientRecovers(t *testing.T) {
	s := newSession(t, 7, netsync.ProducerConfig{FullInterval: 5, HistoryWindow: 128})
	defer s.producer.Stop()

	c, _ := s.connect(t, 0.4, 17)
	defer c.Stop()

	for i := 0; i < 60; i++ {
		s.producer.TickOnce()
		c.ApplyPending()
		time.Sleep(time.Millisecond)
	}

	catchUp(t, s, c, 20)
	assert.True(t, c.Controller().CurrentWorld().Equal(s.producer.World()))
}

// TestE2E_BusObservesTicks проверяет, что шина событий видит каждый
// закоммиченный тик.
func TestE2E_BusObservesTicks(t *testing.T) {
	bus := eventbus.NewMemoryBus(256)
	defer bus.Close()

	var ticks atomic.Uint64
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.TypeWorldTick}},
		func(ctx context.Context, ev *eventbus.Envelope) { ticks.Add(1) })
	require.NoError(t, err)

	s := newSession(t, 3, netsync.ProducerConfig{FullInterval: 10, HistoryWindow: 64, Bus: bus})
	defer s.producer.Stop()

	for i := 0; i < 25; i++ {
		s.producer.TickOnce()
	}

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 25 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, uint64(25), ticks.Load(), "каждый тик должен попасть на шину")
}
