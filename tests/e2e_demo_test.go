package tests

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-game/internal/demo"
	"github.com/annel0/arena-game/internal/netsync"
	"github.com/annel0/arena-game/internal/sim"
)

// TestE2E_SessionRecordedAndReplayed пишет демо живой сессии с
// подключённым клиентом и проверяет, что воспроизведение повторяет
// каждый закоммиченный тик байт-в-байт.
func TestE2E_SessionRecordedAndReplayed(t *testing.T) {
	store := demo.NewMemoryStore()

	engine, codec, world := newArena(t, 99)

	// Буфер с запасом: в тесте не должно быть сброшенных записей
	rec := demo.NewRecorder(store, codec, 10, 256)
	s := &testSession{engine: engine, codec: codec,
		producer: netsync.NewProducer(engine, codec, world,
			netsync.ProducerConfig{FullInterval: 8, HistoryWindow: 128, Recorder: rec})}
	defer s.producer.Stop()

	c, entityID := s.connect(t, 0, 0)
	defer c.Stop()

	// Тик, применивший вход клиента, тоже записан в демо
	live := []*sim.World{s.producer.World()}
	for i := 0; i < 50; i++ {
		tick := s.producer.World().Tick + 1
		require.NoError(t, c.SendInputs([]sim.Input{{Owner: entityID, Tick: tick, MoveX: 1, Buttons: sim.ButtonFire}}))
		time.Sleep(2 * time.Millisecond)

		s.producer.TickOnce()
		live = append(live, s.producer.World())
	}

	rec.Stop()
	require.False(t, rec.Disabled())
	require.Equal(t, uint64(0), rec.Dropped(), "буфер рекордера не должен переполняться")

	player, err := demo.NewPlayer(store, s.codec)
	require.NoError(t, err)

	for i, want := range live {
		got, err := player.Next()
		require.NoError(t, err, "тик %d", i)
		require.Equal(t, want.Tick, got.Tick)
		assert.True(t, got.Equal(want), "воспроизведённый тик %d разошёлся с живым", want.Tick)
	}

	_, err = player.Next()
	assert.True(t, errors.Is(err, demo.ErrEndOfDemo), "после последнего тика демо заканчивается")
}

// TestE2E_DemoSeekMidSession проверяет перемотку демо на середину
// сессии и корректное продолжение с этого места.
func TestE2E_DemoSeekMidSession(t *testing.T) {
	store := demo.NewMemoryStore()

	engine, codec, world := newArena(t, 13)
	rec := demo.NewRecorder(store, codec, 5, 256)
	s := &testSession{engine: engine, codec: codec,
		producer: netsync.NewProducer(engine, codec, world,
			netsync.ProducerConfig{FullInterval: 5, HistoryWindow: 64, Recorder: rec})}
	defer s.producer.Stop()

	var live []*sim.World
	for i := 0; i < 30; i++ {
		s.producer.TickOnce()
		live = append(live, s.producer.World())
	}
	rec.Stop()

	player, err := demo.NewPlayer(store, s.codec)
	require.NoError(t, err)

	mid := live[len(live)/2]
	got, err := player.Seek(mid.Tick)
	require.NoError(t, err)
	assert.True(t, got.Equal(mid))

	// После перемотки воспроизведение продолжается со следующего тика
	next, err := player.Next()
	require.NoError(t, err)
	assert.True(t, next.Equal(live[len(live)/2+1]))
}
