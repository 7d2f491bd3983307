package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-game/internal/delta"
	"github.com/annel0/arena-game/internal/gamemap"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
	"github.com/annel0/arena-game/internal/vec"
)

// harness — сервер и клиент на одном движке: авторитетная симуляция
// и локальное предсказание с ручной доставкой снапшотов и дельт
type harness struct {
	engine *sim.Engine
	codec  *snapshot.Codec
	server *sim.World
	player uint64

	ctrl         *Controller
	fullRequests int
}

func newHarness(t *testing.T, window int) *harness {
	t.Helper()

	const size = 16
	tiles := make([]gamemap.TileType, size*size)
	for y := int32(0); y < size; y++ {
		for x := int32(0); x < size; x++ {
			if x == 0 || y == 0 || x == size-1 || y == size-1 {
				tiles[y*size+x] = gamemap.TileSolid
			}
		}
	}
	tiles[8*size+8] = gamemap.TileSpawn
	m, err := gamemap.FromTiles(size, size, tiles)
	require.NoError(t, err)

	h := &harness{
		engine: sim.NewEngine(m, sim.DefaultParams()),
	}
	h.codec, err = snapshot.NewCodec(false)
	require.NoError(t, err)

	h.server = h.engine.InitialWorld(321)
	h.player = h.engine.SpawnCharacter(h.server)
	h.ctrl = NewController(h.engine, h.codec, window, func() { h.fullRequests++ })
	return h
}

// serverStep продвигает авторитетный мир и возвращает дельту от
// предыдущего тика
func (h *harness) serverStep(inputs []sim.Input) *delta.Delta {
	prev := h.server
	h.server, _ = h.engine.Step(h.server, inputs)
	return delta.Compute(prev, h.server)
}

func (h *harness) sendFull(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.OnFullSnapshot(h.codec.Encode(h.server)))
}

func (h *harness) input(tick uint64) sim.Input {
	return sim.Input{Owner: h.player, Tick: tick, MoveX: 1}
}

func TestController_NotStartedBeforeFirstSnapshot(t *testing.T) {
	h := newHarness(t, 32)

	assert.Equal(t, Resyncing, h.ctrl.State())

	_, _, err := h.ctrl.PredictTick(nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	// Дельта до первого снапшота бесполезна: запрашиваем полный
	d := h.serverStep(nil)
	err = h.ctrl.OnDelta(d)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, 1, h.fullRequests)
}

func TestController_FirstSnapshotStartsPrediction(t *testing.T) {
	h := newHarness(t, 32)
	h.sendFull(t)

	assert.Equal(t, Predicting, h.ctrl.State())
	require.NotNil(t, h.ctrl.CurrentWorld())
	assert.True(t, h.ctrl.CurrentWorld().Equal(h.server))

	w, _, err := h.ctrl.PredictTick([]sim.Input{h.input(h.server.Tick + 1)})
	require.NoError(t, err)
	assert.Equal(t, h.server.Tick+1, w.Tick)
}

func TestController_ConvergenceNoCorrections(t *testing.T) {
	h := newHarness(t, 64)
	h.sendFull(t)

	// Клиент предсказывает на 2 тика впереди сервера; сервер применяет
	// те же вводы и шлёт дельты. Предсказание обязано подтверждаться.
	for i := 0; i < 2; i++ {
		tick := h.ctrl.CurrentWorld().Tick + 1
		_, _, err := h.ctrl.PredictTick([]sim.Input{h.input(tick)})
		require.NoError(t, err)
	}

	for i := 0; i < 30; i++ {
		tick := h.ctrl.CurrentWorld().Tick + 1
		_, _, err := h.ctrl.PredictTick([]sim.Input{h.input(tick)})
		require.NoError(t, err)

		serverTick := h.server.Tick + 1
		d := h.serverStep([]sim.Input{h.input(serverTick)})
		require.NoError(t, h.ctrl.OnDelta(d))
	}

	assert.Equal(t, uint64(0), h.ctrl.Corrections(), "идентичные вводы не должны давать коррекций")
	assert.Equal(t, Predicting, h.ctrl.State())
}

func TestController_DivergenceReplaysInputs(t *testing.T) {
	h := newHarness(t, 64)
	h.sendFull(t)

	// Клиент предсказал движение, но сервер ввод не получил
	for i := 0; i < 3; i++ {
		tick := h.ctrl.CurrentWorld().Tick + 1
		_, _, err := h.ctrl.PredictTick([]sim.Input{h.input(tick)})
		require.NoError(t, err)
	}

	d := h.serverStep(nil) // Сервер шагнул без ввода
	require.NoError(t, h.ctrl.OnDelta(d))

	assert.Equal(t, uint64(1), h.ctrl.Corrections())
	assert.Equal(t, Predicting, h.ctrl.State())

	// После коррекции мир клиента — авторитетный базис плюс повтор
	// буферизованных вводов теми же правилами
	expected := h.server
	for tick := h.server.Tick + 1; tick <= h.ctrl.CurrentWorld().Tick; tick++ {
		expected, _ = h.engine.Step(expected, []sim.Input{h.input(tick)})
	}
	assert.True(t, h.ctrl.CurrentWorld().Equal(expected), "повтор вводов дал не тот мир")
}

func TestController_StaleDeltaIgnored(t *testing.T) {
	h := newHarness(t, 32)
	h.sendFull(t)

	d1 := h.serverStep(nil)
	require.NoError(t, h.ctrl.OnDelta(d1))
	before := h.ctrl.CurrentWorld()

	// Дубликат и устаревшая дельта не меняют состояние
	require.NoError(t, h.ctrl.OnDelta(d1))
	assert.True(t, h.ctrl.CurrentWorld().Equal(before))
	assert.Equal(t, uint64(0), h.ctrl.Corrections())
	assert.Equal(t, 0, h.fullRequests)
}

func TestController_MissingBaseTriggersResync(t *testing.T) {
	h := newHarness(t, 32)
	h.sendFull(t)

	// Сервер ушёл на несколько тиков вперёд, промежуточные дельты
	// потерялись: базис свежей дельты клиенту неизвестен
	_ = h.serverStep(nil)
	_ = h.serverStep(nil)
	d := h.serverStep(nil)

	err := h.ctrl.OnDelta(d)
	assert.ErrorIs(t, err, delta.ErrBaseMismatch)
	assert.Equal(t, Resyncing, h.ctrl.State())
	assert.Equal(t, 1, h.fullRequests)

	// Полный снапшот восстанавливает предсказание
	h.sendFull(t)
	assert.Equal(t, Predicting, h.ctrl.State())
	assert.True(t, h.ctrl.CurrentWorld().Equal(h.server))

	// Следующая дельта снова применяется без полного
	d = h.serverStep(nil)
	require.NoError(t, h.ctrl.OnDelta(d))
	assert.Equal(t, 1, h.fullRequests)
}

func TestController_CorruptDeltaTriggersResync(t *testing.T) {
	h := newHarness(t, 32)
	h.sendFull(t)

	d := h.serverStep(nil)
	d.Data = d.Data[:len(d.Data)-2]

	err := h.ctrl.OnDelta(d)
	assert.ErrorIs(t, err, delta.ErrCorruptDelta)
	assert.Equal(t, Resyncing, h.ctrl.State())
	assert.Equal(t, 1, h.fullRequests)
}

func TestController_StaleFullSnapshotIgnored(t *testing.T) {
	h := newHarness(t, 32)
	h.sendFull(t)

	stale := h.codec.Encode(h.server)

	d := h.serverStep(nil)
	require.NoError(t, h.ctrl.OnDelta(d))
	tickAfter := h.ctrl.CurrentWorld().Tick

	// Опоздавший полный снапшот старого тика не откатывает клиента
	require.NoError(t, h.ctrl.OnFullSnapshot(stale))
	assert.Equal(t, tickAfter, h.ctrl.CurrentWorld().Tick)
}

func TestController_ServerAheadAdoptsAuthoritative(t *testing.T) {
	h := newHarness(t, 32)
	h.sendFull(t)

	// Клиент завис (ни одного предсказания), сервер ушёл вперёд
	for i := 0; i < 5; i++ {
		_ = h.serverStep(nil)
	}
	h.sendFull(t)

	assert.True(t, h.ctrl.CurrentWorld().Equal(h.server))
	assert.Equal(t, Predicting, h.ctrl.State())
	assert.Equal(t, uint64(0), h.ctrl.Corrections(), "принятие авторитетного мира не коррекция")
}

func TestController_PredictionUsesOwnWorld(t *testing.T) {
	h := newHarness(t, 32)
	h.sendFull(t)

	start := h.ctrl.CurrentWorld()
	startPos, _ := start.Get(h.player)

	for i := 0; i < 5; i++ {
		tick := h.ctrl.CurrentWorld().Tick + 1
		_, _, err := h.ctrl.PredictTick([]sim.Input{h.input(tick)})
		require.NoError(t, err)
	}

	got, ok := h.ctrl.CurrentWorld().Get(h.player)
	require.True(t, ok)
	params := h.engine.Params()
	assert.Equal(t, startPos.Pos.Add(vec.Vec2{X: 5 * params.MoveSpeed}), got.Pos)
}
