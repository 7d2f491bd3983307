// Package reconcile сводит локальное предсказание клиента с
// авторитетными снапшотами сервера: совпадение тихо подтверждает
// предсказание, расхождение откатывает и проигрывает буфер вводов
// заново через ту же функцию перехода.
package reconcile

import (
	"errors"
	"sync"

	"github.com/annel0/arena-game/internal/delta"
	"github.com/annel0/arena-game/internal/history"
	"github.com/annel0/arena-game/internal/logging"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
)

// State — состояние контроллера реконсиляции
type State int

const (
	// Predicting — локальные вводы применяются немедленно,
	// впереди последнего подтверждённого тика
	Predicting State = iota
	// Reconciling — идёт сверка с авторитетным состоянием
	Reconciling
	// Resyncing — базис дельты утерян, ждём полный снапшот
	Resyncing
)

// ErrNotStarted — контроллер ещё не получил стартовый полный снапшот
var ErrNotStarted = errors.New("reconcile: не получен стартовый снапшот")

// Controller — клиентская машина состояний Predicting/Reconciling/Resyncing.
// Все переходы дискретны: продвижение тика либо приход снапшота/дельты.
type Controller struct {
	mu     sync.Mutex
	engine *sim.Engine
	codec  *snapshot.Codec
	logger *logging.Logger

	state   State
	current *sim.World // Предсказанный мир на текущем тике

	pred *history.Buffer // Предсказанные миры + вводы по тикам
	auth *history.Buffer // Подтверждённые миры (базисы дельт)

	lastAuthTick uint64
	corrections  uint64
	requestFull  func() // Запрос полного снапшота у сервера
}

// NewController создает контроллер. requestFull вызывается, когда
// базис входящей дельты недоступен локально.
func NewController(engine *sim.Engine, codec *snapshot.Codec, window int, requestFull func()) *Controller {
	if requestFull == nil {
		requestFull = func() {}
	}
	return &Controller{
		engine:      engine,
		codec:       codec,
		logger:      logging.GetComponentLogger("reconcile"),
		state:       Resyncing, // До первого полного снапшота предсказывать не от чего
		pred:        history.NewBuffer(window),
		auth:        history.NewBuffer(window),
		requestFull: requestFull,
	}
}

// State возвращает текущее состояние машины
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Corrections возвращает количество видимых коррекций предсказания
func (c *Controller) Corrections() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrections
}

// CurrentWorld возвращает предсказанный мир на текущем тике
func (c *Controller) CurrentWorld() *sim.World {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// PredictTick немедленно применяет локальные вводы и продвигает
// предсказание на один тик. События возвращаются для презентации.
func (c *Controller) PredictTick(inputs []sim.Input) (*sim.World, []sim.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil, nil, ErrNotStarted
	}

	next, events := c.engine.Step(c.current, inputs)
	c.current = next
	_ = c.pred.Push(history.Entry{Tick: next.Tick, World: next, Inputs: inputs})
	return next, events, nil
}

// OnFullSnapshot обрабатывает полный авторитетный снапшот.
// Первый снапшот сессии служит базисом предсказания.
func (c *Controller) OnFullSnapshot(s *snapshot.Snapshot) error {
	w, err := c.codec.Decode(s)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Устаревший или дублирующий снапшот отбрасывается
	if c.current != nil && w.Tick <= c.lastAuthTick {
		return nil
	}

	c.confirm(w)
	return nil
}

// OnDelta обрабатывает авторитетную дельту. Если базис отсутствует
// в локальной истории, контроллер переходит в Resyncing и запрашивает
// полный снапшот — угадывать базис нельзя.
func (c *Controller) OnDelta(d *delta.Delta) error {
	c.mu.Lock()

	if c.current == nil {
		c.state = Resyncing
		c.mu.Unlock()
		c.requestFull()
		return ErrNotStarted
	}

	// Устаревшая или дублирующая дельта
	if d.TargetTick <= c.lastAuthTick {
		c.mu.Unlock()
		return nil
	}

	entry, ok := c.auth.Get(d.BaseTick)
	if !ok {
		c.state = Resyncing
		c.mu.Unlock()
		c.logger.Warn("базис дельты %d недоступен, запрашиваем полный снапшот", d.BaseTick)
		c.requestFull()
		return delta.ErrBaseMismatch
	}

	target, err := delta.Apply(entry.World, d)
	if err != nil {
		c.state = Resyncing
		c.mu.Unlock()
		c.requestFull()
		return err
	}

	c.confirm(target)
	c.mu.Unlock()
	return nil
}

// confirm принимает авторитетный мир на тике T и сверяет его с
// предсказанием. Вызывается под c.mu.
func (c *Controller) confirm(w *sim.World) {
	c.state = Reconciling
	c.lastAuthTick = w.Tick
	_ = pushAuth(c.auth, w)

	defer func() { c.state = Predicting }()

	// Сессия только начинается либо сервер ушёл вперёд предсказания —
	// принимаем авторитетное состояние как новый базис
	if c.current == nil || w.Tick >= c.current.Tick {
		c.current = w
		c.pred.Clear()
		return
	}

	predicted, ok := c.pred.Get(w.Tick)
	if ok && predicted.World.Equal(w) {
		// Предсказание подтвердилось: коррекция не нужна,
		// хвост истории до T больше не пригодится
		c.pred.TruncateBefore(w.Tick + 1)
		return
	}

	// Расхождение: откат к T и повтор всех буферизованных вводов > T
	c.corrections++
	currentTick := c.current.Tick

	replayed := w
	inputsByTick := make(map[uint64][]sim.Input, currentTick-w.Tick)
	for t := w.Tick + 1; t <= currentTick; t++ {
		if e, ok := c.pred.Get(t); ok {
			inputsByTick[t] = e.Inputs
		}
	}

	c.pred.Clear()
	for t := w.Tick + 1; t <= currentTick; t++ {
		inputs := inputsByTick[t]
		// События повтора отбрасываются: презентация их уже видела
		next, _ := c.engine.Step(replayed, inputs)
		replayed = next
		_ = c.pred.Push(history.Entry{Tick: t, World: next, Inputs: inputs})
	}

	c.current = replayed
	c.logger.Debug("реконсиляция: коррекция с тика %d, повторено %d тиков", w.Tick, currentTick-w.Tick)
}

// pushAuth кладёт подтверждённый мир в историю базисов, очищая её
// при разрыве последовательности тиков
func pushAuth(buf *history.Buffer, w *sim.World) error {
	err := buf.Push(history.Entry{Tick: w.Tick, World: w})
	if err != nil {
		buf.Clear()
		err = buf.Push(history.Entry{Tick: w.Tick, World: w})
	}
	return err
}
