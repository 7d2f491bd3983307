package sim

import (
	"sort"
	"sync"

	"github.com/annel0/arena-game/internal/gamemap"
	"github.com/annel0/arena-game/internal/vec"
)

// Params — настройки перехода симуляции.
// Скорости и радиусы в фиксированной точке (1/256 тайла за тик).
type Params struct {
	TickMs             uint64 // Длительность тика в миллисекундах
	MoveSpeed          int32  // Скорость персонажа
	ProjSpeed          int32  // Скорость снаряда
	ProjLifeTicks      uint64 // Время жизни снаряда
	ProjDamage         int32  // Урон снаряда
	HitRadius          int32  // Радиус попадания
	MaxHealth          int32
	MaxArmor           int32
	MaxAmmo            int32
	RespawnDelayTicks  uint64 // Задержка возрождения персонажа
	PickupRespawnTicks uint64 // Задержка восстановления пикапа
	PickupAmount       int32  // Сколько даёт пикап
	Workers            int    // Горутин на фазу интеграции движения
}

// DefaultParams возвращает параметры по умолчанию (50 Гц)
func DefaultParams() Params {
	return Params{
		TickMs:             20,
		MoveSpeed:          64, // Четверть тайла за тик
		ProjSpeed:          192,
		ProjLifeTicks:      100,
		ProjDamage:         20,
		HitRadius:          192,
		MaxHealth:          100,
		MaxArmor:           50,
		MaxAmmo:            10,
		RespawnDelayTicks:  50,
		PickupRespawnTicks: 250,
		PickupAmount:       25,
		Workers:            4,
	}
}

// Engine — чистая функция перехода мира, замкнутая на неизменяемую
// карту и параметры. Никакого скрытого мутирующего состояния:
// одинаковые (World, []Input) всегда дают бит-идентичный результат.
type Engine struct {
	m *gamemap.Map
	p Params
}

// NewEngine создает движок симуляции
func NewEngine(m *gamemap.Map, p Params) *Engine {
	if p.Workers <= 0 {
		p.Workers = 1
	}
	return &Engine{m: m, p: p}
}

// Map возвращает карту движка
func (e *Engine) Map() *gamemap.Map { return e.m }

// Params возвращает параметры движка
func (e *Engine) Params() Params { return e.p }

// InitialWorld создает стартовый мир: пикапы из раскладки карты.
// Персонажи добавляются позже через SpawnCharacter по мере подключений.
func (e *Engine) InitialWorld(seed uint64) *World {
	w := NewWorld(seed, e.m.Hash())
	for i, pos := range e.m.Pickups() {
		w.Spawn(Entity{
			Kind:   KindPickup,
			Pos:    pos,
			Weapon: uint8(i % 3), // health/armor/ammo по кругу
			Flags:  FlagActive,
		})
	}
	return w
}

// SpawnCharacter добавляет персонажа на случайной точке возрождения.
// Мутирует переданный мир, поэтому применим только к миру, который
// ещё никому не виден: стартовому либо свежему результату Step до
// коммита в историю.
func (e *Engine) SpawnCharacter(w *World) uint64 {
	spawns := e.m.Spawns()
	pos := vec.Vec2{}
	if len(spawns) > 0 {
		pos = spawns[w.RandIntn(len(spawns))]
	}
	return w.Spawn(Entity{
		Kind:   KindCharacter,
		Pos:    pos,
		Health: e.p.MaxHealth,
		Ammo:   e.p.MaxAmmo,
	})
}

// Step продвигает мир на один тик: (World, Inputs) -> (World', Events).
// Исходный мир не изменяется. Битые и устаревшие вводы отбрасываются
// с событием EventInputDropped — симуляция из-за них не падает.
func (e *Engine) Step(w *World, inputs []Input) (*World, []Event) {
	next := w.Clone()
	next.Tick++
	next.ElapsedMs += e.p.TickMs

	var events []Event

	// Вводы обрабатываются в стабильном порядке: по владельцу, затем по тику
	sorted := append([]Input(nil), inputs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Owner != sorted[j].Owner {
			return sorted[i].Owner < sorted[j].Owner
		}
		return sorted[i].Tick < sorted[j].Tick
	})

	for _, in := range sorted {
		events = e.applyInput(next, in, events)
	}

	// Интеграция движения персонажей: независимые сущности, fan-out по
	// диапазонам индексов, слияние по индексу (никогда по завершению)
	e.integrateMovement(next)

	// Снаряды, пикапы, возрождения — последовательные фазы в порядке ID
	removed := make(map[uint64]bool)
	events = e.advanceProjectiles(next, removed, events)
	events = e.advancePickups(next, events)
	events = e.advanceRespawns(next, events)

	if len(removed) > 0 {
		kept := next.Entities[:0]
		for _, ent := range next.Entities {
			if !removed[ent.ID] {
				kept = append(kept, ent)
			}
		}
		next.Entities = kept
	}

	return next, events
}

// applyInput валидирует и применяет один ввод к миру
func (e *Engine) applyInput(next *World, in Input, events []Event) []Event {
	drop := func(reason int32) []Event {
		return append(events, Event{
			Type: EventInputDropped, Tick: next.Tick, Entity: in.Owner, Value: reason,
		})
	}

	idx := next.Find(in.Owner)
	if idx < 0 {
		return drop(DropUnknownEntity)
	}
	ent := &next.Entities[idx]
	if ent.Kind != KindCharacter {
		return drop(DropNotCharacter)
	}
	if in.Tick != next.Tick {
		return drop(DropStaleTick)
	}
	if ent.IsDead() {
		return drop(DropDead)
	}

	ent.Vel = vec.Vec2{
		X: int32(in.MoveX) * e.p.MoveSpeed,
		Y: int32(in.MoveY) * e.p.MoveSpeed,
	}

	if !in.Aim.IsZero() {
		ent.Dir = aimAngle(in.Aim)
	}
	if in.Weapon != 0 {
		ent.Weapon = in.Weapon
	}

	if in.Fired() && ent.Ammo > 0 {
		ent.Ammo--
		dir := in.Aim.Normalize(e.p.ProjSpeed)
		if dir.IsZero() {
			dir = vec.Vec2{X: e.p.ProjSpeed}
		}
		owner := ent.ID
		pos := ent.Pos
		weapon := ent.Weapon
		// Spawn может переаллоцировать слайс — указатель ent дальше не трогаем
		id := next.Spawn(Entity{
			Kind:      KindProjectile,
			Pos:       pos,
			Vel:       dir,
			Owner:     owner,
			Weapon:    weapon,
			SpawnTick: next.Tick,
		})
		events = append(events, Event{
			Type: EventFire, Tick: next.Tick, Entity: id, Other: owner, Pos: pos,
		})
	}

	return events
}

// integrateMovement двигает живых персонажей с поосевой коллизией о карту.
// Персонажи в этой фазе независимы, поэтому фаза распараллелена:
// воркеры пишут каждый в свой диапазон индексов, итоговый порядок
// определяется индексом, а не временем завершения горутин.
func (e *Engine) integrateMovement(next *World) {
	n := len(next.Entities)
	if n == 0 {
		return
	}

	workers := e.p.Workers
	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				ent := &next.Entities[i]
				if ent.Kind != KindCharacter || ent.IsDead() {
					continue
				}
				*ent = e.moveWithCollision(*ent)
			}
		}(start, end)
	}
	wg.Wait()
}

// moveWithCollision применяет скорость с поосевой проверкой стен
func (e *Engine) moveWithCollision(ent Entity) Entity {
	p := ent.Pos

	nx := vec.Vec2{X: p.X + ent.Vel.X, Y: p.Y}
	if e.m.IsSolid(nx) {
		ent.Vel.X = 0
	} else {
		p.X = nx.X
	}

	ny := vec.Vec2{X: p.X, Y: p.Y + ent.Vel.Y}
	if e.m.IsSolid(ny) {
		ent.Vel.Y = 0
	} else {
		p.Y = ny.Y
	}

	ent.Pos = p
	return ent
}

// advanceProjectiles двигает снаряды, проверяет попадания и стены
func (e *Engine) advanceProjectiles(next *World, removed map[uint64]bool, events []Event) []Event {
	hitSq := int64(e.p.HitRadius) * int64(e.p.HitRadius)

	for i := range next.Entities {
		proj := &next.Entities[i]
		if proj.Kind != KindProjectile || removed[proj.ID] {
			continue
		}

		if next.Tick-proj.SpawnTick > e.p.ProjLifeTicks {
			removed[proj.ID] = true
			continue
		}

		proj.Pos = proj.Pos.Add(proj.Vel)

		if e.m.IsSolid(proj.Pos) {
			removed[proj.ID] = true
			events = append(events, Event{
				Type: EventExplosion, Tick: next.Tick, Entity: proj.ID, Pos: proj.Pos,
			})
			continue
		}

		// Поиск жертвы в порядке возрастания ID
		for j := range next.Entities {
			victim := &next.Entities[j]
			if victim.Kind != KindCharacter || victim.IsDead() || victim.ID == proj.Owner {
				continue
			}
			if victim.Pos.DistanceSqTo(proj.Pos) > hitSq {
				continue
			}

			dmg := e.p.ProjDamage
			absorbed := dmg / 2
			if absorbed > victim.Armor {
				absorbed = victim.Armor
			}
			victim.Armor -= absorbed
			victim.Health -= dmg - absorbed

			events = append(events, Event{
				Type: EventDamage, Tick: next.Tick, Entity: victim.ID,
				Other: proj.Owner, Pos: victim.Pos, Value: dmg - absorbed,
			})

			if victim.Health <= 0 {
				victim.Health = 0
				victim.Vel = vec.Vec2{}
				victim.Flags |= FlagDead
				victim.SpawnTick = next.Tick + e.p.RespawnDelayTicks
				events = append(events, Event{
					Type: EventDeath, Tick: next.Tick, Entity: victim.ID,
					Other: proj.Owner, Pos: victim.Pos,
				})
			}

			removed[proj.ID] = true
			break
		}
	}

	return events
}

// advancePickups обрабатывает подбор и восстановление пикапов
func (e *Engine) advancePickups(next *World, events []Event) []Event {
	hitSq := int64(e.p.HitRadius) * int64(e.p.HitRadius)

	for i := range next.Entities {
		pk := &next.Entities[i]
		if pk.Kind != KindPickup {
			continue
		}

		if !pk.IsActive() {
			if next.Tick >= pk.SpawnTick {
				pk.Flags |= FlagActive
			}
			continue
		}

		for j := range next.Entities {
			ch := &next.Entities[j]
			if ch.Kind != KindCharacter || ch.IsDead() {
				continue
			}
			if ch.Pos.DistanceSqTo(pk.Pos) > hitSq {
				continue
			}

			switch pk.Weapon {
			case PickupHealth:
				ch.Health += e.p.PickupAmount
				if ch.Health > e.p.MaxHealth {
					ch.Health = e.p.MaxHealth
				}
			case PickupArmor:
				ch.Armor += e.p.PickupAmount
				if ch.Armor > e.p.MaxArmor {
					ch.Armor = e.p.MaxArmor
				}
			case PickupAmmo:
				ch.Ammo += e.p.PickupAmount
				if ch.Ammo > e.p.MaxAmmo {
					ch.Ammo = e.p.MaxAmmo
				}
			}

			pk.Flags &^= FlagActive
			pk.SpawnTick = next.Tick + e.p.PickupRespawnTicks
			events = append(events, Event{
				Type: EventPickupTaken, Tick: next.Tick, Entity: pk.ID,
				Other: ch.ID, Pos: pk.Pos, Value: int32(pk.Weapon),
			})
			break
		}
	}

	return events
}

// advanceRespawns возрождает персонажей, у которых вышла задержка.
// Точка возрождения выбирается детерминированным ГСЧ мира.
func (e *Engine) advanceRespawns(next *World, events []Event) []Event {
	spawns := e.m.Spawns()

	for i := range next.Entities {
		ch := &next.Entities[i]
		if ch.Kind != KindCharacter || !ch.IsDead() || next.Tick < ch.SpawnTick {
			continue
		}

		pos := ch.Pos
		if len(spawns) > 0 {
			pos = spawns[next.RandIntn(len(spawns))]
		}

		ch.Pos = pos
		ch.Vel = vec.Vec2{}
		ch.Health = e.p.MaxHealth
		ch.Armor = 0
		ch.Ammo = e.p.MaxAmmo
		ch.Flags &^= FlagDead
		ch.SpawnTick = 0

		events = append(events, Event{
			Type: EventRespawn, Tick: next.Tick, Entity: ch.ID, Pos: pos,
		})
	}

	return events
}

// aimAngle возвращает угол прицела в милли-радианах целочисленной
// аппроксимацией atan2 (таблица октантов + линейная интерполяция)
func aimAngle(aim vec.Vec2) int32 {
	const pi = 3141 // Милли-радианы
	ax, ay := int64(aim.X), int64(aim.Y)
	absX, absY := ax, ay
	if absX < 0 {
		absX = -absX
	}
	if absY < 0 {
		absY = -absY
	}
	if absX == 0 && absY == 0 {
		return 0
	}

	// Угол внутри октанта: t in [0, pi/4]
	var t int64
	if absX >= absY {
		t = absY * (pi / 4) / absX
	} else {
		t = pi/2 - absX*(pi/4)/absY
	}

	switch {
	case ax >= 0 && ay >= 0:
		return int32(t)
	case ax < 0 && ay >= 0:
		return int32(pi - t)
	case ax < 0 && ay < 0:
		return int32(t - pi)
	default:
		return int32(-t)
	}
}
