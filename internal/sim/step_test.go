package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-game/internal/gamemap"
	"github.com/annel0/arena-game/internal/vec"
)

// testMap строит открытую арену 16x16: стены по периметру,
// точка возрождения в центре
func testMap(t *testing.T) *gamemap.Map {
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
	return m
}

func newTestEngine(t *testing.T) (*Engine, *World) {
	t.Helper()
	e := NewEngine(testMap(t), DefaultParams())
	return e, NewWorld(12345, e.Map().Hash())
}

func TestStep_Deterministic(t *testing.T) {
	run := func() *World {
		e, w := newTestEngine(t)
		p1 := e.SpawnCharacter(w)
		p2 := e.SpawnCharacter(w)

		for i := 0; i < 50; i++ {
			inputs := []Input{
				{Owner: p1, Tick: w.Tick + 1, MoveX: 1, Buttons: ButtonFire, Aim: vec.Vec2{X: 256}},
				{Owner: p2, Tick: w.Tick + 1, MoveY: -1, Aim: vec.Vec2{Y: -256}},
			}
			w, _ = e.Step(w, inputs)
		}
		return w
	}

	// Два независимых прогона обязаны сойтись бит-в-бит
	w1 := run()
	w2 := run()
	assert.True(t, w1.Equal(w2), "одинаковые вводы дали разные миры")
}

func TestStep_InputOrderIrrelevant(t *testing.T) {
	e, w := newTestEngine(t)
	p1 := e.SpawnCharacter(w)
	p2 := e.SpawnCharacter(w)

	inputs := []Input{
		{Owner: p1, Tick: w.Tick + 1, MoveX: 1},
		{Owner: p2, Tick: w.Tick + 1, MoveY: 1},
	}
	reversed := []Input{inputs[1], inputs[0]}

	w1, _ := e.Step(w, inputs)
	w2, _ := e.Step(w, reversed)
	assert.True(t, w1.Equal(w2), "порядок вводов в пакете повлиял на результат")
}

func TestStep_DoesNotMutateSource(t *testing.T) {
	e, w := newTestEngine(t)
	p1 := e.SpawnCharacter(w)

	before := w.Clone()
	_, _ = e.Step(w, []Input{{Owner: p1, Tick: w.Tick + 1, MoveX: 1, Buttons: ButtonFire, Aim: vec.Vec2{X: 256}}})

	assert.True(t, w.Equal(before), "Step изменил исходный мир")
}

func TestStep_MovementSpeed(t *testing.T) {
	e, w := newTestEngine(t)
	p1 := e.SpawnCharacter(w)

	start, _ := w.Get(p1)

	// Пять тиков вправо на полной скорости
	for i := 0; i < 5; i++ {
		w, _ = e.Step(w, []Input{{Owner: p1, Tick: w.Tick + 1, MoveX: 1}})
	}

	got, ok := w.Get(p1)
	require.True(t, ok)
	assert.Equal(t, start.Pos.X+5*e.Params().MoveSpeed, got.Pos.X)
	assert.Equal(t, start.Pos.Y, got.Pos.Y)
}

func TestStep_WallStopsMovement(t *testing.T) {
	e, _ := newTestEngine(t)
	w := NewWorld(1, e.Map().Hash())

	// Персонаж рядом с правой стеной (тайл 15)
	id := w.Spawn(Entity{Kind: KindCharacter, Pos: vec.FromTiles(14, 8), Health: 100})

	for i := 0; i < 10; i++ {
		w, _ = e.Step(w, []Input{{Owner: id, Tick: w.Tick + 1, MoveX: 1}})
	}

	got, ok := w.Get(id)
	require.True(t, ok)
	// Упёрся в стену, не прошёл сквозь неё
	tx, _ := got.Pos.ToTile()
	assert.Equal(t, int32(14), tx)
	assert.Equal(t, int32(0), got.Vel.X, "скорость у стены должна обнулиться")
}

func TestStep_StaleInputDropped(t *testing.T) {
	e, w := newTestEngine(t)
	p1 := e.SpawnCharacter(w)
	before, _ := w.Get(p1)

	// Ввод с чужим тиком отбрасывается с событием, мир не падает
	next, events := e.Step(w, []Input{{Owner: p1, Tick: w.Tick + 5, MoveX: 1}})

	require.Len(t, events, 1)
	assert.Equal(t, EventInputDropped, events[0].Type)
	assert.Equal(t, DropStaleTick, events[0].Value)

	got, _ := next.Get(p1)
	assert.Equal(t, before.Pos, got.Pos)
}

func TestStep_UnknownOwnerDropped(t *testing.T) {
	e, w := newTestEngine(t)

	_, events := e.Step(w, []Input{{Owner: 999, Tick: w.Tick + 1, MoveX: 1}})

	require.Len(t, events, 1)
	assert.Equal(t, EventInputDropped, events[0].Type)
	assert.Equal(t, DropUnknownEntity, events[0].Value)
}

func TestStep_FireSpawnsProjectile(t *testing.T) {
	e, w := newTestEngine(t)
	p1 := e.SpawnCharacter(w)

	next, events := e.Step(w, []Input{{
		Owner: p1, Tick: w.Tick + 1, Buttons: ButtonFire, Aim: vec.Vec2{X: 256},
	}})

	var fired *Event
	for i := range events {
		if events[i].Type == EventFire {
			fired = &events[i]
		}
	}
	require.NotNil(t, fired, "выстрел не породил событие")
	assert.Equal(t, p1, fired.Other)

	proj, ok := next.Get(fired.Entity)
	require.True(t, ok)
	assert.Equal(t, KindProjectile, proj.Kind)
	assert.Equal(t, p1, proj.Owner)
	assert.Equal(t, e.Params().ProjSpeed, proj.Vel.X)

	shooter, _ := next.Get(p1)
	assert.Equal(t, e.Params().MaxAmmo-1, shooter.Ammo)
}

func TestStep_NoAmmoNoShot(t *testing.T) {
	e, _ := newTestEngine(t)
	w := NewWorld(1, e.Map().Hash())
	id := w.Spawn(Entity{Kind: KindCharacter, Pos: vec.FromTiles(8, 8), Health: 100, Ammo: 0})

	next, events := e.Step(w, []Input{{
		Owner: id, Tick: w.Tick + 1, Buttons: ButtonFire, Aim: vec.Vec2{X: 256},
	}})

	for _, ev := range events {
		assert.NotEqual(t, EventFire, ev.Type)
	}
	assert.Len(t, next.Entities, 1)
}

func TestStep_HitKillAndRespawn(t *testing.T) {
	params := DefaultParams()
	params.ProjDamage = 200 // Убивает с одного попадания
	params.RespawnDelayTicks = 3
	e := NewEngine(testMap(t), params)

	w := NewWorld(7, e.Map().Hash())
	shooter := w.Spawn(Entity{Kind: KindCharacter, Pos: vec.FromTiles(4, 8), Health: 100, Ammo: 10})
	victim := w.Spawn(Entity{Kind: KindCharacter, Pos: vec.FromTiles(8, 8), Health: 100})

	// Выстрел вправо, затем ждём полёта снаряда
	w, _ = e.Step(w, []Input{{Owner: shooter, Tick: w.Tick + 1, Buttons: ButtonFire, Aim: vec.Vec2{X: 256}}})

	var sawDamage, sawDeath bool
	for i := 0; i < 20 && !sawDeath; i++ {
		var events []Event
		w, events = e.Step(w, nil)
		for _, ev := range events {
			switch ev.Type {
			case EventDamage:
				sawDamage = true
				assert.Equal(t, victim, ev.Entity)
				assert.Equal(t, shooter, ev.Other)
			case EventDeath:
				sawDeath = true
				assert.Equal(t, victim, ev.Entity)
			}
		}
	}
	require.True(t, sawDamage, "попадание не случилось")
	require.True(t, sawDeath, "жертва не погибла")

	dead, _ := w.Get(victim)
	assert.True(t, dead.IsDead())
	assert.Equal(t, int32(0), dead.Health)

	// Снаряд снят с симуляции после попадания
	for _, ent := range w.Entities {
		assert.NotEqual(t, KindProjectile, ent.Kind)
	}

	// Возрождение после задержки: полное здоровье, флаг снят
	var sawRespawn bool
	for i := 0; i < 10 && !sawRespawn; i++ {
		var events []Event
		w, events = e.Step(w, nil)
		for _, ev := range events {
			if ev.Type == EventRespawn && ev.Entity == victim {
				sawRespawn = true
			}
		}
	}
	require.True(t, sawRespawn, "жертва не возродилась")

	alive, _ := w.Get(victim)
	assert.False(t, alive.IsDead())
	assert.Equal(t, params.MaxHealth, alive.Health)
	assert.Equal(t, int32(0), alive.Armor)
}

func TestStep_DeadCharacterIgnoresInput(t *testing.T) {
	e, _ := newTestEngine(t)
	w := NewWorld(1, e.Map().Hash())
	id := w.Spawn(Entity{
		Kind: KindCharacter, Pos: vec.FromTiles(8, 8),
		Flags: FlagDead, SpawnTick: 1000,
	})

	next, events := e.Step(w, []Input{{Owner: id, Tick: w.Tick + 1, MoveX: 1}})

	require.Len(t, events, 1)
	assert.Equal(t, EventInputDropped, events[0].Type)
	assert.Equal(t, DropDead, events[0].Value)

	got, _ := next.Get(id)
	assert.Equal(t, vec.FromTiles(8, 8), got.Pos)
}

func TestStep_PickupLifecycle(t *testing.T) {
	params := DefaultParams()
	params.PickupRespawnTicks = 4
	e := NewEngine(testMap(t), params)

	w := NewWorld(3, e.Map().Hash())
	pk := w.Spawn(Entity{Kind: KindPickup, Pos: vec.FromTiles(8, 8), Weapon: PickupHealth, Flags: FlagActive})
	ch := w.Spawn(Entity{Kind: KindCharacter, Pos: vec.FromTiles(8, 8), Health: 50})

	// Персонаж стоит на пикапе: подбор на первом же тике
	w, events := e.Step(w, nil)

	var taken bool
	for _, ev := range events {
		if ev.Type == EventPickupTaken {
			taken = true
			assert.Equal(t, pk, ev.Entity)
			assert.Equal(t, ch, ev.Other)
		}
	}
	require.True(t, taken)

	got, _ := w.Get(ch)
	assert.Equal(t, int32(50+params.PickupAmount), got.Health)

	p, _ := w.Get(pk)
	assert.False(t, p.IsActive(), "пикап обязан деактивироваться после подбора")

	// Пока пикап неактивен, повторного подбора нет
	w, events = e.Step(w, nil)
	for _, ev := range events {
		assert.NotEqual(t, EventPickupTaken, ev.Type)
	}

	// После задержки пикап снова активен
	for i := 0; i < int(params.PickupRespawnTicks); i++ {
		w, _ = e.Step(w, nil)
	}
	p, _ = w.Get(pk)
	assert.True(t, p.IsActive())
}

func TestStep_HealthClampedAtMax(t *testing.T) {
	params := DefaultParams()
	e := NewEngine(testMap(t), params)

	w := NewWorld(3, e.Map().Hash())
	w.Spawn(Entity{Kind: KindPickup, Pos: vec.FromTiles(8, 8), Weapon: PickupHealth, Flags: FlagActive})
	ch := w.Spawn(Entity{Kind: KindCharacter, Pos: vec.FromTiles(8, 8), Health: params.MaxHealth - 1})

	w, _ = e.Step(w, nil)

	got, _ := w.Get(ch)
	assert.Equal(t, params.MaxHealth, got.Health)
}

func TestStep_ProjectileExpires(t *testing.T) {
	params := DefaultParams()
	params.ProjLifeTicks = 2
	params.ProjSpeed = 1 // Почти стоит на месте, до стены не долетит
	e := NewEngine(testMap(t), params)

	w := NewWorld(5, e.Map().Hash())
	ch := w.Spawn(Entity{Kind: KindCharacter, Pos: vec.FromTiles(8, 8), Health: 100, Ammo: 1})

	w, _ = e.Step(w, []Input{{Owner: ch, Tick: w.Tick + 1, Buttons: ButtonFire, Aim: vec.Vec2{X: 256}}})

	count := func() int {
		n := 0
		for _, ent := range w.Entities {
			if ent.Kind == KindProjectile {
				n++
			}
		}
		return n
	}
	require.Equal(t, 1, count())

	for i := 0; i < int(params.ProjLifeTicks)+1; i++ {
		w, _ = e.Step(w, nil)
	}
	assert.Equal(t, 0, count(), "снаряд обязан исчезнуть по истечении срока жизни")
}

func TestStep_WorkersDoNotAffectResult(t *testing.T) {
	seqParams := DefaultParams()
	seqParams.Workers = 1
	parParams := DefaultParams()
	parParams.Workers = 8

	run := func(params Params) *World {
		e := NewEngine(testMap(t), params)
		w := NewWorld(99, e.Map().Hash())
		var ids []uint64
		for i := 0; i < 10; i++ {
			ids = append(ids, e.SpawnCharacter(w))
		}
		for i := 0; i < 30; i++ {
			var inputs []Input
			for j, id := range ids {
				inputs = append(inputs, Input{
					Owner: id, Tick: w.Tick + 1,
					MoveX: int8(j%3 - 1), MoveY: int8(j%2),
				})
			}
			w, _ = e.Step(w, inputs)
		}
		return w
	}

	// Параллельная интеграция движения обязана дать тот же мир
	assert.True(t, run(seqParams).Equal(run(parParams)),
		"число воркеров повлияло на результат симуляции")
}

func TestAimAngle_Octants(t *testing.T) {
	cases := []struct {
		aim  vec.Vec2
		want int32
	}{
		{vec.Vec2{X: 256, Y: 0}, 0},
		{vec.Vec2{X: 256, Y: 256}, 785},   // ~pi/4
		{vec.Vec2{X: 0, Y: 256}, 1570},    // ~pi/2
		{vec.Vec2{X: -256, Y: 0}, 3141},   // ~pi
		{vec.Vec2{X: 0, Y: -256}, -1570},  // ~-pi/2
		{vec.Vec2{X: 256, Y: -256}, -785}, // ~-pi/4
	}
	for _, tc := range cases {
		got := aimAngle(tc.aim)
		assert.InDelta(t, tc.want, got, 10, "aim=%v", tc.aim)
	}
}

func BenchmarkStep_100Entities(b *testing.B) {
	const size = 64
	tiles := make([]gamemap.TileType, size*size)
	for i := int32(0); i < 32; i++ {
		tiles[10*size+i] = gamemap.TileSpawn
	}
	m, _ := gamemap.FromTiles(size, size, tiles)

	e := NewEngine(m, DefaultParams())
	w := NewWorld(1, m.Hash())
	var ids []uint64
	for i := 0; i < 100; i++ {
		ids = append(ids, e.SpawnCharacter(w))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var inputs []Input
		for j, id := range ids {
			inputs = append(inputs, Input{Owner: id, Tick: w.Tick + 1, MoveX: int8(j%3 - 1)})
		}
		w, _ = e.Step(w, inputs)
	}
}
