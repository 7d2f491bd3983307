package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-game/internal/vec"
)

func TestWorld_SpawnMonotonicIDs(t *testing.T) {
	w := NewWorld(1, 0)

	a := w.Spawn(Entity{Kind: KindCharacter})
	b := w.Spawn(Entity{Kind: KindProjectile})
	c := w.Spawn(Entity{Kind: KindPickup})

	assert.Less(t, a, b)
	assert.Less(t, b, c)

	// ID не переиспользуются после удаления
	require.True(t, w.Remove(b))
	d := w.Spawn(Entity{Kind: KindProjectile})
	assert.Greater(t, d, c)
}

func TestWorld_FindGetRemove(t *testing.T) {
	w := NewWorld(1, 0)
	a := w.Spawn(Entity{Kind: KindCharacter, Health: 100})
	b := w.Spawn(Entity{Kind: KindPickup})

	got, ok := w.Get(a)
	require.True(t, ok)
	assert.Equal(t, int32(100), got.Health)

	_, ok = w.Get(999)
	assert.False(t, ok)

	assert.True(t, w.Remove(a))
	assert.False(t, w.Remove(a), "повторное удаление должно вернуть false")

	_, ok = w.Get(a)
	assert.False(t, ok)
	_, ok = w.Get(b)
	assert.True(t, ok)
}

func TestWorld_InsertKeepsOrder(t *testing.T) {
	w := NewWorld(1, 0)
	w.Insert(Entity{ID: 30, Kind: KindPickup})
	w.Insert(Entity{ID: 10, Kind: KindCharacter})
	w.Insert(Entity{ID: 20, Kind: KindProjectile})

	var ids []uint64
	for _, e := range w.Entities {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []uint64{10, 20, 30}, ids)

	// Вставка существующего ID заменяет сущность
	w.Insert(Entity{ID: 20, Kind: KindPickup})
	assert.Len(t, w.Entities, 3)
	got, _ := w.Get(20)
	assert.Equal(t, KindPickup, got.Kind)
}

func TestWorld_CloneIndependent(t *testing.T) {
	w := NewWorld(1, 0)
	id := w.Spawn(Entity{Kind: KindCharacter, Health: 100})

	c := w.Clone()
	require.True(t, w.Equal(c))

	// Мутация копии не трогает оригинал
	idx := c.Find(id)
	c.Entities[idx].Health = 1
	c.Tick = 50

	got, _ := w.Get(id)
	assert.Equal(t, int32(100), got.Health)
	assert.Equal(t, uint64(0), w.Tick)
	assert.False(t, w.Equal(c))
}

func TestWorld_RandDeterministic(t *testing.T) {
	a := NewWorld(42, 0)
	b := NewWorld(42, 0)

	for i := 0; i < 100; i++ {
		assert.Equal(t, a.RandIntn(1000), b.RandIntn(1000))
	}
	assert.Equal(t, a.Rand, b.Rand)

	// Другой сид даёт другую последовательность
	c := NewWorld(43, 0)
	same := true
	for i := 0; i < 10; i++ {
		if a.RandIntn(1 << 30) != c.RandIntn(1 << 30) {
			same = false
		}
	}
	assert.False(t, same)
}

func TestWorld_ZeroSeedFallback(t *testing.T) {
	// Нулевое состояние xorshift вырождается, конструктор его подменяет
	w := NewWorld(0, 0)
	assert.NotZero(t, w.Rand)
	assert.NotZero(t, w.RandIntn(1<<30))
}

func TestDiffMask(t *testing.T) {
	a := Entity{ID: 1, Kind: KindCharacter, Pos: vec.Vec2{X: 10}, Health: 100}
	b := a

	assert.Zero(t, DiffMask(a, b), "одинаковые сущности дают пустую маску")

	b.Pos.X = 20
	b.Health = 80
	m := DiffMask(a, b)
	assert.True(t, m.Has(FieldPos))
	assert.True(t, m.Has(FieldHealth))
	assert.False(t, m.Has(FieldVel))
	assert.False(t, m.Has(FieldArmor))
}

func TestEntityKind_String(t *testing.T) {
	assert.Equal(t, "character", KindCharacter.String())
	assert.Equal(t, "projectile", KindProjectile.String())
	assert.Equal(t, "pickup", KindPickup.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
