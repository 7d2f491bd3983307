package snapshot

import (
	"fmt"

	"github.com/annel0/arena-game/internal/protocol"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/vec"
)

// Пополевой кодек сущности. Порядок полей фиксирован индексами
// sim.Field*: полный снапшот пишет все поля подряд, дельта — только
// отмеченные в битовой маске, тем же кодом.

// AppendEntity дописывает сущность целиком: ID, вариант и все поля схемы
func AppendEntity(buf []byte, e *sim.Entity) []byte {
	buf = protocol.AppendUint64(buf, e.ID)
	buf = protocol.AppendUint8(buf, uint8(e.Kind))
	for f := 0; f < sim.FieldCount; f++ {
		buf = AppendField(buf, e, f)
	}
	return buf
}

// ReadEntity читает сущность целиком
func ReadEntity(r *protocol.Reader) (sim.Entity, error) {
	var e sim.Entity
	e.ID = r.Uint64()
	e.Kind = sim.EntityKind(r.Uint8())
	for f := 0; f < sim.FieldCount; f++ {
		ReadField(r, &e, f)
	}
	if r.Err() != nil {
		return sim.Entity{}, fmt.Errorf("%w: обрезанная сущность", ErrCorruptSnapshot)
	}
	switch e.Kind {
	case sim.KindCharacter, sim.KindProjectile, sim.KindPickup:
	default:
		return sim.Entity{}, fmt.Errorf("%w: неизвестный вариант сущности %d", ErrCorruptSnapshot, e.Kind)
	}
	return e, nil
}

// AppendField дописывает одно поле схемы по индексу
func AppendField(buf []byte, e *sim.Entity, field int) []byte {
	switch field {
	case sim.FieldPos:
		buf = protocol.AppendInt32(buf, e.Pos.X)
		buf = protocol.AppendInt32(buf, e.Pos.Y)
	case sim.FieldVel:
		buf = protocol.AppendInt32(buf, e.Vel.X)
		buf = protocol.AppendInt32(buf, e.Vel.Y)
	case sim.FieldDir:
		buf = protocol.AppendInt32(buf, e.Dir)
	case sim.FieldHealth:
		buf = protocol.AppendInt32(buf, e.Health)
	case sim.FieldArmor:
		buf = protocol.AppendInt32(buf, e.Armor)
	case sim.FieldWeapon:
		buf = protocol.AppendUint8(buf, e.Weapon)
	case sim.FieldAmmo:
		buf = protocol.AppendInt32(buf, e.Ammo)
	case sim.FieldOwner:
		buf = protocol.AppendUint64(buf, e.Owner)
	case sim.FieldFlags:
		buf = protocol.AppendUint32(buf, e.Flags)
	case sim.FieldSpawnTick:
		buf = protocol.AppendUint64(buf, e.SpawnTick)
	}
	return buf
}

// ReadField читает одно поле схемы по индексу.
// Ошибки накапливаются в Reader и проверяются вызывающим.
func ReadField(r *protocol.Reader, e *sim.Entity, field int) {
	switch field {
	case sim.FieldPos:
		e.Pos = vec.Vec2{X: r.Int32(), Y: r.Int32()}
	case sim.FieldVel:
		e.Vel = vec.Vec2{X: r.Int32(), Y: r.Int32()}
	case sim.FieldDir:
		e.Dir = r.Int32()
	case sim.FieldHealth:
		e.Health = r.Int32()
	case sim.FieldArmor:
		e.Armor = r.Int32()
	case sim.FieldWeapon:
		e.Weapon = r.Uint8()
	case sim.FieldAmmo:
		e.Ammo = r.Int32()
	case sim.FieldOwner:
		e.Owner = r.Uint64()
	case sim.FieldFlags:
		e.Flags = r.Uint32()
	case sim.FieldSpawnTick:
		e.SpawnTick = r.Uint64()
	}
}
