package sim

import (
	"github.com/annel0/arena-game/internal/vec"
)

// EntityKind определяет тип сущности.
// Набор закрыт: кодек снапшотов и дельта-движок перечисляют все
// варианты исчерпывающе, динамических типов нет.
type EntityKind uint8

const (
	KindUnknown    EntityKind = 0
	KindCharacter  EntityKind = 1 // Персонаж, управляемый владельцем
	KindProjectile EntityKind = 2 // Снаряд
	KindPickup     EntityKind = 3 // Подбираемый бонус
)

// String возвращает строковое представление типа сущности
func (k EntityKind) String() string {
	switch k {
	case KindCharacter:
		return "character"
	case KindProjectile:
		return "projectile"
	case KindPickup:
		return "pickup"
	default:
		return "unknown"
	}
}

// PickupKind значения поля Weapon для сущностей KindPickup
const (
	PickupHealth uint8 = 0
	PickupArmor  uint8 = 1
	PickupAmmo   uint8 = 2
)

// Флаги состояния сущности (поле Flags)
const (
	FlagDead   uint32 = 1 << 0 // Персонаж мёртв, ждёт возрождения
	FlagActive uint32 = 1 << 1 // Пикап активен
)

// Индексы полей сущности. Общая тотальная схема для всех вариантов:
// дельта-движок кодирует изменения битовой маской по этим индексам,
// кодек снапшотов пишет поля в этом же порядке.
const (
	FieldPos = iota
	FieldVel
	FieldDir
	FieldHealth
	FieldArmor
	FieldWeapon
	FieldAmmo
	FieldOwner
	FieldFlags
	FieldSpawnTick

	FieldCount
)

// Entity — одна сущность мира. Значимый тип: копирование мира
// копирует сущности целиком, никаких разделяемых указателей.
type Entity struct {
	ID   uint64
	Kind EntityKind

	Pos       vec.Vec2
	Vel       vec.Vec2
	Dir       int32  // Направление взгляда/полёта (милли-радианы)
	Health    int32  // Здоровье (персонажи)
	Armor     int32  // Броня (персонажи)
	Weapon    uint8  // Активное оружие; для пикапов — вид бонуса
	Ammo      int32  // Боезапас
	Owner     uint64 // ID владельца (снаряды) либо 0
	Flags     uint32 // Битовые флаги состояния
	SpawnTick uint64 // Тик появления (снаряды) или тик возрождения (мёртвые/пикапы)
}

// Equal сравнивает сущности по всем полям схемы
func (e Entity) Equal(other Entity) bool {
	return e == other
}

// IsDead проверяет флаг смерти
func (e Entity) IsDead() bool { return e.Flags&FlagDead != 0 }

// IsActive проверяет флаг активности пикапа
func (e Entity) IsActive() bool { return e.Flags&FlagActive != 0 }

// FieldMask битовая маска изменённых полей сущности
type FieldMask uint16

// Has проверяет, установлен ли бит поля
func (m FieldMask) Has(field int) bool { return m&(1<<uint(field)) != 0 }

// Set устанавливает бит поля
func (m *FieldMask) Set(field int) { *m |= 1 << uint(field) }

// DiffMask возвращает маску полей, различающихся между двумя сущностями.
// Kind в маску не входит: смена варианта кодируется как remove+insert.
func DiffMask(a, b Entity) FieldMask {
	var m FieldMask
	if a.Pos != b.Pos {
		m.Set(FieldPos)
	}
	if a.Vel != b.Vel {
		m.Set(FieldVel)
	}
	if a.Dir != b.Dir {
		m.Set(FieldDir)
	}
	if a.Health != b.Health {
		m.Set(FieldHealth)
	}
	if a.Armor != b.Armor {
		m.Set(FieldArmor)
	}
	if a.Weapon != b.Weapon {
		m.Set(FieldWeapon)
	}
	if a.Ammo != b.Ammo {
		m.Set(FieldAmmo)
	}
	if a.Owner != b.Owner {
		m.Set(FieldOwner)
	}
	if a.Flags != b.Flags {
		m.Set(FieldFlags)
	}
	if a.SpawnTick != b.SpawnTick {
		m.Set(FieldSpawnTick)
	}
	return m
}
