package sim

import (
	"github.com/annel0/arena-game/internal/vec"
)

// EventType определяет тип презентационного события
type EventType uint8

const (
	EventInputDropped EventType = iota // Ввод отброшен (битый/устаревший)
	EventFire                         // Выстрел
	EventDamage                       // Попадание по персонажу
	EventDeath                        // Смерть персонажа
	EventExplosion                    // Снаряд взорвался о стену
	EventPickupTaken                  // Пикап подобран
	EventRespawn                      // Персонаж возродился
)

// Event — презентационное событие (звук, эффект, уведомление).
// События не входят в состояние мира: отброшенные предсказания и
// повторные проигрывания не должны протекать в презентацию повторно.
type Event struct {
	Type   EventType
	Tick   uint64
	Entity uint64   // Основная сущность события
	Other  uint64   // Вторая сущность (атакующий, владелец), либо 0
	Pos    vec.Vec2 // Позиция события в мире
	Value  int32    // Числовой параметр (урон, причина отброса)
}

// Причины отброса ввода (поле Value события EventInputDropped)
const (
	DropUnknownEntity int32 = iota + 1 // Сущность не существует
	DropNotCharacter                   // Сущность не персонаж
	DropStaleTick                      // Ввод относится к прошедшему тику
	DropDead                           // Персонаж мёртв
)
