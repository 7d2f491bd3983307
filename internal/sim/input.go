package sim

import (
	"github.com/annel0/arena-game/internal/vec"
)

// Кнопки ввода (битовые флаги поля Buttons)
const (
	ButtonFire uint8 = 1 << 0
)

// Input — команда владельца сущности на один тик.
// Создаётся игроком либо читается из демо; для симуляции read-only.
type Input struct {
	Owner uint64 // ID сущности-персонажа
	Tick  uint64 // Тик, к которому относится ввод

	MoveX   int8 // Направление движения: -1, 0, +1
	MoveY   int8
	Buttons uint8    // Битовая маска кнопок (ButtonFire)
	Aim     vec.Vec2 // Вектор прицела относительно персонажа
	Weapon  uint8    // Запрошенное оружие (0 — без смены)
}

// Fired проверяет кнопку выстрела
func (in Input) Fired() bool { return in.Buttons&ButtonFire != 0 }
