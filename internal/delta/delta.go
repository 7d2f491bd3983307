// Package delta вычисляет и применяет минимальные структурные патчи
// между двумя мирами. Неизменённые сущности не занимают ни байта,
// изменённые кодируют только изменённые поля по битовой маске,
// удаления — явные tombstone, новые сущности — полные вставки.
package delta

import (
	"errors"
	"fmt"

	"github.com/annel0/arena-game/internal/protocol"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
)

var (
	// ErrBaseMismatch — базовый тик дельты не совпадает с переданным базисом.
	// Вызывающий обязан запросить полный снапшот, а не чинить вслепую.
	ErrBaseMismatch = errors.New("delta: базовый тик не совпадает")
	// ErrCorruptDelta — дельта обрезана или содержит мусор
	ErrCorruptDelta = errors.New("delta: повреждённые данные")
)

// Коды операций
const (
	opInsert uint8 = 1 // Полная вставка новой сущности
	opUpdate uint8 = 2 // Изменённые поля по маске
	opRemove uint8 = 3 // Tombstone
)

// Delta — неизменяемый патч от мира на тике BaseTick к миру на TargetTick.
// Без своего базиса дельта бессмысленна.
type Delta struct {
	BaseTick   uint64
	TargetTick uint64
	Data       []byte // Операции + глобальные скаляры
}

// Size возвращает размер закодированной дельты
func (d *Delta) Size() int { return len(d.Data) }

// Compute строит дельту между двумя мирами (base.Tick < target.Tick).
// Сущность, сменившая вариант при переиспользовании ID, кодируется
// как remove+insert, никогда как update.
func Compute(base, target *sim.World) *Delta {
	buf := make([]byte, 0, 64)
	buf = protocol.AppendUint64(buf, target.Rand)
	buf = protocol.AppendUint64(buf, target.ElapsedMs)
	buf = protocol.AppendUint64(buf, target.NextID)
	buf = protocol.AppendUint64(buf, target.MapHash)

	var ops []byte
	var count uint32

	bi, ti := 0, 0
	for bi < len(base.Entities) || ti < len(target.Entities) {
		switch {
		case ti >= len(target.Entities) || (bi < len(base.Entities) && base.Entities[bi].ID < target.Entities[ti].ID):
			// Есть в базе, нет в цели — tombstone
			ops = protocol.AppendUint8(ops, opRemove)
			ops = protocol.AppendUint64(ops, base.Entities[bi].ID)
			count++
			bi++

		case bi >= len(base.Entities) || base.Entities[bi].ID > target.Entities[ti].ID:
			// Новая сущность — полная вставка
			ops = protocol.AppendUint8(ops, opInsert)
			ops = snapshot.AppendEntity(ops, &target.Entities[ti])
			count++
			ti++

		default:
			// ID совпадает
			be, te := &base.Entities[bi], &target.Entities[ti]
			if be.Kind != te.Kind {
				// Переиспользование ID другим вариантом: remove+insert
				ops = protocol.AppendUint8(ops, opRemove)
				ops = protocol.AppendUint64(ops, be.ID)
				ops = protocol.AppendUint8(ops, opInsert)
				ops = snapshot.AppendEntity(ops, te)
				count += 2
			} else if mask := sim.DiffMask(*be, *te); mask != 0 {
				ops = protocol.AppendUint8(ops, opUpdate)
				ops = protocol.AppendUint64(ops, te.ID)
				ops = protocol.AppendUint16(ops, uint16(mask))
				for f := 0; f < sim.FieldCount; f++ {
					if mask.Has(f) {
						ops = snapshot.AppendField(ops, te, f)
					}
				}
				count++
			}
			// Маска 0 — сущность не изменилась и не кодируется вовсе
			bi++
			ti++
		}
	}

	buf = protocol.AppendUint32(buf, count)
	buf = append(buf, ops...)

	return &Delta{
		BaseTick:   base.Tick,
		TargetTick: target.Tick,
		Data:       buf,
	}
}

// Apply восстанавливает целевой мир из базиса и дельты:
// Apply(a, Compute(a, b)) == b. Базис не изменяется.
func Apply(base *sim.World, d *Delta) (*sim.World, error) {
	if base.Tick != d.BaseTick {
		return nil, fmt.Errorf("%w: дельта от тика %d, базис на тике %d", ErrBaseMismatch, d.BaseTick, base.Tick)
	}

	r := protocol.NewReader(d.Data)
	out := &sim.World{
		Tick:      d.TargetTick,
		Rand:      r.Uint64(),
		ElapsedMs: r.Uint64(),
		NextID:    r.Uint64(),
		MapHash:   r.Uint64(),
	}
	count := r.Uint32()
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: обрезанные глобальные скаляры", ErrCorruptDelta)
	}

	out.Entities = make([]sim.Entity, 0, len(base.Entities))
	bi := 0

	for i := uint32(0); i < count; i++ {
		op := r.Uint8()
		if r.Err() != nil {
			return nil, fmt.Errorf("%w: обрезанная операция %d", ErrCorruptDelta, i)
		}

		switch op {
		case opRemove:
			id := r.Uint64()
			if r.Err() != nil {
				return nil, fmt.Errorf("%w: обрезанный tombstone", ErrCorruptDelta)
			}
			bi = copyBaseBelow(out, base, bi, id)
			if bi >= len(base.Entities) || base.Entities[bi].ID != id {
				return nil, fmt.Errorf("%w: tombstone для отсутствующей сущности %d", ErrCorruptDelta, id)
			}
			bi++ // Пропускаем удалённую

		case opInsert:
			e, err := snapshot.ReadEntity(r)
			if err != nil {
				return nil, fmt.Errorf("%w: вставка: %v", ErrCorruptDelta, err)
			}
			bi = copyBaseBelow(out, base, bi, e.ID)
			if bi < len(base.Entities) && base.Entities[bi].ID == e.ID {
				return nil, fmt.Errorf("%w: вставка поверх живой сущности %d", ErrCorruptDelta, e.ID)
			}
			out.Entities = append(out.Entities, e)

		case opUpdate:
			id := r.Uint64()
			mask := sim.FieldMask(r.Uint16())
			if r.Err() != nil {
				return nil, fmt.Errorf("%w: обрезанный update", ErrCorruptDelta)
			}
			bi = copyBaseBelow(out, base, bi, id)
			if bi >= len(base.Entities) || base.Entities[bi].ID != id {
				return nil, fmt.Errorf("%w: update отсутствующей сущности %d", ErrCorruptDelta, id)
			}
			e := base.Entities[bi]
			for f := 0; f < sim.FieldCount; f++ {
				if mask.Has(f) {
					snapshot.ReadField(r, &e, f)
				}
			}
			if r.Err() != nil {
				return nil, fmt.Errorf("%w: обрезанные поля update", ErrCorruptDelta)
			}
			out.Entities = append(out.Entities, e)
			bi++

		default:
			return nil, fmt.Errorf("%w: неизвестная операция %d", ErrCorruptDelta, op)
		}
	}

	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: лишние %d байт", ErrCorruptDelta, r.Remaining())
	}

	// Хвост базиса без изменений
	out.Entities = append(out.Entities, base.Entities[bi:]...)

	return out, nil
}

// copyBaseBelow переносит неизменённые сущности базиса с ID < id
func copyBaseBelow(out, base *sim.World, bi int, id uint64) int {
	for bi < len(base.Entities) && base.Entities[bi].ID < id {
		out.Entities = append(out.Entities, base.Entities[bi])
		bi++
	}
	return bi
}
