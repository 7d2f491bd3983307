package protocol

import (
	"fmt"

	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/vec"
)

// EncodeInputs сериализует пакет вводов для KindInputBatch
func EncodeInputs(inputs []sim.Input) []byte {
	buf := make([]byte, 0, 4+len(inputs)*32)
	buf = AppendUint32(buf, uint32(len(inputs)))
	for _, in := range inputs {
		buf = AppendUint64(buf, in.Owner)
		buf = AppendUint64(buf, in.Tick)
		buf = AppendUint8(buf, uint8(in.MoveX))
		buf = AppendUint8(buf, uint8(in.MoveY))
		buf = AppendUint8(buf, in.Buttons)
		buf = AppendInt32(buf, in.Aim.X)
		buf = AppendInt32(buf, in.Aim.Y)
		buf = AppendUint8(buf, in.Weapon)
	}
	return buf
}

// DecodeInputs разбирает пакет вводов
func DecodeInputs(data []byte) ([]sim.Input, error) {
	r := NewReader(data)
	count := r.Uint32()
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: нет счётчика вводов", ErrCorruptRecord)
	}
	// Верхняя граница: каждый ввод занимает минимум 24 байта
	if int(count) > r.Remaining()/24+1 {
		return nil, fmt.Errorf("%w: счётчик вводов %d не помещается", ErrCorruptRecord, count)
	}

	inputs := make([]sim.Input, 0, count)
	for i := uint32(0); i < count; i++ {
		in := sim.Input{
			Owner:   r.Uint64(),
			Tick:    r.Uint64(),
			MoveX:   int8(r.Uint8()),
			MoveY:   int8(r.Uint8()),
			Buttons: r.Uint8(),
			Aim:     vec.Vec2{X: r.Int32(), Y: r.Int32()},
			Weapon:  r.Uint8(),
		}
		if r.Err() != nil {
			return nil, fmt.Errorf("%w: обрезанный ввод %d", ErrCorruptRecord, i)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
