package snapshot

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/arena-game/internal/protocol"
	"github.com/annel0/arena-game/internal/sim"
)

// Заголовок снапшота:
// [magic u32][version u32][tick u64][flags u8][payload_len u32][checksum u64][payload]
const (
	snapMagic   uint32 = 0x41524E41 // "ARNA"
	snapVersion uint32 = 1

	flagZstd uint8 = 1 << 0
)

// Codec кодирует и декодирует снапшоты. Потокобезопасен:
// zstd энкодер/декодер используются только через EncodeAll/DecodeAll.
type Codec struct {
	useZstd bool
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// NewCodec создает кодек; useZstd включает внешний слой сжатия.
// Сжатие прозрачно для закона decode(encode(w)) == w.
func NewCodec(useZstd bool) (*Codec, error) {
	c := &Codec{useZstd: useZstd}

	var err error
	c.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("snapshot: создание zstd энкодера: %w", err)
	}
	c.dec, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: создание zstd декодера: %w", err)
	}
	return c, nil
}

// Encode сериализует мир в снапшот
func (c *Codec) Encode(w *sim.World) *Snapshot {
	payload := encodeWorldPayload(w)

	flags := uint8(0)
	if c.useZstd {
		payload = c.enc.EncodeAll(payload, make([]byte, 0, len(payload)))
		flags |= flagZstd
	}

	buf := make([]byte, 0, 29+len(payload))
	buf = protocol.AppendUint32(buf, snapMagic)
	buf = protocol.AppendUint32(buf, snapVersion)
	buf = protocol.AppendUint64(buf, w.Tick)
	buf = protocol.AppendUint8(buf, flags)
	buf = protocol.AppendUint32(buf, uint32(len(payload)))
	buf = protocol.AppendUint64(buf, xxhash.Sum64(payload))
	buf = append(buf, payload...)

	return &Snapshot{Tick: w.Tick, Data: buf}
}

// Decode восстанавливает мир из снапшота.
// Никогда не паникует на враждебном входе: обрезка и мусор дают
// ErrCorruptSnapshot, чужая схема — ErrVersionMismatch.
func (c *Codec) Decode(s *Snapshot) (*sim.World, error) {
	r := protocol.NewReader(s.Data)

	magic := r.Uint32()
	version := r.Uint32()
	if r.Err() != nil || magic != snapMagic {
		return nil, fmt.Errorf("%w: неверный заголовок", ErrCorruptSnapshot)
	}
	if version != snapVersion {
		return nil, fmt.Errorf("%w: версия %d, поддерживается %d", ErrVersionMismatch, version, snapVersion)
	}

	tick := r.Uint64()
	flags := r.Uint8()
	payloadLen := r.Uint32()
	checksum := r.Uint64()
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: обрезанный заголовок", ErrCorruptSnapshot)
	}

	payload := r.Bytes(int(payloadLen))
	if r.Err() != nil || r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: длина payload не сходится", ErrCorruptSnapshot)
	}
	if xxhash.Sum64(payload) != checksum {
		return nil, fmt.Errorf("%w: контрольная сумма не сходится", ErrCorruptSnapshot)
	}

	if flags&flagZstd != 0 {
		raw, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptSnapshot, err)
		}
		payload = raw
	}

	w, err := decodeWorldPayload(payload)
	if err != nil {
		return nil, err
	}
	if w.Tick != tick {
		return nil, fmt.Errorf("%w: тик заголовка %d не равен тику мира %d", ErrCorruptSnapshot, tick, w.Tick)
	}
	return w, nil
}

// encodeWorldPayload пишет глобальные скаляры и сущности в порядке ID
func encodeWorldPayload(w *sim.World) []byte {
	buf := make([]byte, 0, 40+len(w.Entities)*64)
	buf = protocol.AppendUint64(buf, w.Tick)
	buf = protocol.AppendUint64(buf, w.Rand)
	buf = protocol.AppendUint64(buf, w.ElapsedMs)
	buf = protocol.AppendUint64(buf, w.NextID)
	buf = protocol.AppendUint64(buf, w.MapHash)
	buf = protocol.AppendUint32(buf, uint32(len(w.Entities)))
	for i := range w.Entities {
		buf = AppendEntity(buf, &w.Entities[i])
	}
	return buf
}

func decodeWorldPayload(payload []byte) (*sim.World, error) {
	r := protocol.NewReader(payload)

	w := &sim.World{}
	w.Tick = r.Uint64()
	w.Rand = r.Uint64()
	w.ElapsedMs = r.Uint64()
	w.NextID = r.Uint64()
	w.MapHash = r.Uint64()
	count := r.Uint32()
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: обрезанные глобальные скаляры", ErrCorruptSnapshot)
	}
	// Каждая сущность занимает минимум 50 байт
	if int(count) > r.Remaining()/50+1 {
		return nil, fmt.Errorf("%w: счётчик сущностей %d не помещается", ErrCorruptSnapshot, count)
	}

	w.Entities = make([]sim.Entity, 0, count)
	var prevID uint64
	for i := uint32(0); i < count; i++ {
		e, err := ReadEntity(r)
		if err != nil {
			return nil, err
		}
		// Порядок по возрастанию ID — инвариант канонической формы
		if i > 0 && e.ID <= prevID {
			return nil, fmt.Errorf("%w: нарушен порядок сущностей", ErrCorruptSnapshot)
		}
		prevID = e.ID
		w.Entities = append(w.Entities, e)
	}

	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: лишние %d байт в payload", ErrCorruptSnapshot, r.Remaining())
	}
	return w, nil
}
