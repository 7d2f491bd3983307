package protocol

import (
	"errors"
	"fmt"
)

// SchemaVersion — текущая версия схемы записей.
// Несовпадение мажорной версии при рукопожатии фатально; отдельная
// запись с чужой версией отвергается с ErrVersionMismatch.
const SchemaVersion uint32 = 1

// RecordKind определяет тип записи в канале или демо-файле
type RecordKind uint8

const (
	KindFullSnapshot RecordKind = 1 // Полный снапшот мира
	KindDelta        RecordKind = 2 // Дельта между двумя снапшотами
	KindInputBatch   RecordKind = 3 // Пакет вводов клиента
	KindAck          RecordKind = 4 // Подтверждение принятого тика
	KindFullRequest  RecordKind = 5 // Запрос полного снапшота (потерян базис)
	KindTrailer      RecordKind = 6 // Чистое завершение демо-записи
)

// Флаги записи
const (
	RecordFlagZstd uint8 = 1 << 0 // Payload сжат zstd
)

var (
	// ErrVersionMismatch — запись создана несовместимой версией схемы
	ErrVersionMismatch = errors.New("protocol: несовместимая версия схемы")
	// ErrCorruptRecord — запись обрезана или содержит мусор
	ErrCorruptRecord = errors.New("protocol: повреждённая запись")
)

// Record — единица обмена по сети и на диске:
// [schema_version][tick][kind][base_tick?][flags][payload_len][payload].
// BaseTick присутствует только у дельт и ссылается на базовый снапшот.
type Record struct {
	Tick     uint64
	Kind     RecordKind
	BaseTick uint64 // Только для KindDelta
	Flags    uint8
	Payload  []byte
}

// Encode сериализует запись
func (rec *Record) Encode() []byte {
	buf := make([]byte, 0, 32+len(rec.Payload))
	buf = AppendUint32(buf, SchemaVersion)
	buf = AppendUint64(buf, rec.Tick)
	buf = AppendUint8(buf, uint8(rec.Kind))
	if rec.Kind == KindDelta {
		buf = AppendUint64(buf, rec.BaseTick)
	}
	buf = AppendUint8(buf, rec.Flags)
	buf = AppendUint32(buf, uint32(len(rec.Payload)))
	buf = append(buf, rec.Payload...)
	return buf
}

// DecodeRecord разбирает запись из байт.
// Обрезанный вход — ErrCorruptRecord, чужая схема — ErrVersionMismatch.
func DecodeRecord(data []byte) (*Record, error) {
	r := NewReader(data)

	version := r.Uint32()
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: нет заголовка", ErrCorruptRecord)
	}
	if version != SchemaVersion {
		return nil, fmt.Errorf("%w: получена %d, ожидается %d", ErrVersionMismatch, version, SchemaVersion)
	}

	rec := &Record{}
	rec.Tick = r.Uint64()
	rec.Kind = RecordKind(r.Uint8())
	if rec.Kind == KindDelta {
		rec.BaseTick = r.Uint64()
	}
	rec.Flags = r.Uint8()
	payloadLen := r.Uint32()
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: обрезанный заголовок", ErrCorruptRecord)
	}

	if int(payloadLen) != r.Remaining() {
		return nil, fmt.Errorf("%w: длина payload %d, в буфере %d", ErrCorruptRecord, payloadLen, r.Remaining())
	}
	rec.Payload = r.Bytes(int(payloadLen))
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: обрезанный payload", ErrCorruptRecord)
	}

	switch rec.Kind {
	case KindFullSnapshot, KindDelta, KindInputBatch, KindAck, KindFullRequest, KindTrailer:
	default:
		return nil, fmt.Errorf("%w: неизвестный тип записи %d", ErrCorruptRecord, rec.Kind)
	}

	return rec, nil
}
