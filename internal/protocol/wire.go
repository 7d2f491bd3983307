// Package protocol определяет бинарный формат записей для сети и диска.
// Все числа кодируются big-endian; схема версионируется, чтобы запись
// старой сборки либо декодировалась, либо явно отвергалась.
package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer возвращается при чтении за пределами буфера.
// Сеть не доверенная: обрезанный или мусорный вход — ошибка, не паника.
var ErrShortBuffer = errors.New("protocol: буфер короче ожидаемого")

// AppendUint8 дописывает uint8
func AppendUint8(b []byte, v uint8) []byte { return append(b, v) }

// AppendUint16 дописывает uint16 в big-endian
func AppendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// AppendUint32 дописывает uint32 в big-endian
func AppendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// AppendUint64 дописывает uint64 в big-endian
func AppendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// AppendInt32 дописывает int32 в big-endian
func AppendInt32(b []byte, v int32) []byte {
	return AppendUint32(b, uint32(v))
}

// Reader последовательно читает big-endian значения из буфера.
// Первая же ошибка запоминается; все последующие чтения возвращают нули.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader создает Reader над буфером
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err возвращает первую ошибку чтения
func (r *Reader) Err() error { return r.err }

// Remaining возвращает количество непрочитанных байт
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrShortBuffer
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

// Uint8 читает uint8
func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 читает uint16
func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// Uint32 читает uint32
func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Uint64 читает uint64
func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Int32 читает int32
func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

// Bytes читает n байт без копирования
func (r *Reader) Bytes(n int) []byte { return r.take(n) }
