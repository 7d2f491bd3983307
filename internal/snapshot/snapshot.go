// Package snapshot кодирует мир в компактную бинарную форму и обратно.
// Кодирование каноническое: один и тот же мир всегда даёт одни и те же
// байты, поэтому равенство снапшотов — это равенство миров.
package snapshot

import (
	"errors"
)

var (
	// ErrCorruptSnapshot — обрезанный или мусорный вход
	ErrCorruptSnapshot = errors.New("snapshot: повреждённые данные")
	// ErrVersionMismatch — снапшот записан несовместимой схемой
	ErrVersionMismatch = errors.New("snapshot: несовместимая версия схемы")
)

// Snapshot — неизменяемое сериализованное состояние мира на одном тике.
// Data содержит полную запись вместе с заголовком и контрольной суммой.
type Snapshot struct {
	Tick uint64
	Data []byte
}

// Size возвращает размер снапшота в байтах
func (s *Snapshot) Size() int { return len(s.Data) }
