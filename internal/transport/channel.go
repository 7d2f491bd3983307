// Package transport предоставляет абстракцию канала доставки сообщений.
// Ядро синхронизации считает доставку best-effort: дубликаты и
// нарушение порядка фильтруются на уровне дельт по номерам тиков.
package transport

import (
	"context"
	"errors"
	"time"
)

// Flags определяет требования к доставке
type Flags uint8

const (
	// FlagReliable гарантирует доставку (полные снапшоты, управление)
	FlagReliable Flags = 1 << iota
	// FlagUnreliable — без гарантий (потиковые дельты)
	FlagUnreliable
)

// ErrClosed возвращается операциями над закрытым каналом
var ErrClosed = errors.New("transport: канал закрыт")

// Stats — статистика соединения
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	LastActivity    time.Time
}

// Channel — логический канал обмена байтовыми сообщениями.
// Send не блокируется на сетевом I/O дольше контекста;
// Receive возвращает следующее входящее сообщение.
type Channel interface {
	Send(ctx context.Context, payload []byte, flags Flags) error
	Receive(ctx context.Context) ([]byte, error)
	Stats() Stats
	Close() error
}
