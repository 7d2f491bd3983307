package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/arena-game/internal/logging"
)

// Максимальный размер датаграммы (безопасно ниже типичного MTU-лимита фрагментации)
const maxUDPDatagram = 64 << 10

// UDPChannel — ненадёжный датаграммный канал для потиковых дельт.
// Потери, дубликаты и перестановки не скрываются: их фильтрует
// уровень синхронизации по номерам тиков.
type UDPChannel struct {
	conn   net.Conn
	logger *logging.Logger

	recvBuffer chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool

	statsMu sync.Mutex
	stats   Stats
}

// DialUDP подключает канал к удалённому адресу
func DialUDP(addr string, bufferSize int) (*UDPChannel, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: udp dial %s: %w", addr, err)
	}
	return NewUDPChannel(conn, bufferSize), nil
}

// NewUDPChannel оборачивает готовое соединение
func NewUDPChannel(conn net.Conn, bufferSize int) *UDPChannel {
	if bufferSize < 1 {
		bufferSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := &UDPChannel{
		conn:       conn,
		logger:     logging.GetComponentLogger("transport"),
		recvBuffer: make(chan []byte, bufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	ch.wg.Add(1)
	go ch.readLoop()
	return ch
}

func (ch *UDPChannel) readLoop() {
	defer ch.wg.Done()
	defer close(ch.recvBuffer)

	buf := make([]byte, maxUDPDatagram)
	for {
		n, err := ch.conn.Read(buf)
		if err != nil {
			if !ch.closed.Load() {
				ch.logger.Debug("udp: чтение завершено: %v", err)
			}
			return
		}

		msg := append([]byte(nil), buf[:n]...)

		ch.statsMu.Lock()
		ch.stats.PacketsReceived++
		ch.stats.BytesReceived += uint64(n)
		ch.stats.LastActivity = time.Now()
		ch.statsMu.Unlock()

		select {
		case ch.recvBuffer <- msg:
		case <-ch.ctx.Done():
			return
		default:
			// Буфер полон — датаграмма отбрасывается, канал и так ненадёжен
		}
	}
}

// Send отправляет датаграмму без гарантий доставки
func (ch *UDPChannel) Send(ctx context.Context, payload []byte, flags Flags) error {
	if ch.closed.Load() {
		return ErrClosed
	}
	if len(payload) > maxUDPDatagram {
		return fmt.Errorf("transport: датаграмма %d байт превышает лимит %d", len(payload), maxUDPDatagram)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ch.conn.SetWriteDeadline(deadline)
		defer ch.conn.SetWriteDeadline(time.Time{})
	}

	if _, err := ch.conn.Write(payload); err != nil {
		return fmt.Errorf("transport: udp write: %w", err)
	}

	ch.statsMu.Lock()
	ch.stats.PacketsSent++
	ch.stats.BytesSent += uint64(len(payload))
	ch.stats.LastActivity = time.Now()
	ch.statsMu.Unlock()
	return nil
}

// Receive возвращает следующую датаграмму
func (ch *UDPChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-ch.recvBuffer:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ch.ctx.Done():
		return nil, ErrClosed
	}
}

// Stats возвращает статистику канала
func (ch *UDPChannel) Stats() Stats {
	ch.statsMu.Lock()
	defer ch.statsMu.Unlock()
	return ch.stats
}

// Close закрывает канал
func (ch *UDPChannel) Close() error {
	if ch.closed.Swap(true) {
		return nil
	}
	ch.cancel()
	err := ch.conn.Close()
	ch.wg.Wait()
	return err
}
