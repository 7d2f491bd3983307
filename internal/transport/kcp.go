package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/arena-game/internal/logging"
)

// Максимальный размер одного сообщения в KCP-потоке
const maxKCPMessage = 4 << 20

// KCPChannel — надёжный упорядоченный канал поверх KCP (ARQ над UDP).
// Сообщения в потоке разделяются length-prefix кадрами.
type KCPChannel struct {
	sess   *kcp.UDPSession
	logger *logging.Logger

	recvBuffer chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool

	statsMu sync.Mutex
	stats   Stats

	writeMu sync.Mutex
}

// KCPListener принимает входящие KCP-сессии
type KCPListener struct {
	ln         *kcp.Listener
	bufferSize int
}

// ListenKCP открывает серверный KCP-сокет
func ListenKCP(addr string, bufferSize int) (*KCPListener, error) {
	ln, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: kcp listen %s: %w", addr, err)
	}
	return &KCPListener{ln: ln, bufferSize: bufferSize}, nil
}

// Accept блокируется до следующей входящей сессии
func (l *KCPListener) Accept() (*KCPChannel, error) {
	sess, err := l.ln.AcceptKCP()
	if err != nil {
		return nil, fmt.Errorf("transport: kcp accept: %w", err)
	}
	return newKCPChannel(sess, l.bufferSize), nil
}

// Addr возвращает адрес прослушивания
func (l *KCPListener) Addr() net.Addr { return l.ln.Addr() }

// Close прекращает приём новых сессий
func (l *KCPListener) Close() error { return l.ln.Close() }

// DialKCP подключается к серверу и запускает чтение
func DialKCP(addr string, bufferSize int) (*KCPChannel, error) {
	sess, err := kcp.DialWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: kcp dial %s: %w", addr, err)
	}
	return newKCPChannel(sess, bufferSize), nil
}

// NewKCPChannel оборачивает принятую серверную сессию
func NewKCPChannel(sess *kcp.UDPSession, bufferSize int) *KCPChannel {
	return newKCPChannel(sess, bufferSize)
}

func newKCPChannel(sess *kcp.UDPSession, bufferSize int) *KCPChannel {
	if bufferSize < 1 {
		bufferSize = 256
	}

	// Настройки против задержек: no-delay режим, маленький интервал
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetStreamMode(true)

	ctx, cancel := context.WithCancel(context.Background())
	ch := &KCPChannel{
		sess:       sess,
		logger:     logging.GetComponentLogger("transport"),
		recvBuffer: make(chan []byte, bufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	ch.wg.Add(1)
	go ch.readLoop()
	return ch
}

// readLoop читает length-prefix кадры из сессии
func (ch *KCPChannel) readLoop() {
	defer ch.wg.Done()
	defer close(ch.recvBuffer)

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(ch.sess, header); err != nil {
			if !ch.closed.Load() {
				ch.logger.Debug("kcp: чтение завершено: %v", err)
			}
			return
		}

		size := binary.BigEndian.Uint32(header)
		if size > maxKCPMessage {
			ch.logger.Error("kcp: кадр %d байт превышает лимит, соединение разорвано", size)
			return
		}

		msg := make([]byte, size)
		if _, err := io.ReadFull(ch.sess, msg); err != nil {
			return
		}

		ch.statsMu.Lock()
		ch.stats.PacketsReceived++
		ch.stats.BytesReceived += uint64(len(msg)) + 4
		ch.stats.LastActivity = time.Now()
		ch.statsMu.Unlock()

		select {
		case ch.recvBuffer <- msg:
		case <-ch.ctx.Done():
			return
		}
	}
}

// Send отправляет сообщение. KCP всегда надёжен: флаги доставки
// здесь не различаются, ненадёжный трафик идёт через UDPChannel.
func (ch *KCPChannel) Send(ctx context.Context, payload []byte, flags Flags) error {
	if ch.closed.Load() {
		return ErrClosed
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	if deadline, ok := ctx.Deadline(); ok {
		_ = ch.sess.SetWriteDeadline(deadline)
		defer ch.sess.SetWriteDeadline(time.Time{})
	}

	ch.writeMu.Lock()
	_, err := ch.sess.Write(frame)
	ch.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("transport: kcp write: %w", err)
	}

	ch.statsMu.Lock()
	ch.stats.PacketsSent++
	ch.stats.BytesSent += uint64(len(frame))
	ch.stats.LastActivity = time.Now()
	ch.statsMu.Unlock()
	return nil
}

// Receive возвращает следующее входящее сообщение
func (ch *KCPChannel) Receive(ctx context.Context) ([]byte, error) {
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

// Stats возвращает статистику соединения
func (ch *KCPChannel) Stats() Stats {
	ch.statsMu.Lock()
	defer ch.statsMu.Unlock()
	return ch.stats
}

// Close разрывает соединение
func (ch *KCPChannel) Close() error {
	if ch.closed.Swap(true) {
		return nil
	}
	ch.cancel()
	err := ch.sess.Close()
	ch.wg.Wait()
	return err
}
