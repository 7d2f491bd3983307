package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPair_ReliableDelivery(t *testing.T) {
	a, b := NewMemoryPair(16)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, []byte("hello"), FlagReliable))
	require.NoError(t, a.Send(ctx, []byte("world"), FlagReliable))

	msg, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg)

	msg, err = b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), msg)

	// Обратное направление
	require.NoError(t, b.Send(ctx, []byte("ack"), FlagReliable))
	msg, err = a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ack"), msg)
}

func TestMemoryPair_PayloadCopied(t *testing.T) {
	a, b := NewMemoryPair(4)
	defer a.Close()

	ctx := context.Background()
	buf := []byte("mutable")
	require.NoError(t, a.Send(ctx, buf, FlagReliable))
	buf[0] = 'X'

	msg, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("mutable"), msg, "отправитель не должен влиять на доставленное")
}

func TestMemoryPair_UnreliableLoss(t *testing.T) {
	a, b := NewMemoryPair(256)
	defer a.Close()
	a.SetLoss(0.5, 0, 42)

	ctx := context.Background()
	const sent = 200
	for i := 0; i < sent; i++ {
		require.NoError(t, a.Send(ctx, []byte{byte(i)}, FlagUnreliable))
	}

	received := 0
	for {
		rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		_, err := b.Receive(rctx)
		cancel()
		if err != nil {
			break
		}
		received++
	}

	// При 50% потерь хоть что-то теряется и хоть что-то доходит
	assert.Greater(t, received, 0)
	assert.Less(t, received, sent)
}

func TestMemoryPair_ReliableNeverLost(t *testing.T) {
	a, b := NewMemoryPair(256)
	defer a.Close()
	a.SetLoss(0.9, 0.05, 7)

	ctx := context.Background()
	const sent = 100
	for i := 0; i < sent; i++ {
		require.NoError(t, a.Send(ctx, []byte{byte(i)}, FlagReliable))
	}

	// Настройки потерь не касаются надёжного трафика: порядок и
	// полнота сохранены
	for i := 0; i < sent; i++ {
		msg, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(i), msg[0])
	}
}

func TestMemoryPair_CloseUnblocks(t *testing.T) {
	a, b := NewMemoryPair(4)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive не разблокировался после Close")
	}

	assert.ErrorIs(t, a.Send(context.Background(), []byte("x"), FlagReliable), ErrClosed)
}

func TestMemoryPair_ContextCancel(t *testing.T) {
	a, _ := NewMemoryPair(4)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryPair_Stats(t *testing.T) {
	a, b := NewMemoryPair(4)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, []byte("12345"), FlagReliable))
	_, err := b.Receive(ctx)
	require.NoError(t, err)

	sent := a.Stats()
	assert.Equal(t, uint64(1), sent.PacketsSent)
	assert.Equal(t, uint64(5), sent.BytesSent)

	recv := b.Stats()
	assert.Equal(t, uint64(1), recv.PacketsReceived)
	assert.Equal(t, uint64(5), recv.BytesReceived)
	assert.False(t, recv.LastActivity.IsZero())
}
