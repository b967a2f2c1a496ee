package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFIFO_PushThenRecvInOrder(t *testing.T) {
	h, closeFn := NewFIFO[int](4)
	defer closeFn()
	h.Closure(1)
	h.Closure(2)
	v, err := h.Receiver.Recv()
	require.NoError(t, err)
	require.Equal(t, 1, v)
	v, err = h.Receiver.Recv()
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestFIFO_CloseDrainsThenDisconnects(t *testing.T) {
	h, closeFn := NewFIFO[int](4)
	h.Closure(1)
	closeFn()
	v, err := h.Receiver.Recv()
	require.NoError(t, err)
	require.Equal(t, 1, v)
	_, err = h.Receiver.Recv()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestFIFO_PushBlocksWhenFull(t *testing.T) {
	h, closeFn := NewFIFO[int](1)
	defer closeFn()
	h.Closure(1)
	done := make(chan struct{})
	go func() {
		h.Closure(2)
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("push should have blocked while full")
	case <-time.After(50 * time.Millisecond):
	}
	v, err := h.Receiver.Recv()
	require.NoError(t, err)
	require.Equal(t, 1, v)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after a pop freed capacity")
	}
}

func TestRing_DropsOldestOnOverflow(t *testing.T) {
	h, closeFn := NewRing[int](2)
	defer closeFn()
	h.Closure(1)
	h.Closure(2)
	h.Closure(3)
	v, _, ok := h.Receiver.TryRecv()
	require.True(t, ok)
	require.Equal(t, 2, v)
	v, _, ok = h.Receiver.TryRecv()
	require.True(t, ok)
	require.Equal(t, 3, v)
	_, _, ok = h.Receiver.TryRecv()
	require.False(t, ok)
}

func TestRing_TryRecvReportsDisconnectedAfterClose(t *testing.T) {
	h, closeFn := NewRing[int](2)
	closeFn()
	_, err, ok := h.Receiver.TryRecv()
	require.True(t, ok)
	require.ErrorIs(t, err, ErrDisconnected)
}
