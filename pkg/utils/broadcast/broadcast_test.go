package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/nexttogo-service-go/log"
)

func newServer(t *testing.T, opts ...Option[int]) (chan<- int, BroadcastServer[int]) {
	t.Helper()
	src := make(chan int)
	opts = append(opts, WithLogger[int](log.NewNop()))
	return src, NewBroadcastServer("test", src, opts...)
}

func recv(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("nothing received")
	}
	return 0
}

func TestBroadcast_AllSubscribersReceive(t *testing.T) {
	src, b := newServer(t)
	defer b.Close()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	src <- 1
	src <- 2
	assert.Equal(t, 1, recv(t, s1))
	assert.Equal(t, 2, recv(t, s1))
	assert.Equal(t, 1, recv(t, s2))
	assert.Equal(t, 2, recv(t, s2))
}

func TestBroadcast_NoReplay(t *testing.T) {
	src, b := newServer(t)
	defer b.Close()

	early := b.Subscribe()
	src <- 1
	assert.Equal(t, 1, recv(t, early))

	late := b.Subscribe()
	src <- 2
	assert.Equal(t, 2, recv(t, late))
	assert.Equal(t, 2, recv(t, early))
}

func TestBroadcast_CancelSubscription(t *testing.T) {
	src, b := newServer(t)
	defer b.Close()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	b.CancelSubscription(s1)
	_, ok := <-s1
	assert.False(t, ok)

	src <- 3
	assert.Equal(t, 3, recv(t, s2))
}

func TestBroadcast_SlowListenerIsSkipped(t *testing.T) {
	src, b := newServer(t, WithBufferSize[int](0), WithSendTimeout[int](time.Millisecond))
	defer b.Close()

	slow := b.Subscribe()
	src <- 1
	time.Sleep(20 * time.Millisecond)
	select {
	case v := <-slow:
		t.Errorf("unexpected value %d", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBroadcast_Close(t *testing.T) {
	_, b := newServer(t)
	s := b.Subscribe()
	b.Close()
	_, ok := <-s
	assert.False(t, ok)

	after := b.Subscribe()
	_, ok = <-after
	assert.False(t, ok)
	b.CancelSubscription(after)
}
