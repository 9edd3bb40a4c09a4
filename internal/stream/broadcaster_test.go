package stream

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster[[]int16](150, DropMessage)
	if b == nil {
		t.Fatal("NewBroadcaster returned nil")
	}
	if b.ListenerCount() != 0 {
		t.Errorf("Initial ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster[int](4, DropMessage)

	l1 := b.Subscribe()
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 subscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	l2 := b.Subscribe()
	if b.ListenerCount() != 2 {
		t.Errorf("After 2 subscribes: ListenerCount = %d, want 2", b.ListenerCount())
	}
	if l1.ID == "" || l1.ID == l2.ID {
		t.Errorf("listener IDs %q and %q are not unique", l1.ID, l2.ID)
	}

	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 unsubscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	b.Unsubscribe(l2)
	b.Unsubscribe(l2)
	if b.ListenerCount() != 0 {
		t.Errorf("After all unsubscribed: ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestBroadcastDelivers(t *testing.T) {
	b := NewBroadcaster[[]int16](150, DropMessage)
	l := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 10)

	go b.Run(ctx, source)

	frame := []int16{100, 200, 300, 400}
	source <- frame

	select {
	case got := <-l.C:
		if len(got) != len(frame) {
			t.Errorf("Received frame length %d, want %d", len(got), len(frame))
		}
		for i, v := range got {
			if v != frame[i] {
				t.Errorf("Frame[%d] = %d, want %d", i, v, frame[i])
			}
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for frame")
	}

	b.Unsubscribe(l)
}

func TestBroadcastMultipleListeners(t *testing.T) {
	b := NewBroadcaster[[]int16](150, DropMessage)
	listeners := make([]*Listener[[]int16], 5)
	for i := range listeners {
		listeners[i] = b.Subscribe()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 10)

	go b.Run(ctx, source)

	source <- []int16{42, -42}

	for i, l := range listeners {
		select {
		case got := <-l.C:
			if got[0] != 42 {
				t.Errorf("Listener %d got frame[0]=%d, want 42", i, got[0])
			}
		case <-time.After(time.Second):
			t.Errorf("Listener %d timed out", i)
		}
	}

	for _, l := range listeners {
		b.Unsubscribe(l)
	}
}

func TestDropMessageKeepsSlowListener(t *testing.T) {
	b := NewBroadcaster[int](150, DropMessage)
	slow := b.Subscribe()

	for i := 0; i < 200; i++ {
		if dropped := b.Publish(i); dropped != 0 {
			t.Fatalf("Publish(%d) dropped %d listeners", i, dropped)
		}
	}

	if got := len(slow.C); got != 150 {
		t.Errorf("slow listener buffered %d values, want 150", got)
	}
	if b.ListenerCount() != 1 {
		t.Errorf("ListenerCount = %d, want 1", b.ListenerCount())
	}
	if first := <-slow.C; first != 0 {
		t.Errorf("first value = %d, want 0", first)
	}
}

func TestDropListenerRemovesSlowListener(t *testing.T) {
	b := NewBroadcaster[int](2, DropListener)
	slow := b.Subscribe()
	fast := b.Subscribe()

	dropped := 0
	for i := 0; i < 3; i++ {
		dropped += b.Publish(i)
		<-fast.C
	}

	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if b.ListenerCount() != 1 {
		t.Errorf("ListenerCount = %d, want 1", b.ListenerCount())
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow listener not marked done")
	}
	n := 0
	for range slow.C {
		n++
	}
	if n != 2 {
		t.Errorf("slow listener drained %d values, want 2", n)
	}
}

func TestSubscribeInitialValues(t *testing.T) {
	b := NewBroadcaster[string](1, DropListener)
	l := b.Subscribe("a", "b")
	if got := <-l.C; got != "a" {
		t.Errorf("first = %q", got)
	}
	if got := <-l.C; got != "b" {
		t.Errorf("second = %q", got)
	}
}

func TestBroadcastStopsOnContextCancel(t *testing.T) {
	b := NewBroadcaster[[]int16](150, DropMessage)
	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []int16, 10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx, source)
	}()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcaster did not stop after context cancel")
	}
}

func TestBroadcastStopsOnSourceClose(t *testing.T) {
	b := NewBroadcaster[[]int16](150, DropMessage)
	source := make(chan []int16, 10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(context.Background(), source)
	}()

	close(source)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcaster did not stop after source closed")
	}
}

func TestListenerDoneChannel(t *testing.T) {
	b := NewBroadcaster[int](1, DropMessage)
	l := b.Subscribe()

	b.Unsubscribe(l)

	select {
	case <-l.Done():
	default:
		t.Error("Listener done channel not closed after unsubscribe")
	}
	if _, ok := <-l.C; ok {
		t.Error("Listener channel not closed after unsubscribe")
	}
}
