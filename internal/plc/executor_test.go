package plc

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := NewQueue(16, nil)
	defer q.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("got = %v, want ascending order", got)
		}
	}
	if len(got) != 10 {
		t.Errorf("ran %d callbacks, want 10", len(got))
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1, nil)
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	q.Post(func() {
		close(started)
		<-block
	})
	<-started

	q.Post(func() {})
	q.Post(func() {})
	close(block)

	if got := q.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestQueueSurvivesPanic(t *testing.T) {
	q := NewQueue(4, nil)
	defer q.Close()

	ran := make(chan struct{})
	q.Post(func() { panic("boom") })
	q.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(4, nil)
	ran := false
	q.Post(func() { ran = true })
	q.Close()
	q.Close()

	if !ran {
		t.Error("queued callback should run before Close returns")
	}
	q.Post(func() {})
	if got := q.Dropped(); got != 1 {
		t.Errorf("Dropped() after Close = %d, want 1", got)
	}
	if err := q.Flush(context.Background()); err != nil {
		t.Errorf("Flush() after Close error = %v", err)
	}
}

func TestDeliverPostsObserver(t *testing.T) {
	var posted []func()
	exec := ExecutorFunc(func(fn func()) { posted = append(posted, fn) })

	var got Key
	o := Deliver(exec, ObserverFunc(func(key Key, _ any) { got = key }))
	o.VariableChanged("ns=4;s=A", true)

	if got != "" {
		t.Fatal("observer ran before the executor")
	}
	posted[0]()
	if got != "ns=4;s=A" {
		t.Errorf("observer key = %q", got)
	}
}
