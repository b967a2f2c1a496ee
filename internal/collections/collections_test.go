package collections

import (
	"sync"
	"testing"
	"time"
)

func TestRing_DropsOldestOnOverflow(t *testing.T) {
	r := NewRing[int](3)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	if evicted := r.Push(4); !evicted {
		t.Fatalf("expected eviction when pushing past capacity")
	}

	var got []int
	for {
		v, ok := r.TryPop()
		if !ok {
			break
		}
		got = append(got, v)
	}

	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestFifo_BlocksWhenFullUntilPop(t *testing.T) {
	f := NewFifo[int](1)
	if !f.Push(1) {
		t.Fatalf("first push should succeed")
	}

	done := make(chan struct{})
	go func() {
		f.Push(2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("push should have blocked while queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := f.Pop()
	if !ok || v != 1 {
		t.Fatalf("expected to pop 1, got %v ok=%v", v, ok)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("blocked push should have unblocked after pop")
	}
}

func TestFifo_CloseUnblocksDrainedAndWaitingCallers(t *testing.T) {
	f := NewFifo[int](2)
	f.Push(1)

	v, ok := f.Pop()
	if !ok || v != 1 {
		t.Fatalf("expected drained value 1 before disconnect signal, got %v ok=%v", v, ok)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var secondOk bool
	go func() {
		defer wg.Done()
		_, secondOk = f.Pop()
	}()

	time.Sleep(20 * time.Millisecond)
	f.Close()
	wg.Wait()

	if secondOk {
		t.Fatalf("expected Pop after close with no data to report CHANNEL_DISCONNECTED (ok=false)")
	}
}

func TestIntMap_ForgetUnknownIsNoop(t *testing.T) {
	m := NewIntMap[string]()
	id := m.Insert("resource")
	if _, ok := m.Remove(id + 100); ok {
		t.Fatalf("removing unknown id should be a silent no-op")
	}
	if v, ok := m.Remove(id); !ok || v != "resource" {
		t.Fatalf("expected to remove the inserted resource")
	}
}

func TestCell_DropInvokedExactlyOnceAfterAllStrongReleased(t *testing.T) {
	drops := 0
	var mu sync.Mutex
	cell := NewCell("closure", func(string) {
		mu.Lock()
		drops++
		mu.Unlock()
	})
	dup := cell.Strong()
	weak := cell.Weak()

	cell.Release()
	if !weak.cell.IsAlive() {
		t.Fatalf("should still be alive with one strong reference left")
	}

	if _, ok := weak.Upgrade(); !ok {
		t.Fatalf("weak upgrade should succeed while alive")
	}

	dup.Release()
	dup.Release() // the upgraded reference above

	mu.Lock()
	got := drops
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected drop exactly once, got %d", got)
	}

	if _, ok := weak.Upgrade(); ok {
		t.Fatalf("weak upgrade should fail once dropped")
	}
}

func TestSingleList_RemoveFirst(t *testing.T) {
	l := NewSingleList[int]()
	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)

	if !l.RemoveFirst(func(v int) bool { return v == 2 }) {
		t.Fatalf("expected to remove 2")
	}
	if l.Len() != 2 {
		t.Fatalf("expected length 2, got %d", l.Len())
	}

	var got []int
	l.ForEach(func(v int) { got = append(got, v) })
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("unexpected remaining elements: %v", got)
	}
}
