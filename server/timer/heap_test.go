package timer

import (
	"testing"
	"time"
)

func checkHeap(t *testing.T, h *Heap) {
	t.Helper()
	for i := range h.heap {
		for _, c := range []int{2*i + 1, 2*i + 2} {
			if c < len(h.heap) && h.heap[c].expires.Before(h.heap[i].expires) {
				t.Fatalf("heap order broken at %d/%d", i, c)
			}
		}
	}
	for id, i := range h.ref {
		if h.heap[i].id != id {
			t.Fatalf("ref[%d]=%d but heap[%d].id=%d", id, i, i, h.heap[i].id)
		}
	}
	if len(h.ref) != len(h.heap) {
		t.Fatalf("ref size %d != heap size %d", len(h.ref), len(h.heap))
	}
}

func TestAddAdjustKeepsInvariants(t *testing.T) {
	h := New()
	timeouts := []int{500, 100, 900, 300, 700, 200, 800, 50, 600, 400}
	for id, ms := range timeouts {
		h.Add(id, ms, func() {})
		checkHeap(t, h)
	}

	// re-add overwrites in place, no duplicate node
	h.Add(3, 1000, func() {})
	checkHeap(t, h)
	if len(h.heap) != len(timeouts) {
		t.Fatalf("re-add grew heap to %d", len(h.heap))
	}

	for id := range timeouts {
		h.Adjust(id, 2000)
		checkHeap(t, h)
	}
}

func TestTickFiresExpiredInOrder(t *testing.T) {
	h := New()
	var fired []int
	h.Add(1, -20, func() { fired = append(fired, 1) })
	h.Add(2, -10, func() { fired = append(fired, 2) })
	h.Add(3, 60000, func() { fired = append(fired, 3) })

	h.Tick()
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Fatalf("fired = %v, want [1 2]", fired)
	}
	if len(h.heap) != 1 || h.heap[0].id != 3 {
		t.Fatal("unexpired node lost")
	}
	checkHeap(t, h)
}

func TestDoWork(t *testing.T) {
	h := New()
	fired := 0
	h.Add(7, 60000, func() { fired++ })
	h.DoWork(7)
	if fired != 1 {
		t.Fatal("DoWork did not invoke callback")
	}
	if _, ok := h.ref[7]; ok {
		t.Fatal("DoWork left node behind")
	}
	h.DoWork(7) // absent id is a no-op
	if fired != 1 {
		t.Fatal("callback fired twice")
	}
}

func TestNextTick(t *testing.T) {
	h := New()
	if got := h.NextTick(); got != NoTimeout {
		t.Fatalf("empty heap: got %d, want sentinel %d", got, NoTimeout)
	}

	expired := false
	h.Add(1, -5, func() { expired = true })
	if got := h.NextTick(); got != NoTimeout || !expired {
		t.Fatalf("expired root not reaped: got %d, fired=%v", got, expired)
	}

	h.Add(2, 60000, func() {})
	got := h.NextTick()
	if got <= 0 || got > 60000 {
		t.Fatalf("future root: got %d ms", got)
	}
}

func TestAdjustExtendsDeadline(t *testing.T) {
	h := New()
	fired := false
	h.Add(1, 1, func() { fired = true })
	h.Adjust(1, 60000)

	time.Sleep(5 * time.Millisecond)
	h.Tick()
	if fired {
		t.Fatal("extended timer fired early")
	}
}
