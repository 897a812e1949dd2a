package cmdstream

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// TestCallbackFiresAfterAllResolved tests the reference counting: the
// callback must fire exactly once, after the last matching resolve.
func TestCallbackFiresAfterAllResolved(t *testing.T) {
	m := NewCallbackManager()

	c := m.Get()
	if c2 := m.Get(); c2 != c {
		t.Fatal("Get before SetCallback returned a different condition")
	}

	fired := 0
	m.SetCallback(InlineExecutor{}, func() { fired++ })

	c.Resolve()
	if fired != 0 {
		t.Fatalf("callback fired after 1 of 2 resolves")
	}
	c.Resolve()
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

// TestSetCallbackImmediateWhenIdle tests that attaching a callback with
// no outstanding work schedules it right away.
func TestSetCallbackImmediateWhenIdle(t *testing.T) {
	m := NewCallbackManager()
	fired := false
	m.SetCallback(InlineExecutor{}, func() { fired = true })
	if !fired {
		t.Error("callback with no outstanding work did not fire immediately")
	}
}

// TestCallbackSlotsIndependent tests that SetCallback seals its slot:
// later work counts against the next slot and fires its own callback.
func TestCallbackSlotsIndependent(t *testing.T) {
	m := NewCallbackManager()

	first := m.Get()
	var firstFired, secondFired bool
	m.SetCallback(InlineExecutor{}, func() { firstFired = true })

	second := m.Get()
	m.SetCallback(InlineExecutor{}, func() { secondFired = true })

	second.Resolve()
	if !secondFired {
		t.Error("second callback did not fire after its own work resolved")
	}
	if firstFired {
		t.Error("first callback fired before its work resolved")
	}

	first.Resolve()
	if !firstFired {
		t.Error("first callback did not fire")
	}
}

// TestNilExecutorDefersToPurge tests the event-loop delivery mode.
func TestNilExecutorDefersToPurge(t *testing.T) {
	m := NewCallbackManager()

	c := m.Get()
	fired := false
	m.SetCallback(nil, func() { fired = true })

	c.Resolve()
	if fired {
		t.Fatal("nil-executor callback ran before Purge")
	}
	m.Purge()
	if !fired {
		t.Error("Purge did not run the due callback")
	}
	m.Purge() // drained; must not run it again
}

// TestTerminateFiresPendingCallbacks tests shutdown delivery: attached
// callbacks fire even though their work never resolved, exactly once.
func TestTerminateFiresPendingCallbacks(t *testing.T) {
	m := NewCallbackManager()
	m.Terminate() // nothing attached; must be a no-op

	c := m.Get()
	fired := 0
	m.SetCallback(InlineExecutor{}, func() { fired++ })

	m.Terminate()
	if fired != 1 {
		t.Fatalf("fired = %d after Terminate, want 1", fired)
	}
	m.Terminate()
	if fired != 1 {
		t.Fatalf("fired = %d after second Terminate, want 1", fired)
	}

	// The straggler resolves later; the callback must not fire again.
	c.Resolve()
	if fired != 1 {
		t.Fatalf("fired = %d after late resolve, want 1", fired)
	}
}

// TestResolveWithPayload tests payload delivery through a condition.
func TestResolveWithPayload(t *testing.T) {
	m := NewCallbackManager()

	c := m.Get()
	var got []byte
	m.SetCallback(InlineExecutor{}, func() { got = c.Payload() })

	c.ResolveWith([]byte{1, 2, 3, 4})
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Errorf("payload = %v, want [1 2 3 4]", got)
	}
}

// TestCallbackMayReenterManager tests that a firing callback can use the
// manager again, since dispatch happens outside the lock.
func TestCallbackMayReenterManager(t *testing.T) {
	m := NewCallbackManager()

	c := m.Get()
	nested := false
	m.SetCallback(InlineExecutor{}, func() {
		m.SetCallback(InlineExecutor{}, func() { nested = true })
	})

	c.Resolve()
	if !nested {
		t.Error("nested SetCallback did not fire")
	}
}

// TestPoolExecutor tests asynchronous delivery and the inline fallback
// after the pool is released.
func TestPoolExecutor(t *testing.T) {
	p, err := NewPoolExecutor(2)
	if err != nil {
		t.Fatalf("NewPoolExecutor: %v", err)
	}

	m := NewCallbackManager()
	c := m.Get()
	done := make(chan struct{})
	m.SetCallback(p, func() { close(done) })

	c.Resolve()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pooled callback never ran")
	}

	p.Release()
	ran := false
	p.Execute(func() { ran = true })
	if !ran {
		t.Error("released pool did not fall back to inline execution")
	}
}

// TestResolveUnderflowPanics tests the checked-build resolve count
// assert.
func TestResolveUnderflowPanics(t *testing.T) {
	if !debugChecks {
		t.Skip("assertions compiled out")
	}
	m := NewCallbackManager()
	c := m.Get()
	c.Resolve()

	defer func() {
		if recover() == nil {
			t.Error("resolving more often than acquired did not panic")
		}
	}()
	c.Resolve()
}

// TestConcurrentResolveFiresOnce tests the reference counting under
// contention: resolves racing SetCallback from several goroutines must
// still fire the callback exactly once, after the last one.
func TestConcurrentResolveFiresOnce(t *testing.T) {
	const (
		rounds    = 25
		workers   = 4
		perWorker = 8
	)
	for round := 0; round < rounds; round++ {
		m := NewCallbackManager()

		c := m.Get()
		for i := 1; i < workers*perWorker; i++ {
			if m.Get() != c {
				t.Fatal("Get before SetCallback returned a different condition")
			}
		}

		var fired atomic.Int32
		var g errgroup.Group
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for i := 0; i < perWorker; i++ {
					c.Resolve()
				}
				return nil
			})
		}
		m.SetCallback(InlineExecutor{}, func() { fired.Add(1) })
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}

		if got := fired.Load(); got != 1 {
			t.Fatalf("round %d: callback fired %d times, want 1", round, got)
		}
		m.Close()
	}
}

// TestCloseAfterDrain tests that a manager taken through the shutdown
// sequence (Terminate, then Purge) closes cleanly.
func TestCloseAfterDrain(t *testing.T) {
	m := NewCallbackManager()
	m.Close() // fresh manager owes nothing

	m = NewCallbackManager()
	m.Get()
	m.SetCallback(nil, func() {})
	m.Terminate()
	m.Purge()
	m.Close()
}

// TestCloseWithUndeliveredCallbackPanics tests the checked-build drain
// assert: a due callback that Purge never delivered.
func TestCloseWithUndeliveredCallbackPanics(t *testing.T) {
	if !debugChecks {
		t.Skip("assertions compiled out")
	}
	m := NewCallbackManager()
	c := m.Get()
	m.SetCallback(nil, func() {})
	c.Resolve() // due for Purge, which never runs

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Close with an undelivered callback did not panic")
		}
		if !strings.Contains(fmt.Sprint(r), "Purge") {
			t.Errorf("panic = %v, want mention of Purge", r)
		}
	}()
	m.Close()
}

// TestCloseWithArmedCallbackPanics tests the checked-build drain assert:
// an attached callback whose work never resolved and was never fired.
func TestCloseWithArmedCallbackPanics(t *testing.T) {
	if !debugChecks {
		t.Skip("assertions compiled out")
	}
	m := NewCallbackManager()
	m.Get()
	m.SetCallback(InlineExecutor{}, func() {})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Close with an armed callback did not panic")
		}
		if !strings.Contains(fmt.Sprint(r), "Terminate") {
			t.Errorf("panic = %v, want mention of Terminate", r)
		}
	}()
	m.Close()
}
