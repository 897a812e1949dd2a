// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Executor decides which goroutine a deferred callback runs on.
type Executor interface {
	// Execute runs fn, possibly on another goroutine. Implementations
	// must eventually run every accepted fn exactly once.
	Execute(fn func())
}

// InlineExecutor runs callbacks immediately on whichever goroutine
// resolved the last condition. Use it only for callbacks that are cheap
// and safe to run on the execution goroutine.
type InlineExecutor struct{}

// Execute implements Executor.
func (InlineExecutor) Execute(fn func()) { fn() }

// PoolExecutor runs callbacks on a bounded worker pool, keeping slow
// callbacks off the execution goroutine.
type PoolExecutor struct {
	pool *ants.Pool
}

// NewPoolExecutor creates a PoolExecutor with the given worker count.
func NewPoolExecutor(size int) (*PoolExecutor, error) {
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("cmdstream: create callback pool: %w", err)
	}
	return &PoolExecutor{pool: p}, nil
}

// Execute implements Executor. If the pool cannot accept the task (for
// example after Release), the callback runs inline so it is never lost.
func (p *PoolExecutor) Execute(fn func()) {
	if err := p.pool.Submit(fn); err != nil {
		Logger().Warn("cmdstream: callback pool rejected task, running inline", "err", err)
		fn()
	}
}

// Release shuts the worker pool down. Callbacks scheduled afterwards run
// inline.
func (p *PoolExecutor) Release() {
	p.pool.Release()
}

// Condition is one slot in a CallbackManager's chain: a reference count
// of outstanding asynchronous work plus, once attached, the callback to
// fire when that count reaches zero. Conditions are created by
// [CallbackManager.Get] and resolved by Resolve or ResolveWith from
// whichever goroutine the work completes on.
type Condition struct {
	mgr        *CallbackManager
	prev, next *Condition

	pending  int
	attached bool
	fired    bool
	ex       Executor
	fn       func()

	payload []byte
}

// Resolve marks one unit of outstanding work complete. When the last
// outstanding unit resolves and a callback is attached, the callback is
// scheduled exactly once.
func (c *Condition) Resolve() {
	c.mgr.Put(c)
}

// ResolveWith stores a result payload and resolves. The payload becomes
// visible to Payload once the callback fires; engines use it to deliver
// readback bytes.
func (c *Condition) ResolveWith(data []byte) {
	c.payload = data // published by the lock inside Resolve
	c.Resolve()
}

// Payload returns the bytes stored by ResolveWith, or nil.
func (c *Condition) Payload() []byte {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()
	return c.payload
}

// CallbackManager tracks outstanding asynchronous work and fires a user
// callback exactly once when everything created before the callback was
// attached has resolved.
//
// Conditions form an ordered chain. Get increments the open slot at the
// chain's tail; SetCallback seals that slot with a callback and opens a
// fresh one, so "everything before this point" is always well defined.
// Get and Resolve may run on any goroutine; one lock guards the chain and
// callbacks are dispatched outside it, so a callback may itself call back
// into the manager.
type CallbackManager struct {
	mu   sync.Mutex
	head *Condition
	tail *Condition
	due  []func() // nil-executor callbacks awaiting Purge
}

// NewCallbackManager returns a manager with one open condition slot.
func NewCallbackManager() *CallbackManager {
	m := &CallbackManager{}
	m.linkTail(&Condition{mgr: m})
	return m
}

// Get registers one unit of outstanding work and returns the condition
// it counts against. Every Get must be matched by exactly one Resolve.
func (m *CallbackManager) Get() *Condition {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.tail
	c.pending++
	return c
}

// Put resolves one unit of work against c. Condition.Resolve is the
// usual entry point; Put exists for callers holding the manager.
func (m *CallbackManager) Put(c *Condition) {
	m.mu.Lock()
	if debugChecks {
		assertf(c.pending > 0, "condition resolved more often than acquired")
	}
	c.pending--
	fire := c.pending == 0 && c.attached && !c.fired
	if fire {
		c.fired = true
		m.unlink(c)
	}
	m.mu.Unlock()
	if fire {
		m.schedule(c)
	}
}

// SetCallback attaches fn to every condition handed out since the
// previous SetCallback. When those conditions are all resolved, fn runs
// once on ex; if they already are, it is scheduled immediately. A nil ex
// defers fn to the next Purge, for callers that deliver callbacks on
// their own event loop.
func (m *CallbackManager) SetCallback(ex Executor, fn func()) {
	m.mu.Lock()
	c := m.tail
	m.linkTail(&Condition{mgr: m})
	c.ex = ex
	c.fn = fn
	c.attached = true
	fire := c.pending == 0 && !c.fired
	if fire {
		c.fired = true
		m.unlink(c)
	}
	m.mu.Unlock()
	if fire {
		m.schedule(c)
	}
}

// Terminate schedules every attached callback that has not fired yet,
// whether or not its conditions resolved. It exists for shutdown, where
// losing a callback forever is worse than firing it early; it makes no
// promise that the work the callback was waiting on actually completed.
// Terminate is idempotent, and a manager with no attached callbacks
// treats it as a no-op.
func (m *CallbackManager) Terminate() {
	m.mu.Lock()
	var fire []*Condition
	for c := m.head; c != nil; c = c.next {
		if c.attached && !c.fired {
			c.fired = true
			fire = append(fire, c)
		}
	}
	for _, c := range fire {
		m.unlink(c)
	}
	m.mu.Unlock()
	for _, c := range fire {
		m.schedule(c)
	}
}

// Purge runs callbacks that were attached with a nil Executor and have
// become due. Call it from the goroutine that owns the user-visible
// event loop.
func (m *CallbackManager) Purge() {
	m.mu.Lock()
	due := m.due
	m.due = nil
	m.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

// Close verifies the manager was drained before teardown. Shutdown must
// run Terminate (fire anything still armed) and Purge (deliver anything
// due) first; a manager discarded while it still owes callbacks is a
// programming error reported in checked builds.
func (m *CallbackManager) Close() {
	if !debugChecks {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	assertf(len(m.due) == 0,
		"callback manager closed with %d undelivered callbacks; call Purge", len(m.due))
	for c := m.head; c != nil; c = c.next {
		assertf(!c.attached || c.fired,
			"callback manager closed with an armed callback; call Terminate")
	}
}

// schedule dispatches a fired condition's callback. Never called with
// the manager lock held.
func (m *CallbackManager) schedule(c *Condition) {
	if c.ex == nil {
		m.mu.Lock()
		m.due = append(m.due, c.fn)
		m.mu.Unlock()
		return
	}
	c.ex.Execute(c.fn)
}

func (m *CallbackManager) linkTail(c *Condition) {
	c.prev = m.tail
	if m.tail != nil {
		m.tail.next = c
	} else {
		m.head = c
	}
	m.tail = c
}

func (m *CallbackManager) unlink(c *Condition) {
	if c.prev != nil {
		c.prev.next = c.next
	} else if m.head == c {
		m.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else if m.tail == c {
		m.tail = c.prev
	}
	c.prev, c.next = nil, nil
}
