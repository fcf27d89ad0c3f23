// Package sink implements the single native-ABI callback receiver
// (spec.md §4.D): the object the debug engine hands to
// SetManagedHandler, which the CLR's debug API calls back into on
// threads it creates itself.
//
// Every callback method here follows the same shape: capture the event
// into a model.Event, push it onto the unbounded event queue, then
// unconditionally resume the native side before returning — missing
// that resume on any path freezes the target process. The one
// exception is ExitProcess, which emits Exited without resuming; it
// does not close the queue, which only Reset closes.
//
// This package never touches a COM vtable directly. internal/engine
// owns the cgo/native adapter that turns real ICorDebug callback
// invocations into calls on Sink's methods and Resumer's Resume; that
// split mirrors internal/value's NativeValue boundary and keeps the
// resume-guarantee and generation-staleness logic unit-testable
// against a fake Resumer.
package sink

import (
	"sync"
	"sync/atomic"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
)

// Resumer acknowledges one callback back to native code. Engine's
// adapter implements this over the real per-appdomain Continue call;
// tests implement it as a counter.
type Resumer interface {
	Resume() error
}

// eventBus is a growable-queue, never-block-the-writer channel: push
// only appends under a mutex and signals a condition variable, and a
// dedicated pump goroutine is the only thing that ever does a blocking
// channel send. A native callback thread calling push can never be
// made to wait on a slow or absent consumer, which a fixed-size
// buffered channel cannot guarantee once the buffer fills.
type eventBus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []model.Event
	out     chan model.Event
	closing bool
}

func newEventBus() *eventBus {
	b := &eventBus{out: make(chan model.Event)}
	b.cond = sync.NewCond(&b.mu)
	go b.pump()
	return b
}

// push enqueues e. It never blocks: the slice grows to fit whatever
// burst the native side produces.
func (b *eventBus) push(e model.Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.cond.Signal()
	b.mu.Unlock()
}

// close drains and delivers whatever remains queued, then closes out.
// Safe to call from any goroutine; pump observes it on its next wake.
func (b *eventBus) close() {
	b.mu.Lock()
	b.closing = true
	b.cond.Signal()
	b.mu.Unlock()
}

func (b *eventBus) pump() {
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closing {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			close(b.out)
			return
		}
		e := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		b.out <- e
	}
}

// Sink is process-wide in the sense that the shim loads one native
// library per process, but logically scoped to one session generation:
// Reset is called by the engine's Disconnect between sessions rather
// than constructing a new Sink, since the native side is only ever
// handed one SetManagedHandler target for the library's lifetime.
type Sink struct {
	eventsMu sync.Mutex // guards events; swapped out wholesale by Reset
	events   *eventBus

	generation  uint64 // atomic, bumped by Reset
	suppressExit int32 // atomic bool: set during deliberate Disconnect

	firstChanceEnabled int32 // atomic bool

	mu                   sync.Mutex
	breakpointsByToken   map[uint32][]model.BreakpointID
	exceptionStopPending bool
}

// New creates a sink with a fresh event bus and generation 1. Call
// Reset, not New, on session reuse: the native side keeps calling back
// into the same registered handler object for the process's lifetime.
func New() *Sink {
	s := &Sink{
		breakpointsByToken: make(map[uint32][]model.BreakpointID),
	}
	s.generation = 1
	s.events = newEventBus()
	return s
}

// Events returns the current generation's event channel. Callers must
// re-fetch it after Reset; the old channel is drained then closed, not
// reused.
func (s *Sink) Events() <-chan model.Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	return s.events.out
}

// Generation returns the sink's current session generation.
func (s *Sink) Generation() uint64 { return atomic.LoadUint64(&s.generation) }

// Reset implements the session-reuse invariants of spec.md §4.E: clear
// the breakpoint index, bump suppress-exit so a still-in-flight
// ExitProcess from the superseded session no-ops, increment the
// generation, and install a fresh event channel.
func (s *Sink) Reset() {
	atomic.StoreInt32(&s.suppressExit, 1)

	s.mu.Lock()
	s.breakpointsByToken = make(map[uint32][]model.BreakpointID)
	s.exceptionStopPending = false
	s.mu.Unlock()

	s.eventsMu.Lock()
	s.events.close()
	s.events = newEventBus()
	s.eventsMu.Unlock()

	atomic.AddUint64(&s.generation, 1)
	atomic.StoreInt32(&s.suppressExit, 0)
}

// SetFirstChanceExceptions toggles whether first-chance (version-2)
// exception callbacks are reported or silently resumed.
func (s *Sink) SetFirstChanceExceptions(enabled bool) {
	v := int32(0)
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&s.firstChanceEnabled, v)
}

func (s *Sink) firstChance() bool {
	return atomic.LoadInt32(&s.firstChanceEnabled) != 0
}

// RegisterBreakpoint adds id to the method-def-token index. Called by
// the engine's owner thread while activating a breakpoint; never
// called from a callback.
func (s *Sink) RegisterBreakpoint(methodToken uint32, id model.BreakpointID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakpointsByToken[methodToken] = append(s.breakpointsByToken[methodToken], id)
}

// UnregisterBreakpoint removes id from the token index.
func (s *Sink) UnregisterBreakpoint(methodToken uint32, id model.BreakpointID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.breakpointsByToken[methodToken]
	for i, existing := range ids {
		if existing == id {
			s.breakpointsByToken[methodToken] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.breakpointsByToken[methodToken]) == 0 {
		delete(s.breakpointsByToken, methodToken)
	}
}

func (s *Sink) breakpointIDsForToken(methodToken uint32) []model.BreakpointID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.breakpointsByToken[methodToken]
	out := make([]model.BreakpointID, len(ids))
	copy(out, ids)
	return out
}

// emit stamps the event with the current generation and pushes it onto
// the event bus. The bus's queue is unbounded (spec.md §5
// "Shared-resource policy"), so this never blocks the native callback
// thread: push only appends under a mutex, it never waits on the
// consumer.
func (s *Sink) emit(e model.Event) {
	e.Generation = s.Generation()
	s.eventsMu.Lock()
	b := s.events
	s.eventsMu.Unlock()
	b.push(e)
}

// resume unconditionally acknowledges the callback. Every non-exit
// callback method defers this as its very first statement so no early
// return skips it.
func (s *Sink) resume(r Resumer) {
	_ = r.Resume()
}

func (s *Sink) setExceptionStopPending(v bool) {
	s.mu.Lock()
	s.exceptionStopPending = v
	s.mu.Unlock()
}

func (s *Sink) isExceptionStopPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exceptionStopPending
}
