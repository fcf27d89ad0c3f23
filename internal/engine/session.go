package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
	"github.com/clrdbg/clrdbg-mcp/internal/pdb"
	"github.com/clrdbg/clrdbg-mcp/internal/sink"
	"github.com/clrdbg/clrdbg-mcp/internal/telemetry"
)

// Engine owns a single debug session and the one goroutine that is
// ever allowed to touch ICorDebug. All public methods submit a closure
// to cmds and block on a reply channel, the same shape as the
// teacher's engineState/dbgpCmd pair in engine/base.go: every native
// call happens on one thread, every caller-facing method is safe to
// call from any goroutine.
type Engine struct {
	log *zap.SugaredLogger

	cmds chan func()
	done chan struct{}

	mu sync.Mutex // guards state/generation, read from outside the owner goroutine by State()/Generation()

	state      model.SessionState
	generation uint64

	// ctrl, binder, sink, modules, meta, breakpoints, pendingByDoc,
	// nextBpID, targetPID, testRunnerPID, firstChance are all touched
	// only from inside a submit() closure, i.e. only ever on the owner
	// goroutine; that single-writer discipline is what makes them safe
	// without their own lock.
	ctrl    Controller
	binder  Binder
	sink    *sink.Sink
	modules map[string]pdbModule // loaded module path -> decoded PDB
	meta    *metadataAdapter     // wraps the active module for value.Reader

	breakpoints  map[model.BreakpointID]*model.Breakpoint
	pendingByDoc map[string][]model.BreakpointID // source file -> ids not yet resolved
	nextBpID     model.BreakpointID

	targetPID     int
	testRunnerPID int // the `dotnet test` process, nonzero only for a launch_test session
	firstChance   bool

	// sessionID/sessionCtx/rootSpan are set once per Launch/Attach and
	// cleared on Disconnect. sessionID is the caller-facing correlation
	// id logged alongside every event; it is distinct from generation,
	// the internal anti-staleness counter bumped on every Disconnect.
	// Unlike ctrl/binder/etc. above, these are read from e.span(), which
	// public methods call from the caller's own goroutine rather than
	// from inside submit(), so they are guarded by mu like state/
	// generation rather than relying on the owner-goroutine discipline.
	sessionID  string
	sessionCtx context.Context
	rootSpan   trace.Span

	out *eventQueue // re-broadcast of sink events, after module-load bookkeeping
}

// eventQueue is the engine-side counterpart to the sink's eventBus: a
// growable queue plus a dedicated pump goroutine, so pumpEvents relaying
// a sink event onward never blocks on a slow or absent Events() reader.
// Unlike the sink's bus, this one lives for the whole process and is
// torn down only by done closing, not by a per-session Reset.
type eventQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []model.Event
	out   chan model.Event
}

func newEventQueue(done <-chan struct{}) *eventQueue {
	q := &eventQueue{out: make(chan model.Event)}
	q.cond = sync.NewCond(&q.mu)
	go q.pump(done)
	return q
}

// push enqueues e without ever blocking the caller.
func (q *eventQueue) push(e model.Event) {
	q.mu.Lock()
	q.queue = append(q.queue, e)
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *eventQueue) pump(done <-chan struct{}) {
	go func() {
		<-done
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	for {
		q.mu.Lock()
		for len(q.queue) == 0 {
			select {
			case <-done:
				q.mu.Unlock()
				return
			default:
			}
			q.cond.Wait()
		}
		e := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()
		select {
		case q.out <- e:
		case <-done:
			return
		}
	}
}

// startSession opens the per-session trace and assigns a fresh
// correlation id. Called from Launch/Attach once the session is
// confirmed running.
func (e *Engine) startSession() {
	id := uuid.NewString()
	ctx, span := telemetry.StartSession(context.Background(), id)
	e.mu.Lock()
	e.sessionID = id
	e.sessionCtx = ctx
	e.rootSpan = span
	e.mu.Unlock()
}

// endSession closes the per-session trace; safe to call even if no
// session was ever started.
func (e *Engine) endSession() {
	e.mu.Lock()
	span := e.rootSpan
	e.sessionID = ""
	e.sessionCtx = nil
	e.rootSpan = nil
	e.mu.Unlock()
	if span != nil {
		span.End()
	}
}

// span starts a child span for a public engine operation, parented
// under the active session's root span, or under a fresh background
// trace if called before any session exists (e.g. a SetBreakpoint
// issued before Launch). Callers defer the returned function.
func (e *Engine) span(op string) func(*model.EngineError) {
	e.mu.Lock()
	ctx := e.sessionCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_, sp := telemetry.StartSpan(ctx, op)
	return func(errResult *model.EngineError) {
		if errResult != nil {
			telemetry.RecordError(sp, errResult)
		} else {
			telemetry.RecordOK(sp)
		}
		sp.End()
	}
}

// SessionID reports the active session's correlation id, or "" if no
// session is running.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// PDBLoader resolves a loaded module's on-disk path to its decoded
// debug info; production code backs this with pdb.Load, tests with a
// fixture map.
type PDBLoader func(modulePath string) (*pdb.Module, error)

// New creates an idle engine. binder is the shim loader the session
// will use for Launch/Attach; it is accepted as an interface so tests
// can supply a fake one instead of a live dlopen'd libdbgshim.so.
func New(binder Binder, loadPDB PDBLoader, logger *zap.SugaredLogger) *Engine {
	done := make(chan struct{})
	e := &Engine{
		log:          logger,
		cmds:         make(chan func()),
		done:         done,
		state:        model.StateIdle,
		binder:       binder,
		sink:         sink.New(),
		modules:      make(map[string]pdbModule),
		breakpoints:  make(map[model.BreakpointID]*model.Breakpoint),
		pendingByDoc: make(map[string][]model.BreakpointID),
		out:          newEventQueue(done),
	}
	go e.run()
	go e.pumpEvents(loadPDB)
	return e
}

// pumpEvents relays the sink's event channel onto e.out, loading a
// module's PDB and resolving pending breakpoints the moment a
// model.EventModuleLoaded event for it arrives, before the event is
// handed onward. Reset() closes and replaces the sink's channel on
// every Disconnect, which ends this loop's `range`; pumpEvents simply
// re-fetches the current channel and keeps going, so it survives the
// whole engine's lifetime across however many sessions it serves.
// e.out.push never blocks, so a slow Events() reader only grows the
// queue, never stalls this relay or the sink it is draining.
func (e *Engine) pumpEvents(loadPDB PDBLoader) {
	for {
		ch := e.sink.Events()
		for ev := range ch {
			if ev.Kind == model.EventModuleLoaded && loadPDB != nil {
				if mod, err := loadPDB(ev.ModulePath); err != nil {
					e.log.Warnw("pdb load failed", "module", ev.ModulePath, "err", err)
				} else {
					e.onModuleLoaded(ev.ModulePath, mod)
				}
			}
			e.out.push(ev)
		}
		select {
		case <-e.done:
			return
		default:
		}
	}
}

// run is the owner thread: it drains cmds until Shutdown closes done.
// Every public method's work happens inside a submitted closure, so
// there is never more than one in-flight native call.
func (e *Engine) run() {
	for {
		select {
		case cmd := <-e.cmds:
			cmd()
		case <-e.done:
			return
		}
	}
}

// submit runs fn on the owner goroutine and blocks until it returns.
func (e *Engine) submit(fn func()) {
	reply := make(chan struct{})
	e.cmds <- func() {
		fn()
		close(reply)
	}
	<-reply
}

// Shutdown stops the owner goroutine. Safe to call once the session is
// already disconnected or was never started.
func (e *Engine) Shutdown() {
	close(e.done)
}

// State reports the coarse session state for the `status` tool.
func (e *Engine) State() model.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Generation reports the current session generation, for tests and
// for diagnostics that must correlate a stale event with the session
// that produced it.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Events exposes the re-broadcast event channel so a protocol-layer
// reader can push `breakpoint_hit`/`stopped`/`output`/`exited`
// notifications out to the caller as they arrive. Unlike the sink's own
// channel, this one never closes across a Disconnect/Reset: pumpEvents
// re-subscribes internally so callers only ever need one long-lived
// reader for the engine's whole process lifetime.
func (e *Engine) Events() <-chan model.Event {
	return e.out.out
}

func (e *Engine) setState(s model.SessionState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// requireState returns a SessionState error unless the engine is
// currently in one of want.
func (e *Engine) requireState(op string, want ...model.SessionState) *model.EngineError {
	cur := e.State()
	for _, w := range want {
		if cur == w {
			return nil
		}
	}
	return model.NewSessionStateError("%s is not valid while session is %s", op, cur)
}
