package sink

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
)

// noEventWait is how long a "no event should be emitted" assertion
// gives the pump goroutine to (wrongly) deliver one before checking.
const noEventWait = 20 * time.Millisecond

type countingResumer struct{ n int }

func (r *countingResumer) Resume() error {
	r.n++
	return nil
}

type fakeExceptionReader struct {
	info ExceptionInfo
	err  error
}

func (f *fakeExceptionReader) ReadCurrentException(threadID int) (ExceptionInfo, error) {
	return f.info, f.err
}

// drain waits for one event off the sink's event bus. The bus's pump
// goroutine delivers asynchronously (push only enqueues; it never
// blocks the caller), so this cannot be a non-blocking receive.
func drain(t *testing.T, s *Sink) model.Event {
	t.Helper()
	select {
	case e := <-s.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("expected an event on the channel, got none")
		return model.Event{}
	}
}

// expectNoEvent asserts the bus delivers nothing within noEventWait.
func expectNoEvent(t *testing.T, s *Sink) {
	t.Helper()
	select {
	case e := <-s.Events():
		t.Fatalf("expected no event, got %v", e)
	case <-time.After(noEventWait):
	}
}

func TestBreakpointResumesAndEmitsPerRegisteredID(t *testing.T) {
	s := New()
	s.RegisterBreakpoint(0x06000001, 1)
	s.RegisterBreakpoint(0x06000001, 2)

	r := &countingResumer{}
	s.Breakpoint(r, 7, 0x06000001, nil)

	if r.n != 1 {
		t.Fatalf("resume called %d times, want exactly 1", r.n)
	}
	first := drain(t, s)
	second := drain(t, s)
	if first.BreakpointID != 1 || second.BreakpointID != 2 {
		t.Fatalf("got breakpoint ids %d, %d, want 1, 2", first.BreakpointID, second.BreakpointID)
	}
}

func TestBreakpointUnknownTokenStillResumes(t *testing.T) {
	s := New()
	r := &countingResumer{}
	s.Breakpoint(r, 1, 0xDEADBEEF, nil)
	if r.n != 1 {
		t.Fatalf("resume called %d times, want 1 even with no registered id", r.n)
	}
}

func TestUnregisterBreakpointRemovesFromIndex(t *testing.T) {
	s := New()
	s.RegisterBreakpoint(5, 1)
	s.UnregisterBreakpoint(5, 1)

	r := &countingResumer{}
	s.Breakpoint(r, 1, 5, nil)
	if r.n != 1 {
		t.Fatal("resume should still fire even when no id remains")
	}
	expectNoEvent(t, s)
}

func TestExitProcessDoesNotResume(t *testing.T) {
	s := New()
	s.ExitProcess(0)
	got := drain(t, s)
	if got.Kind != model.EventExited {
		t.Fatalf("got %v, want Exited", got.Kind)
	}
}

func TestExitProcessSuppressedDuringDisconnect(t *testing.T) {
	s := New()

	// Simulate a stale ExitProcess racing Disconnect's deliberate
	// teardown: the engine sets suppressExit before tearing the session
	// down, so a superseded session's ExitProcess must no-op rather
	// than close a channel nobody reads.
	atomic.StoreInt32(&s.suppressExit, 1)
	s.ExitProcess(1)

	expectNoEvent(t, s)
}

func TestResetIncrementsGenerationAndClearsBreakpoints(t *testing.T) {
	s := New()
	gen0 := s.Generation()
	s.RegisterBreakpoint(1, 1)

	s.Reset()

	if s.Generation() != gen0+1 {
		t.Fatalf("generation = %d, want %d", s.Generation(), gen0+1)
	}
	r := &countingResumer{}
	s.Breakpoint(r, 1, 1, nil)
	expectNoEvent(t, s)
}

func TestEventsStampedWithCurrentGeneration(t *testing.T) {
	s := New()
	r := &countingResumer{}
	s.CreateThread(r, 1)
	s.LoadModule(r, "Program.dll")
	e := drain(t, s)
	if e.Generation != s.Generation() {
		t.Fatalf("Generation = %d, want %d", e.Generation, s.Generation())
	}
}

func TestExceptionV1SetsPendingAndBlocksV2(t *testing.T) {
	s := New()
	reader := &fakeExceptionReader{info: ExceptionInfo{TypeName: "System.Exception", Message: "boom"}}
	s.SetFirstChanceExceptions(true)

	r := &countingResumer{}
	s.Exception(r, 3, reader, true)
	v1 := drain(t, s)
	if v1.ExceptionType != "System.Exception" || !v1.IsUnhandled {
		t.Fatalf("got %+v", v1)
	}

	s.ExceptionV2(r, 3, reader)
	expectNoEvent(t, s)

	s.ExceptionUnwind(r)
	s.ExceptionV2(r, 3, reader)
	v2 := drain(t, s)
	if v2.IsUnhandled {
		t.Fatal("v2 (first-chance) exception must report IsUnhandled=false")
	}
}

func TestExceptionV2SkippedWhenFirstChanceDisabled(t *testing.T) {
	s := New()
	reader := &fakeExceptionReader{info: ExceptionInfo{TypeName: "System.Exception", Message: "boom"}}
	r := &countingResumer{}

	s.ExceptionV2(r, 1, reader)
	if r.n != 1 {
		t.Fatal("ExceptionV2 must still resume even when first-chance reporting is off")
	}
	expectNoEvent(t, s)
}

func TestExceptionReadFailureFallsBackToSentinel(t *testing.T) {
	s := New()
	reader := &fakeExceptionReader{err: errBoom}
	r := &countingResumer{}
	s.Exception(r, 1, reader, true)
	got := drain(t, s)
	if got.ExceptionType != "<unknown>" {
		t.Fatalf("ExceptionType = %q, want sentinel on read failure", got.ExceptionType)
	}
}

func TestAllAdministrativeCallbacksResume(t *testing.T) {
	s := New()
	r := &countingResumer{}

	s.LoadClass(r)
	s.UnloadClass(r)
	s.DebuggerError(r)
	s.LogSwitch(r)
	s.CreateAppDomain(r)
	s.ExitAppDomain(r)
	s.LoadAssembly(r)
	s.UnloadAssembly(r)
	s.ControlCTrap(r)
	s.NameChange(r)
	s.UpdateModuleSymbols(r)
	s.EditAndContinueRemap(r)
	s.BreakpointSetError(r)
	s.UnloadModule(r, "x.dll")
	s.ExitThread(r, 1)
	s.FunctionRemapOpportunity(r)
	s.FunctionRemapComplete(r)
	s.CreateConnection(r)
	s.ChangeConnection(r)
	s.DestroyConnection(r)
	s.MDANotification(r)

	if r.n != 21 {
		t.Fatalf("resume called %d times, want 21 (one per administrative callback)", r.n)
	}
}

var errBoom = &stringError{"boom"}

type stringError struct{ s string }

func (e *stringError) Error() string { return e.s }
