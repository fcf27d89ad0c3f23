package sink

import (
	"sync/atomic"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
)

// The methods below implement ICorDebugManagedCallback (26 methods).
// Administrative callbacks that the engine never surfaces to a caller
// (class/assembly/appdomain load-unload noise, EnC remap plumbing,
// debugger-internal logging) still resume unconditionally; only the
// ones with a caller-meaningful payload build a model.Event.

// Breakpoint fires when a function breakpoint's IL offset is reached.
// bpToken is the breakpoint's declaring method-def token; the sink
// looks up which breakpoint id(s) are registered against it since
// source-generated COM wrappers do not preserve object identity across
// callback invocations (spec.md §4.D "Breakpoint identity").
func (s *Sink) Breakpoint(ctrl Resumer, threadID int, bpToken uint32, frame *model.StackFrame) {
	defer s.resume(ctrl)
	ids := s.breakpointIDsForToken(bpToken)
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		s.emit(model.Event{
			Kind:         model.EventBreakpointHit,
			ThreadID:     threadID,
			BreakpointID: id,
			TopFrame:     frame,
		})
	}
}

// StepComplete fires once after a Step/StepOut call resolves.
func (s *Sink) StepComplete(ctrl Resumer, threadID int, frame *model.StackFrame) {
	defer s.resume(ctrl)
	s.emit(model.Event{Kind: model.EventStopped, Reason: model.StopStep, ThreadID: threadID, TopFrame: frame})
}

// Break fires for an explicit pause request.
func (s *Sink) Break(ctrl Resumer, threadID int, frame *model.StackFrame) {
	defer s.resume(ctrl)
	s.emit(model.Event{Kind: model.EventStopped, Reason: model.StopPause, ThreadID: threadID, TopFrame: frame})
}

// Exception is the version-1, authoritative-for-unhandled exception
// callback. It sets exceptionStopPending so the version-2 first-chance
// callback for the same exception defers to this one instead of
// double-reporting.
func (s *Sink) Exception(ctrl Resumer, threadID int, reader ExceptionReader, unhandled bool) {
	defer s.resume(ctrl)
	info, err := reader.ReadCurrentException(threadID)
	if err != nil {
		info = ExceptionInfo{TypeName: "<unknown>", Message: "<unavailable>"}
	}
	s.setExceptionStopPending(true)
	s.emit(model.Event{
		Kind:             model.EventException,
		ThreadID:         threadID,
		ExceptionType:    info.TypeName,
		ExceptionMessage: info.Message,
		IsUnhandled:      unhandled,
	})
}

// EvalComplete and EvalException report the outcome of a func-eval the
// engine started. Each emits a Stopped(break) event for its thread and
// resumes; the engine's Evaluate starts no func-evals and does not read
// these events.
func (s *Sink) EvalComplete(ctrl Resumer, threadID int) {
	defer s.resume(ctrl)
	s.emit(model.Event{Kind: model.EventStopped, Reason: model.StopBreak, ThreadID: threadID})
}

func (s *Sink) EvalException(ctrl Resumer, threadID int) {
	defer s.resume(ctrl)
	s.emit(model.Event{Kind: model.EventStopped, Reason: model.StopBreak, ThreadID: threadID})
}

// CreateProcess only resumes. It records no session generation, and
// ExitProcess compares none: suppressExit is its only staleness check.
func (s *Sink) CreateProcess(ctrl Resumer) {
	defer s.resume(ctrl)
}

// ExitProcess is the one callback that does not resume: there is no
// process left to resume, so it only writes Exited; the channel stays
// open until the next Reset closes it. A stale ExitProcess from a disconnected
// session is a no-op, guarded by suppressExit.
func (s *Sink) ExitProcess(exitCode int) {
	if atomic.LoadInt32(&s.suppressExit) != 0 {
		return
	}
	s.emit(model.Event{Kind: model.EventExited, ExitCode: exitCode})
}

func (s *Sink) CreateThread(ctrl Resumer, threadID int) {
	defer s.resume(ctrl)
}

func (s *Sink) ExitThread(ctrl Resumer, threadID int) {
	defer s.resume(ctrl)
}

// LoadModule resolves any pending breakpoints registered for
// modulePath; the engine does the actual resolution (it owns the
// pending list), so the sink just surfaces the event.
func (s *Sink) LoadModule(ctrl Resumer, modulePath string) {
	defer s.resume(ctrl)
	s.emit(model.Event{Kind: model.EventModuleLoaded, ModulePath: modulePath})
}

func (s *Sink) UnloadModule(ctrl Resumer, modulePath string) {
	defer s.resume(ctrl)
}

func (s *Sink) LoadClass(ctrl Resumer)   { defer s.resume(ctrl) }
func (s *Sink) UnloadClass(ctrl Resumer) { defer s.resume(ctrl) }

func (s *Sink) DebuggerError(ctrl Resumer) { defer s.resume(ctrl) }
func (s *Sink) LogMessage(ctrl Resumer, text string, stream model.OutputStream) {
	defer s.resume(ctrl)
	s.emit(model.Event{Kind: model.EventOutput, Text: text, Stream: stream})
}
func (s *Sink) LogSwitch(ctrl Resumer) { defer s.resume(ctrl) }

func (s *Sink) CreateAppDomain(ctrl Resumer) { defer s.resume(ctrl) }
func (s *Sink) ExitAppDomain(ctrl Resumer)   { defer s.resume(ctrl) }

func (s *Sink) LoadAssembly(ctrl Resumer)   { defer s.resume(ctrl) }
func (s *Sink) UnloadAssembly(ctrl Resumer) { defer s.resume(ctrl) }

func (s *Sink) ControlCTrap(ctrl Resumer) { defer s.resume(ctrl) }
func (s *Sink) NameChange(ctrl Resumer)   { defer s.resume(ctrl) }

func (s *Sink) UpdateModuleSymbols(ctrl Resumer)   { defer s.resume(ctrl) }
func (s *Sink) EditAndContinueRemap(ctrl Resumer)  { defer s.resume(ctrl) }
func (s *Sink) BreakpointSetError(ctrl Resumer) { defer s.resume(ctrl) }
