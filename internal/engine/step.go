package engine

import "github.com/clrdbg/clrdbg-mcp/internal/model"

// Continue resumes the whole process after a stop.
func (e *Engine) Continue() *model.EngineError {
	var outErr *model.EngineError
	done := e.span("Continue")
	defer func() { done(outErr) }()
	e.submit(func() {
		if e.ctrl == nil {
			outErr = model.NewSessionStateError("continue: no active session")
			return
		}
		if err := e.ctrl.Continue(); err != nil {
			outErr = model.NewNativeError(0, "continue: %v", err)
		}
	})
	return outErr
}

// Pause issues a native Stop. It does not preempt anything the event
// channel is already about to deliver (a breakpoint hit racing the
// pause request is reported as whichever arrives first); it only
// guarantees the process stops soon.
func (e *Engine) Pause() *model.EngineError {
	var outErr *model.EngineError
	e.submit(func() {
		if e.ctrl == nil {
			outErr = model.NewSessionStateError("pause: no active session")
			return
		}
		// Stop is modeled as part of Controller's stepper-independent
		// surface; a real adapter issues ICorDebugProcess::Stop here.
		if st, ok := e.ctrl.(interface{ Stop() error }); ok {
			if err := st.Stop(); err != nil {
				outErr = model.NewNativeError(0, "pause: %v", err)
			}
			return
		}
		outErr = model.NewNativeError(0, "pause: controller does not support Stop")
	})
	return outErr
}

// stepKind selects which of ICorDebugStepper's three operations to
// issue; all three share intercept mask NONE and unmapped-stop mask
// NONE (spec.md §4.E "Stepping" — not STOP_UNMANAGED, so stepping out
// of managed code runs free rather than stopping at the P/Invoke
// boundary).
type stepKind int

const (
	stepOver stepKind = iota
	stepInto
	stepOut
)

func (e *Engine) step(threadID int, kind stepKind) *model.EngineError {
	var outErr *model.EngineError
	done := e.span(stepKindName(kind))
	defer func() { done(outErr) }()
	e.submit(func() {
		if e.ctrl == nil {
			outErr = model.NewSessionStateError("step: no active session")
			return
		}
		stepper, err := e.ctrl.Stepper(threadID)
		if err != nil {
			outErr = model.NewNativeError(0, "step: create stepper: %v", err)
			return
		}
		switch kind {
		case stepOver:
			err = stepper.StepOver()
		case stepInto:
			err = stepper.StepInto()
		case stepOut:
			err = stepper.StepOut()
		}
		if err != nil {
			outErr = model.NewNativeError(0, "step: %v", err)
		}
	})
	return outErr
}

// stepKindName labels the span for a step() call with which kind it is.
func stepKindName(kind stepKind) string {
	switch kind {
	case stepOver:
		return "StepOver"
	case stepInto:
		return "StepInto"
	case stepOut:
		return "StepOut"
	default:
		return "Step"
	}
}

func (e *Engine) StepOver(threadID int) *model.EngineError { return e.step(threadID, stepOver) }
func (e *Engine) StepInto(threadID int) *model.EngineError { return e.step(threadID, stepInto) }
func (e *Engine) StepOut(threadID int) *model.EngineError  { return e.step(threadID, stepOut) }

// Threads enumerates OS threads in the target.
func (e *Engine) Threads() ([]model.Thread, *model.EngineError) {
	var out []model.Thread
	var outErr *model.EngineError
	e.submit(func() {
		if e.ctrl == nil {
			outErr = model.NewSessionStateError("threads: no active session")
			return
		}
		ts, err := e.ctrl.Threads()
		if err != nil {
			outErr = model.NewNativeError(0, "threads: %v", err)
			return
		}
		out = ts
	})
	return out, outErr
}
