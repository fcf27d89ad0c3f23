package sink

import "github.com/clrdbg/clrdbg-mcp/internal/model"

// The methods below implement ICorDebugManagedCallback2/3's additions
// (≈8 methods) on top of callbacks_v1.go's 26, matching spec.md §4.D's
// "≈34 methods total".

// ExceptionV2 is the first-chance exception notification. It only
// reports when the session opted into first-chance exceptions; if the
// version-1 Exception callback for this same exception already fired
// (exceptionStopPending), this one defers silently so the exception is
// not reported twice.
func (s *Sink) ExceptionV2(ctrl Resumer, threadID int, reader ExceptionReader) {
	defer s.resume(ctrl)
	if s.isExceptionStopPending() {
		return
	}
	if !s.firstChance() {
		return
	}
	info, err := reader.ReadCurrentException(threadID)
	if err != nil {
		info = ExceptionInfo{TypeName: "<unknown>", Message: "<unavailable>"}
	}
	s.emit(model.Event{
		Kind:             model.EventException,
		ThreadID:         threadID,
		ExceptionType:    info.TypeName,
		ExceptionMessage: info.Message,
		IsUnhandled:      false,
	})
}

// ExceptionUnwind clears exceptionStopPending once the runtime finishes
// unwinding past the frame the version-1 callback reported.
func (s *Sink) ExceptionUnwind(ctrl Resumer) {
	defer s.resume(ctrl)
	s.setExceptionStopPending(false)
}

func (s *Sink) FunctionRemapOpportunity(ctrl Resumer) { defer s.resume(ctrl) }
func (s *Sink) FunctionRemapComplete(ctrl Resumer)    { defer s.resume(ctrl) }

func (s *Sink) CreateConnection(ctrl Resumer)  { defer s.resume(ctrl) }
func (s *Sink) ChangeConnection(ctrl Resumer)  { defer s.resume(ctrl) }
func (s *Sink) DestroyConnection(ctrl Resumer) { defer s.resume(ctrl) }

func (s *Sink) MDANotification(ctrl Resumer) { defer s.resume(ctrl) }
