// Package engine implements the debug engine (spec.md §4.E): the
// single owner-thread, command-channel, session-lifecycle core that
// mediates between concurrent tool calls and ICorDebug.
//
// The engine is written against a Controller interface rather than a
// concrete cgo/COM binding, the same seam internal/value's NativeValue
// and internal/sink's Resumer use: Controller is where a real adapter
// over ICorDebugProcess/ICorDebugStepper/ICorDebugValue would sit once
// bound. That keeps the owner-thread scheduling, session-reuse
// invariants, and breakpoint-resolution algorithm — §4.E's hardest
// correctness properties — unit testable against a fake Controller
// instead of a live CLR. internal/shim and internal/pdb sit behind the
// same kind of seam: Binder (implemented over internal/shim by
// ShimBinder in shim_adapter.go) and pdbModule below.
package engine

import (
	"time"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
	"github.com/clrdbg/clrdbg-mcp/internal/pdb"
	"github.com/clrdbg/clrdbg-mcp/internal/value"
)

// pdbModule is the subset of *pdb.Module the engine needs, named
// locally so breakpoint-resolution/stacktrace/locals tests can supply
// an in-memory fake instead of decoding real PE/Portable-PDB bytes.
// *pdb.Module satisfies this automatically; engine/metadata.go's
// metadataAdapter is the only place that needs the full GetType/
// FormatEnumValue surface pdb.Module itself exposes.
type pdbModule interface {
	FindAllLocations(file string, line int) []pdb.LocationMatch
	ReverseLookup(token, ilOffset uint32) (file string, line int, ok bool)
	GetLocalNames(token uint32) map[int]string
	GetMethodDeclaringTypeToken(token uint32) (uint32, bool)
	FindTypeByName(name string) (*pdb.TypeDebugInfo, bool)
	GetType(token uint32) (*pdb.TypeDebugInfo, bool)
	FormatEnumValue(typeToken uint32, value int64) string
}

// Controller is everything the engine's owner thread needs from a live
// ICorDebug session once the runtime-startup callback has fired and
// Initialize/SetManagedHandler have run.
type Controller interface {
	// FunctionBreakpoint resolves methodToken/ilOffset to a native
	// breakpoint object and activates it.
	FunctionBreakpoint(methodToken uint32, ilOffset uint32) (NativeBreakpoint, error)

	// Continue resumes the whole process (not a per-callback resume,
	// which is sink.Resumer's job).
	Continue() error

	// Threads enumerates OS threads (spec.md §4.E "Thread enumeration":
	// the native API hands these back one at a time through a
	// single-element buffer; Controller's implementation does that
	// marshalling and returns the assembled slice).
	Threads() ([]model.Thread, error)

	// StackTrace walks the call-stack chain for threadID, innermost
	// frame first.
	StackTrace(threadID int) ([]NativeFrame, error)

	// Stepper creates a stepper bound to threadID's active frame, with
	// intercept mask NONE and unmapped-stop mask NONE (spec.md §4.E
	// "Stepping" — emphatically not STOP_UNMANAGED).
	Stepper(threadID int) (NativeStepper, error)

	// LocalValue reads local slot index on threadID's active frame.
	// Returning an error wrapping model.HresultILVarNotAvailable ends
	// GetLocals' enumeration rather than failing the whole call.
	LocalValue(threadID int, slot int) (value.NativeValue, error)

	// StaticFieldSource is handed to value.Reader as-is for
	// Evaluate's and GetLocals' static-field tail.
	StaticFieldSource() value.StaticFieldSource

	// MetadataSource is not called by the engine: value.Reader gets its
	// metadata from readerMeta's metadataAdapter over the loaded module.
	MetadataSource() value.MetadataSource

	// Terminate attempts a clean stop, falling back to a kill after
	// graceTimeout, per spec.md §5 "Resource lifetimes".
	Terminate(graceTimeout time.Duration) error

	// Detach disconnects without terminating the target (attach-only
	// disconnect path).
	Detach() error
}

// NativeBreakpoint is an activated function breakpoint.
type NativeBreakpoint interface {
	Token() uint32
	Deactivate() error
}

// NativeStepper drives a single step operation; exactly one
// StepComplete event arrives via the sink afterward.
type NativeStepper interface {
	StepInto() error
	StepOver() error
	StepOut() error
}

// NativeFrame is one raw frame from Controller.StackTrace, before
// pdb.Module.ReverseLookup/method-name resolution is layered on by
// inspect.go.
type NativeFrame struct {
	MethodToken uint32
	ILOffset    uint32
	HasSource   bool // false for non-IL (native) frames
}

// Binder is the subset of *shim.Loader the Launch/Attach sequence
// drives, named locally so fakes don't need to satisfy the cgo-bearing
// concrete type. RegisterForRuntimeStartup folds the shim's
// keep-alive-table bookkeeping (spec.md §4.A: pin the callback before
// the native call, since the shim fires it on its own thread an
// arbitrary time later) behind the interface, so engine code never
// needs to generate or track a raw token itself.
type Binder interface {
	CreateProcessForLaunch(cmdline string, suspended bool) (pid int, handle ResumeHandle, err error)
	RegisterForRuntimeStartup(pid int, onStartup StartupFunc) (unregisterToken interface{}, err error)
	ResumeProcess(h ResumeHandle) error
	CloseResumeHandle(h ResumeHandle) error
	Path() string
}

// StartupFunc is invoked once the CLR has loaded in the target
// process; native is an opaque ICorDebugController pointer a real
// Controller implementation converts and Initializes.
type StartupFunc func(pid int, native interface{})

// ResumeHandle is the opaque native handle a Binder returns.
type ResumeHandle interface{}
