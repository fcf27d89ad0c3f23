package engine

import (
	"sync/atomic"
	"unsafe"

	"github.com/clrdbg/clrdbg-mcp/internal/shim"
)

// ShimBinder adapts *shim.Loader to the Binder interface, converting
// its concrete ResumeHandle/unsafe.Pointer returns into the locally
// declared ResumeHandle/interface{} shapes Launch/Attach use, and
// folding shim.Register/Unregister's keep-alive-table dance into a
// single RegisterForRuntimeStartup call. This is the only file in the
// package that imports internal/shim's concrete types.
type ShimBinder struct {
	Loader *shim.Loader
}

var shimBinderTokens uint64

func (b ShimBinder) CreateProcessForLaunch(cmdline string, suspended bool) (int, ResumeHandle, error) {
	pid, h, err := b.Loader.CreateProcessForLaunch(cmdline, suspended)
	return pid, h, err
}

// RegisterForRuntimeStartup pins onStartup in the shim's process-wide
// keep-alive table *before* calling the native entry point, per
// spec.md §4.A: the shim's callback fires on a thread of its own
// choosing, possibly after this call returns, so the callback must
// already be reachable by the time RegisterForRuntimeStartup is
// called, not installed afterward.
func (b ShimBinder) RegisterForRuntimeStartup(pid int, onStartup StartupFunc) (interface{}, error) {
	token := atomic.AddUint64(&shimBinderTokens, 1)
	shim.Register(token, func(pid int, native unsafe.Pointer) {
		onStartup(pid, native)
	})
	unreg, err := b.Loader.RegisterForRuntimeStartup(pid, token)
	if err != nil {
		shim.Unregister(token)
		return nil, err
	}
	return unreg, nil
}

func (b ShimBinder) ResumeProcess(h ResumeHandle) error {
	return b.Loader.ResumeProcess(h.(*shim.ResumeHandle))
}

func (b ShimBinder) CloseResumeHandle(h ResumeHandle) error {
	return b.Loader.CloseResumeHandle(h.(*shim.ResumeHandle))
}

func (b ShimBinder) Path() string {
	return b.Loader.Path()
}
