// Package shim binds dynamically, at runtime, to libdbgshim.so and
// exposes the four native entry points the debug engine needs to launch
// or attach to a managed process (CreateProcessForLaunch,
// RegisterForRuntimeStartup, ResumeProcess, CloseResumeHandle), plus a
// Register/Unregister keep-alive table for the runtime-startup callback.
//
// A library-not-found or symbol-not-found error here is fatal and must
// be surfaced before any session is created (spec.md §4.A, §7 Config
// errors).
package shim

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef int (*createProcessForLaunchFn)(const char*, int, int*, void**);
typedef int (*registerForRuntimeStartupFn)(int, void*, void*, void**);
typedef int (*resumeProcessFn)(void*);
typedef int (*closeResumeHandleFn)(void*);

static int callCreateProcessForLaunch(void *fn, const char *cmdline, int suspended, int *pid, void **resumeHandle) {
	return ((createProcessForLaunchFn)fn)(cmdline, suspended, pid, resumeHandle);
}

static int callRegisterForRuntimeStartup(void *fn, int pid, void *callback, void *param, void **unregisterToken) {
	return ((registerForRuntimeStartupFn)fn)(pid, callback, param, unregisterToken);
}

static int callResumeProcess(void *fn, void *resumeHandle) {
	return ((resumeProcessFn)fn)(resumeHandle);
}

static int callCloseResumeHandle(void *fn, void *h) {
	return ((closeResumeHandleFn)fn)(h);
}
*/
import "C"

import (
	"fmt"
	"os"
	"sync"
	"unsafe"
)

// envShimPath is the environment variable consulted before the default
// install location.
const envShimPath = "CLRDBG_SHIM_PATH"

const defaultShimPath = "/usr/share/dotnet/shared/Microsoft.NETCore.App/libdbgshim.so"

// Loader owns a single dlopen handle and its four resolved symbols.
// It is safe to share across an engine's lifetime; it is not meant to
// be reopened per-session.
type Loader struct {
	path   string
	handle unsafe.Pointer

	createProcessForLaunch    unsafe.Pointer
	registerForRuntimeStartup unsafe.Pointer
	resumeProcessSym          unsafe.Pointer
	closeResumeHandleSym      unsafe.Pointer

	mu        sync.Mutex
	keepAlive map[uint64]interface{} // allocated by Load, never filled; callbacks live in globalRegistry
}

// Load resolves the shim path (env var, falling back to the default
// install location) and binds all four entry points. Any failure here
// is a Config error and must be treated as fatal by the caller before a
// session is created.
func Load() (*Loader, error) {
	path := os.Getenv(envShimPath)
	if path == "" {
		path = defaultShimPath
	}

	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_GLOBAL)
	if handle == nil {
		return nil, fmt.Errorf("shim: could not load %s: %s", path, C.GoString(C.dlerror()))
	}

	l := &Loader{path: path, handle: handle, keepAlive: make(map[uint64]interface{})}

	var err error
	if l.createProcessForLaunch, err = l.sym("CreateProcessForLaunch"); err != nil {
		return nil, err
	}
	if l.registerForRuntimeStartup, err = l.sym("RegisterForRuntimeStartup"); err != nil {
		return nil, err
	}
	if l.resumeProcessSym, err = l.sym("ResumeProcess"); err != nil {
		return nil, err
	}
	if l.closeResumeHandleSym, err = l.sym("CloseResumeHandle"); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Loader) sym(name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	s := C.dlsym(l.handle, cname)
	if s == nil {
		return nil, fmt.Errorf("shim: symbol %s not found in %s: %s", name, l.path, C.GoString(C.dlerror()))
	}
	return s, nil
}

// ResumeHandle is an opaque native handle returned by
// CreateProcessForLaunch and consumed by ResumeProcess/CloseResumeHandle.
type ResumeHandle struct {
	ptr unsafe.Pointer
}

// CreateProcessForLaunch starts cmdline suspended and returns its pid
// plus a resume handle the caller must later pass to ResumeProcess and
// CloseResumeHandle.
func (l *Loader) CreateProcessForLaunch(cmdline string, suspended bool) (pid int, handle *ResumeHandle, err error) {
	ccmd := C.CString(cmdline)
	defer C.free(unsafe.Pointer(ccmd))

	var cpid C.int
	var cresume unsafe.Pointer
	suspendedInt := C.int(0)
	if suspended {
		suspendedInt = C.int(1)
	}

	rc := C.callCreateProcessForLaunch(l.createProcessForLaunch, ccmd, suspendedInt, &cpid, &cresume)
	if rc != 0 {
		return 0, nil, fmt.Errorf("shim: CreateProcessForLaunch failed: rc=0x%08x", uint32(rc))
	}

	return int(cpid), &ResumeHandle{ptr: cresume}, nil
}

// StartupCallback is invoked by the shim on a thread it creates itself,
// possibly seconds after RegisterForRuntimeStartup returns, once
// clrdbgShimStartupTrampoline has found it by its keep-alive token;
// nativeCordbg is the opaque ICorDebugController pointer the caller
// must convert and Initialize.
type StartupCallback func(pid int, nativeCordbg unsafe.Pointer)

//export clrdbgShimStartupTrampoline
func clrdbgShimStartupTrampoline(pid C.int, native unsafe.Pointer, cookie unsafe.Pointer) {
	// cookie is the keep-alive token (a per-registration counter, not
	// the engine's session generation) encoded directly as a pointer
	// value (see RegisterForRuntimeStartup below), never a
	// pointer to Go memory: the shim retains this cookie and calls back
	// on a thread of its own choosing, arbitrarily long after
	// RegisterForRuntimeStartup returns, which cgo's pointer-passing
	// rules do not allow for an actual Go pointer.
	token := uint64(uintptr(cookie))
	globalRegistryMu.Lock()
	cb, ok := globalRegistry[token]
	globalRegistryMu.Unlock()
	if !ok {
		return // no entry for this token; drop the callback
	}
	cb(int(pid), native)
}

// globalRegistry is the process-wide keep-alive table spec.md §4.A
// requires: ShimBinder writes each callback here *before*
// RegisterForRuntimeStartup and removes it only when that registration
// fails; Disconnect does not clear entries. Keyed by a per-registration
// token rather than by pid, because a pid can be reused by the OS
// between the call and the callback firing.
var (
	globalRegistryMu sync.Mutex
	globalRegistry   = make(map[uint64]StartupCallback)
)

// Register stores cb in the keep-alive table under token and arranges
// for RegisterForRuntimeStartup's C callback to look it up by that
// token. Unregister removes the entry; the engine's Disconnect does not
// call it, so an entry whose registration succeeded stays until the
// process exits (entries are small and few). Registering *after*
// RegisterForRuntimeStartup instead of before is a correctness bug that
// crashes the target when the shim's thread fires a callback into freed
// memory.
func Register(token uint64, cb StartupCallback) {
	globalRegistryMu.Lock()
	defer globalRegistryMu.Unlock()
	globalRegistry[token] = cb
}

// Unregister clears the keep-alive entry for token. Safe to call
// multiple times.
func Unregister(token uint64) {
	globalRegistryMu.Lock()
	defer globalRegistryMu.Unlock()
	delete(globalRegistry, token)
}

// RegisterForRuntimeStartup arranges for cb to fire once the CLR has
// loaded in pid. token must already be registered via Register before
// this call, per the contract above.
func (l *Loader) RegisterForRuntimeStartup(pid int, token uint64) (unregisterToken unsafe.Pointer, err error) {
	if _, ok := peekRegistry(token); !ok {
		return nil, fmt.Errorf("shim: internal error: token %d not pinned before RegisterForRuntimeStartup", token)
	}

	// Encode token as the cookie pointer's bit pattern rather than
	// pointing at Go memory; see clrdbgShimStartupTrampoline.
	cookie := unsafe.Pointer(uintptr(token))

	var unregister unsafe.Pointer
	rc := C.callRegisterForRuntimeStartup(l.registerForRuntimeStartup, C.int(pid), unsafe.Pointer(C.clrdbgShimStartupTrampoline), cookie, &unregister)
	if rc != 0 {
		return nil, fmt.Errorf("shim: RegisterForRuntimeStartup failed: rc=0x%08x", uint32(rc))
	}
	return unregister, nil
}

func peekRegistry(token uint64) (StartupCallback, bool) {
	globalRegistryMu.Lock()
	defer globalRegistryMu.Unlock()
	cb, ok := globalRegistry[token]
	return cb, ok
}

// ResumeProcess resumes a process created suspended by
// CreateProcessForLaunch.
func (l *Loader) ResumeProcess(h *ResumeHandle) error {
	rc := C.callResumeProcess(l.resumeProcessSym, h.ptr)
	if rc != 0 {
		return fmt.Errorf("shim: ResumeProcess failed: rc=0x%08x", uint32(rc))
	}
	return nil
}

// CloseResumeHandle releases the native resume handle.
func (l *Loader) CloseResumeHandle(h *ResumeHandle) error {
	rc := C.callCloseResumeHandle(l.closeResumeHandleSym, h.ptr)
	if rc != 0 {
		return fmt.Errorf("shim: CloseResumeHandle failed: rc=0x%08x", uint32(rc))
	}
	return nil
}

// Path reports the shim library path actually bound, for doctor checks
// and log lines.
func (l *Loader) Path() string {
	return l.path
}
