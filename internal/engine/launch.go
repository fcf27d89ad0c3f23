package engine

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
)

// LaunchOptions configures a Launch call.
type LaunchOptions struct {
	ProjectDir          string // directory containing the .csproj/.sln to build and run
	Args                []string
	FirstChanceExceptions bool
	Build               bool // run `dotnet build` first, per spec.md §4.E step 1
}

// NewController is supplied by the caller (cmd/serve.go in the real
// binary) and produces a Controller once the shim's startup callback
// fires with a native ICorDebugController pointer. native is the
// opaque pointer StartupFunc received; a concrete binding would
// type-assert it back to unsafe.Pointer and call
// QueryInterface/Initialize on it. This build ships no such binding
// (see cmd/serve.go and DESIGN.md); tests inject a fake that ignores
// native entirely.
type NewController func(pid int, native interface{}, sessionGeneration uint64) (Controller, error)

// Launch builds (optionally) and starts a managed process suspended,
// then drives the CreateProcess/RegisterForRuntimeStartup/Resume
// sequence from spec.md §4.E:
//  1. dotnet build (if requested)
//  2. no prior session is disconnected: before the build, the call
//     fails with a session-state error unless the engine is idle or
//     exited
//  3. register the startup callback in the shim's keep-alive table
//     *before* calling RegisterForRuntimeStartup
//  4. CreateProcessForLaunch(suspended=true)
//  5. RegisterForRuntimeStartup
//  6. ResumeProcess + CloseResumeHandle
//  7. the callback itself (on the shim's thread) performs
//     Initialize+SetManagedHandler; the process is never pre-resumed
//     by this function, only by step 6, so the callback always has a
//     chance to attach before managed code runs.
func (e *Engine) Launch(opts LaunchOptions, newCtrl NewController) *model.EngineError {
	if st := e.requireState("launch", model.StateIdle, model.StateExited); st != nil {
		return st
	}

	if opts.Build {
		cmd := exec.Command("dotnet", "build", opts.ProjectDir)
		if out, err := cmd.CombinedOutput(); err != nil {
			return model.NewConfigError("dotnet build failed: %v\n%s", err, out)
		}
	}

	cmdline := fmt.Sprintf("dotnet run --project %s --no-build", opts.ProjectDir)
	for _, a := range opts.Args {
		cmdline += " " + a
	}

	var launchErr *model.EngineError
	e.submit(func() {
		e.mu.Lock()
		gen := e.generation + 1
		e.firstChance = opts.FirstChanceExceptions
		e.mu.Unlock()
		e.sink.SetFirstChanceExceptions(opts.FirstChanceExceptions)

		pid, handle, err := e.binder.CreateProcessForLaunch(cmdline, true)
		if err != nil {
			launchErr = model.NewConfigError("create process: %v", err)
			return
		}

		onStartup := func(pid int, native interface{}) {
			ctrl, cerr := newCtrl(pid, native, gen)
			e.submit(func() {
				if cerr != nil {
					e.log.Errorw("controller init failed", "pid", pid, "err", cerr)
					return
				}
				e.ctrl = ctrl
				e.targetPID = pid
				e.generation = gen
				e.setState(model.StateRunning)
				e.startSession()
			})
		}

		if _, err := e.binder.RegisterForRuntimeStartup(pid, onStartup); err != nil {
			launchErr = model.NewNativeError(0, "register runtime startup: %v", err)
			return
		}
		if err := e.binder.ResumeProcess(handle); err != nil {
			launchErr = model.NewNativeError(0, "resume process: %v", err)
			return
		}
		_ = e.binder.CloseResumeHandle(handle)
	})

	return launchErr
}

// AttachOptions configures an Attach call.
type AttachOptions struct {
	PID                   int
	FirstChanceExceptions bool
	RetryInterval         time.Duration // poll interval while waiting for the CLR to load
	RetryTimeout          time.Duration
}

// Attach drives RegisterForRuntimeStartup against an already-running
// pid, retrying while the target process has not yet loaded a CLR
// (spec.md §4.E "Attach sequence": the target may be mid-startup and
// the shim reports a transient not-yet-loaded condition rather than a
// hard failure).
func (e *Engine) Attach(opts AttachOptions, newCtrl NewController) *model.EngineError {
	if st := e.requireState("attach", model.StateIdle, model.StateExited); st != nil {
		return st
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.RetryTimeout == 0 {
		opts.RetryTimeout = 30 * time.Second
	}

	var attachErr *model.EngineError
	e.submit(func() {
		e.mu.Lock()
		gen := e.generation + 1
		e.firstChance = opts.FirstChanceExceptions
		e.mu.Unlock()
		e.sink.SetFirstChanceExceptions(opts.FirstChanceExceptions)

		onStartup := func(pid int, native interface{}) {
			ctrl, cerr := newCtrl(pid, native, gen)
			e.submit(func() {
				if cerr != nil {
					e.log.Errorw("controller init failed", "pid", pid, "err", cerr)
					return
				}
				e.ctrl = ctrl
				e.targetPID = pid
				e.generation = gen
				e.setState(model.StateAttached)
				e.startSession()
			})
		}

		deadline := time.Now().Add(opts.RetryTimeout)
		for {
			_, err := e.binder.RegisterForRuntimeStartup(opts.PID, onStartup)
			if err == nil {
				break
			}
			if time.Now().After(deadline) {
				attachErr = model.NewConfigError("attach: CLR did not load in pid %d within %s: %v", opts.PID, opts.RetryTimeout, err)
				return
			}
			time.Sleep(opts.RetryInterval)
		}
	})
	return attachErr
}

// Disconnect tears the session down: terminate-or-detach depending on
// how the session started, reset the sink (clears breakpoints, bumps
// generation, swaps the event channel), and return to Idle. Safe to
// call when already idle.
func (e *Engine) Disconnect(terminate bool, graceTimeout time.Duration) *model.EngineError {
	var outErr *model.EngineError
	e.submit(func() {
		e.mu.Lock()
		e.generation++
		e.mu.Unlock()
		if e.state == model.StateIdle || e.state == model.StateExited {
			e.sink.Reset()
			e.breakpoints = make(map[model.BreakpointID]*model.Breakpoint)
			e.pendingByDoc = make(map[string][]model.BreakpointID)
			e.setState(model.StateIdle)
			e.endSession()
			return
		}
		if e.ctrl != nil {
			var err error
			if terminate {
				err = e.ctrl.Terminate(graceTimeout)
			} else {
				err = e.ctrl.Detach()
			}
			if err != nil {
				outErr = model.NewNativeError(0, "disconnect: %v", err)
			}
		}
		if terminate && e.testRunnerPID != 0 {
			if p, err := os.FindProcess(e.testRunnerPID); err == nil {
				_ = p.Kill()
			}
		}
		e.sink.Reset()
		e.ctrl = nil
		e.modules = make(map[string]pdbModule)
		e.breakpoints = make(map[model.BreakpointID]*model.Breakpoint)
		e.pendingByDoc = make(map[string][]model.BreakpointID)
		e.targetPID = 0
		e.testRunnerPID = 0
		e.setState(model.StateIdle)
		e.endSession()
	})
	return outErr
}
