package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
	"github.com/clrdbg/clrdbg-mcp/internal/pdb"
	"github.com/clrdbg/clrdbg-mcp/internal/value"
	"go.uber.org/zap"
)

type fakeBinder struct {
	pid          int
	resumed      bool
	closed       bool
	registerErr  error
	registerHits int
}

func (b *fakeBinder) CreateProcessForLaunch(cmdline string, suspended bool) (int, ResumeHandle, error) {
	b.pid = 4242
	return b.pid, "fake-handle", nil
}

// RegisterForRuntimeStartup simulates the real shim: it fires
// onStartup on a goroutine of its own, after returning, never on the
// calling goroutine: the engine calls this from inside a submit()
// closure on the owner goroutine, and onStartup itself calls submit(),
// so a synchronous call would deadlock the owner goroutine.
func (b *fakeBinder) RegisterForRuntimeStartup(pid int, onStartup StartupFunc) (interface{}, error) {
	b.registerHits++
	if b.registerErr != nil {
		return nil, b.registerErr
	}
	go onStartup(pid, nil)
	return "unreg", nil
}

func (b *fakeBinder) ResumeProcess(h ResumeHandle) error      { b.resumed = true; return nil }
func (b *fakeBinder) CloseResumeHandle(h ResumeHandle) error  { b.closed = true; return nil }
func (b *fakeBinder) Path() string                            { return "/fake/libdbgshim.so" }

type fakeStepper struct{ kind stepKind }

func (s *fakeStepper) StepInto() error { s.kind = stepInto; return nil }
func (s *fakeStepper) StepOver() error { s.kind = stepOver; return nil }
func (s *fakeStepper) StepOut() error  { s.kind = stepOut; return nil }

type fakeBreakpoint struct{ token uint32 }

func (b *fakeBreakpoint) Token() uint32     { return b.token }
func (b *fakeBreakpoint) Deactivate() error { return nil }

type fakeController struct {
	continued  int
	breakpoints []uint32
	stepper    *fakeStepper
	terminated bool
	detached   bool
	frames     []NativeFrame
}

func (c *fakeController) FunctionBreakpoint(token uint32, off uint32) (NativeBreakpoint, error) {
	c.breakpoints = append(c.breakpoints, token)
	return &fakeBreakpoint{token: token}, nil
}
func (c *fakeController) Continue() error { c.continued++; return nil }
func (c *fakeController) Threads() ([]model.Thread, error) {
	return []model.Thread{{ID: 1}, {ID: 2}}, nil
}
func (c *fakeController) StackTrace(threadID int) ([]NativeFrame, error) { return c.frames, nil }
func (c *fakeController) Stepper(threadID int) (NativeStepper, error) {
	c.stepper = &fakeStepper{}
	return c.stepper, nil
}
func (c *fakeController) LocalValue(threadID int, slot int) (value.NativeValue, error) {
	return nil, model.NewNativeError(model.HresultILVarNotAvailable, "no more locals")
}
func (c *fakeController) StaticFieldSource() value.StaticFieldSource { return nil }
func (c *fakeController) MetadataSource() value.MetadataSource       { return nil }
func (c *fakeController) Terminate(d time.Duration) error            { c.terminated = true; return nil }
func (c *fakeController) Detach() error                              { c.detached = true; return nil }

func newTestEngine() (*Engine, *fakeBinder) {
	b := &fakeBinder{}
	logger := zap.NewNop().Sugar()
	e := New(b, nil, logger)
	return e, b
}

func TestLaunchDrivesShimSequenceAndReachesRunning(t *testing.T) {
	e, b := newTestEngine()
	defer e.Shutdown()

	ctrl := &fakeController{}
	newCtrl := func(pid int, native interface{}, gen uint64) (Controller, error) { return ctrl, nil }

	if err := e.Launch(LaunchOptions{ProjectDir: "/tmp/proj"}, newCtrl); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	waitForState(t, e, model.StateRunning)

	if !b.resumed || !b.closed {
		t.Fatalf("expected ResumeProcess and CloseResumeHandle to be called, got resumed=%v closed=%v", b.resumed, b.closed)
	}
	if b.registerHits != 1 {
		t.Fatalf("RegisterForRuntimeStartup called %d times, want 1", b.registerHits)
	}
}

func TestLaunchRejectedWhileRunning(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Shutdown()
	ctrl := &fakeController{}
	newCtrl := func(pid int, native interface{}, gen uint64) (Controller, error) { return ctrl, nil }
	if err := e.Launch(LaunchOptions{}, newCtrl); err != nil {
		t.Fatal(err)
	}
	waitForState(t, e, model.StateRunning)

	if err := e.Launch(LaunchOptions{}, newCtrl); err == nil {
		t.Fatal("expected a session-state error launching over a running session")
	}
}

func TestDisconnectTerminatesAndResetsGeneration(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Shutdown()
	ctrl := &fakeController{}
	newCtrl := func(pid int, native interface{}, gen uint64) (Controller, error) { return ctrl, nil }
	_ = e.Launch(LaunchOptions{}, newCtrl)
	waitForState(t, e, model.StateRunning)

	gen0 := e.Generation()
	if err := e.Disconnect(true, time.Second); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if e.State() != model.StateIdle {
		t.Fatalf("state = %v, want idle", e.State())
	}
	if !ctrl.terminated {
		t.Fatal("expected Terminate to be called")
	}
	if e.Generation() == gen0 {
		t.Fatal("expected generation to change across sessions")
	}
}

func TestStepDispatchesCorrectKind(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Shutdown()
	ctrl := &fakeController{}
	newCtrl := func(pid int, native interface{}, gen uint64) (Controller, error) { return ctrl, nil }
	_ = e.Launch(LaunchOptions{}, newCtrl)
	waitForState(t, e, model.StateRunning)

	if err := e.StepInto(1); err != nil {
		t.Fatal(err)
	}
	if ctrl.stepper.kind != stepInto {
		t.Fatalf("kind = %v, want stepInto", ctrl.stepper.kind)
	}
	if err := e.StepOver(1); err != nil {
		t.Fatal(err)
	}
	if ctrl.stepper.kind != stepOver {
		t.Fatalf("kind = %v, want stepOver", ctrl.stepper.kind)
	}
}

func TestThreadsReturnsControllerEnumeration(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Shutdown()
	ctrl := &fakeController{}
	newCtrl := func(pid int, native interface{}, gen uint64) (Controller, error) { return ctrl, nil }
	_ = e.Launch(LaunchOptions{}, newCtrl)
	waitForState(t, e, model.StateRunning)

	threads, err := e.Threads()
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 {
		t.Fatalf("got %d threads, want 2", len(threads))
	}
}

func TestGetLocalsStopsAtILVarNotAvailableSentinel(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Shutdown()
	ctrl := &fakeController{frames: []NativeFrame{{MethodToken: 0x06000001, HasSource: true}}}
	newCtrl := func(pid int, native interface{}, gen uint64) (Controller, error) { return ctrl, nil }
	_ = e.Launch(LaunchOptions{}, newCtrl)
	waitForState(t, e, model.StateRunning)
	e.onModuleLoaded("Program.dll", &fakePdbModule{locals: map[int]string{0: "x", 1: "y"}})

	vars, err := e.GetLocals(1)
	if err != nil {
		t.Fatalf("GetLocals: %v", err)
	}
	if len(vars) != 0 {
		t.Fatalf("expected enumeration to stop at the IL-var-not-available sentinel on slot 0, got %v", vars)
	}
}

// fakePdbModule is a minimal pdbModule fixture, avoiding any real
// PE/Portable-PDB bytes for breakpoint-resolution tests.
type fakePdbModule struct {
	locations map[string][]pdb.LocationMatch // "file:line" -> matches
	locals    map[int]string                 // slot -> name, for every method token
}

func (m *fakePdbModule) FindAllLocations(file string, line int) []pdb.LocationMatch {
	return m.locations[fmt.Sprintf("%s:%d", file, line)]
}
func (m *fakePdbModule) ReverseLookup(token, ilOffset uint32) (string, int, bool) { return "", 0, false }
func (m *fakePdbModule) GetLocalNames(token uint32) map[int]string               { return m.locals }
func (m *fakePdbModule) GetMethodDeclaringTypeToken(token uint32) (uint32, bool) { return 0, false }
func (m *fakePdbModule) FindTypeByName(name string) (*pdb.TypeDebugInfo, bool)   { return nil, false }
func (m *fakePdbModule) GetType(token uint32) (*pdb.TypeDebugInfo, bool)         { return nil, false }
func (m *fakePdbModule) FormatEnumValue(typeToken uint32, val int64) string      { return "" }

func TestSetBreakpointResolvesImmediatelyAgainstLoadedModule(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Shutdown()
	ctrl := &fakeController{}
	newCtrl := func(pid int, native interface{}, gen uint64) (Controller, error) { return ctrl, nil }
	_ = e.Launch(LaunchOptions{}, newCtrl)
	waitForState(t, e, model.StateRunning)

	mod := &fakePdbModule{locations: map[string][]pdb.LocationMatch{
		"Program.cs:10": {{Token: 0x06000001, ILOffset: 3}},
	}}
	e.onModuleLoaded("Program.dll", mod)

	id, err := e.SetBreakpoint("Program.dll", "Program.cs", 10)
	if err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}
	bps := e.ListBreakpoints()
	if len(bps) != 1 || !bps[0].Resolved || bps[0].ID != id {
		t.Fatalf("got %+v, want one resolved breakpoint", bps)
	}
	if len(ctrl.breakpoints) != 1 || ctrl.breakpoints[0] != 0x06000001 {
		t.Fatalf("controller breakpoints = %v, want [0x06000001]", ctrl.breakpoints)
	}
}

func TestSetBreakpointPendingUntilModuleLoads(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Shutdown()
	ctrl := &fakeController{}
	newCtrl := func(pid int, native interface{}, gen uint64) (Controller, error) { return ctrl, nil }
	_ = e.Launch(LaunchOptions{}, newCtrl)
	waitForState(t, e, model.StateRunning)

	id, _ := e.SetBreakpoint("Program.dll", "Program.cs", 10)
	if bps := e.ListBreakpoints(); bps[0].Resolved {
		t.Fatal("breakpoint should be pending before any module has loaded")
	}

	mod := &fakePdbModule{locations: map[string][]pdb.LocationMatch{
		"Program.cs:10": {{Token: 0x06000001, ILOffset: 3}},
	}}
	e.onModuleLoaded("Program.dll", mod)

	bps := e.ListBreakpoints()
	if !bps[0].Resolved || bps[0].ID != id {
		t.Fatalf("breakpoint should resolve once a matching module loads, got %+v", bps)
	}
}

func waitForState(t *testing.T, e *Engine, want model.SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state never reached %v, stuck at %v", want, e.State())
}
