package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clrdbg/clrdbg-mcp/internal/engine"
	"github.com/clrdbg/clrdbg-mcp/internal/model"
	"github.com/clrdbg/clrdbg-mcp/internal/value"
)

type fakeBinder struct{}

func (fakeBinder) CreateProcessForLaunch(cmdline string, suspended bool) (int, engine.ResumeHandle, error) {
	return 4242, "h", nil
}
func (fakeBinder) RegisterForRuntimeStartup(pid int, onStartup engine.StartupFunc) (interface{}, error) {
	go onStartup(pid, nil)
	return "unreg", nil
}
func (fakeBinder) ResumeProcess(h engine.ResumeHandle) error     { return nil }
func (fakeBinder) CloseResumeHandle(h engine.ResumeHandle) error { return nil }
func (fakeBinder) Path() string                                  { return "/fake/libdbgshim.so" }

type fakeController struct{}

func (fakeController) FunctionBreakpoint(token, off uint32) (engine.NativeBreakpoint, error) {
	return nil, nil
}
func (fakeController) Continue() error { return nil }
func (fakeController) Threads() ([]model.Thread, error) {
	return []model.Thread{{ID: 1}}, nil
}
func (fakeController) StackTrace(threadID int) ([]engine.NativeFrame, error) { return nil, nil }
func (fakeController) Stepper(threadID int) (engine.NativeStepper, error)    { return nil, nil }
func (fakeController) LocalValue(threadID, slot int) (value.NativeValue, error) {
	return nil, model.NewNativeError(model.HresultILVarNotAvailable, "done")
}
func (fakeController) StaticFieldSource() value.StaticFieldSource { return nil }
func (fakeController) MetadataSource() value.MetadataSource       { return nil }
func (fakeController) Terminate(time.Duration) error               { return nil }
func (fakeController) Detach() error                                { return nil }

func newTestDispatcher() *Dispatcher {
	eng := engine.New(fakeBinder{}, nil, zap.NewNop().Sugar())
	newCtrl := func(pid int, native interface{}, gen uint64) (engine.Controller, error) {
		return fakeController{}, nil
	}
	return NewDispatcher(eng, newCtrl)
}

func TestStatusReportsIdleBeforeLaunch(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), Request{ID: 1, Tool: "status"})
	if !resp.Success {
		t.Fatalf("status: %s", resp.Error)
	}
	var out map[string]string
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatal(err)
	}
	if out["state"] != string(model.StateIdle) {
		t.Fatalf("state = %q, want idle", out["state"])
	}
}

func TestLaunchThenSetBreakpointThenStatusRunning(t *testing.T) {
	d := newTestDispatcher()

	launchParams, _ := json.Marshal(map[string]interface{}{"projectPath": "/tmp/proj"})
	resp := d.Dispatch(context.Background(), Request{ID: 1, Tool: "launch", Params: launchParams})
	if !resp.Success {
		t.Fatalf("launch: %s", resp.Error)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.eng.State() != model.StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.eng.State() != model.StateRunning {
		t.Fatalf("state = %v, want running", d.eng.State())
	}

	bpParams, _ := json.Marshal(map[string]interface{}{"sourceFile": "Program.cs", "line": 1})
	resp = d.Dispatch(context.Background(), Request{ID: 2, Tool: "set_breakpoint", Params: bpParams})
	if !resp.Success {
		t.Fatalf("set_breakpoint: %s", resp.Error)
	}
	var out map[string]model.BreakpointID
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatal(err)
	}
	if out["id"] != 1 {
		t.Fatalf("id = %d, want 1", out["id"])
	}
}

func TestUnknownToolReturnsError(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), Request{ID: 1, Tool: "nope"})
	if resp.Success {
		t.Fatal("expected failure for unknown tool")
	}
}
