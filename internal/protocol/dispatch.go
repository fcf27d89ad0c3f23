package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/clrdbg/clrdbg-mcp/internal/engine"
	"github.com/clrdbg/clrdbg-mcp/internal/metrics"
	"github.com/clrdbg/clrdbg-mcp/internal/model"
)

// Dispatcher routes a Request to the matching Engine method, the same
// single-switch shape as the teacher's dispatchIdeRequest, generalized
// from DBGp command names to the fifteen tool names in spec.md §6.
type Dispatcher struct {
	eng           *engine.Engine
	newCtrl       engine.NewController
	metrics       *metrics.Registry // nil unless the caller opted into --metrics-listen
	maxStackDepth int               // 0 means unbounded
}

// NewDispatcher builds a Dispatcher over eng. newCtrl is forwarded
// verbatim to Launch/Attach/LaunchTest.
func NewDispatcher(eng *engine.Engine, newCtrl engine.NewController) *Dispatcher {
	return &Dispatcher{eng: eng, newCtrl: newCtrl}
}

// SetMetrics attaches a metrics registry; subsequent tool calls
// increment its counters. Safe to leave unset, in which case
// dispatching never touches metrics at all.
func (d *Dispatcher) SetMetrics(r *metrics.Registry) {
	d.metrics = r
}

// SetMaxStackDepth bounds how many frames stacktrace returns per
// thread; 0 (the zero value) leaves it unbounded.
func (d *Dispatcher) SetMaxStackDepth(n int) {
	d.maxStackDepth = n
}

func (d *Dispatcher) truncate(frames []model.StackFrame) []model.StackFrame {
	if d.maxStackDepth > 0 && len(frames) > d.maxStackDepth {
		return frames[:d.maxStackDepth]
	}
	return frames
}

// Dispatch executes req and returns the Response to write back. It
// never panics out: every handler translates engine errors into
// Response.Error per spec.md §7's "public operations translate errors
// into a result variant" propagation policy.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	resp := d.dispatch(ctx, req)
	resp.ID = req.ID
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	switch req.Tool {
	case "launch":
		return d.launch(req.Params)
	case "attach":
		return d.attach(req.Params)
	case "launch_test":
		return d.launchTest(ctx, req.Params)
	case "disconnect":
		return d.disconnect(req.Params)
	case "status":
		return d.status()
	case "set_breakpoint":
		return d.setBreakpoint(req.Params)
	case "remove_breakpoint":
		return d.removeBreakpoint(req.Params)
	case "continue":
		return d.engineErr(d.eng.Continue())
	case "step_over":
		return d.stepResult("over", req.Params, d.eng.StepOver)
	case "step_into":
		return d.stepResult("into", req.Params, d.eng.StepInto)
	case "step_out":
		return d.stepResult("out", req.Params, d.eng.StepOut)
	case "pause":
		return d.engineErr(d.eng.Pause())
	case "variables":
		return d.variables(req.Params)
	case "stacktrace":
		return d.stacktrace(req.Params)
	case "evaluate":
		return d.evaluate(req.Params)
	default:
		return errResult(fmt.Sprintf("unknown tool %q", req.Tool))
	}
}

func (d *Dispatcher) engineErr(err *model.EngineError) Response {
	if err != nil {
		return errResult(err.Error())
	}
	return okResult(map[string]string{"state": string(d.eng.State())})
}

type launchParams struct {
	ProjectPath           string `json:"projectPath"`
	AppDllPath            string `json:"appDllPath"`
	FirstChanceExceptions bool   `json:"firstChanceExceptions"`
}

func (d *Dispatcher) launch(raw json.RawMessage) Response {
	var p launchParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResult(fmt.Sprintf("launch: bad params: %v", err))
	}
	if err := d.eng.Launch(engine.LaunchOptions{
		ProjectDir:            p.ProjectPath,
		FirstChanceExceptions: p.FirstChanceExceptions,
		Build:                 true,
	}, d.newCtrl); err != nil {
		return errResult(err.Error())
	}
	if d.metrics != nil {
		d.metrics.RecordSessionLaunched()
	}
	return okResult(map[string]string{"state": string(d.eng.State())})
}

type attachParams struct {
	ProcessID int `json:"processId"`
}

func (d *Dispatcher) attach(raw json.RawMessage) Response {
	var p attachParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResult(fmt.Sprintf("attach: bad params: %v", err))
	}
	if err := d.eng.Attach(engine.AttachOptions{PID: p.ProcessID}, d.newCtrl); err != nil {
		return errResult(err.Error())
	}
	if d.metrics != nil {
		d.metrics.RecordSessionAttached()
	}
	return okResult(map[string]interface{}{
		"state":       string(d.eng.State()),
		"pid":         p.ProcessID,
		"processName": processName(p.ProcessID),
	})
}

// processName reads /proc/<pid>/comm, returning "" if unavailable
// (e.g. the process has already exited, or the platform has no /proc).
func processName(pid int) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

type launchTestParams struct {
	ProjectPath string `json:"projectPath"`
	Filter      string `json:"filter"`
}

func (d *Dispatcher) launchTest(ctx context.Context, raw json.RawMessage) Response {
	var p launchTestParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResult(fmt.Sprintf("launch_test: bad params: %v", err))
	}
	projectDir := p.ProjectPath
	if p.Filter != "" {
		projectDir = fmt.Sprintf("%s --filter %s", projectDir, p.Filter)
	}
	if err := d.eng.LaunchTest(ctx, engine.LaunchTestOptions{ProjectDir: projectDir}, d.newCtrl); err != nil {
		return errResult(err.Error())
	}
	return okResult(map[string]interface{}{"state": string(d.eng.State())})
}

func (d *Dispatcher) disconnect(raw json.RawMessage) Response {
	var p struct {
		Terminate bool `json:"terminate"`
	}
	_ = json.Unmarshal(raw, &p)
	if err := d.eng.Disconnect(p.Terminate, 0); err != nil {
		return errResult(err.Error())
	}
	if d.metrics != nil {
		reason := "detach"
		if p.Terminate {
			reason = "terminate"
		}
		d.metrics.RecordSessionTerminated(reason)
	}
	return okResult(map[string]string{"state": string(d.eng.State())})
}

func (d *Dispatcher) status() Response {
	return okResult(map[string]string{
		"state":   string(d.eng.State()),
		"version": Version,
	})
}

type setBreakpointParams struct {
	DllPath    string `json:"dllPath"`
	SourceFile string `json:"sourceFile"`
	Line       int    `json:"line"`
}

func (d *Dispatcher) setBreakpoint(raw json.RawMessage) Response {
	var p setBreakpointParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResult(fmt.Sprintf("set_breakpoint: bad params: %v", err))
	}
	id, err := d.eng.SetBreakpoint(p.DllPath, p.SourceFile, p.Line)
	if err != nil {
		return errResult(err.Error())
	}
	if d.metrics != nil {
		d.metrics.RecordBreakpointSet()
	}
	return okResult(map[string]interface{}{"id": id})
}

func (d *Dispatcher) removeBreakpoint(raw json.RawMessage) Response {
	var p struct {
		ID model.BreakpointID `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResult(fmt.Sprintf("remove_breakpoint: bad params: %v", err))
	}
	if err := d.eng.RemoveBreakpoint(p.ID); err != nil {
		return errResult(err.Error())
	}
	return okResult(map[string]bool{"ok": true})
}

func (d *Dispatcher) stepResult(kind string, raw json.RawMessage, step func(int) *model.EngineError) Response {
	var p struct {
		ThreadID int `json:"threadId"`
	}
	_ = json.Unmarshal(raw, &p)
	if err := step(p.ThreadID); err != nil {
		return errResult(err.Error())
	}
	if d.metrics != nil {
		d.metrics.RecordStep(kind)
	}
	return okResult(map[string]string{"state": string(d.eng.State())})
}

func (d *Dispatcher) variables(raw json.RawMessage) Response {
	var p struct {
		ThreadID int `json:"thread_id"`
	}
	_ = json.Unmarshal(raw, &p)
	vars, err := d.eng.GetLocals(p.ThreadID)
	if err != nil {
		return errResult(err.Error())
	}
	return okResult(vars)
}

func (d *Dispatcher) stacktrace(raw json.RawMessage) Response {
	var p struct {
		ThreadID int `json:"thread_id"`
	}
	_ = json.Unmarshal(raw, &p)
	if p.ThreadID != 0 {
		frames, err := d.eng.GetStackTrace(p.ThreadID)
		if err != nil {
			return errResult(err.Error())
		}
		return okResult(d.truncate(frames))
	}

	threads, err := d.eng.Threads()
	if err != nil {
		return errResult(err.Error())
	}
	type threadFrames struct {
		ID     int                 `json:"id"`
		Frames []model.StackFrame `json:"frames"`
	}
	out := make([]threadFrames, 0, len(threads))
	for _, t := range threads {
		frames, ferr := d.eng.GetStackTrace(t.ID)
		if ferr != nil {
			continue
		}
		out = append(out, threadFrames{ID: t.ID, Frames: d.truncate(frames)})
	}
	return okResult(map[string]interface{}{"threads": out})
}

func (d *Dispatcher) evaluate(raw json.RawMessage) Response {
	var p struct {
		ThreadID   int    `json:"thread_id"`
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return errResult(fmt.Sprintf("evaluate: bad params: %v", err))
	}
	res, err := d.eng.Evaluate(p.ThreadID, p.Expression)
	if err != nil {
		return errResult(err.Error())
	}
	return okResult(res)
}

// Version is reported by the status tool; overridden at build time via
// -ldflags in the real binary, the same mechanism most cobra-based CLIs
// in the pack use instead of hardcoding a string here.
var Version = "dev"
