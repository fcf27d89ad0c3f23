// Package console implements the supplemented interactive REPL: a
// readline-driven manual-testing surface over internal/protocol's
// Dispatcher, independent of the stdio JSON-RPC front end, exactly
// mirroring the teacher's own DebuggerIdeCmdLoop toggle/command loop
// (engine/replay.go) which exists in the teacher purely as a
// development aid for poking a session without a real IDE attached.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/user"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/clrdbg/clrdbg-mcp/internal/engine"
	"github.com/clrdbg/clrdbg-mcp/internal/protocol"
)

const helpText = `
launch <projectDir>                 start and attach to a new process
attach <pid>                        attach to a running process
launch_test <projectDir>            run dotnet test and attach to the host
disconnect                          tear the session down
status                              print the current session state
break <file> <line>                 set a breakpoint
unbreak <id>                        remove a breakpoint
continue | c                        resume execution
step_over | step_into | step_out    step once
pause                               request a stop
locals                              print the active frame's locals
stack                               print the active thread's stack trace
eval <expr>                         evaluate an expression
help                                show this text
quit | q                            exit the console
`

// REPL drives a Dispatcher from a readline prompt.
type REPL struct {
	disp *protocol.Dispatcher
	eng  *engine.Engine
	rl   *readline.Instance
}

// New constructs a REPL bound to disp/eng, reading from the terminal
// the process is attached to. History persists to ~/.clrdbg-mcp.history,
// the same per-user history file the teacher keeps at ~/.dontbug.history.
func New(disp *protocol.Dispatcher, eng *engine.Engine) (*REPL, error) {
	historyFile := ""
	if u, err := user.Current(); err == nil {
		historyFile = u.HomeDir + "/.clrdbg-mcp.history"
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "(clrdbg) ",
		HistoryFile: historyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("console: could not start readline: %w", err)
	}
	return &REPL{disp: disp, eng: eng, rl: rl}, nil
}

// Run drives the read-eval-print loop until the user quits or stdin
// closes, mirroring the teacher's own q/h/t/v/n single-letter command
// dispatch but generalized to named tool commands.
func (r *REPL) Run(ctx context.Context) error {
	defer r.rl.Close()
	go r.pumpEvents(ctx)

	color.Yellow("h <enter> for help")
	reqID := 0
	for {
		line, err := r.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "q" || line == "quit" {
			return nil
		}
		if line == "h" || line == "help" {
			fmt.Println(helpText)
			continue
		}

		reqID++
		req, perr := parseCommand(reqID, line)
		if perr != nil {
			color.Red("clrdbg: %v", perr)
			continue
		}
		resp := r.disp.Dispatch(ctx, req)
		printResponse(resp)
	}
}

// pumpEvents prints engine events as they arrive, color-coded the way
// the teacher's dontbug -> ide narration is (color.Green for replies,
// color.Cyan for inbound traffic).
func (r *REPL) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.eng.Events():
			if !ok {
				return
			}
			color.Cyan("\nevent: %v", ev)
			r.rl.Refresh()
		}
	}
}

func printResponse(resp protocol.Response) {
	if !resp.Success {
		color.Red("error: %s", resp.Error)
		return
	}
	if len(resp.Result) == 0 {
		color.Green("ok")
		return
	}
	var pretty interface{}
	if err := json.Unmarshal(resp.Result, &pretty); err == nil {
		b, _ := json.MarshalIndent(pretty, "", "  ")
		color.Green("%s", b)
		return
	}
	color.Green("%s", resp.Result)
}

// parseCommand turns one line of console input into a Request, the
// console's equivalent of the teacher's "-"/"#"/"t"/"v"/"n" prefix
// dispatch in DebuggerIdeCmdLoop, generalized to whitespace-separated
// command words instead of single-letter toggles.
func parseCommand(id int, line string) (protocol.Request, error) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "launch":
		if len(args) < 1 {
			return protocol.Request{}, fmt.Errorf("usage: launch <projectDir>")
		}
		return jsonRequest(id, "launch", map[string]interface{}{"projectPath": args[0]})
	case "attach":
		if len(args) < 1 {
			return protocol.Request{}, fmt.Errorf("usage: attach <pid>")
		}
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return protocol.Request{}, fmt.Errorf("bad pid %q: %w", args[0], err)
		}
		return jsonRequest(id, "attach", map[string]interface{}{"processId": pid})
	case "launch_test":
		if len(args) < 1 {
			return protocol.Request{}, fmt.Errorf("usage: launch_test <projectDir>")
		}
		return jsonRequest(id, "launch_test", map[string]interface{}{"projectPath": args[0]})
	case "disconnect":
		return jsonRequest(id, "disconnect", nil)
	case "status":
		return jsonRequest(id, "status", nil)
	case "break":
		if len(args) < 2 {
			return protocol.Request{}, fmt.Errorf("usage: break <file> <line>")
		}
		line, err := strconv.Atoi(args[1])
		if err != nil {
			return protocol.Request{}, fmt.Errorf("bad line %q: %w", args[1], err)
		}
		return jsonRequest(id, "set_breakpoint", map[string]interface{}{"sourceFile": args[0], "line": line})
	case "unbreak":
		if len(args) < 1 {
			return protocol.Request{}, fmt.Errorf("usage: unbreak <id>")
		}
		idNum, err := strconv.Atoi(args[0])
		if err != nil {
			return protocol.Request{}, fmt.Errorf("bad id %q: %w", args[0], err)
		}
		return jsonRequest(id, "remove_breakpoint", map[string]interface{}{"id": idNum})
	case "continue", "c":
		return jsonRequest(id, "continue", nil)
	case "step_over", "step_into", "step_out":
		return jsonRequest(id, cmd, nil)
	case "pause":
		return jsonRequest(id, "pause", nil)
	case "locals":
		return jsonRequest(id, "variables", nil)
	case "stack":
		return jsonRequest(id, "stacktrace", nil)
	case "eval":
		if len(args) < 1 {
			return protocol.Request{}, fmt.Errorf("usage: eval <expr>")
		}
		return jsonRequest(id, "evaluate", map[string]interface{}{"expression": strings.Join(args, " ")})
	default:
		return protocol.Request{}, fmt.Errorf("unknown command %q, type 'help' for a list", cmd)
	}
}

func jsonRequest(id int, tool string, params interface{}) (protocol.Request, error) {
	if params == nil {
		return protocol.Request{ID: id, Tool: tool}, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return protocol.Request{}, err
	}
	return protocol.Request{ID: id, Tool: tool, Params: b}, nil
}
