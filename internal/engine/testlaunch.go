package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
	"github.com/kr/pty"
)

// testHostTimeout bounds how long LaunchTest waits for the VSTest
// runner to print the "Process Id: N" line before giving up.
const testHostTimeout = 25 * time.Second

var processIDLine = regexp.MustCompile(`Process Id:\s*(\d+)`)

// LaunchTestOptions configures LaunchTest.
type LaunchTestOptions struct {
	ProjectDir            string
	FirstChanceExceptions bool
}

// LaunchTest builds the test project, spawns `dotnet test` under a pty
// with VSTEST_HOST_DEBUG=1 and VSTEST_DEBUG_NOBP=1 so the VSTest host
// process blocks waiting for a debugger right after printing its own
// pid, line-scans the pty for that "Process Id: N" announcement (the
// same pty/line-scan/timeout shape as the replay launch's gdb-prompt
// scan, generalized from a fixed substring match to a regexp capture),
// then attaches to that pid like a normal Attach. Both the `dotnet
// test` runner's pid and the attached test-host pid are tracked so
// Disconnect can clean up either one.
func (e *Engine) LaunchTest(ctx context.Context, opts LaunchTestOptions, newCtrl NewController) *model.EngineError {
	if st := e.requireState("launch_test", model.StateIdle, model.StateExited); st != nil {
		return st
	}

	build := exec.Command("dotnet", "build", opts.ProjectDir)
	if out, err := build.CombinedOutput(); err != nil {
		return model.NewConfigError("launch_test: dotnet build failed: %v\n%s", err, out)
	}

	cmd := exec.Command("dotnet", "test", opts.ProjectDir, "--no-build")
	cmd.Env = append(os.Environ(), "VSTEST_HOST_DEBUG=1", "VSTEST_DEBUG_NOBP=1")

	f, err := pty.Start(cmd)
	if err != nil {
		return model.NewConfigError("launch_test: could not start dotnet test: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, testHostTimeout)
	defer cancel()

	pidCh := make(chan int, 1)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if m := processIDLine.FindStringSubmatch(line); m != nil {
				pid, _ := strconv.Atoi(m[1])
				pidCh <- pid
				return
			}
		}
		errCh <- fmt.Errorf("test host exited before printing a process id: %v", scanner.Err())
	}()

	var testHostPID int
	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return model.NewConfigError("launch_test: timed out waiting for test host process id")
	case err := <-errCh:
		_ = cmd.Process.Kill()
		return model.NewConfigError("launch_test: %v", err)
	case testHostPID = <-pidCh:
	}

	// Once the handshake line is found, keep draining the pty so the
	// test runner's own output does not block on a full pipe buffer.
	go func() { _, _ = io.Copy(io.Discard, f) }()

	e.submit(func() {
		e.testRunnerPID = cmd.Process.Pid
		e.firstChance = opts.FirstChanceExceptions
	})

	attachErr := e.Attach(AttachOptions{
		PID:                   testHostPID,
		FirstChanceExceptions: opts.FirstChanceExceptions,
	}, newCtrl)
	if attachErr != nil {
		_ = cmd.Process.Kill()
		return attachErr
	}
	return nil
}
