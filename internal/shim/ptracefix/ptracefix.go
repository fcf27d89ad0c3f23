// Package ptracefix works around the kernel 6.12+ ptrace race described
// in spec.md §9: the shim's own thread-creation pattern can trigger a
// race in newer kernels' ptrace implementation that crashes the loader
// shim. The project's current deployment papers over this with an
// external tracing wrapper script; this package gives the engine an
// in-process alternative so the core does not have to depend on that
// wrapper being present.
//
// It does not attempt to fix the kernel bug. It detects a known-bad
// kernel range and, where possible, seizes the child with PTRACE_SEIZE
// (rather than PTRACE_ATTACH/TRACEME) before the shim gets a chance to
// race its own thread creation against a plain attach. Nothing else in
// this module calls SeizeChild or Detach: the shim launches children
// without seizing them.
package ptracefix

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// KnownBadSince is the kernel version spec.md §9 identifies as the
// first to exhibit the race.
const KnownBadSince = "6.12.0"

// KernelVersion returns the running kernel's release string, e.g.
// "6.12.4-arch1-1".
func KernelVersion() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("ptracefix: uname failed: %w", err)
	}
	return cstr(uts.Release[:]), nil
}

func cstr(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// IsKnownBad reports whether release falls in the affected range. It
// only compares the major.minor pair; point releases within 6.12.x and
// anything newer are all considered affected until upstream carries a
// fix, per spec.md's instruction that the core must not assume a
// specific kernel behavior — this is advisory and never blocks a
// launch. `doctor` does not call it; its own check matches only
// 6.12.0 through 6.12.7.
func IsKnownBad(release string) bool {
	major, minor, ok := parseMajorMinor(release)
	if !ok {
		return false
	}
	if major > 6 {
		return true
	}
	if major == 6 && minor >= 12 {
		return true
	}
	return false
}

func parseMajorMinor(release string) (int, int, bool) {
	dash := strings.IndexAny(release, "-+")
	core := release
	if dash >= 0 {
		core = release[:dash]
	}
	parts := strings.SplitN(core, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// SeizeChild attaches to pid with PTRACE_SEIZE instead of the classic
// PTRACE_ATTACH/PTRACE_TRACEME dance, which avoids the stop-signal race
// that PTRACE_ATTACH is prone to on affected kernels. It does not
// otherwise alter the child's scheduling; the shim still owns resuming
// it via ResumeProcess.
func SeizeChild(pid int) error {
	const ptraceSeize = 0x4206
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, ptraceSeize, uintptr(pid), 0, 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("ptracefix: PTRACE_SEIZE(%d) failed: %w", pid, errno)
	}
	return nil
}

// Detach releases a child previously seized with SeizeChild.
func Detach(pid int) error {
	if err := unix.PtraceDetach(pid); err != nil {
		return fmt.Errorf("ptracefix: detach(%d) failed: %w", pid, err)
	}
	return nil
}

// WarnIfAffected writes a one-line advisory to w when the running
// kernel is in the known-bad range. `doctor` does not call it.
func WarnIfAffected(w *bufio.Writer) error {
	release, err := KernelVersion()
	if err != nil {
		return err
	}
	if IsKnownBad(release) {
		fmt.Fprintf(w, "warning: kernel %s is >= %s; the dbgshim loader can race ptrace on launch. "+
			"If you see spurious segfaults on launch, run under the external tracing wrapper.\n", release, KnownBadSince)
	}
	return w.Flush()
}
