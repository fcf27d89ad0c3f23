package engine

import (
	"strings"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
)

// SetBreakpoint registers a source-line breakpoint scoped to dllPath.
// If the named module is already loaded and its PDB resolves
// file:line to an IL offset, the breakpoint is activated against
// Controller immediately; otherwise it is recorded pending and
// resolved the next time a matching module loads (spec.md §4.E
// "Breakpoint resolution": pending vs loaded-module paths share the
// same resolve-and-activate helper, both scoped to the caller's dll).
func (e *Engine) SetBreakpoint(dllPath, file string, line int) (model.BreakpointID, *model.EngineError) {
	var id model.BreakpointID
	var outErr *model.EngineError
	done := e.span("SetBreakpoint")
	defer func() { done(outErr) }()
	e.submit(func() {
		e.nextBpID++
		id = e.nextBpID
		bp := &model.Breakpoint{ID: id, DllPath: dllPath, SourceFile: file, Line: line}
		e.breakpoints[id] = bp

		if resolved := e.tryResolve(bp); !resolved {
			e.pendingByDoc[file] = append(e.pendingByDoc[file], id)
		}
	})
	return id, outErr
}

// dllMatches reports whether registeredPath, the key under which a
// loaded module was recorded, names the same dll as dllPath: an exact
// match or a path-suffix match so a caller can pass either a bare file
// name or a full path, case-insensitively (Windows-produced PDBs carry
// mixed-case paths that a Linux host must still match).
func dllMatches(registeredPath, dllPath string) bool {
	if dllPath == "" {
		return true
	}
	registeredPath = strings.ToLower(registeredPath)
	dllPath = strings.ToLower(dllPath)
	return registeredPath == dllPath || strings.HasSuffix(registeredPath, "/"+dllPath) || strings.HasSuffix(registeredPath, "\\"+dllPath)
}

// tryResolve attempts to resolve and activate bp against bp.DllPath's
// loaded module PDB (every loaded module if DllPath is empty); returns
// true once it succeeds. Must be called on the owner goroutine.
func (e *Engine) tryResolve(bp *model.Breakpoint) bool {
	for path, mod := range e.modules {
		if !dllMatches(path, bp.DllPath) {
			continue
		}
		matches := mod.FindAllLocations(bp.SourceFile, bp.Line)
		if len(matches) == 0 {
			continue
		}
		// A source line can compile into more than one method (a lambda
		// captured into a separate compiler-generated method); activate
		// against all of them so the breakpoint fires regardless of
		// which one executes first.
		for _, m := range matches {
			if e.ctrl != nil {
				if _, err := e.ctrl.FunctionBreakpoint(m.Token, m.ILOffset); err != nil {
					e.log.Warnw("breakpoint activation failed", "file", bp.SourceFile, "line", bp.Line, "err", err)
					continue
				}
			}
			e.sink.RegisterBreakpoint(m.Token, bp.ID)
		}
		bp.ModulePath = path
		bp.MethodToken = matches[0].Token
		bp.ILOffset = matches[0].ILOffset
		bp.Resolved = true
		return true
	}
	return false
}

// onModuleLoaded records mod under path and resolves any pending
// breakpoints it satisfies. Called from the engine's event-pump
// goroutine (see session.go's pumpEvents) whenever the sink reports
// model.EventModuleLoaded, so it always runs after the module's PDB
// has actually been loaded by the caller.
func (e *Engine) onModuleLoaded(path string, mod pdbModule) {
	e.submit(func() {
		e.modules[path] = mod
		e.meta = &metadataAdapter{mod: mod}

		for file, ids := range e.pendingByDoc {
			var remaining []model.BreakpointID
			for _, id := range ids {
				bp, ok := e.breakpoints[id]
				if !ok || bp.Resolved {
					continue
				}
				if !e.tryResolve(bp) {
					remaining = append(remaining, id)
				}
			}
			if len(remaining) == 0 {
				delete(e.pendingByDoc, file)
			} else {
				e.pendingByDoc[file] = remaining
			}
		}
	})
}

// RemoveBreakpoint deactivates and forgets bp. Unknown ids are a no-op,
// matching the teacher's idempotent breakpoint-removal behavior.
func (e *Engine) RemoveBreakpoint(id model.BreakpointID) *model.EngineError {
	e.submit(func() {
		bp, ok := e.breakpoints[id]
		if !ok {
			return
		}
		if bp.Resolved {
			e.sink.UnregisterBreakpoint(bp.MethodToken, id)
		}
		delete(e.breakpoints, id)
		if ids, ok := e.pendingByDoc[bp.SourceFile]; ok {
			e.pendingByDoc[bp.SourceFile] = removeID(ids, id)
		}
	})
	return nil
}

func removeID(ids []model.BreakpointID, target model.BreakpointID) []model.BreakpointID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// ListBreakpoints returns a snapshot of every tracked breakpoint.
func (e *Engine) ListBreakpoints() []model.Breakpoint {
	var out []model.Breakpoint
	e.submit(func() {
		for _, bp := range e.breakpoints {
			out = append(out, *bp)
		}
	})
	return out
}
