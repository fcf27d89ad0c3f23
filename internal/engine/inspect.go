package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
	"github.com/clrdbg/clrdbg-mcp/internal/value"
)

// GetStackTrace walks threadID's call stack and resolves each frame's
// method token/IL offset to a source location via the loaded module's
// PDB, falling back to the hex token for frames with no debug info.
func (e *Engine) GetStackTrace(threadID int) ([]model.StackFrame, *model.EngineError) {
	var out []model.StackFrame
	var outErr *model.EngineError
	e.submit(func() {
		if e.ctrl == nil {
			outErr = model.NewSessionStateError("stacktrace: no active session")
			return
		}
		frames, err := e.ctrl.StackTrace(threadID)
		if err != nil {
			outErr = model.NewNativeError(0, "stacktrace: %v", err)
			return
		}
		for i, f := range frames {
			sf := model.StackFrame{Index: i, MethodToken: f.MethodToken, ILOffset: f.ILOffset}
			if f.HasSource {
				if file, line, ok := e.reverseLookup(f.MethodToken, f.ILOffset); ok {
					sf.SourceFile = file
					sf.Line = line
					sf.HasSource = true
				}
			}
			if !sf.HasSource {
				sf.MethodName = fmt.Sprintf("0x%08X", f.MethodToken)
			}
			out = append(out, sf)
		}
	})
	return out, outErr
}

// reverseLookup tries every loaded module's PDB, since the caller does
// not know in advance which module declares methodToken. Must be
// called on the owner goroutine.
func (e *Engine) reverseLookup(methodToken, ilOffset uint32) (string, int, bool) {
	for _, mod := range e.modules {
		if file, line, ok := mod.ReverseLookup(methodToken, ilOffset); ok {
			return file, line, true
		}
	}
	return "", 0, false
}

// GetLocals reads every local variable visible on threadID's active
// frame (by slot, named via the PDB's local-scope table) plus the
// declaring type's static fields. Each value is inspected through
// value.Reader so the same cycle/depth/demangling rules as a nested
// field apply at the top level too. A CORDBG_E_IL_VAR_NOT_AVAILABLE
// result ends local enumeration without failing the whole call, since
// it is the normal signal that there are no more declared slots (not
// an error on any one slot).
func (e *Engine) GetLocals(threadID int) ([]model.Variable, *model.EngineError) {
	var out []model.Variable
	var outErr *model.EngineError
	e.submit(func() {
		if e.ctrl == nil {
			outErr = model.NewSessionStateError("locals: no active session")
			return
		}
		frames, err := e.ctrl.StackTrace(threadID)
		if err != nil || len(frames) == 0 {
			outErr = model.NewNativeError(0, "locals: no active frame: %v", err)
			return
		}
		top := frames[0]

		names := map[int]string{}
		declType := uint32(0)
		for _, mod := range e.modules {
			if n := mod.GetLocalNames(top.MethodToken); n != nil {
				names = n
			}
			if t, ok := mod.GetMethodDeclaringTypeToken(top.MethodToken); ok {
				declType = t
			}
		}

		reader := value.NewReader(e.readerMeta())

		slots := sortedSlots(names)
		for _, slot := range slots {
			nv, err := e.ctrl.LocalValue(threadID, slot)
			if err != nil {
				if isILVarNotAvailable(err) {
					break
				}
				out = append(out, model.Variable{Name: names[slot], Value: model.SentinelNotAvail})
				continue
			}
			out = append(out, reader.Inspect(names[slot], nv))
		}

		if declType != 0 {
			statics := reader.InspectStaticFields(e.ctrl.StaticFieldSource(), declType, threadID)
			out = append(out, statics...)
		}
	})
	return out, outErr
}

func sortedSlots(names map[int]string) []int {
	out := make([]int, 0, len(names))
	for k := range names {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func isILVarNotAvailable(err error) bool {
	var ee *model.EngineError
	if errors.As(err, &ee) {
		return ee.HRESULT == model.HresultILVarNotAvailable
	}
	return false
}

// readerMeta returns the metadata adapter for whichever module is
// currently active, or a nil-backed one before any module has loaded.
func (e *Engine) readerMeta() value.MetadataSource {
	if e.meta != nil {
		return e.meta
	}
	return &metadataAdapter{}
}

// Evaluate resolves a caller-supplied expression against the active
// frame. Only two forms are supported, matching spec.md §4.E
// "Evaluate": a bare identifier resolved against the current frame's
// locals, or "Type.Field" resolved as a static field lookup performed
// before falling back to locals (so "Counter.Instance" means the
// static field, not a local named "Counter.Instance", which cannot
// occur in C# source anyway).
func (e *Engine) Evaluate(threadID int, expr string) (model.EvalResult, *model.EngineError) {
	var out model.EvalResult
	var outErr *model.EngineError
	e.submit(func() {
		if e.ctrl == nil {
			outErr = model.NewSessionStateError("evaluate: no active session")
			return
		}
		reader := value.NewReader(e.readerMeta())

		if typeName, field, ok := splitTypeField(expr); ok {
			for _, mod := range e.modules {
				t, ok := mod.FindTypeByName(typeName)
				if !ok {
					continue
				}
				for _, f := range t.Fields {
					if f.Name == field && f.IsStatic {
						nv, err := e.ctrl.StaticFieldSource().ReadStaticField(t.Token, field, threadID)
						if err != nil {
							outErr = model.NewNativeError(0, "evaluate: %v", err)
							return
						}
						out = model.EvalResult{Found: true, Variable: reader.Inspect(expr, nv)}
						return
					}
				}
			}
		}

		frames, err := e.ctrl.StackTrace(threadID)
		if err != nil || len(frames) == 0 {
			outErr = model.NewNativeError(0, "evaluate: no active frame: %v", err)
			return
		}
		top := frames[0]
		for _, mod := range e.modules {
			names := mod.GetLocalNames(top.MethodToken)
			for slot, name := range names {
				if name != expr {
					continue
				}
				nv, err := e.ctrl.LocalValue(threadID, slot)
				if err != nil {
					outErr = model.NewNativeError(0, "evaluate: %v", err)
					return
				}
				out = model.EvalResult{Found: true, Variable: reader.Inspect(expr, nv)}
				return
			}
		}
		out = model.EvalResult{Found: false}
	})
	return out, outErr
}

func splitTypeField(expr string) (typeName, field string, ok bool) {
	i := strings.LastIndex(expr, ".")
	if i <= 0 || i == len(expr)-1 {
		return "", "", false
	}
	return expr[:i], expr[i+1:], true
}

