package value

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
)

const maxDepth = 3
const maxArrayElements = 10

// Reader recurses over NativeValue trees and materializes them as
// model.Variable trees, applying the depth cap, the heap-address cycle
// guard, enum/nullable/state-machine special cases, and per-field error
// isolation.
type Reader struct {
	meta MetadataSource
}

func NewReader(meta MetadataSource) *Reader {
	return &Reader{meta: meta}
}

// visited is the heap-address cycle guard, shared (never shrunk) across
// one top-level Inspect call's whole recursion, per spec: addresses are
// never removed once seen, so two non-cyclic but aliasing references
// also collapse to the circular-reference sentinel. That's accepted.
type visited map[uint64]bool

// Inspect is the entry point for a single top-level value (a local, a
// parameter, an array element, a field) — anything the engine's
// locals/evaluate operations hand off whole.
func (r *Reader) Inspect(name string, v NativeValue) model.Variable {
	return r.inspect(name, v, 0, make(visited))
}

func (r *Reader) inspect(name string, v NativeValue, depth int, seen visited) model.Variable {
	if depth > maxDepth {
		return model.Variable{Name: name, TypeName: "", Value: model.SentinelMaxDepth}
	}
	if v == nil {
		return model.Variable{Name: name, Value: model.SentinelNotAvail}
	}

	switch v.Kind() {
	case KindClass:
		return r.inspectReference(name, v, depth, seen)
	case KindObject:
		return r.inspectObject(name, v, depth, seen)
	case KindValueType:
		return r.inspectConcrete(name, v.TypeName(), v, depth, seen)
	case KindArray:
		return r.inspectArray(name, v, depth, seen)
	case KindString:
		return r.inspectString(name, v)
	default:
		return r.inspectPrimitive(name, v)
	}
}

func (r *Reader) inspectReference(name string, v NativeValue, depth int, seen visited) model.Variable {
	if v.IsNullReference() {
		return model.Variable{Name: name, TypeName: v.TypeName(), Value: model.SentinelNull}
	}
	deref, err := v.Dereference()
	if err != nil || deref == nil {
		return model.Variable{Name: name, TypeName: v.TypeName(), Value: model.SentinelNotAvail}
	}

	if addr, err := deref.HeapAddress(); err == nil && addr != 0 {
		if seen[addr] {
			return model.Variable{Name: name, TypeName: v.TypeName(), Value: model.SentinelCircular}
		}
		seen[addr] = true
	}

	return r.inspectConcrete(name, v.TypeName(), deref, depth, seen)
}

func (r *Reader) inspectObject(name string, v NativeValue, depth int, seen visited) model.Variable {
	deref, err := v.Dereference()
	if err != nil || deref == nil {
		return model.Variable{Name: name, TypeName: v.TypeName(), Value: model.SentinelNotAvail}
	}
	return r.inspectConcrete(name, v.TypeName(), deref, depth, seen)
}

// inspectConcrete handles the shared body of reference/object
// dispatch once a non-null concrete value has been obtained: nullable
// unwrapping, enum formatting, then the generic value-type/struct path.
func (r *Reader) inspectConcrete(name, declaredTypeName string, v NativeValue, depth int, seen visited) model.Variable {
	typeName := v.TypeName()
	if typeName == "" {
		typeName = declaredTypeName
	}

	if isNullableTypeName(typeName) {
		return r.inspectNullable(name, typeName, v, depth, seen)
	}

	if info, ok := r.meta.GetType(v.TypeToken()); ok && info.IsEnum {
		return r.inspectEnum(name, typeName, v.TypeToken(), v)
	}

	return r.inspectValueType(name, v, depth, seen)
}

func isNullableTypeName(typeName string) bool {
	return strings.HasPrefix(typeName, "System.Nullable`1")
}

func (r *Reader) inspectNullable(name, typeName string, v NativeValue, depth int, seen visited) model.Variable {
	hasValue, err := v.ReadField("hasValue")
	if err != nil {
		return model.Variable{Name: name, TypeName: typeName, Value: model.SentinelNotAvail}
	}
	has, err := hasValue.ReadBool()
	if err != nil {
		return model.Variable{Name: name, TypeName: typeName, Value: model.SentinelNotAvail}
	}
	if !has {
		return model.Variable{Name: name, TypeName: typeName, Value: model.SentinelNull}
	}
	inner, err := v.ReadField("value")
	if err != nil {
		return model.Variable{Name: name, TypeName: typeName, Value: model.SentinelNotAvail}
	}
	result := r.inspect(name, inner, depth+1, seen)
	result.TypeName = typeName
	return result
}

func (r *Reader) inspectEnum(name, typeName string, token uint32, v NativeValue) model.Variable {
	i64, err := readIntegral(v)
	if err != nil {
		return model.Variable{Name: name, TypeName: typeName, Value: model.SentinelNotAvail}
	}
	return model.Variable{Name: name, TypeName: typeName, Value: r.meta.FormatEnumValue(token, i64)}
}

func readIntegral(v NativeValue) (int64, error) {
	switch v.Kind() {
	case KindI1:
		x, err := v.ReadI1()
		return int64(x), err
	case KindU1:
		x, err := v.ReadU1()
		return int64(x), err
	case KindI2:
		x, err := v.ReadI2()
		return int64(x), err
	case KindU2:
		x, err := v.ReadU2()
		return int64(x), err
	case KindI4:
		x, err := v.ReadI4()
		return int64(x), err
	case KindU4:
		x, err := v.ReadU4()
		return int64(x), err
	case KindI8:
		x, err := v.ReadI8()
		return int64(x), err
	case KindU8:
		x, err := v.ReadU8()
		return int64(x), err
	default:
		// Enum backing field comes through as a plain field read, which
		// for a value type means another recursion into a primitive —
		// callers that hand us the backing field directly land here.
		x, err := v.ReadI4()
		return int64(x), err
	}
}

// stateMachineThisField is the name of the "this" argument whose fields
// hold a state-machine or display-class frame's hoisted locals (see
// IsStateMachineMethod). Nothing in this package reads it.
const stateMachineThisField = "this"

func (r *Reader) inspectValueType(name string, v NativeValue, depth int, seen visited) model.Variable {
	typeName := v.TypeName()
	fields, err := v.FieldNames()
	if err != nil {
		return model.Variable{Name: name, TypeName: typeName, Value: model.SentinelNotAvail}
	}

	var children []model.Variable
	consumedBackingFields := make(map[string]bool)

	for _, fname := range fields {
		display, keep := displayFieldName(fname)
		if !keep {
			continue
		}
		fv, err := v.ReadField(fname)
		if err != nil {
			children = append(children, model.Variable{Name: display, Value: model.SentinelNotAvail})
			continue
		}
		child := r.inspect(display, fv, depth+1, seen)
		children = append(children, child)

		if backing, ok := backingFieldOf(fname); ok {
			consumedBackingFields[backing] = true
		}
	}

	info, hasInfo := r.meta.GetType(v.TypeToken())
	if hasInfo {
		for _, p := range info.Properties {
			if consumedBackingFields[p.Name] {
				continue
			}
			children = append(children, model.Variable{
				Name:     p.Name,
				TypeName: model.SentinelComputed,
				Value:    model.SentinelComputed,
			})
		}
	}

	return model.Variable{Name: name, TypeName: typeName, Value: summarize(typeName, len(children)), Children: children}
}

// displayFieldName applies the compiler-generated state pivot naming
// rules in order. keep is false for pure infrastructure fields that
// should never surface.
func displayFieldName(raw string) (display string, keep bool) {
	switch raw {
	case "<>2__current":
		return "Current", true
	case "<>1__state":
		return "_state", true
	}
	if strings.HasPrefix(raw, "<>") {
		return "", false
	}
	if hoisted, ok := parseHoistedLocal(raw); ok {
		return hoisted, true
	}
	return raw, true
}

// parseHoistedLocal recognizes the "<userName>5__N" shape a
// state-machine or display-class compiles a captured local into.
func parseHoistedLocal(raw string) (string, bool) {
	if !strings.HasPrefix(raw, "<") {
		return "", false
	}
	end := strings.Index(raw, ">")
	if end < 0 {
		return "", false
	}
	rest := raw[end+1:]
	if !strings.Contains(rest, "__") {
		return "", false
	}
	return raw[1:end], true
}

// backingFieldOf extracts PropName from "<PropName>k__BackingField", the
// shape an auto-property compiles its storage field into.
func backingFieldOf(raw string) (string, bool) {
	const suffix = "__BackingField"
	if !strings.HasSuffix(raw, suffix) {
		return "", false
	}
	if !strings.HasPrefix(raw, "<") {
		return "", false
	}
	end := strings.Index(raw, ">")
	if end < 0 {
		return "", false
	}
	return raw[1:end], true
}

// IsStateMachineMethod reports whether activeMethodName/declaringType
// name a MoveNext method or a lambda on a DisplayClass, the frames whose
// locals live as fields of "this". The engine's GetLocals does not call
// it: locals are always read by slot, with no pivot to "this".
func IsStateMachineMethod(activeMethodName, declaringTypeName string) bool {
	if activeMethodName == "MoveNext" {
		return true
	}
	return strings.Contains(activeMethodName, ">b__") && strings.Contains(declaringTypeName, "<>c__DisplayClass")
}

func (r *Reader) inspectArray(name string, v NativeValue, depth int, seen visited) model.Variable {
	typeName := v.TypeName()
	length, err := v.ArrayLength()
	if err != nil {
		return model.Variable{Name: name, TypeName: typeName, Value: model.SentinelNotAvail}
	}
	n := length
	if n > maxArrayElements {
		n = maxArrayElements
	}
	children := make([]model.Variable, 0, n)
	for i := 0; i < n; i++ {
		elemName := "[" + strconv.Itoa(i) + "]"
		ev, err := v.ArrayElement(i)
		if err != nil {
			children = append(children, model.Variable{Name: elemName, Value: model.SentinelNotAvail})
			continue
		}
		children = append(children, r.inspect(elemName, ev, depth+1, seen))
	}
	return model.Variable{
		Name:     name,
		TypeName: typeName,
		Value:    fmt.Sprintf("%s[%d]", typeName, length),
		Children: children,
	}
}

func (r *Reader) inspectString(name string, v NativeValue) model.Variable {
	s, err := v.ReadString()
	if err != nil {
		return model.Variable{Name: name, TypeName: "string", Value: model.SentinelNotAvail}
	}
	return model.Variable{Name: name, TypeName: "string", Value: s}
}

func (r *Reader) inspectPrimitive(name string, v NativeValue) model.Variable {
	typeName, val, err := formatPrimitive(v)
	if err != nil {
		return model.Variable{Name: name, TypeName: typeName, Value: model.SentinelNotAvail}
	}
	return model.Variable{Name: name, TypeName: typeName, Value: val}
}

func formatPrimitive(v NativeValue) (typeName, value string, err error) {
	switch v.Kind() {
	case KindBoolean:
		x, e := v.ReadBool()
		return "bool", strconv.FormatBool(x), e
	case KindChar:
		x, e := v.ReadChar()
		return "char", string(x), e
	case KindI1:
		x, e := v.ReadI1()
		return "sbyte", strconv.FormatInt(int64(x), 10), e
	case KindU1:
		x, e := v.ReadU1()
		return "byte", strconv.FormatUint(uint64(x), 10), e
	case KindI2:
		x, e := v.ReadI2()
		return "short", strconv.FormatInt(int64(x), 10), e
	case KindU2:
		x, e := v.ReadU2()
		return "ushort", strconv.FormatUint(uint64(x), 10), e
	case KindI4:
		x, e := v.ReadI4()
		return "int", strconv.FormatInt(int64(x), 10), e
	case KindU4:
		x, e := v.ReadU4()
		return "uint", strconv.FormatUint(uint64(x), 10), e
	case KindI8:
		x, e := v.ReadI8()
		return "long", strconv.FormatInt(x, 10), e
	case KindU8:
		x, e := v.ReadU8()
		return "ulong", strconv.FormatUint(x, 10), e
	case KindR4:
		x, e := v.ReadR4()
		return "float", strconv.FormatFloat(float64(x), 'g', -1, 32), e
	case KindR8:
		x, e := v.ReadR8()
		return "double", strconv.FormatFloat(x, 'g', -1, 64), e
	default:
		return "", "", fmt.Errorf("value: unhandled primitive kind %d", v.Kind())
	}
}

// InspectStaticFields enumerates typeToken's static fields from metadata
// and reads each through accessor, per §4.C "Static fields": failures
// are per-field and never abort the rest of the enumeration.
func (r *Reader) InspectStaticFields(accessor StaticFieldSource, typeToken uint32, frame interface{}) []model.Variable {
	info, ok := r.meta.GetType(typeToken)
	if !ok {
		return nil
	}
	var out []model.Variable
	for _, f := range info.Fields {
		if !f.IsStatic {
			continue
		}
		fv, err := accessor.ReadStaticField(typeToken, f.Name, frame)
		if err != nil || fv == nil {
			out = append(out, model.Variable{Name: f.Name, Value: model.SentinelNotAvail})
			continue
		}
		out = append(out, r.inspect(f.Name, fv, 0, make(visited)))
	}
	return out
}

func summarize(typeName string, childCount int) string {
	if childCount == 0 {
		return typeName + " {}"
	}
	return fmt.Sprintf("%s {%d field%s}", typeName, childCount, plural(childCount))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
