package value

import (
	"errors"
	"testing"

	"github.com/clrdbg/clrdbg-mcp/internal/model"
)

// fakeValue is a minimal NativeValue for exercising the reader's
// dispatch logic without a live runtime.
type fakeValue struct {
	kind     ElementKind
	typeName string
	token    uint32

	isNull    bool
	deref     *fakeValue
	derefErr  error
	heapAddr  uint64
	heapErr   error

	boolV   bool
	i4V     int32
	i8V     int64
	strV    string
	readErr error

	arrLen      int
	arrElems    []*fakeValue
	fieldOrder  []string
	fields      map[string]*fakeValue
	fieldErrors map[string]error
}

func (f *fakeValue) Kind() ElementKind    { return f.kind }
func (f *fakeValue) TypeName() string     { return f.typeName }
func (f *fakeValue) TypeToken() uint32    { return f.token }
func (f *fakeValue) IsNullReference() bool { return f.isNull }

func (f *fakeValue) Dereference() (NativeValue, error) {
	if f.derefErr != nil {
		return nil, f.derefErr
	}
	if f.deref == nil {
		return nil, nil
	}
	return f.deref, nil
}

func (f *fakeValue) HeapAddress() (uint64, error) { return f.heapAddr, f.heapErr }

func (f *fakeValue) ReadBool() (bool, error)     { return f.boolV, f.readErr }
func (f *fakeValue) ReadChar() (rune, error)     { return rune(f.i4V), f.readErr }
func (f *fakeValue) ReadI1() (int8, error)       { return int8(f.i4V), f.readErr }
func (f *fakeValue) ReadU1() (uint8, error)      { return uint8(f.i4V), f.readErr }
func (f *fakeValue) ReadI2() (int16, error)      { return int16(f.i4V), f.readErr }
func (f *fakeValue) ReadU2() (uint16, error)     { return uint16(f.i4V), f.readErr }
func (f *fakeValue) ReadI4() (int32, error)      { return f.i4V, f.readErr }
func (f *fakeValue) ReadU4() (uint32, error)     { return uint32(f.i4V), f.readErr }
func (f *fakeValue) ReadI8() (int64, error)      { return f.i8V, f.readErr }
func (f *fakeValue) ReadU8() (uint64, error)     { return uint64(f.i8V), f.readErr }
func (f *fakeValue) ReadR4() (float32, error)    { return 0, f.readErr }
func (f *fakeValue) ReadR8() (float64, error)    { return 0, f.readErr }
func (f *fakeValue) ReadString() (string, error) { return f.strV, f.readErr }

func (f *fakeValue) ArrayLength() (int, error) { return f.arrLen, nil }
func (f *fakeValue) ArrayElement(i int) (NativeValue, error) {
	if i >= len(f.arrElems) {
		return nil, errors.New("index out of range")
	}
	return f.arrElems[i], nil
}

func (f *fakeValue) FieldNames() ([]string, error) { return f.fieldOrder, nil }
func (f *fakeValue) ReadField(name string) (NativeValue, error) {
	if err, ok := f.fieldErrors[name]; ok {
		return nil, err
	}
	v, ok := f.fields[name]
	if !ok {
		return nil, errors.New("no such field: " + name)
	}
	return v, nil
}

type fakeMeta struct {
	types map[uint32]*TypeInfo
	enums map[uint32]map[int64]string
}

func (m *fakeMeta) GetType(token uint32) (*TypeInfo, bool) {
	t, ok := m.types[token]
	return t, ok
}

func (m *fakeMeta) FormatEnumValue(typeToken uint32, val int64) string {
	members := m.enums[typeToken]
	name, ok := members[val]
	info := m.types[typeToken]
	typeName := ""
	if info != nil {
		typeName = info.Name
	}
	if !ok {
		return typeName + ".<unknown>"
	}
	return typeName + "." + name
}

func intVal(n int32) *fakeValue { return &fakeValue{kind: KindI4, typeName: "int", i4V: n} }

func TestInspectPrimitive(t *testing.T) {
	r := NewReader(&fakeMeta{types: map[uint32]*TypeInfo{}})
	got := r.Inspect("x", intVal(42))
	if got.Value != "42" || got.TypeName != "int" {
		t.Fatalf("got %+v", got)
	}
}

func TestInspectString(t *testing.T) {
	r := NewReader(&fakeMeta{})
	v := &fakeValue{kind: KindString, strV: "hi"}
	got := r.Inspect("s", v)
	if got.Value != "hi" {
		t.Fatalf("got %+v", got)
	}
}

func TestInspectNullReference(t *testing.T) {
	r := NewReader(&fakeMeta{})
	v := &fakeValue{kind: KindClass, typeName: "Foo", isNull: true}
	got := r.Inspect("f", v)
	if got.Value != model.SentinelNull {
		t.Fatalf("got %+v, want null sentinel", got)
	}
}

func TestInspectCircularReference(t *testing.T) {
	node := &fakeValue{kind: KindValueType, typeName: "Node", token: 1, heapAddr: 0xABC}
	node.fieldOrder = []string{"V", "Next"}
	node.fields = map[string]*fakeValue{
		"V": intVal(1),
	}
	self := &fakeValue{kind: KindClass, typeName: "Node", deref: node, heapAddr: 0xABC}
	node.fields["Next"] = self

	r := NewReader(&fakeMeta{types: map[uint32]*TypeInfo{1: {Name: "Node"}}})
	got := r.Inspect("n", &fakeValue{kind: KindClass, typeName: "Node", deref: node, heapAddr: 0xABC})

	var next *model.Variable
	for i := range got.Children {
		if got.Children[i].Name == "Next" {
			next = &got.Children[i]
		}
	}
	if next == nil {
		t.Fatal("expected Next child")
	}
	if next.Value != model.SentinelCircular {
		t.Fatalf("Next.Value = %q, want circular-reference sentinel", next.Value)
	}
}

func TestInspectMaxDepth(t *testing.T) {
	r := NewReader(&fakeMeta{types: map[uint32]*TypeInfo{}})
	// Build a chain deeper than maxDepth, each level a distinct struct
	// value (no heap address) so only the depth cap can stop it.
	var leaf NativeValue = intVal(1)
	for i := 0; i < maxDepth+3; i++ {
		wrapper := &fakeValue{
			kind:       KindValueType,
			typeName:   "Wrapper",
			fieldOrder: []string{"Inner"},
			fields:     map[string]*fakeValue{},
		}
		wrapper.fields["Inner"] = leaf.(*fakeValue)
		leaf = wrapper
	}
	got := r.Inspect("root", leaf)

	depth := 0
	cur := &got
	for len(cur.Children) > 0 {
		cur = &cur.Children[0]
		depth++
		if cur.Value == model.SentinelMaxDepth {
			return
		}
	}
	t.Fatalf("never hit max-depth sentinel, walked %d levels", depth)
}

func TestInspectNullableHasValue(t *testing.T) {
	meta := &fakeMeta{types: map[uint32]*TypeInfo{}}
	r := NewReader(meta)
	inner := intVal(7)
	v := &fakeValue{
		kind:       KindValueType,
		typeName:   "System.Nullable`1[[System.Int32]]",
		fieldOrder: []string{"hasValue", "value"},
		fields: map[string]*fakeValue{
			"hasValue": {kind: KindBoolean, boolV: true},
			"value":    inner,
		},
	}
	got := r.Inspect("n", v)
	if got.Value != "7" {
		t.Fatalf("got %+v, want unwrapped 7", got)
	}
}

func TestInspectNullableNoValue(t *testing.T) {
	r := NewReader(&fakeMeta{})
	v := &fakeValue{
		kind:       KindValueType,
		typeName:   "System.Nullable`1[[System.Int32]]",
		fieldOrder: []string{"hasValue", "value"},
		fields: map[string]*fakeValue{
			"hasValue": {kind: KindBoolean, boolV: false},
			"value":    intVal(0),
		},
	}
	got := r.Inspect("n", v)
	if got.Value != model.SentinelNull {
		t.Fatalf("got %+v, want null sentinel", got)
	}
}

func TestInspectEnum(t *testing.T) {
	meta := &fakeMeta{
		types: map[uint32]*TypeInfo{5: {Name: "Color", IsEnum: true}},
		enums: map[uint32]map[int64]string{5: {1: "Blue"}},
	}
	r := NewReader(meta)
	deref := &fakeValue{kind: KindI4, typeName: "Color", token: 5, i4V: 1}
	v := &fakeValue{kind: KindObject, typeName: "Color", token: 5, deref: deref}

	got := r.Inspect("c", v)
	if got.Value != "Color.Blue" {
		t.Fatalf("got %+v, want Color.Blue", got)
	}
}

// TestInspectEnumDirectValueType covers a directly-typed local such as
// `var c = Color.Green;` (declared type Color, not object/Enum): the
// runtime hands this to Inspect as KindValueType, never boxed into
// KindObject, so the enum check must also fire from the KindValueType
// dispatch branch, not only through the KindObject/KindClass path
// TestInspectEnum exercises.
func TestInspectEnumDirectValueType(t *testing.T) {
	meta := &fakeMeta{
		types: map[uint32]*TypeInfo{5: {Name: "Color", IsEnum: true}},
		enums: map[uint32]map[int64]string{5: {1: "Green"}},
	}
	r := NewReader(meta)
	v := &fakeValue{kind: KindValueType, typeName: "Color", token: 5, i4V: 1}

	got := r.Inspect("c", v)
	if got.Value != "Color.Green" {
		t.Fatalf("got %+v, want Color.Green", got)
	}
}

// TestInspectNullableDirectValueType covers a directly-typed
// Nullable<T> local, which also arrives as KindValueType rather than
// boxed as KindObject.
func TestInspectNullableDirectValueType(t *testing.T) {
	r := NewReader(&fakeMeta{})
	v := &fakeValue{
		kind:       KindValueType,
		typeName:   "System.Nullable`1[[System.Int32]]",
		fieldOrder: []string{"hasValue", "value"},
		fields: map[string]*fakeValue{
			"hasValue": {kind: KindBoolean, boolV: true},
			"value":    intVal(42),
		},
	}
	got := r.Inspect("n", v)
	if got.Value != "42" {
		t.Fatalf("got %+v, want unwrapped 42", got)
	}
}

func TestInspectEnumUnknownValue(t *testing.T) {
	meta := &fakeMeta{
		types: map[uint32]*TypeInfo{5: {Name: "Color", IsEnum: true}},
		enums: map[uint32]map[int64]string{5: {1: "Blue"}},
	}
	r := NewReader(meta)
	deref := &fakeValue{kind: KindI4, typeName: "Color", token: 5, i4V: 9}
	v := &fakeValue{kind: KindObject, typeName: "Color", token: 5, deref: deref}

	got := r.Inspect("c", v)
	if got.Value != "Color.<unknown>" {
		t.Fatalf("got %+v, want Color.<unknown>", got)
	}
}

func TestDisplayFieldNameRules(t *testing.T) {
	cases := []struct {
		raw     string
		display string
		keep    bool
	}{
		{"<>2__current", "Current", true},
		{"<>1__state", "_state", true},
		{"<>4__this", "", false},
		{"<userName>5__1", "userName", true},
		{"capturedVar", "capturedVar", true},
	}
	for _, c := range cases {
		d, k := displayFieldName(c.raw)
		if d != c.display || k != c.keep {
			t.Errorf("displayFieldName(%q) = %q, %v, want %q, %v", c.raw, d, k, c.display, c.keep)
		}
	}
}

func TestBackingFieldOf(t *testing.T) {
	name, ok := backingFieldOf("<Count>k__BackingField")
	if !ok || name != "Count" {
		t.Fatalf("backingFieldOf = %q, %v, want Count, true", name, ok)
	}
	if _, ok := backingFieldOf("plainField"); ok {
		t.Fatal("backingFieldOf should reject non-backing-field names")
	}
}

func TestComputedPropertiesSkipBackedOnes(t *testing.T) {
	meta := &fakeMeta{types: map[uint32]*TypeInfo{
		9: {
			Name: "Point",
			Properties: []PropertyInfo{
				{Name: "X"},
				{Name: "Area"},
			},
		},
	}}
	r := NewReader(meta)
	v := &fakeValue{
		kind:       KindValueType,
		typeName:   "Point",
		token:      9,
		fieldOrder: []string{"<X>k__BackingField"},
		fields: map[string]*fakeValue{
			"<X>k__BackingField": intVal(3),
		},
	}
	got := r.Inspect("p", v)

	var sawArea, sawXComputed bool
	for _, c := range got.Children {
		if c.Name == "Area" && c.Value == model.SentinelComputed {
			sawArea = true
		}
		if c.Name == "X" && c.Value == model.SentinelComputed {
			sawXComputed = true
		}
	}
	if !sawArea {
		t.Error("expected Area to be emitted as computed (no backing field)")
	}
	if sawXComputed {
		t.Error("X has a backing field and should not be emitted as computed")
	}
}

func TestInspectArrayCapsAtTen(t *testing.T) {
	elems := make([]*fakeValue, 15)
	for i := range elems {
		elems[i] = intVal(int32(i))
	}
	v := &fakeValue{kind: KindArray, typeName: "int[]", arrLen: 15, arrElems: elems}
	r := NewReader(&fakeMeta{})
	got := r.Inspect("a", v)
	if len(got.Children) != maxArrayElements {
		t.Fatalf("got %d children, want %d", len(got.Children), maxArrayElements)
	}
}

func TestFieldReadErrorIsIsolated(t *testing.T) {
	v := &fakeValue{
		kind:       KindValueType,
		typeName:   "Bad",
		fieldOrder: []string{"ok", "broken"},
		fields:     map[string]*fakeValue{"ok": intVal(1)},
		fieldErrors: map[string]error{
			"broken": errors.New("boom"),
		},
	}
	r := NewReader(&fakeMeta{types: map[uint32]*TypeInfo{}})
	got := r.Inspect("v", v)
	if len(got.Children) != 2 {
		t.Fatalf("expected both fields represented despite one error, got %d", len(got.Children))
	}
	for _, c := range got.Children {
		if c.Name == "broken" && c.Value != model.SentinelNotAvail {
			t.Errorf("broken field = %q, want not-available sentinel", c.Value)
		}
	}
}

type staticAccessor struct {
	values map[string]*fakeValue
	errs   map[string]error
}

func (s *staticAccessor) ReadStaticField(typeToken uint32, fieldName string, frame interface{}) (NativeValue, error) {
	if err, ok := s.errs[fieldName]; ok {
		return nil, err
	}
	v, ok := s.values[fieldName]
	if !ok {
		return nil, errors.New("unknown static field")
	}
	return v, nil
}

func TestInspectStaticFields(t *testing.T) {
	meta := &fakeMeta{types: map[uint32]*TypeInfo{
		3: {
			Name: "Counter",
			Fields: []FieldInfo{
				{Name: "Total", IsStatic: true},
				{Name: "instanceField", IsStatic: false},
				{Name: "Broken", IsStatic: true},
			},
		},
	}}
	r := NewReader(meta)
	acc := &staticAccessor{
		values: map[string]*fakeValue{"Total": intVal(99)},
		errs:   map[string]error{"Broken": errors.New("unavailable")},
	}
	got := r.InspectStaticFields(acc, 3, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 static fields (instance field excluded), got %d", len(got))
	}
	for _, v := range got {
		if v.Name == "Broken" && v.Value != model.SentinelNotAvail {
			t.Errorf("Broken = %q, want not-available sentinel", v.Value)
		}
		if v.Name == "Total" && v.Value != "99" {
			t.Errorf("Total = %q, want 99", v.Value)
		}
	}
}

func TestIsStateMachineMethod(t *testing.T) {
	if !IsStateMachineMethod("MoveNext", "Program+<DoAsync>d__0") {
		t.Error("MoveNext should trigger pivot")
	}
	if !IsStateMachineMethod("<Run>b__0", "Program+<>c__DisplayClass0_0") {
		t.Error("lambda on display class should trigger pivot")
	}
	if IsStateMachineMethod("Run", "Program") {
		t.Error("ordinary method should not trigger pivot")
	}
}
