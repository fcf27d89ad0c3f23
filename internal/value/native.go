// Package value implements the recursive, polymorphic inspection of a
// live managed value into the variable tree the protocol layer and
// the engine's locals/evaluate operations return.
//
// It never touches ICorDebug itself: engine/sink own the native vtable
// calls and adapt them to the NativeValue interface below, the same
// separation the PDB reader keeps from the process it describes. That
// keeps the cycle/depth/demangling algorithm testable against plain Go
// fakes instead of a live CLR.
package value

// ElementKind mirrors the subset of CorElementType the reader needs to
// dispatch on (ECMA-335 §II.23.1.16, as surfaced by ICorDebugType).
type ElementKind int

const (
	KindVoid ElementKind = iota
	KindBoolean
	KindChar
	KindI1
	KindU1
	KindI2
	KindU2
	KindI4
	KindU4
	KindI8
	KindU8
	KindR4
	KindR8
	KindString
	KindArray
	KindClass     // reference type, possibly null
	KindValueType // struct / record-struct, always non-null once obtained
	KindObject    // statically-typed as object; runtime type resolved via Dereference
)

// NativeValue is one runtime value as seen through the debug API,
// already unwrapped of generation/appdomain bookkeeping that only the
// engine needs.
type NativeValue interface {
	Kind() ElementKind

	// TypeName is the fully qualified runtime type name; TypeToken is
	// its type-def token, used to look up fields/properties/enum
	// members in the PDB reader's metadata (0 for primitives/arrays,
	// where there is nothing to look up).
	TypeName() string
	TypeToken() uint32

	// IsNullReference is valid only for KindClass; calling it on any
	// other kind is a programming error in this package, never in a
	// caller-supplied NativeValue.
	IsNullReference() bool

	// Dereference follows a non-null reference (KindClass) or unboxes
	// an object (KindObject) into the concrete value underneath.
	Dereference() (NativeValue, error)

	// HeapAddress is the address backing this value once dereferenced,
	// or 0 when the value is enregistered / has no heap identity
	// (structs, primitives, GC-handle-backed locals).
	HeapAddress() (uint64, error)

	ReadBool() (bool, error)
	ReadChar() (rune, error)
	ReadI1() (int8, error)
	ReadU1() (uint8, error)
	ReadI2() (int16, error)
	ReadU2() (uint16, error)
	ReadI4() (int32, error)
	ReadU4() (uint32, error)
	ReadI8() (int64, error)
	ReadU8() (uint64, error)
	ReadR4() (float32, error)
	ReadR8() (float64, error)
	ReadString() (string, error)

	ArrayLength() (int, error)
	ArrayElement(i int) (NativeValue, error)

	// FieldNames lists this value's declared instance fields in
	// metadata order (KindValueType/KindClass only).
	FieldNames() ([]string, error)
	ReadField(name string) (NativeValue, error)
}

// StaticFieldSource reads a static field of typeToken given the current
// frame (for thread-static resolution). frame is whatever opaque handle
// the engine associates with "the active frame"; this package never
// inspects it, only threads it through to the engine's adapter.
type StaticFieldSource interface {
	ReadStaticField(typeToken uint32, fieldName string, frame interface{}) (NativeValue, error)
}

// MetadataSource is the subset of *pdb.Module the reader needs, kept
// as an interface so tests can supply fixtures without constructing a
// real Module.
type MetadataSource interface {
	GetType(token uint32) (*TypeInfo, bool)
	FormatEnumValue(typeToken uint32, val int64) string
}

// TypeInfo mirrors pdb.TypeDebugInfo's shape. Declared locally (instead
// of importing internal/pdb) so this package has no dependency on the
// PDB reader's internals beyond the data it actually needs — engine
// wires a small adapter between the two.
type TypeInfo struct {
	Name       string
	Namespace  string
	BaseType   string
	IsEnum     bool
	Fields     []FieldInfo
	Properties []PropertyInfo
}

type FieldInfo struct {
	Name     string
	IsStatic bool
}

type PropertyInfo struct {
	Name string
}
