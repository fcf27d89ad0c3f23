// Package pdb is a pure library over Portable PDB debug information
// (embedded in the PE image or a sidecar .pdb), providing forward
// (source -> IL) and reverse (IL -> source) sequence-point mapping,
// local-slot name lookup, and declaring-type/type-by-name lookups used
// by the value reader for static fields.
//
// Every public operation here is pure: it never touches a live process,
// only the on-disk (or embedded) debug metadata of a module.
package pdb

import "fmt"

// SequencePoint maps an IL offset range within one method to a source
// document and line. A hidden sequence point explicitly breaks the
// mapping and is never returned as a reverse-lookup result.
type SequencePoint struct {
	ILOffset  uint32
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
	Document  string
	Hidden    bool
}

// LocalScope is one lexical scope's slot -> name bindings for a method.
// A method may have nested scopes; GetLocalNames unions all of them.
type LocalScope struct {
	StartOffset uint32
	EndOffset   uint32
	Locals      map[int]string // slot index -> name
}

// MethodDebugInfo is everything the PDB reader needs from one method's
// debug record.
type MethodDebugInfo struct {
	Token             uint32 // 0x06000000 | row, see MethodToken
	SequencePoints    []SequencePoint // ascending by ILOffset, format guarantee
	LocalScopes       []LocalScope
	DeclaringTypeToken uint32
}

// TypeDebugInfo is the subset of PE metadata the value reader needs
// about a type: its simple name, its base type (for enum detection),
// its fields, and its properties.
type TypeDebugInfo struct {
	Token      uint32
	Name       string
	Namespace  string
	BaseType   string // fully qualified base type name, "" if none (System.Object/interfaces)
	Fields     []FieldInfo
	Properties []PropertyInfo
	IsEnum     bool
	EnumMembers []EnumMember // populated only when IsEnum
}

// FieldInfo is one field of a type, as seen in PE metadata.
type FieldInfo struct {
	Name     string
	IsStatic bool
}

// PropertyInfo is one property of a type, as seen in PE metadata.
type PropertyInfo struct {
	Name string
}

// EnumMember is one member of an enum type, its declared constant value
// and display name.
type EnumMember struct {
	Name  string
	Value int64
}

// MethodToken returns the spec.md §4.B token convention:
// 0x06000000 | row, where row is the one-based method-def row.
func MethodToken(row uint32) uint32 {
	return 0x06000000 | (row & 0x00FFFFFF)
}

// MethodRow strips the high byte per spec.md §4.B: "they must be
// stripped (& 0x00FFFFFF) before forming a method-def row internally."
func MethodRow(token uint32) uint32 {
	return token & 0x00FFFFFF
}

// ErrNotFound is returned by FindLocation when no sequence point
// matches a plausible (file, line) input.
type ErrNotFound struct {
	File string
	Line int
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("pdb: no sequence point found for %s:%d", e.File, e.Line)
}
