package pdb

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// FindLocation resolves a (file, line) source location to the method
// token and IL offset of the sequence point whose document matches
// file and whose start line equals line exactly, scanning every
// method with debug info and tie-breaking by ascending method token
// when more than one method has a qualifying sequence point (a lambda
// or local function captured out of the enclosing method onto the
// same source line). Returns an *ErrNotFound when file is a plausible
// document but no sequence point starts on line.
func (m *Module) FindLocation(file string, line int) (token uint32, ilOffset uint32, err error) {
	matches := m.FindAllLocations(file, line)
	if len(matches) == 0 {
		return 0, 0, &ErrNotFound{File: file, Line: line}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Token < matches[j].Token })
	return matches[0].Token, matches[0].ILOffset, nil
}

// FindAllLocations resolves (file, line) across every method in the
// module, returning one (token, ilOffset) pair per method that has a
// sequence point starting exactly on line. Used when a breakpoint
// file:line is set before the caller knows which method it lands in,
// and because async state machines and iterators can compile more than
// one MoveNext sequence point onto the same user line.
func (m *Module) FindAllLocations(file string, line int) []LocationMatch {
	var out []LocationMatch
	for token, mi := range m.methods {
		for _, sp := range mi.SequencePoints {
			if sp.Hidden || sp.StartLine != line {
				continue
			}
			if !documentMatches(sp.Document, file) {
				continue
			}
			out = append(out, LocationMatch{Token: token, ILOffset: sp.ILOffset})
			break
		}
	}
	return out
}

// LocationMatch is one method's resolution of a source breakpoint.
type LocationMatch struct {
	Token    uint32
	ILOffset uint32
}

// ReverseLookup maps a method token and IL offset back to the source
// location that contains it: the last non-hidden sequence point whose
// offset is <= the target, per the "most recently executed statement"
// semantics a stopped debuggee needs. Sequence points are stored in
// ascending-offset order (format guarantee), so this is a forward scan
// that stops as soon as it passes the target offset.
func (m *Module) ReverseLookup(token, ilOffset uint32) (file string, line int, ok bool) {
	mi, exists := m.methods[token]
	if !exists {
		return "", 0, false
	}
	var last *SequencePoint
	for i := range mi.SequencePoints {
		sp := &mi.SequencePoints[i]
		if sp.ILOffset > ilOffset {
			break
		}
		if sp.Hidden {
			continue
		}
		last = sp
	}
	if last == nil {
		return "", 0, false
	}
	return last.Document, last.StartLine, true
}

// GetLocalNames returns the union of every local-scope slot->name
// binding for a method, across all its (possibly nested) scopes. Later
// scopes in declaration order win on slot collisions, matching how a
// narrower nested scope shadows an outer one sharing a slot.
func (m *Module) GetLocalNames(token uint32) map[int]string {
	mi, exists := m.methods[token]
	if !exists {
		return nil
	}
	out := make(map[int]string)
	for _, scope := range mi.LocalScopes {
		for slot, name := range scope.Locals {
			out[slot] = name
		}
	}
	return out
}

// GetMethodDeclaringTypeToken returns the type-def token of the type
// that declares the given method.
func (m *Module) GetMethodDeclaringTypeToken(token uint32) (uint32, bool) {
	mi, exists := m.methods[token]
	if !exists {
		return 0, false
	}
	return mi.DeclaringTypeToken, true
}

// FindTypeByName resolves a simple (unqualified) type name to its
// type-def token and decoded info.
func (m *Module) FindTypeByName(name string) (*TypeDebugInfo, bool) {
	token, ok := m.typeByName[name]
	if !ok {
		return nil, false
	}
	t, ok := m.types[token]
	return t, ok
}

// FormatEnumValue renders an enum's backing integer as "TypeName.Member",
// or "TypeName.<value>" when no declared member matches. typeToken must
// name a type for which GetType(...).IsEnum is true; callers that skip
// that check just get the unknown-member form back.
func (m *Module) FormatEnumValue(typeToken uint32, value int64) string {
	t, ok := m.types[typeToken]
	if !ok {
		return fmt.Sprintf("%d", value)
	}
	for _, em := range t.EnumMembers {
		if em.Value == value {
			return t.Name + "." + em.Name
		}
	}
	return fmt.Sprintf("%s.<%d>", t.Name, value)
}

// GetType returns the decoded type info for a type-def token.
func (m *Module) GetType(token uint32) (*TypeDebugInfo, bool) {
	t, ok := m.types[token]
	return t, ok
}

// documentMatches compares a PDB document path against a caller-supplied
// file path, tolerant of path-separator and root differences: a match
// is either an exact suffix match (after normalizing separators) or
// equal base names.
func documentMatches(document, file string) bool {
	if document == "" || file == "" {
		return false
	}
	d := filepath.ToSlash(document)
	f := filepath.ToSlash(file)
	if strings.HasSuffix(d, f) || strings.HasSuffix(f, d) {
		return true
	}
	return filepath.Base(d) == filepath.Base(f)
}
