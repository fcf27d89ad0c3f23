package pdb

// Column kinds used by the generic row schema below. "coded" columns
// are ECMA-335 §II.24.2.6 tagged unions over a small set of tables; we
// only need their raw (table, row) pair for a handful of them, so we
// store the coded index's tag bit count and member table list.
type colKind int

const (
	colUint16 colKind = iota
	colUint32
	colStringHeap
	colGUIDHeap
	colBlobHeap
	colSimpleIndex // single target table
	colCodedIndex  // tagged union of target tables
)

type column struct {
	kind   colKind
	target tableIndex   // for colSimpleIndex
	coded  []tableIndex // for colCodedIndex, in tag order
}

// tblNone marks an unused slot in a coded-index's member-table list
// (e.g. CustomAttributeType's "String" tag, which never names an
// actual metadata table). We never decode the contents of the coded
// columns that use it, so it only needs to hold a place for tag-bit
// arithmetic.
const tblNone tableIndex = -1

func simple(t tableIndex) column           { return column{kind: colSimpleIndex, target: t} }
func coded(tags ...tableIndex) column      { return column{kind: colCodedIndex, coded: tags} }
func fixed16() column                      { return column{kind: colUint16} }
func fixed32() column                      { return column{kind: colUint32} }
func strHeap() column                      { return column{kind: colStringHeap} }
func guidHeap() column                     { return column{kind: colGUIDHeap} }
func blobHeap() column                     { return column{kind: colBlobHeap} }

// schema lists every table's columns in file order. Tables this reader
// never inspects the contents of (e.g. CustomAttribute) still need a
// schema entry so rowSize can skip their rows correctly when they
// precede a table we do care about.
var (
	resolutionScope    = []tableIndex{tblModule, tblModuleRef, tblAssemblyRef, tblTypeRef}
	typeDefOrRef       = []tableIndex{tblTypeDef, tblTypeRef, tblTypeSpec}
	memberRefParent    = []tableIndex{tblTypeDef, tblTypeRef, tblModuleRef, tblMethodDef, tblTypeSpec}
	hasConstant        = []tableIndex{tblField, tblParam, tblProperty}
	hasFieldMarshal    = []tableIndex{tblField, tblParam}
	hasDeclSecurity    = []tableIndex{tblTypeDef, tblMethodDef, tblAssembly}
	hasSemantics       = []tableIndex{tblEvent, tblProperty}
	methodDefOrRef     = []tableIndex{tblMethodDef, tblMemberRef}
	memberForwarded    = []tableIndex{tblField, tblMethodDef}
	implementation     = []tableIndex{tblFile, tblAssemblyRef, tblExportedType}
	typeOrMethodDef    = []tableIndex{tblTypeDef, tblMethodDef}
	// HasCustomAttribute / HasCustomDebugInformation share the same
	// 22-member tag space (ECMA-335 §II.24.2.6); we only ever read the
	// members we actually target elsewhere, the rest are tblNone
	// placeholders that exist purely to give codedTagBits(22) its
	// correct 5-bit width.
	hasCustomAttribute = append([]tableIndex{tblMethodDef, tblField, tblTypeRef, tblTypeDef, tblParam}, padNone(17)...)
)

func padNone(n int) []tableIndex {
	out := make([]tableIndex, n)
	for i := range out {
		out[i] = tblNone
	}
	return out
}

var schema = map[tableIndex][]column{
	tblModule:          {fixed16(), strHeap(), guidHeap(), guidHeap(), guidHeap()},
	tblTypeRef:         {coded(resolutionScope...), strHeap(), strHeap()},
	tblTypeDef:         {fixed32(), strHeap(), strHeap(), coded(typeDefOrRef...), simple(tblField), simple(tblMethodDef)},
	tblField:           {fixed16(), strHeap(), blobHeap()},
	tblMethodDef:       {fixed32(), fixed16(), fixed16(), strHeap(), blobHeap(), simple(tblParam)},
	tblParam:           {fixed16(), fixed16(), strHeap()},
	tblInterfaceImpl:   {simple(tblTypeDef), coded(typeDefOrRef...)},
	tblMemberRef:       {coded(memberRefParent...), strHeap(), blobHeap()},
	tblConstant:        {fixed16(), coded(hasConstant...), blobHeap()},
	tblCustomAttribute: {coded(hasCustomAttribute...), coded(methodDefOrRef...), blobHeap()},
	tblFieldMarshal:    {coded(hasFieldMarshal...), blobHeap()},
	tblDeclSecurity:    {fixed16(), coded(hasDeclSecurity...), blobHeap()},
	tblClassLayout:     {fixed16(), fixed32(), simple(tblTypeDef)},
	tblFieldLayout:     {fixed32(), simple(tblField)},
	tblStandAloneSig:   {blobHeap()},
	tblEventMap:        {simple(tblTypeDef), simple(tblEvent)},
	tblEvent:           {fixed16(), strHeap(), coded(typeDefOrRef...)},
	tblPropertyMap:     {simple(tblTypeDef), simple(tblProperty)},
	tblProperty:        {fixed16(), strHeap(), blobHeap()},
	tblMethodSemantics: {fixed16(), simple(tblMethodDef), coded(hasSemantics...)},
	tblMethodImpl:      {simple(tblTypeDef), coded(methodDefOrRef...), coded(methodDefOrRef...)},
	tblModuleRef:       {strHeap()},
	tblTypeSpec:        {blobHeap()},
	tblImplMap:         {fixed16(), coded(memberForwarded...), strHeap(), simple(tblModuleRef)},
	tblFieldRVA:        {fixed32(), simple(tblField)},
	tblAssembly:        {fixed32(), fixed16(), fixed16(), fixed16(), fixed16(), fixed32(), blobHeap(), strHeap(), strHeap()},
	tblAssemblyRef:     {fixed16(), fixed16(), fixed16(), fixed16(), fixed32(), blobHeap(), strHeap(), strHeap(), blobHeap()},
	tblFile:            {fixed32(), strHeap(), blobHeap()},
	tblExportedType:    {fixed32(), fixed32(), strHeap(), strHeap(), coded(implementation...)},
	tblManifestResource: {fixed32(), fixed32(), strHeap(), coded(implementation...)},
	tblNestedClass:      {simple(tblTypeDef), simple(tblTypeDef)},
	tblGenericParam:     {fixed16(), fixed16(), coded(typeOrMethodDef...), strHeap()},
	tblMethodSpec:       {coded(methodDefOrRef...), blobHeap()},
	tblGenericParamConstraint: {simple(tblGenericParam), coded(typeDefOrRef...)},

	tblDocument:           {blobHeap(), guidHeap(), blobHeap(), guidHeap()},
	tblMethodDebugInfo:    {simple(tblDocument), blobHeap()},
	tblLocalScope:         {simple(tblMethodDef), simple(tblImportScope), simple(tblLocalVariable), simple(tblLocalConstant), fixed32(), fixed32()},
	tblLocalVariable:      {fixed16(), fixed16(), strHeap()},
	tblLocalConstant:      {strHeap(), blobHeap()},
	tblImportScope:        {simple(tblImportScope), blobHeap()},
	tblStateMachineMethod: {simple(tblMethodDef), simple(tblMethodDef)},
	tblCustomDebugInfo:    {coded(hasCustomAttribute...), guidHeap(), blobHeap()},
}

// codedTagBits returns the number of low bits a coded index with n
// member tables reserves for its tag, per ECMA-335 §II.24.2.6 (2^bits
// >= n).
func codedTagBits(n int) int {
	bits := 0
	for (1 << uint(bits)) < n {
		bits++
	}
	if bits == 0 {
		bits = 1
	}
	return bits
}

func (ts *tableStream) columnSize(c column) int {
	switch c.kind {
	case colUint16:
		return 2
	case colUint32:
		return 4
	case colStringHeap:
		return ts.stringIndexSize()
	case colGUIDHeap:
		return ts.guidIndexSize()
	case colBlobHeap:
		return ts.blobIndexSize()
	case colSimpleIndex:
		return ts.simpleIndexSize(c.target)
	case colCodedIndex:
		bits := codedTagBits(len(c.coded))
		maxRows := uint32(0)
		for _, t := range c.coded {
			if t == tblNone {
				continue
			}
			if ts.rowCounts[t] > maxRows {
				maxRows = ts.rowCounts[t]
			}
		}
		if maxRows<<uint(bits) > 0xFFFF {
			return 4
		}
		return 2
	}
	return 2
}

func (ts *tableStream) rowSize(t tableIndex) int {
	cols, ok := schema[t]
	if !ok {
		return 0
	}
	size := 0
	for _, c := range cols {
		size += ts.columnSize(c)
	}
	return size
}

// decodeRow splits one row's raw bytes into per-column little-endian
// values (heap/simple-index columns are left as raw offsets/row
// numbers; coded-index columns are split into (table, row) by the
// caller via decodeCoded).
func decodeRow(ts *tableStream, t tableIndex, row []byte) []uint32 {
	cols := schema[t]
	out := make([]uint32, len(cols))
	off := 0
	for i, c := range cols {
		w := ts.columnSize(c)
		var v uint32
		for b := 0; b < w; b++ {
			v |= uint32(row[off+b]) << uint(8*b)
		}
		out[i] = v
		off += w
	}
	return out
}

func decodeCoded(c column, raw uint32) (tableIndex, uint32) {
	bits := codedTagBits(len(c.coded))
	mask := uint32(1)<<uint(bits) - 1
	tag := raw & mask
	row := raw >> uint(bits)
	if int(tag) >= len(c.coded) {
		return -1, 0
	}
	return c.coded[tag], row
}
