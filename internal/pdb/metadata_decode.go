package pdb

import (
	"encoding/binary"
	"fmt"
)

const metadataRootSignature = 0x424A5342 // "BSJB"

type streamDir struct {
	offset uint32
	size   uint32
}

// decodePortablePDB parses a metadata-root-framed blob (either the
// decompressed embedded-PDB payload or a sidecar .pdb file's bytes,
// both of which share the same root/stream layout) into a Module.
func decodePortablePDB(data []byte) (*Module, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("pdb: blob too small for metadata root")
	}
	if binary.LittleEndian.Uint32(data[0:4]) != metadataRootSignature {
		return nil, fmt.Errorf("pdb: bad metadata root signature")
	}

	versionLen := binary.LittleEndian.Uint32(data[12:16])
	off := 16 + int(versionLen)
	if off+4 > len(data) {
		return nil, fmt.Errorf("pdb: truncated metadata root version string")
	}
	off += 2 // Flags
	numStreams := int(binary.LittleEndian.Uint16(data[off : off+2]))
	off += 2

	streams := make(map[string]streamDir, numStreams)
	for i := 0; i < numStreams; i++ {
		if off+8 > len(data) {
			return nil, fmt.Errorf("pdb: truncated stream header %d", i)
		}
		o := binary.LittleEndian.Uint32(data[off : off+4])
		s := binary.LittleEndian.Uint32(data[off+4 : off+8])
		off += 8
		nameStart := off
		for off < len(data) && data[off] != 0 {
			off++
		}
		name := string(data[nameStart:off])
		off++ // nul terminator
		off = (off + 3) &^ 3 // align to 4 bytes
		streams[name] = streamDir{offset: o, size: s}
	}

	tildeDir, ok := streams["#~"]
	if !ok {
		return nil, fmt.Errorf("pdb: missing #~ stream")
	}
	if int(tildeDir.offset+tildeDir.size) > len(data) {
		return nil, fmt.Errorf("pdb: #~ stream out of bounds")
	}
	tildeData := data[tildeDir.offset : tildeDir.offset+tildeDir.size]

	ts, rowsStart, err := parseTableStreamHeader(tildeData)
	if err != nil {
		return nil, err
	}

	rowOff := rowsStart
	for t := tableIndex(0); t < numTables; t++ {
		count := ts.rowCounts[t]
		if count == 0 {
			continue
		}
		size := ts.rowSize(t)
		if size == 0 {
			// Unknown/undecoded table with nonzero rows: we cannot
			// safely skip past it, so stop here rather than
			// misinterpret subsequent tables' bytes.
			break
		}
		total := int(count) * size
		if rowOff+total > len(tildeData) {
			return nil, fmt.Errorf("pdb: table %d rows out of bounds", t)
		}
		ts.rowData[t] = tildeData[rowOff : rowOff+total]
		rowOff += total
	}

	strHeapData := sliceStream(data, streams, "#Strings")
	blobHeapData := sliceStream(data, streams, "#Blob")

	m := &Module{
		methods:    make(map[uint32]*MethodDebugInfo),
		types:      make(map[uint32]*TypeDebugInfo),
		typeByName: make(map[string]uint32),
	}

	decodeTypeDefs(ts, strHeapData, m)
	fieldRowToType, fieldRowToName := decodeFields(ts, strHeapData, m)
	decodeConstants(ts, blobHeapData, fieldRowToType, fieldRowToName, m)
	decodeMethodDefs(ts, strHeapData, m)
	decodeProperties(ts, strHeapData, m)
	documents := decodeDocuments(ts, strHeapData, blobHeapData)
	decodeMethodDebugInfo(ts, blobHeapData, documents, m)
	decodeLocalScopes(ts, strHeapData, m)

	return m, nil
}

func sliceStream(data []byte, streams map[string]streamDir, name string) []byte {
	d, ok := streams[name]
	if !ok {
		return nil
	}
	if int(d.offset+d.size) > len(data) {
		return nil
	}
	return data[d.offset : d.offset+d.size]
}

func rowAt(rowData []byte, rowSize, row int) []byte {
	start := (row - 1) * rowSize
	end := start + rowSize
	if start < 0 || end > len(rowData) {
		return nil
	}
	return rowData[start:end]
}

func decodeTypeDefs(ts *tableStream, strHeap []byte, m *Module) {
	rowData := ts.rowData[tblTypeDef]
	size := ts.rowSize(tblTypeDef)
	count := int(ts.rowCounts[tblTypeDef])

	for row := 1; row <= count; row++ {
		raw := rowAt(rowData, size, row)
		if raw == nil {
			continue
		}
		cols := decodeRow(ts, tblTypeDef, raw)
		name := readString(strHeap, cols[1])
		namespace := readString(strHeap, cols[2])

		baseType := resolveTypeDefOrRefName(ts, strHeap, schema[tblTypeDef][3], cols[3])

		token := 0x02000000 | uint32(row)
		t := &TypeDebugInfo{
			Token:     token,
			Name:      name,
			Namespace: namespace,
			BaseType:  baseType,
			IsEnum:    baseType == "System.Enum",
		}
		m.types[token] = t
		m.typeByName[name] = token
	}
}

// resolveTypeDefOrRefName resolves a TypeDefOrRef coded index to a
// best-effort fully qualified name. TypeRef rows only carry a
// name/namespace (their ResolutionScope is not chased further, e.g. to
// another assembly's own metadata, which this reader never opens) —
// sufficient for the one thing the value reader needs it for: comparing
// against "System.Enum" / "System.Nullable`1".
func resolveTypeDefOrRefName(ts *tableStream, strHeap []byte, col column, raw uint32) string {
	target, row := decodeCoded(col, raw)
	switch target {
	case tblTypeRef:
		trData := ts.rowData[tblTypeRef]
		size := ts.rowSize(tblTypeRef)
		r := rowAt(trData, size, int(row))
		if r == nil {
			return ""
		}
		cols := decodeRow(ts, tblTypeRef, r)
		ns := readString(strHeap, cols[2])
		name := readString(strHeap, cols[1])
		if ns != "" {
			return ns + "." + name
		}
		return name
	case tblTypeDef:
		tdData := ts.rowData[tblTypeDef]
		size := ts.rowSize(tblTypeDef)
		r := rowAt(tdData, size, int(row))
		if r == nil {
			return ""
		}
		cols := decodeRow(ts, tblTypeDef, r)
		ns := readString(strHeap, cols[2])
		name := readString(strHeap, cols[1])
		if ns != "" {
			return ns + "." + name
		}
		return name
	default:
		return ""
	}
}

const fieldAttrStatic = 0x0010

// decodeFields populates each TypeDebugInfo.Fields and also returns the
// field-row -> declaring-type-token and field-row -> name indexes that
// decodeConstants needs to attach enum literal values to their type.
func decodeFields(ts *tableStream, strHeap []byte, m *Module) (fieldRowToType map[uint32]uint32, fieldRowToName map[uint32]string) {
	fieldRowToType = make(map[uint32]uint32)
	fieldRowToName = make(map[uint32]string)

	fieldRowData := ts.rowData[tblField]
	fieldSize := ts.rowSize(tblField)
	fieldCount := int(ts.rowCounts[tblField])

	typeRowData := ts.rowData[tblTypeDef]
	typeSize := ts.rowSize(tblTypeDef)
	typeCount := int(ts.rowCounts[tblTypeDef])

	for row := 1; row <= typeCount; row++ {
		raw := rowAt(typeRowData, typeSize, row)
		if raw == nil {
			continue
		}
		cols := decodeRow(ts, tblTypeDef, raw)
		start := int(cols[4])
		end := fieldCount + 1
		if row < typeCount {
			nextRaw := rowAt(typeRowData, typeSize, row+1)
			if nextRaw != nil {
				end = int(decodeRow(ts, tblTypeDef, nextRaw)[4])
			}
		}
		token := 0x02000000 | uint32(row)
		t, ok := m.types[token]
		if !ok {
			continue
		}
		for fr := start; fr < end && fr <= fieldCount; fr++ {
			fraw := rowAt(fieldRowData, fieldSize, fr)
			if fraw == nil {
				continue
			}
			fcols := decodeRow(ts, tblField, fraw)
			name := readString(strHeap, fcols[1])
			t.Fields = append(t.Fields, FieldInfo{
				Name:     name,
				IsStatic: fcols[0]&fieldAttrStatic != 0,
			})
			fieldRow := uint32(fr)
			fieldRowToType[fieldRow] = token
			fieldRowToName[fieldRow] = name
		}
	}
	return fieldRowToType, fieldRowToName
}

// decodeConstants attaches enum literal values (Field table rows with a
// matching Constant row) to their declaring type's EnumMembers, so the
// value reader can format a raw integer as "TypeName.MemberName"
// without touching the live process again.
func decodeConstants(ts *tableStream, blobHeap []byte, fieldRowToType map[uint32]uint32, fieldRowToName map[uint32]string, m *Module) {
	rowData := ts.rowData[tblConstant]
	size := ts.rowSize(tblConstant)
	count := int(ts.rowCounts[tblConstant])
	col := schema[tblConstant][1]

	for row := 1; row <= count; row++ {
		raw := rowAt(rowData, size, row)
		if raw == nil {
			continue
		}
		cols := decodeRow(ts, tblConstant, raw)
		elemType := byte(cols[0])
		target, fieldRow := decodeCoded(col, cols[1])
		if target != tblField {
			continue
		}
		typeToken, ok := fieldRowToType[fieldRow]
		if !ok {
			continue
		}
		t, ok := m.types[typeToken]
		if !ok || !t.IsEnum {
			continue
		}
		val, ok := decodeIntegerConstant(elemType, readBlob(blobHeap, cols[2]))
		if !ok {
			continue
		}
		t.EnumMembers = append(t.EnumMembers, EnumMember{Name: fieldRowToName[fieldRow], Value: val})
	}
}

// decodeIntegerConstant interprets a Constant-table blob per its
// ELEMENT_TYPE tag (ECMA-335 §II.23.1.16); only the integer widths an
// enum's backing field can use are handled.
func decodeIntegerConstant(elemType byte, blob []byte) (int64, bool) {
	le := func(n int) (uint64, bool) {
		if len(blob) < n {
			return 0, false
		}
		var v uint64
		for i := 0; i < n; i++ {
			v |= uint64(blob[i]) << uint(8*i)
		}
		return v, true
	}
	switch elemType {
	case 0x02: // BOOLEAN
		v, ok := le(1)
		return int64(v), ok
	case 0x03: // CHAR
		v, ok := le(2)
		return int64(v), ok
	case 0x04: // I1
		v, ok := le(1)
		return int64(int8(v)), ok
	case 0x05: // U1
		v, ok := le(1)
		return int64(v), ok
	case 0x06: // I2
		v, ok := le(2)
		return int64(int16(v)), ok
	case 0x07: // U2
		v, ok := le(2)
		return int64(v), ok
	case 0x08: // I4
		v, ok := le(4)
		return int64(int32(v)), ok
	case 0x09: // U4
		v, ok := le(4)
		return int64(v), ok
	case 0x0A: // I8
		v, ok := le(8)
		return int64(v), ok
	case 0x0B: // U8
		v, ok := le(8)
		return int64(v), ok
	default:
		return 0, false
	}
}

func decodeMethodDefs(ts *tableStream, strHeap []byte, m *Module) {
	methodRowData := ts.rowData[tblMethodDef]
	methodSize := ts.rowSize(tblMethodDef)
	methodCount := int(ts.rowCounts[tblMethodDef])

	typeRowData := ts.rowData[tblTypeDef]
	typeSize := ts.rowSize(tblTypeDef)
	typeCount := int(ts.rowCounts[tblTypeDef])

	for row := 1; row <= typeCount; row++ {
		raw := rowAt(typeRowData, typeSize, row)
		if raw == nil {
			continue
		}
		cols := decodeRow(ts, tblTypeDef, raw)
		start := int(cols[5])
		end := methodCount + 1
		if row < typeCount {
			nextRaw := rowAt(typeRowData, typeSize, row+1)
			if nextRaw != nil {
				end = int(decodeRow(ts, tblTypeDef, nextRaw)[5])
			}
		}
		declToken := 0x02000000 | uint32(row)

		for mr := start; mr < end && mr <= methodCount; mr++ {
			mraw := rowAt(methodRowData, methodSize, mr)
			if mraw == nil {
				continue
			}
			mcols := decodeRow(ts, tblMethodDef, mraw)
			token := MethodToken(uint32(mr))
			m.methods[token] = &MethodDebugInfo{
				Token:              token,
				DeclaringTypeToken: declToken,
			}
			_ = readString(strHeap, mcols[3]) // method name; read but not stored
		}
	}
}

func decodeProperties(ts *tableStream, strHeap []byte, m *Module) {
	mapRowData := ts.rowData[tblPropertyMap]
	mapSize := ts.rowSize(tblPropertyMap)
	mapCount := int(ts.rowCounts[tblPropertyMap])

	propRowData := ts.rowData[tblProperty]
	propSize := ts.rowSize(tblProperty)
	propCount := int(ts.rowCounts[tblProperty])

	for row := 1; row <= mapCount; row++ {
		raw := rowAt(mapRowData, mapSize, row)
		if raw == nil {
			continue
		}
		cols := decodeRow(ts, tblPropertyMap, raw)
		parentToken := 0x02000000 | cols[0]
		start := int(cols[1])
		end := propCount + 1
		if row < mapCount {
			nextRaw := rowAt(mapRowData, mapSize, row+1)
			if nextRaw != nil {
				end = int(decodeRow(ts, tblPropertyMap, nextRaw)[1])
			}
		}
		t, ok := m.types[parentToken]
		if !ok {
			continue
		}
		for pr := start; pr < end && pr <= propCount; pr++ {
			praw := rowAt(propRowData, propSize, pr)
			if praw == nil {
				continue
			}
			pcols := decodeRow(ts, tblProperty, praw)
			t.Properties = append(t.Properties, PropertyInfo{Name: readString(strHeap, pcols[1])})
		}
	}
}

type document struct {
	name string
}

func decodeDocuments(ts *tableStream, strHeap, blobHeap []byte) map[uint32]document {
	out := make(map[uint32]document)
	rowData := ts.rowData[tblDocument]
	size := ts.rowSize(tblDocument)
	count := int(ts.rowCounts[tblDocument])

	for row := 1; row <= count; row++ {
		raw := rowAt(rowData, size, row)
		if raw == nil {
			continue
		}
		cols := decodeRow(ts, tblDocument, raw)
		out[uint32(row)] = document{name: documentName(blobHeap, cols[0])}
	}
	return out
}

// documentName decodes a Document.Name blob: a one-byte separator
// character followed by a sequence of compressed blob-heap indices,
// each naming one path part, joined by the separator. A part index of
// 0 contributes an empty string (used for e.g. a leading separator on
// POSIX paths).
func documentName(blobHeap []byte, blobIndex uint32) string {
	raw := readBlob(blobHeap, blobIndex)
	if len(raw) == 0 {
		return ""
	}
	sep := string(raw[0:1])
	if raw[0] == 0 {
		sep = ""
	}

	rest := raw[1:]
	var parts []string
	for len(rest) > 0 {
		idx, n, err := readCompressedUint(rest)
		if err != nil {
			break
		}
		rest = rest[n:]
		if idx == 0 {
			parts = append(parts, "")
			continue
		}
		part := readBlob(blobHeap, idx)
		parts = append(parts, string(part))
	}
	if sep == "" {
		sep = "/"
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func decodeMethodDebugInfo(ts *tableStream, blobHeap []byte, documents map[uint32]document, m *Module) {
	rowData := ts.rowData[tblMethodDebugInfo]
	size := ts.rowSize(tblMethodDebugInfo)
	count := int(ts.rowCounts[tblMethodDebugInfo])

	for row := 1; row <= count; row++ {
		raw := rowAt(rowData, size, row)
		if raw == nil {
			continue
		}
		cols := decodeRow(ts, tblMethodDebugInfo, raw)
		docRow := cols[0]
		docName := documents[docRow].name

		// MethodDebugInformation row N always describes MethodDef row N.
		token := MethodToken(uint32(row))
		mi, ok := m.methods[token]
		if !ok {
			mi = &MethodDebugInfo{Token: token}
			m.methods[token] = mi
		}

		spBlob := readBlob(blobHeap, cols[1])
		sps, err := decodeSequencePoints(spBlob, docName)
		if err == nil {
			mi.SequencePoints = sps
		}
	}
}

func decodeLocalScopes(ts *tableStream, strHeap []byte, m *Module) {
	scopeRowData := ts.rowData[tblLocalScope]
	scopeSize := ts.rowSize(tblLocalScope)
	scopeCount := int(ts.rowCounts[tblLocalScope])

	varRowData := ts.rowData[tblLocalVariable]
	varSize := ts.rowSize(tblLocalVariable)
	varCount := int(ts.rowCounts[tblLocalVariable])

	for row := 1; row <= scopeCount; row++ {
		raw := rowAt(scopeRowData, scopeSize, row)
		if raw == nil {
			continue
		}
		cols := decodeRow(ts, tblLocalScope, raw)
		methodToken := MethodToken(cols[0])
		start := int(cols[2])
		end := varCount + 1
		if row < scopeCount {
			nextRaw := rowAt(scopeRowData, scopeSize, row+1)
			if nextRaw != nil {
				end = int(decodeRow(ts, tblLocalScope, nextRaw)[2])
			}
		}

		mi, ok := m.methods[methodToken]
		if !ok {
			mi = &MethodDebugInfo{Token: methodToken}
			m.methods[methodToken] = mi
		}

		scope := LocalScope{StartOffset: cols[4], EndOffset: cols[4] + cols[5], Locals: make(map[int]string)}
		for vr := start; vr < end && vr <= varCount; vr++ {
			vraw := rowAt(varRowData, varSize, vr)
			if vraw == nil {
				continue
			}
			vcols := decodeRow(ts, tblLocalVariable, vraw)
			slot := int(vcols[1])
			name := readString(strHeap, vcols[2])
			scope.Locals[slot] = name
		}
		mi.LocalScopes = append(mi.LocalScopes, scope)
	}
}

// decodeSequencePoints decodes the Portable PDB sequence-points blob
// format: a leading compressed local-signature token, then a run of
// records each carrying an IL-offset delta, a (line-delta, col-delta)
// pair that is (0,0) exactly when the point is hidden, and an
// absolute-then-delta-encoded start line/column.
func decodeSequencePoints(blob []byte, document string) ([]SequencePoint, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	// Leading local-signature token; unused by this reader.
	_, n, err := readCompressedUint(blob)
	if err != nil {
		return nil, err
	}
	rest := blob[n:]

	var points []SequencePoint
	var ilOffset uint32
	var prevLine, prevCol int
	first := true

	for len(rest) > 0 {
		delta, n, err := readCompressedUint(rest)
		if err != nil {
			return points, nil
		}
		rest = rest[n:]

		if first {
			ilOffset = delta
		} else {
			ilOffset += delta
		}

		deltaLines, n, err := readCompressedUint(rest)
		if err != nil {
			return points, nil
		}
		rest = rest[n:]

		var deltaCols uint32
		if len(rest) > 0 {
			deltaCols, n, err = readCompressedUint(rest)
			if err != nil {
				return points, nil
			}
			rest = rest[n:]
		}

		hidden := deltaLines == 0 && deltaCols == 0

		var startLine, startCol, endLine, endCol int
		if !hidden {
			if first {
				v, n, err := readCompressedUint(rest)
				if err != nil {
					return points, nil
				}
				rest = rest[n:]
				startLine = int(v)

				v, n, err = readCompressedUint(rest)
				if err != nil {
					return points, nil
				}
				rest = rest[n:]
				startCol = int(v)
			} else {
				v, n, err := readCompressedUint(rest)
				if err != nil {
					return points, nil
				}
				rest = rest[n:]
				startLine = prevLine + int(decodeSigned(v))

				v, n, err = readCompressedUint(rest)
				if err != nil {
					return points, nil
				}
				rest = rest[n:]
				startCol = prevCol + int(decodeSigned(v))
			}
			endLine = startLine + int(deltaLines)
			endCol = startCol + int(deltaCols)
			prevLine, prevCol = startLine, startCol
		}

		points = append(points, SequencePoint{
			ILOffset:  ilOffset,
			StartLine: startLine,
			StartCol:  startCol,
			EndLine:   endLine,
			EndCol:    endCol,
			Document:  document,
			Hidden:    hidden,
		})
		first = false
	}

	return points, nil
}
