package pdb

import (
	"bytes"
	"compress/flate"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Module is one loaded DLL's decoded debug + PE metadata: everything
// the lookup operations in lookup.go need, already resolved into plain
// Go structures so the algorithms in this package never touch raw
// bytes.
type Module struct {
	Path string

	methods    map[uint32]*MethodDebugInfo // keyed by MethodToken()
	types      map[uint32]*TypeDebugInfo   // keyed by type-def token
	typeByName map[string]uint32           // simple name -> type-def token
}

// embeddedPortablePDBDebugType is IMAGE_DEBUG_TYPE_EMBEDDED_PORTABLE_PDB.
const embeddedPortablePDBDebugType = 17

// codeViewDebugType is IMAGE_DEBUG_TYPE_CODEVIEW. Load does not read
// the path it records: the sidecar .pdb is looked up beside the dll
// under the same base name.
const codeViewDebugType = 2

// Load reads dllPath's PE headers, finds its Portable PDB (embedded
// first, sidecar fallback per spec.md §6), and decodes it into a
// Module. I/O and malformed-metadata errors are non-fatal to the
// caller's session but do mean every lookup on this Module degrades to
// empty/None results (spec.md §4.B "Failure" paragraph) — Load itself
// still returns an error so the engine can log it once rather than
// silently produce empty results forever.
func Load(dllPath string) (*Module, error) {
	f, err := pe.Open(dllPath)
	if err != nil {
		return nil, fmt.Errorf("pdb: open %s: %w", dllPath, err)
	}
	defer f.Close()

	pdbBytes, fromEmbedded, err := locatePDB(f, dllPath)
	if err != nil {
		return nil, err
	}

	m, err := decodePortablePDB(pdbBytes)
	if err != nil {
		return nil, fmt.Errorf("pdb: decode %s (embedded=%v): %w", dllPath, fromEmbedded, err)
	}
	m.Path = dllPath
	return m, nil
}

func locatePDB(f *pe.File, dllPath string) (data []byte, embedded bool, err error) {
	debugDirs, err := readDebugDirectory(f)
	if err != nil {
		return nil, false, err
	}

	for _, d := range debugDirs {
		if d.Type == embeddedPortablePDBDebugType {
			raw, err := inflateEmbedded(d.Data)
			if err != nil {
				return nil, true, err
			}
			return raw, true, nil
		}
	}

	// Sidecar fallback: same base name, .pdb extension, next to the DLL.
	sidecar := strings.TrimSuffix(dllPath, filepath.Ext(dllPath)) + ".pdb"
	raw, err := os.ReadFile(sidecar)
	if err != nil {
		return nil, false, fmt.Errorf("pdb: no embedded PDB and no sidecar at %s: %w", sidecar, err)
	}
	return raw, false, nil
}

type debugDirEntry struct {
	Type uint32
	Data []byte
}

// readDebugDirectory walks the PE debug directory looking for entries
// whose raw data we can slice straight out of the section bytes
// debug/pe already mapped in for us.
func readDebugDirectory(f *pe.File) ([]debugDirEntry, error) {
	var entries []debugDirEntry
	// debug/pe does not expose the debug directory directly; callers in
	// the wild (including dotnet-trace-adjacent tooling) walk
	// OptionalHeader.DataDirectory[IMAGE_DIRECTORY_ENTRY_DEBUG] by hand.
	// We do the same: find the section containing that RVA and decode
	// IMAGE_DEBUG_DIRECTORY entries (28 bytes each) from it.
	const imageDirectoryEntryDebug = 6

	var rva, size uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if imageDirectoryEntryDebug >= len(oh.DataDirectory) {
			return nil, nil
		}
		rva = oh.DataDirectory[imageDirectoryEntryDebug].VirtualAddress
		size = oh.DataDirectory[imageDirectoryEntryDebug].Size
	case *pe.OptionalHeader64:
		if imageDirectoryEntryDebug >= len(oh.DataDirectory) {
			return nil, nil
		}
		rva = oh.DataDirectory[imageDirectoryEntryDebug].VirtualAddress
		size = oh.DataDirectory[imageDirectoryEntryDebug].Size
	default:
		return nil, fmt.Errorf("pdb: unrecognized optional header type")
	}

	if rva == 0 || size == 0 {
		return nil, nil
	}

	sec := sectionContaining(f, rva)
	if sec == nil {
		return nil, fmt.Errorf("pdb: debug directory RVA 0x%x not in any section", rva)
	}

	secData, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("pdb: reading section %s: %w", sec.Name, err)
	}

	off := rva - sec.VirtualAddress
	const entrySize = 28
	for off+entrySize <= uint32(len(secData)) {
		e := secData[off : off+entrySize]
		typ := binary.LittleEndian.Uint32(e[12:16])
		dataSize := binary.LittleEndian.Uint32(e[16:20])
		pointerToRawData := binary.LittleEndian.Uint32(e[24:28])

		var raw []byte
		if int(pointerToRawData)+int(dataSize) <= len(secData) {
			// Best effort: only valid when the debug data lives in the
			// same section we already mapped; embedded-PDB entries
			// typically do.
			raw = secData[pointerToRawData : pointerToRawData+dataSize]
		}
		entries = append(entries, debugDirEntry{Type: typ, Data: raw})
		off += entrySize
		if off >= size {
			break
		}
	}

	return entries, nil
}

func sectionContaining(f *pe.File, rva uint32) *pe.Section {
	for _, s := range f.Sections {
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+s.Size {
			return s
		}
	}
	return nil
}

// inflateEmbedded decompresses an embedded Portable PDB's payload: a
// 4-byte signature ('MPDB'), a 4-byte uncompressed-size, then a raw
// DEFLATE stream.
func inflateEmbedded(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("pdb: embedded PDB directory entry too small")
	}
	sig := binary.LittleEndian.Uint32(data[0:4])
	const embeddedSignature = 0x4244504d // "MPDB"
	if sig != embeddedSignature {
		return nil, fmt.Errorf("pdb: bad embedded PDB signature 0x%08x", sig)
	}
	uncompressedSize := binary.LittleEndian.Uint32(data[4:8])

	zr := flate.NewReader(bytes.NewReader(data[8:]))
	defer zr.Close()

	out := make([]byte, 0, uncompressedSize)
	buf := make([]byte, 32*1024)
	for {
		n, err := zr.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("pdb: inflating embedded PDB: %w", err)
		}
	}
	return out, nil
}
