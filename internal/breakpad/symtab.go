package breakpad

import (
	"bufio"
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/crashvault/crashvault/internal/apperrors"
)

// Function is one FUNC record: a named range of addresses within a module.
type Function struct {
	Address uint64
	Size    uint64
	Name    string
}

// lineEntry is one source-line record nested under a FUNC record.
type lineEntry struct {
	Address   uint64
	Size      uint64
	Line      int
	FileIndex int
}

// SymbolTable is a parsed .sym file: enough to resolve a module-relative
// address to a function name and, where line records exist, a file/line.
type SymbolTable struct {
	Module    Module
	functions []Function  // sorted by Address
	lines     []lineEntry // sorted by Address
	files     map[int]string
	publics   []Function // sorted by Address, used when no FUNC covers an address
}

// ParseSymbolFile parses a Breakpad text symbol file: the MODULE header
// line, FILE/FUNC/PUBLIC records, and each FUNC's nested line records.
// STACK records (CFI/WIN unwind programs) are not interpreted; this
// package resolves frames by scanning stack memory rather than by
// following unwind programs, so STACK lines are skipped.
func ParseSymbolFile(data []byte) (*SymbolTable, error) {
	st := &SymbolTable{files: make(map[int]string)}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentFunc *Function
	var haveModule bool

	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "MODULE":
			// MODULE <os> <arch> <debug-id> <name>
			if len(fields) < 5 {
				return nil, apperrors.Validation("malformed MODULE record: %q", line)
			}
			st.Module = Module{
				OS:       fields[1],
				Arch:     fields[2],
				BuildID:  fields[3],
				ModuleID: fields[4],
				Name:     strings.Join(fields[4:], " "),
			}
			haveModule = true

		case "FILE":
			if len(fields) < 3 {
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			st.files[idx] = strings.Join(fields[2:], " ")

		case "FUNC":
			// FUNC [m] <address> <size> <param_size> <name>
			vals := fields[1:]
			if len(vals) > 0 && vals[0] == "m" {
				vals = vals[1:]
			}
			if len(vals) < 4 {
				continue
			}
			addr, err1 := parseHex(vals[0])
			size, err2 := parseHex(vals[1])
			if err1 != nil || err2 != nil {
				continue
			}
			f := Function{Address: addr, Size: size, Name: strings.Join(vals[3:], " ")}
			st.functions = append(st.functions, f)
			currentFunc = &st.functions[len(st.functions)-1]

		case "PUBLIC":
			// PUBLIC [m] <address> <param_size> <name>
			vals := fields[1:]
			if len(vals) > 0 && vals[0] == "m" {
				vals = vals[1:]
			}
			if len(vals) < 3 {
				continue
			}
			addr, err := parseHex(vals[0])
			if err != nil {
				continue
			}
			st.publics = append(st.publics, Function{Address: addr, Name: strings.Join(vals[2:], " ")})
			currentFunc = nil

		case "STACK", "INFO":
			currentFunc = nil

		default:
			// A bare numeric line under the most recent FUNC is a line
			// record: <address> <size> <line> <file_index>.
			if currentFunc == nil {
				continue
			}
			if len(fields) < 4 {
				continue
			}
			addr, err1 := parseHex(fields[0])
			size, err2 := parseHex(fields[1])
			lineNo, err3 := strconv.Atoi(fields[2])
			fileIdx, err4 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
				continue
			}
			st.lines = append(st.lines, lineEntry{Address: addr, Size: size, Line: lineNo, FileIndex: fileIdx})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, apperrors.Validation("scan symbol file: %v", err)
	}
	if !haveModule {
		return nil, apperrors.Validation("symbol file has no MODULE record")
	}

	sort.Slice(st.functions, func(i, j int) bool { return st.functions[i].Address < st.functions[j].Address })
	sort.Slice(st.publics, func(i, j int) bool { return st.publics[i].Address < st.publics[j].Address })
	sort.Slice(st.lines, func(i, j int) bool { return st.lines[i].Address < st.lines[j].Address })

	return st, nil
}

func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

// Lookup resolves a module-relative address to a function name and,
// when available, a source file and line. addr must already have the
// module's base address subtracted. An address no FUNC covers resolves to
// the nearest PUBLIC symbol at or below it, with no upper bound; only an
// address below every PUBLIC resolves to nothing.
func (st *SymbolTable) Lookup(addr uint64) (function, file string, line *int) {
	if fn, ok := findCovering(st.functions, addr, func(f Function) (uint64, uint64) { return f.Address, f.Size }); ok {
		function = fn.Name
		if ln, ok := findCovering(st.lines, addr, func(l lineEntry) (uint64, uint64) { return l.Address, l.Size }); ok {
			if name, ok := st.files[ln.FileIndex]; ok {
				file = name
				l := ln.Line
				line = &l
			}
		}
		return function, file, line
	}

	if fn, ok := nearestBelow(st.publics, addr); ok {
		return fn.Name, "", nil
	}

	return "", "", nil
}

// findCovering binary-searches a sorted-by-address slice for the entry
// whose [addr, addr+size) range contains target.
func findCovering[T any](entries []T, target uint64, rng func(T) (uint64, uint64)) (T, bool) {
	var zero T
	i := sort.Search(len(entries), func(i int) bool {
		addr, _ := rng(entries[i])
		return addr > target
	})
	if i == 0 {
		return zero, false
	}
	candidate := entries[i-1]
	addr, size := rng(candidate)
	if target >= addr && target < addr+size {
		return candidate, true
	}
	return zero, false
}

func nearestBelow(entries []Function, target uint64) (Function, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Address > target })
	if i == 0 {
		return Function{}, false
	}
	return entries[i-1], true
}
