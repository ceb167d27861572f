package breakpad

import (
	"encoding/binary"
	"fmt"
)

// maxWalkFrames bounds how many frames Walk will return so a pathological
// stack scan can't produce an unbounded report. The signature generator
// truncates separately, by its own MaximumFrameCount.
const maxWalkFrames = 64

// SymbolLookup resolves a module to its parsed symbol table. Implementations
// typically fetch "symbols/{module_id}-{build_id}" from the object store
// and cache the parsed result for the lifetime of one job.
type SymbolLookup func(m Module) (*SymbolTable, error)

// Walk produces the crashing thread's frame list. Frame 0 comes directly
// from the crash instruction pointer; subsequent frames are recovered by
// scanning the thread's stack memory for pointer-sized values that land
// inside a known module's code range, Breakpad's fallback strategy for
// stacks with no frame-pointer or CFI data to walk precisely. An address
// whose module has no symbol table, or that no symbol resolves, yields no
// frame.
func Walk(md *Minidump, lookup SymbolLookup) ([]RawFrame, error) {
	var frames []RawFrame

	if f, ok := resolveAddress(md.CrashingThread.InstructionPtr, md.Modules, lookup); ok {
		frames = append(frames, f)
	}

	stack := md.CrashingThread.Stack

	for off := 0; off+8 <= len(stack) && len(frames) < maxWalkFrames; off += 8 {
		candidate := binary.LittleEndian.Uint64(stack[off:])

		f, ok := resolveAddress(candidate, md.Modules, lookup)
		if !ok {
			continue
		}

		frames = append(frames, f)
	}

	return frames, nil
}

func resolveAddress(addr uint64, modules []Module, lookup SymbolLookup) (RawFrame, bool) {
	mod, ok := moduleFor(addr, modules)
	if !ok {
		return RawFrame{}, false
	}

	offset := addr - mod.BaseAddr

	var name, file string
	var line *int
	if lookup != nil {
		if st, err := lookup(mod); err == nil && st != nil {
			name, file, line = st.Lookup(offset)
		}
	}
	if name == "" && file == "" {
		return RawFrame{}, false
	}

	return RawFrame{
		Module:       mod.Name,
		ModuleOffset: hexAddr(mod.BaseAddr),
		Offset:       hexAddr(offset),
		Function:     name,
		File:         file,
		Line:         line,
	}, true
}

func moduleFor(addr uint64, modules []Module) (Module, bool) {
	for _, m := range modules {
		if m.Contains(addr) {
			return m, true
		}
	}
	return Module{}, false
}

func hexAddr(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
