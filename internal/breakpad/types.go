// Package breakpad parses Breakpad minidump files and the companion .sym
// symbol files produced by dump_syms, and walks the crashing thread's stack
// to a symbolicated frame list. There is no third-party Go library for
// either format in wide use, so this package is a from-scratch reader
// built directly against the published Breakpad format documentation.
package breakpad

import "fmt"

// Module is one MODULE record from a .sym file or a minidump's module
// list: a loaded binary's address range plus identifying strings.
type Module struct {
	OS       string
	Arch     string
	BuildID  string
	ModuleID string
	Name     string
	BaseAddr uint64
	Size     uint64
}

func (m Module) Contains(addr uint64) bool {
	return addr >= m.BaseAddr && addr < m.BaseAddr+m.Size
}

// StackKey identifies which symbol file a crash's crashing module maps to,
// matching the storage key the symbol store uses: "{module_id}-{build_id}".
func (m Module) StackKey() string {
	return fmt.Sprintf("%s-%s", m.ModuleID, m.BuildID)
}

// RawFrame is one resolved stack frame before JSON rendering.
type RawFrame struct {
	Module       string
	ModuleOffset string
	Offset       string
	Function     string
	File         string
	Line         *int
}

// Thread is one thread's raw register state and stack memory captured in
// the minidump.
type Thread struct {
	ThreadID       uint32
	InstructionPtr uint64
	StackPtr       uint64
	StackBase      uint64
	Stack          []byte
}
