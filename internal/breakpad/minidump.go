package breakpad

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/crashvault/crashvault/internal/apperrors"
)

const (
	mdSignature = 0x504d444d // "MDMP"

	streamModuleList = 4
	streamThreadList = 3
	streamException  = 6
	streamSystemInfo = 7
)

// amd64 CONTEXT field byte offsets, per Breakpad's MDRawContextAMD64 layout
// (minidump_format.h): six 8-byte home fields, then context_flags/mx_csr,
// six 2-byte segment selectors, eflags, six debug registers, then the
// general purpose registers in rax..r15,rip order.
const (
	ctxAMD64RspOffset = 152
	ctxAMD64RipOffset = 248
)

// Minidump is the subset of a parsed minidump this repository needs:
// the module list (for symbol lookup) and the crashing thread's register
// state and stack memory (for unwinding).
type Minidump struct {
	Modules         []Module
	CrashingThread  Thread
	HasException    bool
}

// ParseMinidump parses the directory streams this package understands from
// a raw minidump file. Unrecognized stream types are ignored.
func ParseMinidump(data []byte) (*Minidump, error) {
	r := reader{data: data}

	if len(data) < 32 {
		return nil, apperrors.Validation("minidump too short for header")
	}

	sig := r.u32(0)
	if sig != mdSignature {
		return nil, apperrors.Validation("not a minidump file (bad signature)")
	}

	numStreams := r.u32(8)
	dirRva := r.u32(12)

	md := &Minidump{}

	var exceptionThreadID uint32
	var exceptionContextRva, exceptionContextSize uint32
	var threads []rawThreadEntry

	for i := uint32(0); i < numStreams; i++ {
		entryOff := dirRva + i*12
		if int(entryOff)+12 > len(data) {
			break
		}
		streamType := r.u32(entryOff)
		dataSize := r.u32(entryOff + 4)
		rva := r.u32(entryOff + 8)

		switch streamType {
		case streamModuleList:
			mods, err := parseModuleList(&r, rva)
			if err != nil {
				return nil, err
			}
			md.Modules = mods
		case streamThreadList:
			ts, err := parseThreadList(&r, rva)
			if err != nil {
				return nil, err
			}
			threads = ts
		case streamException:
			md.HasException = true
			exceptionThreadID = r.u32(rva)
			// MDRawExceptionStream.thread_context is the last field, an
			// MDLocationDescriptor (data_size, rva) following thread_id,
			// __align, and the fixed-size exception_record.
			ctxLocOff := rva + 8 + exceptionRecordSize
			exceptionContextSize = r.u32(ctxLocOff)
			exceptionContextRva = r.u32(ctxLocOff + 4)
		case streamSystemInfo:
			_ = dataSize // processor architecture not currently branched on
		}
	}

	crashThreadID := exceptionThreadID
	if !md.HasException && len(threads) > 0 {
		crashThreadID = threads[0].threadID
	}

	for _, t := range threads {
		if t.threadID != crashThreadID {
			continue
		}

		stack := r.bytes(t.stackRva, t.stackSize)

		ctxRva, ctxSize := t.contextRva, t.contextSize
		if exceptionContextRva != 0 {
			ctxRva, ctxSize = exceptionContextRva, exceptionContextSize
		}

		rip, rsp := r.contextRegisters(ctxRva, ctxSize)

		md.CrashingThread = Thread{
			ThreadID:       t.threadID,
			InstructionPtr: rip,
			StackPtr:       rsp,
			StackBase:      t.stackStart,
			Stack:          stack,
		}
		return md, nil
	}

	return nil, apperrors.Validation("crashing thread %d not found in thread list", crashThreadID)
}

// exceptionRecordSize is sizeof(MDExceptionRecord) in MDRawExceptionStream:
// ExceptionCode, ExceptionFlags, ExceptionRecord, ExceptionAddress (4 uint32
// aligned to 8 + padding), NumberParameters, __align, ExceptionInformation[15].
const exceptionRecordSize = 4 + 4 + 8 + 8 + 4 + 4 + 15*8

type rawThreadEntry struct {
	threadID    uint32
	stackStart  uint64
	stackRva    uint32
	stackSize   uint32
	contextRva  uint32
	contextSize uint32
}

func parseModuleList(r *reader, rva uint32) ([]Module, error) {
	count := r.u32(rva)
	mods := make([]Module, 0, count)

	const moduleRecordSize = 108 // BaseOfImage..Reserved1, see MDRawModule

	for i := uint32(0); i < count; i++ {
		off := rva + 4 + i*moduleRecordSize

		base := r.u64(off)
		size := r.u32(off + 8)
		nameRva := r.u32(off + 20)
		cvDataSize := r.u32(off + 84)
		cvRva := r.u32(off + 88)

		name := r.utf16StringAt(nameRva)
		buildID := ""
		if cvDataSize > 0 {
			buildID = fmt.Sprintf("%X", r.bytes(cvRva, cvDataSize))
		}

		mods = append(mods, Module{
			Name:     name,
			BaseAddr: base,
			Size:     uint64(size),
			BuildID:  buildID,
			ModuleID: buildID,
		})
	}

	return mods, nil
}

func parseThreadList(r *reader, rva uint32) ([]rawThreadEntry, error) {
	count := r.u32(rva)
	threads := make([]rawThreadEntry, 0, count)

	const threadRecordSize = 48 // ThreadId..ThreadContext, see MDRawThread

	for i := uint32(0); i < count; i++ {
		off := rva + 4 + i*threadRecordSize

		threadID := r.u32(off)
		stackStart := r.u64(off + 8)
		stackSize := r.u32(off + 16)
		stackRva := r.u32(off + 20)
		ctxSize := r.u32(off + 40)
		ctxRva := r.u32(off + 44)

		threads = append(threads, rawThreadEntry{
			threadID:    threadID,
			stackStart:  stackStart,
			stackRva:    stackRva,
			stackSize:   stackSize,
			contextRva:  ctxRva,
			contextSize: ctxSize,
		})
	}

	return threads, nil
}

// reader wraps raw minidump bytes with bounds-checked little-endian
// accessors keyed by RVA (minidump RVAs are plain file byte offsets).
type reader struct {
	data []byte
}

func (r *reader) u16(off uint32) uint16 {
	if int(off)+2 > len(r.data) {
		return 0
	}
	return binary.LittleEndian.Uint16(r.data[off:])
}

func (r *reader) u32(off uint32) uint32 {
	if int(off)+4 > len(r.data) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.data[off:])
}

func (r *reader) u64(off uint32) uint64 {
	if int(off)+8 > len(r.data) {
		return 0
	}
	return binary.LittleEndian.Uint64(r.data[off:])
}

func (r *reader) bytes(off, size uint32) []byte {
	end := int(off) + int(size)
	if end > len(r.data) || int(off) > end {
		return nil
	}
	out := make([]byte, size)
	copy(out, r.data[off:end])
	return out
}

// utf16StringAt reads a Breakpad MDString: a uint32 byte-length prefix
// followed by that many bytes of UTF-16LE (no terminator counted in length).
func (r *reader) utf16StringAt(off uint32) string {
	byteLen := r.u32(off)
	raw := r.bytes(off+4, byteLen)
	if raw == nil {
		return ""
	}

	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(raw[i:]))
	}

	return string(utf16.Decode(units))
}

// contextRegisters extracts Rip/Rsp from a CONTEXT blob using the amd64
// layout. Only the blob's size is checked: a context too short to hold Rip
// yields zero values, and a long enough context of another architecture is
// read as if it were amd64.
func (r *reader) contextRegisters(rva, size uint32) (rip, rsp uint64) {
	if size < ctxAMD64RipOffset+8 {
		return 0, 0
	}
	return r.u64(rva + ctxAMD64RipOffset), r.u64(rva + ctxAMD64RspOffset)
}
