package wasm

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	abi "github.com/woxQAQ/unified-ffi/api/wasm"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
)

// Memory reads and writes the ABI structs in a guest's linear memory.
//
// Every access is bounds checked by wazero; an out-of-range pointer coming
// from the guest yields a MemoryAccessError instead of a host fault.
type Memory struct {
	mem api.Memory
}

// NewMemory creates a memory helper.
func NewMemory(module api.Module) *Memory {
	return &Memory{mem: module.Memory()}
}

func (m *Memory) view(op string, ptr uint32, length int) ([]byte, error) {
	if m.mem == nil {
		return nil, &MemoryAccessError{Operation: op, Address: ptr, Length: uint32(length), Err: fmt.Errorf("module has no memory")}
	}
	b, ok := m.mem.Read(ptr, uint32(length))
	if !ok {
		return nil, &MemoryAccessError{Operation: op, Address: ptr, Length: uint32(length), Err: fmt.Errorf("out of range")}
	}
	return b, nil
}

// ReadBytes copies length bytes starting at ptr.
func (m *Memory) ReadBytes(ptr, length uint32) ([]byte, error) {
	b, err := m.view("read", ptr, int(length))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// ReadBuffer reads a Buffer struct at ptr.
func (m *Memory) ReadBuffer(ptr uint32) (ffi.Buffer, error) {
	b, err := m.view("read_buffer", ptr, abi.BufferSize)
	if err != nil {
		return ffi.Buffer{}, err
	}
	return abi.Layout.Buffer(b)
}

// WriteBuffer writes buf as a Buffer struct at ptr.
func (m *Memory) WriteBuffer(ptr uint32, buf ffi.Buffer) error {
	b, err := m.view("write_buffer", ptr, abi.BufferSize)
	if err != nil {
		return err
	}
	return abi.Layout.PutBuffer(b, buf)
}

// ReadStatus reads a Status struct at ptr.
func (m *Memory) ReadStatus(ptr uint32) (ffi.Status, error) {
	b, err := m.view("read_status", ptr, abi.StatusSize)
	if err != nil {
		return ffi.Status{}, err
	}
	return abi.Layout.Status(b)
}

// WriteStatus writes st as a Status struct at ptr.
func (m *Memory) WriteStatus(ptr uint32, st ffi.Status) error {
	b, err := m.view("write_status", ptr, abi.StatusSize)
	if err != nil {
		return err
	}
	return abi.Layout.PutStatus(b, st)
}
