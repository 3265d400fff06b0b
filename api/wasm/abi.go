//go:build !wasm

// Package wasm defines the ABI between the host and wasm32 guest libraries.
package wasm

import "github.com/woxQAQ/unified-ffi/pkg/ffi"

// ContractVersion is the ABI revision this host implements. Guests export
// ffi_contract_version returning the revision they were built against; a
// mismatch refuses the library at load time.
const ContractVersion uint32 = 1

// Guest exports.
const (
	// ExportMemory is the guest's linear memory.
	ExportMemory = "memory"

	// ExportContractVersion is () -> i32.
	ExportContractVersion = "ffi_contract_version"
)

// Host imports, provided to guests under HostModule.
const (
	HostModule = "ffi"

	// ImportBufferAlloc is (capacity i32, out i32) -> (). It writes a new
	// Buffer struct to out.
	ImportBufferAlloc = "ffi_buffer_alloc"

	// ImportBufferReserve is (buf i32, additional i32, out i32) -> (). buf
	// points to a Buffer struct; the grown Buffer is written to out.
	ImportBufferReserve = "ffi_buffer_reserve"

	// ImportBufferFree is (buf i32) -> (). buf points to a Buffer struct.
	ImportBufferFree = "ffi_buffer_free"

	// ImportLogMessage is (level i32, ptr i32, len i32) -> ().
	ImportLogMessage = "log_message"
)

// Log levels accepted by log_message.
const (
	LogDebug uint32 = iota
	LogInfo
	LogWarn
	LogError
)

// Layout is the struct layout of Buffer and Status in guest memory.
var Layout = ffi.Wasm32

// Sizes of the ABI structs in guest memory.
var (
	BufferSize = Layout.BufferSize()
	StatusSize = Layout.StatusSize()
)

// PageSize is the wasm linear memory page size.
const PageSize = 65536
