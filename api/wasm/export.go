//go:build wasm

package wasm

// This file documents the exports a guest library provides. Guests built
// with Go use //go:wasmexport.
//
// uint32 is used for pointers because wasm32 linear memory addresses are
// 32-bit. Buffer and Status are the C structs
//
//	struct Buffer { int32_t capacity; int32_t len; uint8_t *data; };   // 12 bytes
//	struct Status { int8_t code; struct Buffer error_buf; };           // 16 bytes, buffer at offset 4
//
// stored little-endian in guest memory.
//
// Every library function takes a pointer to a Status as its last parameter,
// which the host zeroes before the call. Buffer parameters are pointers to a
// Buffer struct whose ownership passes to the guest. A function returning a
// buffer takes a leading pointer to a Buffer slot it fills in; ownership of
// that buffer passes to the host.
//
// Required:
//
//	//go:wasmexport ffi_contract_version
//	func contractVersion() uint32
//
// Examples:
//
//	//go:wasmexport add_u32
//	func addU32(a, b uint32, status uint32) uint32
//
//	//go:wasmexport greet
//	func greet(ret uint32, name uint32, status uint32)
//
// Buffers must be obtained from the host imports in module "ffi"
// (ffi_buffer_alloc, ffi_buffer_reserve, ffi_buffer_free) so that either side
// can free them.
