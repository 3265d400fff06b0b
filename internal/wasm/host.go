package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	abi "github.com/woxQAQ/unified-ffi/api/wasm"
)

// hostFunctions implements the ffi host module imported by guests.
//
// A failing host function panics with a HostFunctionError; wazero turns the
// panic into a trap, which the pending Instance.Call reports as a TrapError.
type hostFunctions struct {
	runtime *Runtime
	logger  *zap.Logger
}

func newHostFunctions(runtime *Runtime, logger *zap.Logger) *hostFunctions {
	return &hostFunctions{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-host")),
	}
}

// instantiate registers the host module with the runtime.
func (h *hostFunctions) instantiate(ctx context.Context) error {
	builder := h.runtime.runtime.NewHostModuleBuilder(abi.HostModule)

	builder.NewFunctionBuilder().
		WithFunc(h.bufferAlloc).
		WithParameterNames("capacity", "out").
		Export(abi.ImportBufferAlloc)

	builder.NewFunctionBuilder().
		WithFunc(h.bufferReserve).
		WithParameterNames("buf", "additional", "out").
		Export(abi.ImportBufferReserve)

	builder.NewFunctionBuilder().
		WithFunc(h.bufferFree).
		WithParameterNames("buf").
		Export(abi.ImportBufferFree)

	builder.NewFunctionBuilder().
		WithFunc(h.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export(abi.ImportLogMessage)

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module %q: %w", abi.HostModule, err)
	}
	return nil
}

func (h *hostFunctions) instance(fn string, mod api.Module) *Instance {
	inst, ok := h.runtime.GetInstance(mod.Name())
	if !ok {
		panic(&HostFunctionError{FunctionName: fn, Err: fmt.Errorf("no instance registered as %q", mod.Name())})
	}
	return inst
}

func fail(fn string, err error) {
	panic(&HostFunctionError{FunctionName: fn, Err: err})
}

// bufferAlloc allocates a buffer in the guest's arena.
// Signature: ffi_buffer_alloc(capacity, out)
func (h *hostFunctions) bufferAlloc(_ context.Context, mod api.Module, capacity, out uint32) {
	inst := h.instance(abi.ImportBufferAlloc, mod)
	if int32(capacity) < 0 {
		fail(abi.ImportBufferAlloc, fmt.Errorf("negative capacity %d", int32(capacity)))
	}
	buf := inst.manager.Alloc(int(capacity))
	if err := inst.memory.WriteBuffer(out, buf); err != nil {
		inst.manager.Free(buf)
		fail(abi.ImportBufferAlloc, err)
	}
}

// bufferReserve grows a buffer so it holds additional more bytes.
// Signature: ffi_buffer_reserve(buf, additional, out)
func (h *hostFunctions) bufferReserve(_ context.Context, mod api.Module, bufPtr, additional, out uint32) {
	inst := h.instance(abi.ImportBufferReserve, mod)
	buf, err := inst.memory.ReadBuffer(bufPtr)
	if err != nil {
		fail(abi.ImportBufferReserve, err)
	}
	if int32(additional) < 0 {
		fail(abi.ImportBufferReserve, fmt.Errorf("negative additional %d", int32(additional)))
	}
	grown := inst.manager.Reserve(buf, int(additional))
	if err := inst.memory.WriteBuffer(out, grown); err != nil {
		fail(abi.ImportBufferReserve, err)
	}
}

// bufferFree releases a buffer allocated through this module.
// Signature: ffi_buffer_free(buf)
func (h *hostFunctions) bufferFree(_ context.Context, mod api.Module, bufPtr uint32) {
	inst := h.instance(abi.ImportBufferFree, mod)
	buf, err := inst.memory.ReadBuffer(bufPtr)
	if err != nil {
		fail(abi.ImportBufferFree, err)
	}
	inst.manager.Free(buf)
}

// logMessage is called by guests to log messages.
// Signature: log_message(level, ptr, length)
// level: 0 = debug, 1 = info, 2 = warn, 3 = error
func (h *hostFunctions) logMessage(_ context.Context, mod api.Module, level, ptr, length uint32) {
	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.String("module", mod.Name()),
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return
	}

	logger := h.logger.With(zap.String("module", mod.Name()))
	switch level {
	case abi.LogDebug:
		logger.Debug(string(msg))
	case abi.LogInfo:
		logger.Info(string(msg))
	case abi.LogWarn:
		logger.Warn(string(msg))
	case abi.LogError:
		logger.Error(string(msg))
	default:
		logger.Info(string(msg))
	}
}
