package wasm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	abi "github.com/woxQAQ/unified-ffi/api/wasm"
	"github.com/woxQAQ/unified-ffi/pkg/call"
	"github.com/woxQAQ/unified-ffi/pkg/convert"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
	"github.com/woxQAQ/unified-ffi/pkg/wire"
)

// TestLoadModuleFromMemory tests loading a Wasm module from memory.
func TestLoadModuleFromMemory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	// Minimal valid Wasm module with no exports.
	wasmBytes := []byte{
		0x00, 0x61, 0x73, 0x6d, // Magic number: \0asm
		0x01, 0x00, 0x00, 0x00, // Version: 1
	}

	module, err := loader.LoadModuleFromMemory(ctx, "test-module", wasmBytes)
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	if module.Name != "test-module" {
		t.Errorf("Module name = %s, want 'test-module'", module.Name)
	}

	// Loading again should hit the cache.
	module2, err := loader.LoadModuleFromMemory(ctx, "test-module", wasmBytes)
	if err != nil {
		t.Fatalf("Failed to load module from cache: %v", err)
	}

	if module2 != module {
		t.Error("Cache should return the same module instance")
	}
}

func TestLoadModuleInvalidBytes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	_, err = NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "junk", []byte("not wasm"))
	var compileErr *CompilationError
	if !errors.As(err, &compileErr) {
		t.Fatalf("expected CompilationError, got %v", err)
	}
}

// TestModuleLoaderFileSource tests the FileModuleSource.
func TestModuleLoaderFileSource(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer runtime.Close(ctx)

	loader := NewModuleLoader(runtime, logger)

	wasmFile := filepath.Join(t.TempDir(), "guest.wasm")
	if err := os.WriteFile(wasmFile, mustHex(t, testGuestHex), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	module, err := loader.LoadModuleFromFile(ctx, wasmFile)
	if err != nil {
		t.Fatalf("Failed to load module from file: %v", err)
	}

	assert.Equal(t, []string{
		"add_u32", "always_panics", "echo", "fail_with",
		"ffi_contract_version", "new_empty_string",
	}, module.Functions())
	assert.Equal(t, []string{"ffi.ffi_buffer_alloc"}, module.Imports())
}

func TestInstantiateRequiresMemory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	require.NoError(t, err)
	defer runtime.Close(ctx)

	_, err = NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "empty", []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	require.NoError(t, err)

	_, err = NewInstanceManager(runtime, logger).Instantiate(ctx, &InstanceConfig{ModuleName: "empty"})
	var instErr *InstantiationError
	require.ErrorAs(t, err, &instErr)
	assert.Zero(t, runtime.InstanceCount(), "failed instantiation releases its slot")
}

func TestInstantiateUnknownModule(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	require.NoError(t, err)
	defer runtime.Close(ctx)

	_, err = NewInstanceManager(runtime, logger).Instantiate(ctx, &InstanceConfig{ModuleName: "missing"})
	var notFound *ModuleNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestInstanceContractVersion(t *testing.T) {
	_, inst := newTestInstance(t, nil)

	v, err := inst.ContractVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)
}

func TestInstanceCallValue(t *testing.T) {
	_, inst := newTestInstance(t, nil)
	ctx := context.Background()

	var st ffi.Status
	res, err := inst.Call(ctx, "add_u32", &st, ReturnsValue, ValueArg(40), ValueArg(2))
	require.NoError(t, err)
	assert.Equal(t, ffi.StatusOK, st.Code)
	assert.Equal(t, uint64(42), res.Value)
	assert.Zero(t, inst.Arena().Live(), "call slots released")
}

func TestInstanceCallMissingFunction(t *testing.T) {
	_, inst := newTestInstance(t, nil)

	var st ffi.Status
	_, err := inst.Call(context.Background(), "nope", &st, ReturnsNone)
	var notFound *FunctionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.FunctionName)
}

func TestInstanceCallFreesArgsWhenGuestNotEntered(t *testing.T) {
	config := DefaultRuntimeConfig()
	config.MemoryPages = 2 // the guest's page plus one arena page
	_, inst := newTestInstance(t, config)
	ctx := context.Background()
	m := inst.Manager()

	var st ffi.Status
	_, err := inst.Call(ctx, "nope", &st, ReturnsNone, BufferArg(convert.String(m).Lower("unused")))
	var notFound *FunctionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Zero(t, inst.Arena().Live())

	// The argument fills the arena, leaving no room for the call slots.
	_, err = inst.Call(ctx, "echo", &st, ReturnsBuffer, BufferArg(m.Alloc(abi.PageSize)))
	var mae *MemoryAccessError
	require.ErrorAs(t, err, &mae)
	assert.Zero(t, inst.Arena().Live())
}

func TestInstanceCallPanic(t *testing.T) {
	_, inst := newTestInstance(t, nil)
	m := inst.Manager()

	_, err := call.Invoke(m, nil, func(st *ffi.Status) Result {
		res, err := inst.Call(context.Background(), "always_panics", st, ReturnsNone)
		require.NoError(t, err)
		return res
	})

	var pe *call.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "unknown panic", pe.Message)
}

func TestInstanceEchoBuffer(t *testing.T) {
	_, inst := newTestInstance(t, nil)
	m := inst.Manager()
	str := convert.String(m)

	arg := str.Lower("hello, guest")
	got, err := call.InvokeAndLift(m, nil, str, func(st *ffi.Status) ffi.Buffer {
		res, err := inst.Call(context.Background(), "echo", st, ReturnsBuffer, BufferArg(arg))
		require.NoError(t, err)
		return res.Buffer
	})
	require.NoError(t, err)
	assert.Equal(t, "hello, guest", got)
	assert.Zero(t, inst.Arena().Live(), "returned buffer freed by lift")
}

type guestError struct{ msg string }

func (e *guestError) Error() string { return e.msg }

var guestErrorCodec = wire.NewCodec("GuestError",
	func(r *wire.Reader) (*guestError, error) {
		s, err := wire.String.Read(r)
		if err != nil {
			return nil, err
		}
		return &guestError{msg: s}, nil
	},
	func(w *wire.Writer, e *guestError) { wire.String.Write(w, e.msg) },
	func(e *guestError) int { return wire.String.Size(e.msg) },
)

func TestInstanceCallError(t *testing.T) {
	_, inst := newTestInstance(t, nil)
	m := inst.Manager()

	arg := convert.String(m).Lower("bad input")
	_, err := call.Invoke(m, call.Errors(m, guestErrorCodec), func(st *ffi.Status) Result {
		res, err := inst.Call(context.Background(), "fail_with", st, ReturnsNone, BufferArg(arg))
		require.NoError(t, err)
		return res
	})

	var ge *guestError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "bad input", ge.msg)
	assert.Zero(t, inst.Arena().Live())
}

func TestInstanceHostAllocation(t *testing.T) {
	_, inst := newTestInstance(t, nil)
	m := inst.Manager()
	str := convert.String(m)

	got, err := call.InvokeAndLift(m, nil, str, func(st *ffi.Status) ffi.Buffer {
		res, err := inst.Call(context.Background(), "new_empty_string", st, ReturnsBuffer)
		require.NoError(t, err)
		return res.Buffer
	})
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Zero(t, inst.Arena().Live())
}

func TestInstanceLiftForeignBuffer(t *testing.T) {
	_, inst := newTestInstance(t, nil)

	// echo copies whatever struct it is given; a buffer the arena never
	// handed out fails when the host lifts it, not inside the guest.
	var st ffi.Status
	res, err := inst.Call(context.Background(), "echo", &st, ReturnsBuffer,
		BufferArg(ffi.Buffer{Capacity: 4, Len: 4, Data: 8}))
	require.NoError(t, err)

	_, err = convert.String(inst.Manager()).Lift(res.Buffer)
	var internal *ffi.InternalError
	require.ErrorAs(t, err, &internal)
}

func TestMemoryHelpers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, nil)
	require.NoError(t, err)
	defer runtime.Close(ctx)

	_, err = NewModuleLoader(runtime, logger).LoadModuleFromMemory(ctx, "memory-test", mustHex(t, memoryOnlyHex))
	require.NoError(t, err)

	instance, err := NewInstanceManager(runtime, logger).Instantiate(ctx, &InstanceConfig{ModuleName: "memory-test"})
	require.NoError(t, err)
	defer instance.Close(ctx)

	mem := NewMemory(instance.module)

	want := ffi.Status{
		Code:     ffi.StatusCallError,
		ErrorBuf: ffi.Buffer{Capacity: 32, Len: 5, Data: 1024},
	}
	require.NoError(t, mem.WriteStatus(64, want))
	got, err := mem.ReadStatus(64)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	buf, err := mem.ReadBuffer(68)
	require.NoError(t, err)
	assert.Equal(t, want.ErrorBuf, buf, "status buffer sits at offset 4")

	raw, err := mem.ReadBytes(64, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, raw, "code byte then zeroed padding")

	size := instance.module.Memory().Size()
	_, err = mem.ReadBuffer(size - 4)
	var memErr *MemoryAccessError
	require.ErrorAs(t, err, &memErr)
}

func TestFileModuleSourceChecksum(t *testing.T) {
	data := mustHex(t, memoryOnlyHex)
	path := filepath.Join(t.TempDir(), "m.wasm")
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err := (&FileModuleSource{Path: path, SHA256: "sha256:" + Digest(data)}).Bytes()
	require.NoError(t, err)

	_, err = (&FileModuleSource{Path: path, SHA256: Digest([]byte("other"))}).Bytes()
	var sumErr *ChecksumError
	require.ErrorAs(t, err, &sumErr)
	assert.Equal(t, Digest(data), sumErr.Got)
}
