package wasm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	abi "github.com/woxQAQ/unified-ffi/api/wasm"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
)

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, one is generated).
	InstanceID string
}

// Instance represents an instantiated guest library. Calls into one
// instance are serialized.
type Instance struct {
	module  api.Module
	runtime *Runtime
	logger  *zap.Logger

	ID        string
	Name      string
	CreatedAt int64

	callMu  sync.Mutex
	arena   *Arena
	memory  *Memory
	manager *ffi.Manager

	exportsMu sync.Mutex
	exports   map[string]api.Function

	closeOnce sync.Once
}

// Instantiate creates a new instance from a compiled module and reserves
// its buffer arena. The guest may import from the ffi host module and
// from wasi_snapshot_preview1.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if err := m.runtime.acquireSlot(); err != nil {
		return nil, err
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	instance := &Instance{
		runtime:   m.runtime,
		logger:    m.logger.With(zap.String("instance_id", instanceID)),
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   make(map[string]api.Function),
	}

	// Registered before instantiation so start functions can reach the
	// host module.
	m.runtime.storeInstance(instance)

	fail := func(err error) (*Instance, error) {
		m.runtime.deleteInstance(instanceID)
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions("_initialize")

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return fail(err)
	}

	arena, err := NewArena(module.Memory(), m.runtime.config.ArenaPages, instance.logger)
	if err != nil {
		_ = module.Close(ctx)
		return fail(err)
	}

	instance.module = module
	instance.arena = arena
	instance.memory = NewMemory(module)
	instance.manager = ffi.NewManager(arena, instance.logger, m.runtime.config.Buffer)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(compiled.Module.ExportedFunctions())),
	)

	return instance, nil
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	var err error
	i.closeOnce.Do(func() {
		i.runtime.deleteInstance(i.ID)
		if i.module != nil {
			err = i.module.Close(ctx)
		}
	})
	return err
}

// Manager returns the buffer manager backed by the instance's arena.
func (i *Instance) Manager() *ffi.Manager {
	return i.manager
}

// Arena returns the instance's buffer arena.
func (i *Instance) Arena() *Arena {
	return i.arena
}

// function returns the exported function, caching the lookup.
func (i *Instance) function(name string) (api.Function, error) {
	i.exportsMu.Lock()
	defer i.exportsMu.Unlock()

	if fn, ok := i.exports[name]; ok {
		return fn, nil
	}
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
	}
	i.exports[name] = fn
	return fn, nil
}

// ContractVersion calls the guest's ffi_contract_version export.
func (i *Instance) ContractVersion(ctx context.Context) (uint32, error) {
	fn, err := i.function(abi.ExportContractVersion)
	if err != nil {
		return 0, err
	}

	i.callMu.Lock()
	defer i.callMu.Unlock()

	results, err := fn.Call(ctx)
	if err != nil {
		return 0, &TrapError{ModuleName: i.Name, FunctionName: abi.ExportContractVersion, Err: err}
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("%s returned %d results, want 1", abi.ExportContractVersion, len(results))
	}
	return api.DecodeU32(results[0]), nil
}

// Returns describes how a guest function hands back its return value.
type Returns int

const (
	// ReturnsNone: the function returns nothing.
	ReturnsNone Returns = iota
	// ReturnsValue: the function returns one wasm value.
	ReturnsValue
	// ReturnsBuffer: the function writes a Buffer struct through a pointer
	// passed as its first parameter.
	ReturnsBuffer
)

// Arg is one argument of a guest call.
type Arg struct {
	value uint64
	buf   ffi.Buffer
	isBuf bool
}

// ValueArg passes a wasm value unchanged.
func ValueArg(v uint64) Arg {
	return Arg{value: v}
}

// BufferArg passes a Buffer struct by pointer. The callee owns buf after
// the call.
func BufferArg(buf ffi.Buffer) Arg {
	return Arg{buf: buf, isBuf: true}
}

// Result is what a guest call returned.
type Result struct {
	Value  uint64
	Buffer ffi.Buffer
}

var callSeq atomic.Uint64

// Call invokes symbol following the call-result protocol: a return buffer
// pointer comes first when ret is ReturnsBuffer, buffer arguments are
// passed by pointer, and a pointer to a zeroed Status comes last. The
// Status the guest left behind is stored in status.
//
// Buffer arguments pass to the guest when it is entered. If Call fails
// before that, they are freed here.
func (i *Instance) Call(ctx context.Context, symbol string, status *ffi.Status, ret Returns, args ...Arg) (Result, error) {
	entered := false
	defer func() {
		if entered {
			return
		}
		for _, a := range args {
			if a.isBuf {
				i.manager.Free(a.buf)
			}
		}
	}()

	fn, err := i.function(symbol)
	if err != nil {
		return Result{}, err
	}

	i.callMu.Lock()
	defer i.callMu.Unlock()

	var slots []uint32
	defer func() {
		for _, p := range slots {
			i.arena.release(p)
		}
	}()
	slot := func(size int) (uint32, error) {
		p, err := i.arena.scratch(size)
		if err != nil {
			return 0, err
		}
		slots = append(slots, p)
		return p, nil
	}

	params := make([]uint64, 0, len(args)+2)

	var retPtr uint32
	if ret == ReturnsBuffer {
		if retPtr, err = slot(abi.BufferSize); err != nil {
			return Result{}, err
		}
		params = append(params, api.EncodeU32(retPtr))
	}

	for _, a := range args {
		if !a.isBuf {
			params = append(params, a.value)
			continue
		}
		p, err := slot(abi.BufferSize)
		if err != nil {
			return Result{}, err
		}
		if err := i.memory.WriteBuffer(p, a.buf); err != nil {
			return Result{}, err
		}
		params = append(params, api.EncodeU32(p))
	}

	statusPtr, err := slot(abi.StatusSize)
	if err != nil {
		return Result{}, err
	}
	params = append(params, api.EncodeU32(statusPtr))

	seq := callSeq.Add(1)
	i.logger.Debug("Calling guest function",
		zap.String("function", symbol),
		zap.Uint64("seq", seq),
		zap.Int("params", len(params)),
	)

	entered = true
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return Result{}, &TrapError{ModuleName: i.Name, FunctionName: symbol, Err: err}
	}

	st, err := i.memory.ReadStatus(statusPtr)
	if err != nil {
		return Result{}, err
	}
	*status = st

	var res Result
	switch ret {
	case ReturnsValue:
		if len(results) != 1 {
			return Result{}, fmt.Errorf("%s returned %d results, want 1", symbol, len(results))
		}
		res.Value = results[0]
	case ReturnsBuffer:
		if st.Code != ffi.StatusOK {
			break
		}
		if res.Buffer, err = i.memory.ReadBuffer(retPtr); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

var instanceSeq atomic.Uint64

// generateID generates a unique instance ID.
func generateID() string {
	return fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), instanceSeq.Add(1))
}
