package library

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/unified-ffi/internal/wasm"
	"github.com/woxQAQ/unified-ffi/pkg/call"
	"github.com/woxQAQ/unified-ffi/pkg/convert"
	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
	"github.com/woxQAQ/unified-ffi/pkg/typedesc"
	"github.com/woxQAQ/unified-ffi/pkg/wire"
)

// Binding is a library instance whose functions are called by name.
// Primitive arguments and returns cross as wasm values; every other type
// crosses in a buffer. Calls on one Binding are serialized.
type Binding struct {
	library *Library
	inst    *wasm.Instance
	logger  *zap.Logger
}

func newBinding(library *Library, inst *wasm.Instance, logger *zap.Logger) *Binding {
	return &Binding{
		library: library,
		inst:    inst,
		logger: logger.With(
			zap.String("component", "library-binding"),
			zap.String("library", library.Name()),
		),
	}
}

// Library returns the bound library.
func (b *Binding) Library() *Library {
	return b.library
}

// Instance returns the underlying guest instance.
func (b *Binding) Instance() *wasm.Instance {
	return b.inst
}

// Close releases the guest instance.
func (b *Binding) Close(ctx context.Context) error {
	return b.inst.Close(ctx)
}

// Call invokes the declared function name with args, one per declared
// argument, in the dynamic representation of its type (see typedesc).
//
// A declared error comes back as *CallError, a guest panic as
// *call.PanicError and a malformed return as *ffi.InternalError. A nil
// value is returned for functions without a return type.
func (b *Binding) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := b.library.Manifest.Function(name)
	if !ok {
		return nil, &FunctionNotDeclaredError{LibraryName: b.library.Name(), Function: name}
	}
	if len(args) != len(fn.Params) {
		return nil, &ArgumentError{
			Function: name,
			Err:      fmt.Errorf("got %d arguments, want %d", len(args), len(fn.Params)),
		}
	}

	m := b.inst.Manager()

	params, err := lowerArgs(m, fn, args)
	if err != nil {
		return nil, err
	}

	ret := wasm.ReturnsNone
	if fn.Returns != nil {
		ret = wasm.ReturnsValue
		if !fn.Returns.IsPrimitive() {
			ret = wasm.ReturnsBuffer
		}
	}

	var errs call.ErrorLifter
	if fn.Throws != nil {
		errs = thrownErrors{m: m, fn: fn}
	}

	b.logger.Debug("Calling library function",
		zap.String("function", name),
		zap.String("symbol", fn.Symbol),
	)

	var trap error
	res, err := call.Invoke(m, errs, func(st *ffi.Status) wasm.Result {
		var res wasm.Result
		res, trap = b.inst.Call(ctx, fn.Symbol, st, ret, params...)
		return res
	})
	if trap != nil {
		return nil, trap
	}
	if err != nil {
		return nil, err
	}

	switch ret {
	case wasm.ReturnsValue:
		return liftFlat(fn.Returns, res.Value)
	case wasm.ReturnsBuffer:
		return liftBuffer(m, fn.Returns, res.Buffer)
	default:
		return nil, nil
	}
}

// CallAsync runs Call on its own goroutine and delivers the result on ex.
func (b *Binding) CallAsync(ctx context.Context, ex *call.Executor, name string, args ...any) *call.Future[any] {
	return call.Go(ex, func() (any, error) {
		return b.Call(ctx, name, args...)
	})
}

// lowerArgs lowers every argument. On failure the buffers lowered so far
// are freed.
func lowerArgs(m *ffi.Manager, fn *Function, args []any) ([]wasm.Arg, error) {
	params := make([]wasm.Arg, 0, len(args))
	var owned []ffi.Buffer

	for i, p := range fn.Params {
		var (
			arg wasm.Arg
			err error
		)
		if p.Type.IsPrimitive() {
			var v uint64
			if v, err = lowerFlat(p.Type, args[i]); err == nil {
				arg = wasm.ValueArg(v)
			}
		} else {
			var buf ffi.Buffer
			if buf, err = lowerBuffer(m, p.Type, args[i]); err == nil {
				owned = append(owned, buf)
				arg = wasm.BufferArg(buf)
			}
		}
		if err != nil {
			for _, buf := range owned {
				m.Free(buf)
			}
			return nil, &ArgumentError{Function: fn.Name, Arg: p.Name, Err: err}
		}
		params = append(params, arg)
	}
	return params, nil
}

func lowerBuffer(m *ffi.Manager, t *typedesc.Type, v any) (ffi.Buffer, error) {
	size, err := t.Size(v)
	if err != nil {
		return ffi.Buffer{}, err
	}
	w := m.NewWriterSize(size)
	if err := t.Write(w.Writer, v); err != nil {
		w.Discard()
		return ffi.Buffer{}, err
	}
	return w.Finalize(), nil
}

func liftBuffer(m *ffi.Manager, t *typedesc.Type, buf ffi.Buffer) (any, error) {
	var v any
	err := m.Consume(buf, func(r *wire.Reader) error {
		var err error
		v, err = t.Read(r)
		return err
	})
	if err != nil {
		return nil, &ffi.InternalError{Op: "lift " + t.String(), Err: err}
	}
	return v, nil
}

func flatMismatch(t *typedesc.Type, v any) error {
	return ffierrors.TypeMismatch(ffierrors.PhaseLower, nil, fmt.Sprintf("%T", v), t.String())
}

// lowerFlat encodes a primitive as a wasm value. Integers narrower than 32
// bits widen to i32; bool lowers to 0 or 1.
func lowerFlat(t *typedesc.Type, v any) (uint64, error) {
	var (
		raw uint64
		ok  bool
	)
	switch t.Kind {
	case typedesc.KindU8:
		var x uint8
		if x, ok = v.(uint8); ok {
			raw = api.EncodeU32(uint32(convert.U8.Lower(x)))
		}
	case typedesc.KindI8:
		var x int8
		if x, ok = v.(int8); ok {
			raw = api.EncodeI32(int32(convert.I8.Lower(x)))
		}
	case typedesc.KindU16:
		var x uint16
		if x, ok = v.(uint16); ok {
			raw = api.EncodeU32(uint32(convert.U16.Lower(x)))
		}
	case typedesc.KindI16:
		var x int16
		if x, ok = v.(int16); ok {
			raw = api.EncodeI32(int32(convert.I16.Lower(x)))
		}
	case typedesc.KindU32:
		var x uint32
		if x, ok = v.(uint32); ok {
			raw = api.EncodeU32(convert.U32.Lower(x))
		}
	case typedesc.KindI32:
		var x int32
		if x, ok = v.(int32); ok {
			raw = api.EncodeI32(convert.I32.Lower(x))
		}
	case typedesc.KindU64:
		var x uint64
		if x, ok = v.(uint64); ok {
			raw = convert.U64.Lower(x)
		}
	case typedesc.KindI64:
		var x int64
		if x, ok = v.(int64); ok {
			raw = api.EncodeI64(convert.I64.Lower(x))
		}
	case typedesc.KindF32:
		var x float32
		if x, ok = v.(float32); ok {
			raw = api.EncodeF32(convert.F32.Lower(x))
		}
	case typedesc.KindF64:
		var x float64
		if x, ok = v.(float64); ok {
			raw = api.EncodeF64(convert.F64.Lower(x))
		}
	case typedesc.KindBool:
		var x bool
		if x, ok = v.(bool); ok {
			raw = api.EncodeI32(int32(convert.Bool.Lower(x)))
		}
	}
	if !ok {
		return 0, flatMismatch(t, v)
	}
	return raw, nil
}

// liftFlat decodes a primitive wasm return value.
func liftFlat(t *typedesc.Type, raw uint64) (any, error) {
	switch t.Kind {
	case typedesc.KindU8:
		return convert.U8.Lift(uint8(raw))
	case typedesc.KindI8:
		return convert.I8.Lift(int8(raw))
	case typedesc.KindU16:
		return convert.U16.Lift(uint16(raw))
	case typedesc.KindI16:
		return convert.I16.Lift(int16(raw))
	case typedesc.KindU32:
		return convert.U32.Lift(api.DecodeU32(raw))
	case typedesc.KindI32:
		return convert.I32.Lift(api.DecodeI32(raw))
	case typedesc.KindU64:
		return convert.U64.Lift(raw)
	case typedesc.KindI64:
		return convert.I64.Lift(int64(raw))
	case typedesc.KindF32:
		return convert.F32.Lift(api.DecodeF32(raw))
	case typedesc.KindF64:
		return convert.F64.Lift(api.DecodeF64(raw))
	case typedesc.KindBool:
		v := api.DecodeU32(raw)
		if v > 1 {
			return nil, ffierrors.New(ffierrors.PhaseLift, ffierrors.KindInvalidBool).
				WireType("bool").Value(v).Build()
		}
		return convert.Bool.Lift(int8(v))
	default:
		return nil, ffierrors.TypeMismatch(ffierrors.PhaseLift, nil, "wasm value", t.String())
	}
}

// thrownErrors lifts the declared error type of fn into a *CallError.
type thrownErrors struct {
	m  *ffi.Manager
	fn *Function
}

func (e thrownErrors) LiftError(buf ffi.Buffer) error {
	v, err := liftBuffer(e.m, e.fn.Throws, buf)
	if err != nil {
		return err
	}
	return &CallError{Function: e.fn.Name, Type: e.fn.Throws, Value: v}
}
