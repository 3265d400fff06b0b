// Package arithmetic is an in-process native library built on the callee-side
// call scaffolding. Its exported functions have the flat C-ABI shape: wire
// values in, a trailing *ffi.Status, buffers for everything that is not a
// primitive.
package arithmetic

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/woxQAQ/unified-ffi/pkg/call"
	"github.com/woxQAQ/unified-ffi/pkg/convert"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
	"github.com/woxQAQ/unified-ffi/pkg/handle"
	"github.com/woxQAQ/unified-ffi/pkg/wire"
)

// ErrorKind classifies an ArithmeticError.
type ErrorKind int32

const (
	Overflow ErrorKind = iota + 1
	DivisionByZero
)

func (k ErrorKind) String() string {
	switch k {
	case Overflow:
		return "overflow"
	case DivisionByZero:
		return "division by zero"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int32(k))
	}
}

// ArithmeticError is the declared error type of every function in the
// library.
type ArithmeticError struct {
	Kind ErrorKind
	Op   string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

var errorKindCodec = wire.Enum("ErrorKind", Overflow, 2)

// ErrorCodec encodes ArithmeticError as record{kind: enum, op: string}.
var ErrorCodec = wire.NewCodec("ArithmeticError",
	func(r *wire.Reader) (*ArithmeticError, error) {
		kind, err := wire.ReadField(r, errorKindCodec, "kind")
		if err != nil {
			return nil, err
		}
		op, err := wire.ReadField(r, wire.String, "op")
		if err != nil {
			return nil, err
		}
		return &ArithmeticError{Kind: kind, Op: op}, nil
	},
	func(w *wire.Writer, e *ArithmeticError) {
		errorKindCodec.Write(w, e.Kind)
		wire.String.Write(w, e.Op)
	},
	func(e *ArithmeticError) int { return 4 + wire.String.Size(e.Op) },
)

var values = wire.Sequence(wire.I32)

type accumulator struct {
	total int64
}

// Library holds the callee-side state: the buffer manager shared with
// callers and the accumulator objects handed out as handles.
type Library struct {
	m            *ffi.Manager
	errs         *call.TypedErrors[*ArithmeticError]
	accumulators *handle.Map[*accumulator]
	logger       *zap.Logger
}

// NewLibrary creates a library whose buffers come from m.
func NewLibrary(m *ffi.Manager, logger *zap.Logger) *Library {
	return &Library{
		m:            m,
		errs:         call.Errors(m, ErrorCodec),
		accumulators: handle.New[*accumulator](2, false),
		logger:       logger.With(zap.String("component", "arithmetic")),
	}
}

// Add returns a+b, failing with Overflow outside the i32 range.
func (l *Library) Add(a, b int32, status *ffi.Status) int32 {
	return call.Serve(l.m, status, l.errs, func() (int32, error) {
		sum := int64(a) + int64(b)
		if sum > math.MaxInt32 || sum < math.MinInt32 {
			return 0, &ArithmeticError{Kind: Overflow, Op: "add"}
		}
		return int32(sum), nil
	})
}

// Divide returns a/b truncated toward zero.
func (l *Library) Divide(a, b int32, status *ffi.Status) int32 {
	return call.Serve(l.m, status, l.errs, func() (int32, error) {
		if b == 0 {
			return 0, &ArithmeticError{Kind: DivisionByZero, Op: "divide"}
		}
		if a == math.MinInt32 && b == -1 {
			return 0, &ArithmeticError{Kind: Overflow, Op: "divide"}
		}
		return a / b, nil
	})
}

// Sum adds a sequence<i32>. The argument buffer is consumed.
func (l *Library) Sum(buf ffi.Buffer, status *ffi.Status) int64 {
	return call.Serve(l.m, status, l.errs, func() (int64, error) {
		vs, err := convert.Buffered(l.m, values).Lift(buf)
		if err != nil {
			return 0, err
		}
		var total int64
		for _, v := range vs {
			total += int64(v)
		}
		return total, nil
	})
}

// Mean returns the arithmetic mean of a sequence<i32> as optional<f64>,
// absent for an empty sequence.
func (l *Library) Mean(buf ffi.Buffer, status *ffi.Status) ffi.Buffer {
	return call.Serve(l.m, status, l.errs, func() (ffi.Buffer, error) {
		vs, err := convert.Buffered(l.m, values).Lift(buf)
		if err != nil {
			return ffi.Buffer{}, err
		}
		mean := wire.None[float64]()
		if len(vs) > 0 {
			var total float64
			for _, v := range vs {
				total += float64(v)
			}
			mean = wire.Some(total / float64(len(vs)))
		}
		return convert.Optional(l.m, wire.F64).Lower(mean), nil
	})
}

// Abort panics with the message in buf.
func (l *Library) Abort(buf ffi.Buffer, status *ffi.Status) {
	call.Serve(l.m, status, l.errs, func() (struct{}, error) {
		msg, err := convert.String(l.m).Lift(buf)
		if err != nil {
			return struct{}{}, err
		}
		l.logger.Debug("Aborting on request", zap.String("message", msg))
		panic(msg)
	})
}

// NewAccumulator returns a handle to a running total starting at zero.
func (l *Library) NewAccumulator(status *ffi.Status) uint64 {
	return call.Serve(l.m, status, l.errs, func() (uint64, error) {
		return convert.Object(l.accumulators).Lower(&accumulator{}), nil
	})
}

// Accumulate adds v to the accumulator h and returns the new total.
func (l *Library) Accumulate(h uint64, v int32, status *ffi.Status) int64 {
	return call.Serve(l.m, status, l.errs, func() (int64, error) {
		acc, err := convert.Object(l.accumulators).Lift(h)
		if err != nil {
			return 0, err
		}
		acc.total += int64(v)
		return acc.total, nil
	})
}

// FreeAccumulator releases h. Later use of h fails.
func (l *Library) FreeAccumulator(h uint64, status *ffi.Status) {
	call.Serve(l.m, status, l.errs, func() (struct{}, error) {
		_, _, err := l.accumulators.Remove(handle.Handle(h))
		return struct{}{}, err
	})
}

// Accumulators reports how many accumulators are live.
func (l *Library) Accumulators() int {
	return l.accumulators.Len()
}
