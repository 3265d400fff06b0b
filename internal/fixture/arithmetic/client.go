package arithmetic

import (
	"github.com/woxQAQ/unified-ffi/pkg/call"
	"github.com/woxQAQ/unified-ffi/pkg/convert"
	"github.com/woxQAQ/unified-ffi/pkg/ffi"
	"github.com/woxQAQ/unified-ffi/pkg/wire"
)

// Client is the caller-side binding of a Library. Arguments are lowered
// before each call and results lifted only after the status is checked.
type Client struct {
	lib  *Library
	m    *ffi.Manager
	errs *call.TypedErrors[*ArithmeticError]
}

// NewClient binds to lib. Both sides share lib's buffer manager.
func NewClient(lib *Library) *Client {
	return &Client{
		lib:  lib,
		m:    lib.m,
		errs: call.Errors(lib.m, ErrorCodec),
	}
}

func (c *Client) Add(a, b int32) (int32, error) {
	return call.InvokeAndLift(c.m, c.errs, convert.I32, func(st *ffi.Status) int32 {
		return c.lib.Add(convert.I32.Lower(a), convert.I32.Lower(b), st)
	})
}

func (c *Client) Divide(a, b int32) (int32, error) {
	return call.InvokeAndLift(c.m, c.errs, convert.I32, func(st *ffi.Status) int32 {
		return c.lib.Divide(convert.I32.Lower(a), convert.I32.Lower(b), st)
	})
}

func (c *Client) Sum(vs []int32) (int64, error) {
	arg := convert.Buffered(c.m, values).Lower(vs)
	return call.InvokeAndLift(c.m, c.errs, convert.I64, func(st *ffi.Status) int64 {
		return c.lib.Sum(arg, st)
	})
}

func (c *Client) Mean(vs []int32) (wire.Option[float64], error) {
	arg := convert.Buffered(c.m, values).Lower(vs)
	return call.InvokeAndLift(c.m, c.errs, convert.Optional(c.m, wire.F64), func(st *ffi.Status) ffi.Buffer {
		return c.lib.Mean(arg, st)
	})
}

// Abort always fails with a *call.PanicError carrying msg.
func (c *Client) Abort(msg string) error {
	arg := convert.String(c.m).Lower(msg)
	_, err := call.Invoke(c.m, c.errs, func(st *ffi.Status) struct{} {
		c.lib.Abort(arg, st)
		return struct{}{}
	})
	return err
}

// Accumulator is a running total owned by the library.
type Accumulator struct {
	c *Client
	h uint64
}

func (c *Client) NewAccumulator() (*Accumulator, error) {
	h, err := call.Invoke(c.m, c.errs, c.lib.NewAccumulator)
	if err != nil {
		return nil, err
	}
	return &Accumulator{c: c, h: h}, nil
}

// Add adds v and returns the new total.
func (a *Accumulator) Add(v int32) (int64, error) {
	return call.InvokeAndLift(a.c.m, a.c.errs, convert.I64, func(st *ffi.Status) int64 {
		return a.c.lib.Accumulate(a.h, convert.I32.Lower(v), st)
	})
}

// Close releases the accumulator in the library.
func (a *Accumulator) Close() error {
	_, err := call.Invoke(a.c.m, a.c.errs, func(st *ffi.Status) struct{} {
		a.c.lib.FreeAccumulator(a.h, st)
		return struct{}{}
	})
	return err
}
