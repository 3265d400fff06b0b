package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/woxQAQ/unified-ffi/internal/bridge"
	"github.com/woxQAQ/unified-ffi/internal/config"
	"github.com/woxQAQ/unified-ffi/internal/library"
	"github.com/woxQAQ/unified-ffi/internal/wasm"
	"github.com/woxQAQ/unified-ffi/pkg/typedesc"
)

var errUsage = errors.New("invalid usage")

type command struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

func (c *command) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "encode":
		return c.encode(args)
	case "decode":
		return c.decode(args)
	case "inspect":
		return c.inspect(ctx, args)
	case "call":
		return c.call(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

// typeFlag parses "-type T" followed by exactly one positional argument.
func typeFlag(name string, args []string) (*typedesc.Type, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	expr := fs.String("type", "", "wire type expression, e.g. map<string, sequence<u32>>")
	if err := fs.Parse(args); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errUsage, err)
	}
	if *expr == "" || fs.NArg() != 1 {
		return nil, "", fmt.Errorf("%w: %s -type T <value>", errUsage, name)
	}
	t, err := typedesc.Parse(*expr)
	if err != nil {
		return nil, "", err
	}
	return t, fs.Arg(0), nil
}

func (c *command) encode(args []string) error {
	t, input, err := typeFlag("encode", args)
	if err != nil {
		return err
	}
	v, err := t.FromJSON([]byte(input))
	if err != nil {
		return err
	}
	b, err := t.Encode(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, hex.EncodeToString(b))
	return err
}

func (c *command) decode(args []string) error {
	t, input, err := typeFlag("decode", args)
	if err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.Join(strings.Fields(input), ""))
	if err != nil {
		return err
	}
	v, err := t.Decode(b)
	if err != nil {
		return err
	}
	js, err := t.ToJSON(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(js))
	return err
}

func (c *command) inspect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: inspect <library-dir>", errUsage)
	}

	runtime, err := wasm.NewRuntime(ctx, c.logger, bridge.RuntimeConfig(c.cfg))
	if err != nil {
		return err
	}
	defer runtime.Close(ctx)

	lib, err := library.NewLoader(runtime, c.logger).LoadLibrary(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "%s %s (namespace %s, contract v%d)\n",
		lib.Name(), lib.Version(), lib.Namespace(), lib.Manifest.ContractVersion)
	fmt.Fprintf(c.out, "module: %s\n", lib.Manifest.WasmPath())
	fmt.Fprintln(c.out, "functions:")
	for _, fn := range lib.Functions() {
		fmt.Fprintf(c.out, "  %s  [%s]\n", fn.Signature(), fn.Symbol)
	}
	fmt.Fprintln(c.out, "imports:")
	for _, imp := range lib.Compiled.Imports() {
		fmt.Fprintf(c.out, "  %s\n", imp)
	}
	return nil
}

func (c *command) call(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: call <library> <function> [json args...]", errUsage)
	}
	name, function := args[0], args[1]

	host, err := bridge.NewHost(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer host.Close(ctx)

	lib, err := host.Libraries().GetLibrary(name)
	if err != nil {
		return err
	}
	fn, ok := lib.Manifest.Function(function)
	if !ok {
		return &library.FunctionNotDeclaredError{LibraryName: name, Function: function}
	}
	if len(args)-2 != len(fn.Params) {
		return fmt.Errorf("%w: %s", errUsage, fn.Signature())
	}

	values := make([]any, len(fn.Params))
	for i, p := range fn.Params {
		v, err := p.Type.FromJSON([]byte(args[2+i]))
		if err != nil {
			return &library.ArgumentError{Function: function, Arg: p.Name, Err: err}
		}
		values[i] = v
	}

	ret, err := host.Call(ctx, name, function, values...)
	if err != nil {
		return err
	}
	if fn.Returns == nil {
		return nil
	}
	js, err := fn.Returns.ToJSON(ret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(js))
	return err
}
