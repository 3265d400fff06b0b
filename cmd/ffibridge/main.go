package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/unified-ffi/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `usage: ffibridge [flags] <command> [args]

commands:
  encode  -type T <json>                encode a JSON value as hex wire bytes
  decode  -type T <hex>                 decode hex wire bytes to JSON
  inspect <library-dir>                 show a library's functions and imports
  call    <library> <function> [json]   call a library function

flags:
`

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the configuration")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Debug("Starting ffibridge",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	// Cancel on shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &command{cfg: cfg, logger: logger, out: os.Stdout}
	if err := cmd.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("Command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		stop()
		os.Exit(1)
	}
}

// newLogger builds a development logger for debug and a production logger
// otherwise.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
