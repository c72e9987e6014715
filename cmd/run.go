package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zixuniaowu/cccc/fabric"
)

// Run starts the orchestrator loop in the foreground.
func Run(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	home := fs.String("home", ".cccc", "orchestrator home directory")
	session := fs.String("session", "cccc", "tmux session name")
	_ = fs.Parse(args)

	log := newLogger()
	defer log.Sync()

	clock := fabric.SystemClock{}
	driver := fabric.NewTmuxDriver(clock, log)
	orch, err := fabric.NewOrchestrator(*home, *session, clock, driver, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}
	if err := orch.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger: console encoding to stderr, debug
// level when CCCC_LOG_LEVEL=debug.
func newLogger() *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if os.Getenv("CCCC_LOG_LEVEL") == "debug" {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
