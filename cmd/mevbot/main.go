// Command mevbot is the entry point for the sandwich trading agent. It loads
// configuration, validates it, wires dependencies, sets up signal handling, and
// starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/mevbot/internal/app"
	"github.com/alanyoungcy/mevbot/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults and environment only)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg.LogLevel, cfg.LogFile)
	defer closeLog()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("mevbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", redacted),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		os.Exit(1)
	}

	logger.Info("mevbot stopped")
}

// newLogger builds the JSON logger. When file is set, output is also written
// to a size-rotated log file.
func newLogger(levelName, file string) (*slog.Logger, func()) {
	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeFn
}
