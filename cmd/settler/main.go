// Command settler is the entry point of the DegenBets resolution and
// settlement engine. It loads and validates configuration, then runs the
// resolver, the HTTP API or both until SIGINT or SIGTERM.
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
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/alanyoungcy/degenbets-settler/internal/app"
	"github.com/alanyoungcy/degenbets-settler/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("settler", flag.ContinueOnError)
	configPath := fs.String("config", "config.toml", "path to configuration file (empty to configure from the environment only)")
	mode := fs.String("mode", "", "override the configured mode (resolver, server, full)")
	logFormat := fs.String("log-format", "json", "log output format: json or text")
	printConfig := fs.Bool("print-config", false, "print the effective configuration as TOML with secrets redacted and exit")
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintln(stdout, "settler", version)
		return nil
	}

	var level slog.LevelVar
	logger, err := newLogger(stdout, *logFormat, &level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config %q: %w", *configPath, err)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logger.Warn("unknown log level, using info", slog.String("log_level", cfg.LogLevel))
		level.Set(slog.LevelInfo)
	}

	if *printConfig {
		redacted := config.RedactedConfig(cfg)
		return toml.NewEncoder(stdout).Encode(redacted)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("settler starting",
		slog.String("version", version),
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.String("rpc_url", redacted.Ledger.RPCURL),
		slog.String("program_id", cfg.Ledger.ProgramID),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("settler stopped")
	return nil
}

func newLogger(w io.Writer, format string, level *slog.LevelVar) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
