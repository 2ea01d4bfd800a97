// Command ghostletd is the ghostlet language server.
// It speaks LSP to an editor (over stdio, TCP or WebSocket), serves cached
// ghost-text completions and forwards accept/reject feedback to telemetry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/errors"
	"github.com/Paranoid-AF/ghostlet/generate"
	"github.com/Paranoid-AF/ghostlet/serve"
	"github.com/Paranoid-AF/ghostlet/telemetry"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type rootOptions struct {
	verbose   bool
	jsonLogs  bool
	transport string
	address   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ghostletd",
		Short: "Ghost-text completion language server",
		Long: `ghostletd serves inline ("ghost text") code completions to editors over LSP.

Completions are generated by an OpenAI-compatible API, cached per document
line, and correlated with the editor's accept/reject feedback.

Examples:
  ghostletd                                  # serve over stdio
  ghostletd --transport tcp --address :9257  # serve over TCP
  ghostletd config validate                  # check the config file`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every request at debug level")
	cmd.Flags().BoolVar(&opts.jsonLogs, "json-logs", false, "write logs as JSON")
	cmd.Flags().StringVar(&opts.transport, "transport", "", "stdio, tcp or websocket (default from config)")
	cmd.Flags().StringVar(&opts.address, "address", "", "listen address for tcp and websocket (default from config)")
	cmd.SetVersionTemplate("ghostletd {{.Version}}\n")

	cmd.AddCommand(newConfigCmd(), newCompleteCmd())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *rootOptions) error {
	logger, err := setupLogger(opts.verbose, opts.jsonLogs)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := ghostlet.LoadConfig()
	if err != nil {
		logger.Warnw("failed to load config, using defaults", "error", err)
		cfg = ghostlet.DefaultConfig()
	}
	for _, w := range ghostlet.ValidateConfig(cfg) {
		logger.Warnw("config warning", "warning", w)
	}

	transport := cfg.Server.Transport
	if opts.transport != "" {
		transport = opts.transport
	}
	address := cfg.Server.Address
	if opts.address != "" {
		address = opts.address
	}

	sink, closeSink := telemetry.NewSink(cfg, logger)
	defer closeSink()

	backend := serve.NewBackend(serve.Options{
		Completer: generate.NewCompleter(cfg, logger),
		Sink:      sink,
		RecordTTL: ghostlet.RecordTTL(cfg),
		Version:   Version,
		Logger:    logger,
	})
	defer backend.Close()

	logger.Infow("starting", "version", Version, "transport", transport)
	if err := serve.NewServer(backend).Run(ctx, transport, address); err != nil {
		logger.Errorw("server error", "error", err)
		return err
	}
	logger.Infow("shutting down")
	return nil
}

// setupLogger writes to stderr; in stdio mode stdout carries the protocol.
func setupLogger(verbose, jsonLogs bool) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	var config zap.Config
	if jsonLogs {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "time"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.DisableStacktrace = true
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}
	return logger.Sugar(), nil
}
