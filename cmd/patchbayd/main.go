// Command patchbayd is the patchbay audio broker daemon: it opens the
// configured ingress receivers, starts the engine's sweeper and device
// watcher, and blocks until told to shut down. The desired sink/path graph
// itself arrives later over whatever control surface an operator wires up
// (HTTP, gRPC, a file watcher) by calling Engine.Apply; this binary only
// owns process lifecycle and the receivers named on the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/patchbay/engine/internal/config"
	"github.com/patchbay/engine/internal/engine"
)

func main() {
	var (
		configFile  = pflag.StringP("config-file", "c", "patchbayd.yaml", "Engine configuration file (YAML).")
		screamAddrs = pflag.StringArray("scream-listen", nil, "Address to receive raw Scream audio on (repeatable), e.g. 0.0.0.0:4010.")
		rtpAddrs    = pflag.StringArray("rtp-listen", nil, "Address to receive standard RTP audio on (repeatable).")
		procAddrs   = pflag.StringArray("per-process-listen", nil, "Address to receive per-process Scream audio on (repeatable).")
		logJSON     = pflag.Bool("log-json", false, "Emit structured JSON logs instead of text.")
		help        = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - soft-real-time PCM audio broker.\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: patchbayd [options]\n\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := config.NewLogger(os.Stdout, *logJSON)
	handler := logger.Handler()
	slog.SetDefault(logger)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	eng := engine.New(cfg, logger)
	logger = slog.New(fanoutHandler{handler, eng.LogHandler()})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng.Start(ctx)

	for _, addr := range *screamAddrs {
		if err := eng.AddScreamReceiver(addr); err != nil {
			logger.Error("add scream receiver", "addr", addr, "error", err)
			os.Exit(1)
		}
		logger.Info("scream receiver listening", "addr", addr)
	}
	for _, addr := range *rtpAddrs {
		if err := eng.AddRTPReceiver(addr); err != nil {
			logger.Error("add rtp receiver", "addr", addr, "error", err)
			os.Exit(1)
		}
		logger.Info("rtp receiver listening", "addr", addr)
	}
	for _, addr := range *procAddrs {
		if err := eng.AddPerProcessReceiver(addr); err != nil {
			logger.Error("add per-process receiver", "addr", addr, "error", err)
			os.Exit(1)
		}
		logger.Info("per-process receiver listening", "addr", addr)
	}

	logger.Info("patchbayd running")
	<-ctx.Done()

	logger.Info("shutting down...")
	eng.Shutdown()
	eng.ShutdownCPPLogger()
	logger.Info("shutdown complete")

	if ctx.Err() != nil && ctx.Err() != context.Canceled {
		os.Exit(1)
	}
}

// fanoutHandler dispatches every record to both the operator-visible handler
// and the engine's in-process log queue (GetCPPLogMessages, §6), since the
// standard library has no built-in multi-handler.
type fanoutHandler struct {
	primary slog.Handler
	queue   slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return f.primary.Enabled(ctx, level) || f.queue.Enabled(ctx, level)
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := f.primary.Handle(ctx, record.Clone()); err != nil {
		return err
	}
	return f.queue.Handle(ctx, record.Clone())
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fanoutHandler{f.primary.WithAttrs(attrs), f.queue.WithAttrs(attrs)}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	return fanoutHandler{f.primary.WithGroup(name), f.queue.WithGroup(name)}
}
