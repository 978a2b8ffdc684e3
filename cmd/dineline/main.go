package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harunnryd/dineline/pkg/dineline"
)

func main() {
	configPath := flag.String("config", "config.example.yaml", "path to the YAML config")
	dialTo := flag.String("dial_to", "", "destination number for outbound call")
	dialFrom := flag.String("dial_from", "", "caller ID for outbound call")
	dialURL := flag.String("dial_url", "", "override voice URL for outbound call")
	flag.Parse()

	cfg, err := dineline.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	app, err := dineline.Build(cfg, dineline.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "build error:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *dialTo != "" {
		go dialWhenReady(ctx, app, *dialTo, *dialFrom, *dialURL)
	}
	if err := app.Run(ctx); err != nil {
		slog.Error("engine_stopped", "error", err)
		os.Exit(1)
	}
}

// dialWhenReady places one outbound call once the webhook server is bound.
func dialWhenReady(ctx context.Context, app *dineline.App, to, from, url string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for app.Transport.Addr() == "" {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	callSID, err := app.Dialer.Dial(ctx, to, from, url)
	if err != nil {
		slog.Error("dial_failed", "to", to, "error", err)
		return
	}
	slog.Info("dial_started", "call_sid", callSID, "to", to)
}
