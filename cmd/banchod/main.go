// Command banchod boots the bancho service: it loads configuration,
// wires every component named in §1's Services aggregate, and runs the
// dispatcher (C9), periodic workers (C10), and pub/sub bridge (C11)
// until told to shut down. Grounded on go-server-3/cmd/odin-ws's
// cobra-fronted boot sequence and the adred-codev-ws_poc root variant's
// automaxprocs usage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"banchod/internal/adminhttp"
	"banchod/internal/bancho"
	"banchod/internal/clock"
	"banchod/internal/config"
	"banchod/internal/dispatcher"
	"banchod/internal/kv"
	"banchod/internal/logging"
	"banchod/internal/metrics"
	"banchod/internal/pubsub"
	"banchod/internal/services"
	"banchod/internal/userstore"
	"banchod/internal/webhook"
	"banchod/internal/workers"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPort     int
		cfgHost     string
		webhookURL  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:           "banchod",
		Short:         "bancho session/lobby/match server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the bancho service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.Flags(), webhookURL, metricsAddr)
		},
	}

	fs := serveCmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.IntVar(&cfgPort, "server-port", 13381, "port the dispatcher listens on (env: BANCHO_SERVER_PORT)")
	fs.StringVar(&cfgHost, "server-host", "0.0.0.0", "host the dispatcher binds to (env: BANCHO_SERVER_HOST)")
	fs.StringVar(&webhookURL, "webhook-url", "", "moderation webhook URL (e.g. a Discord incoming webhook)")
	fs.StringVar(&metricsAddr, "metrics-listen-addr", ":9095", "admin http listen address for /healthz and /metrics")

	cmd.AddCommand(serveCmd)
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

func runServe(ctx context.Context, flags *pflag.FlagSet, webhookURL, metricsAddr string) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if metricsAddr != "" {
		cfg.Metrics.ListenAddr = metricsAddr
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	store, err := kv.Connect(kv.Options{
		URL:           cfg.KV.NATSURL,
		BucketName:    cfg.KV.BucketName,
		LockTTL:       cfg.KV.LockTTL,
		LockRetries:   cfg.KV.LockRetries,
		LockBaseDelay: cfg.KV.LockBaseDelay,
	})
	if err != nil {
		return fmt.Errorf("connect kv: %w", err)
	}
	defer store.Close()

	reg := metrics.NewRegistry()

	var hook webhook.Sink = webhook.Nop{}
	if webhookURL != "" {
		q := webhook.NewHTTPQueue(webhookURL, log)
		go q.Run(ctx)
		hook = q
	}

	// The real deployment wires a SQL-backed UserStore (out of scope,
	// §1); InMemory seeded with the bot account is enough to boot and to
	// drive the pub/sub bridge and reaper against a live replica.
	users := userstore.NewInMemory()
	users.Put(userstore.UserRecord{
		UserID:     cfg.Bancho.BotUserID,
		Username:   "BanchoBot",
		Privileges: 0,
	}, "banchobot", userstore.Stats{}, nil)

	svc := &services.Services{
		Config:  cfg,
		KV:      store,
		Clock:   clock.NewReal(),
		Users:   users,
		Log:     log,
		Metrics: reg,
		Webhook: hook,
	}

	world := bancho.New(svc, cfg.Bancho.BotUserID)
	seedDefaultChannels(world)

	dispSrv := dispatcher.NewServer(cfg, log, reg, world)
	dispSrv.RegisterDefaultHandlers()
	if err := dispSrv.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	sampler, err := metrics.NewProcessSampler()
	if err != nil {
		log.Warnw("process sampler unavailable", "err", err)
		sampler = nil
	}
	periodic := workers.New(world, log, reg, sampler, cfg.Bancho.BotUserID)
	workersCtx, cancelWorkers := context.WithCancel(ctx)
	go periodic.Run(workersCtx)

	bridge := pubsub.New(store, world, log)
	if err := bridge.Start(ctx); err != nil {
		log.Warnw("pub/sub bridge failed to start", "err", err)
	}
	defer bridge.Close()

	admin := adminhttp.New(cfg.Metrics.ListenAddr, reg, log)
	adminErrCh := make(chan error, 1)
	if cfg.Metrics.Enabled {
		go func() { adminErrCh <- admin.Start() }()
	}

	log.Infow("banchod started", "component", cfg.App.Component, "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		log.Infow("shutdown signal received")
	case err := <-adminErrCh:
		if err != nil {
			log.Errorw("admin http server failed", "err", err)
		}
	}

	cancelWorkers()
	dispSrv.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := admin.Stop(shutdownCtx); err != nil {
		log.Warnw("admin http shutdown error", "err", err)
	}

	log.Infow("banchod stopped cleanly")
	return nil
}

// seedDefaultChannels registers the always-present public channels; the
// spectator/multiplayer instance channels are created on demand by their
// own components (I8).
func seedDefaultChannels(world *bancho.World) {
	world.Channels.Add("#osu", "general discussion", true, true, false)
	world.Channels.Add("#announce", "announcements", true, false, false)
	world.Channels.Add("#lobby", "multiplayer lobby chat", true, true, false)
	world.Channels.Add("#premium", "premium members", true, true, false)
	world.Channels.Add("#supporter", "supporters", true, true, false)

	world.Streams.Add("chat/#osu")
	world.Streams.Add("chat/#announce")
	world.Streams.Add("chat/#lobby")
	world.Streams.Add("chat/#premium")
	world.Streams.Add("chat/#supporter")
}
