// smgw daemon -- authenticated UDP message gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"slices"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/smgw/internal/agent"
	"github.com/dantte-lp/smgw/internal/agent/telegram"
	"github.com/dantte-lp/smgw/internal/config"
	"github.com/dantte-lp/smgw/internal/gateway"
	smgwmetrics "github.com/dantte-lp/smgw/internal/metrics"
	"github.com/dantte-lp/smgw/internal/server"
	appversion "github.com/dantte-lp/smgw/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	watch := flag.Bool("watch", false, "reload the configuration file when it changes")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("smgw starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("listeners", len(cfg.Listeners)),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := smgwmetrics.NewCollector(reg)

	d := &daemonState{
		cfg:        cfg,
		configPath: *configPath,
		watch:      *watch,
		logLevel:   logLevel,
		logger:     logger,
		reg:        reg,
		collector:  collector,
		fr:         fr,
		dumper:     newTraceDumper(fr, os.TempDir(), logger),
	}

	if err := d.run(); err != nil {
		logger.Error("smgw exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("smgw stopped")
	return 0
}

// daemonState bundles what the daemon goroutines share.
type daemonState struct {
	cfg        *config.Config
	configPath string
	watch      bool
	logLevel   *slog.LevelVar
	logger     *slog.Logger
	reg        *prometheus.Registry
	collector  *smgwmetrics.Collector
	fr         *trace.FlightRecorder
	dumper     *traceDumper
}

// run wires agents, listeners and servers, then blocks in an errgroup
// until SIGINT/SIGTERM.
func (d *daemonState) run() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	agents, tg, err := buildAgents(d.cfg, d.logger)
	if err != nil {
		return fmt.Errorf("build agents: %w", err)
	}

	mgr := gateway.NewManager(agents, d.logger,
		gateway.WithManagerMetrics(d.collector),
		gateway.WithPanicHook(d.dumper.dumpAfterPanic),
	)
	defer func() {
		if cerr := mgr.Close(); cerr != nil {
			d.logger.Warn("failed to close listeners", slog.String("error", cerr.Error()))
		}
	}()

	if err := addListeners(ctx, d.cfg, mgr); err != nil {
		return err
	}

	metricsSrv := newMetricsServer(d.cfg.Metrics, d.reg)
	adminSrv := newAdminServer(d.cfg.Admin, mgr, d.logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mgr.Run(gCtx)
	})

	if tg != nil {
		tg.SetDispatcher(mgr)
		g.Go(func() error {
			return tg.Run(gCtx)
		})
	}

	startHTTPServers(gCtx, g, d.cfg, adminSrv, metricsSrv, d.logger)
	d.startDaemonGoroutines(gCtx, g)

	notifyReady(d.logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, d.logger, d.fr, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// buildAgents registers every enabled delivery agent. The Telegram agent is
// returned separately so its poller can be started and given a dispatcher.
func buildAgents(cfg *config.Config, logger *slog.Logger) (*agent.Registry, *telegram.Agent, error) {
	reg := agent.NewRegistry(logger)

	if cfg.Agents.Log.Enabled {
		if err := reg.Register(config.AgentLog, agent.NewLogAgent(logger)); err != nil {
			return nil, nil, fmt.Errorf("register %s agent: %w", config.AgentLog, err)
		}
	}

	var tg *telegram.Agent
	if cfg.Agents.Telegram.Enabled {
		var err error
		tg, err = telegram.New(telegram.Config{
			Token:       cfg.Agents.Telegram.Token,
			PollTimeout: cfg.Agents.Telegram.PollTimeout,
			RatePerSec:  cfg.Agents.Telegram.RatePerSec,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create telegram agent: %w", err)
		}
		if err := reg.Register(config.AgentTelegram, tg); err != nil {
			return nil, nil, fmt.Errorf("register %s agent: %w", config.AgentTelegram, err)
		}
	}

	logger.Info("delivery agents ready", slog.Any("agents", reg.Names()))
	return reg, tg, nil
}

// addListeners converts every configured listener and binds it.
func addListeners(ctx context.Context, cfg *config.Config, mgr *gateway.Manager) error {
	for _, lc := range cfg.Listeners {
		gc, err := listenerConfig(cfg, lc)
		if err != nil {
			return err
		}
		if _, err := mgr.AddListener(ctx, gc); err != nil {
			return fmt.Errorf("add listener %s: %w", lc.Addr, err)
		}
	}
	return nil
}

// listenerConfig converts a config.ListenerConfig to a gateway.ListenerConfig,
// applying the global senders, message size and throttle settings.
func listenerConfig(cfg *config.Config, lc config.ListenerConfig) (gateway.ListenerConfig, error) {
	senders, err := gateway.NewSenderRegistry(lc.MergedSenders(cfg.Senders))
	if err != nil {
		return gateway.ListenerConfig{}, fmt.Errorf("listener %s senders: %w", lc.Addr, err)
	}

	format, err := gateway.ParseMessageFormat(lc.Format)
	if err != nil {
		return gateway.ListenerConfig{}, fmt.Errorf("listener %s format: %w", lc.Addr, err)
	}

	return gateway.ListenerConfig{
		Addr:            lc.Addr,
		Senders:         senders,
		Recipients:      gateway.NewRecipientMap(lc.Rcps),
		Format:          format,
		MaxDatagramSize: cfg.MsgSize,
		RecvBuffer:      cfg.Socket.RecvBuffer,
		Throttle: gateway.ThrottleConfig{
			Threshold: cfg.Throttle.Threshold,
			Timespan:  cfg.Throttle.Timespan,
		},
	}, nil
}

// startHTTPServers registers the admin and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	adminSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog, SIGHUP, trace dump and
// file watch reload goroutines.
func (d *daemonState) startDaemonGoroutines(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return runWatchdog(ctx, d.logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		d.handleSIGHUP(ctx, sigHUP)
		return nil
	})

	if len(traceDumpSignals) > 0 {
		sigDump := make(chan os.Signal, 1)
		signal.Notify(sigDump, traceDumpSignals...)
		g.Go(func() error {
			defer signal.Stop(sigDump)
			d.handleTraceDump(ctx, sigDump)
			return nil
		})
	}

	if d.watch && d.configPath != "" {
		g.Go(func() error {
			err := config.Watch(ctx, d.configPath, config.DefaultWatchDebounce, d.logger, d.reloadConfig)
			if err != nil {
				// Losing the watcher must not take the gateway down.
				d.logger.Warn("config watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}
}

// -------------------------------------------------------------------------
// Systemd Integration: sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd once listeners are bound.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends watchdog keepalives to systemd at WatchdogSec/2.
// If watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Reload: log level
// -------------------------------------------------------------------------

// handleSIGHUP reloads configuration on every SIGHUP until ctx is done.
func (d *daemonState) handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			d.logger.Info("received SIGHUP, reloading configuration")
			d.reloadConfig()
		}
	}
}

// handleTraceDump writes the flight recorder window on every dump signal
// until ctx is done.
func (d *daemonState) handleTraceDump(ctx context.Context, sigDump <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigDump:
			if _, err := d.dumper.Dump("signal " + sig.String()); err != nil {
				d.logger.Warn("failed to write flight recorder trace",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// reloadConfig applies the log level of a freshly loaded configuration.
// Listener changes are reported but need a restart. Errors keep the
// current settings.
func (d *daemonState) reloadConfig() {
	newCfg, err := loadConfig(d.configPath)
	if err != nil {
		d.logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := d.logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	d.logLevel.Set(newLevel)

	d.logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	if !slices.Equal(listenerAddrs(d.cfg), listenerAddrs(newCfg)) {
		d.logger.Warn("listener set changed, restart required to apply",
			slog.Any("current", listenerAddrs(d.cfg)),
			slog.Any("configured", listenerAddrs(newCfg)),
		)
	}
}

func listenerAddrs(cfg *config.Config) []string {
	addrs := make([]string, 0, len(cfg.Listeners))
	for _, lc := range cfg.Listeners {
		addrs = append(addrs, lc.Addr)
	}
	slices.Sort(addrs)
	return addrs
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown signals systemd, stops the flight recorder and drains
// the HTTP servers. The parent context is already cancelled here.
func gracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder: runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder starts a rolling execution trace window for
// post-mortem debugging of stalled listeners.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe serves srv on addr until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newAdminServer creates the ConnectRPC admin endpoint. h2c lets gRPC
// clients such as smgwctl connect over plaintext HTTP/2.
func newAdminServer(cfg config.AdminConfig, mgr *gateway.Manager, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(mgr, logger,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		server.AdminServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	cfg := config.DefaultConfig()
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	return cfg, nil
}

// newLoggerWithLevel creates a structured logger backed by a shared
// LevelVar so reloads can change the level.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
