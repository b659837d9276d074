// ABOUTME: Gateway orchestrator that wires storage, auth, rooms and transports together
// ABOUTME: Owns the HTTP and gRPC servers, the optional relay and notifier, and their lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/config"
	"github.com/2389/taskboard-gateway/internal/dedupe"
	"github.com/2389/taskboard-gateway/internal/metrics"
	"github.com/2389/taskboard-gateway/internal/notifier"
	"github.com/2389/taskboard-gateway/internal/realtime"
	"github.com/2389/taskboard-gateway/internal/relay"
	"github.com/2389/taskboard-gateway/internal/rooms"
	"github.com/2389/taskboard-gateway/internal/store"
	"github.com/2389/taskboard-gateway/internal/tasks"
)

// Gateway orchestrates the taskboard-gateway server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	resolver    *auth.Resolver
	registry    *rooms.Registry
	hub         *realtime.Hub
	broadcaster *rooms.Broadcaster
	realtime    *realtime.Server
	tasks       *tasks.Service
	metrics     *metrics.Metrics
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// serverID identifies this gateway instance in logs
	serverID string

	// relay is nil unless relay.redis_url is set
	relay *relay.Redis
	redis *redis.Client

	// memDedupe is set when the in-memory deduper is in use so it can be closed
	memDedupe *dedupe.Memory

	// notifier is nil unless notifier.enabled is set
	notifier *notifier.Notifier
}

// initStore opens the configured database. TASKBOARD_DB_PATH overrides database.path.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TASKBOARD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStoreWithDriver(cfg.Database.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := newWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newWithStore builds every component on top of an open store.
func newWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		resolver: auth.NewResolver(verifier, s),
		registry: rooms.NewRegistry(),
		metrics:  metrics.New(),
		logger:   logger.With("component", "gateway"),
		serverID: generateServerID(),
	}

	gw.hub = realtime.NewHub(gw.resolver, gw.registry, logger,
		realtime.WithSendBuffer(cfg.Realtime.SendBuffer),
		realtime.WithHubMetrics(gw.metrics),
	)

	broadcasterOpts := []rooms.Option{rooms.WithMetrics(gw.metrics)}
	if cfg.Relay.RedisURL != "" {
		gw.redis, err = relay.NewClient(cfg.Relay.RedisURL)
		if err != nil {
			return nil, err
		}
		gw.relay = relay.New(gw.redis, cfg.Relay.Channel, logger)
		broadcasterOpts = append(broadcasterOpts, rooms.WithRelay(gw.relay))
		logger.Info("cross-process relay enabled", "channel", cfg.Relay.Channel)
	}
	gw.broadcaster = rooms.NewBroadcaster(gw.registry, gw.hub, logger, broadcasterOpts...)

	var deduper dedupe.Deduper
	switch cfg.Dedupe.Backend {
	case "redis":
		if gw.redis == nil {
			gw.closeOptionalComponents()
			return nil, errors.New("dedupe backend redis requires relay.redis_url")
		}
		deduper = dedupe.NewRedis(gw.redis, cfg.Dedupe.TTL)
	default:
		gw.memDedupe = dedupe.NewMemory(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)
		deduper = gw.memDedupe
	}

	gw.tasks = tasks.New(s, gw.broadcaster, logger,
		tasks.WithDeduper(deduper),
		tasks.WithTokens(verifier, cfg.Auth.TokenTTL),
		tasks.WithMetrics(gw.metrics),
	)

	gw.realtime = realtime.NewServer(gw.hub, gw.tasks, realtime.Config{
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		PingPeriod:       cfg.Realtime.PingPeriod,
		PongWait:         cfg.Realtime.PongWait,
		ProjectAccess:    cfg.Realtime.ProjectAccess,
	}, gw.metrics, logger)

	gw.grpcServer, gw.health = newGRPCServer(gw.resolver, gw.realtime, logger.With("component", "grpc"))

	if cfg.Notifier.Enabled {
		schedule, err := notifierSchedule(cfg.Notifier)
		if err != nil {
			gw.closeOptionalComponents()
			return nil, err
		}
		gw.notifier = notifier.New(s, notifier.NewLogMailer(logger), schedule, logger, notifier.WithMetrics(gw.metrics))
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// WebSocket clients authenticate with their first frame
	mux.Handle("GET /ws", gw.realtime)

	registerAPIRoutes(mux, gw.tasks, gw.resolver, logger)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, gw.metrics.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

func notifierSchedule(cfg config.NotifierConfig) (notifier.Schedule, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return notifier.Schedule{}, fmt.Errorf("loading notifier timezone: %w", err)
	}
	day, err := config.ParseWeekday(cfg.SummaryWeekday)
	if err != nil {
		return notifier.Schedule{}, err
	}
	return notifier.Schedule{
		Location:       loc,
		ReminderHour:   cfg.ReminderHour,
		SummaryWeekday: day,
		SummaryHour:    cfg.SummaryHour,
	}, nil
}

// Handler returns the HTTP handler serving the API, /ws, health and metrics.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// GRPCServer returns the gRPC server carrying the Board service.
func (g *Gateway) GRPCServer() *grpc.Server {
	return g.grpcServer
}

// Store returns the gateway's store.
func (g *Gateway) Store() store.Store {
	return g.store
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"server_id", g.serverID,
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startBackground launches the relay subscriber and the notifier. Both stop
// when ctx is cancelled.
func (g *Gateway) startBackground(ctx context.Context) {
	if g.relay != nil {
		go g.relay.Run(ctx, func(ev *rooms.Event) { g.broadcaster.Deliver(ev) })
	}
	if g.notifier != nil {
		go g.notifier.Run(ctx)
		g.logger.Info("notifier scheduled", "timezone", g.config.Notifier.Timezone)
	}
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.startBackground(bgCtx)

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)
	cancel()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "taskboard", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens on :50051 for gRPC and :80 for HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOptionalComponents closes optional components that may be nil.
func (g *Gateway) closeOptionalComponents() {
	if g.memDedupe != nil {
		g.memDedupe.Close()
	}
	if g.redis != nil {
		if err := g.redis.Close(); err != nil {
			g.logger.Warn("closing redis client", "error", err)
		}
	}
}

// Shutdown stops accepting work, closes every realtime connection and
// releases resources. Open streams are closed before the gRPC server is
// asked to stop so GracefulStop does not wait on them.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "connections", g.hub.Count())

	var errs []error
	g.health.Shutdown()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.hub.CloseAll()
	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.closeOptionalComponents()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the database answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := g.store.CountUsers(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", g.hub.Count())
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("taskboard-gateway-%d", time.Now().UnixNano()%1000000)
}
