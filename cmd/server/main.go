// Warden orchestrates security-alert investigations and policy-gated
// remediation actions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/warden/internal/action"
	"github.com/linnemanlabs/warden/internal/actionapi"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/authmw"
	wc "github.com/linnemanlabs/warden/internal/cfg"
	"github.com/linnemanlabs/warden/internal/connector"
	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/investigationapi"
	"github.com/linnemanlabs/warden/internal/notify/slack"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/ratelimit"
	"github.com/linnemanlabs/warden/internal/resilience"
	"github.com/linnemanlabs/warden/internal/store/memstore"
	"github.com/linnemanlabs/warden/internal/store/pgstore"
	"github.com/linnemanlabs/warden/internal/timeout"
)

const appName = "warden"
const component = "server"

// store is the persistence surface main wires into every component. Both
// memstore and pgstore implement all of it.
type store interface {
	investigation.Store
	policy.Store
	approval.Store
	resilience.AuditSink
	action.AuditReader
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    wc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix WARDEN_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "WARDEN_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"max_concurrent", appCfg.MaxConcurrent,
		"default_timeout_seconds", appCfg.DefaultTimeoutSeconds,
		"max_timeout_seconds", appCfg.MaxTimeoutSeconds,
		"check_interval_seconds", appCfg.CheckIntervalSeconds,
		"grace_period_seconds", appCfg.GracePeriodSeconds,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Initialize the persistence layer
	var st store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		st = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		st = memstore.New()
		L.Info(ctx, "using in-memory store (no database-url configured)")
	}

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Per-subsystem metrics on the shared Prometheus registry.
	invMetrics := investigation.NewMetrics(m.Registry())
	tmMetrics := timeout.NewMetrics(m.Registry())
	connMetrics := connector.NewRegistryMetrics(m.Registry())
	polMetrics := policy.NewMetrics(m.Registry())
	apMetrics := approval.NewMetrics(m.Registry())

	// Connector registry with the built-in factories. Default connectors come
	// from config; tenants can bring their own through the registry later.
	registry := connector.NewRegistry(L, connMetrics)
	registry.RegisterFactory(connector.TypePrometheus, connector.PrometheusFactory(registry, connMetrics))
	registry.RegisterFactory(connector.TypeLoki, connector.LokiFactory(registry, connMetrics))

	if appCfg.PrometheusEndpoint != "" {
		if _, err := registry.Create(ctx, connector.Config{
			ID:       "prometheus-default",
			TenantID: firstNonEmpty(appCfg.PrometheusTenantID, "default"),
			Type:     connector.TypePrometheus,
			Endpoint: appCfg.PrometheusEndpoint,
		}); err != nil {
			return fmt.Errorf("create prometheus connector: %w", err)
		}
	}
	if appCfg.LokiEndpoint != "" {
		if _, err := registry.Create(ctx, connector.Config{
			ID:       "loki-default",
			TenantID: firstNonEmpty(appCfg.LokiTenantID, "default"),
			Type:     connector.TypeLoki,
			Endpoint: appCfg.LokiEndpoint,
		}); err != nil {
			return fmt.Errorf("create loki connector: %w", err)
		}
	}

	// Timeout manager; the terminator is wired after the orchestrator exists.
	tm := timeout.NewManager(
		func(ctx context.Context, investigationID, tenantID string, remaining time.Duration) {
			L.Warn(ctx, "investigation approaching deadline",
				"investigation_id", investigationID, "tenant_id", tenantID,
				"remaining", remaining.String())
		},
		L, tmMetrics,
		timeout.Options{
			Grace:          time.Duration(appCfg.GracePeriodSeconds) * time.Second,
			SweepInterval:  time.Duration(appCfg.CheckIntervalSeconds) * time.Second,
			MaxAPICalls:    appCfg.MaxAPICalls,
			MaxEvidence:    appCfg.MaxEvidence,
			MaxMemoryBytes: uint64(appCfg.MaxMemoryBytes),
		},
	)

	// Slack notifier for terminal investigation outcomes.
	var notifier investigation.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	orch := investigation.NewOrchestrator(st, nil, tm, nil, notifier, L, invMetrics, investigation.Options{
		MaxConcurrent:  appCfg.MaxConcurrent,
		DefaultTimeout: time.Duration(appCfg.DefaultTimeoutSeconds) * time.Second,
		MaxTimeout:     time.Duration(appCfg.MaxTimeoutSeconds) * time.Second,
	})
	tm.SetTerminator(orch)

	// Re-adopt non-terminal investigations left over from a previous process.
	if err := orch.Reconcile(ctx); err != nil {
		L.Error(ctx, err, "startup reconciliation failed")
	}

	// Policy-gated action path: engine, approvals, resilient executor.
	engine := policy.NewEngine(st, L, polMetrics)
	approvals := approval.NewWorkflow(st, L, apMetrics)
	executor := resilience.NewToolExecutor(st, L, resilience.RetryOptions{
		Retries: 3,
		Base:    500 * time.Millisecond,
	})
	actions := action.NewService(engine, approvals, executor, st, L)

	// Evidence query actions route through the connector registry so they get
	// the breaker and rate limiting for free.
	actions.RegisterHandler("query_metrics", connectorHandler(registry, "prometheus-default"))
	actions.RegisterHandler("query_logs", connectorHandler(registry, "loki-default"))

	// Background loops: deadline/resource sweeps, queue activation, expiry
	// cleanup, connector health. All stop together on shutdown.
	loopCtx, stopLoops := context.WithCancel(context.Background())
	loopCtx = log.WithContext(loopCtx, L)
	var loops sync.WaitGroup

	loops.Add(1)
	go func() {
		defer loops.Done()
		tm.Run(loopCtx)
	}()

	loops.Add(1)
	go func() {
		defer loops.Done()
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-tick.C:
				orch.ProcessQueue(loopCtx)
			}
		}
	}()

	loops.Add(1)
	go func() {
		defer loops.Done()
		tick := time.NewTicker(time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-tick.C:
				if n, err := orch.CleanupExpired(loopCtx); err != nil {
					L.Error(loopCtx, err, "expired cleanup failed")
				} else if n > 0 {
					L.Info(loopCtx, "cleaned up expired investigations", "count", n)
				}
				registry.HealthSweep(loopCtx, connector.Filter{})
			}
		}
	}()

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		stopLoops()
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64)) // 64KB covers the largest legitimate context documents

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// Per-client request rate limiting, keyed on client ip.
	limiter := ratelimit.NewPerClient(appCfg.RateLimitRPS, appCfg.RateLimitBurst, ratelimit.ClientIPKey)

	// api routes sit behind bearer auth, principal resolution, and the rate
	// limiter; health endpoints above stay open
	r.Group(func(gr chi.Router) {
		gr.Use(limiter.Middleware)
		gr.Use(authmw.BearerToken(appCfg.APIToken))
		gr.Use(authmw.ResolvePrincipal)

		investigationapi.New(L, orch).RegisterRoutes(gr)
		actionapi.New(L, actions, approvals).RegisterRoutes(gr)
	})

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		stopLoops()
		return err
	}

	// Start API HTTP server with middleware and handlers
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		stopLoops()
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Stop the background loops before tearing components down.
	stopLoops()
	loops.Wait()

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	// Drop remaining deadline records and close connectors last so in-flight
	// handlers were never racing them.
	if n := tm.ForceCleanup(shutdownCtx); n > 0 {
		L.Info(context.Background(), "force-cleaned timeout records", "count", n)
	}
	registry.Shutdown(shutdownCtx)

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// connectorHandler adapts a registry connector into an action handler.
func connectorHandler(r *connector.Registry, id string) action.Handler {
	return func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		conn, ok := r.Get(id)
		if !ok {
			return nil, fmt.Errorf("connector %s is not configured", id)
		}
		return conn.Query(ctx, params)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
