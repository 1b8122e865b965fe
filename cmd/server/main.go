package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/arothfield/docsite-web/internal/cfg"
	"github.com/arothfield/docsite-web/internal/content"
	"github.com/arothfield/docsite-web/internal/cryptoutil"
	"github.com/arothfield/docsite-web/internal/docserver"
	"github.com/arothfield/docsite-web/internal/health"
	"github.com/arothfield/docsite-web/internal/httpmw"
	"github.com/arothfield/docsite-web/internal/httpserver"
	"github.com/arothfield/docsite-web/internal/log"
	"github.com/arothfield/docsite-web/internal/metrics"
	"github.com/arothfield/docsite-web/internal/opshttp"
	"github.com/arothfield/docsite-web/internal/otelx"
	"github.com/arothfield/docsite-web/internal/prof"
	"github.com/arothfield/docsite-web/internal/ratelimit"
	"github.com/arothfield/docsite-web/internal/webassets"

	v "github.com/arothfield/docsite-web/internal/version"
)

const appName = "docsite-web"

// drainSleep is how long we keep serving after closing the shutdown gate,
// so the load balancer notices the failing health check and stops sending
// new requests before the listeners go away.
const drainSleep = 60 * time.Second

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// loadConfig parses flags, applies DOCSITE_ env fallbacks, and validates.
// Handles -V itself since there is nothing to run after printing.
func loadConfig(vi v.Info) cfg.App {
	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "DOCSITE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fatalf("config error: %v", err)
	}
	return conf
}

func newLogger(conf cfg.App, vi v.Info) log.Logger {
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fatalf("invalid log level %s: %v", conf.LogLevel, err)
	}
	stLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fatalf("invalid stacktrace level %s: %v", conf.StacktraceLevel, err)
	}
	lg, err := log.New(log.Options{
		App:               appName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fatalf("logger init error: %v", err)
	}
	return lg
}

func logStartup(ctx context.Context, L log.Logger, conf cfg.App, vi v.Info) {
	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_content_updates", conf.EnableContentUpdates,
		"enable_host_restrictions", conf.EnableHostRestrictions,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"include_error_links", conf.IncludeErrorLinks,
		"max_error_links", conf.MaxErrorLinks,
		"site_url", conf.SiteURL,
		"legacy_hosts", conf.LegacyHosts,
		"untrusted_hosts", conf.UntrustedHosts,
		"trusted_hops", conf.TrustedHops,
		"session_cookie", conf.SessionCookie,
		"content_ssm_param", conf.ContentSSMParam,
		"content_s3_bucket", conf.ContentS3Bucket,
		"content_s3_prefix", conf.ContentS3Prefix,
		"content_signing_key_arn", conf.ContentSigningKeyARN,
	)
}

// setupContent seeds the content manager from the embedded site and, when
// updates are enabled, brings up the S3/SSM loader and the polling watcher.
func setupContent(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.ServerMetrics) *content.Manager {
	contentMgr := content.NewManager()

	if seedFS, haveSeed := webassets.SeedSiteFS(); haveSeed {
		contentMgr.Set(content.Snapshot{
			FS: seedFS,
			Meta: content.Meta{
				Source:  content.SourceSeed,
				Version: "initial-seed",
			},
		})
		L.Info(ctx, "loaded initial seed site content into content manager")
	} else {
		L.Info(ctx, "no seed site content available to load into content manager")
	}

	if conf.EnableContentUpdates {
		startContentUpdates(ctx, L, conf, m, contentMgr)
	}

	m.SetContentSource(string(contentMgr.Source()))
	m.SetContentBundle(contentMgr.ContentHash())
	if t := contentMgr.LoadedAt(); !t.IsZero() {
		m.SetContentLoadedTimestamp(t)
	}
	return contentMgr
}

func startContentUpdates(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.ServerMetrics, contentMgr *content.Manager) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		os.Exit(1)
	}

	// bundle signatures are verified only when a signing key is configured
	var bundleVerifier content.BundleVerifier
	if conf.ContentSigningKeyARN != "" {
		bundleVerifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.ContentSigningKeyARN)
	}

	contentLoader, err := content.NewLoader(ctx, content.LoaderOptions{
		Logger:    L,
		SSMParam:  conf.ContentSSMParam,
		S3Bucket:  conf.ContentS3Bucket,
		S3Prefix:  conf.ContentS3Prefix,
		Verifier:  bundleVerifier,
		AWSConfig: &awsCfg,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create content loader, content updates will be disabled")
		return
	}

	if err := contentLoader.LoadIntoManager(ctx, contentMgr); err != nil {
		L.Error(ctx, err, "failed to load doc bundle, falling back to seed")
	} else {
		L.Info(ctx, "loaded doc bundle from S3",
			"content_version", contentMgr.ContentVersion(),
			"content_hash", contentMgr.ContentHash(),
		)
	}

	watcher := content.NewWatcher(&content.WatcherOptions{
		Logger:       L,
		Loader:       contentLoader,
		Manager:      contentMgr,
		PollInterval: 30 * time.Second,
		Metrics:      m,
		OnSwap: func(hash, version string) {
			m.SetContentBundle(hash)
			m.SetContentSource(string(content.SourceS3))
			m.SetContentLoadedTimestamp(time.Now())
		},
	})
	go watcher.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()
	conf := loadConfig(vi)

	lg := newLogger(conf, vi)
	// no-op for slog/stderr, but here if we swap backends so buffered logs
	// flush on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	logStartup(ctx, L, conf, vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}

	// Insecure is fine, the collector is a localhost sidecar
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", vi)

	contentMgr := setupContent(ctx, L, conf, m)

	docs, err := docserver.New(docserver.Options{
		Logger:     L,
		Content:    contentMgr,
		FallbackFS: webassets.FallbackFS(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create doc handler")
		os.Exit(1)
	}

	// readiness: the shutdown gate has not closed and a bundle is active
	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(ctx context.Context) error {
			return contentMgr.ReadyErr()
		}),
	)

	limiter := ratelimit.New(ctx,
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// fires once per ip per cleanup window, keeps the log quiet
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Port:      conf.HTTPPort,
		Health:    health.Fixed(true, ""),
		Readiness: readiness,

		Docs: docs,

		SessionCookie:          conf.SessionCookie,
		SiteURL:                conf.SiteURL,
		LegacyHosts:            cfg.SplitHosts(conf.LegacyHosts),
		EnableHostRestrictions: conf.EnableHostRestrictions,
		UntrustedHosts:         cfg.SplitHosts(conf.UntrustedHosts),
		ClientIPOpts:           httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},

		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		Logger:       L,
		ContentInfo:  contentMgr,

		OnLocaleRedirect: m.IncLocaleRedirect,
		OnSlashRedirect:  m.IncSlashRedirect,
		OnLegacyRedirect: m.IncLegacyRedirect,
		OnRestrictedHost: m.IncRestrictedHost,
		OnForbiddenPage:  m.IncForbiddenPage,
		OnCompressed:     m.IncCompressed,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener port")
		os.Exit(1)
	}

	// the admin listener sits behind a security group limited to internal
	// monitoring; nothing on it is meant for the public
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its own timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	// fail the readiness probe first so the load balancer drains us
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")
	waitForDrain(L)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// waitForDrain sleeps out the drain window; a second signal skips it.
func waitForDrain(L log.Logger) {
	L.Info(context.Background(), "sleeping for in-flight and load balancer health checks to drain",
		"drain_sleep", drainSleep.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	select {
	case <-time.After(drainSleep):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

// notifySystemd sends READY=1 when running under a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
