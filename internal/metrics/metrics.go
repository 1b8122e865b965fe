// Package metrics owns the Prometheus registry for the doc server.
//
// Label discipline: request metrics carry method, chi route pattern, and
// status only. Localized doc slugs never become label values.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arothfield/docsite-web/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// request path
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	// edge middleware outcomes
	localeRedirectTotal    *prometheus.CounterVec
	slashRedirectTotal     prometheus.Counter
	legacyRedirectTotal    prometheus.Counter
	restrictedHostTotal    prometheus.Counter
	forbiddenPageTotal     prometheus.Counter
	compressedTotal        *prometheus.CounterVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	// content bundle lifecycle
	contentSource          *prometheus.GaugeVec
	contentLoadedTimestamp prometheus.Gauge
	contentBundleInfo      *prometheus.GaugeVec
	watcherPollsTotal      prometheus.Counter
	watcherSwapsTotal      prometheus.Counter
	watcherErrorsTotal     *prometheus.CounterVec
	bundleLoadDuration     prometheus.Histogram
	watcherLastSuccessTs   prometheus.Gauge
	watcherStale           prometheus.Gauge

	// process
	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New builds an isolated registry with the Go and process collectors plus
// every server metric. Each call gets its own registry, which keeps tests
// from stepping on each other.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &ServerMetrics{
		reg: reg,
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),

		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),

		localeRedirectTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_locale_redirects_total",
			Help: "Total locale redirects by kind (lang_param, canonical)",
		}, []string{"kind"}),
		slashRedirectTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_slash_redirects_total",
			Help: "Total 404s converted to trailing-slash-removal redirects",
		}),
		legacyRedirectTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_legacy_domain_redirects_total",
			Help: "Total requests redirected from legacy domains to the site origin",
		}),
		restrictedHostTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_restricted_host_requests_total",
			Help: "Total requests served the restricted route set by host",
		}),
		forbiddenPageTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_forbidden_pages_total",
			Help: "Total 403 responses rewritten with the themed forbidden page",
		}),
		compressedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_responses_compressed_total",
			Help: "Total responses compressed by encoding",
		}, []string{"encoding"}),
		ratelimitDeniedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),

		contentSource: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_source_info",
			Help: "Current content source (label carries value, gauge is always 1)",
		}, []string{"source"}),
		contentLoadedTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "content_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the current content bundle was loaded",
		}),
		contentBundleInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_bundle_info",
			Help: "Currently active content bundle (label carries identity, value is always 1)",
		}, []string{"sha256"}),
		watcherPollsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "content_watcher_polls_total",
			Help: "Total number of watcher poll cycles",
		}),
		watcherSwapsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "content_watcher_swaps_total",
			Help: "Total number of successful content bundle swaps",
		}),
		watcherErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "content_watcher_errors_total",
			Help: "Total watcher errors by type",
		}, []string{"type"}),
		bundleLoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "content_bundle_load_duration_seconds",
			Help:    "Time to download, verify, and extract a content bundle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		watcherLastSuccessTs: f.NewGauge(prometheus.GaugeOpts{
			Name: "content_watcher_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful SSM poll",
		}),
		watcherStale: f.NewGauge(prometheus.GaugeOpts{
			Name: "content_watcher_stale",
			Help: "Whether the content watcher is stale (1) or healthy (0)",
		}),

		buildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	return m
}

// Handler serves the scrape endpoint for this registry.
func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// SetBuildInfoFromVersion publishes build metadata once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

func (m *ServerMetrics) IncLocaleRedirect(kind string) {
	m.localeRedirectTotal.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) IncSlashRedirect()    { m.slashRedirectTotal.Inc() }
func (m *ServerMetrics) IncLegacyRedirect()   { m.legacyRedirectTotal.Inc() }
func (m *ServerMetrics) IncRestrictedHost()   { m.restrictedHostTotal.Inc() }
func (m *ServerMetrics) IncForbiddenPage()    { m.forbiddenPageTotal.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()  { m.ratelimitDeniedTotal.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacityTotal.Inc() }

func (m *ServerMetrics) IncCompressed(encoding string) {
	m.compressedTotal.WithLabelValues(encoding).Inc()
}

// SetContentSource resets the vec first so only one source label is ever
// live at a time.
func (m *ServerMetrics) SetContentSource(source string) {
	m.contentSource.Reset()
	m.contentSource.WithLabelValues(source).Set(1)
}

func (m *ServerMetrics) SetContentLoadedTimestamp(t time.Time) {
	m.contentLoadedTimestamp.Set(float64(t.Unix()))
}

// SetContentBundle swaps the identity gauge to the new bundle hash.
func (m *ServerMetrics) SetContentBundle(sha256 string) {
	m.contentBundleInfo.Reset()
	m.contentBundleInfo.WithLabelValues(sha256).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

func (m *ServerMetrics) IncWatcherPolls() { m.watcherPollsTotal.Inc() }
func (m *ServerMetrics) IncWatcherSwaps() { m.watcherSwapsTotal.Inc() }

func (m *ServerMetrics) IncWatcherError(errType string) {
	m.watcherErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) ObserveBundleLoadDuration(seconds float64) {
	m.bundleLoadDuration.Observe(seconds)
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) {
	m.watcherStale.Set(boolGauge(stale))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
