// Package cfg defines the server's configuration surface: flags, their
// env-var fallbacks, and validation.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/arothfield/docsite-web/internal/log"
)

type App struct {
	// logging
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// listeners
	HTTPPort  int
	AdminPort int

	// observability
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	// request handling
	SiteURL                string
	LegacyHosts            string
	UntrustedHosts         string
	EnableHostRestrictions bool
	TrustedHops            int
	SessionCookie          string

	// doc bundle pipeline
	EnableContentUpdates bool
	ContentSSMParam      string
	ContentS3Bucket      string
	ContentS3Prefix      string
	ContentSigningKeyARN string
}

// Register binds every config field to fs with its default.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.SiteURL, "site-url", "http://localhost:8080", "canonical site origin used for legacy-domain redirects")
	fs.StringVar(&c.LegacyHosts, "legacy-hosts", "", "comma-separated hostnames that 301 to -site-url")
	fs.StringVar(&c.UntrustedHosts, "untrusted-hosts", "", "comma-separated hostnames limited to the restricted route set")
	fs.BoolVar(&c.EnableHostRestrictions, "enable-host-restrictions", false, "Serve the restricted route set to hosts listed in -untrusted-hosts")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted proxies in front of the server (0..10)")
	fs.StringVar(&c.SessionCookie, "session-cookie", "sessionid", "session cookie name to strip from requests and responses")

	fs.BoolVar(&c.EnableContentUpdates, "enable-content-updates", true, "Enable refreshing doc bundles from S3/SSM")
	fs.StringVar(&c.ContentSSMParam, "content-ssm-param", "/app/docsite-web/server/content/stable/release/id", "ssm parameter name to get doc bundle hash from")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "docsite-prod-deployment-artifacts", "s3 bucket name to get doc bundle from")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "apps/docsite-web/server/content/bundles", "s3 prefix (key) to get doc bundle from")
	fs.StringVar(&c.ContentSigningKeyARN, "content-signing-key-arn", "", "KMS key ARN for doc bundle signature verification")
}

// envKey maps flag "foo-bar" to PREFIX_FOO_BAR.
func envKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// FillFromEnv applies environment fallbacks to flags the user did not pass
// on the command line. Precedence: cli flag > env var > default. Invalid
// env values are logged and skipped rather than failing startup.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := envKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// SplitHosts parses a comma-separated host list into lowercased hostnames,
// dropping empty entries.
func SplitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		hosts = append(hosts, h)
	}
	return hosts
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func absoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks every field and reports all problems at once, so a bad
// deploy surfaces its whole config story in one error.
func Validate(c App) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validPort(c.HTTPPort) {
		bad("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if !validPort(c.AdminPort) {
		bad("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		bad("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		bad("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			bad("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err)
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		bad("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		bad("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			bad("PYRO_SERVER required when ENABLE_PYROSCOPE=true")
		} else if !absoluteURL(c.PyroServer) {
			bad("PYRO_SERVER must be a URL (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			bad("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}
	if c.EnableTracing {
		// the grpc exporter wants host:port, no scheme
		if c.OTLPEndpoint == "" {
			bad("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			bad("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}

	// the site origin anchors legacy-domain redirects, always required
	if !absoluteURL(c.SiteURL) {
		bad("SITE_URL must be an absolute URL (got %q)", c.SiteURL)
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		bad("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops)
	}
	if c.SessionCookie == "" {
		bad("SESSION_COOKIE must not be empty")
	}
	if c.EnableHostRestrictions && len(SplitHosts(c.UntrustedHosts)) == 0 {
		bad("UNTRUSTED_HOSTS required when ENABLE_HOST_RESTRICTIONS=true")
	}

	if c.EnableContentUpdates {
		if c.ContentSSMParam == "" {
			bad("CONTENT_SSM_PARAM is required")
		}
		if c.ContentS3Bucket == "" {
			bad("CONTENT_S3_BUCKET is required")
		}
		if c.ContentS3Prefix == "" {
			bad("CONTENT_S3_PREFIX is required")
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
