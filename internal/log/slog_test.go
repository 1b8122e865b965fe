package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// jsonLogger builds a slogLogger writing JSON records into buf.
func jsonLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	if opts.App == "" {
		opts.App = "docsite-web"
	}
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// lastRecord parses the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, lines[len(lines)-1])
	}
	return m
}

func TestNewSlog(t *testing.T) {
	t.Run("nil writer defaults to stdout", func(t *testing.T) {
		l, err := newSlog(Options{App: "docsite-web"})
		if err != nil {
			t.Fatalf("newSlog: %v", err)
		}
		if l == nil {
			t.Fatal("nil logger")
		}
	})

	t.Run("records carry msg and app", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{App: "docsite-web", Level: slog.LevelInfo})
		l.Info(context.Background(), "bundle swapped")

		m := lastRecord(t, &buf)
		if m["msg"] != "bundle swapped" {
			t.Fatalf("msg = %v", m["msg"])
		}
		if m["app"] != "docsite-web" {
			t.Fatalf("app = %v", m["app"])
		}
	})

	t.Run("text format for local runs", func(t *testing.T) {
		var buf bytes.Buffer
		opts := Options{App: "docsite-web", Writer: &buf, Level: slog.LevelInfo}
		l, err := newSlog(opts)
		if err != nil {
			t.Fatalf("newSlog: %v", err)
		}
		l.Info(context.Background(), "text")
		if !strings.Contains(buf.String(), "msg=text") {
			t.Fatalf("want logfmt output, got: %s", buf.String())
		}
	})

	t.Run("error link ceiling defaults to 8", func(t *testing.T) {
		var buf bytes.Buffer
		if l := jsonLogger(t, &buf, Options{}); l.maxErrorLinks != 8 {
			t.Fatalf("maxErrorLinks = %d, want 8", l.maxErrorLinks)
		}
		if l := jsonLogger(t, &buf, Options{MaxErrorLinks: 20}); l.maxErrorLinks != 20 {
			t.Fatalf("maxErrorLinks = %d, want 20", l.maxErrorLinks)
		}
	})
}

func TestSlogLogger_Levels(t *testing.T) {
	t.Run("below threshold is dropped", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelWarn})
		ctx := context.Background()

		l.Debug(ctx, "poll tick")
		l.Info(ctx, "bundle unchanged")
		if buf.Len() != 0 {
			t.Fatalf("debug/info leaked through a warn threshold: %s", buf.String())
		}

		l.Warn(ctx, "bundle stale")
		if !strings.Contains(buf.String(), "bundle stale") {
			t.Fatalf("warn dropped: %s", buf.String())
		}

		buf.Reset()
		l.Error(ctx, errors.New("ssm unreachable"), "poll failed")
		if !strings.Contains(buf.String(), "poll failed") {
			t.Fatalf("error dropped: %s", buf.String())
		}
	})

	t.Run("debug threshold passes everything", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelDebug})
		ctx := context.Background()
		l.Debug(ctx, "m-debug")
		l.Info(ctx, "m-info")
		l.Warn(ctx, "m-warn")
		l.Error(ctx, errors.New("x"), "m-error")

		out := buf.String()
		for _, msg := range []string{"m-debug", "m-info", "m-warn", "m-error"} {
			if !strings.Contains(out, fmt.Sprintf(`"msg":%q`, msg)) {
				t.Errorf("%q missing at debug threshold", msg)
			}
		}
	})
}

func TestSlogLogger_With(t *testing.T) {
	t.Run("child carries the attrs", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelInfo})
		l.With("component", "watcher", "bundle_hash", "abcdef123456").
			Info(context.Background(), "swap")

		m := lastRecord(t, &buf)
		if m["component"] != "watcher" {
			t.Fatalf("component = %v", m["component"])
		}
		if m["bundle_hash"] != "abcdef123456" {
			t.Fatalf("bundle_hash = %v", m["bundle_hash"])
		}
	})

	t.Run("parent stays clean", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelInfo})
		_ = l.With("child_key", "child_val")

		l.Info(context.Background(), "parent msg")
		if _, found := lastRecord(t, &buf)["child_key"]; found {
			t.Fatal("child attr leaked into the parent logger")
		}
	})

	t.Run("chaining accumulates", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelInfo})
		l.With("a", 1).With("b", 2).With("c", 3).Info(context.Background(), "deep")

		m := lastRecord(t, &buf)
		if m["a"] != float64(1) || m["b"] != float64(2) || m["c"] != float64(3) {
			t.Fatalf("chained attrs missing: %v", m)
		}
	})

	t.Run("orphan and non-string keys are dropped", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelInfo})
		l.With(42, "val", "real_key", "real_val", "orphan").Info(context.Background(), "odd")

		m := lastRecord(t, &buf)
		if m["real_key"] != "real_val" {
			t.Fatalf("real_key missing: %v", m)
		}
		if _, found := m["orphan"]; found {
			t.Fatal("orphan key became an attr")
		}
	})

	t.Run("error-link config survives", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{IncludeErrorLinks: true, MaxErrorLinks: 5})
		child := l.With("k", "v").(*slogLogger)
		if !child.includeErrorLinks || child.maxErrorLinks != 5 {
			t.Fatalf("child config = (%v, %d), want (true, 5)",
				child.includeErrorLinks, child.maxErrorLinks)
		}
	})
}

func TestSlogLogger_Error(t *testing.T) {
	t.Run("enriches with type fields and chain", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelError})
		l.Error(context.Background(),
			fmt.Errorf("load bundle: %w", errors.New("no index.json")), "startup failed")

		m := lastRecord(t, &buf)
		for _, k := range []string{"err", "error_type", "cause_type"} {
			if m[k] == nil {
				t.Errorf("%s field missing", k)
			}
		}
		chain, ok := m["error_chain"].([]any)
		if !ok {
			t.Fatalf("error_chain = %T", m["error_chain"])
		}
		if len(chain) < 2 {
			t.Fatalf("error_chain has %d entries, want >= 2", len(chain))
		}
	})

	t.Run("nil error logs without enrichment", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelError})
		l.Error(context.Background(), nil, "nil error msg")

		m := lastRecord(t, &buf)
		if m["msg"] != "nil error msg" {
			t.Fatalf("msg = %v", m["msg"])
		}
		if _, found := m["err"]; found {
			t.Fatal("err field present for a nil error")
		}
	})

	t.Run("error_links follows the option", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelError})
		l.Error(context.Background(), errors.New("x"), "msg")
		if _, found := lastRecord(t, &buf)["error_links"]; found {
			t.Fatal("error_links present while disabled")
		}

		buf.Reset()
		l = jsonLogger(t, &buf, Options{Level: slog.LevelError, IncludeErrorLinks: true})
		l.Error(context.Background(), errors.New("x"), "msg")
		if _, found := lastRecord(t, &buf)["error_links"]; !found {
			t.Fatal("error_links missing while enabled")
		}
	})

	t.Run("extra kv pass through", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelError})
		l.Error(context.Background(), errors.New("x"), "msg", "bundle_hash", "abcdef123456")
		if got := lastRecord(t, &buf)["bundle_hash"]; got != "abcdef123456" {
			t.Fatalf("bundle_hash = %v", got)
		}
	})
}

func TestSlogLogger_Sync(t *testing.T) {
	var buf bytes.Buffer
	if err := jsonLogger(t, &buf, Options{}).Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestSlogLogger_KVOnCalls(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(t, &buf, Options{Level: slog.LevelInfo})
	l.Info(context.Background(), "poll", "locales", 12, "swap_count", "3")

	m := lastRecord(t, &buf)
	if m["locales"] != float64(12) {
		t.Fatalf("locales = %v", m["locales"])
	}
	if m["swap_count"] != "3" {
		t.Fatalf("swap_count = %v", m["swap_count"])
	}
}

func TestSpanCtxHandler(t *testing.T) {
	t.Run("valid span context lands in the record", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelInfo})

		traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
		spanID, _ := trace.SpanIDFromHex("0102030405060708")
		ctx := trace.ContextWithSpanContext(context.Background(),
			trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: trace.FlagsSampled,
			}))

		l.Info(ctx, "traced msg")
		m := lastRecord(t, &buf)
		if m["trace_id"] != "0102030405060708090a0b0c0d0e0f10" {
			t.Fatalf("trace_id = %v", m["trace_id"])
		}
		if m["span_id"] != "0102030405060708" {
			t.Fatalf("span_id = %v", m["span_id"])
		}
	})

	t.Run("no span, no trace fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelInfo})
		l.Info(context.Background(), "no trace")
		if _, found := lastRecord(t, &buf)["trace_id"]; found {
			t.Fatal("trace_id present without a span")
		}
	})
}

func TestStacktraceHandler(t *testing.T) {
	t.Run("error records carry a stack", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelError})
		l.Error(context.Background(), errors.New("boom"), "error with stack")

		stack, ok := lastRecord(t, &buf)["stack"].(string)
		if !ok || stack == "" {
			t.Fatal("stack missing or empty on an error record")
		}
	})

	t.Run("below the threshold no stack is taken", func(t *testing.T) {
		var buf bytes.Buffer
		l := jsonLogger(t, &buf, Options{Level: slog.LevelInfo, StacktraceLevel: slog.LevelError})
		l.Info(context.Background(), "info msg")
		if _, found := lastRecord(t, &buf)["stack"]; found {
			t.Fatal("stack present on an info record")
		}
	})
}

func TestErrChain(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if chain := errChain(nil); len(chain) != 0 {
			t.Fatalf("errChain(nil) = %v", chain)
		}
	})

	t.Run("single error", func(t *testing.T) {
		chain := errChain(errors.New("no docs bundle loaded"))
		if len(chain) != 1 || chain[0] != "no docs bundle loaded" {
			t.Fatalf("chain = %v", chain)
		}
	})

	t.Run("wrap chain outermost first", func(t *testing.T) {
		chain := errChain(fmt.Errorf("poll ssm: %w", errors.New("throttled")))
		if len(chain) < 2 {
			t.Fatalf("chain = %v, want >= 2 entries", chain)
		}
		if chain[0] != "poll ssm: throttled" || chain[len(chain)-1] != "throttled" {
			t.Fatalf("chain = %v", chain)
		}
	})

	t.Run("no consecutive duplicates", func(t *testing.T) {
		chain := errChain(fmt.Errorf("same"))
		for i := 1; i < len(chain); i++ {
			if chain[i] == chain[i-1] {
				t.Fatalf("duplicate at %d: %q", i, chain[i])
			}
		}
	})

	t.Run("joined errors contribute", func(t *testing.T) {
		joined := errors.Join(errors.New("s3 fetch failed"), errors.New("ssm fetch failed"))
		if chain := errChain(joined); len(chain) == 0 {
			t.Fatal("empty chain for joined errors")
		}
	})
}

type bundleError struct{ msg string }

func (e *bundleError) Error() string { return e.msg }

func TestErrorTypes(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if surface, root := errorTypes(nil); surface != "" || root != "" {
			t.Fatalf("errorTypes(nil) = (%q, %q)", surface, root)
		}
	})

	t.Run("plain error yields both types", func(t *testing.T) {
		surface, root := errorTypes(errors.New("simple"))
		if surface == "" || root == "" {
			t.Fatalf("errorTypes = (%q, %q)", surface, root)
		}
	})

	t.Run("fmt wrapper is skipped", func(t *testing.T) {
		outer := fmt.Errorf("load: %w", &bundleError{msg: "hash mismatch"})
		surface, root := errorTypes(outer)
		if !strings.Contains(surface, "bundleError") {
			t.Fatalf("surface = %q, want bundleError", surface)
		}
		if !strings.Contains(root, "bundleError") {
			t.Fatalf("root = %q, want bundleError", root)
		}
	})
}

func TestErrorLinks(t *testing.T) {
	deepWrap := func(n int) error {
		err := errors.New("base")
		for i := 0; i < n; i++ {
			err = fmt.Errorf("wrap %d: %w", i, err)
		}
		return err
	}

	t.Run("nil", func(t *testing.T) {
		if links := errorLinks(nil, 8); len(links) != 0 {
			t.Fatalf("links = %v", links)
		}
	})

	t.Run("outermost message always present", func(t *testing.T) {
		links := errorLinks(errors.New("single"), 8)
		if len(links) == 0 || links[0]["msg"] != "single" {
			t.Fatalf("links = %v", links)
		}
	})

	t.Run("max bounds the walk", func(t *testing.T) {
		if links := errorLinks(deepWrap(20), 5); len(links) > 5 {
			t.Fatalf("%d links, max is 5", len(links))
		}
	})

	t.Run("zero max means unlimited", func(t *testing.T) {
		if links := errorLinks(deepWrap(5), 0); len(links) == 0 {
			t.Fatal("no links with unlimited max")
		}
	})
}

func TestResolvePC_Zero(t *testing.T) {
	if _, _, _, ok := resolvePC(0); ok {
		t.Fatal("resolvePC(0) reported ok")
	}
}

func TestFirstAppFrame_Empty(t *testing.T) {
	if _, _, _, ok := firstAppFrame(nil); ok {
		t.Fatal("firstAppFrame(nil) reported ok")
	}
}
