package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// interfaces satisfied by the xerrors wrappers; checked structurally so
// this package does not import xerrors
type (
	hasPC    interface{ PC() uintptr }
	hasStack interface{ StackPCs() []uintptr }
)

type slogLogger struct {
	h                 slog.Handler
	attrs             []slog.Attr
	includeErrorLinks bool
	maxErrorLinks     int
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = 8
	}

	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		// logfmt for local runs
		h = slog.NewTextHandler(w, hopts)
	}

	// decorate inside-out: span ids first, then stacks on severe records
	h = spanCtxHandler{next: h}
	h = stacktraceHandler{next: h, level: opts.StacktraceLevel}

	return &slogLogger{
		h:                 h,
		attrs:             []slog.Attr{slog.String("app", opts.App)},
		includeErrorLinks: opts.IncludeErrorLinks,
		maxErrorLinks:     opts.MaxErrorLinks,
	}, nil
}

// With returns a child logger; the parent's attrs are copied so loggers
// can be shared across goroutines.
func (s *slogLogger) With(kv ...any) Logger {
	child := *s
	child.attrs = make([]slog.Attr, len(s.attrs), len(s.attrs)+len(kv)/2)
	copy(child.attrs, s.attrs)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			child.attrs = append(child.attrs, slog.Any(k, kv[i+1]))
		}
	}
	return &child
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kv...)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kv...)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kv...)
}

// Error enriches the record with the error itself, its surface and root
// cause types, the message chain, and optionally per-wrap source links.
func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		surface, root := errorTypes(err)
		kv = append(kv,
			"err", err,
			"error_type", surface,
			"cause_type", root,
		)
		if chain := errChain(err); len(chain) > 0 {
			kv = append(kv, "error_chain", chain)
		}
		if s.includeErrorLinks {
			kv = append(kv, "error_links", errorLinks(err, s.maxErrorLinks))
		}
	}
	s.emit(ctx, slog.LevelError, msg, kv...)
}

func (s *slogLogger) Sync() error { return nil }

func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, kv ...any) {
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// 4 = runtime.Callers, callerPC, emit, the Debug/Info/Warn/Error shim
	r := slog.NewRecord(time.Now(), lvl, msg, callerPC(4))
	r.AddAttrs(s.attrs...)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			r.AddAttrs(slog.Any(k, kv[i+1]))
		}
	}
	_ = s.h.Handle(ctx, r)
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

// spanCtxHandler copies the active span context into each record so log
// lines join up with traces.
type spanCtxHandler struct{ next slog.Handler }

func (h spanCtxHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h spanCtxHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

func (h spanCtxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanCtxHandler{next: h.next.WithAttrs(attrs)}
}

func (h spanCtxHandler) WithGroup(name string) slog.Handler {
	return spanCtxHandler{next: h.next.WithGroup(name)}
}

// stacktraceHandler attaches a stack attr to records at or above its
// level, preferring the stack captured where the error was created over
// the stack at the log call.
type stacktraceHandler struct {
	next  slog.Handler
	level slog.Level
}

func (h stacktraceHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h stacktraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		var pcs []uintptr
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "err" {
				if hs, ok := a.Value.Any().(hasStack); ok && hs != nil {
					pcs = hs.StackPCs()
					return false
				}
			}
			return true
		})

		if len(pcs) == 0 {
			pcs = logSiteStack()
		}
		r.AddAttrs(slog.String("stack", renderStack(pcs)))
	}
	return h.next.Handle(ctx, r)
}

func (h stacktraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stacktraceHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h stacktraceHandler) WithGroup(name string) slog.Handler {
	return stacktraceHandler{next: h.next.WithGroup(name), level: h.level}
}

func logSiteStack() []uintptr {
	const maxDepth = 64
	pcs := make([]uintptr, maxDepth)
	// 3 = runtime.Callers, logSiteStack, stacktraceHandler.Handle
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}

// plumbingFrame reports frames that belong to the logging machinery
// rather than application code.
func plumbingFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.")
}

// renderStack formats PCs as func / file:line pairs, trimming leading
// plumbing frames and everything from the runtime down.
func renderStack(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	include := false
	for {
		fr, more := frames.Next()
		if !more || strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !include && !plumbingFrame(fr.Function) {
			include = true
		}
		if include {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
	}
	return strings.TrimSpace(b.String())
}

// errChain collects the distinct messages down the unwrap chain, plus
// the branches of an errors.Join at the top.
func errChain(err error) []string {
	out := make([]string, 0, 8)
	var prev string
	for e := err; e != nil; e = errors.Unwrap(e) {
		if msg := e.Error(); msg != prev {
			out = append(out, msg)
			prev = msg
		}
	}

	type multi interface{ Unwrap() []error }
	if m, ok := any(err).(multi); ok {
		for _, e := range m.Unwrap() {
			if s := e.Error(); s != prev {
				out = append(out, s)
				prev = s
			}
		}
	}
	return out
}

// errorLinks maps each wrap layer to the source position where it was
// added. The outermost message is always included even without one.
func errorLinks(err error, max int) []map[string]any {
	links := make([]map[string]any, 0, 8)
	depth := 0
	for e := err; e != nil && (max <= 0 || depth < max); e = errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		havePos := false

		switch v := any(e).(type) {
		case hasPC:
			// a single wrap-site PC is the most precise position
			if fn, file, line, ok := resolvePC(v.PC()); ok {
				link["func"], link["file"], link["line"] = fn, file, line
				havePos = true
			}
		case hasStack:
			if fn, file, line, ok := firstAppFrame(v.StackPCs()); ok {
				link["func"], link["file"], link["line"] = fn, file, line
				havePos = true
			}
		}
		if depth == 0 || havePos {
			links = append(links, link)
		}
		depth++
	}
	return links
}

func resolvePC(pc uintptr) (fn, file string, line int, ok bool) {
	if pc == 0 {
		return "", "", 0, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function, fr.File, fr.Line, true
}

// firstAppFrame walks a captured stack past the runtime, slog, this
// package, and the xerrors wrappers to the first application frame.
func firstAppFrame(pcs []uintptr) (fn, file string, line int, ok bool) {
	frames := runtime.CallersFrames(pcs)
	for len(pcs) > 0 {
		fr, more := frames.Next()
		internal := strings.HasPrefix(fr.Function, "runtime.") ||
			plumbingFrame(fr.Function) ||
			strings.Contains(fr.Function, "/internal/xerrors.")
		if !internal {
			return fr.Function, fr.File, fr.Line, true
		}
		if !more {
			break
		}
	}
	return "", "", 0, false
}

// errorTypes reports the outermost non-wrapper type in the chain and
// the type of the root cause.
func errorTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		if t == nil {
			continue
		}
		u := t
		for u.Kind() == reflect.Ptr {
			u = u.Elem()
		}
		// our own wrappers and fmt.Errorf wrappers are not interesting types
		if strings.Contains(u.PkgPath(), "/internal/xerrors") {
			continue
		}
		if u.PkgPath() == "fmt" && u.Name() == "wrapError" {
			continue
		}
		surface = t.String()
		break
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}

	var last error
	for e := err; e != nil; e = errors.Unwrap(e) {
		last = e
	}
	if last != nil {
		root = fmt.Sprintf("%T", last)
	}
	return surface, root
}
