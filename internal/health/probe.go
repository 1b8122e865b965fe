package health

import (
	"context"
	"sync/atomic"

	"github.com/arothfield/docsite-web/internal/xerrors"
)

// Probe answers "can this instance serve docs right now". A nil error
// means yes; a non-nil error carries the reason it cannot.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a plain function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed returns a probe with a constant verdict. The failing form is
// what the ops listener serves before the first docs bundle loads.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := xerrors.New(reason)
	return func(context.Context) error { return err }
}

// All passes only when every probe passes, reporting the first failure.
// Nil probes are skipped.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes when at least one probe passes. Every probe still runs, and
// when none passes the last failure (or a generic one) is reported.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		passed := false
		for _, p := range ps {
			if p == nil {
				continue
			}
			err := p.Check(ctx)
			if err == nil {
				passed = true
				continue
			}
			last = err
		}
		switch {
		case passed:
			return nil
		case last != nil:
			return last
		default:
			return xerrors.New("no healthy probes")
		}
	}
}

// ShutdownGate fails readiness while the server drains, so the load
// balancer stops routing doc requests before in-flight ones finish.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

// Set starts failing the gate's probe with the given reason.
func (g *ShutdownGate) Set(reason string) {
	g.draining.Store(true)
	g.reason.Store(reason)
}

// Clear reopens the gate.
func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

// Probe returns the readiness probe backed by this gate.
func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		reason, _ := g.reason.Load().(string)
		if reason == "" {
			reason = "draining"
		}
		return xerrors.New(reason)
	}
}
