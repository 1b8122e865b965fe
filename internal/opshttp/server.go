package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/arothfield/docsite-web/internal/health"
	"github.com/arothfield/docsite-web/internal/httpmw"
	"github.com/arothfield/docsite-web/internal/httpserver"
	"github.com/arothfield/docsite-web/internal/log"
	"github.com/arothfield/docsite-web/internal/xerrors"
)

// newAdminMux wires the operational endpoints: health, metrics, pprof.
// Nothing here is reachable from the public listener.
func newAdminMux(opts Options) *http.ServeMux {
	mux := http.NewServeMux()

	// /healthz and /readyz are what the probes point at; the /-/ spellings
	// mirror the public listener's paths for humans poking around.
	hh := health.HealthzHandler(opts.Health)
	rh := health.ReadyzHandler(opts.Readiness)
	mux.Handle("/healthz", hh)
	mux.Handle("/readyz", rh)
	mux.Handle("/-/healthy", hh)
	mux.Handle("/-/ready", rh)

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		// shadow the default pprof paths so nothing else can claim them
		mux.HandleFunc("/debug/pprof/", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return mux
}

// Start brings up the admin HTTP server and returns stop(ctx) for graceful
// shutdown.
func Start(ctx context.Context, L log.Logger, opts Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 9000
	}
	addr := fmt.Sprintf(":%d", port)

	var handler http.Handler = newAdminMux(opts)
	if opts.UseRecoverMW {
		handler = httpmw.Recover(L, opts.OnPanic)(handler)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: httpserver.DefaultReadHeaderTimeout,
		ReadTimeout:       httpserver.DefaultReadTimeout,
		WriteTimeout:      httpserver.DefaultWriteTimeout,
		IdleTimeout:       httpserver.DefaultIdleTimeout,
		MaxHeaderBytes:    httpserver.DefaultMaxHeaderBytes,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
