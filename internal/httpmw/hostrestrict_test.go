package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func namedHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(name))
	})
}

func TestRestrictHosts_UntrustedHostGetsRestrictedHandler(t *testing.T) {
	var restricted bool
	mw := RestrictHosts(HostRestrictOptions{
		Enabled:        true,
		UntrustedHosts: []string{"attachments.example.net"},
		Restricted:     namedHandler("restricted"),
	}, func() { restricted = true })

	req := httptest.NewRequest(http.MethodGet, "/files/1234/img.png", http.NoBody)
	req.Host = "attachments.example.net"
	rec := httptest.NewRecorder()
	mw(namedHandler("full")).ServeHTTP(rec, req)

	if rec.Body.String() != "restricted" {
		t.Fatalf("body = %q, want restricted", rec.Body.String())
	}
	if !restricted {
		t.Fatal("onRestricted not called")
	}
}

func TestRestrictHosts_HostMatchIgnoresPortAndCase(t *testing.T) {
	mw := RestrictHosts(HostRestrictOptions{
		Enabled:        true,
		UntrustedHosts: []string{"attachments.example.net"},
		Restricted:     namedHandler("restricted"),
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Host = "Attachments.Example.NET:8000"
	rec := httptest.NewRecorder()
	mw(namedHandler("full")).ServeHTTP(rec, req)

	if rec.Body.String() != "restricted" {
		t.Fatalf("body = %q, want restricted", rec.Body.String())
	}
}

func TestRestrictHosts_TrustedHostGetsFullHandler(t *testing.T) {
	mw := RestrictHosts(HostRestrictOptions{
		Enabled:        true,
		UntrustedHosts: []string{"attachments.example.net"},
		Restricted:     namedHandler("restricted"),
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Host = "docs.example.net"
	rec := httptest.NewRecorder()
	mw(namedHandler("full")).ServeHTTP(rec, req)

	if rec.Body.String() != "full" {
		t.Fatalf("body = %q, want full", rec.Body.String())
	}
}

func TestRestrictHosts_DisabledIsNoop(t *testing.T) {
	mw := RestrictHosts(HostRestrictOptions{
		Enabled:        false,
		UntrustedHosts: []string{"attachments.example.net"},
		Restricted:     namedHandler("restricted"),
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Host = "attachments.example.net"
	rec := httptest.NewRecorder()
	mw(namedHandler("full")).ServeHTTP(rec, req)

	if rec.Body.String() != "full" {
		t.Fatalf("body = %q, want full", rec.Body.String())
	}
}
