package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestGateAllowed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer srv.Close()

	g := NewGate("researchd/1.0", srv.Client())
	ctx := context.Background()

	pub, _ := url.Parse(srv.URL + "/public/page")
	if !g.Allowed(ctx, pub) {
		t.Fatal("public path should be allowed")
	}
	priv, _ := url.Parse(srv.URL + "/private/page")
	if g.Allowed(ctx, priv) {
		t.Fatal("private path should be disallowed")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("robots.txt should be fetched once per host, got %d", got)
	}
}

func TestGateFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGate("researchd/1.0", srv.Client())
	u, _ := url.Parse(srv.URL + "/anything")
	if !g.Allowed(context.Background(), u) {
		t.Fatal("robots errors must fail open")
	}
}

func TestGateRejectsRelativeTargets(t *testing.T) {
	g := NewGate("researchd/1.0", nil)
	u, _ := url.Parse("/relative/only")
	if g.Allowed(context.Background(), u) {
		t.Fatal("relative URLs must be rejected")
	}
	if g.Allowed(context.Background(), nil) {
		t.Fatal("nil URL must be rejected")
	}
}
