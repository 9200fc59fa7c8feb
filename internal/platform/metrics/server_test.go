package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestRouterHealthzReturnsOkWhenHealthyIsNil(t *testing.T) {
	r := Router(nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("got status %d, want 200", w.Code)
	}
}

func TestRouterHealthzReturnsServiceUnavailableOnError(t *testing.T) {
	r := Router(func() error { return errors.New("db unreachable") })
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 503 {
		t.Errorf("got status %d, want 503", w.Code)
	}
}

func TestRouterHealthzReturnsOkWhenHealthyPasses(t *testing.T) {
	r := Router(func() error { return nil })
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("got status %d, want 200", w.Code)
	}
}

func TestRouterExposesMetricsEndpoint(t *testing.T) {
	r := Router(nil)
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("got status %d, want 200", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Error("expected non-empty metrics body")
	}
}
