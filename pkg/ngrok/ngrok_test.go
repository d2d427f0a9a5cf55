package ngrok

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublicURL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tunnels" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		// The first poll happens before the tunnel is up
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = w.Write([]byte(`{"tunnels": []}`))
			return
		}
		_, _ = w.Write([]byte(`{"tunnels": [
			{"public_url": "http://other.ngrok.app", "config": {"addr": "http://localhost:9000"}},
			{"public_url": "http://abc.ngrok.app", "config": {"addr": "http://localhost:8000"}},
			{"public_url": "https://abc.ngrok.app", "config": {"addr": "http://localhost:8000"}}
		]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := PublicURL(ctx, srv.URL, "8000")
	if err != nil {
		t.Fatalf("PublicURL() err = %v; want nil", err)
	}
	if got != "https://abc.ngrok.app" {
		t.Fatalf("PublicURL() = %s; want https://abc.ngrok.app", got)
	}
}

func TestPublicURLTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tunnels": []}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := PublicURL(ctx, srv.URL, "8000"); err == nil {
		t.Fatalf("PublicURL() err = nil; want timeout")
	}
}
