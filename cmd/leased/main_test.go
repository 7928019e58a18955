package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name  string
		ready bool
		db    pinger
		want  int
	}{
		{name: "listener not bound", ready: false, want: http.StatusServiceUnavailable},
		{name: "no journal", ready: true, want: http.StatusOK},
		{name: "journal reachable", ready: true, db: stubPinger{}, want: http.StatusOK},
		{name: "journal down", ready: true, db: stubPinger{err: errors.New("connection refused")}, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ready atomic.Bool
			ready.Store(tt.ready)
			rec := httptest.NewRecorder()
			readyHandler(&ready, tt.db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
