package transport

import (
	"context"
	"testing"
	"time"
)

func TestListenLoopback(t *testing.T) {
	tests := []struct {
		name  string
		reuse bool
	}{
		{name: "plain", reuse: false},
		{name: "reuse addr", reuse: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := Listen(context.Background(), "127.0.0.1:0", tt.reuse)
			if err != nil {
				t.Fatalf("Listen() error = %v", err)
			}
			defer conn.Close()

			peer, err := ResolvePeer(conn.LocalAddr().String())
			if err != nil {
				t.Fatalf("ResolvePeer() error = %v", err)
			}
			if _, err := conn.WriteTo([]byte("ping"), peer); err != nil {
				t.Fatalf("WriteTo() error = %v", err)
			}
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			buf := make([]byte, 16)
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				t.Fatalf("ReadFrom() error = %v", err)
			}
			if string(buf[:n]) != "ping" {
				t.Fatalf("ReadFrom() = %q, want ping", buf[:n])
			}
		})
	}
}

func TestListenRequiresAddress(t *testing.T) {
	if _, err := Listen(context.Background(), "", false); err == nil {
		t.Fatal("Listen(\"\") error = nil")
	}
}

func TestResolvePeerInvalid(t *testing.T) {
	if _, err := ResolvePeer("127.0.0.1"); err == nil {
		t.Fatal("ResolvePeer() without port error = nil")
	}
}
