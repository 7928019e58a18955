package pool

import (
	"errors"
	"net"
	"reflect"
	"runtime"
	"testing"
)

func newTestPool(t *testing.T, start, end string) *Pool {
	t.Helper()
	p, err := New(net.ParseIP(start), net.ParseIP(end))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		end     string
		wantCap int
		wantErr bool
	}{
		{name: "default range", start: "192.168.1.100", end: "192.168.1.150", wantCap: 51},
		{name: "single address", start: "10.0.0.1", end: "10.0.0.1", wantCap: 1},
		{name: "crosses octet", start: "10.0.0.250", end: "10.0.1.5", wantCap: 12},
		{name: "class A", start: "10.0.0.0", end: "10.255.255.255", wantCap: 1 << 24},
		{name: "reversed", start: "10.0.0.5", end: "10.0.0.1", wantErr: true},
		{name: "ipv6", start: "fe80::1", end: "fe80::2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(net.ParseIP(tt.start), net.ParseIP(tt.end))
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := p.Capacity(); got != tt.wantCap {
				t.Fatalf("Capacity() = %d, want %d", got, tt.wantCap)
			}
			if got := p.Len(); got != 0 {
				t.Fatalf("Len() = %d, want 0", got)
			}
		})
	}
}

func TestNewDoesNotReserveRange(t *testing.T) {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	p, err := New(net.ParseIP("10.0.0.0"), net.ParseIP("10.255.255.255"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	runtime.ReadMemStats(&after)

	if grew := after.TotalAlloc - before.TotalAlloc; grew > 1<<20 {
		t.Fatalf("New() allocated %d bytes for an empty pool", grew)
	}
	if got, err := p.Allocate(); err != nil || got.String() != "10.0.0.0" {
		t.Fatalf("Allocate() = %v, %v, want 10.0.0.0", got, err)
	}
}

func TestAllocateUniqueWithinBounds(t *testing.T) {
	p := newTestPool(t, "192.168.1.100", "192.168.1.150")
	seen := make(map[string]struct{})
	for i := 0; i < p.Capacity(); i++ {
		ip, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate() #%d error = %v", i, err)
		}
		if !p.Contains(ip) {
			t.Fatalf("Allocate() = %s, outside %s-%s", ip, p.Start(), p.End())
		}
		if _, dup := seen[ip.String()]; dup {
			t.Fatalf("Allocate() returned %s twice", ip)
		}
		seen[ip.String()] = struct{}{}
	}

	if _, err := p.Allocate(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Allocate() after %d allocations error = %v, want ErrExhausted", p.Capacity(), err)
	}
	if got := p.Len(); got != 51 {
		t.Fatalf("Len() = %d, want 51", got)
	}
}

func TestAllocateAscending(t *testing.T) {
	p := newTestPool(t, "192.168.1.100", "192.168.1.102")
	want := []string{"192.168.1.100", "192.168.1.101", "192.168.1.102"}
	for _, w := range want {
		ip, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
		if ip.String() != w {
			t.Fatalf("Allocate() = %s, want %s", ip, w)
		}
	}
}

func TestScanDoesNotMutate(t *testing.T) {
	p := newTestPool(t, "192.168.1.100", "192.168.1.150")
	for i := 0; i < 3; i++ {
		ip, err := p.Scan()
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if ip.String() != "192.168.1.100" {
			t.Fatalf("Scan() = %s, want 192.168.1.100", ip)
		}
	}
	if got := p.Len(); got != 0 {
		t.Fatalf("Len() after scans = %d, want 0", got)
	}

	ip, _ := p.Scan()
	if err := p.Commit(ip); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	next, err := p.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if next.String() != "192.168.1.101" {
		t.Fatalf("Scan() after commit = %s, want 192.168.1.101", next)
	}
}

func TestScanSkipsHoles(t *testing.T) {
	p := newTestPool(t, "10.0.0.1", "10.0.0.5")
	for _, s := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.4"} {
		if err := p.Commit(net.ParseIP(s)); err != nil {
			t.Fatalf("Commit(%s) error = %v", s, err)
		}
	}
	ip, err := p.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if ip.String() != "10.0.0.3" {
		t.Fatalf("Scan() = %s, want 10.0.0.3", ip)
	}
}

func TestCommitErrors(t *testing.T) {
	p := newTestPool(t, "10.0.0.1", "10.0.0.2")
	if err := p.Commit(net.ParseIP("10.0.0.9")); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Commit(out of range) error = %v, want ErrOutOfRange", err)
	}
	if err := p.Commit(net.ParseIP("10.0.0.1")); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := p.Commit(net.ParseIP("10.0.0.1")); !errors.Is(err, ErrAllocated) {
		t.Fatalf("Commit(duplicate) error = %v, want ErrAllocated", err)
	}
}

func TestScanExhausted(t *testing.T) {
	p := newTestPool(t, "10.0.0.1", "10.0.0.1")
	if _, err := p.Allocate(); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if _, err := p.Scan(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Scan() error = %v, want ErrExhausted", err)
	}
}

func TestAllocatedSorted(t *testing.T) {
	p := newTestPool(t, "10.0.0.1", "10.0.0.10")
	for _, s := range []string{"10.0.0.7", "10.0.0.2", "10.0.0.5"} {
		if err := p.Commit(net.ParseIP(s)); err != nil {
			t.Fatalf("Commit(%s) error = %v", s, err)
		}
	}
	var got []string
	for _, ip := range p.Allocated() {
		got = append(got, ip.String())
	}
	want := []string{"10.0.0.2", "10.0.0.5", "10.0.0.7"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Allocated() = %v, want %v", got, want)
	}
}
