// Package pool hands out unique IPv4 addresses from a fixed, contiguous range.
package pool

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
)

var (
	// ErrExhausted is returned when every address in the range is allocated.
	ErrExhausted = errors.New("address pool exhausted")
	// ErrOutOfRange is returned when committing an address outside the range.
	ErrOutOfRange = errors.New("address outside pool range")
	// ErrAllocated is returned when committing an address that is already taken.
	ErrAllocated = errors.New("address already allocated")
)

// Pool tracks which addresses of [start, end] have been handed out.
// Addresses are never released for the lifetime of the Pool.
type Pool struct {
	mu        sync.RWMutex
	start     net.IP
	end       net.IP
	allocated map[uint32]struct{}
}

// New returns an empty pool covering start through end inclusive.
func New(start, end net.IP) (*Pool, error) {
	s, e := start.To4(), end.To4()
	if s == nil || e == nil {
		return nil, fmt.Errorf("pool range must be IPv4: %v-%v", start, end)
	}
	if compareIP(s, e) > 0 {
		return nil, fmt.Errorf("pool range start %s is after end %s", s, e)
	}
	return &Pool{
		start:     cloneIP(s),
		end:       cloneIP(e),
		allocated: make(map[uint32]struct{}),
	}, nil
}

// Start returns the first address of the range.
func (p *Pool) Start() net.IP { return cloneIP(p.start) }

// End returns the last address of the range.
func (p *Pool) End() net.IP { return cloneIP(p.end) }

// Capacity is the number of addresses in the range.
func (p *Pool) Capacity() int {
	return int(toUint32(p.end)-toUint32(p.start)) + 1
}

// Len is the number of allocated addresses.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.allocated)
}

// Contains reports whether ip lies inside the range.
func (p *Pool) Contains(ip net.IP) bool {
	if ip.To4() == nil {
		return false
	}
	return compareIP(ip, p.start) >= 0 && compareIP(ip, p.end) <= 0
}

// IsAllocated reports whether ip has been committed.
func (p *Pool) IsAllocated(ip net.IP) bool {
	if ip.To4() == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.allocated[toUint32(ip)]
	return ok
}

// Scan returns the lowest free address without reserving it.
func (p *Pool) Scan() (net.IP, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scanLocked()
}

func (p *Pool) scanLocked() (net.IP, error) {
	for ip := cloneIP(p.start); compareIP(ip, p.end) <= 0; ip = incrementIP(ip) {
		if _, taken := p.allocated[toUint32(ip)]; !taken {
			return ip, nil
		}
		// 255.255.255.255 wraps to 0.0.0.0 on increment.
		if compareIP(ip, p.end) == 0 {
			break
		}
	}
	return nil, ErrExhausted
}

// Commit marks ip as allocated.
func (p *Pool) Commit(ip net.IP) error {
	if !p.Contains(ip) {
		return fmt.Errorf("commit %s: %w", ip, ErrOutOfRange)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	k := toUint32(ip)
	if _, taken := p.allocated[k]; taken {
		return fmt.Errorf("commit %s: %w", ip, ErrAllocated)
	}
	p.allocated[k] = struct{}{}
	return nil
}

// Allocate scans for the lowest free address and commits it atomically.
func (p *Pool) Allocate() (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ip, err := p.scanLocked()
	if err != nil {
		return nil, err
	}
	p.allocated[toUint32(ip)] = struct{}{}
	return ip, nil
}

// Allocated returns the committed addresses in ascending order.
func (p *Pool) Allocated() []net.IP {
	p.mu.RLock()
	keys := make([]uint32, 0, len(p.allocated))
	for k := range p.allocated {
		keys = append(keys, k)
	}
	p.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]net.IP, len(keys))
	for i, k := range keys {
		out[i] = net.IPv4(byte(k>>24), byte(k>>16), byte(k>>8), byte(k)).To4()
	}
	return out
}
