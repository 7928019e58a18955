package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"leased/internal/config"
	"leased/internal/lease"
	"leased/internal/pool"
	"leased/internal/protocol"
	"leased/internal/transport"
	"leased/pkg/telemetry"
)

const sideEffectTimeout = 2 * time.Second

// NewServer returns a Server answering from cfg and allocating from p.
func NewServer(cfg config.ServerConfig, p *pool.Pool, logger *log.Logger, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, errors.New("address pool is required")
	}
	if cfg.ServerIP.To4() == nil {
		return nil, fmt.Errorf("server address %v is not IPv4", cfg.ServerIP)
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		cfg:    cfg,
		pool:   p,
		logger: logger,
		tracer: telemetry.Tracer("leased/server"),
		leases: make(map[string]*lease.Lease),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.metrics.capacity.Set(float64(p.Capacity()))
	s.metrics.allocated.Set(float64(p.Len()))
	return s, nil
}

// WithMetrics replaces the server's unregistered metrics with m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithJournal records every offered and bound lease in j.
func WithJournal(j Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithPublisher publishes lease events to p under subject.
func WithPublisher(p Publisher, subject string) Option {
	return func(s *Server) {
		s.events = p
		s.subject = subject
	}
}

// Restore re-marks previously journaled leases so they are never handed out
// again after a restart. Rows outside the pool range, for an address already
// committed, or for a peer that already holds a lease are skipped with a WARN.
// It returns the number of leases restored.
func (s *Server) Restore(leases []lease.Lease) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for _, l := range leases {
		if held, ok := s.leases[l.Client]; ok {
			s.logger.Printf("WARN skipping journaled lease %s: %s already holds %s", l.Address, l.Client, held.Address)
			continue
		}
		if err := s.pool.Commit(l.Address); err != nil {
			s.logger.Printf("WARN skipping journaled lease %s for %s: %v", l.Address, l.Client, err)
			continue
		}
		rec := l
		s.leases[l.Client] = &rec
		restored++
	}
	s.metrics.allocated.Set(float64(s.pool.Len()))
	return restored
}

// Run binds the configured UDP listener and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, ready *atomic.Bool) error {
	conn, err := transport.Listen(ctx, s.cfg.ListenAddress, true)
	if err != nil {
		return err
	}
	if ready != nil {
		ready.Store(true)
	}
	s.logger.Printf("INFO lease server listening on %s (pool %s-%s)", conn.LocalAddr(), s.pool.Start(), s.pool.End())
	return s.Serve(ctx, conn)
}

// Serve processes datagrams from conn one at a time. Transport errors are
// logged and the loop continues; it returns once ctx is done or conn is closed.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, protocol.MaxMessageLen)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Printf("ERROR receive: %v", err)
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.handle(ctx, conn, peer, payload)
	}
}

func (s *Server) handle(ctx context.Context, conn net.PacketConn, peer net.Addr, payload []byte) {
	mt, ok := protocol.Classify(payload)
	if !ok {
		s.metrics.messages.WithLabelValues("unknown").Inc()
		s.logger.Printf("WARN ignoring unrecognised message from %s", peer)
		return
	}
	s.metrics.messages.WithLabelValues(protocol.KindName(mt)).Inc()

	switch mt {
	case dhcpv4.MessageTypeDiscover:
		s.discover(ctx, conn, peer)
	case dhcpv4.MessageTypeRequest:
		s.request(ctx, conn, peer, payload)
	default:
		s.logger.Printf("WARN ignoring %s from %s", protocol.KindName(mt), peer)
	}
}

func (s *Server) discover(ctx context.Context, conn net.PacketConn, peer net.Addr) {
	ctx, span := s.tracer.Start(ctx, "lease.discover", trace.WithAttributes(attribute.String("peer", peer.String())))
	defer span.End()

	s.logger.Printf("INFO discover received from %s", peer)

	l, created, err := s.assign(peer.String())
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, pool.ErrExhausted) {
			s.metrics.exhausted.Inc()
			s.logger.Printf("WARN no available lease for %s", peer)
			return
		}
		s.logger.Printf("ERROR assign lease for %s: %v", peer, err)
		return
	}
	span.SetAttributes(attribute.String("lease.address", l.Address.String()))

	if created {
		s.record(ctx, l, EventOffered)
	}

	offer := protocol.Offer{
		Address:       l.Address,
		ServerAddress: s.cfg.ServerIP,
		SubnetMask:    s.cfg.SubnetMask,
		LeaseTime:     l.LeaseTime,
	}
	if s.reply(conn, peer, protocol.EncodeOffer(offer), "DHCPOFFER") {
		s.logger.Printf("INFO offer %s sent to %s", l.Address, peer)
	}
}

func (s *Server) request(ctx context.Context, conn net.PacketConn, peer net.Addr, payload []byte) {
	ctx, span := s.tracer.Start(ctx, "lease.request", trace.WithAttributes(attribute.String("peer", peer.String())))
	defer span.End()

	requested, err := protocol.ParseRequest(payload)
	if err != nil {
		span.RecordError(err)
		s.logger.Printf("WARN request from %s: %v", peer, err)
		return
	}
	span.SetAttributes(attribute.String("lease.address", requested.String()))

	l, newlyBound, ok := s.bind(peer.String(), requested)
	if !ok {
		s.logger.Printf("WARN %s requested %s which was not offered to it", peer, requested)
		s.reply(conn, peer, protocol.EncodeNak(requested), "DHCPNAK")
		return
	}

	if newlyBound {
		s.record(ctx, l, EventBound)
	}
	if s.reply(conn, peer, protocol.EncodeAck(l.Address), "DHCPACK") {
		s.logger.Printf("INFO lease %s bound to %s", l.Address, peer)
	}
}

// assign returns the lease already offered to client or allocates a new one.
func (s *Server) assign(client string) (lease.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[client]; ok {
		return *l, false, nil
	}

	ip, err := s.pool.Allocate()
	if err != nil {
		return lease.Lease{}, false, err
	}
	l := &lease.Lease{
		ID:        uuid.New(),
		Address:   ip,
		Client:    client,
		State:     lease.StateOffered,
		LeaseTime: s.cfg.LeaseTime,
		OfferedAt: s.now().UTC(),
	}
	s.leases[client] = l
	s.metrics.allocated.Set(float64(s.pool.Len()))
	return *l, true, nil
}

// bind moves the lease offered to client into the bound state if it matches
// the requested address.
func (s *Server) bind(client string, requested net.IP) (lease.Lease, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[client]
	if !ok || !l.Address.Equal(requested) {
		return lease.Lease{}, false, false
	}
	if l.State == lease.StateBound {
		return *l, false, true
	}
	now := s.now().UTC()
	l.State = lease.StateBound
	l.BoundAt = &now
	return *l, true, true
}

func (s *Server) reply(conn net.PacketConn, peer net.Addr, payload []byte, kind string) bool {
	if _, err := conn.WriteTo(payload, peer); err != nil {
		s.logger.Printf("ERROR send %s to %s: %v", kind, peer, err)
		return false
	}
	s.metrics.replies.WithLabelValues(kind).Inc()
	return true
}

func (s *Server) record(ctx context.Context, l lease.Lease, eventType string) {
	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	if s.journal != nil {
		if err := s.journal.Record(ctx, l); err != nil {
			s.logger.Printf("ERROR journal lease %s: %v", l.Address, err)
		}
	}
	if s.events != nil {
		evt := Event{ID: uuid.New(), Type: eventType, Lease: l, At: s.now().UTC()}
		if err := s.events.Publish(ctx, s.subject+"."+eventType, evt); err != nil {
			s.logger.Printf("ERROR publish %s event for %s: %v", eventType, l.Address, err)
		}
	}
}

// Leases returns a copy of every lease the server knows about, ordered by address.
func (s *Server) Leases() []lease.Lease {
	s.mu.RLock()
	out := make([]lease.Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, *l)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytesLess(out[i].Address.To4(), out[j].Address.To4())
	})
	return out
}

func bytesLess(a, b net.IP) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
