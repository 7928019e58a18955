package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"leased/internal/config"
	"leased/internal/lease"
	"leased/internal/pool"
)

const (
	EventOffered = "offered"
	EventBound   = "bound"
)

// Journal persists lease state changes.
type Journal interface {
	Record(ctx context.Context, l lease.Lease) error
}

// Publisher fans lease events out to other services.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Event is published on <subject>.<type> whenever a lease changes state.
type Event struct {
	ID    uuid.UUID   `json:"id"`
	Type  string      `json:"type"`
	Lease lease.Lease `json:"lease"`
	At    time.Time   `json:"at"`
}

type Server struct {
	cfg     config.ServerConfig
	pool    *pool.Pool
	logger  *log.Logger
	metrics *Metrics
	tracer  trace.Tracer

	journal Journal
	events  Publisher
	subject string

	mu     sync.RWMutex
	leases map[string]*lease.Lease

	now func() time.Time
}

type Option func(*Server)
