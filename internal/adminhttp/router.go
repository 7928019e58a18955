// Package adminhttp exposes read-only views of the pool and lease table.
package adminhttp

import (
	"encoding/json"
	"log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"leased/internal/lease"
)

// PoolView is the subset of the address pool the admin API reads.
type PoolView interface {
	Start() net.IP
	End() net.IP
	Capacity() int
	Allocated() []net.IP
}

// LeaseLister returns the server's current lease table.
type LeaseLister interface {
	Leases() []lease.Lease
}

type poolResponse struct {
	RangeStart string   `json:"range_start"`
	RangeEnd   string   `json:"range_end"`
	Capacity   int      `json:"capacity"`
	Free       int      `json:"free"`
	Allocated  []string `json:"allocated"`
}

// NewRouter mounts GET /v1/pool, GET /v1/leases and GET /v1/leases/{address}.
func NewRouter(p PoolView, leases LeaseLister, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	r := chi.NewRouter()

	r.Get("/v1/pool", func(w http.ResponseWriter, req *http.Request) {
		allocated := p.Allocated()
		resp := poolResponse{
			RangeStart: p.Start().String(),
			RangeEnd:   p.End().String(),
			Capacity:   p.Capacity(),
			Free:       p.Capacity() - len(allocated),
			Allocated:  make([]string, 0, len(allocated)),
		}
		for _, ip := range allocated {
			resp.Allocated = append(resp.Allocated, ip.String())
		}
		writeJSON(w, logger, http.StatusOK, resp)
	})

	r.Get("/v1/leases", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, logger, http.StatusOK, leases.Leases())
	})

	r.Get("/v1/leases/{address}", func(w http.ResponseWriter, req *http.Request) {
		ip := net.ParseIP(chi.URLParam(req, "address"))
		if ip == nil || ip.To4() == nil {
			http.Error(w, "invalid IPv4 address", http.StatusBadRequest)
			return
		}
		for _, l := range leases.Leases() {
			if l.Address.Equal(ip) {
				writeJSON(w, logger, http.StatusOK, l)
				return
			}
		}
		http.Error(w, "lease not found", http.StatusNotFound)
	})

	return r
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("ERROR encode admin response: %v", err)
	}
}
