// Package lease holds the server-side record of an address handed to a peer.
package lease

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// State is the progress of a lease through the handshake.
type State string

const (
	StateOffered State = "offered"
	StateBound   State = "bound"
)

// Lease binds an allocated address to the peer endpoint it was offered to.
// LeaseTime is advertised to the client but never enforced.
type Lease struct {
	ID        uuid.UUID     `json:"id"`
	Address   net.IP        `json:"address"`
	Client    string        `json:"client"`
	State     State         `json:"state"`
	LeaseTime time.Duration `json:"lease_time"`
	OfferedAt time.Time     `json:"offered_at"`
	BoundAt   *time.Time    `json:"bound_at,omitempty"`
}
