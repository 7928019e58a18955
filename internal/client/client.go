// Package client drives the client side of the lease handshake.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"leased/internal/config"
	"leased/internal/protocol"
	"leased/internal/transport"
)

var (
	// ErrNoServerResponse is returned when no offer arrives after every Discover attempt.
	ErrNoServerResponse = errors.New("no response from lease server")
	// ErrLeaseTimeout is returned when no acknowledgement arrives after every Request attempt.
	ErrLeaseTimeout = errors.New("lease acknowledgement timed out")
	// ErrDeclined is returned when the server answers the Request with a NAK.
	ErrDeclined = errors.New("lease request declined by server")
)

const (
	defaultTimeout      = 2 * time.Second
	defaultRetryBackoff = 250 * time.Millisecond
)

type State int32

const (
	StateInit State = iota
	StateAwaitingOffer
	StateHaveOffer
	StateAwaitingAck
	StateLeased
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateHaveOffer:
		return "have-offer"
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateLeased:
		return "leased"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client runs a single Discover/Offer/Request/Ack exchange. A Client is not
// reusable once Acquire has been called.
type Client struct {
	cfg    config.ClientConfig
	conn   net.PacketConn
	server net.Addr
	logger *log.Logger

	state atomic.Int32
	offer protocol.Offer
}

// New returns a client in StateInit that talks to server over conn.
// Zero retry settings in cfg fall back to the package defaults.
func New(conn net.PacketConn, server net.Addr, cfg config.ClientConfig, logger *log.Logger) (*Client, error) {
	if conn == nil {
		return nil, errors.New("connection is required")
	}
	if server == nil {
		return nil, errors.New("server address is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Client{cfg: cfg, conn: conn, server: server, logger: logger}, nil
}

// Dial binds the configured local address and targets the configured server.
// The caller owns the returned client and must Close it.
func Dial(ctx context.Context, cfg config.ClientConfig, logger *log.Logger) (*Client, error) {
	server, err := transport.ResolvePeer(cfg.ServerAddress)
	if err != nil {
		return nil, err
	}
	conn, err := transport.Listen(ctx, cfg.ListenAddress, true)
	if err != nil {
		return nil, err
	}
	c, err := New(conn, server, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// State returns the current handshake state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// Acquire performs the full handshake and returns the acknowledged offer.
//
// Any reply to the Request other than DHCPNAK completes the lease, with one
// exception: a reply that parses as a complete offer is treated as a late
// duplicate of an earlier Discover and skipped. A server that answers the
// Request with another offer therefore ends in ErrLeaseTimeout.
func (c *Client) Acquire(ctx context.Context) (protocol.Offer, error) {
	if c.State() != StateInit {
		return protocol.Offer{}, fmt.Errorf("session already in state %s", c.State())
	}

	c.setState(StateAwaitingOffer)
	reply, err := c.exchange(ctx, protocol.EncodeDiscover(), "DHCPDISCOVER", ErrNoServerResponse, nil)
	if err != nil {
		return protocol.Offer{}, err
	}

	offer, err := protocol.ParseOffer(reply)
	if err != nil {
		if c.cfg.Strict {
			return protocol.Offer{}, fmt.Errorf("offer from %s: %w", c.server, err)
		}
		c.logger.Printf("WARN offer from %s: %v; continuing with partial offer", c.server, err)
	}
	c.offer = offer
	c.setState(StateHaveOffer)
	c.logger.Printf("INFO offer received: address %s, mask %s, server %s, lease %s",
		offer.Address, maskString(offer.SubnetMask), offer.ServerAddress, offer.LeaseTime)

	c.setState(StateAwaitingAck)
	reply, err = c.exchange(ctx, protocol.EncodeRequest(offer.Address), "DHCPREQUEST", ErrLeaseTimeout, isLateOffer)
	if err != nil {
		return protocol.Offer{}, err
	}
	if protocol.IsNak(reply) {
		return protocol.Offer{}, fmt.Errorf("%w: %s", ErrDeclined, offer.Address)
	}

	c.setState(StateLeased)
	c.logger.Printf("INFO address %s confirmed by server %s", offer.Address, c.server)
	return offer, nil
}

// Offer returns the most recently received offer.
func (c *Client) Offer() protocol.Offer {
	return c.offer
}

// exchange sends payload and waits for one reply, retransmitting on timeout
// up to the configured number of attempts. Datagrams for which skip returns
// true are discarded without ending the wait.
func (c *Client) exchange(ctx context.Context, payload []byte, name string, timeoutErr error, skip func([]byte) bool) ([]byte, error) {
	var (
		reply    []byte
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(c.cfg.Attempts-1), retry.NewConstant(c.cfg.RetryBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if _, err := c.conn.WriteTo(payload, c.server); err != nil {
			return fmt.Errorf("send %s to %s: %w", name, c.server, err)
		}
		c.logger.Printf("INFO %s sent to %s (attempt %d/%d)", name, c.server, attempts, c.cfg.Attempts)

		data, err := c.receive(ctx, skip)
		if err != nil {
			if isTimeout(err) {
				return retry.RetryableError(err)
			}
			return fmt.Errorf("receive reply to %s: %w", name, err)
		}
		reply = data
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: no reply to %s from %s after %d attempts", timeoutErr, name, c.server, attempts)
		}
		return nil, err
	}
	return reply, nil
}

func (c *Client) receive(ctx context.Context, skip func([]byte) bool) ([]byte, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	buf := make([]byte, protocol.MaxMessageLen)
	for {
		n, from, err := c.conn.ReadFrom(buf)
		if err != nil {
			return nil, err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if skip != nil && skip(data) {
			c.logger.Printf("DEBUG discarding stale datagram from %s", from)
			continue
		}
		return data, nil
	}
}

// isLateOffer matches a well-formed offer arriving while an acknowledgement is
// expected, which happens when a retransmitted Discover was answered twice.
func isLateOffer(payload []byte) bool {
	_, err := protocol.ParseOffer(payload)
	return err == nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func maskString(m net.IPMask) string {
	if len(m) == 0 {
		return ""
	}
	return net.IP(m).String()
}
