// Package protocol encodes and decodes the plain-text lease messages.
//
// Every message is a single datagram of space separated fields. Trailing NUL
// bytes are ignored so fixed-size, zero padded buffers decode cleanly.
package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// MaxMessageLen bounds the receive buffers on both sides.
const MaxMessageLen = 1024

// ErrMalformedMessage is wrapped by every decoding failure.
var ErrMalformedMessage = errors.New("malformed message")

var markers = map[dhcpv4.MessageType]string{
	dhcpv4.MessageTypeDiscover: "DHCPDISCOVER",
	dhcpv4.MessageTypeRequest:  "DHCPREQUEST",
	dhcpv4.MessageTypeAck:      "DHCPACK",
	dhcpv4.MessageTypeNak:      "DHCPNAK",
}

// Offer is the server's proposal for a single exchange.
type Offer struct {
	Address       net.IP
	ServerAddress net.IP
	SubnetMask    net.IPMask
	LeaseTime     time.Duration
}

func fields(payload []byte) []string {
	return strings.Fields(strings.TrimRight(string(payload), "\x00"))
}

// Classify reports the message type named by the leading marker of payload.
// Offers carry no marker and are never classified.
func Classify(payload []byte) (dhcpv4.MessageType, bool) {
	f := fields(payload)
	if len(f) == 0 {
		return 0, false
	}
	for mt, marker := range markers {
		if f[0] == marker {
			return mt, true
		}
	}
	return 0, false
}

// EncodeDiscover returns the Discover payload.
func EncodeDiscover() []byte {
	return []byte(markers[dhcpv4.MessageTypeDiscover])
}

// EncodeOffer renders o as "<offered> <server> <mask> <leaseSeconds>".
func EncodeOffer(o Offer) []byte {
	mask := ""
	if len(o.SubnetMask) > 0 {
		mask = net.IP(o.SubnetMask).String()
	}
	return []byte(fmt.Sprintf("%s %s %s %d",
		o.Address, o.ServerAddress, mask, int64(o.LeaseTime/time.Second)))
}

// ParseOffer decodes an offer. Fields are read in order and decoding stops at
// the first missing or invalid one; the returned Offer always holds every field
// decoded before that point, alongside an error wrapping ErrMalformedMessage.
func ParseOffer(payload []byte) (Offer, error) {
	var o Offer
	f := fields(payload)

	steps := []struct {
		name  string
		apply func(string) bool
	}{
		{"offered address", func(s string) bool {
			o.Address = parseIPv4(s)
			return o.Address != nil
		}},
		{"server address", func(s string) bool {
			o.ServerAddress = parseIPv4(s)
			return o.ServerAddress != nil
		}},
		{"subnet mask", func(s string) bool {
			ip := parseIPv4(s)
			if ip == nil {
				return false
			}
			o.SubnetMask = net.IPMask(ip)
			return true
		}},
		{"lease time", func(s string) bool {
			secs, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				return false
			}
			o.LeaseTime = time.Duration(secs) * time.Second
			return true
		}},
	}

	for i, step := range steps {
		if i >= len(f) {
			return o, fmt.Errorf("%w: offer has %d fields, want %d (missing %s)", ErrMalformedMessage, len(f), len(steps), step.name)
		}
		if !step.apply(f[i]) {
			return o, fmt.Errorf("%w: invalid %s %q", ErrMalformedMessage, step.name, f[i])
		}
	}
	if len(f) > len(steps) {
		return o, fmt.Errorf("%w: offer has %d fields, want %d", ErrMalformedMessage, len(f), len(steps))
	}
	return o, nil
}

// EncodeRequest returns "DHCPREQUEST <addr>". A nil addr yields the bare marker
// followed by a space.
func EncodeRequest(addr net.IP) []byte {
	return encodeWithAddress(dhcpv4.MessageTypeRequest, addr)
}

// ParseRequest returns the address echoed by a Request.
func ParseRequest(payload []byte) (net.IP, error) {
	return parseWithAddress(dhcpv4.MessageTypeRequest, payload)
}

// EncodeAck returns "DHCPACK <addr>".
func EncodeAck(addr net.IP) []byte {
	return encodeWithAddress(dhcpv4.MessageTypeAck, addr)
}

// EncodeNak returns "DHCPNAK <addr>".
func EncodeNak(addr net.IP) []byte {
	return encodeWithAddress(dhcpv4.MessageTypeNak, addr)
}

// IsNak reports whether payload is a well-formed negative acknowledgement.
func IsNak(payload []byte) bool {
	_, err := parseWithAddress(dhcpv4.MessageTypeNak, payload)
	return err == nil
}

func encodeWithAddress(mt dhcpv4.MessageType, addr net.IP) []byte {
	s := ""
	if addr != nil {
		s = addr.String()
	}
	return []byte(markers[mt] + " " + s)
}

func parseWithAddress(mt dhcpv4.MessageType, payload []byte) (net.IP, error) {
	f := fields(payload)
	marker := markers[mt]
	if len(f) == 0 || f[0] != marker {
		return nil, fmt.Errorf("%w: expected %s", ErrMalformedMessage, marker)
	}
	if len(f) != 2 {
		return nil, fmt.Errorf("%w: %s has %d fields, want 2", ErrMalformedMessage, marker, len(f))
	}
	ip := parseIPv4(f[1])
	if ip == nil {
		return nil, fmt.Errorf("%w: invalid address %q in %s", ErrMalformedMessage, f[1], marker)
	}
	return ip, nil
}

func parseIPv4(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	return ip.To4()
}

// KindName returns the wire marker for mt, or "UNKNOWN".
func KindName(mt dhcpv4.MessageType) string {
	if m, ok := markers[mt]; ok {
		return m
	}
	return "UNKNOWN"
}
