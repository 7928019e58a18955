package protocol

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

func TestClassify(t *testing.T) {
	padded := make([]byte, 256)
	copy(padded, "DHCPDISCOVER")

	tests := []struct {
		name    string
		payload []byte
		want    dhcpv4.MessageType
		wantOK  bool
	}{
		{name: "discover", payload: EncodeDiscover(), want: dhcpv4.MessageTypeDiscover, wantOK: true},
		{name: "nul padded discover", payload: padded, want: dhcpv4.MessageTypeDiscover, wantOK: true},
		{name: "request", payload: []byte("DHCPREQUEST 192.168.1.100"), want: dhcpv4.MessageTypeRequest, wantOK: true},
		{name: "ack", payload: EncodeAck(net.ParseIP("10.0.0.1")), want: dhcpv4.MessageTypeAck, wantOK: true},
		{name: "offer has no marker", payload: []byte("192.168.1.100 192.168.1.2 255.255.255.0 3600")},
		{name: "empty", payload: nil},
		{name: "lowercase marker", payload: []byte("dhcpdiscover")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.payload)
			if ok != tt.wantOK {
				t.Fatalf("Classify() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeOffer(t *testing.T) {
	o := Offer{
		Address:       net.ParseIP("192.168.1.100"),
		ServerAddress: net.ParseIP("192.168.1.2"),
		SubnetMask:    net.CIDRMask(24, 32),
		LeaseTime:     time.Hour,
	}
	want := "192.168.1.100 192.168.1.2 255.255.255.0 3600"
	if got := string(EncodeOffer(o)); got != want {
		t.Fatalf("EncodeOffer() = %q, want %q", got, want)
	}
}

func TestParseOffer(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantAddress string
		wantServer  string
		wantMask    string
		wantLease   time.Duration
		wantErr     bool
	}{
		{
			name:        "complete",
			payload:     "192.168.1.100 192.168.1.2 255.255.255.0 3600",
			wantAddress: "192.168.1.100",
			wantServer:  "192.168.1.2",
			wantMask:    "ffffff00",
			wantLease:   time.Hour,
		},
		{
			name:        "address only",
			payload:     "192.168.1.100",
			wantAddress: "192.168.1.100",
			wantErr:     true,
		},
		{
			name:        "missing lease",
			payload:     "192.168.1.100 192.168.1.2 255.255.255.0",
			wantAddress: "192.168.1.100",
			wantServer:  "192.168.1.2",
			wantMask:    "ffffff00",
			wantErr:     true,
		},
		{
			name:        "bad lease",
			payload:     "192.168.1.100 192.168.1.2 255.255.255.0 soon",
			wantAddress: "192.168.1.100",
			wantServer:  "192.168.1.2",
			wantMask:    "ffffff00",
			wantErr:     true,
		},
		{
			name:    "garbage",
			payload: "hello",
			wantErr: true,
		},
		{
			name:    "empty",
			payload: "",
			wantErr: true,
		},
		{
			name:        "extra field",
			payload:     "192.168.1.100 192.168.1.2 255.255.255.0 3600 extra",
			wantAddress: "192.168.1.100",
			wantServer:  "192.168.1.2",
			wantMask:    "ffffff00",
			wantLease:   time.Hour,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOffer([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOffer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("ParseOffer() error = %v, want ErrMalformedMessage", err)
			}
			if s := ipString(got.Address); s != tt.wantAddress {
				t.Fatalf("Address = %q, want %q", s, tt.wantAddress)
			}
			if s := ipString(got.ServerAddress); s != tt.wantServer {
				t.Fatalf("ServerAddress = %q, want %q", s, tt.wantServer)
			}
			if s := maskString(got.SubnetMask); s != tt.wantMask {
				t.Fatalf("SubnetMask = %q, want %q", s, tt.wantMask)
			}
			if got.LeaseTime != tt.wantLease {
				t.Fatalf("LeaseTime = %v, want %v", got.LeaseTime, tt.wantLease)
			}
		})
	}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func maskString(m net.IPMask) string {
	if len(m) == 0 {
		return ""
	}
	return m.String()
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "valid", payload: "DHCPREQUEST 192.168.1.100", want: "192.168.1.100"},
		{name: "nul padded", payload: "DHCPREQUEST 192.168.1.100\x00\x00\x00", want: "192.168.1.100"},
		{name: "missing address", payload: "DHCPREQUEST ", wantErr: true},
		{name: "wrong marker", payload: "DHCPACK 192.168.1.100", wantErr: true},
		{name: "bad address", payload: "DHCPREQUEST 300.1.1.1", wantErr: true},
		{name: "ipv6", payload: "DHCPREQUEST fe80::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Fatalf("ParseRequest() error = %v, want ErrMalformedMessage", err)
				}
				return
			}
			if got.String() != tt.want {
				t.Fatalf("ParseRequest() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	ip := net.ParseIP("192.168.1.100")
	payload := EncodeRequest(ip)
	if string(payload) != "DHCPREQUEST 192.168.1.100" {
		t.Fatalf("EncodeRequest() = %q", payload)
	}
	got, err := ParseRequest(payload)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if !got.Equal(ip) {
		t.Fatalf("ParseRequest() = %s, want %s", got, ip)
	}
}

func TestIsNak(t *testing.T) {
	if !IsNak(EncodeNak(net.ParseIP("10.0.0.1"))) {
		t.Fatal("IsNak(EncodeNak()) = false")
	}
	if IsNak(EncodeAck(net.ParseIP("10.0.0.1"))) {
		t.Fatal("IsNak(EncodeAck()) = true")
	}
	if IsNak([]byte("anything")) {
		t.Fatal("IsNak(anything) = true")
	}
}
