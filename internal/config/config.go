package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigFile = "LEASED_CONFIG_FILE"

	envServerListen  = "LEASED_SERVER_LISTEN"
	envServerIP      = "LEASED_SERVER_IP"
	envSubnetMask    = "LEASED_SUBNET_MASK"
	envRangeStart    = "LEASED_RANGE_START"
	envRangeEnd      = "LEASED_RANGE_END"
	envLeaseSeconds  = "LEASED_LEASE_SECONDS"
	envClientServer  = "LEASED_CLIENT_SERVER"
	envClientListen  = "LEASED_CLIENT_LISTEN"
	envClientTimeout = "LEASED_CLIENT_TIMEOUT"
	envClientTries   = "LEASED_CLIENT_ATTEMPTS"
	envClientBackoff = "LEASED_CLIENT_RETRY_BACKOFF"
	envClientStrict  = "LEASED_CLIENT_STRICT"
	envHTTPEnabled   = "LEASED_HTTP_ENABLED"
	envHTTPPort      = "LEASED_HTTP_PORT"
	envNATSURL       = "LEASED_NATS_URL"
	envNATSSubject   = "LEASED_NATS_SUBJECT"
	envNATSStream    = "LEASED_NATS_STREAM"
	envDatabaseDSN   = "LEASED_DATABASE_DSN"
)

// Load builds the configuration from LEASED_* environment variables layered
// over the optional YAML file named by LEASED_CONFIG_FILE.
func Load() (Config, error) {
	src, err := newSource(os.Getenv(envConfigFile))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{}

	cfg.Server.ListenAddress = src.get(envServerListen, ":67")
	if err := validateListenAddress(cfg.Server.ListenAddress); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envServerListen, err)
	}
	if cfg.Server.ServerIP, err = src.ipv4(envServerIP, "192.168.1.2"); err != nil {
		return Config{}, err
	}
	mask, err := src.ipv4(envSubnetMask, "255.255.255.0")
	if err != nil {
		return Config{}, err
	}
	cfg.Server.SubnetMask = net.IPMask(mask)
	if ones, bits := cfg.Server.SubnetMask.Size(); ones == 0 && bits == 0 {
		return Config{}, fmt.Errorf("invalid %s: %s is not a contiguous mask", envSubnetMask, mask)
	}
	if cfg.Server.RangeStart, err = src.ipv4(envRangeStart, "192.168.1.100"); err != nil {
		return Config{}, err
	}
	if cfg.Server.RangeEnd, err = src.ipv4(envRangeEnd, "192.168.1.150"); err != nil {
		return Config{}, err
	}
	if bytesCompare(cfg.Server.RangeStart, cfg.Server.RangeEnd) > 0 {
		return Config{}, fmt.Errorf("%s must be <= %s", envRangeStart, envRangeEnd)
	}
	secs, err := src.positiveInt(envLeaseSeconds, 3600)
	if err != nil {
		return Config{}, err
	}
	cfg.Server.LeaseTime = time.Duration(secs) * time.Second

	cfg.Client.ServerAddress = src.get(envClientServer, "192.168.1.2:67")
	if _, _, err := net.SplitHostPort(cfg.Client.ServerAddress); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envClientServer, err)
	}
	cfg.Client.ListenAddress = src.get(envClientListen, ":5000")
	if err := validateListenAddress(cfg.Client.ListenAddress); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envClientListen, err)
	}
	if cfg.Client.Timeout, err = src.duration(envClientTimeout, 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Client.Attempts, err = src.positiveInt(envClientTries, 3); err != nil {
		return Config{}, err
	}
	if cfg.Client.RetryBackoff, err = src.duration(envClientBackoff, 250*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.Client.Strict, err = src.boolean(envClientStrict, true); err != nil {
		return Config{}, err
	}

	if cfg.HTTP.Enabled, err = src.boolean(envHTTPEnabled, true); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.Port, err = src.positiveInt(envHTTPPort, 8080); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.Port > 65535 {
		return Config{}, fmt.Errorf("invalid %s: port %d is outside the valid range 1-65535", envHTTPPort, cfg.HTTP.Port)
	}

	cfg.Bus.URL = src.get(envNATSURL, "")
	cfg.Bus.Subject = src.get(envNATSSubject, "leased.leases")
	cfg.Bus.Stream = src.get(envNATSStream, "LEASES")
	cfg.DB.DSN = src.get(envDatabaseDSN, "")

	return cfg, nil
}

type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	src := &source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", envConfigFile, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range map[string]string{
		envServerListen:  fc.Server.Listen,
		envServerIP:      fc.Server.ServerIP,
		envSubnetMask:    fc.Server.SubnetMask,
		envRangeStart:    fc.Server.RangeStart,
		envRangeEnd:      fc.Server.RangeEnd,
		envLeaseSeconds:  fc.Server.LeaseSeconds,
		envClientServer:  fc.Client.Server,
		envClientListen:  fc.Client.Listen,
		envClientTimeout: fc.Client.Timeout,
		envClientTries:   fc.Client.Attempts,
		envClientBackoff: fc.Client.RetryBackoff,
		envClientStrict:  fc.Client.Strict,
		envHTTPEnabled:   fc.HTTP.Enabled,
		envHTTPPort:      fc.HTTP.Port,
		envNATSURL:       fc.NATS.URL,
		envNATSSubject:   fc.NATS.Subject,
		envNATSStream:    fc.NATS.Stream,
		envDatabaseDSN:   fc.Database.DSN,
	} {
		if v = strings.TrimSpace(v); v != "" {
			src.file[k] = v
		}
	}
	return src, nil
}

func (s *source) get(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if v, ok := s.file[key]; ok {
		return v
	}
	return def
}

func (s *source) ipv4(key, def string) (net.IP, error) {
	v := s.get(key, def)
	ip := net.ParseIP(v)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid %s: %q is not an IPv4 address", key, v)
	}
	return ip.To4(), nil
}

func (s *source) positiveInt(key string, def int) (int, error) {
	v := s.get(key, strconv.Itoa(def))
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return i, nil
}

func (s *source) boolean(key string, def bool) (bool, error) {
	v := s.get(key, strconv.FormatBool(def))
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

func (s *source) duration(key string, def time.Duration) (time.Duration, error) {
	v := s.get(key, def.String())
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func bytesCompare(a, b net.IP) int {
	aa, bb := a.To4(), b.To4()
	for i := 0; i < len(aa); i++ {
		if aa[i] < bb[i] {
			return -1
		}
		if aa[i] > bb[i] {
			return 1
		}
	}
	return 0
}

func validateListenAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%q is not a valid integer", port)
	}
	if p < 0 || p > 65535 {
		return fmt.Errorf("port %d is outside the valid range 0-65535", p)
	}
	return nil
}
