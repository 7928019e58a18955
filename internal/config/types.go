package config

import (
	"net"
	"time"
)

type Config struct {
	Server ServerConfig
	Client ClientConfig
	HTTP   HTTPConfig
	Bus    BusConfig
	DB     DBConfig
}

type ServerConfig struct {
	ListenAddress string
	ServerIP      net.IP
	SubnetMask    net.IPMask
	RangeStart    net.IP
	RangeEnd      net.IP
	LeaseTime     time.Duration
}

type ClientConfig struct {
	ServerAddress string
	ListenAddress string
	Timeout       time.Duration
	Attempts      int
	RetryBackoff  time.Duration
	Strict        bool
}

type HTTPConfig struct {
	Enabled bool
	Port    int
}

type BusConfig struct {
	URL     string
	Subject string
	Stream  string
}

type DBConfig struct {
	DSN string
}

// fileConfig mirrors the optional YAML overlay. Every scalar is read as a
// string and validated by the same code paths as the environment.
type fileConfig struct {
	Server struct {
		Listen       string `yaml:"listen"`
		ServerIP     string `yaml:"server_ip"`
		SubnetMask   string `yaml:"subnet_mask"`
		RangeStart   string `yaml:"range_start"`
		RangeEnd     string `yaml:"range_end"`
		LeaseSeconds string `yaml:"lease_seconds"`
	} `yaml:"server"`
	Client struct {
		Server       string `yaml:"server"`
		Listen       string `yaml:"listen"`
		Timeout      string `yaml:"timeout"`
		Attempts     string `yaml:"attempts"`
		RetryBackoff string `yaml:"retry_backoff"`
		Strict       string `yaml:"strict"`
	} `yaml:"client"`
	HTTP struct {
		Enabled string `yaml:"enabled"`
		Port    string `yaml:"port"`
	} `yaml:"http"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
		Stream  string `yaml:"stream"`
	} `yaml:"nats"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
}
