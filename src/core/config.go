package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exchangenetwork/xnet/src/xnet"
)

// IdentityConfig is the user this node acts for, with its key pair.
type IdentityConfig struct {
	User           User   `yaml:"user"`
	PublicKey      string `yaml:"publicKey"`
	PrivateKey     string `yaml:"privateKey"`
	PublicKeyFile  string `yaml:"publicKeyFile"`
	PrivateKeyFile string `yaml:"privateKeyFile"`
}

// PeerConfig is a known user and the address of the node acting for it.
type PeerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	PublicKey     string `yaml:"publicKey"`
	PublicKeyFile string `yaml:"publicKeyFile"`
	User          User   `yaml:"user"`
}

// Config holds the application configuration
type Config struct {
	Port               string          `yaml:"port"`
	PeerPort           string          `yaml:"peerPort"`
	LogLevel           string          `yaml:"logLevel"`
	RateLimitPerMinute int             `yaml:"rateLimitPerMinute"`
	MaxBodySizeBytes   int64           `yaml:"maxBodySizeBytes"`
	ShutdownTimeout    time.Duration   `yaml:"shutdownTimeout"`
	HTTPClientTimeout  time.Duration   `yaml:"httpClientTimeout"`
	MaxLogEntries      int             `yaml:"maxLogEntries"`
	HashAlgorithm      string          `yaml:"hashAlgorithm"`
	Me                 IdentityConfig  `yaml:"me"`
	Peers              []PeerConfig    `yaml:"peers"`
	TokenTemplates     []TokenTemplate `yaml:"tokenTemplates"`
}

// Default values
const (
	DefaultPort               = "8080"
	DefaultPeerPort           = "8081"
	DefaultRateLimitPerMinute = 100
	DefaultMaxBodySizeBytes   = 1 << 20 // 1MB
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultHTTPClientTimeout  = 5 * time.Second
	DefaultMaxLogEntries      = 1000
)

// LoadConfig reads defaults, then the YAML file named by CONFIG_FILE, then
// environment overrides.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:               DefaultPort,
		PeerPort:           DefaultPeerPort,
		LogLevel:           "info",
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		MaxBodySizeBytes:   DefaultMaxBodySizeBytes,
		ShutdownTimeout:    DefaultShutdownTimeout,
		HTTPClientTimeout:  DefaultHTTPClientTimeout,
		MaxLogEntries:      DefaultMaxLogEntries,
		HashAlgorithm:      xnet.HashAlgorithm,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if peerPort := os.Getenv("PEER_PORT"); peerPort != "" {
		cfg.PeerPort = peerPort
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if rateLimitEnv := os.Getenv("RATE_LIMIT_PER_MINUTE"); rateLimitEnv != "" {
		if rateLimit, err := strconv.Atoi(rateLimitEnv); err == nil && rateLimit > 0 {
			cfg.RateLimitPerMinute = rateLimit
		}
	}

	if maxBodyEnv := os.Getenv("MAX_BODY_SIZE_BYTES"); maxBodyEnv != "" {
		if maxBody, err := strconv.ParseInt(maxBodyEnv, 10, 64); err == nil && maxBody > 0 {
			cfg.MaxBodySizeBytes = maxBody
		}
	}

	if shutdownTimeout := os.Getenv("SHUTDOWN_TIMEOUT"); shutdownTimeout != "" {
		if duration, err := time.ParseDuration(shutdownTimeout); err == nil {
			cfg.ShutdownTimeout = duration
		}
	}

	if clientTimeout := os.Getenv("HTTP_CLIENT_TIMEOUT"); clientTimeout != "" {
		if duration, err := time.ParseDuration(clientTimeout); err == nil && duration > 0 {
			cfg.HTTPClientTimeout = duration
		}
	}

	if maxLogEnv := os.Getenv("MAX_LOG_ENTRIES"); maxLogEnv != "" {
		if maxLog, err := strconv.Atoi(maxLogEnv); err == nil && maxLog > 0 {
			cfg.MaxLogEntries = maxLog
		}
	}

	if algorithm := os.Getenv("HASH_ALGORITHM"); algorithm != "" {
		cfg.HashAlgorithm = algorithm
	}

	if _, err := hashFunc(cfg.HashAlgorithm); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := resolveKeyFile(&cfg.Me.PublicKey, cfg.Me.PublicKeyFile); err != nil {
		return err
	}
	if err := resolveKeyFile(&cfg.Me.PrivateKey, cfg.Me.PrivateKeyFile); err != nil {
		return err
	}
	for i := range cfg.Peers {
		if err := resolveKeyFile(&cfg.Peers[i].PublicKey, cfg.Peers[i].PublicKeyFile); err != nil {
			return err
		}
	}
	for _, tt := range cfg.TokenTemplates {
		if err := tt.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func resolveKeyFile(dst *string, path string) error {
	if *dst != "" || path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	*dst = string(data)
	return nil
}
