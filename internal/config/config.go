// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config contains server configuration parameters.
type Config struct {
	LogLevel string  `env:"LOG_LEVEL" envDefault:"info"`
	Dev      bool    `env:"DEV" envDefault:"false"`
	GRPC     GRPC    `envPrefix:"GRPC_"`
	Store    Store   `envPrefix:"STORE_"`
	Policy   Policy  `envPrefix:"POLICY_"`
	Session  Session `envPrefix:"SESSION_"`
	Audit    Audit   `envPrefix:"AUDIT_"`
	Argon    Argon   `envPrefix:"ARGON_"`
	JWT      JWT     `envPrefix:"JWT_"`
}

// GRPC contains gRPC server parameters. TLS is enabled when both files are set.
type GRPC struct {
	Addr            string        `env:"ADDR" envDefault:":8443"`
	CertFile        string        `env:"TLS_CERT"`
	KeyFile         string        `env:"TLS_KEY"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// TLS reports whether a certificate pair is configured.
func (g GRPC) TLS() bool { return g.CertFile != "" && g.KeyFile != "" }

// Store selects and configures the settings/event backend.
type Store struct {
	Driver  string        `env:"DRIVER" envDefault:"sqlite"`
	DSN     string        `env:"DSN" envDefault:"pinlock.db"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"3s"`
}

// Policy contains lockout thresholds.
type Policy struct {
	MaxFailedAttempts int           `env:"MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LockoutDuration   time.Duration `env:"LOCKOUT_DURATION" envDefault:"30m"`
}

// Session contains idle-lock parameters.
type Session struct {
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"10s"`
}

// Audit contains security event log parameters.
type Audit struct {
	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"1024"`
	EnqueueTimeout time.Duration `env:"ENQUEUE_TIMEOUT" envDefault:"100ms"`
	RetryBase      time.Duration `env:"RETRY_BASE" envDefault:"50ms"`
	RetryMax       time.Duration `env:"RETRY_MAX" envDefault:"5s"`
	AlertInterval  time.Duration `env:"ALERT_INTERVAL" envDefault:"1s"`
	DrainTimeout   time.Duration `env:"DRAIN_TIMEOUT" envDefault:"10s"`
}

// Argon contains Argon2id cost parameters.
type Argon struct {
	Time    uint32 `env:"TIME" envDefault:"3"`
	MemKiB  uint32 `env:"MEM" envDefault:"65536"`
	Threads uint8  `env:"THREADS" envDefault:"1"`
}

// JWT contains bearer token parameters.
type JWT struct {
	Secret string        `env:"SECRET"`
	TTL    time.Duration `env:"TTL" envDefault:"15m"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errList []error
	if c.JWT.Secret == "" {
		errList = append(errList, errors.New("JWT_SECRET is required"))
	}
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errList = append(errList, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errList = append(errList, errors.New("STORE_DSN is required"))
	}
	if c.Policy.MaxFailedAttempts <= 0 {
		errList = append(errList, errors.New("POLICY_MAX_FAILED_ATTEMPTS must be positive"))
	}
	if c.Policy.LockoutDuration <= 0 {
		errList = append(errList, errors.New("POLICY_LOCKOUT_DURATION must be positive"))
	}
	if c.Session.TickInterval <= 0 {
		errList = append(errList, errors.New("SESSION_TICK_INTERVAL must be positive"))
	}
	if c.Audit.QueueSize <= 0 {
		errList = append(errList, errors.New("AUDIT_QUEUE_SIZE must be positive"))
	}
	if (c.GRPC.CertFile == "") != (c.GRPC.KeyFile == "") {
		errList = append(errList, errors.New("GRPC_TLS_CERT and GRPC_TLS_KEY must be set together"))
	}
	return errors.Join(errList...)
}
