package httpd

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const DefaultShutdownTimeout = 10 * time.Second

// Config mirrors the teacher's config.go shape (bind address, access
// logging, gzip, shutdown grace period) with TLS, shared-secret, and
// write-tracing fields dropped: this server has no line-protocol write
// path or cookie auth to trace, and spec.md's HTTP surface never asks for
// TLS termination of its own.
type Config struct {
	BindAddress     string        `toml:"bind-address"`
	LogEnabled      bool          `toml:"log-enabled"`
	ShutdownTimeout time.Duration `toml:"shutdown-timeout"`

	// GZIP is not read from TOML; NewConfig enables it, and the handler
	// then compresses responses for clients that accept gzip.
	GZIP bool `toml:"-"`
}

func NewConfig() Config {
	return Config{
		BindAddress:     ":8080",
		LogEnabled:      true,
		ShutdownTimeout: DefaultShutdownTimeout,
		GZIP:            true,
	}
}

func (c Config) Validate() error {
	_, port, err := net.SplitHostPort(c.BindAddress)
	if err != nil {
		return errors.Wrapf(err, "invalid http bind address %s", c.BindAddress)
	}
	if port == "" {
		return errors.Errorf("invalid http bind address, no port specified %s", c.BindAddress)
	}
	pn, err := strconv.ParseInt(port, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid http bind address port %s", port)
	}
	if pn > 65535 || pn < 0 {
		return errors.Errorf("invalid http bind address port %d: out of range", pn)
	}
	return nil
}

// Port determines the HTTP port from BindAddress.
func (c Config) Port() (int, error) {
	if err := c.Validate(); err != nil {
		return -1, err
	}
	_, portStr, _ := net.SplitHostPort(c.BindAddress)
	port, _ := strconv.ParseInt(portStr, 10, 64)
	return int(port), nil
}
