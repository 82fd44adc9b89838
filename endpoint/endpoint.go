// Package endpoint parses and validates gRPC server addresses.
package endpoint

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalid is returned when an address cannot be parsed as host:port.
var ErrInvalid = errors.New("invalid endpoint")

// Endpoint is a validated pair of host and port.
type Endpoint struct {
	Host string
	Port int
}

// Parse parses s as "host:port". IPv6 hosts must be bracketed, like "[::1]:50051".
// The returned error always has ErrInvalid as its cause.
func Parse(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, errors.Wrapf(ErrInvalid, "'%s' must be formatted as host:port", s)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Endpoint{}, errors.Wrapf(ErrInvalid, "port '%s' is not a number", port)
	}
	ep := Endpoint{Host: host, Port: p}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// Validate checks the invariants of e: the host is not empty and the port is in 1..65535.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return errors.Wrap(ErrInvalid, "host must not be empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return errors.Wrapf(ErrInvalid, "port %d is out of range", e.Port)
	}
	return nil
}

// String returns e as "host:port".
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
