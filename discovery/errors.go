package discovery

import (
	"github.com/grdisco/grdisco/grpc/grpcreflection"
	"github.com/pkg/errors"
)

// Kind is the classification of a discovery failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindMissingArgument means the endpoint is not supplied.
	KindMissingArgument
	// KindInvalidArgument means the endpoint or the configuration cannot be used.
	KindInvalidArgument
	// KindCredential means the OAuth2 credential cannot be resolved.
	KindCredential
	// KindUnimplementedReflection means the server doesn't support reflection.
	// Discover reports it with a remediation hint and never returns it.
	KindUnimplementedReflection
	// KindConnectivity is any other failure of the reflection exchange. It is fatal.
	KindConnectivity
)

func (k Kind) String() string {
	switch k {
	case KindMissingArgument:
		return "missing argument"
	case KindInvalidArgument:
		return "invalid argument"
	case KindCredential:
		return "credential error"
	case KindUnimplementedReflection:
		return "unimplemented reflection"
	case KindConnectivity:
		return "connectivity error"
	}
	return "unknown"
}

// Error is the error returned by Discover.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindConnectivity {
		return "you have some issues with the connection, check the security (TLS) settings: " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether no further work is possible and the process should stop with a non-zero status.
func (e *Error) Fatal() bool {
	return e.Kind == KindConnectivity
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return KindUnknown
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// skippable reports whether a failed lookup of one service lets the listing continue.
// Failures of the connection stop the listing.
func skippable(err error) bool {
	switch grpcreflection.KindOf(err) {
	case grpcreflection.KindNotFound, grpcreflection.KindProtocol:
		return true
	case grpcreflection.KindUnimplemented, grpcreflection.KindConnectivity:
		return false
	}
	// Local sources don't talk to the network.
	return true
}
