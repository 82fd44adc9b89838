package helper

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	reflectionv1alpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// Reflection selects the reflection protocols the server exposes.
type Reflection int

const (
	ReflectionNone Reflection = iota
	// ReflectionAll registers both of grpc.reflection.v1 and grpc.reflection.v1alpha.
	ReflectionAll
	ReflectionV1Alpha
)

// Server is an in-memory gRPC server which serves the health service.
type Server struct {
	t   *testing.T
	s   *grpc.Server
	lis *bufconn.Listener

	errMu sync.Mutex
	err   error
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	reflection Reflection
	tls        *TLSFiles
	register   []func(*grpc.Server)
	serverOpts []grpc.ServerOption
}

// WithReflection sets the reflection protocols. The default is ReflectionNone.
func WithReflection(r Reflection) ServerOption {
	return func(o *serverOptions) {
		o.reflection = r
	}
}

// WithTLS makes the server require TLS with the server certificate of files.
func WithTLS(files *TLSFiles) ServerOption {
	return func(o *serverOptions) {
		o.tls = files
	}
}

// WithService registers additional services.
func WithService(f func(*grpc.Server)) ServerOption {
	return func(o *serverOptions) {
		o.register = append(o.register, f)
	}
}

// WithServerOptions passes raw options to grpc.NewServer.
func WithServerOptions(opts ...grpc.ServerOption) ServerOption {
	return func(o *serverOptions) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}

// NewServer starts a server and stops it at the end of the test.
func NewServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()

	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	sopts := o.serverOpts
	if o.tls != nil {
		creds, err := credentials.NewServerTLSFromFile(o.tls.ServerCert, o.tls.ServerKey)
		require.NoError(t, err)
		sopts = append(sopts, grpc.Creds(creds))
	}
	s := grpc.NewServer(sopts...)
	healthpb.RegisterHealthServer(s, health.NewServer())
	for _, f := range o.register {
		f(s)
	}
	switch o.reflection {
	case ReflectionAll:
		reflection.Register(s)
	case ReflectionV1Alpha:
		reflectionv1alpha.RegisterServerReflectionServer(s, reflection.NewServer(reflection.ServerOptions{Services: s}))
	}

	srv := &Server{
		t:   t,
		s:   s,
		lis: bufconn.Listen(bufSize),
	}
	go func() {
		if err := s.Serve(srv.lis); err != nil {
			srv.reportError(err)
		}
	}()
	t.Cleanup(srv.Stop)
	return srv
}

// DialOption connects a client to the in-memory listener regardless of the target address.
func (s *Server) DialOption() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return s.lis.DialContext(ctx)
	})
}

// Stop stops the server. It is safe to call Stop more than once.
func (s *Server) Stop() {
	s.s.Stop()

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err != nil {
		s.t.Error(s.err)
		s.err = nil
	}
}

func (s *Server) reportError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = multierror.Append(s.err, err)
}
