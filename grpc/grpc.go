// Package grpc builds gRPC channels to discovery targets.
package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/grdisco/grdisco/config"
	"github.com/grdisco/grdisco/endpoint"
	"github.com/grdisco/grdisco/logger"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

var (
	// ErrInvalidArgument is the cause of every error returned before a channel is built.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrMutualAuthParamsAreNotEnough = errors.New("cert and certkey are required to authenticate mutually")
)

const maxCallRecvMsgSize = 64 * 1024 * 1024

// ChannelFactory builds channels. Transport security is applied in the same way
// whether a credential is attached or not.
type ChannelFactory struct {
	security config.Security
	headers  Headers
	dialOpts []grpc.DialOption
}

// ChannelOption configures a ChannelFactory.
type ChannelOption func(*ChannelFactory)

// WithHeaders attaches h to every call made over channels built by the factory.
func WithHeaders(h Headers) ChannelOption {
	return func(f *ChannelFactory) {
		f.headers = h
	}
}

// WithDialOptions appends raw dial options. They are applied after the factory's own options.
func WithDialOptions(opts ...grpc.DialOption) ChannelOption {
	return func(f *ChannelFactory) {
		f.dialOpts = append(f.dialOpts, opts...)
	}
}

// NewChannelFactory returns a factory which secures channels according to sec.
func NewChannelFactory(sec config.Security, opts ...ChannelOption) *ChannelFactory {
	f := &ChannelFactory{security: sec}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateChannel builds an unauthenticated channel to ep.
// No connection is established until the first call.
func (f *ChannelFactory) CreateChannel(ep endpoint.Endpoint) (*grpc.ClientConn, error) {
	return f.create(ep, nil)
}

// CreateChannelWithCredentials builds a channel to ep which attaches cred to every call.
// cred is shared by the calls, not owned by the channel.
func (f *ChannelFactory) CreateChannelWithCredentials(ep endpoint.Endpoint, cred credentials.PerRPCCredentials) (*grpc.ClientConn, error) {
	if cred == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "credential must not be nil")
	}
	return f.create(ep, cred)
}

func (f *ChannelFactory) create(ep endpoint.Endpoint, cred credentials.PerRPCCredentials) (*grpc.ClientConn, error) {
	if err := ep.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidArgument, err.Error())
	}

	opts, err := f.dialOptions(cred)
	if err != nil {
		return nil, err
	}

	logger.Printf("creating channel to: %s (tls: %t, credential: %t)", ep, f.security.TLS, cred != nil)
	conn, err := grpc.NewClient(ep.String(), opts...)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	return conn, nil
}

func (f *ChannelFactory) dialOptions(cred credentials.PerRPCCredentials) ([]grpc.DialOption, error) {
	var opts []grpc.DialOption
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxCallRecvMsgSize)))

	if !f.security.TLS {
		if cred != nil && cred.RequireTransportSecurity() {
			return nil, errors.Wrap(ErrInvalidArgument, "the credential requires TLS, but the channel is plaintext")
		}
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsCfg, err := newTLSConfig(f.security)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidArgument, err.Error())
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
		if f.security.ServerName != "" {
			opts = append(opts, grpc.WithAuthority(f.security.ServerName))
		}
	}

	if cred != nil {
		opts = append(opts, grpc.WithPerRPCCredentials(cred))
	}

	if len(f.headers) != 0 {
		md := f.headers.MD()
		opts = append(opts,
			grpc.WithUnaryInterceptor(unaryHeaderInterceptor(md)),
			grpc.WithStreamInterceptor(streamHeaderInterceptor(md)),
		)
	}

	return append(opts, f.dialOpts...), nil
}

// newTLSConfig builds the client TLS config.
// The set of cert and certKey enables mutual authentication. If only one of them
// is given, newTLSConfig returns ErrMutualAuthParamsAreNotEnough.
func newTLSConfig(sec config.Security) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         sec.ServerName,
		InsecureSkipVerify: sec.Insecure, //nolint:gosec
	}
	if sec.CACertFile != "" {
		b, err := os.ReadFile(sec.CACertFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read the CA certificate")
		}
		cp := x509.NewCertPool()
		if !cp.AppendCertsFromPEM(b) {
			return nil, errors.New("failed to append the CA certificate")
		}
		tlsCfg.RootCAs = cp
	}
	if sec.CertFile != "" && sec.CertKeyFile != "" {
		certificate, err := tls.LoadX509KeyPair(sec.CertFile, sec.CertKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read the client certificate")
		}
		tlsCfg.Certificates = append(tlsCfg.Certificates, certificate)
	} else if sec.CertFile != "" || sec.CertKeyFile != "" {
		return nil, ErrMutualAuthParamsAreNotEnough
	}
	return tlsCfg, nil
}

func unaryHeaderInterceptor(md metadata.MD) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(withHeaders(ctx, md), method, req, reply, cc, opts...)
	}
}

func streamHeaderInterceptor(md metadata.MD) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(withHeaders(ctx, md), desc, cc, method, opts...)
	}
}

func withHeaders(ctx context.Context, md metadata.MD) context.Context {
	if out, ok := metadata.FromOutgoingContext(ctx); ok {
		md = metadata.Join(md, out)
	}
	return metadata.NewOutgoingContext(ctx, md)
}
