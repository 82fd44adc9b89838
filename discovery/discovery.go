// Package discovery discovers the services a gRPC server exposes and describes them.
package discovery

import (
	"context"
	"fmt"

	"github.com/grdisco/grdisco/config"
	"github.com/grdisco/grdisco/endpoint"
	"github.com/grdisco/grdisco/format"
	grdiscogrpc "github.com/grdisco/grdisco/grpc"
	"github.com/grdisco/grdisco/grpc/grpcreflection"
	"github.com/grdisco/grdisco/logger"
	"github.com/grdisco/grdisco/oauth"
	"github.com/grdisco/grdisco/proto"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const (
	headerServiceList   = "Full list of services available at this host and port"
	headerServiceDetail = "Detailed methods information for:"

	// UnimplementedHint is reported when the server doesn't support reflection.
	UnimplementedHint = "Could not list services because the remote host does not support reflection. " +
		"To disable resolving services by reflection, either pass the flag --reflection=false " +
		"or disable reflection in your config file."
)

// Output is an append-only line writer. cui.UI implements it.
type Output interface {
	WriteLine(s string)
	NewLine()
	// Info writes a service name. It may be decorated, but the text must be the same as WriteLine.
	Info(s string)
	Warn(s string)
}

// ChannelFactory builds channels to an endpoint. *grpc.ChannelFactory of this module implements it.
type ChannelFactory interface {
	CreateChannel(ep endpoint.Endpoint) (*grpc.ClientConn, error)
	CreateChannelWithCredentials(ep endpoint.Endpoint, cred credentials.PerRPCCredentials) (*grpc.ClientConn, error)
}

// CredentialResolver resolves an OAuth2 configuration to a credential. *oauth.Resolver implements it.
type CredentialResolver interface {
	Resolve(ctx context.Context, cfg *config.OAuth) (credentials.PerRPCCredentials, error)
}

// Discoverer runs the discovery operation. The zero value is not usable; use New.
type Discoverer struct {
	newChannelFactory func(cfg *config.Config) (ChannelFactory, error)
	resolver          CredentialResolver
	newReflection     func(conn grpc.ClientConnInterface, cfg *config.Config) proto.DescriptorSource
	loadFiles         func(importPaths, fnames []string) (proto.DescriptorSource, error)
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithChannelFactory replaces the constructor of the channel factory.
func WithChannelFactory(f func(cfg *config.Config) (ChannelFactory, error)) Option {
	return func(d *Discoverer) {
		d.newChannelFactory = f
	}
}

// WithCredentialResolver replaces the credential resolver.
func WithCredentialResolver(r CredentialResolver) Option {
	return func(d *Discoverer) {
		d.resolver = r
	}
}

// WithReflectionClient replaces the constructor of the reflection client.
func WithReflectionClient(f func(conn grpc.ClientConnInterface, cfg *config.Config) proto.DescriptorSource) Option {
	return func(d *Discoverer) {
		d.newReflection = f
	}
}

// WithFileLoader replaces the loader of local proto files which is used if reflection is disabled.
func WithFileLoader(f func(importPaths, fnames []string) (proto.DescriptorSource, error)) Option {
	return func(d *Discoverer) {
		d.loadFiles = f
	}
}

// New returns a Discoverer which talks to real servers.
func New(opts ...Option) *Discoverer {
	d := &Discoverer{
		newChannelFactory: newChannelFactory,
		resolver:          oauth.NewResolver(),
		newReflection: func(conn grpc.ClientConnInterface, cfg *config.Config) proto.DescriptorSource {
			return grpcreflection.NewClient(conn, grpcreflection.WithTimeout(cfg.Request.Timeout))
		},
		loadFiles: func(importPaths, fnames []string) (proto.DescriptorSource, error) {
			return proto.LoadFiles(importPaths, fnames)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func newChannelFactory(cfg *config.Config) (ChannelFactory, error) {
	headers, err := grdiscogrpc.NewHeaders(cfg.Request.Header)
	if err != nil {
		return nil, err
	}
	return grdiscogrpc.NewChannelFactory(*cfg.Security, grdiscogrpc.WithHeaders(headers)), nil
}

// Discover lists the services of the server at endpointStr and writes the description of each to out.
//
// If the server doesn't support reflection, Discover writes a remediation hint and returns nil.
// Every returned error is an *Error. An *Error whose Fatal reports true means the connection
// doesn't work and the caller should stop the process with a non-zero status.
//
// If reflection is disabled by cfg, the services are read from the proto files of cfg
// and endpointStr is not used.
func (d *Discoverer) Discover(ctx context.Context, out Output, endpointStr string, cfg *config.Config) error {
	if !cfg.Reflection.Enabled {
		return d.discoverFromFiles(ctx, out, cfg)
	}

	if endpointStr == "" {
		return newError(KindMissingArgument, errors.New("the endpoint is required"))
	}
	ep, err := endpoint.Parse(endpointStr)
	if err != nil {
		return newError(KindInvalidArgument, err)
	}
	formatter, err := format.New(cfg.Output.Format)
	if err != nil {
		return newError(KindInvalidArgument, err)
	}

	conn, err := d.createChannel(ctx, ep, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Printf("failed to close the channel: %s", err)
		}
	}()

	return render(ctx, out, d.newReflection(conn, cfg), formatter)
}

func (d *Discoverer) discoverFromFiles(ctx context.Context, out Output, cfg *config.Config) error {
	formatter, err := format.New(cfg.Output.Format)
	if err != nil {
		return newError(KindInvalidArgument, err)
	}
	src, err := d.loadFiles(cfg.Default.ProtoPath, cfg.Default.ProtoFile)
	if err != nil {
		return newError(KindInvalidArgument, err)
	}
	return render(ctx, out, src, formatter)
}

func (d *Discoverer) createChannel(ctx context.Context, ep endpoint.Endpoint, cfg *config.Config) (*grpc.ClientConn, error) {
	// Headers are validated by the factory, so it is built before any token request goes out.
	factory, err := d.newChannelFactory(cfg)
	if err != nil {
		return nil, newError(KindInvalidArgument, err)
	}

	var cred credentials.PerRPCCredentials
	if cfg.OAuth != nil {
		c, err := d.resolver.Resolve(ctx, cfg.OAuth)
		if err != nil {
			return nil, newError(KindCredential, err)
		}
		cred = c
	}

	var conn *grpc.ClientConn
	if cred != nil {
		conn, err = factory.CreateChannelWithCredentials(ep, cred)
	} else {
		conn, err = factory.CreateChannel(ep)
	}
	if err != nil {
		return nil, newError(KindInvalidArgument, err)
	}
	return conn, nil
}

func render(ctx context.Context, out Output, src proto.DescriptorSource, formatter format.Formatter) error {
	out.NewLine()

	services, err := src.ListServices(ctx)
	if err != nil {
		if grpcreflection.KindOf(err) == grpcreflection.KindUnimplemented {
			logger.Printf("%s: %s", KindUnimplementedReflection, err)
			out.Warn(UnimplementedHint)
			return nil
		}
		return newError(KindConnectivity, err)
	}

	out.WriteLine(headerServiceList)
	for _, s := range services {
		out.Info(s)
	}
	out.NewLine()

	for _, s := range services {
		out.NewLine()
		out.WriteLine(headerServiceDetail + s)

		fds, err := src.LookupService(ctx, s)
		if err != nil {
			if !skippable(err) {
				return newError(KindConnectivity, err)
			}
			out.Warn(fmt.Sprintf("skipped '%s': %s", s, err))
			continue
		}
		rendered, err := formatter.Format(fds, s)
		if err != nil {
			out.Warn(fmt.Sprintf("skipped '%s': %s", s, err))
			continue
		}
		out.WriteLine(rendered)
	}
	return nil
}
