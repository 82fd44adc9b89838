// Package grpcreflection provides gRPC reflection client.
// Currently, gRPC reflection depends on Protocol Buffers, so we split this package from grpc package.
package grpcreflection

import (
	"context"
	"fmt"
	"time"

	"github.com/grdisco/grdisco/logger"
	"github.com/jhump/protoreflect/desc"
	gr "github.com/jhump/protoreflect/grpcreflect"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Service names of the reflection protocol.
const (
	ServiceNameV1      = "grpc.reflection.v1.ServerReflection"
	ServiceNameV1Alpha = "grpc.reflection.v1alpha.ServerReflection"
)

// Kind classifies a failure at the point it happened.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnimplemented means the server implements neither of the reflection protocols.
	KindUnimplemented
	// KindNotFound means the server doesn't know the requested symbol or one of its files.
	KindNotFound
	// KindConnectivity is any failure carrying a gRPC status, including TLS problems and deadlines.
	KindConnectivity
	// KindProtocol means the server sent a malformed or unexpected response.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindUnimplemented:
		return "unimplemented"
	case KindNotFound:
		return "not found"
	case KindConnectivity:
		return "connectivity"
	case KindProtocol:
		return "protocol"
	}
	return "unknown"
}

// Error is the error returned by Client.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindUnknown
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Kind: classify(err), Err: err}
}

// classify maps an error of grpcreflect to a Kind.
// Error responses other than NOT_FOUND are reported as gRPC statuses by grpcreflect,
// so they can't be told apart from transport failures.
func classify(err error) Kind {
	if gr.IsElementNotFoundError(err) {
		return KindNotFound
	}
	s, ok := status.FromError(err)
	if !ok {
		// ProtocolError and undecodable descriptors.
		return KindProtocol
	}
	switch s.Code() {
	case codes.Unimplemented:
		return KindUnimplemented
	case codes.NotFound:
		return KindNotFound
	}
	return KindConnectivity
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each operation. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client is a gRPC reflection client.
// It tries grpc.reflection.v1 first and falls back to grpc.reflection.v1alpha
// if the server doesn't implement v1.
// Each operation uses its own reflection stream which is closed before returning.
type Client struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewClient returns a reflection client which uses conn. conn is not owned by the client.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	c := &Client{conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, f func(*gr.Client) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	client := gr.NewClientAuto(ctx, c.conn)
	defer client.Reset()
	return f(client)
}

// ListServices returns the fully-qualified names of the services the server exposes,
// in the order the server sent them. A server without services results in an empty non-nil slice.
func (c *Client) ListServices(ctx context.Context) ([]string, error) {
	const op = "list services"

	var services []string
	err := c.do(ctx, func(client *gr.Client) error {
		var err error
		services, err = client.ListServices()
		return err
	})
	if err != nil {
		return nil, newError(op, err)
	}
	if services == nil {
		services = []string{}
	}
	return services, nil
}

// LookupService returns the file which defines service and all of its transitive dependencies.
// Dependencies come before their dependents. Dependencies which the server didn't send
// together with the file are fetched by name.
func (c *Client) LookupService(ctx context.Context, service string) (*descriptorpb.FileDescriptorSet, error) {
	op := fmt.Sprintf("lookup service '%s'", service)

	var sd *desc.ServiceDescriptor
	err := c.do(ctx, func(client *gr.Client) error {
		var err error
		sd, err = client.ResolveService(service)
		return err
	})
	if err != nil {
		return nil, newError(op, err)
	}
	logger.Scriptln(func() []interface{} {
		return []interface{}{"resolved", service, "in", sd.GetFile().GetName()}
	})

	return &descriptorpb.FileDescriptorSet{File: bundle(sd.GetFile())}, nil
}

// bundle returns root and its transitive dependencies, dependencies first.
func bundle(root *desc.FileDescriptor) []*descriptorpb.FileDescriptorProto {
	var files []*descriptorpb.FileDescriptorProto
	visited := map[string]bool{}
	var visit func(fd *desc.FileDescriptor)
	visit = func(fd *desc.FileDescriptor) {
		if visited[fd.GetName()] {
			return
		}
		visited[fd.GetName()] = true
		for _, dep := range fd.GetDependencies() {
			visit(dep)
		}
		files = append(files, fd.AsFileDescriptorProto())
	}
	visit(root)
	return files
}
