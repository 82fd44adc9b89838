package grpcreflection_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/grdisco/grdisco/grpc/grpcreflection"
	"github.com/grdisco/grdisco/tests/helper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	refv1 "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	healthService = "grpc.health.v1.Health"
	testService   = "api.Example"
)

func dial(t *testing.T, srv *helper.Server) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		srv.DialOption(),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient must not return an error, but got '%s'", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func sorted(s []string) []string {
	c := append([]string(nil), s...)
	sort.Strings(c)
	return c
}

func fileNames(fds *descriptorpb.FileDescriptorSet) []string {
	var names []string
	for _, fd := range fds.GetFile() {
		names = append(names, fd.GetName())
	}
	return names
}

func TestClient_reflectionServer(t *testing.T) {
	cases := map[string]struct {
		reflection helper.Reflection
		services   []string
	}{
		"v1 and v1alpha": {
			reflection: helper.ReflectionAll,
			services:   []string{healthService, grpcreflection.ServiceNameV1, grpcreflection.ServiceNameV1Alpha},
		},
		"v1alpha only": {
			reflection: helper.ReflectionV1Alpha,
			services:   []string{healthService, grpcreflection.ServiceNameV1Alpha},
		},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			srv := helper.NewServer(t, helper.WithReflection(c.reflection))
			client := grpcreflection.NewClient(dial(t, srv))
			ctx := newContext(t)

			services, err := client.ListServices(ctx)
			if err != nil {
				t.Fatalf("ListServices must not return an error, but got '%s'", err)
			}
			if diff := cmp.Diff(sorted(c.services), sorted(services)); diff != "" {
				t.Errorf("-want, +got\n%s", diff)
			}

			fds, err := client.LookupService(ctx, healthService)
			if err != nil {
				t.Fatalf("LookupService must not return an error, but got '%s'", err)
			}
			if diff := cmp.Diff([]string{"grpc/health/v1/health.proto"}, fileNames(fds)); diff != "" {
				t.Errorf("-want, +got\n%s", diff)
			}

			_, err = client.LookupService(ctx, "unknown.Service")
			if kind := grpcreflection.KindOf(err); kind != grpcreflection.KindNotFound {
				t.Errorf("expected kind %s, but got %s (%v)", grpcreflection.KindNotFound, kind, err)
			}
		})
	}
}

func TestClient_unimplemented(t *testing.T) {
	srv := helper.NewServer(t)
	client := grpcreflection.NewClient(dial(t, srv))

	_, err := client.ListServices(newContext(t))
	if kind := grpcreflection.KindOf(err); kind != grpcreflection.KindUnimplemented {
		t.Errorf("expected kind %s, but got %s (%v)", grpcreflection.KindUnimplemented, kind, err)
	}
}

func TestClient_connectivity(t *testing.T) {
	files := helper.WriteTLSFiles(t)
	srv := helper.NewServer(t, helper.WithTLS(files), helper.WithReflection(helper.ReflectionAll))
	client := grpcreflection.NewClient(dial(t, srv))

	_, err := client.ListServices(newContext(t))
	if kind := grpcreflection.KindOf(err); kind != grpcreflection.KindConnectivity {
		t.Errorf("expected kind %s, but got %s (%v)", grpcreflection.KindConnectivity, kind, err)
	}
}

// fakeServer answers reflection requests with handle.
// If handle returns nil, the server blocks until the call is cancelled.
type fakeServer struct {
	refv1.UnimplementedServerReflectionServer

	handle func(*refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse

	mu   sync.Mutex
	reqs []*refv1.ServerReflectionRequest
}

func (s *fakeServer) ServerReflectionInfo(stream refv1.ServerReflection_ServerReflectionInfoServer) error {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.reqs = append(s.reqs, req)
		s.mu.Unlock()

		resp := s.handle(req)
		if resp == nil {
			<-stream.Context().Done()
			return stream.Context().Err()
		}
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
}

func (s *fakeServer) requests() []*refv1.ServerReflectionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*refv1.ServerReflectionRequest(nil), s.reqs...)
}

func startFakeServer(t *testing.T, handle func(*refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse) (*fakeServer, *grpc.ClientConn) {
	t.Helper()
	fake := &fakeServer{handle: handle}
	srv := helper.NewServer(t, helper.WithService(func(s *grpc.Server) {
		refv1.RegisterServerReflectionServer(s, fake)
	}))
	return fake, dial(t, srv)
}

func exampleFiles() (dep, svc *descriptorpb.FileDescriptorProto) {
	dep = &descriptorpb.FileDescriptorProto{
		Name:    proto.String("api/message.proto"),
		Package: proto.String("api"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("Request")},
		},
	}
	svc = &descriptorpb.FileDescriptorProto{
		Name:       proto.String("api/example.proto"),
		Package:    proto.String("api"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"api/message.proto"},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("Example"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{Name: proto.String("Do"), InputType: proto.String(".api.Request"), OutputType: proto.String(".api.Request")},
				},
			},
		},
	}
	return dep, svc
}

func fileResponse(t *testing.T, files ...*descriptorpb.FileDescriptorProto) *refv1.ServerReflectionResponse {
	t.Helper()
	var bs [][]byte
	for _, fd := range files {
		b, err := proto.Marshal(fd)
		if err != nil {
			t.Errorf("failed to marshal '%s': %s", fd.GetName(), err)
		}
		bs = append(bs, b)
	}
	return &refv1.ServerReflectionResponse{
		MessageResponse: &refv1.ServerReflectionResponse_FileDescriptorResponse{
			FileDescriptorResponse: &refv1.FileDescriptorResponse{FileDescriptorProto: bs},
		},
	}
}

func errorResponse(code codes.Code) *refv1.ServerReflectionResponse {
	return &refv1.ServerReflectionResponse{
		MessageResponse: &refv1.ServerReflectionResponse_ErrorResponse{
			ErrorResponse: &refv1.ErrorResponse{ErrorCode: int32(code), ErrorMessage: code.String()},
		},
	}
}

func TestClient_ListServices(t *testing.T) {
	t.Run("keeps the order of the response", func(t *testing.T) {
		_, conn := startFakeServer(t, func(*refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse {
			return &refv1.ServerReflectionResponse{
				MessageResponse: &refv1.ServerReflectionResponse_ListServicesResponse{
					ListServicesResponse: &refv1.ListServiceResponse{Service: []*refv1.ServiceResponse{
						{Name: "b.B"}, {Name: "a.A"}, {Name: "c.C"},
					}},
				},
			}
		})
		services, err := grpcreflection.NewClient(conn).ListServices(newContext(t))
		if err != nil {
			t.Fatalf("ListServices must not return an error, but got '%s'", err)
		}
		if diff := cmp.Diff([]string{"b.B", "a.A", "c.C"}, services); diff != "" {
			t.Errorf("-want, +got\n%s", diff)
		}
	})

	t.Run("no services", func(t *testing.T) {
		_, conn := startFakeServer(t, func(*refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse {
			return &refv1.ServerReflectionResponse{
				MessageResponse: &refv1.ServerReflectionResponse_ListServicesResponse{
					ListServicesResponse: &refv1.ListServiceResponse{},
				},
			}
		})
		services, err := grpcreflection.NewClient(conn).ListServices(newContext(t))
		if err != nil {
			t.Fatalf("ListServices must not return an error, but got '%s'", err)
		}
		if services == nil || len(services) != 0 {
			t.Errorf("expected an empty non-nil slice, but got %#v", services)
		}
	})

	t.Run("unexpected response", func(t *testing.T) {
		_, conn := startFakeServer(t, func(*refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse {
			return fileResponse(t)
		})
		_, err := grpcreflection.NewClient(conn).ListServices(newContext(t))
		if kind := grpcreflection.KindOf(err); kind != grpcreflection.KindProtocol {
			t.Errorf("expected kind %s, but got %s (%v)", grpcreflection.KindProtocol, kind, err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		_, conn := startFakeServer(t, func(*refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse {
			return nil
		})
		client := grpcreflection.NewClient(conn, grpcreflection.WithTimeout(100*time.Millisecond))
		_, err := client.ListServices(newContext(t))
		if kind := grpcreflection.KindOf(err); kind != grpcreflection.KindConnectivity {
			t.Errorf("expected kind %s, but got %s (%v)", grpcreflection.KindConnectivity, kind, err)
		}
	})
}

func TestClient_LookupService(t *testing.T) {
	dep, svc := exampleFiles()

	t.Run("fetch a missing dependency", func(t *testing.T) {
		fake, conn := startFakeServer(t, func(req *refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse {
			switch {
			case req.GetFileContainingSymbol() == testService:
				return fileResponse(t, svc)
			case req.GetFileByFilename() == dep.GetName():
				return fileResponse(t, dep)
			}
			return errorResponse(codes.NotFound)
		})

		fds, err := grpcreflection.NewClient(conn).LookupService(newContext(t), testService)
		if err != nil {
			t.Fatalf("LookupService must not return an error, but got '%s'", err)
		}
		if diff := cmp.Diff([]string{dep.GetName(), svc.GetName()}, fileNames(fds)); diff != "" {
			t.Errorf("dependencies must come first: -want, +got\n%s", diff)
		}
		if n := len(fake.requests()); n != 2 {
			t.Errorf("expected 2 requests, but got %d", n)
		}
	})

	t.Run("dependencies sent together", func(t *testing.T) {
		fake, conn := startFakeServer(t, func(*refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse {
			return fileResponse(t, svc, dep)
		})

		fds, err := grpcreflection.NewClient(conn).LookupService(newContext(t), testService)
		if err != nil {
			t.Fatalf("LookupService must not return an error, but got '%s'", err)
		}
		if diff := cmp.Diff([]string{dep.GetName(), svc.GetName()}, fileNames(fds)); diff != "" {
			t.Errorf("-want, +got\n%s", diff)
		}
		if n := len(fake.requests()); n != 1 {
			t.Errorf("expected 1 request, but got %d", n)
		}
	})

	t.Run("missing dependency is not found", func(t *testing.T) {
		_, conn := startFakeServer(t, func(req *refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse {
			if req.GetFileContainingSymbol() == testService {
				return fileResponse(t, svc)
			}
			return errorResponse(codes.NotFound)
		})

		_, err := grpcreflection.NewClient(conn).LookupService(newContext(t), testService)
		if kind := grpcreflection.KindOf(err); kind != grpcreflection.KindNotFound {
			t.Errorf("expected kind %s, but got %s (%v)", grpcreflection.KindNotFound, kind, err)
		}
	})

	cases := map[string]struct {
		resp func(t *testing.T) *refv1.ServerReflectionResponse
		kind grpcreflection.Kind
	}{
		"not found": {
			resp: func(*testing.T) *refv1.ServerReflectionResponse { return errorResponse(codes.NotFound) },
			kind: grpcreflection.KindNotFound,
		},
		"other error response": {
			resp: func(*testing.T) *refv1.ServerReflectionResponse { return errorResponse(codes.Internal) },
			kind: grpcreflection.KindConnectivity,
		},
		"unimplemented error response": {
			resp: func(*testing.T) *refv1.ServerReflectionResponse { return errorResponse(codes.Unimplemented) },
			kind: grpcreflection.KindUnimplemented,
		},
		"not a service": {
			resp: func(t *testing.T) *refv1.ServerReflectionResponse {
				dep, _ := exampleFiles()
				return fileResponse(t, dep)
			},
			kind: grpcreflection.KindNotFound,
		},
		"malformed file": {
			resp: func(*testing.T) *refv1.ServerReflectionResponse {
				return &refv1.ServerReflectionResponse{
					MessageResponse: &refv1.ServerReflectionResponse_FileDescriptorResponse{
						FileDescriptorResponse: &refv1.FileDescriptorResponse{FileDescriptorProto: [][]byte{{0xff, 0xff}}},
					},
				}
			},
			kind: grpcreflection.KindProtocol,
		},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			_, conn := startFakeServer(t, func(*refv1.ServerReflectionRequest) *refv1.ServerReflectionResponse {
				return c.resp(t)
			})
			_, err := grpcreflection.NewClient(conn).LookupService(newContext(t), testService)
			if kind := grpcreflection.KindOf(err); kind != c.kind {
				t.Errorf("expected kind %s, but got %s (%v)", c.kind, kind, err)
			}
		})
	}
}
