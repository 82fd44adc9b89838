// Package proto provides descriptor sources which list services and look up the descriptors of them.
package proto

import (
	"context"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/linker"
	"github.com/grdisco/grdisco/logger"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// DescriptorSource lists services and looks up the descriptor bundle of a service.
// A bundle contains the file which defines the service and its transitive dependencies, dependencies first.
// *grpcreflection.Client and *Files implement it.
type DescriptorSource interface {
	ListServices(ctx context.Context) ([]string, error)
	LookupService(ctx context.Context, name string) (*descriptorpb.FileDescriptorSet, error)
}

var ErrServiceNotFound = errors.New("proto: service not found")

// Files is a DescriptorSource backed by compiled proto files.
type Files struct {
	fds linker.Files
}

// LoadFiles compiles fnames. Imports are resolved from importPaths and the standard imports
// such as google/protobuf/empty.proto.
func LoadFiles(importPaths []string, fnames []string) (*Files, error) {
	c := &protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			ImportPaths: importPaths,
		}),
	}
	compiled, err := c.Compile(context.Background(), fnames...)
	if err != nil {
		return nil, errors.Wrap(err, "proto: failed to compile proto files")
	}
	logger.Scriptln(func() []interface{} {
		return []interface{}{"proto: compiled", len(compiled), "files from", fnames}
	})

	return &Files{fds: compiled}, nil
}

// ListServices returns services in the order of the files, then in the order of declaration.
func (f *Files) ListServices(context.Context) ([]string, error) {
	services := []string{}
	for _, fd := range f.fds {
		for i := 0; i < fd.Services().Len(); i++ {
			services = append(services, string(fd.Services().Get(i).FullName()))
		}
	}

	return services, nil
}

func (f *Files) LookupService(_ context.Context, name string) (*descriptorpb.FileDescriptorSet, error) {
	for _, fd := range f.fds {
		d := fd.FindDescriptorByName(protoreflect.FullName(name))
		if d == nil {
			continue
		}
		if _, ok := d.(protoreflect.ServiceDescriptor); !ok {
			return nil, errors.Wrapf(ErrServiceNotFound, "'%s' is not a service", name)
		}
		return bundle(fd), nil
	}

	return nil, errors.Wrapf(ErrServiceNotFound, "service %s", name)
}

func bundle(root protoreflect.FileDescriptor) *descriptorpb.FileDescriptorSet {
	set := &descriptorpb.FileDescriptorSet{}
	visited := map[string]bool{}
	var visit func(fd protoreflect.FileDescriptor)
	visit = func(fd protoreflect.FileDescriptor) {
		if visited[fd.Path()] {
			return
		}
		visited[fd.Path()] = true
		imports := fd.Imports()
		for i := 0; i < imports.Len(); i++ {
			visit(imports.Get(i).FileDescriptor)
		}
		set.File = append(set.File, protodesc.ToFileDescriptorProto(fd))
	}
	visit(root)
	return set
}
