// Package format renders a descriptor bundle of a gRPC service as text.
package format

import (
	"bytes"
	"sort"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoprint"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Available formats.
const (
	// Text is the protobuf text format of the whole descriptor set.
	Text = "text"
	// JSON is the protobuf JSON format of the whole descriptor set.
	JSON = "json"
	// Proto is the .proto source of the file that defines the service.
	Proto = "proto"
	// Table is a table of the methods the service has.
	Table = "table"
)

var formatters = map[string]Formatter{
	Text:  FormatterFunc(formatText),
	JSON:  FormatterFunc(formatJSON),
	Proto: FormatterFunc(formatProto),
	Table: FormatterFunc(formatTable),
}

// Formatter renders fds, the descriptor bundle which defines service.
type Formatter interface {
	Format(fds *descriptorpb.FileDescriptorSet, service string) (string, error)
}

// FormatterFunc is an adapter to allow the use of ordinary functions as Formatter.
type FormatterFunc func(fds *descriptorpb.FileDescriptorSet, service string) (string, error)

func (f FormatterFunc) Format(fds *descriptorpb.FileDescriptorSet, service string) (string, error) {
	return f(fds, service)
}

// New returns the Formatter named name.
func New(name string) (Formatter, error) {
	f, ok := formatters[name]
	if !ok {
		return nil, errors.Errorf("unknown format '%s'", name)
	}
	return f, nil
}

// IsValid reports whether name is an available format.
func IsValid(name string) bool {
	_, ok := formatters[name]
	return ok
}

// Names returns all available format names in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(formatters))
	for n := range formatters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func formatText(fds *descriptorpb.FileDescriptorSet, _ string) (string, error) {
	b, err := prototext.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(fds)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal the descriptor set as text")
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func formatJSON(fds *descriptorpb.FileDescriptorSet, _ string) (string, error) {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(fds)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal the descriptor set as JSON")
	}
	return string(b), nil
}

func formatProto(fds *descriptorpb.FileDescriptorSet, service string) (string, error) {
	files, err := desc.CreateFileDescriptorsFromSet(fds)
	if err != nil {
		return "", errors.Wrap(err, "failed to link the descriptor set")
	}
	// Follow the order of the set to make the output stable.
	for _, fdp := range fds.GetFile() {
		fd := files[fdp.GetName()]
		if fd == nil || fd.FindService(service) == nil {
			continue
		}
		p := &protoprint.Printer{Indent: "  "}
		out, err := p.PrintProtoToString(fd)
		if err != nil {
			return "", errors.Wrapf(err, "failed to print '%s'", fd.GetName())
		}
		return strings.TrimRight(out, "\n"), nil
	}
	return "", errors.Errorf("service '%s' is not defined in the descriptor set", service)
}

func formatTable(fds *descriptorpb.FileDescriptorSet, service string) (string, error) {
	sd, err := FindService(fds, service)
	if err != nil {
		return "", err
	}

	var w bytes.Buffer
	table := tablewriter.NewWriter(&w)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Method", "Request", "Response", "Client streaming", "Server streaming"})
	methods := sd.Methods()
	for i := 0; i < methods.Len(); i++ {
		m := methods.Get(i)
		table.Append([]string{
			string(m.Name()),
			string(m.Input().FullName()),
			string(m.Output().FullName()),
			yesNo(m.IsStreamingClient()),
			yesNo(m.IsStreamingServer()),
		})
	}
	table.Render()
	return strings.TrimRight(w.String(), "\n"), nil
}

// FindService links fds and returns the descriptor of service.
func FindService(fds *descriptorpb.FileDescriptorSet, service string) (protoreflect.ServiceDescriptor, error) {
	files, err := protodesc.NewFiles(fds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to link the descriptor set")
	}
	d, err := files.FindDescriptorByName(protoreflect.FullName(service))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find '%s'", service)
	}
	sd, ok := d.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, errors.Errorf("'%s' is not a service", service)
	}
	return sd, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
