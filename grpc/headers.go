package grpc

import (
	"sort"
	"unicode"

	"github.com/pkg/errors"
	"google.golang.org/grpc/metadata"
)

// Headers represents gRPC headers. A key corresponds to one or more values.
type Headers map[string][]string

// NewHeaders validates every key of m and returns them as Headers.
func NewHeaders(m map[string][]string) (Headers, error) {
	h := Headers{}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range m[k] {
			if err := h.Add(k, v); err != nil {
				return nil, errors.Wrapf(err, "invalid header '%s'", k)
			}
		}
	}
	return h, nil
}

// Add appends a value v to a key k. k must be consisted of letters, digits, '-', '_' and '.'.
func (h Headers) Add(k, v string) error {
	// If k is already in h, k is valid key name.
	if _, ok := h[k]; !ok {
		if k == "" {
			return errors.New("empty key")
		}
		for _, r := range k {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' {
				return errors.Errorf("invalid char '%c' in key", r)
			}
		}
	}
	h[k] = distinct(append(h[k], v))
	return nil
}

// MD converts h to gRPC metadata. Keys are lower-cased by metadata.MD.
func (h Headers) MD() metadata.MD {
	md := metadata.MD{}
	for k, v := range h {
		md.Append(k, v...)
	}
	return md
}

// distinct removes duplicated elements.
func distinct(s []string) []string {
	newSlice := make([]string, 0, len(s))
	encountered := map[string]interface{}{}
	for _, v := range s {
		if _, found := encountered[v]; !found {
			newSlice = append(newSlice, v)
			encountered[v] = nil
		}
	}
	return newSlice
}
