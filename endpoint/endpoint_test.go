package endpoint

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestParse(t *testing.T) {
	cases := map[string]struct {
		in       string
		expected Endpoint
		hasErr   bool
	}{
		"normal":              {in: "localhost:50051", expected: Endpoint{Host: "localhost", Port: 50051}},
		"surrounding spaces":  {in: " 127.0.0.1:8080 ", expected: Endpoint{Host: "127.0.0.1", Port: 8080}},
		"ipv6":                {in: "[::1]:443", expected: Endpoint{Host: "::1", Port: 443}},
		"missing port":        {in: "localhost", hasErr: true},
		"empty port":          {in: "localhost:", hasErr: true},
		"empty host":          {in: ":50051", hasErr: true},
		"non-numeric port":    {in: "localhost:http", hasErr: true},
		"zero port":           {in: "localhost:0", hasErr: true},
		"negative port":       {in: "localhost:-1", hasErr: true},
		"too large port":      {in: "localhost:65536", hasErr: true},
		"unbracketed ipv6":    {in: "::1:443", hasErr: true},
		"empty":               {in: "", hasErr: true},
		"too many separators": {in: "a:b:c", hasErr: true},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			ep, err := Parse(c.in)
			if c.hasErr {
				if err == nil {
					t.Fatalf("Parse must return an error, but got nil")
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("the error must be ErrInvalid, but got '%s'", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse must not return an error, but got '%s'", err)
			}
			if diff := cmp.Diff(c.expected, ep); diff != "" {
				t.Errorf("-want, +got\n%s", diff)
			}
		})
	}
}

func TestEndpoint_String(t *testing.T) {
	cases := map[string]struct {
		ep       Endpoint
		expected string
	}{
		"host name": {Endpoint{Host: "localhost", Port: 50051}, "localhost:50051"},
		"ipv6":      {Endpoint{Host: "::1", Port: 443}, "[::1]:443"},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			if got := c.ep.String(); got != c.expected {
				t.Errorf("expected '%s', but got '%s'", c.expected, got)
			}
		})
	}
}

func TestEndpoint_Validate(t *testing.T) {
	if err := (Endpoint{}).Validate(); err == nil {
		t.Error("the zero value must be invalid")
	}
}
