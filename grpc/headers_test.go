package grpc_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grdisco/grdisco/grpc"
)

func TestHeaders_Add(t *testing.T) {
	cases := map[string]struct {
		k, v   string
		hasErr bool
	}{
		"normal":              {k: "aoi", v: "miyamori"},
		"'/' is invalid char": {k: "aoi/", v: "miyamori", hasErr: true},
		"empty key":           {k: "", v: "miyamori", hasErr: true},
	}

	h := grpc.Headers{}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			err := h.Add(c.k, c.v)
			if c.hasErr {
				if err == nil {
					t.Errorf("Add must return an error, but got nil")
				}
			} else {
				if err != nil {
					t.Errorf("Add must not return an error, but got '%s'", err)
				}
			}
		})
	}
}

func TestHeaders_Add_distinct(t *testing.T) {
	h := grpc.Headers{}
	h.Add("touma", "kazusa")
	h.Add("touma", "kazusa")
	expected := []string{"kazusa"}
	if diff := cmp.Diff(expected, h["touma"]); diff != "" {
		t.Errorf("-want, +got\n%s", diff)
	}
}

func TestNewHeaders(t *testing.T) {
	t.Run("normal", func(t *testing.T) {
		h, err := grpc.NewHeaders(map[string][]string{"Grpc-Client": {"grdisco", "grdisco"}, "x-trace": {"1"}})
		if err != nil {
			t.Fatalf("NewHeaders must not return an error, but got '%s'", err)
		}
		expected := map[string][]string{"grpc-client": {"grdisco"}, "x-trace": {"1"}}
		if diff := cmp.Diff(expected, map[string][]string(h.MD())); diff != "" {
			t.Errorf("-want, +got\n%s", diff)
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		if _, err := grpc.NewHeaders(map[string][]string{"a b": {"c"}}); err == nil {
			t.Error("NewHeaders must return an error, but got nil")
		}
	})
}
