package db

import (
	"strings"
	"testing"
)

func TestMaskPassword(t *testing.T) {
	cases := map[string]string{
		"":                                      "<empty>",
		"postgres://user:secret@db:5432/meters": "postgres://user:***@db:5432/meters",
		"postgres://db:5432/meters":             "postgres://db:5432/meters",
	}
	for in, want := range cases {
		if got := maskPassword(in); got != want {
			t.Errorf("maskPassword(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSchemaDeclaresTokenSingleton(t *testing.T) {
	if !strings.Contains(schema, "CHECK (id = 1)") {
		t.Error("Expected upstream_tokens to be constrained to a single row")
	}
}
