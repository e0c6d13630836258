package testserver

import "testing"

func TestStripComments(t *testing.T) {
	cases := map[string]string{
		"select 1":             "select 1",
		"select 1;":            "select 1",
		"  select 1  ":         "select 1",
		"-- ping":              "",
		"-- hello\nselect 1;":  "select 1",
		"":                     "",
		"\n\n":                 "",
		"select\n1":            "select 1",
		"-- a\n-- b\nselect 1": "select 1",
	}
	for input, want := range cases {
		if got := stripComments(input); got != want {
			t.Errorf("stripComments(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestParseAttributes(t *testing.T) {
	attrs := parseAttributes("r=abc,s=W22Z==,i=4096")
	if attrs["r"] != "abc" || attrs["s"] != "W22Z==" || attrs["i"] != "4096" {
		t.Errorf("attrs = %v", attrs)
	}

	// Malformed parts are skipped, not fatal: the caller validates the
	// attributes it actually needs.
	if attrs := parseAttributes("nonsense"); len(attrs) != 0 {
		t.Errorf("attrs = %v, want empty", attrs)
	}
}
