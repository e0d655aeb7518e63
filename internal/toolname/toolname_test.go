package toolname

import (
	"errors"
	"testing"
)

func TestFullNameRoundTrip(t *testing.T) {
	cases := []Name{
		BuiltIn("file_read"),
		MCP("filesystem", "read_file"),
		Agent("researcher"),
	}
	for _, n := range cases {
		full := n.FullName()
		got, err := ParseFullName(full)
		if err != nil {
			t.Fatalf("ParseFullName(%q) error: %v", full, err)
		}
		if got != n {
			t.Errorf("round trip mismatch: %+v -> %q -> %+v", n, full, got)
		}
	}
}

func TestFullNameForm(t *testing.T) {
	if got := BuiltIn("file_read").FullName(); got != "file_read" {
		t.Errorf("builtin full name = %q", got)
	}
	if got := MCP("filesystem", "read_file").FullName(); got != "@filesystem/read_file" {
		t.Errorf("mcp full name = %q", got)
	}
	if got := Agent("researcher").FullName(); got != "#researcher" {
		t.Errorf("agent full name = %q", got)
	}
}

func TestParsePatternTable(t *testing.T) {
	tests := []struct {
		in   string
		kind PatternKind
	}{
		{"*", PatternAll},
		{"@builtin", PatternAllBuiltIn},
		{"@filesystem", PatternMCPServer},
		{"@filesystem/read_file", PatternMCPExact},
		{"@filesystem/read*", PatternMCPGlob},
		{"#researcher", PatternAgentExact},
		{"#rese*", PatternAgentGlob},
		{"file_read", PatternBuiltInExact},
		{"file_*", PatternBuiltInGlob},
	}
	for _, tt := range tests {
		p, err := ParsePattern(tt.in)
		if err != nil {
			t.Fatalf("ParsePattern(%q) error: %v", tt.in, err)
		}
		if p.Kind != tt.kind {
			t.Errorf("ParsePattern(%q).Kind = %v, want %v", tt.in, p.Kind, tt.kind)
		}
	}
}

// TestParsePatternTotality: every non-empty string parses without
// panicking.
func TestParsePatternTotality(t *testing.T) {
	inputs := []string{
		"*", "@", "@/", "@a/", "@a/b", "#", "##", "a*b*c", "****", "a/b/c",
		"@server/pat*tern*again", "\x00weird", "🎉emoji_tool",
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("ParsePattern(%q) panicked: %v", in, r)
				}
			}()
			_, _ = ParsePattern(in)
		}()
	}
	if _, err := ParsePattern(""); err == nil {
		t.Error("ParsePattern(\"\") should error")
	}
}

func TestPatternMatches(t *testing.T) {
	p, _ := ParsePattern("@filesystem/read*")
	if !p.Matches(MCP("filesystem", "read_file")) {
		t.Error("expected glob match")
	}
	if p.Matches(MCP("other", "read_file")) {
		t.Error("glob must not cross servers")
	}
	if p.Matches(BuiltIn("read_file")) {
		t.Error("mcp pattern must not match builtins")
	}

	all, _ := ParsePattern("*")
	if !all.Matches(Agent("researcher")) {
		t.Error("* must match everything")
	}
}

func TestCatalogResolve(t *testing.T) {
	cat := Catalog{
		BuiltIns: []string{"file_read", "file_write", "execute_cmd"},
		MCPTools: map[string][]string{
			"filesystem": {"read_file", "write_file"},
		},
		Agents: []string{"researcher"},
	}

	names, err := cat.Resolve([]string{"@builtin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 {
		t.Errorf("expected 3 builtins, got %d", len(names))
	}

	names, err = cat.Resolve([]string{"@filesystem/read*"})
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != MCP("filesystem", "read_file") {
		t.Errorf("unexpected resolve result: %+v", names)
	}

	if _, err := cat.Resolve([]string{"@nosuchserver/tool"}); !errors.As(err, new(*NameDoesNotExistError)) {
		t.Errorf("expected NameDoesNotExistError, got %v", err)
	}

	if _, err := cat.Resolve([]string{"file_nope"}); !errors.As(err, new(*NameDoesNotExistError)) {
		t.Errorf("expected NameDoesNotExistError, got %v", err)
	}
}

func TestCatalogResolveOneAmbiguous(t *testing.T) {
	cat := Catalog{
		BuiltIns: []string{"read_file"},
		MCPTools: map[string][]string{
			"filesystem": {"read_file"},
		},
	}
	_, err := cat.ResolveOne("read_file")
	var ambErr *AmbiguousToolNameError
	if !errors.As(err, &ambErr) {
		t.Fatalf("expected AmbiguousToolNameError, got %v", err)
	}
	if len(ambErr.Candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(ambErr.Candidates))
	}
}

func TestCatalogResolveOneNotFound(t *testing.T) {
	cat := Catalog{}
	if _, err := cat.ResolveOne("missing"); !errors.As(err, new(*NameDoesNotExistError)) {
		t.Errorf("expected NameDoesNotExistError, got %v", err)
	}
}
