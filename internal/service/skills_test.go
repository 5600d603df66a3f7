package service

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSkillAliases(t *testing.T) {
	a, err := LoadSkillAliases("")
	if err != nil {
		t.Fatalf("load default aliases: %v", err)
	}
	if a.Version < 1 || a.Len() == 0 {
		t.Fatalf("unexpected default table version=%d len=%d", a.Version, a.Len())
	}
	got := a.Acceptable("  lawn   MOWING ")
	found := false
	for _, n := range got {
		if n == "lawn care" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected lawn care among %v", got)
	}
	if a.Acceptable("Pool Opening") != nil {
		t.Fatalf("unknown service type should have no aliases")
	}
}

func TestLoadSkillAliasesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	data := "version: 7\nservices:\n  Pool Opening:\n    - Pool Service\n    - ' Water  Treatment '\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, err := LoadSkillAliases(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.Version != 7 {
		t.Fatalf("expected version 7, got %d", a.Version)
	}
	got := a.Acceptable("pool opening")
	if len(got) != 2 || got[1] != "water treatment" {
		t.Fatalf("unexpected aliases %v", got)
	}
	if a.Acceptable("Lawn Mowing") != nil {
		t.Fatalf("override file replaces the built-in table")
	}
}

func TestParseSkillAliasesRequiresVersion(t *testing.T) {
	if _, err := ParseSkillAliases([]byte("services:\n  A:\n    - b\n")); err == nil {
		t.Fatalf("expected error for missing version")
	}
	if _, err := ParseSkillAliases([]byte("version: [")); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}

func TestParseMatchMode(t *testing.T) {
	cases := map[string]MatchMode{"": MatchExact, "exact": MatchExact, " Contains ": MatchContains}
	for in, want := range cases {
		got, err := ParseMatchMode(in)
		if err != nil || got != want {
			t.Fatalf("%q: expected %s, got %s %v", in, want, got, err)
		}
	}
	if _, err := ParseMatchMode("fuzzy"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
