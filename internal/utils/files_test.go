package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "profile.json")
	if err := SafeWriteFile(path, []byte("one")); err != nil {
		t.Fatalf("SafeWriteFile: %v", err)
	}
	if err := SafeWriteFile(path, []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "two" {
		t.Fatalf("content = %q, want two", b)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want 1 (temp files left behind)", len(entries))
	}
}

func TestPrettyJSON(t *testing.T) {
	b, err := PrettyJSON(map[string]int{"rows": 3})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "{\n  \"rows\": 3\n}"; got != want {
		t.Fatalf("PrettyJSON = %q, want %q", got, want)
	}
	if _, err := PrettyJSON(func() {}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	got, err := ExpandHome("~/.tabsense/profiles.db")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".tabsense", "profiles.db"); got != want {
		t.Fatalf("ExpandHome = %q, want %q", got, want)
	}
	if got, _ := ExpandHome("/abs/x.db"); got != "/abs/x.db" {
		t.Fatalf("absolute path changed to %q", got)
	}
	if got, _ := ExpandHome("~user/x"); !strings.HasPrefix(got, "~user") {
		t.Fatalf("~user expanded to %q", got)
	}
}
