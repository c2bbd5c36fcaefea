package env

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMerge(t *testing.T) {
	base := []string{"PATH=/bin", "HOME=/root", "broken", "=nokey"}
	got := Merge(base, []string{"HOME=/home/emu", "DATA=${HOME}/data"}, []string{"LEVEL=debug", "REF=${MISSING}"})
	want := []string{
		"DATA=/home/emu/data",
		"HOME=/home/emu",
		"LEVEL=debug",
		"PATH=/bin",
		"REF=${MISSING}",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge() = %v, want %v", got, want)
	}
}

func TestExpandDoesNotRecurse(t *testing.T) {
	got := Merge(nil, []string{"A=${B}", "B=${A}", "C=x${", "D=${C}}"})
	want := []string{"A=${A}", "B=${B}", "C=x${", "D=x${}"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge() = %v, want %v", got, want)
	}
}

func TestParseFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "emu.env")
	content := "# comment\n\nexport NATS_URL=nats://localhost:4222\nNAME = \"lab one\"\nQ='x'\nEMPTY=\n"
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := ParseFile(p)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	want := []string{"NATS_URL=nats://localhost:4222", "NAME=lab one", "Q=x", "EMPTY="}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseFile() = %v, want %v", got, want)
	}
}

func TestParseFileErrors(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for missing file")
	}
	p := filepath.Join(t.TempDir(), "bad.env")
	if err := os.WriteFile(p, []byte("OK=1\njustaword\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(p); err == nil {
		t.Fatal("expected error for a line without '='")
	}
}
