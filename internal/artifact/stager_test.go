package artifact

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStage_WritesAllBytesAndChecksum(t *testing.T) {
	body := bytes.Repeat([]byte("choria-emulator-binary\x00"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "work")
	s := New(dir, 5*time.Second, nil)
	dest, err := s.Path("choria-emulator")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}

	res, err := s.Stage(context.Background(), srv.URL+"/emulator", dest)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if res.Size != int64(len(body)) {
		t.Fatalf("size = %d, want %d", res.Size, len(body))
	}
	sum := md5.Sum(body)
	want := hex.EncodeToString(sum[:])
	if res.Checksum != want {
		t.Fatalf("checksum = %s, want %s", res.Checksum, want)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != int64(len(body)) {
		t.Fatalf("file size = %d, want %d", info.Size(), len(body))
	}

	got, err := Checksum(dest)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if got != want {
		t.Fatalf("Checksum() = %s, want %s", got, want)
	}
}

func TestStage_OverwritesExistingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "bin")
	if err := os.WriteFile(dest, []byte("old contents that are longer"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := New(dir, 0, nil).Stage(context.Background(), srv.URL, dest)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	b, _ := os.ReadFile(dest)
	if string(b) != "new" || res.Size != 3 {
		t.Fatalf("unexpected contents %q size %d", b, res.Size)
	}
}

func TestStage_Failures(t *testing.T) {
	t.Run("http error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()
		dir := t.TempDir()
		_, err := New(dir, time.Second, nil).Stage(context.Background(), srv.URL, filepath.Join(dir, "x"))
		if !errors.Is(err, ErrDownload) {
			t.Fatalf("expected ErrDownload, got %v", err)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		dir := t.TempDir()
		_, err := New(dir, time.Second, nil).Stage(context.Background(), url, filepath.Join(dir, "x"))
		if !errors.Is(err, ErrDownload) {
			t.Fatalf("expected ErrDownload, got %v", err)
		}
	})

	t.Run("unwritable destination", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("data"))
		}))
		defer srv.Close()
		dir := t.TempDir()
		dest := filepath.Join(dir, "missing", "x")
		_, err := New(dir, time.Second, nil).Stage(context.Background(), srv.URL, dest)
		if !errors.Is(err, ErrDownload) {
			t.Fatalf("expected ErrDownload, got %v", err)
		}
	})
}

func TestPath_RejectsTraversal(t *testing.T) {
	s := New("/tmp/work", 0, nil)
	for _, bad := range []string{"", " ", "..", "../etc/passwd", "a/b", `a\b`} {
		if _, err := s.Path(bad); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("Path(%q) err = %v, want ErrInvalidTarget", bad, err)
		}
	}
	p, err := s.Path("nats-server")
	if err != nil || p != filepath.Join("/tmp/work", "nats-server") {
		t.Fatalf("Path(nats-server) = %q, %v", p, err)
	}
}

func TestChecksum_MissingFile(t *testing.T) {
	if _, err := Checksum(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
