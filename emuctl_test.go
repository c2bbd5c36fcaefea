package emuctl

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFacadeStageStatusStop(t *testing.T) {
	body := []byte("not really a broker")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(body) }))
	defer srv.Close()

	dir := t.TempDir()
	c := New(Options{WorkDir: dir, Identity: "facade.test", Poll: Policy{Attempts: 2, Interval: 10 * time.Millisecond}})
	if c.WorkDir() != dir {
		t.Fatalf("work dir = %s", c.WorkDir())
	}
	ctx := context.Background()

	sum, err := c.Stage(ctx, KindNATS, srv.URL)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if len(sum) != 32 {
		t.Fatalf("checksum %q", sum)
	}
	if _, err := os.Stat(filepath.Join(dir, "nats-server")); err != nil {
		t.Fatalf("binary not staged: %v", err)
	}

	st, err := c.Status(ctx, KindNATS, 0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Running || st.State.String() != "staged" || st.Checksum != sum {
		t.Fatalf("unexpected status: %+v", st)
	}

	st, err = c.Stop(ctx, KindNATS, StopRequest{})
	if err != nil || st.Running {
		t.Fatalf("stop of an idle kind: %+v %v", st, err)
	}
}

func TestFacadeErrors(t *testing.T) {
	c := New(Options{WorkDir: t.TempDir()})
	_, err := c.Start(context.Background(), KindFederation, Request{FederationServers: "a:1", CollectiveServers: "b:1"})
	if !errors.Is(err, ErrNotStaged) {
		t.Fatalf("want ErrNotStaged, got %v", err)
	}
	_, err = c.Status(context.Background(), Kind("redis"), 0)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("want ErrInvalidRequest, got %v", err)
	}
}

func TestFacadeDispatch(t *testing.T) {
	c := New(Options{WorkDir: t.TempDir()})
	r := c.Dispatch(context.Background(), "status", map[string]any{"kind": "nats"})
	if !r.Success || r.RequestID == "" {
		t.Fatalf("unexpected reply: %+v", r)
	}
	r = c.Dispatch(context.Background(), "explode", nil)
	if r.Success {
		t.Fatalf("unknown action must fail")
	}
}

func TestFacadeFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emuctl.toml")
	content := "work_dir = \"" + dir + "\"\nidentity = \"cfg.test\"\n\n[processes.nats]\nbinary = \"gnatsd\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	conf, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sink, err := NewHistorySink(filepath.Join(dir, "h.db"))
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	if cl, ok := sink.(io.Closer); ok {
		t.Cleanup(func() { _ = cl.Close() })
	}
	c, err := NewFromConfig(conf, nil, sink)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	st, err := c.Status(context.Background(), KindNATS, 0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State.String() != "unstaged" {
		t.Fatalf("state = %s", st.State)
	}
}

func TestMetricsHelpers(t *testing.T) {
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
	// a failed download is counted
	c := New(Options{WorkDir: t.TempDir()})
	if _, err := c.Stage(context.Background(), KindNATS, "http://127.0.0.1:1/nats-server"); err == nil {
		t.Fatalf("download from a closed port should fail")
	}

	rr := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "emuctl_") {
		t.Fatalf("metrics output missing emuctl prefix")
	}
}

func TestFacadeHTTPServer(t *testing.T) {
	c := New(Options{WorkDir: t.TempDir()})
	srv, err := NewHTTPServer("127.0.0.1:0", "/api", c)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer func() { _ = srv.Close() }()
	resp, err := http.Get("http://" + srv.Addr + "/api/status/federation")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
