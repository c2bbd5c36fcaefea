package main

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/emuctl/internal/agent"
)

// run executes the CLI in-process and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func decodeReply(t *testing.T, s string) agent.Reply {
	t.Helper()
	var r agent.Reply
	require.NoError(t, json.Unmarshal([]byte(s), &r), s)
	return r
}

func TestHelp(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "emuctl")
	for _, sub := range []string{"download", "emulator", "nats", "federation", "status", "serve"} {
		assert.Contains(t, out, sub)
	}
}

func TestDownloadByKindThenStatus(t *testing.T) {
	body := []byte("#!/bin/sh\nexit 0\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(body) }))
	defer srv.Close()
	dir := t.TempDir()

	out, err := run(t, "--work-dir", dir, "download", "--url", srv.URL+"/nats-server", "--kind", "nats")
	require.NoError(t, err, out)
	r := decodeReply(t, out)
	assert.True(t, r.Success)
	sum := md5.Sum(body)
	assert.Contains(t, out, hex.EncodeToString(sum[:]))

	got, err := os.ReadFile(filepath.Join(dir, "nats-server"))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	out, err = run(t, "--work-dir", dir, "status", "--kind", "nats")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"state": "staged"`)
	assert.Contains(t, out, `"running": false`)
}

func TestDownloadRequiresTarget(t *testing.T) {
	_, err := run(t, "--work-dir", t.TempDir(), "download", "--url", "http://127.0.0.1:1/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--target or --kind")

	_, err = run(t, "--work-dir", t.TempDir(), "download", "--url", "http://127.0.0.1:1/x", "--target", "../escape")
	assert.Error(t, err)
}

func TestStopWhenNothingRuns(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "--work-dir", dir, "nats", "stop")
	require.NoError(t, err, out)
	r := decodeReply(t, out)
	assert.True(t, r.Success)
	assert.Equal(t, "stop_nats", r.Action)

	out, err = run(t, "--work-dir", dir, "federation", "stop")
	require.NoError(t, err, out)
	assert.True(t, decodeReply(t, out).Success)
}

func TestStartWithoutBinary(t *testing.T) {
	out, err := run(t, "--work-dir", t.TempDir(), "nats", "start", "--port", "14222", "--monitor-port", "18222")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary not staged")
	assert.False(t, decodeReply(t, out).Success)
}

func TestActionStatus(t *testing.T) {
	dir := t.TempDir()
	// federation and nats are detected by pid file, so no network probing is involved
	out, err := run(t, "--work-dir", dir, "action", "status", "kind=federation")
	require.NoError(t, err, out)
	r := decodeReply(t, out)
	assert.True(t, r.Success)
	assert.Contains(t, out, `"state": "unstaged"`)
}

func TestActionErrors(t *testing.T) {
	_, err := run(t, "--work-dir", t.TempDir(), "action", "reboot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")

	_, err = run(t, "--work-dir", t.TempDir(), "action", "status", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key=value")

	_, err = run(t, "action")
	assert.Error(t, err)
}

func TestHistoryFromSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "emuctl.toml")
	cfg := "work_dir = \"" + filepath.Join(dir, "work") + "\"\n\n[history]\nenabled = true\ndsn = \"" + filepath.Join(dir, "history.db") + "\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("x")) }))
	defer srv.Close()

	_, err := run(t, "--config", cfgPath, "download", "--url", srv.URL, "--target", "artifact.bin")
	require.NoError(t, err)

	out, err := run(t, "--config", cfgPath, "history", "--limit", "5")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"type": "download"`)
}

func TestHistoryDisabled(t *testing.T) {
	_, err := run(t, "--work-dir", t.TempDir(), "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enabled")
}

func TestServeNonBlocking(t *testing.T) {
	_, err := run(t, "--work-dir", t.TempDir(), "serve", "--listen", "127.0.0.1:0", "--non-blocking")
	assert.NoError(t, err)
}

func TestRemoteStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/status/emulator") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"kind":"emulator","state":"up","running":true,"pid":9,"detector":"http:x"}`))
	}))
	defer srv.Close()

	out, err := run(t, "status", "--kind", "emulator", "--api-url", srv.URL+"/api")
	require.NoError(t, err)
	assert.Contains(t, out, `"pid": 9`)
}

func TestRemoteHistoryOverTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"type":"stop","kind":"nats","success":true}]`))
	}))
	defer srv.Close()

	_, err := run(t, "history", "--limit", "2", "--api-url", srv.URL+"/api")
	require.Error(t, err)

	ca := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(ca, block, 0o600))

	out, err := run(t, "history", "--limit", "2", "--api-url", srv.URL+"/api", "--api-ca", ca)
	require.NoError(t, err)
	assert.Contains(t, out, `"stop"`)

	out, err = run(t, "history", "--limit", "2", "--api-url", srv.URL+"/api", "--api-insecure")
	require.NoError(t, err)
	assert.Contains(t, out, `"nats"`)
}

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"instances=5", "servers=a:1,b:2", "name="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"instances": "5", "servers": "a:1,b:2", "name": ""}, got)

	for _, bad := range []string{"x", "=1", " =1"} {
		_, err := parseKeyValues([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestServeWithTLS(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "emuctl.toml")
	cfg := "work_dir = \"" + filepath.Join(dir, "work") + "\"\n\n[server.tls]\nenabled = true\ndir = \"" + filepath.Join(dir, "tls") + "\"\nauto_generate = true\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	_, err := run(t, "--config", cfgPath, "serve", "--listen", "127.0.0.1:0", "--non-blocking")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "tls", "tls.crt"))
	assert.NoError(t, err)
}
