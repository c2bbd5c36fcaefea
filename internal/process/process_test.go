//go:build !windows

package process

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

// writeScript drops an executable shell script into dir.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "bin")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestLaunchAppendsOutputToLog(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	bin := writeScript(t, dir, `echo "out $1 $FOO $BAR"; echo err 1>&2`)
	logPath := filepath.Join(dir, "logs", "emu.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath, []byte("previous\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	l := NewLauncher(nil)
	pid, err := l.Launch(LaunchSpec{Kind: KindEmulator, Binary: bin, Args: []string{"hello world"}, LogPath: logPath, Env: []string{"FOO=bar", "BAR=${FOO}-x"}})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected positive pid, got %d", pid)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		b, _ := os.ReadFile(logPath)
		return strings.Contains(string(b), "err")
	})
	b, _ := os.ReadFile(logPath)
	if !ok {
		t.Fatalf("log never received output: %q", string(b))
	}
	s := string(b)
	if !strings.HasPrefix(s, "previous\n") {
		t.Fatalf("log was truncated: %q", s)
	}
	if !strings.Contains(s, "out hello world bar bar-x") {
		t.Fatalf("argument or env not passed through: %q", s)
	}
}

func TestLaunchIsDetachedSession(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	bin := writeScript(t, dir, "exec sleep 5")
	l := NewLauncher(nil)
	pid, err := l.Launch(LaunchSpec{Kind: KindNATS, Binary: bin, LogPath: filepath.Join(dir, "x.log")})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { _ = Signal(pid, syscall.SIGKILL) })

	sid, err := unix.Getsid(pid)
	if err != nil {
		t.Fatalf("getsid: %v", err)
	}
	if sid != pid {
		t.Fatalf("child should lead its own session: sid=%d pid=%d", sid, pid)
	}
}

func TestLaunchReapsExitedChild(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	bin := writeScript(t, dir, "exit 0")
	pid, err := NewLauncher(nil).Launch(LaunchSpec{Kind: KindEmulator, Binary: bin, LogPath: filepath.Join(dir, "x.log")})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	// once reaped the pid no longer exists, not even as a zombie
	if !waitFor(t, 2*time.Second, func() bool { return errors.Is(Signal(pid, 0), ErrProcessGone) }) {
		t.Fatalf("child %d was not reaped", pid)
	}
}

func TestLaunchRejectsBadBinary(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	notExec := filepath.Join(dir, "plain")
	if err := os.WriteFile(notExec, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLauncher(nil)
	for name, bin := range map[string]string{
		"missing":        filepath.Join(dir, "nope"),
		"directory":      dir,
		"not executable": notExec,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := l.Launch(LaunchSpec{Binary: bin, LogPath: filepath.Join(dir, "x.log")})
			if !errors.Is(err, ErrSpawn) {
				t.Fatalf("expected ErrSpawn, got %v", err)
			}
		})
	}
}

func TestLaunchRequiresLogPath(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	bin := writeScript(t, dir, "exit 0")
	if _, err := NewLauncher(nil).Launch(LaunchSpec{Binary: bin}); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestSignalAndParse(t *testing.T) {
	requireUnix(t)
	cases := map[string]syscall.Signal{
		"":        syscall.SIGTERM,
		"term":    syscall.SIGTERM,
		"SIGHUP":  syscall.SIGHUP,
		" int ":   syscall.SIGINT,
		"sigkill": syscall.SIGKILL,
	}
	for in, want := range cases {
		got, err := ParseSignal(in)
		if err != nil || got != want {
			t.Errorf("ParseSignal(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseSignal("USR9"); err == nil {
		t.Fatalf("expected error for unknown signal")
	}
	if err := Signal(0, syscall.SIGTERM); err == nil {
		t.Fatalf("expected error for pid 0")
	}
	if err := Signal(os.Getpid(), 0); err != nil {
		t.Fatalf("signal 0 to self: %v", err)
	}
}

func TestWriteCredentials(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "credentials")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	// pre-existing permissive file must end up owner-only
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteCredentials(path, "c2VjcmV0"); err != nil {
		t.Fatalf("WriteCredentials: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "secret" {
		t.Fatalf("content = %q, %v", string(b), err)
	}
	fi, _ := os.Stat(path)
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %04o, want 0600", fi.Mode().Perm())
	}
	if err := WriteCredentials(path, "not base64!"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
