package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func closedPortURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return URL("http://127.0.0.1:%d/debug/vars", port)
}

func TestQuery_ClosedPortIsDown(t *testing.T) {
	st := NewPoller(time.Second, nil).Query(context.Background(), closedPortURL(t))
	if st.Classification != Down {
		t.Fatalf("classification = %s, want down", st.Classification)
	}
	if st.Payload != nil || st.Code != 0 {
		t.Fatalf("unexpected status for closed port: %+v", st)
	}
}

func TestQuery_DecodesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/debug/vars" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"config":{"pid":123,"TLS":1},"memstats":{"Sys":4096}}`))
	}))
	defer srv.Close()

	st := NewPoller(time.Second, nil).Query(context.Background(), srv.URL+"/debug/vars")
	if !st.IsUp() || st.Code != http.StatusOK {
		t.Fatalf("expected up/200, got %+v", st)
	}
	if st.Payload == nil {
		t.Fatal("payload not decoded")
	}
	if st.Payload.Config.PID != 123 || !bool(st.Payload.Config.TLS) || st.Payload.MemStats.Sys != 4096 {
		t.Fatalf("unexpected payload: %+v", st.Payload)
	}
}

func TestQuery_Non200IsUpWithoutPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"config":{"pid":9}}`))
	}))
	defer srv.Close()

	st := NewPoller(time.Second, nil).Query(context.Background(), srv.URL)
	if st.Classification != Up {
		t.Fatalf("reachable endpoint must be up, got %s", st.Classification)
	}
	if st.Code != http.StatusServiceUnavailable || st.Payload != nil {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestQuery_MalformedBodyStaysUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	st := NewPoller(time.Second, nil).Query(context.Background(), srv.URL)
	if !st.IsUp() || st.DecodeErr == nil || st.Payload != nil {
		t.Fatalf("expected up with decode error, got %+v", st)
	}
}

func TestFlag_Unmarshal(t *testing.T) {
	cases := map[string]bool{
		`1`: true, `0`: false, `true`: true, `false`: false, `null`: false, `"1"`: true, `"true"`: true, `2`: true,
	}
	for in, want := range cases {
		var f Flag
		if err := json.Unmarshal([]byte(in), &f); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if bool(f) != want {
			t.Errorf("Flag(%s) = %v, want %v", in, f, want)
		}
	}
	var f Flag
	if err := json.Unmarshal([]byte(`"maybe"`), &f); err == nil {
		t.Fatal("expected error for non-boolean string")
	}
}

func TestWaitFor(t *testing.T) {
	t.Run("returns as soon as up", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"name":"n","config":{"pid":` + strconv.Itoa(int(hits.Add(1))) + `}}`))
		}))
		defer srv.Close()

		st := NewPoller(time.Second, nil).WaitFor(context.Background(), srv.URL, Up,
			Policy{Attempts: 3, Interval: 10 * time.Millisecond})
		if !st.IsUp() || hits.Load() != 1 {
			t.Fatalf("expected immediate up, got %+v after %d hits", st, hits.Load())
		}
	})

	t.Run("returns last status when exhausted", func(t *testing.T) {
		url := closedPortURL(t)
		start := time.Now()
		st := NewPoller(time.Second, nil).WaitFor(context.Background(), url, Up,
			Policy{Attempts: 3, Interval: 20 * time.Millisecond})
		if st.Classification != Down {
			t.Fatalf("expected down, got %s", st.Classification)
		}
		if el := time.Since(start); el < 40*time.Millisecond {
			t.Fatalf("expected two pauses between three attempts, waited %v", el)
		}
	})
}

func TestUntil(t *testing.T) {
	t.Run("counts attempts", func(t *testing.T) {
		n := 0
		ok := Until(context.Background(), Policy{Attempts: 4, Interval: time.Millisecond}, func() bool {
			n++
			return false
		})
		if ok || n != 4 {
			t.Fatalf("Until = %v after %d calls, want false after 4", ok, n)
		}
	})

	t.Run("stops when condition holds", func(t *testing.T) {
		n := 0
		ok := Until(context.Background(), Policy{Attempts: 10, Interval: time.Millisecond, Exponential: true}, func() bool {
			n++
			return n == 3
		})
		if !ok || n != 3 {
			t.Fatalf("Until = %v after %d calls", ok, n)
		}
	})

	t.Run("zero attempts still evaluates once", func(t *testing.T) {
		n := 0
		Until(context.Background(), Policy{}, func() bool { n++; return false })
		if n != 1 {
			t.Fatalf("calls = %d, want 1", n)
		}
	})

	t.Run("context cancellation ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		ok := Until(ctx, Policy{Attempts: 100, Interval: 50 * time.Millisecond}, func() bool { return false })
		if ok || time.Since(start) > time.Second {
			t.Fatalf("cancelled Until returned %v after %v", ok, time.Since(start))
		}
	})
}
