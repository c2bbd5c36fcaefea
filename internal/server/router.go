package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/emuctl/internal/controller"
	"github.com/loykin/emuctl/internal/history"
	"github.com/loykin/emuctl/internal/metrics"
	"github.com/loykin/emuctl/internal/process"
)

// StatusSource answers status queries for one kind.
type StatusSource interface {
	Status(ctx context.Context, kind process.Kind, port int) (controller.Status, error)
}

// HistorySource lists recent lifecycle events, newest first.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

// Router provides embeddable, read-only HTTP handlers over a controller.
// Endpoints:
//
//	GET {basePath}/status          statuses of every kind
//	GET {basePath}/status/:kind    query: port=N (optional)
//	GET {basePath}/history         query: limit=N (only with a history source)
//	GET /healthz
//	GET /metrics
//
// Lifecycle operations are not exposed. basePath may be empty or start with
// '/'; no trailing slash.
type Router struct {
	src      StatusSource
	hist     HistorySource
	gatherer prometheus.Gatherer
	basePath string
}

// NewRouter constructs a Router. hist may be nil.
func NewRouter(src StatusSource, hist HistorySource, basePath string) *Router {
	return &Router{src: src, hist: hist, basePath: sanitizeBase(basePath)}
}

// WithGatherer serves /metrics from g instead of the default registry.
func (r *Router) WithGatherer(g prometheus.Gatherer) *Router {
	r.gatherer = g
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	mh := metrics.Handler()
	if r.gatherer != nil {
		mh = metrics.HandlerFor(r.gatherer)
	}
	g.GET("/metrics", gin.WrapH(mh))

	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatusAll)
	group.GET("/status/:kind", r.handleStatus)
	group.GET("/history", r.handleHistory)
	return g
}

// NewServer starts a standalone server on addr using r, over HTTPS when tc
// is non-nil. Listen errors are returned; stop it with Shutdown or Close.
func NewServer(addr string, r *Router, tc *tls.Config) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// a status call can sit behind a start holding the kind lock
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	if tc != nil {
		ln = tls.NewListener(ln, tc)
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	kind, err := process.ParseKind(c.Param("kind"))
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	port, ok := queryInt(c, "port", 0)
	if !ok || port < 0 || port > 65535 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "port must be an integer in 0-65535"})
		return
	}
	st, err := r.src.Status(c.Request.Context(), kind, port)
	if err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStatusAll(c *gin.Context) {
	out := make([]controller.Status, 0, len(process.Kinds()))
	for _, kind := range process.Kinds() {
		st, err := r.src.Status(c.Request.Context(), kind, 0)
		if err != nil {
			writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
			return
		}
		out = append(out, st)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not enabled"})
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok || limit <= 0 || limit > 1000 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be an integer in 1-1000"})
		return
	}
	events, err := r.hist.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	s := c.Query(key)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func statusCode(err error) int {
	if errors.Is(err, process.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
