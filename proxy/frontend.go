// File: proxy/frontend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP listeners, routing and the broadcast/await exchange.

package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-gate/bridge"
	"github.com/momentics/hioload-gate/control"
)

// Bridge is the WebSocket side as seen by the front end.
type Bridge interface {
	Broadcast(msg string) int
	AwaitResponse(ctx context.Context) (string, error)
	Request(ctx context.Context, msg string) (string, error)
	Peers() int
}

// Config holds the front end parameters.
type Config struct {
	Ports             []int         // listening ports; 0 binds an ephemeral port
	ResponseTimeout   time.Duration // 0 waits until the client goes away
	Correlate         bool          // tag requests with tokens instead of serializing
	RateLimit         float64       // requests per second; 0 disables limiting
	Burst             int           // limiter burst; defaults to 1 when limiting
	StatePath         string        // JSON state endpoint; empty disables it
	MetricsPath       string        // Prometheus endpoint; empty disables it
	ReadHeaderTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Ports:             []int{8080},
		ResponseTimeout:   30 * time.Second,
		StatePath:         "/_gateway/state",
		MetricsPath:       "/_gateway/metrics",
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Option customizes the front end.
type Option func(*Frontend)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Frontend) {
		if l != nil {
			f.log = l
		}
	}
}

// WithMetrics records request counters and serves them on MetricsPath.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(f *Frontend) { f.metrics = m }
}

// WithProbes includes probe output in the state endpoint.
func WithProbes(dp *control.DebugProbes) Option {
	return func(f *Frontend) { f.probes = dp }
}

// Frontend is the HTTP side of the gateway.
type Frontend struct {
	cfg     *Config
	bridge  Bridge
	log     *zap.Logger
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes
	limiter *rate.Limiter
	router  chi.Router

	// turn admits one shared-mode exchange at a time.
	turn chan struct{}

	mu        sync.Mutex
	servers   []*http.Server
	listeners []net.Listener
	wg        sync.WaitGroup
}

// New builds the router. Listeners are opened by Start.
func New(cfg *Config, b Bridge, opts ...Option) (*Frontend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if b == nil {
		return nil, fmt.Errorf("proxy: bridge is required")
	}
	for _, p := range cfg.Ports {
		if p < 0 || p > 65535 {
			return nil, fmt.Errorf("proxy: invalid port: %d", p)
		}
	}
	cp := *cfg
	f := &Frontend{
		cfg:    &cp,
		bridge: b,
		log:    zap.NewNop(),
		turn:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(f)
	}
	if cp.RateLimit > 0 {
		burst := cp.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cp.RateLimit), burst)
	}
	f.router = f.routes()
	return f, nil
}

func (f *Frontend) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(f.accessLog)

	if f.cfg.StatePath != "" {
		r.Get(f.cfg.StatePath, f.handleState)
	}
	if f.cfg.MetricsPath != "" && f.metrics != nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(control.NewCollector("hioload_gate", f.metrics))
		r.Handle(f.cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	r.Group(func(r chi.Router) {
		r.Use(f.rateLimit)
		r.HandleFunc("/*", f.handleProxy)
	})
	return r
}

// Handler returns the routed HTTP handler.
func (f *Frontend) Handler() http.Handler { return f.router }

// Start opens every configured port and serves in the background.
func (f *Frontend) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, port := range f.cfg.Ports {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			for _, l := range f.listeners {
				l.Close()
			}
			f.listeners, f.servers = nil, nil
			return fmt.Errorf("proxy listen port %d: %w", port, err)
		}
		srv := &http.Server{
			Handler:           f.router,
			ReadHeaderTimeout: f.cfg.ReadHeaderTimeout,
			ErrorLog:          zap.NewStdLog(f.log),
		}
		f.listeners = append(f.listeners, ln)
		f.servers = append(f.servers, srv)
	}
	for i, srv := range f.servers {
		ln := f.listeners[i]
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				f.log.Error("proxy listener failed", zap.Stringer("addr", ln.Addr()), zap.Error(err))
			}
		}()
		f.log.Info("proxy listener started", zap.Stringer("addr", ln.Addr()))
	}
	return nil
}

// Addrs returns the bound listener addresses after Start.
func (f *Frontend) Addrs() []net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]net.Addr, len(f.listeners))
	for i, l := range f.listeners {
		out[i] = l.Addr()
	}
	return out
}

// Shutdown stops the listeners, waiting for in-flight requests until ctx
// is done.
func (f *Frontend) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	servers := f.servers
	f.mu.Unlock()
	var err error
	for _, srv := range servers {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	f.wg.Wait()
	return err
}

// Run starts the listeners and blocks until ctx is done.
func (f *Frontend) Run(ctx context.Context) error {
	if err := f.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Shutdown(sctx)
}

// handleProxy broadcasts the request and writes back the reply.
func (f *Frontend) handleProxy(w http.ResponseWriter, r *http.Request) {
	f.metrics.Inc(control.MetricProxyRequests)
	raw, err := httputil.DumpRequest(r, true)
	if err != nil {
		http.Error(w, "cannot read request", http.StatusBadRequest)
		return
	}
	if f.bridge.Peers() == 0 {
		f.fail(w, r, http.StatusBadGateway, bridge.ErrNoPeers)
		return
	}

	ctx := r.Context()
	if f.cfg.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.ResponseTimeout)
		defer cancel()
	}

	var reply string
	if f.cfg.Correlate {
		reply, err = f.bridge.Request(ctx, string(raw))
	} else {
		reply, err = f.exchange(ctx, string(raw))
	}
	switch {
	case err == nil:
		writeReply(w, reply)
	case errors.Is(err, bridge.ErrNoPeers):
		f.fail(w, r, http.StatusBadGateway, err)
	case errors.Is(err, bridge.ErrClosed):
		f.fail(w, r, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		f.metrics.Inc(control.MetricProxyTimeouts)
		f.fail(w, r, http.StatusGatewayTimeout, err)
	default:
		// The client went away; nobody is left to answer.
		f.log.Debug("request abandoned", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	}
}

// exchange runs one shared-mode broadcast and waits for the next reply.
func (f *Frontend) exchange(ctx context.Context, msg string) (string, error) {
	select {
	case f.turn <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-f.turn }()
	if f.bridge.Broadcast(msg) == 0 {
		return "", bridge.ErrNoPeers
	}
	return f.bridge.AwaitResponse(ctx)
}

func (f *Frontend) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	f.log.Info("proxy request failed",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("status", status),
		zap.Error(err))
	http.Error(w, err.Error(), status)
}

type stateResponse struct {
	Peers   int            `json:"peers"`
	Metrics map[string]any `json:"metrics"`
	Probes  map[string]any `json:"probes,omitempty"`
	Time    time.Time      `json:"time"`
}

func (f *Frontend) handleState(w http.ResponseWriter, r *http.Request) {
	st := stateResponse{
		Peers:   f.bridge.Peers(),
		Metrics: f.metrics.GetSnapshot(),
		Time:    time.Now().UTC(),
	}
	if f.probes != nil {
		st.Probes = f.probes.DumpState()
	}
	render.JSON(w, r, st)
}

func (f *Frontend) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.limiter != nil && !f.limiter.Allow() {
			f.metrics.Inc(control.MetricProxyRejected)
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *Frontend) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		f.log.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}
