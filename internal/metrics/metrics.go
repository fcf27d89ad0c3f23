// Package metrics exposes the ambient observability layer spec.md has
// no room for: Prometheus counters and histograms for breakpoints,
// steps, sessions, and native callback dispatch latency, served on a
// dedicated metrics-listen address that never shares the stdio
// transport. Modeled on oriys-nova's internal/metrics/prometheus.go,
// generalized from a serverless-invocation namespace to a debug
// session one.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the collectors this process reports. A process that
// never configures metrics-listen still increments these counters
// (the hot-path calls are free no-ops against an unregistered
// registry); only the HTTP exposition is conditional.
type Registry struct {
	registry *prometheus.Registry

	sessionsLaunched    prometheus.Counter
	sessionsAttached    prometheus.Counter
	sessionsTerminated  *prometheus.CounterVec
	breakpointsSet      prometheus.Counter
	breakpointsHit      *prometheus.CounterVec
	stepsIssued         *prometheus.CounterVec
	nativeCallbackDelay prometheus.Histogram
}

// New builds a Registry under the given namespace (e.g. "clrdbg_mcp").
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		registry: reg,
		sessionsLaunched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_launched_total",
			Help:      "Total number of Launch calls that produced a running session.",
		}),
		sessionsAttached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_attached_total",
			Help:      "Total number of Attach calls that produced a running session.",
		}),
		sessionsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminated_total",
			Help:      "Total number of sessions torn down by Disconnect, labeled by reason.",
		}, []string{"reason"}),
		breakpointsSet: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breakpoints_set_total",
			Help:      "Total number of SetBreakpoint calls that returned an id.",
		}),
		breakpointsHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breakpoints_hit_total",
			Help:      "Total number of breakpoint-hit events dispatched, labeled by resolved/pending.",
		}, []string{"resolved"}),
		stepsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_issued_total",
			Help:      "Total number of step requests, labeled by kind (over/into/out).",
		}, []string{"kind"}),
		nativeCallbackDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "native_callback_dispatch_seconds",
			Help:      "Time from a shim thread delivering a callback to the owner goroutine processing it.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.sessionsLaunched,
		r.sessionsAttached,
		r.sessionsTerminated,
		r.breakpointsSet,
		r.breakpointsHit,
		r.stepsIssued,
		r.nativeCallbackDelay,
	)
	return r
}

func (r *Registry) RecordSessionLaunched()           { r.sessionsLaunched.Inc() }
func (r *Registry) RecordSessionAttached()           { r.sessionsAttached.Inc() }
func (r *Registry) RecordSessionTerminated(reason string) {
	r.sessionsTerminated.WithLabelValues(reason).Inc()
}
func (r *Registry) RecordBreakpointSet() { r.breakpointsSet.Inc() }
func (r *Registry) RecordBreakpointHit(resolved bool) {
	label := "false"
	if resolved {
		label = "true"
	}
	r.breakpointsHit.WithLabelValues(label).Inc()
}
func (r *Registry) RecordStep(kind string) { r.stepsIssued.WithLabelValues(kind).Inc() }
func (r *Registry) RecordNativeCallbackDelay(d time.Duration) {
	r.nativeCallbackDelay.Observe(d.Seconds())
}

// Handler returns the promhttp handler for this registry's collectors.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server on addr exposing /metrics, returning
// once ctx is canceled. A non-empty addr is required by the caller
// (cmd/serve.go only calls this when --metrics-listen was set; the
// metrics subsystem is off by default).
func Serve(ctx context.Context, addr string, r *Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
