// internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "station"

// Metrics holds every collector of the station process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	busDepth prometheus.Gauge

	plcState      prometheus.Gauge
	plcReads      prometheus.Counter
	plcWrites     prometheus.Counter
	plcReconnects prometheus.Counter
	plcProtoErrs  prometheus.Counter
	plcCoalesced  prometheus.Counter

	broadcasts *prometheus.CounterVec

	pushClients prometheus.Gauge
	pushDrops   *prometheus.CounterVec

	journalEvents   prometheus.Counter
	patchRejections prometheus.Counter

	uplinkErrors prometheus.Counter
}

// New creates and registers all collectors on reg.
// nil registry = nil metrics.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		busDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus",
			Name: "depth", Help: "Messages waiting in the event bus",
		}),

		plcState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "plc",
			Name: "connection_state", Help: "0 disconnected, 1 connecting, 2 connected",
		}),
		plcReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "plc",
			Name: "reads_total", Help: "Successful batch reads",
		}),
		plcWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "plc",
			Name: "writes_total", Help: "Acknowledged single-point writes",
		}),
		plcReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "plc",
			Name: "reconnects_total", Help: "Connections lost or refused",
		}),
		plcProtoErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "plc",
			Name: "protocol_errors_total", Help: "Responses with a nonzero end code",
		}),
		plcCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "plc",
			Name: "writes_coalesced_total", Help: "Writes suppressed by the sent-state cache",
		}),

		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "controller",
			Name: "broadcasts_total", Help: "Envelopes handed to the broadcaster",
		}, []string{"type"}),

		pushClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "push",
			Name: "clients_connected", Help: "Connected operator consoles",
		}),
		pushDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "push",
			Name: "dropped_total", Help: "Frames dropped by the push channel",
		}, []string{"reason"}),

		journalEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "state",
			Name: "journal_events_total", Help: "Patch events appended to the journal",
		}),
		patchRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "state",
			Name: "patch_rejections_total", Help: "Patch events rejected before journaling",
		}),

		uplinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "uplink",
			Name: "publish_errors_total", Help: "Failed NATS publishes",
		}),
	}

	reg.MustRegister(
		m.busDepth,
		m.plcState, m.plcReads, m.plcWrites, m.plcReconnects, m.plcProtoErrs, m.plcCoalesced,
		m.broadcasts,
		m.pushClients, m.pushDrops,
		m.journalEvents, m.patchRejections,
		m.uplinkErrors,
	)
	return m
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ---- recorders (nil-safe) ----

func (m *Metrics) BusDepth(n int) {
	if m != nil {
		m.busDepth.Set(float64(n))
	}
}

func (m *Metrics) PLCState(s int) {
	if m != nil {
		m.plcState.Set(float64(s))
	}
}

func (m *Metrics) PLCRead() {
	if m != nil {
		m.plcReads.Inc()
	}
}

func (m *Metrics) PLCWrite() {
	if m != nil {
		m.plcWrites.Inc()
	}
}

func (m *Metrics) PLCReconnect() {
	if m != nil {
		m.plcReconnects.Inc()
	}
}

func (m *Metrics) PLCProtocolError() {
	if m != nil {
		m.plcProtoErrs.Inc()
	}
}

func (m *Metrics) PLCCoalesced() {
	if m != nil {
		m.plcCoalesced.Inc()
	}
}

func (m *Metrics) Broadcast(envelopeType string) {
	if m != nil {
		m.broadcasts.WithLabelValues(envelopeType).Inc()
	}
}

func (m *Metrics) PushClients(n int) {
	if m != nil {
		m.pushClients.Set(float64(n))
	}
}

func (m *Metrics) PushDropped(reason string) {
	if m != nil {
		m.pushDrops.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) JournalEvent() {
	if m != nil {
		m.journalEvents.Inc()
	}
}

func (m *Metrics) PatchRejected() {
	if m != nil {
		m.patchRejections.Inc()
	}
}

func (m *Metrics) UplinkError() {
	if m != nil {
		m.uplinkErrors.Inc()
	}
}

// ---- exposition ----

// Serve exposes reg on listen+path until ctx is done.
func Serve(ctx context.Context, listen, path string, reg *prometheus.Registry, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "component", "metrics", "addr", listen, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
