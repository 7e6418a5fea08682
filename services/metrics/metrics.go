// Package metrics mirrors HAL readings and failures into Prometheus
// collectors and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dhtnode-go/bus"
	"dhtnode-go/services/hal"
	"dhtnode-go/types"
)

type Metrics struct {
	reg *prometheus.Registry

	temperature *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	readings    *prometheus.CounterVec
	readErrors  *prometheus.CounterVec
	link        *prometheus.GaugeVec
	alive       *prometheus.GaugeVec
	httpTotal   *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec

	// last counted failure per capability name, by status timestamp
	failedAt map[string]int64
}

// NewMetrics builds the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg:      prometheus.NewRegistry(),
		failedAt: map[string]int64{},
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dht_temperature_celsius",
			Help: "Last temperature read from a sensor.",
		}, []string{"name"}),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dht_humidity_percent",
			Help: "Last relative humidity read from a sensor.",
		}, []string{"name"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dht_readings_total",
			Help: "Values published by capability kind.",
		}, []string{"name", "kind"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dht_read_errors_total",
			Help: "Failed sensor reads by error code.",
		}, []string{"name", "code"}),
		link: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dht_capability_up",
			Help: "1 when the last read of a capability succeeded.",
		}, []string{"name", "kind"}),
		alive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dht_node_alive",
			Help: "Heartbeat state of a node (1 online, 0 offline).",
		}, []string{"name"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.reg.MustRegister(
		m.temperature,
		m.humidity,
		m.readings,
		m.readErrors,
		m.link,
		m.alive,
		m.httpTotal,
		m.httpLatency,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts and times requests to next under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.httpTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.WrapHandler("/metrics", m.Handler()))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Run observes capability values, statuses and node heartbeats until ctx
// ends.
func (m *Metrics) Run(ctx context.Context, conn *bus.Connection) {
	values := conn.Subscribe(hal.CapWildcard(hal.LeafValue))
	defer conn.Unsubscribe(values)
	statuses := conn.Subscribe(hal.CapWildcard(hal.LeafStatus))
	defer conn.Unsubscribe(statuses)
	beats := conn.Subscribe(bus.T("node", bus.WildOne, "heartbeat"))
	defer conn.Unsubscribe(beats)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-values.Channel():
			if !ok {
				return
			}
			m.observeValue(msg)
		case msg, ok := <-statuses.Channel():
			if !ok {
				return
			}
			m.observeStatus(msg)
		case msg, ok := <-beats.Channel():
			if !ok {
				return
			}
			m.observeHeartbeat(msg)
		}
	}
}

func (m *Metrics) observeValue(msg *bus.Message) {
	addr, _, ok := hal.ParseCapTopic(msg.Topic)
	if !ok {
		return
	}
	switch v := msg.Payload.(type) {
	case nil:
		m.forget(addr)
		return
	case types.TemperatureValue:
		m.temperature.WithLabelValues(addr.Name).Set(v.Celsius())
	case types.HumidityValue:
		m.humidity.WithLabelValues(addr.Name).Set(v.Percent())
	default:
		return
	}
	m.readings.WithLabelValues(addr.Name, string(addr.Kind)).Inc()
}

func (m *Metrics) observeStatus(msg *bus.Message) {
	addr, _, ok := hal.ParseCapTopic(msg.Topic)
	if !ok {
		return
	}
	st, ok := msg.Payload.(types.CapabilityStatus)
	if !ok {
		return
	}
	up := 0.0
	if st.Link == types.LinkUp {
		up = 1
	}
	m.link.WithLabelValues(addr.Name, string(addr.Kind)).Set(up)
	// Every capability of a device reports the same failed read with the
	// same timestamp; count it once.
	if st.Link == types.LinkDegraded && st.Error != "" {
		if last, seen := m.failedAt[addr.Name]; !seen || st.TS != last {
			m.failedAt[addr.Name] = st.TS
			m.readErrors.WithLabelValues(addr.Name, st.Error).Inc()
		}
	}
}

func (m *Metrics) observeHeartbeat(msg *bus.Message) {
	name, ok := msg.Topic.At(1).(string)
	if !ok {
		return
	}
	hb, ok := msg.Payload.(types.NodeHeartbeat)
	if !ok {
		return
	}
	alive := 0.0
	if hb.State == types.NodeOnline {
		alive = 1
	}
	m.alive.WithLabelValues(name).Set(alive)
}

// forget drops the series of a removed capability.
func (m *Metrics) forget(addr types.CapabilityAddress) {
	switch addr.Kind {
	case types.KindTemperature:
		m.temperature.DeleteLabelValues(addr.Name)
	case types.KindHumidity:
		m.humidity.DeleteLabelValues(addr.Name)
	}
	m.link.DeleteLabelValues(addr.Name, string(addr.Kind))
	m.readings.DeletePartialMatch(prometheus.Labels{"name": addr.Name, "kind": string(addr.Kind)})
	m.readErrors.DeletePartialMatch(prometheus.Labels{"name": addr.Name})
	delete(m.failedAt, addr.Name)
}
