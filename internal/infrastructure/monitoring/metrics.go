package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/service"
)

// Metrics manages the Prometheus metrics and implements service.Metrics.
type Metrics struct {
	TokenRenewals   *prometheus.CounterVec
	TokenLatency    *prometheus.HistogramVec
	ConnectionPhase *prometheus.GaugeVec
	Reconnects      prometheus.Counter
	BackoffDelay    prometheus.Histogram
	Frames          *prometheus.CounterVec
	MalformedFrames prometheus.Counter
	Statuses        *prometheus.CounterVec
	PollCycles      *prometheus.CounterVec
	PollLatency     prometheus.Histogram
	PolledDevices   prometheus.Gauge
	APICalls        *prometheus.CounterVec
	APILatency      *prometheus.HistogramVec
	Publications    *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec
	SSESubscribers  prometheus.Gauge
}

// NewMetrics creates and registers the metrics on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		TokenRenewals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contatto_token_renewals_total",
			Help: "Token logins and refreshes by result.",
		}, []string{"kind", "result"}),
		TokenLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contatto_token_renewal_duration_seconds",
			Help:    "Latency of token logins and refreshes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		ConnectionPhase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contatto_realtime_phase",
			Help: "1 for the current phase of the real-time connection, 0 otherwise.",
		}, []string{"phase"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "contatto_realtime_reconnects_total",
			Help: "Reconnect attempts scheduled.",
		}),
		BackoffDelay: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "contatto_realtime_backoff_seconds",
			Help:    "Delay before each reconnect attempt.",
			Buckets: []float64{5, 10, 20, 40, 80, 160, 300},
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contatto_realtime_frames_total",
			Help: "Inbound real-time frames by kind.",
		}, []string{"kind"}),
		MalformedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "contatto_realtime_malformed_frames_total",
			Help: "Inbound frames that could not be decoded.",
		}),
		Statuses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contatto_status_submissions_total",
			Help: "Device statuses offered to the reconciler by source and outcome.",
		}, []string{"source", "result"}),
		PollCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contatto_poll_cycles_total",
			Help: "Polling passes by result.",
		}, []string{"result"}),
		PollLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "contatto_poll_duration_seconds",
			Help:    "Duration of polling passes.",
			Buckets: prometheus.DefBuckets,
		}),
		PolledDevices: f.NewGauge(prometheus.GaugeOpts{
			Name: "contatto_poll_devices",
			Help: "Devices covered by the last polling pass.",
		}),
		APICalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contatto_api_calls_total",
			Help: "Vendor API calls by operation and HTTP status.",
		}, []string{"operation", "status"}),
		APILatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contatto_api_call_duration_seconds",
			Help:    "Latency of vendor API calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		Publications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contatto_event_publications_total",
			Help: "Status changes published to the event bus by result.",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contatto_http_requests_total",
			Help: "Requests served by the bridge API.",
		}, []string{"method", "path", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contatto_http_request_duration_seconds",
			Help:    "Latency of bridge API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		SSESubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "contatto_sse_subscribers",
			Help: "Open server-sent event streams.",
		}),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) RecordTokenRenewal(kind string, success bool, duration time.Duration) {
	m.TokenRenewals.WithLabelValues(kind, result(success)).Inc()
	m.TokenLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordConnectionPhase(phase models.Phase) {
	for _, p := range models.AllPhases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.ConnectionPhase.WithLabelValues(string(p)).Set(v)
	}
}

func (m *Metrics) RecordReconnectScheduled(attempt int, delay time.Duration) {
	m.Reconnects.Inc()
	m.BackoffDelay.Observe(delay.Seconds())
}

func (m *Metrics) RecordFrame(kind string) {
	m.Frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordMalformedFrame() {
	m.MalformedFrames.Inc()
}

func (m *Metrics) RecordStatus(source models.StatusSource, accepted bool) {
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	m.Statuses.WithLabelValues(string(source), outcome).Inc()
}

func (m *Metrics) RecordPollCycle(success bool, devices int, duration time.Duration) {
	m.PollCycles.WithLabelValues(result(success)).Inc()
	m.PollLatency.Observe(duration.Seconds())
	if success {
		m.PolledDevices.Set(float64(devices))
	}
}

func (m *Metrics) RecordAPICall(operation string, status int, duration time.Duration) {
	m.APICalls.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.APILatency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordPublish(success bool) {
	m.Publications.WithLabelValues(result(success)).Inc()
}

// RecordHTTPRequest records one request served by the bridge API.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SSESubscriberDelta adjusts the open stream gauge.
func (m *Metrics) SSESubscriberDelta(delta int) {
	m.SSESubscribers.Add(float64(delta))
}

var _ service.Metrics = (*Metrics)(nil)
