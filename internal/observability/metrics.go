package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"device", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"device", "method", "path", "status"},
	)
	storageCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devctl",
			Subsystem: "storage",
			Name:      "commands_total",
			Help:      "Storage protocol commands by operation and result.",
		},
		[]string{"op", "result"},
	)
	storageBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devctl",
			Subsystem: "storage",
			Name:      "bytes_total",
			Help:      "Raw file bytes moved by pull (out) and push (in).",
		},
		[]string{"direction"},
	)
	timersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devctl",
			Subsystem: "timers",
			Name:      "active",
			Help:      "Timers currently present in the callback registry.",
		},
	)
	timerFirings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devctl",
			Subsystem: "timer",
			Name:      "firings_total",
			Help:      "Native timer expirations by reload mode.",
		},
		[]string{"mode"},
	)
	timerInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devctl",
			Subsystem: "timer",
			Name:      "invocations_total",
			Help:      "Deferred timer invocations drained by the loop, by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			storageCommands,
			storageBytes,
			timersActive,
			timerFirings,
			timerInvocations,
		)
	})
}

func RecordHTTPRequest(device, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(device, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(device, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordStorageCommand(op string, ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	storageCommands.WithLabelValues(op, result).Inc()
}

func RecordStorageBytes(direction string, n int) {
	RegisterMetrics()
	storageBytes.WithLabelValues(direction).Add(float64(n))
}

func SetTimersActive(n int) {
	RegisterMetrics()
	timersActive.Set(float64(n))
}

func RecordTimerFiring(oneShot bool) {
	RegisterMetrics()
	mode := "auto_reload"
	if oneShot {
		mode = "one_shot"
	}
	timerFirings.WithLabelValues(mode).Inc()
}

func RecordTimerInvocation(result string) {
	RegisterMetrics()
	timerInvocations.WithLabelValues(result).Inc()
}
