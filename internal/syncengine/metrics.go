package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/devicesync/internal/store"
)

var stats = metrics{
	uploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicesync",
		Subsystem: "sync",
		Name:      "changes_uploaded_total",
		Help:      "Number of outbox entries published to the backend",
	}, []string{
		"type",
		"op",
	}),

	readings: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicesync",
		Subsystem: "sync",
		Name:      "readings_uploaded_total",
		Help:      "Number of sensor readings uploaded on the asymmetric path",
	}, []string{
		"path",
	}),

	inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicesync",
		Subsystem: "sync",
		Name:      "inbound_total",
		Help:      "Number of inbound record messages by outcome",
	}, []string{
		"result",
	}),

	errors: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicesync",
		Subsystem: "sync",
		Name:      "errors_total",
		Help:      "Number of sync failures by stage",
	}, []string{
		"stage",
	}),
}

type metrics struct {
	uploaded *prometheus.CounterVec
	readings *prometheus.CounterVec
	inbound  *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

func init() {
	prometheus.MustRegister(stats.uploaded)
	prometheus.MustRegister(stats.readings)
	prometheus.MustRegister(stats.inbound)
	prometheus.MustRegister(stats.errors)
}

// Inbound outcomes.
const (
	resultApplied      = "applied"
	resultStale        = "stale"
	resultParked       = "parked"
	resultSkipped      = "skipped"
	resultEcho         = "echo"
	resultForeign      = "foreign"
	resultUnsubscribed = "unsubscribed"
	resultPaused       = "paused"
)

// Error stages.
const (
	stageStore     = "store"
	stagePublish   = "publish"
	stageSink      = "sink"
	stageDecode    = "decode"
	stageApply     = "apply"
	stageSubscribe = "subscribe"
)

func (m *metrics) Uploaded(t store.RecordType, op store.ChangeOp) {
	m.uploaded.WithLabelValues(string(t), string(op)).Inc()
}

func (m *metrics) UploadedReadings(path string, n int) {
	m.readings.WithLabelValues(path).Add(float64(n))
}

func (m *metrics) Inbound(result string) {
	m.inbound.WithLabelValues(result).Inc()
}

func (m *metrics) Failed(stage string) {
	m.errors.WithLabelValues(stage).Inc()
}
