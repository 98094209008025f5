package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ctlplane"

// Effect outcomes recorded by the dispatcher.
const (
	EffectDelivered   = "delivered"
	EffectGlobal      = "global"
	EffectMalformed   = "malformed"
	EffectStale       = "stale_session"
	EffectUnknownConn = "unknown_connection"
	EffectUnknownTag  = "unknown_tag"
	EffectNotLive     = "not_live"
)

// Metrics groups the driver's collectors. A nil *Metrics records nothing, so
// components can be built without instrumentation.
type Metrics struct {
	accepted     prometheus.Counter
	live         prometheus.Gauge
	framesIn     prometheus.Counter
	framesOut    prometheus.Counter
	faults       *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	effects      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Connections accepted on the control socket.",
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "live",
			Help:      "Connections currently open.",
		}),
		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Complete frames read from clients.",
		}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Frames written to clients.",
		}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "faults_total",
			Help:      "Diagnostic fault frames queued, by error kind.",
		}, []string{"kind"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "send_failures_total",
			Help:      "Outbound frames that could not be delivered, by reason.",
		}, []string{"reason"}),
		effects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "effects",
			Name:      "total",
			Help:      "Kernel effects accepted by the driver, by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{
		m.accepted, m.live, m.framesIn, m.framesOut, m.faults, m.sendFailures, m.effects,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.live.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.live.Dec()
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesIn.Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesOut.Inc()
}

func (m *Metrics) Fault(kind string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(kind).Inc()
}

func (m *Metrics) SendFailed(reason string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Effect(outcome string) {
	if m == nil {
		return
	}
	m.effects.WithLabelValues(outcome).Inc()
}
