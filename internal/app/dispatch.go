package app

import (
	"github.com/bft-labs/ctlplane/internal/domain"
	"github.com/bft-labs/ctlplane/internal/observability"
	"github.com/bft-labs/ctlplane/pkg/log"
	"github.com/bft-labs/ctlplane/pkg/wire"
)

// Sender delivers a value to one client connection.
type Sender interface {
	Send(v any) error
}

// Connections resolves connection ids to open connections.
type Connections interface {
	Connection(id uint32) (Sender, bool)
}

// ConfigObserver is told about driver-global configuration directives.
type ConfigObserver func(payload any)

// Dispatcher routes kernel effects to client connections. Everything
// addressed to this driver is accepted; effects it cannot deliver are
// logged and dropped.
type Dispatcher struct {
	session  uint32
	logger   log.Logger
	metrics  *observability.Metrics
	onConfig ConfigObserver
}

// NewDispatcher creates a dispatcher for one session. metrics and onConfig
// may be nil.
func NewDispatcher(session uint32, logger log.Logger, metrics *observability.Metrics, onConfig ConfigObserver) *Dispatcher {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Dispatcher{
		session:  session,
		logger:   logger,
		metrics:  metrics,
		onConfig: onConfig,
	}
}

// Dispatch routes one effect. It returns false only when path belongs to
// another driver. conns is nil while the driver is not live.
func (d *Dispatcher) Dispatch(path wire.Path, tag string, payload any, conns Connections) bool {
	if wire.IsForeign(path) {
		return false
	}

	addr, err := wire.Decode(path)
	if err != nil {
		d.drop(observability.EffectMalformed, "malformed effect path",
			log.Strings("path", path), log.String("tag", tag), log.Err(err))
		return true
	}
	if addr.Session != d.session {
		d.drop(observability.EffectStale, "effect for stale session",
			log.Uint32("session", addr.Session),
			log.Uint32("current", d.session),
			log.String("tag", tag),
		)
		return true
	}

	eff := domain.ParseEffect(tag, payload)
	if addr.Global() {
		d.global(eff)
		return true
	}

	reply, ok := eff.(domain.Reply)
	if !ok {
		d.drop(observability.EffectUnknownTag, "unknown effect tag",
			log.Uint32("conn", addr.Conn), log.String("tag", tag))
		return true
	}
	if conns == nil {
		d.drop(observability.EffectNotLive, "effect before socket is live",
			log.Uint32("conn", addr.Conn))
		return true
	}
	ch, ok := conns.Connection(addr.Conn)
	if !ok {
		d.drop(observability.EffectUnknownConn, "effect for unknown connection",
			log.Uint32("conn", addr.Conn))
		return true
	}

	// Send logs and counts its own failures.
	if err := ch.Send(reply.Payload); err == nil {
		d.metrics.Effect(observability.EffectDelivered)
	}
	return true
}

func (d *Dispatcher) global(eff domain.Effect) {
	cfg, ok := eff.(domain.GlobalConfig)
	if !ok {
		d.drop(observability.EffectUnknownTag, "unknown global effect tag",
			log.String("tag", domain.EffectTag(eff)))
		return
	}
	d.metrics.Effect(observability.EffectGlobal)
	// Configuration directives are acknowledged but not applied.
	d.logger.Info("global config directive received")
	if d.onConfig != nil {
		d.onConfig(cfg.Payload)
	}
}

func (d *Dispatcher) drop(outcome, msg string, fields ...log.Field) {
	d.metrics.Effect(outcome)
	d.logger.Warn(msg, fields...)
}
