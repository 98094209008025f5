package domain

import "github.com/bft-labs/ctlplane/pkg/wire"

// Event tags submitted by the driver.
const (
	// TagAnnounce is the startup announcement. The kernel acknowledges it once
	// it has durably processed the event; only then does the socket open.
	TagAnnounce = "announce"

	// TagCommand carries one decoded client message.
	TagCommand = "command"
)

// Effect tags understood by the driver.
const (
	TagReply  = "reply"
	TagConfig = "config"
)

// Event is a command event submitted into the kernel's queue.
type Event struct {
	Path    wire.Path
	Tag     string
	Payload any
}

// Effect is a kernel effect addressed to the driver, classified once at the
// dispatch boundary.
type Effect interface {
	effect()
}

// GlobalConfig is a driver-global configuration directive.
type GlobalConfig struct {
	Payload any
}

// Reply carries a value to send back to one connection.
type Reply struct {
	Payload any
}

// Unknown is any effect tag the driver does not recognise.
type Unknown struct {
	Tag     string
	Payload any
}

func (GlobalConfig) effect() {}
func (Reply) effect()        {}
func (Unknown) effect()      {}

// ParseEffect classifies a raw (tag, payload) pair.
func ParseEffect(tag string, payload any) Effect {
	switch tag {
	case TagConfig:
		return GlobalConfig{Payload: payload}
	case TagReply:
		return Reply{Payload: payload}
	default:
		return Unknown{Tag: tag, Payload: payload}
	}
}

// EffectTag returns the wire tag of e.
func EffectTag(e Effect) string {
	switch v := e.(type) {
	case GlobalConfig:
		return TagConfig
	case Reply:
		return TagReply
	case Unknown:
		return v.Tag
	default:
		return ""
	}
}
