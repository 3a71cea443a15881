package playback

import (
	"strconv"
	"strings"

	"github.com/xiaonanln/wpeplayback/transport"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"github.com/xiaonanln/wpeplayback/util/metrics"
)

type outcome int

const (
	outcomeIgnored outcome = iota
	outcomeAccepted
	outcomeRejected
)

func (o outcome) String() string {
	switch o {
	case outcomeAccepted:
		return "accepted"
	case outcomeRejected:
		return "rejected"
	default:
		return "ignored"
	}
}

// responseHandler validates one kind of response and applies it to the
// state machine.
type responseHandler interface {
	phase() State
	handle(msg transport.Message) outcome
}

// Dispatcher is the single intake for responses. It routes a message by its
// topic suffix to the handler of the matching phase.
type Dispatcher struct {
	networkID int64
	handlers  map[string]responseHandler
	logger    *logger.Logger
}

// NewDispatcher builds the routing table for one network.
func NewDispatcher(sm *StateMachine, networkID int64, sentAddresses []uint32) *Dispatcher {
	log := logger.NewLogger("Dispatcher")
	base := handlerBase{sm: sm, networkID: networkID, logger: log}
	return &Dispatcher{
		networkID: networkID,
		logger:    log,
		handlers: map[string]responseHandler{
			"purge":     &purgeHandler{base},
			"configure": &configureHandler{base},
			"fetch":     &fetchHandler{handlerBase: base, sent: sentAddresses},
			"locate":    &locateHandler{base},
		},
	}
}

// Dispatch handles one message received on the response topics. It is called
// from the bus delivery goroutine.
func (d *Dispatcher) Dispatch(msg transport.Message) {
	kind, ok := d.route(msg.Topic)
	if !ok {
		d.logger.Debugf("Ignoring message on %s", msg.Topic)
		return
	}
	h := d.handlers[kind]
	d.logger.Debugf("Incoming <- %s (%d bytes)", msg.Topic, len(msg.Payload))

	result := h.handle(msg)
	metrics.RecordResponse(d.networkID, h.phase().Phase(), result.String())
}

// route returns the handler key for topic. Locate responses scoped to another
// network never reach a handler.
func (d *Dispatcher) route(topic string) (string, bool) {
	suffix, ok := strings.CutPrefix(topic, transport.TopicResponse+"/")
	if !ok {
		return "", false
	}
	kind, rest, scoped := strings.Cut(suffix, "/")
	if _, known := d.handlers[kind]; !known {
		return "", false
	}
	if !scoped {
		return kind, true
	}
	if kind != "locate" {
		return "", false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id != d.networkID {
		return "", false
	}
	return kind, true
}
