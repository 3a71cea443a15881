package playback

import (
	"context"
	"errors"
	"time"

	"github.com/xiaonanln/wpeplayback/transport"
	wpeerrors "github.com/xiaonanln/wpeplayback/util/errors"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"github.com/xiaonanln/wpeplayback/util/metrics"
	"github.com/xiaonanln/wpeplayback/wpeproto"
)

// Session owns the bus connection of one playback and gates publishing on
// the inflight counter.
type Session struct {
	bus       transport.Bus
	sm        *StateMachine
	networkID int64
	timeout   time.Duration
	strict    bool
	logger    *logger.Logger
}

func newSession(bus transport.Bus, sm *StateMachine, networkID int64, timeout time.Duration, strict bool) *Session {
	s := &Session{
		bus:       bus,
		sm:        sm,
		networkID: networkID,
		timeout:   timeout,
		strict:    strict,
		logger:    logger.NewLogger("Session"),
	}
	bus.SetConnectionListener(s)
	return s
}

// OnConnect implements transport.ConnectionListener.
func (s *Session) OnConnect() {
	s.logger.Infof("Connected to %s", s.bus.Address())
	s.sm.SetConnected(true)
}

// OnConnectionLost implements transport.ConnectionListener. Publishing blocks
// until the bus reconnects.
func (s *Session) OnConnectionLost(err error) {
	s.logger.Warnf("Disconnected from %s: %v", s.bus.Address(), err)
	s.sm.SetConnected(false)
}

// connect establishes the session. A refused or failed connection is fatal
// and not retried.
func (s *Session) connect(ctx context.Context) error {
	s.logger.Infof("Connecting to %s", s.bus.Address())
	err := s.bus.Connect(ctx)
	if err == nil {
		return nil
	}
	reason := ""
	var ce *transport.ConnectError
	if errors.As(err, &ce) {
		reason = ce.Code.String()
	}
	return wpeerrors.NewConnectionError(s.bus.Address(), reason, err)
}

func (s *Session) subscribe(ctx context.Context, handler transport.Handler) error {
	if err := s.bus.Subscribe(ctx, transport.TopicAllResponses, handler); err != nil {
		return wpeerrors.NewConnectionError(s.bus.Address(), "subscribe "+transport.TopicAllResponses, err)
	}
	return nil
}

// publish waits for an inflight slot, sends msg and waits for the broker to
// accept it. A broker failure is logged and the slot stays taken unless
// strict publishing is enabled, in which case it is returned as an error.
func (s *Session) publish(ctx context.Context, phase State, topic string, msg wpeproto.Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return err
	}

	if err := s.sm.Acquire(ctx, s.timeout); err != nil {
		if wpeerrors.IsTimeout(err) && ctx.Err() == nil {
			return wpeerrors.NewTimeoutError("publish "+phase.Phase()+" request", s.networkID, err)
		}
		return err
	}

	s.logger.Debugf("Publish %d bytes on %s", len(payload), topic)
	err = s.bus.Publish(ctx, topic, payload)
	metrics.RecordPublish(s.networkID, phase.Phase(), err)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		s.sm.Release()
		return ctxErr
	}
	if s.strict {
		s.sm.Release()
		return &wpeerrors.PublishError{Topic: topic, Err: err}
	}
	s.logger.Errorf("A message could not be pushed to the broker on %s: %v", topic, err)
	return nil
}

func (s *Session) close() {
	s.bus.Close()
}
