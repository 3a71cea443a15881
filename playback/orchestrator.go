// Package playback replays a recorded network against a Wirepas Positioning
// Engine: it purges the network on the backend, configures it with the
// recorded anchors, verifies the configuration, sends every recorded
// measurement to be located and collects the computed locations.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xiaonanln/wpeplayback/network"
	"github.com/xiaonanln/wpeplayback/results"
	"github.com/xiaonanln/wpeplayback/transport"
	wpeerrors "github.com/xiaonanln/wpeplayback/util/errors"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"github.com/xiaonanln/wpeplayback/wpeproto"
)

const (
	DefaultMaxInflight = 50
	DefaultTimeout     = 60 * time.Second
)

// Locker serialises playbacks of the same network across processes.
type Locker interface {
	Lock(ctx context.Context, networkID int64) (unlock func(), err error)
}

// Options configures an Orchestrator. Zero values select the defaults.
type Options struct {
	// MaxInflight bounds the number of requests awaiting a response.
	MaxInflight int
	// Timeout bounds every phase wait and every wait for an inflight slot.
	// A negative value disables it.
	Timeout time.Duration
	// ResetTimeoutOnProgress pushes the deadline forward on every handled response.
	ResetTimeoutOnProgress bool
	// StrictPublish fails the run as soon as the broker rejects a publish.
	StrictPublish bool
	// Persister receives the locations once FINISHED is reached.
	Persister results.Persister
	// Locker, when set, is held for the whole run.
	Locker    Locker
	Observers []Observer
}

func (o Options) withDefaults() Options {
	if o.MaxInflight <= 0 {
		o.MaxInflight = DefaultMaxInflight
	}
	switch {
	case o.Timeout == 0:
		o.Timeout = DefaultTimeout
	case o.Timeout < 0:
		o.Timeout = 0
	}
	return o
}

// Orchestrator drives one playback over one bus connection.
type Orchestrator struct {
	cfg        *network.Configuration
	networkID  int64
	opts       Options
	sm         *StateMachine
	session    *Session
	dispatcher *Dispatcher
	started    atomic.Bool
	logger     *logger.Logger
}

// New creates an orchestrator replaying cfg over bus. The orchestrator takes
// ownership of bus and closes it when Run returns.
func New(bus transport.Bus, cfg *network.Configuration, opts Options) (*Orchestrator, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("network configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid network configuration: %w", err)
	}
	opts = opts.withDefaults()
	networkID := int64(cfg.NetworkID)

	sm := NewStateMachine(networkID, len(cfg.Measurements), opts.MaxInflight)
	sm.SetResetTimeoutOnProgress(opts.ResetTimeoutOnProgress)
	for _, o := range opts.Observers {
		sm.AddObserver(o)
	}

	return &Orchestrator{
		cfg:        cfg,
		networkID:  networkID,
		opts:       opts,
		sm:         sm,
		session:    newSession(bus, sm, networkID, opts.Timeout, opts.StrictPublish),
		dispatcher: NewDispatcher(sm, networkID, cfg.NodeAddresses()),
		logger:     logger.NewLogger(fmt.Sprintf("Playback-%d", networkID)),
	}, nil
}

// NetworkID returns the id of the replayed network.
func (p *Orchestrator) NetworkID() int64 { return p.networkID }

// State returns the current playback state.
func (p *Orchestrator) State() State { return p.sm.State() }

// Results returns the locations accumulated so far.
func (p *Orchestrator) Results() []network.Node { return p.sm.Results() }

// History returns every state entered so far.
func (p *Orchestrator) History() []State { return p.sm.History() }

// Inflight returns the number of requests awaiting a response.
func (p *Orchestrator) Inflight() int { return p.sm.Inflight() }

// Run performs the playback. It returns once the locations are persisted or
// at the first fatal error, in which case nothing is persisted. Run can only
// be called once.
func (p *Orchestrator) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("playback of network %d already started", p.networkID)
	}
	defer p.session.close()

	err := p.run(ctx)
	if err != nil {
		p.sm.Fail(err)
		p.logger.Errorf("Playback failed in state %s: %v", p.sm.State(), err)
	}
	return err
}

func (p *Orchestrator) run(ctx context.Context) error {
	if p.opts.Locker != nil {
		unlock, err := p.opts.Locker.Lock(ctx, p.networkID)
		if err != nil {
			return fmt.Errorf("failed to lock network %d: %w", p.networkID, err)
		}
		defer unlock()
	}

	p.logger.Infof("Playing back %d measurements against %d anchors", len(p.cfg.Measurements), len(p.cfg.Nodes))
	if err := p.session.connect(ctx); err != nil {
		return err
	}
	if err := p.session.subscribe(ctx, p.dispatcher.Dispatch); err != nil {
		return err
	}
	if err := p.await(ctx, Connected); err != nil {
		return err
	}

	// The purge response is matched against PURGE, so enter it before sending.
	if err := p.sm.AdvanceTo(Purge); err != nil {
		return err
	}
	query := &wpeproto.Query{Network: uint64(p.networkID)}
	if err := p.session.publish(ctx, Purge, transport.TopicRequestPurge, query); err != nil {
		return err
	}
	if err := p.await(ctx, Configure); err != nil {
		return err
	}

	if err := p.session.publish(ctx, Configure, transport.TopicRequestConfigure, p.cfg.ToProto()); err != nil {
		return err
	}
	if err := p.await(ctx, Fetch); err != nil {
		return err
	}

	if err := p.session.publish(ctx, Fetch, transport.TopicRequestFetch, query); err != nil {
		return err
	}
	if err := p.await(ctx, Locate); err != nil {
		return err
	}

	// Duplicate responses can complete the run before every request is out.
	for i := range p.cfg.Measurements {
		if p.sm.State() >= Finished {
			p.logger.Infof("All locations received after %d/%d locate requests", i, len(p.cfg.Measurements))
			break
		}
		md, err := p.cfg.Measurements[i].ToProto()
		if err != nil {
			return fmt.Errorf("measurement %d: %w", i, err)
		}
		err = p.session.publish(ctx, Locate, transport.TopicRequestLocate, md)
		if errors.Is(err, ErrFinished) {
			break
		}
		if err != nil {
			return err
		}
	}
	if err := p.await(ctx, Finished); err != nil {
		return err
	}

	nodes := p.sm.Results()
	p.logger.Infof("Received all %d locations", len(nodes))
	if p.opts.Persister != nil {
		if err := p.opts.Persister.Save(ctx, p.networkID, nodes); err != nil {
			return fmt.Errorf("failed to persist computed locations: %w", err)
		}
	}
	return nil
}

// await waits for target and turns a missed deadline into a TimeoutError.
func (p *Orchestrator) await(ctx context.Context, target State) error {
	reached, err := p.sm.WaitFor(ctx, target, p.opts.Timeout)
	if err != nil {
		return err
	}
	if !reached {
		current := p.sm.State()
		return wpeerrors.NewTimeoutError(
			fmt.Sprintf("waiting for %s (stuck in %s, %d/%d locations)", target, current, len(p.sm.Results()), len(p.cfg.Measurements)),
			p.networkID, context.DeadlineExceeded)
	}
	p.logger.Infof("Reached %s", target)
	return nil
}

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case wpeerrors.IsConnection(err), wpeerrors.IsPublish(err):
		return 2
	case wpeerrors.IsProtocol(err):
		return 3
	case wpeerrors.IsTimeout(err):
		return 4
	default:
		return 1
	}
}
