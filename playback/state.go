package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xiaonanln/wpeplayback/network"
	"github.com/xiaonanln/wpeplayback/util/metrics"
)

// State is the phase a playback is in. States only move forward, one step
// at a time.
type State int

const (
	NotStarted State = iota
	Connected
	Purge
	Configure
	Fetch
	Locate
	Finished
)

var stateNames = [...]string{
	NotStarted: "NOT_STARTED",
	Connected:  "CONNECTED",
	Purge:      "PURGE",
	Configure:  "CONFIGURE",
	Fetch:      "FETCH",
	Locate:     "LOCATE",
	Finished:   "FINISHED",
}

func (s State) String() string {
	if s < NotStarted || s > Finished {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Phase returns the lowercase name used in topics and metric labels.
func (s State) Phase() string {
	switch s {
	case Purge:
		return "purge"
	case Configure:
		return "configure"
	case Fetch:
		return "fetch"
	case Locate:
		return "locate"
	case Connected:
		return "connect"
	case Finished:
		return "finished"
	default:
		return "not_started"
	}
}

// ErrInvalidTransition is returned when a transition would skip or revisit a state.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrFinished is returned by Acquire once every location was received. No
// response can free a slot past FINISHED, so further requests are pointless.
var ErrFinished = errors.New("playback already finished")

// Observer is notified of state changes and of the fatal error ending a run.
// Callbacks run outside the state machine lock, on the goroutine that caused
// the change.
type Observer interface {
	OnStateChange(from, to State)
	OnFailure(err error)
}

// StateMachine holds the playback state, the inflight counter and the
// location accumulator under one mutex. Waiters block on a channel that is
// closed and replaced on every change.
type StateMachine struct {
	networkID       int64
	expected        int
	maxInflight     int
	resetOnProgress bool

	mu           sync.Mutex
	state        State
	enteredAt    time.Time
	connected    bool
	inflight     int
	results      []network.Node
	history      []State
	err          error
	lastProgress time.Time
	changed      chan struct{}
	observers    []Observer
}

// NewStateMachine creates a state machine expecting one location per measurement.
func NewStateMachine(networkID int64, expected, maxInflight int) *StateMachine {
	if maxInflight <= 0 {
		maxInflight = 1
	}
	sm := &StateMachine{
		networkID:   networkID,
		expected:    expected,
		maxInflight: maxInflight,
		state:       NotStarted,
		enteredAt:   time.Now(),
		history:     []State{NotStarted},
		changed:     make(chan struct{}),
	}
	metrics.SetState(networkID, int(NotStarted))
	metrics.SetInflight(networkID, 0)
	return sm
}

// SetResetTimeoutOnProgress makes every handled response push wait deadlines forward.
func (sm *StateMachine) SetResetTimeoutOnProgress(enabled bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.resetOnProgress = enabled
}

// AddObserver registers an observer. It must be called before the run starts.
func (sm *StateMachine) AddObserver(o Observer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.observers = append(sm.observers, o)
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// Err returns the fatal error recorded for the run, if any.
func (sm *StateMachine) Err() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.err
}

// Inflight returns the number of requests awaiting a response.
func (sm *StateMachine) Inflight() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.inflight
}

// Results returns a copy of the accumulated locations.
func (sm *StateMachine) Results() []network.Node {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]network.Node(nil), sm.results...)
}

// History returns every state entered so far, starting with NOT_STARTED.
func (sm *StateMachine) History() []State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]State(nil), sm.history...)
}

// SetConnected records the bus connection status. The first connection moves
// NOT_STARTED to CONNECTED.
func (sm *StateMachine) SetConnected(connected bool) {
	sm.mu.Lock()
	sm.connected = connected
	var from State = -1
	if connected && sm.state == NotStarted && sm.err == nil {
		from = sm.setStateLocked(Connected)
	}
	sm.broadcastLocked()
	observers := sm.observers
	sm.mu.Unlock()

	if from >= 0 {
		notifyStateChange(observers, from, Connected)
	}
}

// AdvanceTo moves to next, which must directly follow the current state.
func (sm *StateMachine) AdvanceTo(next State) error {
	sm.mu.Lock()
	if sm.err != nil {
		err := sm.err
		sm.mu.Unlock()
		return err
	}
	if next != sm.state+1 || next > Finished {
		current := sm.state
		sm.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	from := sm.setStateLocked(next)
	observers := sm.observers
	sm.mu.Unlock()

	notifyStateChange(observers, from, next)
	return nil
}

// CompletePhase handles a successful response for phase: the inflight slot is
// released and the state moves to the following phase. It reports false,
// changing nothing, when the state machine is not in phase.
func (sm *StateMachine) CompletePhase(phase State) bool {
	sm.mu.Lock()
	if sm.err != nil || sm.state != phase || phase >= Finished {
		sm.mu.Unlock()
		return false
	}
	sm.releaseLocked(true)
	from := sm.setStateLocked(phase + 1)
	observers := sm.observers
	sm.mu.Unlock()

	notifyStateChange(observers, from, phase+1)
	return true
}

// RejectPhase handles a failed response for phase: the inflight slot is
// released and err becomes the fatal error of the run. It reports false,
// changing nothing, when the state machine is not in phase.
func (sm *StateMachine) RejectPhase(phase State, err error) bool {
	sm.mu.Lock()
	if sm.err != nil || sm.state != phase {
		sm.mu.Unlock()
		return false
	}
	sm.releaseLocked(true)
	sm.err = err
	sm.broadcastLocked()
	observers := sm.observers
	sm.mu.Unlock()

	notifyFailure(observers, err)
	return true
}

// Accumulate adds a location while in LOCATE and fewer than the expected
// number of locations were received. Reaching the expected count moves to
// FINISHED in the same step.
func (sm *StateMachine) Accumulate(node network.Node) bool {
	sm.mu.Lock()
	if sm.err != nil || sm.state != Locate || len(sm.results) >= sm.expected {
		sm.mu.Unlock()
		return false
	}
	sm.releaseLocked(true)
	sm.results = append(sm.results, node)
	metrics.RecordLocation(sm.networkID)

	var from State = -1
	if len(sm.results) == sm.expected {
		from = sm.setStateLocked(Finished)
	}
	observers := sm.observers
	sm.mu.Unlock()

	if from >= 0 {
		notifyStateChange(observers, from, Finished)
	}
	return true
}

// Fail records err as the fatal error of the run and wakes every waiter.
// Only the first error is kept, and a finished run cannot fail.
func (sm *StateMachine) Fail(err error) {
	if err == nil {
		return
	}
	sm.mu.Lock()
	if sm.err != nil || sm.state == Finished {
		sm.mu.Unlock()
		return
	}
	sm.err = err
	sm.broadcastLocked()
	observers := sm.observers
	sm.mu.Unlock()

	notifyFailure(observers, err)
}

// WaitFor blocks until target (or a later state) is reached. It returns false
// when timeout elapsed since the wait began, and an error when the run failed
// or ctx ended. A zero timeout waits forever.
func (sm *StateMachine) WaitFor(ctx context.Context, target State, timeout time.Duration) (bool, error) {
	return sm.await(ctx, timeout, func() bool {
		return sm.state >= target
	})
}

// Acquire blocks until the bus is connected and fewer than the maximum number
// of requests are inflight, then takes an inflight slot.
func (sm *StateMachine) Acquire(ctx context.Context, timeout time.Duration) error {
	finished := false
	ok, err := sm.await(ctx, timeout, func() bool {
		if sm.state >= Finished {
			finished = true
			return true
		}
		if !sm.connected || sm.inflight >= sm.maxInflight {
			return false
		}
		sm.inflight++
		metrics.SetInflight(sm.networkID, sm.inflight)
		return true
	})
	if err != nil {
		return err
	}
	if finished {
		return ErrFinished
	}
	if !ok {
		return fmt.Errorf("no inflight slot freed within %v: %w", timeout, context.DeadlineExceeded)
	}
	return nil
}

// Release gives back an inflight slot without counting as progress. The
// counter never goes below zero.
func (sm *StateMachine) Release() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.releaseLocked(false)
}

// await evaluates cond under the lock every time the state machine changes.
func (sm *StateMachine) await(ctx context.Context, timeout time.Duration, cond func() bool) (bool, error) {
	start := time.Now()
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		sm.mu.Lock()
		if sm.err != nil {
			err := sm.err
			sm.mu.Unlock()
			return false, err
		}
		if cond() {
			sm.mu.Unlock()
			return true, nil
		}
		changed := sm.changed
		deadline := start.Add(timeout)
		if sm.resetOnProgress && sm.lastProgress.After(start) {
			deadline = sm.lastProgress.Add(timeout)
		}
		sm.mu.Unlock()

		var expired <-chan time.Time
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
			if timer == nil {
				timer = time.NewTimer(remaining)
			} else {
				timer.Reset(remaining)
			}
			expired = timer.C
		}

		select {
		case <-changed:
		case <-expired:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (sm *StateMachine) releaseLocked(progress bool) {
	if sm.inflight > 0 {
		sm.inflight--
		metrics.SetInflight(sm.networkID, sm.inflight)
	}
	if progress {
		sm.lastProgress = time.Now()
	}
	sm.broadcastLocked()
}

func (sm *StateMachine) setStateLocked(next State) State {
	from := sm.state
	now := time.Now()
	metrics.RecordPhaseDuration(sm.networkID, from.Phase(), now.Sub(sm.enteredAt).Seconds())
	metrics.SetState(sm.networkID, int(next))

	sm.state = next
	sm.enteredAt = now
	sm.history = append(sm.history, next)
	sm.broadcastLocked()
	return from
}

func (sm *StateMachine) broadcastLocked() {
	close(sm.changed)
	sm.changed = make(chan struct{})
}

func notifyStateChange(observers []Observer, from, to State) {
	for _, o := range observers {
		o.OnStateChange(from, to)
	}
}

func notifyFailure(observers []Observer, err error) {
	for _, o := range observers {
		o.OnFailure(err)
	}
}
