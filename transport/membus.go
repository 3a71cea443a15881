package transport

import (
	"context"
	"fmt"
	"sync"
)

// MemBroker is an in-process broker. Each MemBus connected to it delivers
// messages on its own goroutine, like a network loop of a real client.
type MemBroker struct {
	mu          sync.Mutex
	clients     map[*MemBus]struct{}
	refuse      ConnackCode
	publishErrs map[string]error
}

// NewMemBroker creates an empty broker.
func NewMemBroker() *MemBroker {
	return &MemBroker{
		clients:     make(map[*MemBus]struct{}),
		publishErrs: make(map[string]error),
	}
}

// RefuseConnections makes later Connect calls fail with code.
// ConnAccepted restores normal behaviour.
func (b *MemBroker) RefuseConnections(code ConnackCode) {
	b.mu.Lock()
	b.refuse = code
	b.mu.Unlock()
}

// FailPublishes makes publishes on topic fail with err. A nil err clears it.
func (b *MemBroker) FailPublishes(topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.publishErrs, topic)
		return
	}
	b.publishErrs[topic] = err
}

// NewBus creates a client of the broker.
func (b *MemBroker) NewBus(clientID string) *MemBus {
	m := &MemBus{
		broker:   b,
		clientID: clientID,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (b *MemBroker) connect(m *MemBus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refuse != ConnAccepted {
		return &ConnectError{Code: b.refuse}
	}
	b.clients[m] = struct{}{}
	return nil
}

func (b *MemBroker) disconnect(m *MemBus) {
	b.mu.Lock()
	delete(b.clients, m)
	b.mu.Unlock()
}

func (b *MemBroker) route(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.publishErrs[topic]; err != nil {
		return err
	}
	for c := range b.clients {
		c.deliver(topic, payload)
	}
	return nil
}

// MemBus is a Bus connected to a MemBroker.
type MemBus struct {
	broker   *MemBroker
	clientID string

	mu        sync.Mutex
	cond      *sync.Cond
	connected bool
	closed    bool
	started   bool
	listener  ConnectionListener
	subs      []subscription
	queue     []func()
	wg        sync.WaitGroup
}

func (m *MemBus) Address() string {
	return "mem://" + m.clientID
}

func (m *MemBus) SetConnectionListener(l ConnectionListener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

func (m *MemBus) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &ConnectError{Code: ConnNetworkError, Err: err}
	}
	if err := m.broker.connect(m); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &ConnectError{Code: ConnNetworkError, Err: fmt.Errorf("bus closed")}
	}
	m.connected = true
	if !m.started {
		m.started = true
		m.wg.Add(1)
		go m.loop()
	}
	if l := m.listener; l != nil {
		m.enqueueLocked(l.OnConnect)
	}
	return nil
}

func (m *MemBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("subscribe to %s: not connected", pattern)
	}
	m.subs = append(m.subs, subscription{pattern: pattern, handler: handler})
	return nil
}

func (m *MemBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.IsConnected() {
		return fmt.Errorf("publish on %s: not connected", topic)
	}
	return m.broker.route(topic, append([]byte(nil), payload...))
}

func (m *MemBus) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SimulateConnectionLoss drops the session and immediately re-establishes
// it, notifying the listener of both events as a reconnecting client would.
func (m *MemBus) SimulateConnectionLoss(err error) {
	m.broker.disconnect(m)
	m.mu.Lock()
	m.connected = false
	if l := m.listener; l != nil {
		m.enqueueLocked(func() { l.OnConnectionLost(err) })
	}
	m.mu.Unlock()

	if m.broker.connect(m) != nil {
		return
	}
	m.mu.Lock()
	m.connected = true
	if l := m.listener; l != nil {
		m.enqueueLocked(l.OnConnect)
	}
	m.mu.Unlock()
}

// Close disconnects and stops the delivery goroutine. Undelivered messages
// are dropped.
func (m *MemBus) Close() {
	m.broker.disconnect(m)
	m.mu.Lock()
	m.connected = false
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *MemBus) deliver(topic string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	msg := Message{Topic: topic, Payload: payload}
	for _, s := range m.subs {
		if MatchTopic(s.pattern, topic) {
			h := s.handler
			m.enqueueLocked(func() { h(msg) })
		}
	}
}

func (m *MemBus) enqueueLocked(fn func()) {
	m.queue = append(m.queue, fn)
	m.cond.Signal()
}

func (m *MemBus) loop() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.queue = nil
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
	}
}
