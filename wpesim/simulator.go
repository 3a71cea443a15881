// Package wpesim is a stand-in positioning engine speaking the request and
// response topics of the real one. Locations are the mean position of the
// anchors a measurement refers to.
package wpesim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xiaonanln/wpeplayback/transport"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"github.com/xiaonanln/wpeplayback/wpeproto"
)

const outboundQueueSize = 4096

// Faults alters the behaviour of the simulator. The zero value behaves like
// a healthy backend.
type Faults struct {
	// Drop suppresses every response of the named phases ("purge", "configure", "fetch", "locate").
	Drop map[string]bool
	// Fail replaces the status of purge or configure responses.
	Fail map[string]wpeproto.Status
	// HoldLocate queues locate responses until ReleaseLocate is called.
	HoldLocate bool
	// Duplicate sends every response of the named phases twice.
	Duplicate map[string]bool
	// CrossTalk, when non-zero, precedes every response with a failing or
	// unrelated response for this other network id.
	CrossTalk uint64
	// DropFetchedNodes removes that many nodes from fetch responses.
	DropFetchedNodes int
}

// Simulator answers requests received on a bus.
type Simulator struct {
	bus    transport.Bus
	logger *logger.Logger

	mu       sync.Mutex
	networks map[uint64]*wpeproto.ConfigurationData
	faults   Faults
	held     []transport.Message
	received map[string]int

	out     chan transport.Message
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a simulator answering on bus. The simulator owns the bus.
func New(bus transport.Bus) *Simulator {
	return &Simulator{
		bus:      bus,
		logger:   logger.NewLogger("WPESim"),
		networks: make(map[uint64]*wpeproto.ConfigurationData),
		received: make(map[string]int),
		out:      make(chan transport.Message, outboundQueueSize),
		stop:     make(chan struct{}),
	}
}

// Start connects the bus if needed and subscribes to every request topic.
func (s *Simulator) Start(ctx context.Context) error {
	if !s.bus.IsConnected() {
		if err := s.bus.Connect(ctx); err != nil {
			return fmt.Errorf("simulator connect: %w", err)
		}
	}
	if err := s.bus.Subscribe(ctx, transport.TopicAllRequests, s.handle); err != nil {
		return fmt.Errorf("simulator subscribe: %w", err)
	}

	s.wg.Add(1)
	go s.sendLoop()
	s.logger.Infof("Simulated positioning engine listening on %s", s.bus.Address())
	return nil
}

// Close stops sending and closes the bus.
func (s *Simulator) Close() {
	s.stopped.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
	s.bus.Close()
}

// SetFaults replaces the active faults.
func (s *Simulator) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// AddNetwork makes the simulator know a network as if it had been configured.
func (s *Simulator) AddNetwork(cd *wpeproto.ConfigurationData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networks[cd.Network] = cd
}

// HasNetwork reports whether the network is configured.
func (s *Simulator) HasNetwork(networkID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.networks[networkID]
	return ok
}

// Received returns the number of requests received for phase.
func (s *Simulator) Received(phase string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[phase]
}

// Held returns the number of locate responses waiting for ReleaseLocate.
func (s *Simulator) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// ReleaseLocate sends up to n held locate responses, all of them when n <= 0,
// and returns how many were sent.
func (s *Simulator) ReleaseLocate(n int) int {
	s.mu.Lock()
	if n <= 0 || n > len(s.held) {
		n = len(s.held)
	}
	batch := s.held[:n]
	s.held = append([]transport.Message(nil), s.held[n:]...)
	s.mu.Unlock()

	for _, msg := range batch {
		s.enqueue(msg)
	}
	return n
}

func (s *Simulator) handle(msg transport.Message) {
	phase, ok := strings.CutPrefix(msg.Topic, transport.TopicRequest+"/")
	if !ok {
		return
	}

	s.mu.Lock()
	s.received[phase]++
	faults := s.faults
	s.mu.Unlock()

	var responses []transport.Message
	var err error
	switch phase {
	case "purge":
		responses, err = s.purge(msg.Payload, faults)
	case "configure":
		responses, err = s.configure(msg.Payload, faults)
	case "fetch":
		responses, err = s.fetch(msg.Payload, faults)
	case "locate":
		responses, err = s.locate(msg.Payload, faults)
	default:
		s.logger.Warnf("Unknown request topic %s", msg.Topic)
		return
	}
	if err != nil {
		s.logger.Warnf("Malformed %s request: %v", phase, err)
		return
	}
	if faults.Drop[phase] {
		s.logger.Debugf("Dropping %d %s responses", len(responses), phase)
		return
	}

	for _, resp := range responses {
		copies := 1
		if faults.Duplicate[phase] {
			copies = 2
		}
		for i := 0; i < copies; i++ {
			if phase == "locate" && faults.HoldLocate {
				s.mu.Lock()
				s.held = append(s.held, resp)
				s.mu.Unlock()
				continue
			}
			s.enqueue(resp)
		}
	}
}

func (s *Simulator) purge(payload []byte, faults Faults) ([]transport.Message, error) {
	var q wpeproto.Query
	if err := q.Unmarshal(payload); err != nil {
		return nil, err
	}

	var out []transport.Message
	if faults.CrossTalk != 0 {
		out = append(out, statusMessage(transport.TopicResponsePurge, wpeproto.StatusError,
			fmt.Sprintf("Purge failed for network %d", faults.CrossTalk)))
	}

	s.mu.Lock()
	_, known := s.networks[q.Network]
	delete(s.networks, q.Network)
	s.mu.Unlock()

	status := wpeproto.Status{Code: wpeproto.StatusSuccess, Message: fmt.Sprintf("Deleted all the configuration for network %d", q.Network)}
	if !known {
		status = wpeproto.Status{Code: wpeproto.StatusError, Message: fmt.Sprintf("Unknown network %d", q.Network)}
	}
	if f, ok := faults.Fail["purge"]; ok {
		status = f
	}
	return append(out, marshalled(transport.TopicResponsePurge, &status)), nil
}

func (s *Simulator) configure(payload []byte, faults Faults) ([]transport.Message, error) {
	var cd wpeproto.ConfigurationData
	if err := cd.Unmarshal(payload); err != nil {
		return nil, err
	}

	var out []transport.Message
	if faults.CrossTalk != 0 {
		out = append(out, statusMessage(transport.TopicResponseConfigure, wpeproto.StatusError,
			fmt.Sprintf("'%d'", faults.CrossTalk)))
	}

	s.mu.Lock()
	_, existed := s.networks[cd.Network]
	s.networks[cd.Network] = &cd
	s.mu.Unlock()

	isNew := "True"
	if existed {
		isNew = "False"
	}
	status := wpeproto.Status{
		Code:    wpeproto.StatusSuccess,
		Message: fmt.Sprintf("{'network': '%d', 'is_new_network': %s, 'nodes_nb': %d}", cd.Network, isNew, len(cd.Nodes)),
	}
	if f, ok := faults.Fail["configure"]; ok {
		status = f
	}
	return append(out, marshalled(transport.TopicResponseConfigure, &status)), nil
}

func (s *Simulator) fetch(payload []byte, faults Faults) ([]transport.Message, error) {
	var q wpeproto.Query
	if err := q.Unmarshal(payload); err != nil {
		return nil, err
	}

	var out []transport.Message
	if faults.CrossTalk != 0 {
		out = append(out, marshalled(transport.TopicResponseFetch, &wpeproto.ConfigurationData{Network: faults.CrossTalk}))
	}

	s.mu.Lock()
	stored := s.networks[q.Network]
	s.mu.Unlock()

	echo := &wpeproto.ConfigurationData{Network: q.Network}
	if stored != nil {
		echo.Nodes = stored.Nodes
	}
	if drop := faults.DropFetchedNodes; drop > 0 {
		if drop > len(echo.Nodes) {
			drop = len(echo.Nodes)
		}
		echo.Nodes = echo.Nodes[:len(echo.Nodes)-drop]
	}
	return append(out, marshalled(transport.TopicResponseFetch, echo)), nil
}

func (s *Simulator) locate(payload []byte, faults Faults) ([]transport.Message, error) {
	var md wpeproto.MeshData
	if err := md.Unmarshal(payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	stored := s.networks[md.Network]
	s.mu.Unlock()
	if stored == nil {
		s.logger.Warnf("Locate request for unknown network %d", md.Network)
		return nil, nil
	}

	lat, lon, alt := estimate(stored, &md)
	node := &wpeproto.Node{
		Address:    md.Source,
		HasAddress: true,
		Network:    md.Network,
		HasNetwork: true,
		Role:       wpeproto.RoleSubnode,
		Coordinates: &wpeproto.Point{
			Geoid:      wpeproto.GeoidWGS84,
			LLAPrecise: []float64{lat, lon, alt},
		},
	}
	if md.HasTimestamp {
		node.Timestamp, node.HasTimestamp = md.Timestamp, true
	}

	var out []transport.Message
	if faults.CrossTalk != 0 {
		other := *node
		other.Network = faults.CrossTalk
		out = append(out,
			marshalled(locateTopic(faults.CrossTalk), &other),
			marshalled(locateTopic(md.Network), &other))
	}
	return append(out, marshalled(locateTopic(md.Network), node)), nil
}

// estimate places the source at the mean of the anchors it measured, or at
// the centroid of all anchors when it measured none of them.
func estimate(cd *wpeproto.ConfigurationData, md *wpeproto.MeshData) (lat, lon, alt float64) {
	anchors := make(map[uint32]*wpeproto.Node, len(cd.Nodes))
	for _, n := range cd.Nodes {
		anchors[n.Address] = n
	}

	var used []*wpeproto.Node
	seen := make(map[uint32]bool)
	for _, m := range md.Payload {
		if a, ok := anchors[m.Target]; ok && !seen[m.Target] {
			seen[m.Target] = true
			used = append(used, a)
		}
	}
	if len(used) == 0 {
		used = cd.Nodes
	}

	count := 0
	for _, n := range used {
		if n.Coordinates == nil {
			continue
		}
		nlat, nlon, nalt, err := n.Coordinates.Coordinates()
		if err != nil {
			continue
		}
		lat, lon, alt = lat+nlat, lon+nlon, alt+nalt
		count++
	}
	if count == 0 {
		return 0, 0, 0
	}
	return lat / float64(count), lon / float64(count), alt / float64(count)
}

func (s *Simulator) enqueue(msg transport.Message) {
	select {
	case s.out <- msg:
	case <-s.stop:
	}
}

func (s *Simulator) sendLoop() {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.out:
			if err := s.bus.Publish(ctx, msg.Topic, msg.Payload); err != nil {
				s.logger.Warnf("Failed to publish on %s: %v", msg.Topic, err)
			}
		}
	}
}

func locateTopic(networkID uint64) string {
	return transport.TopicResponseLocate + "/" + strconv.FormatUint(networkID, 10)
}

func statusMessage(topic string, code wpeproto.StatusCode, message string) transport.Message {
	return marshalled(topic, &wpeproto.Status{Code: code, Message: message})
}

func marshalled(topic string, m wpeproto.Message) transport.Message {
	payload, err := m.Marshal()
	if err != nil {
		// Messages built by the simulator always encode.
		panic(fmt.Sprintf("wpesim: marshal response for %s: %v", topic, err))
	}
	return transport.Message{Topic: topic, Payload: payload}
}
