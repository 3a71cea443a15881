package wpesim

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xiaonanln/wpeplayback/transport"
	"github.com/xiaonanln/wpeplayback/util/testutil"
	"github.com/xiaonanln/wpeplayback/wpeproto"
)

type collector struct {
	mu   sync.Mutex
	msgs []transport.Message
}

func (c *collector) handle(msg transport.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) snapshot() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Message(nil), c.msgs...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func startSimulator(t *testing.T) (*Simulator, *transport.MemBus, *collector) {
	t.Helper()
	ctx := context.Background()
	broker := transport.NewMemBroker()
	sim := New(broker.NewBus("wpesim"))
	if err := sim.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(sim.Close)

	client := broker.NewBus("client")
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(client.Close)
	c := &collector{}
	if err := client.Subscribe(ctx, transport.TopicAllResponses, c.handle); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return sim, client, c
}

func publish(t *testing.T, bus transport.Bus, topic string, m wpeproto.Message) {
	t.Helper()
	payload, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := bus.Publish(context.Background(), topic, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func anchor(addr uint32, lat, lon float64) *wpeproto.Node {
	return &wpeproto.Node{
		Address:    addr,
		HasAddress: true,
		Role:       wpeproto.RoleHeadnode,
		Coordinates: &wpeproto.Point{
			Geoid:      wpeproto.GeoidWGS84,
			LLAPrecise: []float64{lat, lon, 0},
		},
	}
}

func lastStatus(t *testing.T, c *collector, topic string) wpeproto.Status {
	t.Helper()
	msgs := c.snapshot()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Topic == topic {
			var st wpeproto.Status
			if err := st.Unmarshal(msgs[i].Payload); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			return st
		}
	}
	t.Fatalf("No message on %s", topic)
	return wpeproto.Status{}
}

func TestSimulator_PurgeAndConfigure(t *testing.T) {
	sim, client, c := startSimulator(t)

	publish(t, client, transport.TopicRequestPurge, &wpeproto.Query{Network: 42})
	testutil.WaitFor(t, 2*time.Second, "purge response", func() bool { return c.count() == 1 })
	st := lastStatus(t, c, transport.TopicResponsePurge)
	if st.Code != wpeproto.StatusError || st.Message != "Unknown network 42" {
		t.Errorf("Purge of an unknown network = %v", st)
	}

	cd := &wpeproto.ConfigurationData{Network: 42, Nodes: []*wpeproto.Node{anchor(1, 61, 23), anchor(2, 62, 24)}}
	publish(t, client, transport.TopicRequestConfigure, cd)
	testutil.WaitFor(t, 2*time.Second, "configure response", func() bool { return c.count() == 2 })
	st = lastStatus(t, c, transport.TopicResponseConfigure)
	if st.Code != wpeproto.StatusSuccess {
		t.Fatalf("Configure failed: %v", st)
	}
	if want := "{'network': '42', 'is_new_network': True, 'nodes_nb': 2}"; st.Message != want {
		t.Errorf("Configure message = %q, want %q", st.Message, want)
	}
	if !sim.HasNetwork(42) {
		t.Error("Expected network 42 to be configured")
	}

	publish(t, client, transport.TopicRequestPurge, &wpeproto.Query{Network: 42})
	testutil.WaitFor(t, 2*time.Second, "second purge response", func() bool { return c.count() == 3 })
	st = lastStatus(t, c, transport.TopicResponsePurge)
	if st.Code != wpeproto.StatusSuccess || st.Message != "Deleted all the configuration for network 42" {
		t.Errorf("Purge of a known network = %v", st)
	}
	if sim.HasNetwork(42) {
		t.Error("Purge should forget the network")
	}
	if sim.Received("purge") != 2 || sim.Received("configure") != 1 {
		t.Errorf("Received purge=%d configure=%d", sim.Received("purge"), sim.Received("configure"))
	}
}

func TestSimulator_FetchAndLocate(t *testing.T) {
	sim, client, c := startSimulator(t)
	sim.AddNetwork(&wpeproto.ConfigurationData{Network: 7, Nodes: []*wpeproto.Node{anchor(1, 60, 20), anchor(2, 62, 22), anchor(3, 70, 30)}})

	publish(t, client, transport.TopicRequestFetch, &wpeproto.Query{Network: 7})
	testutil.WaitFor(t, 2*time.Second, "fetch response", func() bool { return c.count() == 1 })
	var echo wpeproto.ConfigurationData
	if err := echo.Unmarshal(c.snapshot()[0].Payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if echo.Network != 7 || len(echo.Nodes) != 3 {
		t.Errorf("Fetch echoed network %d with %d nodes", echo.Network, len(echo.Nodes))
	}

	md := &wpeproto.MeshData{
		Source:  1001,
		Network: 7,
		Payload: []*wpeproto.MeasurementData{
			{Type: wpeproto.DomainRSS, Target: 1, Value: -50},
			{Type: wpeproto.DomainRSS, Target: 2, Value: -60},
		},
	}
	publish(t, client, transport.TopicRequestLocate, md)
	testutil.WaitFor(t, 2*time.Second, "locate response", func() bool { return c.count() == 2 })
	msg := c.snapshot()[1]
	if msg.Topic != "wpe-response/locate/7" {
		t.Fatalf("Locate response on %s", msg.Topic)
	}
	var node wpeproto.Node
	if err := node.Unmarshal(msg.Payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	lat, lon, _, err := node.Coordinates.Coordinates()
	if err != nil {
		t.Fatalf("Coordinates failed: %v", err)
	}
	if node.Address != 1001 || node.Network != 7 {
		t.Errorf("Located node %d of network %d", node.Address, node.Network)
	}
	if math.Abs(lat-61) > 1e-9 || math.Abs(lon-21) > 1e-9 {
		t.Errorf("Location = (%v, %v), want the mean of the measured anchors (61, 21)", lat, lon)
	}
}

func TestSimulator_LocateUnknownNetwork(t *testing.T) {
	sim, client, c := startSimulator(t)

	publish(t, client, transport.TopicRequestLocate, &wpeproto.MeshData{Source: 1, Network: 9})
	testutil.WaitFor(t, 2*time.Second, "locate request", func() bool { return sim.Received("locate") == 1 })
	time.Sleep(50 * time.Millisecond)
	if c.count() != 0 {
		t.Errorf("Unknown networks are not located, got %d responses", c.count())
	}
}

func TestSimulator_Faults(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		sim, client, c := startSimulator(t)
		sim.SetFaults(Faults{Drop: map[string]bool{"purge": true}})
		publish(t, client, transport.TopicRequestPurge, &wpeproto.Query{Network: 1})
		testutil.WaitFor(t, 2*time.Second, "purge request", func() bool { return sim.Received("purge") == 1 })
		time.Sleep(50 * time.Millisecond)
		if c.count() != 0 {
			t.Errorf("Dropped phase answered %d times", c.count())
		}
	})

	t.Run("fail", func(t *testing.T) {
		sim, client, c := startSimulator(t)
		sim.SetFaults(Faults{Fail: map[string]wpeproto.Status{"configure": {Code: wpeproto.StatusError, Message: "'1'"}}})
		publish(t, client, transport.TopicRequestConfigure, &wpeproto.ConfigurationData{Network: 1})
		testutil.WaitFor(t, 2*time.Second, "configure response", func() bool { return c.count() == 1 })
		st := lastStatus(t, c, transport.TopicResponseConfigure)
		if st.Code != wpeproto.StatusError || st.Message != "'1'" {
			t.Errorf("Configure status = %v", st)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		sim, client, c := startSimulator(t)
		sim.SetFaults(Faults{Duplicate: map[string]bool{"purge": true}})
		publish(t, client, transport.TopicRequestPurge, &wpeproto.Query{Network: 1})
		testutil.WaitFor(t, 2*time.Second, "both purge responses", func() bool { return c.count() == 2 })
	})

	t.Run("cross talk", func(t *testing.T) {
		sim, client, c := startSimulator(t)
		sim.SetFaults(Faults{CrossTalk: 99})
		publish(t, client, transport.TopicRequestPurge, &wpeproto.Query{Network: 1})
		testutil.WaitFor(t, 2*time.Second, "purge responses", func() bool { return c.count() == 2 })
		first := c.snapshot()[0]
		var st wpeproto.Status
		if err := st.Unmarshal(first.Payload); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if st.Message != "Purge failed for network 99" {
			t.Errorf("Cross talk message = %q", st.Message)
		}
	})

	t.Run("drop fetched nodes", func(t *testing.T) {
		sim, client, c := startSimulator(t)
		sim.AddNetwork(&wpeproto.ConfigurationData{Network: 3, Nodes: []*wpeproto.Node{anchor(1, 0, 0), anchor(2, 0, 0)}})
		sim.SetFaults(Faults{DropFetchedNodes: 5})
		publish(t, client, transport.TopicRequestFetch, &wpeproto.Query{Network: 3})
		testutil.WaitFor(t, 2*time.Second, "fetch response", func() bool { return c.count() == 1 })
		var echo wpeproto.ConfigurationData
		if err := echo.Unmarshal(c.snapshot()[0].Payload); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if len(echo.Nodes) != 0 {
			t.Errorf("Expected every node dropped, got %d", len(echo.Nodes))
		}
	})
}

func TestSimulator_HoldLocate(t *testing.T) {
	sim, client, c := startSimulator(t)
	sim.AddNetwork(&wpeproto.ConfigurationData{Network: 5, Nodes: []*wpeproto.Node{anchor(1, 10, 10)}})
	sim.SetFaults(Faults{HoldLocate: true})

	for addr := uint32(100); addr < 103; addr++ {
		publish(t, client, transport.TopicRequestLocate, &wpeproto.MeshData{Source: addr, Network: 5})
	}
	testutil.WaitFor(t, 2*time.Second, "three held responses", func() bool { return sim.Held() == 3 })
	if c.count() != 0 {
		t.Fatalf("Held responses were sent: %d", c.count())
	}

	if n := sim.ReleaseLocate(1); n != 1 {
		t.Errorf("ReleaseLocate(1) = %d", n)
	}
	testutil.WaitFor(t, 2*time.Second, "one released response", func() bool { return c.count() == 1 })
	if n := sim.ReleaseLocate(0); n != 2 {
		t.Errorf("ReleaseLocate(0) = %d, want 2", n)
	}
	testutil.WaitFor(t, 2*time.Second, "all responses", func() bool { return c.count() == 3 })
	if sim.Held() != 0 {
		t.Errorf("Held() = %d after releasing everything", sim.Held())
	}
}
