package wpeproto

import (
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestQueryEncoding(t *testing.T) {
	b, err := (&Query{Network: 42}).Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	// field 1, varint 42
	want := []byte{0x08, 0x2a}
	if string(b) != string(want) {
		t.Fatalf("Marshal = %x, want %x", b, want)
	}

	var q Query
	if err := q.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if q.Network != 42 {
		t.Fatalf("Network = %d, want 42", q.Network)
	}
}

func TestNodePresenceSurvivesZeroValues(t *testing.T) {
	in := &Node{
		Address:      0,
		HasAddress:   true,
		Network:      42,
		Timestamp:    0,
		HasTimestamp: true,
		Coordinates:  &Point{Geoid: GeoidWGS84, LLAPrecise: []float64{60.1, 24.9, 0}},
		Role:         RoleHeadnode,
	}
	b, err := in.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out Node
	if err := out.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !out.HasAddress || out.Address != 0 {
		t.Errorf("address presence lost: has=%v addr=%d", out.HasAddress, out.Address)
	}
	if !out.HasTimestamp {
		t.Errorf("timestamp presence lost")
	}
	if out.HasMeasurementOffset {
		t.Errorf("measurement offset should not be present")
	}
	if out.Role != RoleHeadnode || !out.HasNetwork || out.Network != 42 {
		t.Errorf("unexpected node %+v", out)
	}
	lat, lon, alt, err := out.Coordinates.Coordinates()
	if err != nil || lat != 60.1 || lon != 24.9 || alt != 0 {
		t.Errorf("Coordinates() = %v %v %v %v", lat, lon, alt, err)
	}
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "Unknown network 42")
	b = protowire.AppendTag(b, 98, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(StatusError))

	var s Status
	if err := s.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if s.Code != StatusError || s.Message != "Unknown network 42" {
		t.Fatalf("unexpected status %s", s.String())
	}
}

func TestPointAcceptsUnpackedDoubles(t *testing.T) {
	var b []byte
	for _, v := range []float64{1.5, 2.5, 3.5} {
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}

	var p Point
	if err := p.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(p.LLAPrecise) != 3 || p.LLAPrecise[2] != 3.5 {
		t.Fatalf("LLAPrecise = %v", p.LLAPrecise)
	}
}

func TestPointCoordinatesFallsBackToLLA(t *testing.T) {
	p := &Point{LLA: []float32{1, 2, 3}}
	lat, lon, alt, err := p.Coordinates()
	if err != nil || lat != 1 || lon != 2 || alt != 3 {
		t.Fatalf("Coordinates() = %v %v %v %v", lat, lon, alt, err)
	}

	if _, _, _, err := (&Point{}).Coordinates(); err == nil {
		t.Fatalf("expected error for empty point")
	}
}

func TestConfigurationDataNodes(t *testing.T) {
	in := &ConfigurationData{Network: 42}
	for addr := uint32(1); addr <= 3; addr++ {
		in.Nodes = append(in.Nodes, &Node{Address: addr, Network: 42, Role: RoleHeadnode,
			Coordinates: &Point{Geoid: GeoidWGS84, LLAPrecise: []float64{float64(addr), 0, 0}}})
	}
	b, err := in.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out ConfigurationData
	if err := out.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Network != 42 || len(out.Nodes) != 3 {
		t.Fatalf("unexpected configuration: network=%d nodes=%d", out.Network, len(out.Nodes))
	}
	for i, n := range out.Nodes {
		if n.Address != uint32(i+1) {
			t.Errorf("node %d address = %d", i, n.Address)
		}
	}
}

func TestMeshDataPayload(t *testing.T) {
	in := &MeshData{
		Source:  1001,
		Network: 42,
		Payload: []*MeasurementData{
			{Type: DomainRSS, Target: 1, Value: -61},
			{Type: DomainRSS, Target: 2, Value: -70, Time: 0, HasTime: true},
		},
		UseStrongestNeighbors:    0,
		HasUseStrongestNeighbors: true,
	}
	b, err := in.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out MeshData
	if err := out.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Source != 1001 || out.Network != 42 || len(out.Payload) != 2 {
		t.Fatalf("unexpected mesh data %+v", out)
	}
	if out.Payload[0].HasTime || !out.Payload[1].HasTime {
		t.Errorf("time presence not preserved")
	}
	if !out.HasUseStrongestNeighbors || out.HasVersion {
		t.Errorf("presence flags wrong: %+v", out)
	}
}

func TestTruncatedInput(t *testing.T) {
	b, _ := (&Status{Code: StatusSuccess, Message: "Deleted all the configuration for network 42"}).Marshal()
	var s Status
	if err := s.Unmarshal(b[:len(b)-5]); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestWireTypeMismatch(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "42")

	var q Query
	if err := q.Unmarshal(b); err == nil {
		t.Fatalf("expected error for wrong wire type")
	}
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain("RSS")
	if err != nil || d != DomainRSS {
		t.Fatalf("ParseDomain(RSS) = %v, %v", d, err)
	}
	if d.String() != "RSS" {
		t.Errorf("String() = %s", d.String())
	}
	if _, err := ParseDomain("LIDAR"); err == nil {
		t.Errorf("expected error for unknown domain")
	}
}
