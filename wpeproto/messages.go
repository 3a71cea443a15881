// Package wpeproto holds the messages exchanged with the positioning engine
// and their protobuf wire encoding.
package wpeproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every WPE payload.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

// Query selects a network. It is the payload of purge and fetch requests.
type Query struct {
	Network uint64
}

func (m *Query) Marshal() ([]byte, error) {
	var e encoder
	if m.Network != 0 {
		e.varint(1, m.Network)
	}
	return e.b, nil
}

func (m *Query) Unmarshal(b []byte) error {
	*m = Query{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Network = v
			return n, err
		}
		return skipField, nil
	})
}

// Status is the generic response to purge and configure requests.
type Status struct {
	Code    StatusCode
	Message string
	Sender  string
}

func (m *Status) Marshal() ([]byte, error) {
	var e encoder
	if m.Code != 0 {
		e.varint(1, uint64(m.Code))
	}
	if m.Message != "" {
		e.str(2, m.Message)
	}
	if m.Sender != "" {
		e.str(3, m.Sender)
	}
	return e.b, nil
}

func (m *Status) Unmarshal(b []byte) error {
	*m = Status{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Code = StatusCode(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			m.Message = string(v)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			m.Sender = string(v)
			return n, err
		}
		return skipField, nil
	})
}

func (m *Status) String() string {
	return fmt.Sprintf("{code: %s, message: %q, sender: %q}", m.Code, m.Message, m.Sender)
}

// Point is a position. LLAPrecise takes precedence over LLA when both are set.
type Point struct {
	Geoid      Geoid
	LLA        []float32
	LLAPrecise []float64
}

// Coordinates returns latitude, longitude and altitude.
func (m *Point) Coordinates() (lat, lon, alt float64, err error) {
	switch {
	case len(m.LLAPrecise) == 3:
		return m.LLAPrecise[0], m.LLAPrecise[1], m.LLAPrecise[2], nil
	case len(m.LLA) == 3:
		return float64(m.LLA[0]), float64(m.LLA[1]), float64(m.LLA[2]), nil
	}
	return 0, 0, 0, fmt.Errorf("point has %d precise and %d coarse coordinates, want 3", len(m.LLAPrecise), len(m.LLA))
}

func (m *Point) Marshal() ([]byte, error) {
	var e encoder
	if m.Geoid != 0 {
		e.varint(1, uint64(m.Geoid))
	}
	e.packedFloats(2, m.LLA)
	e.packedDoubles(3, m.LLAPrecise)
	return e.b, nil
}

func (m *Point) Unmarshal(b []byte) error {
	*m = Point{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case 1:
			var v uint64
			v, n, err = consumeVarint(typ, b)
			m.Geoid = Geoid(v)
		case 2:
			m.LLA, n, err = consumeFloats(m.LLA, typ, b)
		case 3:
			m.LLAPrecise, n, err = consumeDoubles(m.LLAPrecise, typ, b)
		default:
			return skipField, nil
		}
		return n, err
	})
}

// Node is an anchor in a configuration or a computed location in a locate
// response.
type Node struct {
	Address              uint32
	HasAddress           bool
	Network              uint64
	HasNetwork           bool
	Coordinates          *Point
	Role                 Role
	MapIdentifier        string
	GeoIdentifier        []string
	Timestamp            uint64
	HasTimestamp         bool
	MeasurementOffset    float64
	HasMeasurementOffset bool
}

func (m *Node) appendTo(e *encoder) error {
	if m.HasAddress || m.Address != 0 {
		e.varint(1, uint64(m.Address))
	}
	if m.HasNetwork || m.Network != 0 {
		e.varint(2, m.Network)
	}
	if m.Coordinates != nil {
		p, err := m.Coordinates.Marshal()
		if err != nil {
			return err
		}
		e.bytes(3, p)
	}
	if m.Role != 0 {
		e.varint(4, uint64(m.Role))
	}
	if m.MapIdentifier != "" {
		e.str(5, m.MapIdentifier)
	}
	for _, g := range m.GeoIdentifier {
		e.str(6, g)
	}
	if m.HasTimestamp || m.Timestamp != 0 {
		e.varint(7, m.Timestamp)
	}
	if m.HasMeasurementOffset || m.MeasurementOffset != 0 {
		e.double(8, m.MeasurementOffset)
	}
	return nil
}

func (m *Node) Marshal() ([]byte, error) {
	var e encoder
	if err := m.appendTo(&e); err != nil {
		return nil, err
	}
	return e.b, nil
}

func (m *Node) Unmarshal(b []byte) error {
	*m = Node{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Address, m.HasAddress = uint32(v), true
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.Network, m.HasNetwork = v, true
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.Coordinates = &Point{}
			return n, m.Coordinates.Unmarshal(v)
		case 4:
			v, n, err := consumeVarint(typ, b)
			m.Role = Role(v)
			return n, err
		case 5:
			v, n, err := consumeBytes(typ, b)
			m.MapIdentifier = string(v)
			return n, err
		case 6:
			v, n, err := consumeBytes(typ, b)
			m.GeoIdentifier = append(m.GeoIdentifier, string(v))
			return n, err
		case 7:
			v, n, err := consumeVarint(typ, b)
			m.Timestamp, m.HasTimestamp = v, true
			return n, err
		case 8:
			v, n, err := consumeDouble(typ, b)
			m.MeasurementOffset, m.HasMeasurementOffset = v, true
			return n, err
		}
		return skipField, nil
	})
}

// ConfigurationData is the full topology of a network. It is sent in
// configure requests and echoed back in fetch responses.
type ConfigurationData struct {
	Network uint64
	Nodes   []*Node
}

func (m *ConfigurationData) Marshal() ([]byte, error) {
	var e encoder
	if m.Network != 0 {
		e.varint(1, m.Network)
	}
	for i, node := range m.Nodes {
		b, err := node.Marshal()
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		e.bytes(2, b)
	}
	return e.b, nil
}

func (m *ConfigurationData) Unmarshal(b []byte) error {
	*m = ConfigurationData{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Network = v
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			node := &Node{}
			if err := node.Unmarshal(v); err != nil {
				return 0, err
			}
			m.Nodes = append(m.Nodes, node)
			return n, nil
		}
		return skipField, nil
	})
}

// MeasurementData is one measurement of a mesh data sample.
type MeasurementData struct {
	Type    Domain
	Target  uint32
	Value   float64
	Time    float64
	HasTime bool
}

func (m *MeasurementData) Marshal() ([]byte, error) {
	var e encoder
	if m.Type != 0 {
		e.varint(1, uint64(m.Type))
	}
	if m.Target != 0 {
		e.varint(2, uint64(m.Target))
	}
	if m.Value != 0 {
		e.double(3, m.Value)
	}
	if m.HasTime || m.Time != 0 {
		e.double(4, m.Time)
	}
	return e.b, nil
}

func (m *MeasurementData) Unmarshal(b []byte) error {
	*m = MeasurementData{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Type = Domain(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.Target = uint32(v)
			return n, err
		case 3:
			v, n, err := consumeDouble(typ, b)
			m.Value = v
			return n, err
		case 4:
			v, n, err := consumeDouble(typ, b)
			m.Time, m.HasTime = v, true
			return n, err
		}
		return skipField, nil
	})
}

// MeshData is a locate request: the measurements a tag reported at one time.
type MeshData struct {
	Source                   uint32
	Network                  uint64
	Version                  float64
	HasVersion               bool
	Timestamp                uint64
	HasTimestamp             bool
	Payload                  []*MeasurementData
	UseStrongestNeighbors    uint32
	HasUseStrongestNeighbors bool
}

func (m *MeshData) Marshal() ([]byte, error) {
	var e encoder
	if m.Source != 0 {
		e.varint(1, uint64(m.Source))
	}
	if m.Network != 0 {
		e.varint(2, m.Network)
	}
	if m.HasVersion || m.Version != 0 {
		e.double(3, m.Version)
	}
	if m.HasTimestamp || m.Timestamp != 0 {
		e.varint(4, m.Timestamp)
	}
	for i, p := range m.Payload {
		b, err := p.Marshal()
		if err != nil {
			return nil, fmt.Errorf("measurement %d: %w", i, err)
		}
		e.bytes(5, b)
	}
	if m.HasUseStrongestNeighbors || m.UseStrongestNeighbors != 0 {
		e.varint(6, uint64(m.UseStrongestNeighbors))
	}
	return e.b, nil
}

func (m *MeshData) Unmarshal(b []byte) error {
	*m = MeshData{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Source = uint32(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.Network = v
			return n, err
		case 3:
			v, n, err := consumeDouble(typ, b)
			m.Version, m.HasVersion = v, true
			return n, err
		case 4:
			v, n, err := consumeVarint(typ, b)
			m.Timestamp, m.HasTimestamp = v, true
			return n, err
		case 5:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			md := &MeasurementData{}
			if err := md.Unmarshal(v); err != nil {
				return 0, err
			}
			m.Payload = append(m.Payload, md)
			return n, nil
		case 6:
			v, n, err := consumeVarint(typ, b)
			m.UseStrongestNeighbors, m.HasUseStrongestNeighbors = uint32(v), true
			return n, err
		}
		return skipField, nil
	})
}
