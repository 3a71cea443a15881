// Package network holds the recorded network data replayed by a playback:
// the anchors, the measurements and the locations computed from them.
package network

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xiaonanln/wpeplayback/wpeproto"
)

const (
	// DataDir is the sub directory of the playback folder holding data files.
	DataDir = "data"
	// ConfigurationFile is written by the data collector and read by the playback.
	ConfigurationFile = "network_configuration.json"
	// ComputedLocationsFile is written by the playback once all locations are received.
	ComputedLocationsFile = "computed_locations.json"
)

// ConfigurationPath returns the network configuration file inside folder.
func ConfigurationPath(folder string) string {
	return filepath.Join(folder, DataDir, ConfigurationFile)
}

// ComputedLocationsPath returns the computed locations file inside folder.
func ComputedLocationsPath(folder string) string {
	return filepath.Join(folder, DataDir, ComputedLocationsFile)
}

// ID is a network identifier. It is written as a JSON string and read from
// either a string or a number.
type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("network id is empty")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("network id %s is not an integer: %w", string(b), err)
	}
	*id = ID(v)
	return nil
}

// Coordinate is a WGS84 position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Node is an anchor of the configuration or a location computed by the
// backend. Optional attributes are nil when unknown.
type Node struct {
	Coordinate        Coordinate `json:"coordinate"`
	Address           *uint32    `json:"address,omitempty"`
	NetworkID         *int64     `json:"network_id,omitempty"`
	IsAnchor          bool       `json:"is_anchor"`
	MapIdentifier     []string   `json:"map_identifier,omitempty"`
	AreaIdentifier    []string   `json:"area_identifier,omitempty"`
	MeasurementOffset *float64   `json:"measurement_offset,omitempty"`
	Timestamp         *uint64    `json:"timestamp,omitempty"`
	Name              *string    `json:"name,omitempty"`
	Description       *string    `json:"description,omitempty"`
}

// Addr returns the node address, or 0 when it is unknown.
func (n *Node) Addr() uint32 {
	if n.Address == nil {
		return 0
	}
	return *n.Address
}

// Network returns the network id of the node, or 0 when it is unknown.
func (n *Node) Network() int64 {
	if n.NetworkID == nil {
		return 0
	}
	return *n.NetworkID
}

// ToProto converts the node into its wire representation.
func (n *Node) ToProto() *wpeproto.Node {
	pn := &wpeproto.Node{
		Coordinates: &wpeproto.Point{
			Geoid:      wpeproto.GeoidWGS84,
			LLAPrecise: []float64{n.Coordinate.Latitude, n.Coordinate.Longitude, n.Coordinate.Altitude},
		},
		Role:          wpeproto.RoleSubnode,
		GeoIdentifier: append([]string(nil), n.AreaIdentifier...),
	}
	if n.Address != nil {
		pn.Address, pn.HasAddress = *n.Address, true
	}
	if n.NetworkID != nil {
		pn.Network, pn.HasNetwork = uint64(*n.NetworkID), true
	}
	if n.IsAnchor {
		pn.Role = wpeproto.RoleHeadnode
	}
	if len(n.MapIdentifier) > 0 {
		pn.MapIdentifier = n.MapIdentifier[0]
	}
	if n.Timestamp != nil {
		pn.Timestamp, pn.HasTimestamp = *n.Timestamp, true
	}
	if n.MeasurementOffset != nil {
		pn.MeasurementOffset, pn.HasMeasurementOffset = *n.MeasurementOffset, true
	}
	return pn
}

// NodeFromProto converts a wire node, typically a locate response, into a Node.
func NodeFromProto(pn *wpeproto.Node) (Node, error) {
	if pn.Coordinates == nil {
		return Node{}, fmt.Errorf("node has no coordinates")
	}
	lat, lon, alt, err := pn.Coordinates.Coordinates()
	if err != nil {
		return Node{}, err
	}

	n := Node{
		Coordinate: Coordinate{Latitude: lat, Longitude: lon, Altitude: alt},
		IsAnchor:   pn.Role == wpeproto.RoleHeadnode,
	}
	if pn.HasAddress {
		addr := pn.Address
		n.Address = &addr
	}
	if pn.HasNetwork {
		network := int64(pn.Network)
		n.NetworkID = &network
	}
	if pn.MapIdentifier != "" {
		n.MapIdentifier = []string{pn.MapIdentifier}
	}
	if len(pn.GeoIdentifier) > 0 {
		n.AreaIdentifier = append([]string(nil), pn.GeoIdentifier...)
	}
	if pn.HasMeasurementOffset {
		offset := pn.MeasurementOffset
		n.MeasurementOffset = &offset
	}
	if pn.HasTimestamp {
		ts := pn.Timestamp
		n.Timestamp = &ts
	}
	return n, nil
}

// MeasureData is a single measurement of a sample.
type MeasureData struct {
	Type   string   `json:"type"`
	Target uint32   `json:"target"`
	Value  float64  `json:"value"`
	Time   *float64 `json:"time,omitempty"`
}

// Measurement is one recorded sample replayed as a locate request.
type Measurement struct {
	Address               uint32        `json:"address"`
	NetworkID             int64         `json:"network_id"`
	Timestamp             *uint64       `json:"timestamp,omitempty"`
	Version               *float64      `json:"version,omitempty"`
	Measures              []MeasureData `json:"measures"`
	UseStrongestNeighbors *uint32       `json:"use_strongest_neighbors,omitempty"`
}

// ToProto converts the measurement into a locate request payload.
func (m *Measurement) ToProto() (*wpeproto.MeshData, error) {
	md := &wpeproto.MeshData{
		Source:  m.Address,
		Network: uint64(m.NetworkID),
	}
	if m.Timestamp != nil {
		md.Timestamp, md.HasTimestamp = *m.Timestamp, true
	}
	if m.Version != nil {
		md.Version, md.HasVersion = *m.Version, true
	}
	if m.UseStrongestNeighbors != nil {
		md.UseStrongestNeighbors, md.HasUseStrongestNeighbors = *m.UseStrongestNeighbors, true
	}
	for i, measure := range m.Measures {
		domain, err := wpeproto.ParseDomain(measure.Type)
		if err != nil {
			return nil, fmt.Errorf("measure %d of node %d: %w", i, m.Address, err)
		}
		pm := &wpeproto.MeasurementData{Type: domain, Target: measure.Target, Value: measure.Value}
		if measure.Time != nil {
			pm.Time, pm.HasTime = *measure.Time, true
		}
		md.Payload = append(md.Payload, pm)
	}
	return md, nil
}

// MeasurementFromProto converts a locate request payload back into a Measurement.
func MeasurementFromProto(md *wpeproto.MeshData) Measurement {
	m := Measurement{
		Address:   md.Source,
		NetworkID: int64(md.Network),
	}
	if md.HasTimestamp {
		ts := md.Timestamp
		m.Timestamp = &ts
	}
	if md.HasVersion {
		v := md.Version
		m.Version = &v
	}
	if md.HasUseStrongestNeighbors {
		u := md.UseStrongestNeighbors
		m.UseStrongestNeighbors = &u
	}
	for _, pm := range md.Payload {
		measure := MeasureData{Type: pm.Type.String(), Target: pm.Target, Value: pm.Value}
		if pm.HasTime {
			t := pm.Time
			measure.Time = &t
		}
		m.Measures = append(m.Measures, measure)
	}
	return m
}
