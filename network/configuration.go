package network

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xiaonanln/wpeplayback/wpeproto"
)

// Configuration is the recorded network replayed by a playback. It is not
// modified once loaded.
type Configuration struct {
	NetworkID    ID            `json:"network"`
	Nodes        []Node        `json:"nodes"`
	Measurements []Measurement `json:"measurements"`
}

// LoadConfiguration reads and validates a network configuration file.
func LoadConfiguration(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network configuration: %w", err)
	}
	return ParseConfiguration(data)
}

// ParseConfiguration decodes and validates a network configuration document.
func ParseConfiguration(data []byte) (*Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse network configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid network configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration can be replayed.
func (c *Configuration) Validate() error {
	if c.NetworkID <= 0 {
		return fmt.Errorf("network id must be positive, got %d", c.NetworkID)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("no anchors have been found, verify that the data collector could collect anchor data")
	}
	if len(c.Measurements) == 0 {
		return fmt.Errorf("no measurements have been found, verify that the data collector could collect measurements")
	}

	seen := make(map[uint32]bool, len(c.Nodes))
	for i := range c.Nodes {
		node := &c.Nodes[i]
		if node.Address == nil {
			return fmt.Errorf("node %d has no address", i)
		}
		if seen[*node.Address] {
			return fmt.Errorf("duplicate node address %d", *node.Address)
		}
		seen[*node.Address] = true
	}

	for i := range c.Measurements {
		for j, measure := range c.Measurements[i].Measures {
			if _, err := wpeproto.ParseDomain(measure.Type); err != nil {
				return fmt.Errorf("measurement %d, measure %d: %w", i, j, err)
			}
		}
	}
	return nil
}

// NodeAddresses returns the addresses of the configured nodes in order.
func (c *Configuration) NodeAddresses() []uint32 {
	addrs := make([]uint32, 0, len(c.Nodes))
	for i := range c.Nodes {
		addrs = append(addrs, c.Nodes[i].Addr())
	}
	return addrs
}

// ToProto builds the configure request payload. Nodes without a network id
// are attached to the configured network.
func (c *Configuration) ToProto() *wpeproto.ConfigurationData {
	cd := &wpeproto.ConfigurationData{Network: uint64(c.NetworkID)}
	for i := range c.Nodes {
		pn := c.Nodes[i].ToProto()
		if !pn.HasNetwork {
			pn.Network, pn.HasNetwork = uint64(c.NetworkID), true
		}
		cd.Nodes = append(cd.Nodes, pn)
	}
	return cd
}

// LocationReport is the content of the computed locations file.
type LocationReport struct {
	NetworkID ID     `json:"network"`
	Nodes     []Node `json:"nodes"`
}
