package results

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xiaonanln/wpeplayback/network"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"github.com/xiaonanln/wpeplayback/util/postgres"
	"github.com/xiaonanln/wpeplayback/util/uniqueid"
)

// LocationStore is the subset of postgres.DB used by PostgresSink.
type LocationStore interface {
	SaveLocations(ctx context.Context, runID string, networkID int64, rows []postgres.LocationRow) error
}

// PostgresSink stores each playback as a run with one row per location.
type PostgresSink struct {
	store  LocationStore
	logger *logger.Logger

	mu        sync.Mutex
	lastRunID string
}

// NewPostgresSink creates a sink backed by store, normally a *postgres.DB
// whose schema was initialised.
func NewPostgresSink(store LocationStore) *PostgresSink {
	return &PostgresSink{store: store, logger: logger.NewLogger("PostgresSink")}
}

// LastRunID returns the run id used by the latest successful Save.
func (s *PostgresSink) LastRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunID
}

func (s *PostgresSink) Save(ctx context.Context, networkID int64, nodes []network.Node) error {
	rows := make([]postgres.LocationRow, 0, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("failed to encode location of node %d: %w", node.Addr(), err)
		}
		nodeNetwork := node.Network()
		if nodeNetwork == 0 {
			nodeNetwork = networkID
		}
		rows = append(rows, postgres.LocationRow{
			Address:   node.Addr(),
			NetworkID: nodeNetwork,
			Latitude:  node.Coordinate.Latitude,
			Longitude: node.Coordinate.Longitude,
			Altitude:  node.Coordinate.Altitude,
			Data:      data,
		})
	}

	runID := uniqueid.UniqueId()
	if err := s.store.SaveLocations(ctx, runID, networkID, rows); err != nil {
		return fmt.Errorf("failed to store computed locations: %w", err)
	}

	s.mu.Lock()
	s.lastRunID = runID
	s.mu.Unlock()
	s.logger.Infof("Stored %d computed locations of network %d as run %s", len(rows), networkID, runID)
	return nil
}
