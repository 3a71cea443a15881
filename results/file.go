package results

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xiaonanln/wpeplayback/network"
	"github.com/xiaonanln/wpeplayback/util/logger"
)

// FileSink writes the computed locations JSON document.
type FileSink struct {
	path   string
	logger *logger.Logger
}

// NewFileSink writes to data/computed_locations.json inside folder.
func NewFileSink(folder string) *FileSink {
	return NewFileSinkAt(network.ComputedLocationsPath(folder))
}

// NewFileSinkAt writes to path.
func NewFileSinkAt(path string) *FileSink {
	return &FileSink{path: path, logger: logger.NewLogger("FileSink")}
}

// Path returns the file written by Save.
func (s *FileSink) Path() string {
	return s.path
}

// Save writes the report to a temporary file next to the target and renames
// it into place, so readers never see a partial document.
func (s *FileSink) Save(ctx context.Context, networkID int64, nodes []network.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if nodes == nil {
		nodes = []network.Node{}
	}
	data, err := json.MarshalIndent(network.LocationReport{NetworkID: network.ID(networkID), Nodes: nodes}, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode computed locations: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write computed locations: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write computed locations: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to write computed locations: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to move computed locations into place: %w", err)
	}

	s.logger.Infof("Saved %d computed locations to %s", len(nodes), s.path)
	return nil
}

// ReadFile loads a computed locations document.
func ReadFile(path string) (*network.LocationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read computed locations: %w", err)
	}
	var report network.LocationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse computed locations: %w", err)
	}
	return &report, nil
}
