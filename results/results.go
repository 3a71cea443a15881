// Package results persists the locations computed during a playback.
package results

import (
	"context"
	"errors"

	"github.com/xiaonanln/wpeplayback/network"
)

// Persister stores the locations of a finished playback.
type Persister interface {
	Save(ctx context.Context, networkID int64, nodes []network.Node) error
}

// MultiSink saves to every sink in order and joins their errors.
type MultiSink []Persister

func (m MultiSink) Save(ctx context.Context, networkID int64, nodes []network.Node) error {
	var errs []error
	for _, p := range m {
		if err := p.Save(ctx, networkID, nodes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
