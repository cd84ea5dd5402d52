// Package jobs contains the scheduled batch passes of the points engine.
//
// Each job is a thin wrapper over an application command handler. The job
// checks its feature flag, runs one pass and turns per-item failures into a
// job error so the scheduler counts the run as failed.
package jobs

import (
	"errors"
	"fmt"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// ErrItemsFailed is returned when a pass finished but some items failed.
// The next pass retries them.
var ErrItemsFailed = errors.New("some items failed")

func itemsFailed(n int) error {
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrItemsFailed, n)
}

func defaults(features port.FeatureGate, log *logger.Logger) (port.FeatureGate, *logger.Logger) {
	if features == nil {
		features = port.AllowAll{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return features, log
}
