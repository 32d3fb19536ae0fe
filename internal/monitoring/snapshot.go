package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/resilience"
)

// Snapshot is the health of one batch run.
type Snapshot struct {
	RunID     string  `json:"run_id"`
	Total     int64   `json:"total"`
	Succeeded int64   `json:"succeeded"`
	Skipped   int64   `json:"skipped"`
	Failed    int64   `json:"failed"`
	FailRate  float64 `json:"fail_rate"`

	DLQDepth int `json:"dlq_depth"`
	// OpenCircuits lists lookup sources whose breaker is not closed.
	OpenCircuits []string `json:"open_circuits,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// DLQCounter reports the dead letter queue depth.
type DLQCounter interface {
	CountDLQ(ctx context.Context) (int, error)
}

// Collector builds snapshots from a batch summary, the DLQ and the circuit
// breakers.
type Collector struct {
	dlq      DLQCounter
	breakers *resilience.Breakers
}

// NewCollector creates a Collector. Either argument may be nil.
func NewCollector(dlq DLQCounter, breakers *resilience.Breakers) *Collector {
	return &Collector{dlq: dlq, breakers: breakers}
}

// Collect snapshots a finished batch.
func (c *Collector) Collect(ctx context.Context, summary model.BatchSummary) (*Snapshot, error) {
	snap := &Snapshot{
		RunID:       summary.RunID,
		Total:       summary.Total,
		Succeeded:   summary.Succeeded,
		Skipped:     summary.Skipped,
		Failed:      summary.Failed,
		CollectedAt: time.Now().UTC(),
	}
	if processed := summary.Succeeded + summary.Skipped + summary.Failed; processed > 0 {
		snap.FailRate = float64(summary.Failed) / float64(processed)
	}

	if c.dlq != nil {
		depth, err := c.dlq.CountDLQ(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count dlq")
		}
		snap.DLQDepth = depth
	}

	if c.breakers != nil {
		for source, state := range c.breakers.States() {
			if state != resilience.CircuitClosed {
				snap.OpenCircuits = append(snap.OpenCircuits, source)
			}
		}
		sort.Strings(snap.OpenCircuits)
	}
	return snap, nil
}
