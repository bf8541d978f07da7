package processor

import (
	"context"
	"fmt"
	"time"

	logx "sipcore/pkg/logx"
)

// Cleanup deletes FAILED records created before now-retention.
// COMPLETED records are never touched.
func (p *Processor) Cleanup(ctx context.Context, retention time.Duration) (CleanupResult, error) {
	started := p.now()
	if retention <= 0 {
		return CleanupResult{}, fmt.Errorf("%w: retention must be > 0", ErrConfigInvalid)
	}
	cutoff := started.Add(-retention)
	n, err := p.store.DeleteFailedBefore(ctx, cutoff)
	res := CleanupResult{Deleted: n, Cutoff: cutoff, Duration: p.now().Sub(started)}
	if err != nil {
		return res, fmt.Errorf("delete failed transactions: %w", err)
	}
	if n > 0 {
		p.log.Info("stale failed transactions deleted", logx.Int64("deleted", n), logx.Time("cutoff", cutoff))
	} else {
		p.log.Debug("cleanup: nothing to delete", logx.Time("cutoff", cutoff))
	}
	return res, nil
}
