package authkit

import (
	"context"
	"strconv"
	"time"
)

// StartSweeper launches the background purge loop. Redis TTLs already
// remove expired records; the sweeper reconciles the reset-token index,
// which is a set and cannot expire member-by-member. Calling it twice is
// a no-op until StopSweeper or Close.
func (e *Engine) StartSweeper(ctx context.Context) {
	if e == nil {
		return
	}

	e.sweeperMu.Lock()
	defer e.sweeperMu.Unlock()

	if e.sweeperCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.sweeperCancel = cancel
	e.sweeperDone = done

	go e.runSweeper(ctx, done)
}

// StopSweeper stops the loop and waits for the in-flight pass to finish.
func (e *Engine) StopSweeper() {
	if e == nil {
		return
	}

	e.sweeperMu.Lock()
	cancel := e.sweeperCancel
	done := e.sweeperDone
	e.sweeperCancel = nil
	e.sweeperDone = nil
	e.sweeperMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Engine) runSweeper(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.config.Sweeper.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce(ctx)
		}
	}
}

func (e *Engine) sweepOnce(ctx context.Context) (int, error) {
	purged, err := e.resetStore.PurgeExpired(ctx)

	e.metricInc(MetricSweeperRuns)
	if purged > 0 {
		e.metrics.Add(MetricSweeperPurged, uint64(purged))
	}
	e.emitAudit(ctx, auditSweeperRun, err == nil, "", "", err, map[string]string{
		"purged": strconv.Itoa(purged),
	})

	return purged, err
}
