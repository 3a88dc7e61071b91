package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/touchbase/followup/internal/pkg/distlock"
	"github.com/touchbase/followup/internal/pkg/logger"
)

// Stage is one runnable batch stage.
type Stage interface {
	Run(ctx context.Context, limit int) (*StageSummary, error)
}

// RunSummary aggregates one orchestrator invocation.
type RunSummary struct {
	Success   bool            `json:"success"`
	Skipped   bool            `json:"skipped,omitempty"` // another run holds the lock
	Reclaimed int64           `json:"reclaimed,omitempty"`
	Stages    []*StageSummary `json:"stages"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Orchestrator runs generate, promote, and send in order under a
// distributed lock. Ordering matters: a message promoted in stage two
// is eligible for sending in stage three of the same run.
type Orchestrator struct {
	generator Stage
	promoter  Stage
	sender    Stage
	store     Store
	lock      distlock.Lock
	log       *logger.Logger

	// Stuck-claim reclaim; zero disables it.
	reclaimAfter time.Duration

	// How often a TTL-based lock is re-armed while stages run.
	heartbeatEvery time.Duration
}

func NewOrchestrator(generator, promoter, sender Stage, s Store, lock distlock.Lock, reclaimAfter time.Duration) *Orchestrator {
	return &Orchestrator{
		generator:      generator,
		promoter:       promoter,
		sender:         sender,
		store:          s,
		lock:           lock,
		log:            logger.With("orchestrator"),
		reclaimAfter:   reclaimAfter,
		heartbeatEvery: time.Minute,
	}
}

// Run executes one full cycle. A stage error aborts the remaining
// stages of this run and is surfaced in the summary; completed stage
// summaries are kept.
func (o *Orchestrator) Run(ctx context.Context, limit int) (*RunSummary, error) {
	summary := &RunSummary{Timestamp: time.Now()}

	acquired, err := o.lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		o.log.Info("another run holds the lock, skipping")
		summary.Success = true
		summary.Skipped = true
		return summary, nil
	}
	defer func() {
		if err := o.lock.Release(context.WithoutCancel(ctx)); err != nil {
			o.log.Error("release run lock failed", "error", err)
		}
	}()

	// TTL-based locks get a heartbeat so a slow send batch cannot
	// outlive the hold.
	if ext, ok := o.lock.(distlock.Extender); ok {
		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		defer stopHeartbeat()
		go o.heartbeat(hbCtx, ext)
	}

	if o.reclaimAfter > 0 {
		n, err := o.store.ReclaimStuck(ctx, o.reclaimAfter)
		if err != nil {
			o.log.Error("stuck-claim reclaim failed", "error", err)
		} else if n > 0 {
			o.log.Warn("reclaimed stuck messages", "count", n)
			summary.Reclaimed = n
		}
	}

	for _, stage := range []Stage{o.generator, o.promoter, o.sender} {
		ss, err := stage.Run(ctx, limit)
		if err != nil {
			summary.Error = err.Error()
			o.log.Error("stage failed, aborting run", "error", err)
			return summary, err
		}
		summary.Stages = append(summary.Stages, ss)
	}

	summary.Success = true
	return summary, nil
}

func (o *Orchestrator) heartbeat(ctx context.Context, ext distlock.Extender) {
	ticker := time.NewTicker(o.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ext.Extend(ctx); err != nil {
				o.log.Warn("run lock extend failed", "error", err)
				return
			}
		}
	}
}
