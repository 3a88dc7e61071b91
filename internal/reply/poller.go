package reply

import (
	"context"
	"time"

	"github.com/touchbase/followup/internal/pkg/logger"
)

// Poller periodically pulls recent inbound mail and feeds it through
// the correlator. It complements the webhook: providers that push
// notifications use the webhook path, everything else is polled.
type Poller struct {
	source     InboundSource
	correlator *Correlator
	interval   time.Duration
	log        *logger.Logger
}

func NewPoller(source InboundSource, correlator *Correlator, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		source:     source,
		correlator: correlator,
		interval:   interval,
		log:        logger.With("reply-poller"),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("reply poller started", "interval", p.interval.String())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("reply poller stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce processes one batch of recent inbound mail. Item failures
// are logged and skipped; duplicates are routine because reads overlap
// between polls.
func (p *Poller) PollOnce(ctx context.Context) {
	refs, err := p.source.ListRecent(ctx)
	if err != nil {
		p.log.Error("list recent inbound failed", "error", err)
		return
	}
	if len(refs) == 0 {
		return
	}

	var recorded, skipped int
	for _, ref := range refs {
		outcome, err := p.correlator.Process(ctx, ref)
		if err != nil {
			p.log.Error("inbound processing failed", "provider_id", ref.ID, "error", err)
			continue
		}
		if outcome == OutcomeRecorded {
			recorded++
		} else {
			skipped++
		}
	}
	p.log.Info("inbound poll complete",
		"fetched", len(refs), "recorded", recorded, "skipped", skipped)
}
