package pipeline

import (
	"context"
	"time"
)

// Schedule runs RunOnce immediately and then every interval until ctx is
// done. A zero interval runs once. Listing failures skip the cycle.
func (p *Pipeline) Schedule(ctx context.Context, interval time.Duration) error {
	p.cycle(ctx)
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Pipeline) cycle(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		p.log.Error().Err(err).Msg("cycle skipped")
	}
}
