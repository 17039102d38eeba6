package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultImageInterval is the minimum spacing between successive image
// generation calls. The image API throttles aggressively; spacing the calls
// keeps a 25-page run inside the per-minute quota.
const DefaultImageInterval = 1500 * time.Millisecond

// Pacer spaces successive backend calls. Implementations must return
// promptly when the context is canceled.
type Pacer interface {
	Wait(ctx context.Context) error
}

type ratePacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a Pacer that allows the first call immediately and then
// enforces at least minInterval between calls.
func NewPacer(minInterval time.Duration) Pacer {
	return &ratePacer{
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

func (p *ratePacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
