package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Throttled spaces out calls to the wrapped extractor so a remote site is not
// hit back to back.
type Throttled struct {
	Extractor
	limiter *rate.Limiter
}

// Throttle wraps ext so that consecutive Extract calls are at least interval
// apart. A non-positive interval returns ext unchanged.
func Throttle(ext Extractor, interval time.Duration) Extractor {
	if interval <= 0 {
		return ext
	}
	return &Throttled{Extractor: ext, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Extract waits for the limiter, then delegates.
func (t *Throttled) Extract(ctx context.Context, query string) (Record, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &UnrecoverableError{Err: eris.Wrap(err, "throttle: wait")}
	}
	return t.Extractor.Extract(ctx, query)
}
