package pricing

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited bounds the request rate against the wrapped source.
// Callers block in Wait until a token is available or ctx ends.
type Limited struct {
	next Source
	lim  *rate.Limiter
}

func NewLimited(next Source, perSec float64, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (l *Limited) Price(ctx context.Context, symbol string) (Quote, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return Quote{}, err
	}
	return l.next.Price(ctx, symbol)
}
