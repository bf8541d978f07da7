package pricing

import (
	"context"
	"errors"

	logx "sipcore/pkg/logx"
)

// Fallback asks primary first and secondary when primary fails.
type Fallback struct {
	log       logx.Logger
	primary   Source
	secondary Source
}

func NewFallback(log logx.Logger, primary, secondary Source) *Fallback {
	return &Fallback{log: log, primary: primary, secondary: secondary}
}

func (f *Fallback) Price(ctx context.Context, symbol string) (Quote, error) {
	q, err := f.primary.Price(ctx, symbol)
	if err == nil && q.Price.IsPositive() {
		return q, nil
	}
	if ctx.Err() != nil {
		return Quote{}, ctx.Err()
	}
	q2, err2 := f.secondary.Price(ctx, symbol)
	if err2 != nil {
		return Quote{}, errors.Join(err, err2)
	}
	f.log.Warn("primary price source failed; using fallback",
		logx.String("symbol", symbol),
		logx.String("source", q2.Source),
		logx.Err(err),
	)
	return q2, nil
}
