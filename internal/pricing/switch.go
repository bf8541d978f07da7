package pricing

import (
	"context"
	"sync/atomic"
)

// Switch forwards to a source that can be replaced at runtime (config reload).
type Switch struct {
	cur atomic.Pointer[sourceBox]
}

type sourceBox struct{ Source }

func NewSwitch(src Source) *Switch {
	s := &Switch{}
	s.Set(src)
	return s
}

// Set replaces the underlying source. In-flight lookups finish on the old one.
func (s *Switch) Set(src Source) { s.cur.Store(&sourceBox{src}) }

func (s *Switch) Price(ctx context.Context, symbol string) (Quote, error) {
	b := s.cur.Load()
	if b == nil || b.Source == nil {
		return Quote{}, ErrNoPrice
	}
	return b.Price(ctx, symbol)
}
