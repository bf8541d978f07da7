package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Static serves prices from an in-memory table.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic parses a symbol -> decimal string table.
func NewStatic(table map[string]string) (*Static, error) {
	s := &Static{prices: make(map[string]decimal.Decimal, len(table))}
	for sym, raw := range table {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("static price %s: %w", sym, err)
		}
		s.prices[normalize(sym)] = d
	}
	return s, nil
}

func (s *Static) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[normalize(symbol)] = price
	s.mu.Unlock()
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prices)
}

func (s *Static) Price(ctx context.Context, symbol string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	sym := normalize(symbol)
	s.mu.RLock()
	p, ok := s.prices[sym]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", sym, ErrNoPrice)
	}
	return Quote{Symbol: sym, Price: p, Source: "static", At: time.Now()}, nil
}
