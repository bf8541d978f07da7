package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultYahooBaseURL   = "https://query1.finance.yahoo.com"
	defaultYahooUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

type YahooConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Yahoo reads the regular market price from the chart endpoint.
type Yahoo struct {
	base   string
	ua     string
	client *http.Client
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func NewYahoo(cfg YahooConfig) *Yahoo {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultYahooBaseURL
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultYahooUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Yahoo{base: base, ua: ua, client: &http.Client{Timeout: timeout}}
}

func (y *Yahoo) Price(ctx context.Context, symbol string) (Quote, error) {
	sym := normalize(symbol)
	if sym == "" {
		return Quote{}, fmt.Errorf("empty symbol: %w", ErrNoPrice)
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", y.base, url.PathEscape(sym))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("User-Agent", y.ua)
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("yahoo %s: %w", sym, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Quote{}, fmt.Errorf("yahoo %s: status %s", sym, resp.Status)
	}

	var body yahooChartResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("yahoo %s decode: %w", sym, err)
	}
	if e := body.Chart.Error; e != nil {
		return Quote{}, fmt.Errorf("yahoo %s: %s %s: %w", sym, e.Code, e.Description, ErrNoPrice)
	}
	if len(body.Chart.Result) == 0 {
		return Quote{}, fmt.Errorf("yahoo %s: empty result: %w", sym, ErrNoPrice)
	}
	raw := body.Chart.Result[0].Meta.RegularMarketPrice
	if raw <= 0 {
		return Quote{}, fmt.Errorf("yahoo %s: price %v: %w", sym, raw, ErrNoPrice)
	}
	return Quote{
		Symbol: sym,
		Price:  decimal.NewFromFloat(raw),
		Source: "yahoo",
		At:     time.Now(),
	}, nil
}
