package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/marketplace/internal/httpclient"
	"github.com/Checker-Finance/marketplace/internal/pricing"
)

var (
	ErrNonPositivePrice = errors.New("oracle: price must be positive")
	ErrSymbolMismatch   = errors.New("oracle: response symbol does not match request")
)

// Quote is a USD price for one symbol as reported by an off-chain source.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Answer converts the quote to a feed answer with the given number of
// decimals, truncating any extra precision.
func (q Quote) Answer(decimals uint8) (sdkmath.Int, error) {
	if !q.Price.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%s: %w", q.Symbol, ErrNonPositivePrice)
	}
	scaled := pricing.ScaleDecimal(q.Price, decimals)
	if !scaled.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%s: %w", q.Symbol, ErrNonPositivePrice)
	}
	return scaled, nil
}

// Source fetches the current price of a symbol.
type Source interface {
	Fetch(ctx context.Context, symbol string) (Quote, error)
}

// HTTPSource reads prices from a REST endpoint of the form
// GET {base}/v1/prices/{symbol}.
type HTTPSource struct {
	base *url.URL
	exec *httpclient.Executor
}

func NewHTTPSource(baseURL string, exec *httpclient.Executor) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid price source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid price source url %q: unsupported scheme", baseURL)
	}
	return &HTTPSource{base: u, exec: exec}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	u := s.base.JoinPath("v1", "prices", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	var q Quote
	if err := s.exec.DoJSON(ctx, req, s.base.Host, &q); err != nil {
		return Quote{}, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	if !strings.EqualFold(q.Symbol, symbol) {
		return Quote{}, fmt.Errorf("fetch %s: got %q: %w", symbol, q.Symbol, ErrSymbolMismatch)
	}
	q.Symbol = symbol
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	return q, nil
}
