package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market-state-engine/internal/domain"
)

// DefaultBaseURL is the public Binance spot API.
const DefaultBaseURL = "https://api.binance.com"

// ticker24hr is the /api/v3/ticker/24hr response. Numbers are strings.
type ticker24hr struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// HTTPProvider reads 24h statistics from a Binance-compatible REST API.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	symbols    map[string]string
	logger     *slog.Logger
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		p.httpClient = client
	}
}

// WithRateLimit limits outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(p *HTTPProvider) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithSymbolMap overrides the exchange symbol for a "BASE/QUOTE" key,
// e.g. "WBTC/USDC" -> "BTCUSDC".
func WithSymbolMap(m map[string]string) HTTPOption {
	return func(p *HTTPProvider) {
		for k, v := range m {
			p.symbols[strings.ToUpper(k)] = strings.ToUpper(v)
		}
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(p *HTTPProvider) {
		p.logger = logger
	}
}

// NewHTTPProvider creates a provider. Empty baseURL means DefaultBaseURL.
func NewHTTPProvider(baseURL string, opts ...HTTPOption) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		symbols: make(map[string]string),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPProvider) symbol(base, quote string) string {
	key := strings.ToUpper(base + "/" + quote)
	if s, ok := p.symbols[key]; ok {
		return s
	}
	return strings.ToUpper(base + quote)
}

// Get24h implements Provider.
func (p *HTTPProvider) Get24h(ctx context.Context, base, quote string) (*domain.Stats24h, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	symbol := p.symbol(base, quote)
	url := p.baseURL + "/api/v3/ticker/24hr?symbol=" + symbol

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			if resp.StatusCode == http.StatusBadRequest {
				return nil, fmt.Errorf("%s: %s: %w", symbol, apiErr.Msg, ErrUnavailable)
			}
			return nil, fmt.Errorf("%s: http %d: %s", symbol, resp.StatusCode, apiErr.Msg)
		}
		return nil, fmt.Errorf("%s: http %d", symbol, resp.StatusCode)
	}

	var t ticker24hr
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return t.toStats()
}

func (t ticker24hr) toStats() (*domain.Stats24h, error) {
	s := &domain.Stats24h{}

	if t.PriceChangePercent != "" {
		d, err := decimal.NewFromString(t.PriceChangePercent)
		if err != nil {
			return nil, fmt.Errorf("parse priceChangePercent %q: %w", t.PriceChangePercent, err)
		}
		s.PriceChangePercent = d.InexactFloat64()
	}

	fields := []struct {
		name      string
		raw       string
		dst       **float64
		allowZero bool
	}{
		{"lastPrice", t.LastPrice, &s.LastPrice, false},
		{"highPrice", t.HighPrice, &s.High, false},
		{"lowPrice", t.LowPrice, &s.Low, false},
		{"volume", t.Volume, &s.Volume, true},
	}
	for _, f := range fields {
		v, err := parseOptional(f.raw, f.allowZero)
		if err != nil {
			return nil, fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}

	return s, nil
}

// parseOptional returns nil for empty values, and for zero unless allowZero.
// Negative values are always nil.
func parseOptional(raw string, allowZero bool) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() || (d.IsZero() && !allowZero) {
		return nil, nil
	}
	f := d.InexactFloat64()
	return &f, nil
}

var _ Provider = (*HTTPProvider)(nil)
