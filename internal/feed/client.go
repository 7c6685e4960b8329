package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// Значения по умолчанию
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// PositionFeed текущие LP позиции кошелька на всех DEX
type PositionFeed interface {
	GetPositions(ctx context.Context, walletAddress string) ([]domain.Position, error)
}

// HTTPClient PositionFeed поверх endpoint позиций дашборда (Helius)
type HTTPClient struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption настройка HTTPClient
type ClientOption func(*HTTPClient)

// WithTimeout таймаут HTTP клиента
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries максимум повторов
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay начальная задержка повтора
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithAPIKey ключ для feed
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithHTTPClient свой http.Client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient создает клиент feed позиций
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wirePosition JSON формат feed
type wirePosition struct {
	PoolID     string     `json:"poolId"`
	Pool       string     `json:"pool"`
	Venue      string     `json:"venue"`
	Dex        string     `json:"dex"`
	InRange    bool       `json:"inRange"`
	Token0     *wireToken `json:"token0"`
	Token1     *wireToken `json:"token1"`
	BalanceUSD float64    `json:"balanceUsd"`
	APY24h     float64    `json:"apy24h"`
	FeesUSD    float64    `json:"feesUsd"`
}

type wireToken struct {
	Symbol string  `json:"symbol"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

type positionsResponse struct {
	Positions []wirePosition `json:"positions"`
}

func (w wirePosition) toDomain(walletAddress string) domain.Position {
	pos := domain.Position{
		PoolID:        w.PoolID,
		Venue:         domain.ParseVenue(w.Venue),
		WalletAddress: walletAddress,
		InRange:       w.InRange,
		BalanceUSD:    w.BalanceUSD,
		APY24h:        w.APY24h,
		FeesUSD:       w.FeesUSD,
	}
	if pos.PoolID == "" {
		pos.PoolID = w.Pool
	}
	if pos.Venue == domain.VenueUnknown && w.Dex != "" {
		pos.Venue = domain.ParseVenue(w.Dex)
	}
	if w.Token0 != nil {
		pos.Token0 = &domain.Token{Symbol: w.Token0.Symbol, Amount: w.Token0.Amount, Price: w.Token0.Price}
	}
	if w.Token1 != nil {
		pos.Token1 = &domain.Token{Symbol: w.Token1.Symbol, Amount: w.Token1.Amount, Price: w.Token1.Price}
	}
	return pos
}

// GetPositions загружает позиции с повторами и exponential backoff
func (c *HTTPClient) GetPositions(ctx context.Context, walletAddress string) ([]domain.Position, error) {
	q := url.Values{}
	q.Set("wallet", walletAddress)
	endpoint := c.baseURL + "?" + q.Encode()

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// rate limit и ошибки сервера повторяем
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			// ошибки клиента не повторяем
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		var parsed positionsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}

		positions := make([]domain.Position, 0, len(parsed.Positions))
		for _, w := range parsed.Positions {
			positions = append(positions, w.toDomain(walletAddress))
		}
		return positions, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
