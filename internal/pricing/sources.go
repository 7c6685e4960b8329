package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// coinGeckoIDs символ -> coin id
var coinGeckoIDs = map[string]string{
	"SOL":  "solana",
	"WSOL": "solana",
	"USDC": "usd-coin",
	"USDT": "tether",
	"JUP":  "jupiter-exchange-solana",
	"RAY":  "raydium",
	"ORCA": "orca",
	"BONK": "bonk",
	"MSOL": "msol",
	"JTO":  "jito-governance-token",
	"WIF":  "dogwifcoin",
}

// CoinGecko исторические цены через /coins/{id}/market_chart
type CoinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

// NewCoinGecko создает источник
func NewCoinGecko(baseURL, apiKey string, timeout time.Duration) *CoinGecko {
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }

type marketChartResponse struct {
	Prices [][2]float64 `json:"prices"`
}

// HistoricalPrice ближайшая к now-hoursBack точка графика
func (c *CoinGecko) HistoricalPrice(ctx context.Context, symbol string, hoursBack int) (float64, error) {
	id, ok := coinGeckoIDs[strings.ToUpper(symbol)]
	if !ok {
		id = strings.ToLower(symbol)
	}

	days := hoursBack/24 + 1
	endpoint := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d", c.baseURL, url.PathEscape(id), days)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko status %d", resp.StatusCode)
	}

	var chart marketChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return 0, fmt.Errorf("decode market chart: %w", err)
	}
	if len(chart.Prices) == 0 {
		return 0, ErrPriceUnavailable
	}

	target := float64(c.now().Add(-time.Duration(hoursBack) * time.Hour).UnixMilli())
	best := chart.Prices[0]
	for _, point := range chart.Prices[1:] {
		if math.Abs(point[0]-target) < math.Abs(best[0]-target) {
			best = point
		}
	}
	return best[1], nil
}

// HistoryService сервис цен с контрактом GET ?symbol=&hoursBack= -> {"price": x}
type HistoryService struct {
	endpoint string
	client   *http.Client
}

// NewHistoryService создает источник
func NewHistoryService(endpoint string, timeout time.Duration) *HistoryService {
	return &HistoryService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *HistoryService) Name() string { return "history-service" }

// HistoricalPrice запрашивает цену у сервиса
func (h *HistoryService) HistoricalPrice(ctx context.Context, symbol string, hoursBack int) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("hoursBack", strconv.Itoa(hoursBack))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("history service status %d", resp.StatusCode)
	}

	var body struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode price: %w", err)
	}
	return body.Price, nil
}
