package pricing

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrPriceUnavailable ни один источник не отдал цену
var ErrPriceUnavailable = errors.New("price unavailable from all sources")

// Source источник исторических цен в USD
type Source interface {
	Name() string
	HistoricalPrice(ctx context.Context, symbol string, hoursBack int) (float64, error)
}

// Failover основной источник + запасные + TTL кеш
type Failover struct {
	primary   Source
	fallbacks []Source
	ttl       time.Duration
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price     float64
	timestamp time.Time
}

// NewFailover создает failover
func NewFailover(primary Source, ttl time.Duration, log zerolog.Logger) *Failover {
	return &Failover{
		primary: primary,
		ttl:     ttl,
		log:     log.With().Str("component", "pricing").Logger(),
		now:     time.Now,
		cache:   make(map[string]cachedPrice),
	}
}

// AddFallbackSource добавляет запасной источник
func (f *Failover) AddFallbackSource(source Source) {
	f.fallbacks = append(f.fallbacks, source)
}

func cacheKey(symbol string, hoursBack int) string {
	return strings.ToUpper(symbol) + "|" + strconv.Itoa(hoursBack)
}

// Lookup цена symbol hoursBack часов назад с failover
func (f *Failover) Lookup(ctx context.Context, symbol string, hoursBack int) (float64, error) {
	key := cacheKey(symbol, hoursBack)

	f.mu.RLock()
	cached, ok := f.cache[key]
	f.mu.RUnlock()
	if ok && f.now().Sub(cached.timestamp) < f.ttl {
		return cached.price, nil
	}

	sources := append([]Source{f.primary}, f.fallbacks...)
	for i, source := range sources {
		if source == nil {
			continue
		}
		price, err := source.HistoricalPrice(ctx, symbol, hoursBack)
		if err != nil || price <= 0 {
			f.log.Debug().Err(err).Str("source", source.Name()).Str("symbol", symbol).Msg("Price source failed")
			continue
		}
		if i > 0 {
			f.log.Warn().Str("source", source.Name()).Str("symbol", symbol).Msg("⚠️ Using fallback price source")
		}

		f.mu.Lock()
		f.cache[key] = cachedPrice{price: price, timestamp: f.now()}
		f.mu.Unlock()
		return price, nil
	}

	// Все источники недоступны, отдаем протухший кеш если есть
	if ok {
		f.log.Warn().
			Str("symbol", symbol).
			Dur("age", f.now().Sub(cached.timestamp)).
			Msg("⚠️ Using stale cached price")
		return cached.price, nil
	}

	return 0, ErrPriceUnavailable
}

// GetHistoricalPrice как Lookup, но 0 вместо ошибки
func (f *Failover) GetHistoricalPrice(ctx context.Context, symbol string, hoursBack int) float64 {
	price, err := f.Lookup(ctx, symbol, hoursBack)
	if err != nil {
		f.log.Warn().Str("symbol", symbol).Int("hours_back", hoursBack).Msg("Historical price unavailable")
		return 0
	}
	return price
}
