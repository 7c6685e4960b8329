package analyzer

import (
	"fmt"
	"math"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

const (
	// DefaultVolatilityFactor статический множитель ширины диапазона
	DefaultVolatilityFactor = 1.5

	// доля стоимости позиции, которую стоит close-and-reopen
	reopenCostShare = 0.10

	// база тика CLMM (Orca Whirlpools, Raydium CLMM)
	tickBase = 1.0001
)

// SwapTargetMode как считать целевые количества токенов при свопе
type SwapTargetMode string

const (
	// SwapTargetUSD 50/50 по долларовой стоимости
	SwapTargetUSD SwapTargetMode = "usd"
	// SwapTargetLegacy (a0+a1)/2 по сырым количествам, для совместимости
	SwapTargetLegacy SwapTargetMode = "legacy"
)

// MarketSnapshot цены 24 часа назад, 0 если недоступны
type MarketSnapshot struct {
	HistoricalPrice0 float64
	HistoricalPrice1 float64
}

// Options параметры анализа
type Options struct {
	SwapTargetMode   SwapTargetMode
	VolatilityFactor float64
	Now              time.Time
}

// DefaultOptions usd-режим и фактор 1.5
func DefaultOptions() Options {
	return Options{
		SwapTargetMode:   SwapTargetUSD,
		VolatilityFactor: DefaultVolatilityFactor,
	}
}

// Analyze решает нужна ли ребалансировка. Чистая функция без side effects.
func Analyze(position *domain.Position, prefs *domain.UserPreferences, market MarketSnapshot, opts Options) domain.RebalanceAnalysis {
	if opts.VolatilityFactor <= 0 {
		opts.VolatilityFactor = DefaultVolatilityFactor
	}

	analysis := domain.RebalanceAnalysis{
		Reasons:    []string{},
		Actions:    []domain.RebalanceAction{},
		Urgency:    domain.UrgencyLow,
		AnalyzedAt: opts.Now,
	}

	// 1. Позиция вне диапазона
	if !position.InRange {
		price := CurrentPrice(position)
		priceRange := CalculateOptimalRange(price, opts.VolatilityFactor)

		analysis.ShouldRebalance = true
		analysis.Reasons = append(analysis.Reasons, "Position out of range")
		analysis.Urgency = analysis.Urgency.Escalate(domain.UrgencyHigh)
		analysis.Actions = append(analysis.Actions, domain.RebalanceAction{
			Type:           domain.ActionCloseAndReopen,
			Reason:         "Position out of range",
			EstimatedValue: position.BalanceUSD * reopenCostShare,
			Range:          &priceRange,
		})
	}

	// 2. Дисбаланс токенов
	imbalance := ImbalanceRatio(position)
	analysis.ImbalanceRatio = imbalance
	if imbalance > prefs.RebalanceThresholds.ImbalanceRatio {
		reason := fmt.Sprintf("Token imbalance: %.1f%% off the 50/50 split", imbalance*100)

		analysis.ShouldRebalance = true
		analysis.Reasons = append(analysis.Reasons, reason)
		analysis.Actions = append(analysis.Actions, domain.RebalanceAction{
			Type:           domain.ActionSwapRebalance,
			Reason:         reason,
			EstimatedValue: position.BalanceUSD * imbalance * 0.5,
			Swap:           PlanSwap(position, opts.SwapTargetMode),
		})
	}

	// 3. Отклонение цены от 24h
	deviation := PriceDeviation(position, market)
	analysis.PriceDeviation = deviation
	if deviation > prefs.RebalanceThresholds.PriceDeviation {
		analysis.ShouldRebalance = true
		analysis.Reasons = append(analysis.Reasons, fmt.Sprintf("Price moved %.1f%% in 24h", deviation*100))
		analysis.Urgency = analysis.Urgency.Escalate(domain.UrgencyMedium)
	}

	// 4. Сумма по действиям
	for _, action := range analysis.Actions {
		analysis.EstimatedValue += action.EstimatedValue
	}

	return analysis
}

// CurrentPrice цена token0 в единицах token1
func CurrentPrice(position *domain.Position) float64 {
	if position.Token0 == nil {
		return 0
	}
	if position.Token1 == nil || position.Token1.Price == 0 {
		return position.Token0.Price
	}
	return position.Token0.Price / position.Token1.Price
}

// CalculateOptimalRange диапазон вокруг текущей цены: ±10% * volatilityFactor
func CalculateOptimalRange(currentPrice, volatilityFactor float64) domain.PriceRange {
	width := 0.1 * volatilityFactor
	lower := math.Max(0, currentPrice*(1-width))
	upper := currentPrice * (1 + width)

	return domain.PriceRange{
		CurrentPrice: currentPrice,
		LowerPrice:   lower,
		UpperPrice:   upper,
		LowerTick:    PriceToTick(lower),
		UpperTick:    PriceToTick(upper),
	}
}

// PriceToTick floor(log_1.0001(price)), 0 для неположительной цены
func PriceToTick(price float64) int {
	if price <= 0 {
		return 0
	}
	return int(math.Floor(math.Log(price) / math.Log(tickBase)))
}

// ImbalanceRatio |доля token0 в USD - 0.5|. Нулевая стоимость или нет токена -> 0.
func ImbalanceRatio(position *domain.Position) float64 {
	if position.Token0 == nil || position.Token1 == nil {
		return 0
	}
	v0 := position.Token0.ValueUSD()
	v1 := position.Token1.ValueUSD()
	total := v0 + v1
	if total <= 0 {
		return 0
	}
	return math.Abs(v0/total - 0.5)
}

// PriceDeviation относительное изменение ratio price0/price1 за 24h.
// 0 если история недоступна.
func PriceDeviation(position *domain.Position, market MarketSnapshot) float64 {
	if market.HistoricalPrice0 <= 0 || market.HistoricalPrice1 <= 0 {
		return 0
	}
	if position.Token0 == nil || position.Token1 == nil || position.Token1.Price <= 0 {
		return 0
	}

	current := position.Token0.Price / position.Token1.Price
	historical := market.HistoricalPrice0 / market.HistoricalPrice1
	return math.Abs(current-historical) / historical
}

// PlanSwap считает сколько и чего продать для выравнивания 50/50
func PlanSwap(position *domain.Position, mode SwapTargetMode) *domain.SwapPlan {
	if position.Token0 == nil || position.Token1 == nil {
		return nil
	}
	t0, t1 := position.Token0, position.Token1

	var target0, target1 float64
	switch mode {
	case SwapTargetLegacy:
		// Суммирует количества разных токенов напрямую, сохранено как есть
		target := (t0.Amount + t1.Amount) / 2
		target0, target1 = target, target
	default:
		half := (t0.ValueUSD() + t1.ValueUSD()) / 2
		if t0.Price > 0 {
			target0 = half / t0.Price
		}
		if t1.Price > 0 {
			target1 = half / t1.Price
		}
	}

	plan := &domain.SwapPlan{Token0Target: target0, Token1Target: target1}
	if t0.Amount > target0 {
		plan.FromSymbol, plan.ToSymbol = t0.Symbol, t1.Symbol
		plan.Amount = t0.Amount - target0
	} else {
		plan.FromSymbol, plan.ToSymbol = t1.Symbol, t0.Symbol
		plan.Amount = t1.Amount - target1
	}
	if plan.Amount < 0 {
		plan.Amount = 0
	}
	return plan
}
