package execution

import "math"

// SlippageGuard защита свопа от чрезмерного проскальзывания
type SlippageGuard struct {
	thresholdPercent float64
}

// NewSlippageGuard создает новый slippage guard
func NewSlippageGuard(thresholdPercent float64) *SlippageGuard {
	return &SlippageGuard{
		thresholdPercent: math.Max(0, thresholdPercent),
	}
}

// Bps порог в базисных пунктах (для инструкций DEX)
func (sg *SlippageGuard) Bps() int {
	return int(math.Round(sg.thresholdPercent * 100))
}

// MinAmountOut минимально допустимый выход свопа
func (sg *SlippageGuard) MinAmountOut(expectedOut float64) float64 {
	if expectedOut <= 0 {
		return 0
	}
	return expectedOut * (1 - sg.thresholdPercent/100.0)
}

// ExpectedOut ожидаемый выход по ценам из снапшота позиции
func ExpectedOut(amountIn, priceIn, priceOut float64) float64 {
	if priceOut <= 0 {
		return 0
	}
	return amountIn * priceIn / priceOut
}
