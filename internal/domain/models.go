package domain

import (
	"math"
	"time"
)

// Token одна сторона LP позиции
type Token struct {
	Symbol string  `json:"symbol"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

// ValueUSD стоимость токена в долларах
func (t *Token) ValueUSD() float64 {
	if t == nil {
		return 0
	}
	return t.Amount * t.Price
}

// Position снапшот LP позиции, приходит из фида на каждом цикле
type Position struct {
	PoolID        string  `json:"pool_id"`
	Venue         Venue   `json:"venue"`
	WalletAddress string  `json:"wallet_address,omitempty"`
	InRange       bool    `json:"in_range"`
	Token0        *Token  `json:"token0,omitempty"`
	Token1        *Token  `json:"token1,omitempty"`
	BalanceUSD    float64 `json:"balance_usd"`
	APY24h        float64 `json:"apy_24h"`
	FeesUSD       float64 `json:"fees_usd"`
}

// Key ключ позиции в очереди и в трекинге (poolId + venue)
func (p *Position) Key() string {
	return PoolKey(p.PoolID, p.Venue)
}

// PoolKey собирает ключ пула
func PoolKey(poolID string, venue Venue) string {
	return poolID + "_" + string(venue)
}

// Validate проверяет что снапшот не битый.
// Баланс должен совпадать с суммой токенов с точностью до 1% (+1 цент на округление).
func (p *Position) Validate() error {
	if p.PoolID == "" {
		return ErrMalformedPosition
	}
	for _, t := range []*Token{p.Token0, p.Token1} {
		if t == nil {
			continue
		}
		if t.Amount < 0 || t.Price < 0 || math.IsNaN(t.Amount) || math.IsNaN(t.Price) {
			return ErrMalformedPosition
		}
	}
	if p.BalanceUSD < 0 {
		return ErrMalformedPosition
	}
	if p.Token0 != nil && p.Token1 != nil {
		sum := p.Token0.ValueUSD() + p.Token1.ValueUSD()
		if math.Abs(sum-p.BalanceUSD) > sum*0.01+0.01 {
			return ErrMalformedPosition
		}
	}
	return nil
}

// PoolSettings per-pool override
type PoolSettings struct {
	Enabled        bool   `json:"enabled"`
	DisabledReason string `json:"disabled_reason,omitempty"`
}

// RebalanceThresholds пороги срабатывания
type RebalanceThresholds struct {
	ImbalanceRatio   float64          `json:"imbalance_ratio"`
	PriceDeviation   float64          `json:"price_deviation"`
	OutOfRangeAction OutOfRangeAction `json:"out_of_range_action"`
}

// NotificationChannels каналы уведомлений пользователя
type NotificationChannels struct {
	InApp    bool `json:"in_app"`
	Email    bool `json:"email"`
	Telegram bool `json:"telegram"`
}

// UserPreferences настройки ребалансировки одного кошелька
type UserPreferences struct {
	WalletAddress            string                  `json:"wallet_address"`
	EnableGlobalRebalancing  bool                    `json:"enable_global_rebalancing"`
	PoolSpecificSettings     map[string]PoolSettings `json:"pool_specific_settings"`
	MaxRebalanceAmount       float64                 `json:"max_rebalance_amount"`
	MaxDailyTransactions     int                     `json:"max_daily_transactions"`
	RebalanceThresholds      RebalanceThresholds     `json:"rebalance_thresholds"`
	NotificationChannels     NotificationChannels    `json:"notification_channels"`
	AutoExecuteBelow         float64                 `json:"auto_execute_below"`
	RequireConfirmationAbove float64                 `json:"require_confirmation_above"`

	// Счетчики, обновляются security gate после каждой транзакции
	DailyTransactionCount   int       `json:"daily_transaction_count"`
	WeeklyTransactionAmount float64   `json:"weekly_transaction_amount"`
	LastTransactionReset    time.Time `json:"last_transaction_reset"`
	LastWeeklyReset         time.Time `json:"last_weekly_reset"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsPoolEnabled пул включен, если нет явного override
func (p *UserPreferences) IsPoolEnabled(poolID string) bool {
	if p.PoolSpecificSettings == nil {
		return true
	}
	s, ok := p.PoolSpecificSettings[poolID]
	if !ok {
		return true
	}
	return s.Enabled
}

// Clone глубокая копия (map с override'ами копируется)
func (p *UserPreferences) Clone() *UserPreferences {
	if p == nil {
		return nil
	}
	c := *p
	c.PoolSpecificSettings = make(map[string]PoolSettings, len(p.PoolSpecificSettings))
	for k, v := range p.PoolSpecificSettings {
		c.PoolSpecificSettings[k] = v
	}
	return &c
}

// PriceRange целевой диапазон для переоткрытия позиции
type PriceRange struct {
	CurrentPrice float64 `json:"current_price"`
	LowerPrice   float64 `json:"lower_price"`
	UpperPrice   float64 `json:"upper_price"`
	LowerTick    int     `json:"lower_tick"`
	UpperTick    int     `json:"upper_tick"`
}

// SwapPlan параметры свопа для выравнивания позиции
type SwapPlan struct {
	FromSymbol   string  `json:"from_symbol"`
	ToSymbol     string  `json:"to_symbol"`
	Amount       float64 `json:"amount"`
	Token0Target float64 `json:"token0_target"`
	Token1Target float64 `json:"token1_target"`
}

// RebalanceAction одно корректирующее действие
type RebalanceAction struct {
	Type           ActionType  `json:"type"`
	Reason         string      `json:"reason"`
	EstimatedValue float64     `json:"estimated_value"`
	Range          *PriceRange `json:"range,omitempty"`
	Swap           *SwapPlan   `json:"swap,omitempty"`
}

// RebalanceAnalysis результат анализа одной позиции
type RebalanceAnalysis struct {
	ShouldRebalance bool              `json:"should_rebalance"`
	Reasons         []string          `json:"reasons"`
	Actions         []RebalanceAction `json:"actions"`
	EstimatedValue  float64           `json:"estimated_value"`
	Urgency         Urgency           `json:"urgency"`
	ImbalanceRatio  float64           `json:"imbalance_ratio"`
	PriceDeviation  float64           `json:"price_deviation"`
	AnalyzedAt      time.Time         `json:"analyzed_at"`
}

// QueueEntry ожидающее исполнения действие
type QueueEntry struct {
	ID            string            `json:"id"`
	Key           string            `json:"key"`
	WalletAddress string            `json:"wallet_address"`
	Position      Position          `json:"position"`
	Analysis      RebalanceAnalysis `json:"analysis"`
	Preferences   UserPreferences   `json:"preferences"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	Status        QueueStatus       `json:"status"`
	SnoozedUntil  time.Time         `json:"snoozed_until,omitempty"`
}

// AuditEvent запись аудита
type AuditEvent struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	EventType     AuditEventType         `json:"event_type"`
	WalletAddress string                 `json:"wallet_address"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// RebalanceResult результат подписанной транзакции
type RebalanceResult struct {
	ID             int64           `json:"id,omitempty"`
	Signature      string          `json:"signature"`
	WalletAddress  string          `json:"wallet_address"`
	Pool           string          `json:"pool"`
	Venue          Venue           `json:"venue"`
	Action         RebalanceAction `json:"action"`
	EstimatedValue float64         `json:"estimated_value"`
	Timestamp      time.Time       `json:"timestamp"`
}
