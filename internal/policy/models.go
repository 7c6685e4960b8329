package policy

import "time"

// Limits системные максимумы, общие для всех кошельков
type Limits struct {
	ProfileName              string        `yaml:"profile_name" json:"profile_name"`
	MaxRebalanceAmount       float64       `yaml:"max_rebalance_amount" json:"max_rebalance_amount"`
	MaxDailyTransactions     int           `yaml:"max_daily_transactions" json:"max_daily_transactions"`
	MaxWeeklyAmount          float64       `yaml:"max_weekly_amount" json:"max_weekly_amount"`
	MinTimeBetweenRebalances time.Duration `yaml:"min_time_between_rebalances" json:"min_time_between_rebalances"`
	MaxConsecutiveFailures   int           `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
}

// DefaultLimits встроенный moderate профиль
func DefaultLimits() Limits {
	return Limits{
		ProfileName:              "moderate",
		MaxRebalanceAmount:       5000,
		MaxDailyTransactions:     10,
		MaxWeeklyAmount:          20000,
		MinTimeBetweenRebalances: 5 * time.Minute,
		MaxConsecutiveFailures:   3,
	}
}

// ValidationResult результат проверки security gate
type ValidationResult struct {
	Approved   bool        `json:"approved"`
	Reason     string      `json:"reason,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Violation описывает нарушение политики
type Violation struct {
	Type           string  `json:"type"`
	LimitName      string  `json:"limit_name"`
	LimitValue     float64 `json:"limit_value"`
	AttemptedValue float64 `json:"attempted_value"`
	Severity       string  `json:"severity"` // warning, critical
	Message        string  `json:"message"`
}

// PoolTracking состояние трекинга по пулу
type PoolTracking struct {
	Key                 string    `json:"key"`
	LastRebalanceTime   time.Time `json:"last_rebalance_time,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}
