package domain

import "time"

// PlanStep одна инструкция транзакции
type PlanStep struct {
	Program     string                 `json:"program"`
	Instruction string                 `json:"instruction"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// TransactionPlan venue-специфичный план, который уходит на подпись во внешний кошелек
type TransactionPlan struct {
	ID             string          `json:"id"`
	Venue          Venue           `json:"venue"`
	WalletAddress  string          `json:"wallet_address"`
	PoolID         string          `json:"pool_id"`
	Action         RebalanceAction `json:"action"`
	Steps          []PlanStep      `json:"steps"`
	EstimatedValue float64         `json:"estimated_value"`
	CreatedAt      time.Time       `json:"created_at"`
}
