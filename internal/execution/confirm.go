package execution

import (
	"context"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// Preview то, что пользователь видит перед подписью
type Preview struct {
	EntryID        string                  `json:"entry_id"`
	Key            string                  `json:"key"`
	WalletAddress  string                  `json:"wallet_address"`
	Urgency        domain.Urgency          `json:"urgency"`
	Action         domain.RebalanceAction  `json:"action"`
	Plan           *domain.TransactionPlan `json:"plan,omitempty"`
	PlanError      string                  `json:"plan_error,omitempty"`
	EstimatedValue float64                 `json:"estimated_value"`
}

// Confirmer подтверждение пользователя. false или ошибка означает отмену.
type Confirmer interface {
	Confirm(ctx context.Context, preview Preview) (bool, error)
}

// ConfirmFunc адаптер функции
type ConfirmFunc func(ctx context.Context, preview Preview) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, preview Preview) (bool, error) {
	return f(ctx, preview)
}

var (
	// AutoConfirm one-click путь и явное подтверждение через API
	AutoConfirm Confirmer = ConfirmFunc(func(context.Context, Preview) (bool, error) { return true, nil })

	// Deny отмена
	Deny Confirmer = ConfirmFunc(func(context.Context, Preview) (bool, error) { return false, nil })
)
