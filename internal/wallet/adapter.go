package wallet

import (
	"context"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// Wallet подключенный кошелек. Приватные ключи остаются на стороне кошелька.
type Wallet interface {
	PublicKey() string
	SignTransaction(ctx context.Context, plan *domain.TransactionPlan) (string, error)
}

// Adapter мост к внешнему кошельку пользователя
type Adapter interface {
	IsConnected(ctx context.Context, walletAddress string) bool
	GetConnectedWallet(ctx context.Context, walletAddress string) (Wallet, error)
}
