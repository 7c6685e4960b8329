package memory

import (
	"context"
	"sync"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// ResultStore in-memory реализация domain.ResultRepository
type ResultStore struct {
	mu      sync.RWMutex
	results []domain.RebalanceResult
	nextID  int64
}

// NewResultStore создает пустое хранилище результатов
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// Save добавляет результат и присваивает ID
func (s *ResultStore) Save(_ context.Context, result *domain.RebalanceResult) error {
	if result == nil || result.Signature == "" {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	result.ID = s.nextID
	s.results = append(s.results, *result)
	return nil
}

// GetRecent последние limit результатов кошелька, новые первыми
func (s *ResultStore) GetRecent(_ context.Context, walletAddress string, limit int) ([]domain.RebalanceResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.RebalanceResult
	for i := len(s.results) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if s.results[i].WalletAddress == walletAddress {
			result = append(result, s.results[i])
		}
	}
	return result, nil
}
