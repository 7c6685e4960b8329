package memory

import (
	"context"
	"sync"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// AuditStore in-memory реализация domain.AuditRepository
type AuditStore struct {
	mu     sync.RWMutex
	events []domain.AuditEvent
}

// NewAuditStore создает пустой журнал
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Append добавляет событие
func (s *AuditStore) Append(_ context.Context, event *domain.AuditEvent) error {
	if event == nil {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)
	return nil
}

// Recent последние limit событий, новые первыми
func (s *AuditStore) Recent(_ context.Context, limit int) ([]domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}

	result := make([]domain.AuditEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.events[i])
	}
	return result, nil
}
