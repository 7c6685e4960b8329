package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// PreferencesStore in-memory реализация domain.PreferencesRepository
type PreferencesStore struct {
	mu   sync.RWMutex
	data map[string]*domain.UserPreferences // по адресу кошелька
}

// NewPreferencesStore создает пустое хранилище настроек
func NewPreferencesStore() *PreferencesStore {
	return &PreferencesStore{
		data: make(map[string]*domain.UserPreferences),
	}
}

// Save перезаписывает запись кошелька
func (s *PreferencesStore) Save(_ context.Context, prefs *domain.UserPreferences) error {
	if prefs == nil || prefs.WalletAddress == "" {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// храним копию, чтобы вызывающий не мутировал запись
	s.data[prefs.WalletAddress] = prefs.Clone()
	return nil
}

// Load возвращает nil, nil если записи нет
func (s *PreferencesStore) Load(_ context.Context, walletAddress string) (*domain.UserPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs, ok := s.data[walletAddress]
	if !ok {
		return nil, nil
	}
	return prefs.Clone(), nil
}

// ListEnabled кошельки с включенной ребалансировкой, отсортированы
func (s *PreferencesStore) ListEnabled(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []string
	for wallet, prefs := range s.data {
		if prefs.EnableGlobalRebalancing {
			result = append(result, wallet)
		}
	}
	sort.Strings(result)
	return result, nil
}
