package domain

import "context"

// PreferencesRepository хранилище настроек по кошельку
type PreferencesRepository interface {
	Save(ctx context.Context, prefs *UserPreferences) error
	Load(ctx context.Context, walletAddress string) (*UserPreferences, error)
	ListEnabled(ctx context.Context) ([]string, error)
}

// AuditRepository персистентный аудит (append-only)
type AuditRepository interface {
	Append(ctx context.Context, event *AuditEvent) error
	Recent(ctx context.Context, limit int) ([]AuditEvent, error)
}

// ResultRepository история исполненных ребалансировок
type ResultRepository interface {
	Save(ctx context.Context, result *RebalanceResult) error
	GetRecent(ctx context.Context, walletAddress string, limit int) ([]RebalanceResult, error)
}
