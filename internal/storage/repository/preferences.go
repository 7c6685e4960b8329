package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// PreferencesRepository настройки кошельков в user_preferences
type PreferencesRepository struct {
	db *sql.DB
}

// NewPreferencesRepository создает новый репозиторий
func NewPreferencesRepository(db *sql.DB) *PreferencesRepository {
	return &PreferencesRepository{db: db}
}

// Save upsert по адресу кошелька
func (r *PreferencesRepository) Save(ctx context.Context, prefs *domain.UserPreferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}

	updatedAt := prefs.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO user_preferences (wallet_address, enabled, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet_address) DO UPDATE
		SET enabled = EXCLUDED.enabled,
		    data = EXCLUDED.data,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query, prefs.WalletAddress, prefs.EnableGlobalRebalancing, data, updatedAt)
	return err
}

// Load возвращает nil, nil если кошелек не настроен
func (r *PreferencesRepository) Load(ctx context.Context, walletAddress string) (*domain.UserPreferences, error) {
	query := `SELECT data FROM user_preferences WHERE wallet_address = $1`

	var data []byte
	err := r.db.QueryRowContext(ctx, query, walletAddress).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var prefs domain.UserPreferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("unmarshal preferences: %w", err)
	}
	return &prefs, nil
}

// ListEnabled кошельки с включенной ребалансировкой
func (r *PreferencesRepository) ListEnabled(ctx context.Context) ([]string, error) {
	query := `SELECT wallet_address FROM user_preferences WHERE enabled = true ORDER BY wallet_address`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}
