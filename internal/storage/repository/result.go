package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// ResultRepository история исполненных ребалансировок
type ResultRepository struct {
	db *sql.DB
}

// NewResultRepository создает новый репозиторий
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Save сохраняет результат. Подпись обязательна.
func (r *ResultRepository) Save(ctx context.Context, result *domain.RebalanceResult) error {
	if result.Signature == "" {
		return fmt.Errorf("%w: empty signature", domain.ErrInvalidInput)
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	action, err := json.Marshal(result.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	query := `
		INSERT INTO rebalance_results (signature, wallet_address, pool, venue, action, estimated_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		result.Signature,
		result.WalletAddress,
		result.Pool,
		string(result.Venue),
		action,
		result.EstimatedValue,
		result.Timestamp,
	).Scan(&result.ID)
}

// GetRecent последние N результатов кошелька
func (r *ResultRepository) GetRecent(ctx context.Context, walletAddress string, limit int) ([]domain.RebalanceResult, error) {
	query := `
		SELECT id, signature, wallet_address, pool, venue, action, estimated_value, created_at
		FROM rebalance_results
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, walletAddress, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.RebalanceResult
	for rows.Next() {
		var (
			res    domain.RebalanceResult
			venue  string
			action []byte
		)
		if err := rows.Scan(&res.ID, &res.Signature, &res.WalletAddress, &res.Pool, &venue, &action, &res.EstimatedValue, &res.Timestamp); err != nil {
			return nil, err
		}
		res.Venue = domain.Venue(venue)
		if err := json.Unmarshal(action, &res.Action); err != nil {
			return nil, fmt.Errorf("unmarshal action: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
