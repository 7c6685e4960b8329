package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// AuditRepository журнал аудита в audit_events
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository создает новый репозиторий
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append сохраняет событие
func (r *AuditRepository) Append(ctx context.Context, event *domain.AuditEvent) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (id, event_type, wallet_address, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, event.ID, string(event.EventType), event.WalletAddress, details, event.Timestamp)
	return err
}

// Recent последние события, новые первыми
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	query := `
		SELECT id, event_type, wallet_address, details, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			e         domain.AuditEvent
			eventType string
			details   []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.WalletAddress, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.EventType = domain.AuditEventType(eventType)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
