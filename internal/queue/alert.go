package queue

import (
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

// AlertType путь исполнения алерта
type AlertType string

const (
	AlertAutoExecutable       AlertType = "auto_executable"
	AlertConfirmationRequired AlertType = "confirmation_required"
)

// Location где живет позиция
type Location struct {
	PoolID string       `json:"pool_id"`
	Venue  domain.Venue `json:"venue"`
}

// Alert структурированные данные для любого фронтенда
type Alert struct {
	ID             string                   `json:"id"`
	Key            string                   `json:"key"`
	Type           AlertType                `json:"type"`
	Urgency        domain.Urgency           `json:"urgency"`
	Reasons        []string                 `json:"reasons"`
	EstimatedValue float64                  `json:"estimated_value"`
	HighValue      bool                     `json:"high_value"`
	Actions        []domain.RebalanceAction `json:"actions"`
	Location       Location                 `json:"location"`
	WalletAddress  string                   `json:"wallet_address"`
	CreatedAt      time.Time                `json:"created_at"`
	ExpiresAt      *time.Time               `json:"expires_at,omitempty"`
}

// IsAutoExecutable доступен ли one-click для записи
func IsAutoExecutable(entry *domain.QueueEntry) bool {
	return entry.Analysis.EstimatedValue <= entry.Preferences.AutoExecuteBelow
}

// IsHighValue стоимость выше requireConfirmationAbove: фронтенд показывает план до подтверждения.
// Ноль отключает порог.
func IsHighValue(entry *domain.QueueEntry) bool {
	limit := entry.Preferences.RequireConfirmationAbove
	return limit > 0 && entry.Analysis.EstimatedValue > limit
}

// RenderAlert строит алерт. One-click если стоимость <= autoExecuteBelow.
func RenderAlert(entry *domain.QueueEntry, displayWindow time.Duration) Alert {
	alertType := AlertConfirmationRequired
	if IsAutoExecutable(entry) {
		alertType = AlertAutoExecutable
	}

	alert := Alert{
		ID:             entry.ID,
		Key:            entry.Key,
		Type:           alertType,
		Urgency:        entry.Analysis.Urgency,
		Reasons:        entry.Analysis.Reasons,
		EstimatedValue: entry.Analysis.EstimatedValue,
		HighValue:      IsHighValue(entry),
		Actions:        entry.Analysis.Actions,
		Location:       Location{PoolID: entry.Position.PoolID, Venue: entry.Position.Venue},
		WalletAddress:  entry.WalletAddress,
		CreatedAt:      entry.EnqueuedAt,
	}

	if entry.Analysis.Urgency != domain.UrgencyHigh {
		expires := entry.EnqueuedAt.Add(displayWindow)
		alert.ExpiresAt = &expires
	}
	return alert
}

// VisibleAlerts фильтрует snoozed и протухшие non-high алерты
func VisibleAlerts(entries []domain.QueueEntry, now time.Time, displayWindow time.Duration) []Alert {
	alerts := []Alert{}
	for i := range entries {
		entry := &entries[i]
		if entry.Status != domain.QueuePending {
			continue
		}
		if entry.SnoozedUntil.After(now) {
			continue
		}
		alert := RenderAlert(entry, displayWindow)
		if alert.ExpiresAt != nil && !now.Before(*alert.ExpiresAt) {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts
}
