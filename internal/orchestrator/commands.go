package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/execution"
	"github.com/kirillm/defairy-rebalancer/internal/policy"
	"github.com/kirillm/defairy-rebalancer/internal/preferences"
	"github.com/kirillm/defairy-rebalancer/internal/queue"
)

// Configure сохраняет настройки кошелька (хуки включают/выключают мониторинг)
func (o *Orchestrator) Configure(ctx context.Context, walletAddress string, raw preferences.RawPreferences) (*domain.UserPreferences, error) {
	prefs, err := o.deps.Preferences.Configure(ctx, walletAddress, raw)
	if err != nil {
		return nil, err
	}

	if o.deps.Audit != nil {
		o.deps.Audit.Record(ctx, domain.AuditPreferencesConfigured, walletAddress, map[string]interface{}{
			"enabled":                    prefs.EnableGlobalRebalancing,
			"max_rebalance_amount":       prefs.MaxRebalanceAmount,
			"max_daily_transactions":     prefs.MaxDailyTransactions,
			"auto_execute_below":         prefs.AutoExecuteBelow,
			"require_confirmation_above": prefs.RequireConfirmationAbove,
		})
	}
	return prefs, nil
}

// PreferencesView настройки и трекинг security gate
type PreferencesView struct {
	Preferences *domain.UserPreferences `json:"preferences"`
	Tracking    []policy.PoolTracking   `json:"tracking"`
	Limits      policy.Limits           `json:"limits"`
	Monitoring  bool                    `json:"monitoring"`
}

// Preferences текущие настройки кошелька
func (o *Orchestrator) Preferences(ctx context.Context, walletAddress string) (*PreferencesView, error) {
	prefs, err := o.deps.Preferences.Get(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		return nil, fmt.Errorf("preferences for %s: %w", walletAddress, domain.ErrNotFound)
	}

	tracking := o.deps.Gate.Tracking(walletAddress)
	if tracking == nil {
		tracking = []policy.PoolTracking{}
	}
	return &PreferencesView{
		Preferences: prefs,
		Tracking:    tracking,
		Limits:      o.deps.Gate.Limits(),
		Monitoring:  o.IsMonitoring(walletAddress),
	}, nil
}

// Alerts видимые алерты кошелька
func (o *Orchestrator) Alerts(walletAddress string) []queue.Alert {
	return o.deps.Queue.Alerts(walletAddress)
}

// Preview планы транзакций для записи очереди
func (o *Orchestrator) Preview(ctx context.Context, walletAddress, key string) ([]execution.Preview, error) {
	return o.deps.Coordinator.Preview(ctx, walletAddress, key)
}

// ExecuteOneClick исполнение без подтверждения, только для сумм ниже autoExecuteBelow
func (o *Orchestrator) ExecuteOneClick(ctx context.Context, walletAddress, key string) (*execution.Report, error) {
	entry, err := o.deps.Queue.Get(walletAddress, key)
	if err != nil {
		return nil, err
	}
	if !queue.IsAutoExecutable(entry) {
		return nil, domain.ErrNotAutoExecutable
	}
	return o.deps.Coordinator.Execute(ctx, walletAddress, key, execution.AutoConfirm)
}

// ConfirmAndExecute исполнение после явного подтверждения пользователем
func (o *Orchestrator) ConfirmAndExecute(ctx context.Context, walletAddress, key string) (*execution.Report, error) {
	return o.deps.Coordinator.Execute(ctx, walletAddress, key, execution.AutoConfirm)
}

// Cancel пользователь отказался от исполнения. Запись остается в очереди.
func (o *Orchestrator) Cancel(ctx context.Context, walletAddress, key string) error {
	entry, err := o.deps.Queue.Get(walletAddress, key)
	if err != nil {
		return err
	}

	o.log.Info().Str("wallet", walletAddress).Str("key", key).Msg("↩️ Rebalance cancelled by user")
	if o.deps.Audit != nil {
		o.deps.Audit.Record(ctx, domain.AuditRebalanceCancelled, walletAddress, map[string]interface{}{
			"pool":            entry.Key,
			"estimated_value": entry.Analysis.EstimatedValue,
		})
	}
	return nil
}

// Snooze прячет алерт. d <= 0 означает длительность по умолчанию.
func (o *Orchestrator) Snooze(walletAddress, key string, d time.Duration) (time.Time, error) {
	if d <= 0 {
		d = o.deps.Queue.Config().SnoozeDuration
	}
	return o.deps.Queue.Snooze(walletAddress, key, d)
}

// Dismiss убирает запись из очереди
func (o *Orchestrator) Dismiss(walletAddress, key string) error {
	return o.deps.Queue.Dismiss(walletAddress, key)
}

// EnablePool снова включает пул после circuit breaker
func (o *Orchestrator) EnablePool(ctx context.Context, walletAddress, poolID string) error {
	if err := o.deps.Preferences.EnablePool(ctx, walletAddress, poolID); err != nil {
		return err
	}
	o.deps.Gate.ResetPoolID(walletAddress, poolID)

	if o.deps.Audit != nil {
		o.deps.Audit.Record(ctx, domain.AuditPoolEnabled, walletAddress, map[string]interface{}{
			"pool": poolID,
		})
	}
	o.log.Info().Str("wallet", walletAddress).Str("pool", poolID).Msg("✅ Pool re-enabled")
	return nil
}

// AuditLog последние события аудита. Пустой wallet означает все кошельки.
func (o *Orchestrator) AuditLog(walletAddress string, limit int) []domain.AuditEvent {
	if o.deps.Audit == nil {
		return []domain.AuditEvent{}
	}
	if walletAddress != "" {
		return o.deps.Audit.ByWallet(walletAddress, limit)
	}
	return o.deps.Audit.Recent(limit)
}

// History последние подписанные ребалансировки
func (o *Orchestrator) History(ctx context.Context, walletAddress string, limit int) ([]domain.RebalanceResult, error) {
	if o.deps.Results == nil {
		return []domain.RebalanceResult{}, nil
	}
	return o.deps.Results.GetRecent(ctx, walletAddress, limit)
}

// KillSwitch состояние аварийной остановки
func (o *Orchestrator) KillSwitch() execution.KillSwitchStatus {
	return o.deps.KillSwitch.Status()
}

// ActivateKillSwitch останавливает все исполнения
func (o *Orchestrator) ActivateKillSwitch(ctx context.Context, reason string) execution.KillSwitchStatus {
	o.deps.KillSwitch.Activate(reason)
	if o.deps.Audit != nil {
		o.deps.Audit.Record(ctx, domain.AuditKillSwitch, "", map[string]interface{}{
			"active": true,
			"reason": reason,
		})
	}
	return o.deps.KillSwitch.Status()
}

// DeactivateKillSwitch снимает аварийную остановку
func (o *Orchestrator) DeactivateKillSwitch(ctx context.Context) execution.KillSwitchStatus {
	o.deps.KillSwitch.Deactivate()
	if o.deps.Audit != nil {
		o.deps.Audit.Record(ctx, domain.AuditKillSwitch, "", map[string]interface{}{
			"active": false,
		})
	}
	return o.deps.KillSwitch.Status()
}
