package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/notify"
	"github.com/kirillm/defairy-rebalancer/internal/policy"
	"github.com/kirillm/defairy-rebalancer/internal/wallet"
	"github.com/rs/zerolog"
)

// State шаг state machine одной попытки
type State string

const (
	StatePending            State = "pending"
	StatePreviewShown       State = "preview_shown"
	StateUserConfirmed      State = "user_confirmed"
	StateSignatureRequested State = "signature_requested"
	StateSuccess            State = "success"
	StateFailure            State = "failure"
	StateUserCancelled      State = "user_cancelled"
)

// ActionOutcome итог одного действия
type ActionOutcome struct {
	Action domain.RebalanceAction  `json:"action"`
	State  State                   `json:"state"`
	Plan   *domain.TransactionPlan `json:"plan,omitempty"`
	Result *domain.RebalanceResult `json:"result,omitempty"`
	Err    error                   `json:"-"`
	Error  string                  `json:"error,omitempty"`
}

// Report итог исполнения записи очереди
type Report struct {
	EntryKey      string          `json:"entry_key"`
	WalletAddress string          `json:"wallet_address"`
	Outcomes      []ActionOutcome `json:"outcomes"`
}

// Succeeded сколько действий подписано
func (r *Report) Succeeded() int {
	return r.count(StateSuccess)
}

// Failed сколько действий упало
func (r *Report) Failed() int {
	return r.count(StateFailure)
}

// Cancelled пользователь отменил
func (r *Report) Cancelled() bool {
	return r.count(StateUserCancelled) > 0
}

func (r *Report) count(state State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// EntryQueue операции очереди, нужные coordinator'у
type EntryQueue interface {
	Get(walletAddress, key string) (*domain.QueueEntry, error)
	Claim(walletAddress, key string) (*domain.QueueEntry, error)
	Release(walletAddress, key string)
	Complete(walletAddress, key string)
}

// Tracker security gate: повторная проверка перед исполнением и обратная связь
type Tracker interface {
	Check(ctx context.Context, position *domain.Position, analysis *domain.RebalanceAnalysis, prefs *domain.UserPreferences) policy.ValidationResult
	RecordSuccess(ctx context.Context, walletAddress string, position *domain.Position, value float64) (*domain.UserPreferences, error)
	RecordFailure(ctx context.Context, walletAddress string, position *domain.Position) (bool, error)
}

// RejectedError отказ security gate в момент исполнения. Запись остается в очереди.
type RejectedError struct {
	Key     string
	Reason  string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

func (e *RejectedError) Unwrap() error {
	return domain.ErrSecurityRejected
}

// PreferenceLoader актуальные настройки (счетчики могли измениться с момента постановки)
type PreferenceLoader interface {
	Get(ctx context.Context, walletAddress string) (*domain.UserPreferences, error)
}

// Auditor журнал аудита
type Auditor interface {
	Record(ctx context.Context, eventType domain.AuditEventType, walletAddress string, details map[string]interface{})
}

// Notifier уведомления с учетом каналов кошелька
type Notifier interface {
	Send(ctx context.Context, channels domain.NotificationChannels, walletAddress, message string, severity notify.Severity)
}

// Deps зависимости coordinator'а. Results может быть nil.
type Deps struct {
	Queue       EntryQueue
	Planners    Planners
	Wallets     wallet.Adapter
	Tracker     Tracker
	Preferences PreferenceLoader
	Results     domain.ResultRepository
	Audit       Auditor
	Notifier    Notifier
	KillSwitch  *KillSwitch
}

// Coordinator проводит запись очереди через preview -> confirm -> signature
type Coordinator struct {
	deps Deps
	log  zerolog.Logger
	now  func() time.Time

	// одно исполнение на кошелек: проверка лимитов и инкремент счетчиков не пересекаются
	walletMu    sync.Mutex
	walletLocks map[string]*sync.Mutex
}

// NewCoordinator создает coordinator
func NewCoordinator(deps Deps, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		deps: deps,
		log:         log.With().Str("component", "execution").Logger(),
		now:         time.Now,
		walletLocks: make(map[string]*sync.Mutex),
	}
}

func (c *Coordinator) lockWallet(walletAddress string) func() {
	c.walletMu.Lock()
	mu, ok := c.walletLocks[walletAddress]
	if !ok {
		mu = &sync.Mutex{}
		c.walletLocks[walletAddress] = mu
	}
	c.walletMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Preview строит планы для всех действий записи без захвата очереди
func (c *Coordinator) Preview(ctx context.Context, walletAddress, key string) ([]Preview, error) {
	entry, err := c.deps.Queue.Get(walletAddress, key)
	if err != nil {
		return nil, err
	}

	previews := make([]Preview, 0, len(entry.Analysis.Actions))
	for _, action := range entry.Analysis.Actions {
		p := c.preview(entry, action, nil)
		plan, err := c.deps.Planners.Build(entry, action, c.now())
		if err != nil {
			p.PlanError = err.Error()
		} else {
			p.Plan = plan
		}
		previews = append(previews, p)
	}
	return previews, nil
}

func (c *Coordinator) preview(entry *domain.QueueEntry, action domain.RebalanceAction, plan *domain.TransactionPlan) Preview {
	return Preview{
		EntryID:        entry.ID,
		Key:            entry.Key,
		WalletAddress:  entry.WalletAddress,
		Urgency:        entry.Analysis.Urgency,
		Action:         action,
		Plan:           plan,
		EstimatedValue: action.EstimatedValue,
	}
}

// Execute исполняет запись очереди. Одна попытка на вызов, ретраев нет.
// Ошибка действия не прерывает остальные действия записи.
// Перед исполнением security gate проверяет запись заново на актуальных счетчиках.
func (c *Coordinator) Execute(ctx context.Context, walletAddress, key string, confirmer Confirmer) (*Report, error) {
	if c.deps.KillSwitch != nil && c.deps.KillSwitch.IsActive() {
		return nil, domain.ErrKillSwitchActive
	}

	entry, err := c.deps.Queue.Claim(walletAddress, key)
	if err != nil {
		return nil, err
	}

	unlock := c.lockWallet(walletAddress)
	defer unlock()

	prefs := c.currentPrefs(ctx, entry)
	if res := c.deps.Tracker.Check(ctx, &entry.Position, &entry.Analysis, prefs); !res.Approved {
		c.deps.Queue.Release(walletAddress, key)
		message := res.Reason
		if len(res.Violations) > 0 {
			message = res.Violations[0].Message
		}
		return nil, &RejectedError{Key: key, Reason: res.Reason, Message: message}
	}

	report := &Report{EntryKey: key, WalletAddress: walletAddress}
	channels := entry.Preferences.NotificationChannels

	var signer wallet.Wallet
	release := false

	for _, action := range entry.Analysis.Actions {
		outcome := ActionOutcome{Action: action, State: StatePending}

		if c.deps.KillSwitch != nil && c.deps.KillSwitch.IsActive() {
			release = report.Succeeded() == 0
			break
		}

		// каждое действие это отдельная транзакция и отдельный инкремент дневного счетчика
		if prefs.DailyTransactionCount >= prefs.MaxDailyTransactions {
			c.log.Warn().
				Str("wallet", walletAddress).
				Str("key", key).
				Int("daily_count", prefs.DailyTransactionCount).
				Msg("🚫 Daily limit reached, remaining actions skipped")
			break
		}

		plan, err := c.deps.Planners.Build(entry, action, c.now())
		if err != nil {
			c.fail(ctx, entry, &outcome, err)
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}
		outcome.Plan = plan

		outcome.State = StatePreviewShown
		confirmed, err := confirmer.Confirm(ctx, c.preview(entry, action, plan))
		if err != nil || !confirmed {
			outcome.State = StateUserCancelled
			report.Outcomes = append(report.Outcomes, outcome)
			c.cancelled(ctx, entry, action)
			release = report.Succeeded() == 0
			break
		}
		outcome.State = StateUserConfirmed

		if signer == nil {
			signer, err = c.connectedWallet(ctx, walletAddress)
			if err != nil {
				outcome.State = StateFailure
				outcome.Err = err
				outcome.Error = err.Error()
				report.Outcomes = append(report.Outcomes, outcome)
				c.promptConnect(ctx, channels, walletAddress)
				release = report.Succeeded() == 0
				c.finish(entry, release)
				return report, domain.ErrWalletNotConnected
			}
		}

		outcome.State = StateSignatureRequested
		signature, err := signer.SignTransaction(ctx, plan)
		if err == nil {
			err = wallet.ValidateSignature(signature)
		}
		if err != nil {
			if errors.Is(err, domain.ErrWalletNotConnected) {
				outcome.State = StateFailure
				outcome.Err = err
				outcome.Error = err.Error()
				report.Outcomes = append(report.Outcomes, outcome)
				c.promptConnect(ctx, channels, walletAddress)
				release = report.Succeeded() == 0
				c.finish(entry, release)
				return report, domain.ErrWalletNotConnected
			}
			c.fail(ctx, entry, &outcome, err)
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}

		if updated := c.succeed(ctx, entry, &outcome, plan, signature); updated != nil {
			prefs = updated
		} else {
			prefs.DailyTransactionCount++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	c.finish(entry, release)
	return report, nil
}

func (c *Coordinator) finish(entry *domain.QueueEntry, release bool) {
	if release {
		c.deps.Queue.Release(entry.WalletAddress, entry.Key)
		return
	}
	c.deps.Queue.Complete(entry.WalletAddress, entry.Key)
}

func (c *Coordinator) connectedWallet(ctx context.Context, walletAddress string) (wallet.Wallet, error) {
	if c.deps.Wallets == nil || !c.deps.Wallets.IsConnected(ctx, walletAddress) {
		return nil, domain.ErrWalletNotConnected
	}
	w, err := c.deps.Wallets.GetConnectedWallet(ctx, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotConnected, err)
	}
	return w, nil
}

func (c *Coordinator) promptConnect(ctx context.Context, channels domain.NotificationChannels, walletAddress string) {
	c.log.Warn().Str("wallet", walletAddress).Msg("🔌 Wallet not connected, execution postponed")
	c.deps.Notifier.Send(ctx, channels, walletAddress, "🔌 Connect your wallet to execute the pending rebalance", notify.SeverityWarning)
}

func (c *Coordinator) cancelled(ctx context.Context, entry *domain.QueueEntry, action domain.RebalanceAction) {
	c.log.Info().
		Str("wallet", entry.WalletAddress).
		Str("key", entry.Key).
		Str("action", string(action.Type)).
		Msg("↩️ Rebalance cancelled by user")

	if c.deps.Audit != nil {
		c.deps.Audit.Record(ctx, domain.AuditRebalanceCancelled, entry.WalletAddress, map[string]interface{}{
			"pool":   entry.Key,
			"action": string(action.Type),
		})
	}
}

func (c *Coordinator) currentPrefs(ctx context.Context, entry *domain.QueueEntry) *domain.UserPreferences {
	if c.deps.Preferences != nil {
		prefs, err := c.deps.Preferences.Get(ctx, entry.WalletAddress)
		if err != nil {
			c.log.Error().Err(err).Str("wallet", entry.WalletAddress).Msg("Failed to load preferences, using queued snapshot")
		} else if prefs != nil {
			return prefs
		}
	}
	return entry.Preferences.Clone()
}

// succeed фиксирует успех. Возвращает сохраненные настройки или nil, если счетчики не записались.
func (c *Coordinator) succeed(ctx context.Context, entry *domain.QueueEntry, outcome *ActionOutcome, plan *domain.TransactionPlan, signature string) *domain.UserPreferences {
	result := &domain.RebalanceResult{
		Signature:      signature,
		WalletAddress:  entry.WalletAddress,
		Pool:           entry.Position.PoolID,
		Venue:          entry.Position.Venue,
		Action:         outcome.Action,
		EstimatedValue: outcome.Action.EstimatedValue,
		Timestamp:      c.now(),
	}
	outcome.State = StateSuccess
	outcome.Result = result

	if c.deps.Results != nil {
		if err := c.deps.Results.Save(ctx, result); err != nil {
			c.log.Error().Err(err).Str("signature", signature).Msg("Failed to save rebalance result")
		}
	}

	prefs, err := c.deps.Tracker.RecordSuccess(ctx, entry.WalletAddress, &entry.Position, outcome.Action.EstimatedValue)
	if err != nil {
		c.log.Error().Err(err).Str("wallet", entry.WalletAddress).Msg("Failed to record success in security gate")
	}

	if c.deps.Audit != nil {
		c.deps.Audit.Record(ctx, domain.AuditRebalanceExecuted, entry.WalletAddress, map[string]interface{}{
			"pool":            entry.Key,
			"action":          string(outcome.Action.Type),
			"signature":       signature,
			"plan_id":         plan.ID,
			"estimated_value": outcome.Action.EstimatedValue,
		})
	}

	c.log.Info().
		Str("wallet", entry.WalletAddress).
		Str("key", entry.Key).
		Str("action", string(outcome.Action.Type)).
		Str("signature", signature).
		Msg("✅ Rebalance executed")

	c.deps.Notifier.Send(ctx, entry.Preferences.NotificationChannels, entry.WalletAddress,
		fmt.Sprintf("✅ Rebalanced %s on %s (%s), ~$%.2f", entry.Position.PoolID, entry.Position.Venue, outcome.Action.Type, outcome.Action.EstimatedValue),
		notify.SeveritySuccess)
	return prefs
}

func (c *Coordinator) fail(ctx context.Context, entry *domain.QueueEntry, outcome *ActionOutcome, err error) {
	outcome.State = StateFailure
	outcome.Err = err
	outcome.Error = err.Error()

	tripped, trackErr := c.deps.Tracker.RecordFailure(ctx, entry.WalletAddress, &entry.Position)
	if trackErr != nil {
		c.log.Error().Err(trackErr).Str("wallet", entry.WalletAddress).Msg("Failed to record failure in security gate")
	}

	if c.deps.Audit != nil {
		c.deps.Audit.Record(ctx, domain.AuditRebalanceFailed, entry.WalletAddress, map[string]interface{}{
			"pool":   entry.Key,
			"action": string(outcome.Action.Type),
			"error":  err.Error(),
		})
	}

	c.log.Error().
		Err(err).
		Str("wallet", entry.WalletAddress).
		Str("key", entry.Key).
		Str("action", string(outcome.Action.Type)).
		Msg("❌ Rebalance failed")

	channels := entry.Preferences.NotificationChannels
	c.deps.Notifier.Send(ctx, channels, entry.WalletAddress,
		fmt.Sprintf("❌ Rebalance of %s (%s) failed: %v", entry.Position.PoolID, outcome.Action.Type, err),
		notify.SeverityError)

	if tripped {
		c.deps.Notifier.Send(ctx, channels, entry.WalletAddress,
			fmt.Sprintf("⛔ Rebalancing disabled for %s after repeated failures", entry.Position.PoolID),
			notify.SeverityWarning)
	}
}
