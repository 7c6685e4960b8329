package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/analyzer"
	"github.com/kirillm/defairy-rebalancer/internal/audit"
	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/execution"
	"github.com/kirillm/defairy-rebalancer/internal/feed"
	"github.com/kirillm/defairy-rebalancer/internal/notify"
	"github.com/kirillm/defairy-rebalancer/internal/policy"
	"github.com/kirillm/defairy-rebalancer/internal/preferences"
	"github.com/kirillm/defairy-rebalancer/internal/queue"
	"github.com/rs/zerolog"
)

// DefaultInterval период мониторинга
const DefaultInterval = 5 * time.Minute

// historyHours окно для отклонения цены
const historyHours = 24

// PriceSource исторические цены, 0 если недоступны
type PriceSource interface {
	GetHistoricalPrice(ctx context.Context, symbol string, hoursBack int) float64
}

// Notifier уведомления с учетом каналов кошелька
type Notifier interface {
	Send(ctx context.Context, channels domain.NotificationChannels, walletAddress, message string, severity notify.Severity)
}

// Config настройки orchestrator
type Config struct {
	Interval time.Duration
	Analyzer analyzer.Options
}

// Deps компоненты движка
type Deps struct {
	Preferences *preferences.Store
	Gate        *policy.Engine
	Queue       *queue.Queue
	Coordinator *execution.Coordinator
	KillSwitch  *execution.KillSwitch
	Audit       *audit.Log
	Notifier    Notifier
	Feed        feed.PositionFeed
	Prices      PriceSource
	Results     domain.ResultRepository
}

// Rejection отказ security gate по позиции
type Rejection struct {
	Key     string `json:"key"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// CycleReport итог одного цикла мониторинга
type CycleReport struct {
	WalletAddress string              `json:"wallet_address"`
	StartedAt     time.Time           `json:"started_at"`
	Skipped       string              `json:"skipped,omitempty"`
	Positions     int                 `json:"positions"`
	Malformed     int                 `json:"malformed"`
	Queued        []string            `json:"queued"`
	Rejected      []Rejection         `json:"rejected"`
	Executed      []*execution.Report `json:"executed,omitempty"`
	Expired       int                 `json:"expired"`
}

// Orchestrator экземпляр движка ребалансировки: мониторинг и команды
type Orchestrator struct {
	cfg       Config
	deps      Deps
	scheduler *Scheduler
	log       zerolog.Logger
	now       func() time.Time

	// Общий контекст циклов, отменяется в Stop
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// один цикл на кошелек одновременно
	cycleMu sync.Mutex
	running map[string]bool
}

// New создает orchestrator и подключает хуки store (старт/стоп мониторинга)
func New(cfg Config, deps Deps, log zerolog.Logger) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Analyzer.SwapTargetMode == "" {
		cfg.Analyzer.SwapTargetMode = analyzer.SwapTargetUSD
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		scheduler: NewScheduler(cfg.Interval, log),
		log:       log.With().Str("component", "orchestrator").Logger(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		running:   make(map[string]bool),
	}

	deps.Preferences.SetHooks(o.StartMonitoring, o.StopMonitoring)
	return o
}

// Start запускает планировщик и возобновляет мониторинг включенных кошельков
func (o *Orchestrator) Start(ctx context.Context) error {
	o.scheduler.Start()

	wallets, err := o.deps.Preferences.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled wallets: %w", err)
	}
	for _, w := range wallets {
		o.StartMonitoring(w)
	}

	o.log.Info().Int("wallets", len(wallets)).Dur("interval", o.cfg.Interval).Msg("🚀 Orchestrator started")
	return nil
}

// Stop останавливает мониторинг и ждет текущие циклы
func (o *Orchestrator) Stop() {
	o.log.Info().Msg("🛑 Stopping orchestrator...")
	o.cancel()
	o.scheduler.Stop()
	o.wg.Wait()
	o.log.Info().Msg("✅ Orchestrator stopped")
}

// StartMonitoring регистрирует периодический цикл кошелька и сразу запускает первый
func (o *Orchestrator) StartMonitoring(walletAddress string) {
	added, err := o.scheduler.Add(walletAddress, func() { o.runScheduled(walletAddress) })
	if err != nil {
		o.log.Error().Err(err).Str("wallet", walletAddress).Msg("Failed to schedule monitoring")
		return
	}
	if !added {
		return
	}

	o.log.Info().Str("wallet", walletAddress).Msg("👀 Monitoring started")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runScheduled(walletAddress)
	}()
}

// StopMonitoring снимает кошелек с мониторинга
func (o *Orchestrator) StopMonitoring(walletAddress string) {
	if o.scheduler.Remove(walletAddress) {
		o.log.Info().Str("wallet", walletAddress).Msg("💤 Monitoring stopped")
	}
}

// IsMonitoring под мониторингом ли кошелек
func (o *Orchestrator) IsMonitoring(walletAddress string) bool {
	return o.scheduler.Has(walletAddress)
}

func (o *Orchestrator) runScheduled(walletAddress string) {
	if o.ctx.Err() != nil {
		return
	}
	report, err := o.RunCycle(o.ctx, walletAddress)
	if err != nil {
		o.log.Error().Err(err).Str("wallet", walletAddress).Msg("❌ Monitoring cycle failed")
		return
	}
	o.log.Debug().
		Str("wallet", walletAddress).
		Int("positions", report.Positions).
		Int("queued", len(report.Queued)).
		Int("rejected", len(report.Rejected)).
		Msg("📊 Cycle complete")
}

// ErrCycleInProgress цикл кошелька уже идет
var ErrCycleInProgress = errors.New("monitoring cycle already in progress")

func (o *Orchestrator) acquire(walletAddress string) bool {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	if o.running[walletAddress] {
		return false
	}
	o.running[walletAddress] = true
	return true
}

func (o *Orchestrator) release(walletAddress string) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	delete(o.running, walletAddress)
}

// RunCycle один проход мониторинга кошелька. Позиции обрабатываются последовательно.
func (o *Orchestrator) RunCycle(ctx context.Context, walletAddress string) (*CycleReport, error) {
	if !o.acquire(walletAddress) {
		return nil, ErrCycleInProgress
	}
	defer o.release(walletAddress)

	now := o.now()
	report := &CycleReport{
		WalletAddress: walletAddress,
		StartedAt:     now,
		Queued:        []string{},
		Rejected:      []Rejection{},
	}

	prefs, err := o.deps.Preferences.Get(ctx, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	if prefs == nil {
		report.Skipped = "not_configured"
		return report, nil
	}
	if !prefs.EnableGlobalRebalancing {
		report.Skipped = "disabled"
		return report, nil
	}

	rolled, err := o.deps.Preferences.Update(ctx, walletAddress, func(p *domain.UserPreferences) bool {
		return policy.RolloverCounters(p, now)
	})
	if err != nil {
		o.log.Error().Err(err).Str("wallet", walletAddress).Msg("Failed to persist counter rollover")
	} else {
		prefs = rolled
	}

	report.Expired = len(o.deps.Queue.ExpireStale())

	positions, err := o.deps.Feed.GetPositions(ctx, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	report.Positions = len(positions)

	opts := o.cfg.Analyzer
	opts.Now = now

	for i := range positions {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		o.processPosition(ctx, &positions[i], prefs, opts, report)
	}

	return report, nil
}

func (o *Orchestrator) processPosition(ctx context.Context, pos *domain.Position, prefs *domain.UserPreferences, opts analyzer.Options, report *CycleReport) {
	if pos.WalletAddress == "" {
		pos.WalletAddress = prefs.WalletAddress
	}

	if err := pos.Validate(); err != nil {
		report.Malformed++
		o.log.Warn().Err(err).Str("pool", pos.PoolID).Msg("⚠️ Skipping malformed position")
		return
	}
	if !prefs.IsPoolEnabled(pos.PoolID) {
		return
	}

	analysis := analyzer.Analyze(pos, prefs, o.marketSnapshot(ctx, pos), opts)
	if !analysis.ShouldRebalance {
		return
	}

	result := o.deps.Gate.Check(ctx, pos, &analysis, prefs)
	if !result.Approved {
		message := result.Reason
		if len(result.Violations) > 0 {
			message = result.Violations[0].Message
		}
		report.Rejected = append(report.Rejected, Rejection{Key: pos.Key(), Reason: result.Reason, Message: message})
		o.deps.Notifier.Send(ctx, prefs.NotificationChannels, prefs.WalletAddress,
			fmt.Sprintf("🚫 Rebalance of %s blocked: %s", pos.PoolID, message), notify.SeverityWarning)
		return
	}

	entry, err := o.deps.Queue.Enqueue(pos, analysis, prefs)
	if err != nil {
		o.log.Debug().Err(err).Str("pool", pos.Key()).Msg("Enqueue skipped")
		return
	}
	report.Queued = append(report.Queued, entry.Key)

	if o.deps.Audit != nil {
		o.deps.Audit.Record(ctx, domain.AuditRebalanceQueued, prefs.WalletAddress, map[string]interface{}{
			"pool":            entry.Key,
			"urgency":         string(analysis.Urgency),
			"estimated_value": analysis.EstimatedValue,
			"reasons":         analysis.Reasons,
		})
	}

	if !entry.SnoozedUntil.After(o.now()) {
		o.deps.Notifier.Send(ctx, prefs.NotificationChannels, prefs.WalletAddress, alertMessage(entry), alertSeverity(analysis.Urgency))
	}

	if o.shouldAutoExecute(pos, prefs, entry) {
		execReport, err := o.deps.Coordinator.Execute(ctx, prefs.WalletAddress, entry.Key, execution.AutoConfirm)
		// счетчики изменились: следующие позиции цикла проверяются по свежей записи
		o.refreshPrefs(ctx, prefs)

		var rejected *execution.RejectedError
		if errors.As(err, &rejected) {
			report.Rejected = append(report.Rejected, Rejection{Key: entry.Key, Reason: rejected.Reason, Message: rejected.Message})
			return
		}
		if err != nil {
			o.log.Warn().Err(err).Str("pool", entry.Key).Msg("Auto execution skipped")
			return
		}
		report.Executed = append(report.Executed, execReport)
	}
}

func (o *Orchestrator) refreshPrefs(ctx context.Context, prefs *domain.UserPreferences) {
	fresh, err := o.deps.Preferences.Get(ctx, prefs.WalletAddress)
	if err != nil || fresh == nil {
		o.log.Warn().Err(err).Str("wallet", prefs.WalletAddress).Msg("Failed to reload preferences after execution")
		return
	}
	*prefs = *fresh
}

// shouldAutoExecute позиция вне диапазона, outOfRangeAction=auto и сумма ниже autoExecuteBelow
func (o *Orchestrator) shouldAutoExecute(pos *domain.Position, prefs *domain.UserPreferences, entry *domain.QueueEntry) bool {
	return !pos.InRange &&
		prefs.RebalanceThresholds.OutOfRangeAction == domain.OutOfRangeAuto &&
		queue.IsAutoExecutable(entry) &&
		!entry.SnoozedUntil.After(o.now())
}

func (o *Orchestrator) marketSnapshot(ctx context.Context, pos *domain.Position) analyzer.MarketSnapshot {
	var market analyzer.MarketSnapshot
	if o.deps.Prices == nil {
		return market
	}
	if pos.Token0 != nil {
		market.HistoricalPrice0 = o.deps.Prices.GetHistoricalPrice(ctx, pos.Token0.Symbol, historyHours)
	}
	if pos.Token1 != nil {
		market.HistoricalPrice1 = o.deps.Prices.GetHistoricalPrice(ctx, pos.Token1.Symbol, historyHours)
	}
	return market
}

func alertMessage(entry *domain.QueueEntry) string {
	path := "confirmation required"
	if queue.IsAutoExecutable(entry) {
		path = "one-click"
	}
	return fmt.Sprintf("🔔 %s on %s needs rebalancing (%s urgency, ~$%.2f, %s)",
		entry.Position.PoolID, entry.Position.Venue, entry.Analysis.Urgency, entry.Analysis.EstimatedValue, path)
}

func alertSeverity(u domain.Urgency) notify.Severity {
	if u == domain.UrgencyHigh {
		return notify.SeverityWarning
	}
	return notify.SeverityInfo
}
