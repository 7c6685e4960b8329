package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/analyzer"
	"github.com/kirillm/defairy-rebalancer/internal/audit"
	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/execution"
	"github.com/kirillm/defairy-rebalancer/internal/notify"
	"github.com/kirillm/defairy-rebalancer/internal/policy"
	"github.com/kirillm/defairy-rebalancer/internal/preferences"
	"github.com/kirillm/defairy-rebalancer/internal/queue"
	"github.com/kirillm/defairy-rebalancer/internal/storage/memory"
	"github.com/kirillm/defairy-rebalancer/internal/wallet"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

type fakeFeed struct {
	mu        sync.Mutex
	positions []domain.Position
	err       error
}

func (f *fakeFeed) GetPositions(_ context.Context, _ string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Position, len(f.positions))
	copy(out, f.positions)
	return out, f.err
}

type fakePrices map[string]float64

func (p fakePrices) GetHistoricalPrice(_ context.Context, symbol string, _ int) float64 {
	return p[symbol]
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Send(_ context.Context, _ domain.NotificationChannels, _, message string, _ notify.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, message)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type signer struct{}

func (signer) PublicKey() string { return testWallet }

func (signer) SignTransaction(context.Context, *domain.TransactionPlan) (string, error) {
	return base58.Encode(bytes.Repeat([]byte{9}, 64)), nil
}

type adapter struct{}

func (adapter) IsConnected(context.Context, string) bool { return true }

func (adapter) GetConnectedWallet(context.Context, string) (wallet.Wallet, error) {
	return signer{}, nil
}

type fixture struct {
	orch     *Orchestrator
	prefs    *preferences.Store
	queue    *queue.Queue
	gate     *policy.Engine
	audit    *audit.Log
	feed     *fakeFeed
	notifier *fakeNotifier
	results  *memory.ResultStore
}

func newFixture(t *testing.T, raw *preferences.RawPreferences) *fixture {
	t.Helper()
	log := zerolog.Nop()
	ctx := context.Background()

	prefsStore := preferences.NewStore(memory.NewPreferencesStore(), preferences.SystemLimits{
		MaxRebalanceAmount:   5000,
		MaxDailyTransactions: 10,
	}, log)
	if raw != nil {
		_, err := prefsStore.Configure(ctx, testWallet, *raw)
		require.NoError(t, err)
	}

	auditLog := audit.NewLog(nil, log)
	gate := policy.NewEngine(policy.DefaultLimits(), prefsStore, auditLog, log)
	q := queue.New(queue.DefaultConfig(), log)
	notifier := &fakeNotifier{}
	results := memory.NewResultStore()
	kill := execution.NewKillSwitch(log)

	coord := execution.NewCoordinator(execution.Deps{
		Queue:       q,
		Planners:    execution.DefaultPlanners(execution.NewSlippageGuard(1)),
		Wallets:     adapter{},
		Tracker:     gate,
		Preferences: prefsStore,
		Results:     results,
		Audit:       auditLog,
		Notifier:    notifier,
		KillSwitch:  kill,
	}, log)

	f := &fixture{
		prefs:    prefsStore,
		queue:    q,
		gate:     gate,
		audit:    auditLog,
		feed:     &fakeFeed{},
		notifier: notifier,
		results:  results,
	}
	f.orch = New(Config{Interval: time.Hour, Analyzer: analyzer.DefaultOptions()}, Deps{
		Preferences: prefsStore,
		Gate:        gate,
		Queue:       q,
		Coordinator: coord,
		KillSwitch:  kill,
		Audit:       auditLog,
		Notifier:    notifier,
		Feed:        f.feed,
		Prices:      fakePrices{},
		Results:     results,
	}, log)
	t.Cleanup(f.orch.Stop)
	return f
}

func enabled() *preferences.RawPreferences {
	on := true
	return &preferences.RawPreferences{EnableGlobalRebalancing: &on}
}

// outOfRange сбалансированная позиция вне диапазона на $balance
func outOfRange(poolID string, balance float64) domain.Position {
	half := balance / 2
	return domain.Position{
		PoolID:     poolID,
		Venue:      domain.VenueOrca,
		InRange:    false,
		Token0:     &domain.Token{Symbol: "SOL", Amount: half / 100, Price: 100},
		Token1:     &domain.Token{Symbol: "USDC", Amount: half, Price: 1},
		BalanceUSD: balance,
	}
}

func countEvents(events []domain.AuditEvent, eventType domain.AuditEventType) int {
	n := 0
	for _, e := range events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func TestRunCycle_QueuesOutOfRangePosition(t *testing.T) {
	f := newFixture(t, enabled())
	f.feed.positions = []domain.Position{outOfRange("SOL-USDC", 1000)}

	report, err := f.orch.RunCycle(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Positions)
	assert.Equal(t, []string{"SOL-USDC_Orca"}, report.Queued)
	assert.Empty(t, report.Executed)

	alerts := f.orch.Alerts(testWallet)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.UrgencyHigh, alerts[0].Urgency)
	assert.Equal(t, queue.AlertAutoExecutable, alerts[0].Type)

	assert.Equal(t, 1, countEvents(f.audit.Recent(10), domain.AuditRebalanceQueued))
	assert.Equal(t, 1, f.notifier.count())
}

func TestRunCycle_Skips(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, nil)
		report, err := f.orch.RunCycle(context.Background(), testWallet)
		require.NoError(t, err)
		assert.Equal(t, "not_configured", report.Skipped)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, &preferences.RawPreferences{})
		f.feed.positions = []domain.Position{outOfRange("SOL-USDC", 1000)}
		report, err := f.orch.RunCycle(context.Background(), testWallet)
		require.NoError(t, err)
		assert.Equal(t, "disabled", report.Skipped)
		assert.Empty(t, f.orch.Alerts(testWallet))
	})
}

func TestRunCycle_MalformedAndDisabledPools(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	require.NoError(t, f.prefs.DisablePool(ctx, testWallet, "OFF-USDC", "manual"))

	bad := outOfRange("BAD-USDC", 1000)
	bad.BalanceUSD = 5000
	f.feed.positions = []domain.Position{bad, outOfRange("OFF-USDC", 1000), outOfRange("SOL-USDC", 1000)}

	report, err := f.orch.RunCycle(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Positions)
	assert.Equal(t, 1, report.Malformed)
	assert.Equal(t, []string{"SOL-USDC_Orca"}, report.Queued)
}

func TestRunCycle_GateRejection(t *testing.T) {
	f := newFixture(t, enabled())
	// reopen стоит 10% от $20000 = $2000 > $1000
	f.feed.positions = []domain.Position{outOfRange("BIG-USDC", 20000)}

	report, err := f.orch.RunCycle(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Empty(t, report.Queued)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, domain.ReasonAmountTooLarge, report.Rejected[0].Reason)

	assert.Empty(t, f.orch.Alerts(testWallet))
	assert.Equal(t, 1, countEvents(f.audit.Recent(10), domain.AuditSecurityRejection))
	assert.Equal(t, 1, f.notifier.count())
}

func TestRunCycle_PriceDeviationUsesHistory(t *testing.T) {
	f := newFixture(t, enabled())
	f.orch.deps.Prices = fakePrices{"SOL": 80, "USDC": 1}
	pos := outOfRange("SOL-USDC", 1000)
	pos.InRange = true
	f.feed.positions = []domain.Position{pos}

	report, err := f.orch.RunCycle(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, report.Queued, 1)

	alerts := f.orch.Alerts(testWallet)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.UrgencyMedium, alerts[0].Urgency)
	assert.Contains(t, alerts[0].Reasons[0], "Price moved")
}

func TestRunCycle_AutoExecutesSmallOutOfRange(t *testing.T) {
	auto := domain.OutOfRangeAuto
	raw := enabled()
	raw.OutOfRangeAction = &auto
	f := newFixture(t, raw)
	f.feed.positions = []domain.Position{outOfRange("SOL-USDC", 1000)}

	report, err := f.orch.RunCycle(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, report.Executed, 1)
	assert.Equal(t, 1, report.Executed[0].Succeeded())

	assert.Empty(t, f.orch.Alerts(testWallet))
	prefs, err := f.prefs.Get(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, 1, prefs.DailyTransactionCount)

	history, err := f.orch.History(context.Background(), testWallet, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// следующий цикл упирается в cool-down
	report, err = f.orch.RunCycle(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, domain.ReasonFrequencyTooHigh, report.Rejected[0].Reason)
}

func autoMode(maxDaily int, autoBelow float64) *preferences.RawPreferences {
	auto := domain.OutOfRangeAuto
	raw := enabled()
	raw.OutOfRangeAction = &auto
	raw.MaxDailyTransactions = &maxDaily
	if autoBelow > 0 {
		maxAmount := 5000.0
		raw.MaxRebalanceAmount = &maxAmount
		raw.AutoExecuteBelow = &autoBelow
	}
	return raw
}

func TestRunCycle_AutoExecutionRespectsDailyLimit(t *testing.T) {
	f := newFixture(t, autoMode(1, 0))
	f.feed.positions = []domain.Position{
		outOfRange("SOL-USDC", 500),
		outOfRange("JUP-USDC", 500),
		outOfRange("BONK-SOL", 500),
	}

	report, err := f.orch.RunCycle(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, report.Executed, 1)
	require.Len(t, report.Rejected, 2)
	for _, r := range report.Rejected {
		assert.Equal(t, domain.ReasonDailyLimitExceeded, r.Reason)
	}

	prefs, err := f.prefs.Get(context.Background(), testWallet)
	require.NoError(t, err)
	assert.LessOrEqual(t, prefs.DailyTransactionCount, prefs.MaxDailyTransactions)
	assert.Equal(t, 1, prefs.DailyTransactionCount)

	results, err := f.results.GetRecent(context.Background(), testWallet, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRunCycle_AutoExecutionRespectsWeeklyCap(t *testing.T) {
	// reopen $4000 на каждый пул, недельный лимит профиля $20000
	f := newFixture(t, autoMode(10, 5000))
	pools := []string{"P1-USDC", "P2-USDC", "P3-USDC", "P4-USDC", "P5-USDC", "P6-USDC"}
	for _, pool := range pools {
		f.feed.positions = append(f.feed.positions, outOfRange(pool, 40000))
	}

	report, err := f.orch.RunCycle(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Len(t, report.Executed, 5)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, domain.ReasonWeeklyAmountExceeded, report.Rejected[0].Reason)

	prefs, err := f.prefs.Get(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, 5, prefs.DailyTransactionCount)
	assert.LessOrEqual(t, prefs.WeeklyTransactionAmount, f.gate.Limits().MaxWeeklyAmount)
}

func TestConfirmAndExecute_RespectsDailyLimit(t *testing.T) {
	maxDaily := 1
	raw := enabled()
	raw.MaxDailyTransactions = &maxDaily
	f := newFixture(t, raw)
	ctx := context.Background()
	f.feed.positions = []domain.Position{
		outOfRange("SOL-USDC", 500),
		outOfRange("JUP-USDC", 500),
		outOfRange("BONK-SOL", 500),
	}

	report, err := f.orch.RunCycle(ctx, testWallet)
	require.NoError(t, err)
	require.Len(t, report.Queued, 3)
	assert.Empty(t, report.Executed)

	succeeded := 0
	for _, key := range report.Queued {
		execReport, err := f.orch.ConfirmAndExecute(ctx, testWallet, key)
		if errors.Is(err, domain.ErrSecurityRejected) {
			continue
		}
		require.NoError(t, err)
		succeeded += execReport.Succeeded()
	}
	assert.Equal(t, 1, succeeded)

	prefs, err := f.prefs.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.LessOrEqual(t, prefs.DailyTransactionCount, prefs.MaxDailyTransactions)

	// отклоненные записи остаются в очереди
	assert.Len(t, f.orch.Alerts(testWallet), 2)
}

func TestRunCycle_AlertModeDoesNotExecute(t *testing.T) {
	f := newFixture(t, enabled())
	f.feed.positions = []domain.Position{outOfRange("SOL-USDC", 1000)}

	report, err := f.orch.RunCycle(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Empty(t, report.Executed)

	results, err := f.results.GetRecent(context.Background(), testWallet, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestExecuteOneClick(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	f.feed.positions = []domain.Position{outOfRange("SOL-USDC", 1000), outOfRange("JUP-USDC", 3000)}

	_, err := f.orch.RunCycle(ctx, testWallet)
	require.NoError(t, err)

	// $300 > autoExecuteBelow $100
	_, err = f.orch.ExecuteOneClick(ctx, testWallet, "JUP-USDC_Orca")
	assert.ErrorIs(t, err, domain.ErrNotAutoExecutable)

	report, err := f.orch.ExecuteOneClick(ctx, testWallet, "SOL-USDC_Orca")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())

	report, err = f.orch.ConfirmAndExecute(ctx, testWallet, "JUP-USDC_Orca")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())

	_, err = f.orch.ExecuteOneClick(ctx, testWallet, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelSnoozeDismiss(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	f.feed.positions = []domain.Position{outOfRange("SOL-USDC", 1000)}
	_, err := f.orch.RunCycle(ctx, testWallet)
	require.NoError(t, err)
	key := "SOL-USDC_Orca"

	require.NoError(t, f.orch.Cancel(ctx, testWallet, key))
	assert.Len(t, f.orch.Alerts(testWallet), 1)
	assert.Equal(t, 1, countEvents(f.audit.Recent(10), domain.AuditRebalanceCancelled))

	until, err := f.orch.Snooze(testWallet, key, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(queue.DefaultSnooze), until, time.Minute)
	assert.Empty(t, f.orch.Alerts(testWallet))

	require.NoError(t, f.orch.Dismiss(testWallet, key))
	_, err = f.queue.Get(testWallet, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnablePool(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	pos := outOfRange("SOL-USDC", 1000)

	for i := 0; i < 3; i++ {
		_, err := f.gate.RecordFailure(ctx, testWallet, &pos)
		require.NoError(t, err)
	}

	view, err := f.orch.Preferences(ctx, testWallet)
	require.NoError(t, err)
	assert.False(t, view.Preferences.IsPoolEnabled("SOL-USDC"))

	require.NoError(t, f.orch.EnablePool(ctx, testWallet, "SOL-USDC"))

	view, err = f.orch.Preferences(ctx, testWallet)
	require.NoError(t, err)
	assert.True(t, view.Preferences.IsPoolEnabled("SOL-USDC"))

	f.feed.positions = []domain.Position{pos}
	report, err := f.orch.RunCycle(ctx, testWallet)
	require.NoError(t, err)
	assert.Len(t, report.Queued, 1)
	assert.Equal(t, 1, countEvents(f.audit.Recent(20), domain.AuditPoolEnabled))
}

func TestPreferences_NotConfigured(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.Preferences(context.Background(), testWallet)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKillSwitchCommands(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	f.feed.positions = []domain.Position{outOfRange("SOL-USDC", 1000)}
	_, err := f.orch.RunCycle(ctx, testWallet)
	require.NoError(t, err)

	status := f.orch.ActivateKillSwitch(ctx, "incident")
	assert.True(t, status.Active)
	assert.Equal(t, "incident", f.orch.KillSwitch().Reason)

	_, err = f.orch.ExecuteOneClick(ctx, testWallet, "SOL-USDC_Orca")
	assert.ErrorIs(t, err, domain.ErrKillSwitchActive)

	status = f.orch.DeactivateKillSwitch(ctx)
	assert.False(t, status.Active)
	assert.Equal(t, 2, countEvents(f.orch.AuditLog("", 10), domain.AuditKillSwitch))
}

func TestConfigure_StartsAndStopsMonitoring(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	on, off := true, false

	_, err := f.orch.Configure(ctx, testWallet, preferences.RawPreferences{EnableGlobalRebalancing: &on})
	require.NoError(t, err)
	assert.True(t, f.orch.IsMonitoring(testWallet))
	assert.Equal(t, 1, countEvents(f.orch.AuditLog(testWallet, 10), domain.AuditPreferencesConfigured))

	_, err = f.orch.Configure(ctx, testWallet, preferences.RawPreferences{EnableGlobalRebalancing: &off})
	require.NoError(t, err)
	assert.False(t, f.orch.IsMonitoring(testWallet))

	_, err = f.orch.Configure(ctx, "not-a-wallet", preferences.RawPreferences{})
	assert.ErrorIs(t, err, domain.ErrInvalidWalletAddress)
}

func TestScheduler_AddRemove(t *testing.T) {
	s := NewScheduler(time.Hour, zerolog.Nop())

	added, err := s.Add("w1", func() {})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add("w1", func() {})
	require.NoError(t, err)
	assert.False(t, added)

	assert.True(t, s.Has("w1"))
	assert.True(t, s.Remove("w1"))
	assert.False(t, s.Remove("w1"))
	assert.False(t, s.Has("w1"))
}
