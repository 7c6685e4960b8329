package execution

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
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

var validSignature = base58.Encode(bytes.Repeat([]byte{7}, 64))

type fakeWallet struct {
	signature string
	err       error
	calls     int
}

func (w *fakeWallet) PublicKey() string { return testWallet }

func (w *fakeWallet) SignTransaction(_ context.Context, _ *domain.TransactionPlan) (string, error) {
	w.calls++
	return w.signature, w.err
}

type fakeAdapter struct {
	connected bool
	wallet    *fakeWallet
}

func (a *fakeAdapter) IsConnected(_ context.Context, _ string) bool { return a.connected }

func (a *fakeAdapter) GetConnectedWallet(_ context.Context, _ string) (wallet.Wallet, error) {
	if !a.connected {
		return nil, domain.ErrWalletNotConnected
	}
	return a.wallet, nil
}

type sentMessage struct {
	message  string
	severity notify.Severity
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *fakeNotifier) Send(_ context.Context, _ domain.NotificationChannels, _, message string, severity notify.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{message: message, severity: severity})
}

func (n *fakeNotifier) severities() []notify.Severity {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Severity, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.severity)
	}
	return out
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []domain.AuditEventType
}

func (a *fakeAuditor) Record(_ context.Context, eventType domain.AuditEventType, _ string, _ map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType)
}

type harness struct {
	coord    *Coordinator
	queue    *queue.Queue
	prefs    *preferences.Store
	gate     *policy.Engine
	results  *memory.ResultStore
	audit    *fakeAuditor
	notifier *fakeNotifier
	adapter  *fakeAdapter
	kill     *KillSwitch
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	maxAmount := 5000.0
	return newHarnessWith(t, preferences.RawPreferences{MaxRebalanceAmount: &maxAmount})
}

func newHarnessWith(t *testing.T, raw preferences.RawPreferences) *harness {
	t.Helper()
	log := zerolog.Nop()

	prefsStore := preferences.NewStore(memory.NewPreferencesStore(), preferences.SystemLimits{
		MaxRebalanceAmount:   10000,
		MaxDailyTransactions: 20,
	}, log)
	_, err := prefsStore.Configure(context.Background(), testWallet, raw)
	require.NoError(t, err)

	auditor := &fakeAuditor{}
	h := &harness{
		queue:    queue.New(queue.DefaultConfig(), log),
		prefs:    prefsStore,
		results:  memory.NewResultStore(),
		audit:    auditor,
		notifier: &fakeNotifier{},
		adapter:  &fakeAdapter{connected: true, wallet: &fakeWallet{signature: validSignature}},
		kill:     NewKillSwitch(log),
	}
	h.gate = policy.NewEngine(policy.DefaultLimits(), prefsStore, auditor, log)

	h.coord = NewCoordinator(Deps{
		Queue:       h.queue,
		Planners:    DefaultPlanners(NewSlippageGuard(1)),
		Wallets:     h.adapter,
		Tracker:     h.gate,
		Preferences: prefsStore,
		Results:     h.results,
		Audit:       auditor,
		Notifier:    h.notifier,
		KillSwitch:  h.kill,
	}, log)
	return h
}

func (h *harness) enqueue(t *testing.T, venue domain.Venue, actions ...domain.RebalanceAction) string {
	t.Helper()
	return h.enqueuePool(t, "SOL-USDC", venue, actions...)
}

func (h *harness) enqueuePool(t *testing.T, poolID string, venue domain.Venue, actions ...domain.RebalanceAction) string {
	t.Helper()
	prefs, err := h.prefs.Get(context.Background(), testWallet)
	require.NoError(t, err)

	entry := planEntry(venue)
	entry.Position.PoolID = poolID
	total := 0.0
	for _, a := range actions {
		total += a.EstimatedValue
	}
	analysis := domain.RebalanceAnalysis{
		ShouldRebalance: true,
		Actions:         actions,
		EstimatedValue:  total,
		Urgency:         domain.UrgencyHigh,
	}
	queued, err := h.queue.Enqueue(&entry.Position, analysis, prefs)
	require.NoError(t, err)
	return queued.Key
}

func TestExecute_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.enqueue(t, domain.VenueOrca, reopenAction)

	report, err := h.coord.Execute(ctx, testWallet, key, AutoConfirm)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	outcome := report.Outcomes[0]
	assert.Equal(t, StateSuccess, outcome.State)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, validSignature, outcome.Result.Signature)
	assert.Equal(t, 1, report.Succeeded())

	// запись убрана из очереди
	_, err = h.queue.Get(testWallet, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// счетчики обновлены и сохранены
	prefs, err := h.prefs.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, 1, prefs.DailyTransactionCount)
	assert.Equal(t, 1000.0, prefs.WeeklyTransactionAmount)

	results, err := h.results.GetRecent(ctx, testWallet, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	assert.Contains(t, h.audit.events, domain.AuditRebalanceExecuted)
	assert.Equal(t, []notify.Severity{notify.SeveritySuccess}, h.notifier.severities())
}

func TestExecute_CancelMutatesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.enqueue(t, domain.VenueOrca, reopenAction)

	report, err := h.coord.Execute(ctx, testWallet, key, Deny)
	require.NoError(t, err)
	assert.True(t, report.Cancelled())
	assert.Equal(t, 0, h.adapter.wallet.calls)

	entry, err := h.queue.Get(testWallet, key)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePending, entry.Status)

	prefs, err := h.prefs.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, 0, prefs.DailyTransactionCount)
	assert.Empty(t, h.gate.Tracking(testWallet))

	assert.Equal(t, []domain.AuditEventType{domain.AuditRebalanceCancelled}, h.audit.events)
}

func TestExecute_ConfirmerErrorCancels(t *testing.T) {
	h := newHarness(t)
	key := h.enqueue(t, domain.VenueOrca, reopenAction)

	failing := ConfirmFunc(func(context.Context, Preview) (bool, error) {
		return false, errors.New("timeout")
	})
	report, err := h.coord.Execute(context.Background(), testWallet, key, failing)
	require.NoError(t, err)
	assert.True(t, report.Cancelled())
}

func TestExecute_WalletNotConnected(t *testing.T) {
	h := newHarness(t)
	h.adapter.connected = false
	key := h.enqueue(t, domain.VenueOrca, reopenAction)

	_, err := h.coord.Execute(context.Background(), testWallet, key, AutoConfirm)
	assert.ErrorIs(t, err, domain.ErrWalletNotConnected)

	entry, err := h.queue.Get(testWallet, key)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePending, entry.Status)

	assert.Empty(t, h.gate.Tracking(testWallet))
	assert.Equal(t, []notify.Severity{notify.SeverityWarning}, h.notifier.severities())
}

func TestExecute_UnsupportedVenueIsolated(t *testing.T) {
	h := newHarness(t)
	key := h.enqueue(t, domain.VenueMeteora, reopenAction)

	report, err := h.coord.Execute(context.Background(), testWallet, key, AutoConfirm)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StateFailure, report.Outcomes[0].State)
	assert.ErrorIs(t, report.Outcomes[0].Err, domain.ErrUnsupportedVenue)
	assert.Equal(t, 0, h.adapter.wallet.calls)
	assert.Contains(t, h.audit.events, domain.AuditRebalanceFailed)
}

func TestExecute_FailureDoesNotStopOtherActions(t *testing.T) {
	h := newHarness(t)
	broken := reopenAction
	broken.Range = nil
	key := h.enqueue(t, domain.VenueOrca, broken, swapAction)

	report, err := h.coord.Execute(context.Background(), testWallet, key, AutoConfirm)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, StateFailure, report.Outcomes[0].State)
	assert.Equal(t, StateSuccess, report.Outcomes[1].State)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 1, report.Succeeded())
}

func TestExecute_RepeatedFailuresTripBreaker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.wallet.err = domain.ErrSignatureRejected

	for i := 0; i < 3; i++ {
		key := h.enqueue(t, domain.VenueOrca, reopenAction)
		report, err := h.coord.Execute(ctx, testWallet, key, AutoConfirm)
		require.NoError(t, err)
		assert.Equal(t, StateFailure, report.Outcomes[0].State)
	}

	prefs, err := h.prefs.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.False(t, prefs.IsPoolEnabled("SOL-USDC"))
	assert.Contains(t, h.audit.events, domain.AuditPoolDisabled)

	sev := h.notifier.severities()
	assert.Equal(t, notify.SeverityWarning, sev[len(sev)-1])
}

func TestExecute_InvalidSignatureIsFailure(t *testing.T) {
	h := newHarness(t)
	h.adapter.wallet.signature = "not-a-signature"
	key := h.enqueue(t, domain.VenueRaydium, swapAction)

	report, err := h.coord.Execute(context.Background(), testWallet, key, AutoConfirm)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, report.Outcomes[0].State)

	results, err := h.results.GetRecent(context.Background(), testWallet, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestExecute_KillSwitch(t *testing.T) {
	h := newHarness(t)
	key := h.enqueue(t, domain.VenueOrca, reopenAction)
	h.kill.Activate("test")

	_, err := h.coord.Execute(context.Background(), testWallet, key, AutoConfirm)
	assert.ErrorIs(t, err, domain.ErrKillSwitchActive)

	entry, err := h.queue.Get(testWallet, key)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePending, entry.Status)
}

func TestExecute_BusyEntry(t *testing.T) {
	h := newHarness(t)
	key := h.enqueue(t, domain.VenueOrca, reopenAction)
	_, err := h.queue.Claim(testWallet, key)
	require.NoError(t, err)

	_, err = h.coord.Execute(context.Background(), testWallet, key, AutoConfirm)
	assert.ErrorIs(t, err, domain.ErrQueueEntryBusy)
}

func TestPreview_DoesNotClaim(t *testing.T) {
	h := newHarness(t)
	key := h.enqueue(t, domain.VenueRaydium, reopenAction, swapAction)

	previews, err := h.coord.Preview(context.Background(), testWallet, key)
	require.NoError(t, err)
	require.Len(t, previews, 2)
	assert.NotNil(t, previews[0].Plan)
	assert.Empty(t, previews[0].PlanError)
	assert.Equal(t, domain.UrgencyHigh, previews[0].Urgency)

	entry, err := h.queue.Get(testWallet, key)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePending, entry.Status)
}

func TestPreview_UnsupportedVenue(t *testing.T) {
	h := newHarness(t)
	key := h.enqueue(t, domain.VenueMeteora, reopenAction)

	previews, err := h.coord.Preview(context.Background(), testWallet, key)
	require.NoError(t, err)
	require.Len(t, previews, 1)
	assert.Nil(t, previews[0].Plan)
	assert.Contains(t, previews[0].PlanError, "unsupported venue")
}

func TestReport_Counts(t *testing.T) {
	r := &Report{Outcomes: []ActionOutcome{
		{State: StateSuccess},
		{State: StateFailure},
		{State: StateUserCancelled},
	}}
	assert.Equal(t, 1, r.Succeeded())
	assert.Equal(t, 1, r.Failed())
	assert.True(t, r.Cancelled())
}

func (h *harness) dailyCount(t *testing.T) int {
	t.Helper()
	prefs, err := h.prefs.Get(context.Background(), testWallet)
	require.NoError(t, err)
	return prefs.DailyTransactionCount
}

func oneDailyTransaction() preferences.RawPreferences {
	maxAmount, maxDaily := 5000.0, 1
	return preferences.RawPreferences{MaxRebalanceAmount: &maxAmount, MaxDailyTransactions: &maxDaily}
}

func TestExecute_RechecksDailyLimit(t *testing.T) {
	h := newHarnessWith(t, oneDailyTransaction())
	ctx := context.Background()

	keys := []string{
		h.enqueuePool(t, "SOL-USDC", domain.VenueOrca, reopenAction),
		h.enqueuePool(t, "JUP-USDC", domain.VenueOrca, reopenAction),
		h.enqueuePool(t, "BONK-SOL", domain.VenueOrca, reopenAction),
	}

	report, err := h.coord.Execute(ctx, testWallet, keys[0], AutoConfirm)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())

	for _, key := range keys[1:] {
		_, err := h.coord.Execute(ctx, testWallet, key, AutoConfirm)
		require.ErrorIs(t, err, domain.ErrSecurityRejected)

		var rejected *RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, domain.ReasonDailyLimitExceeded, rejected.Reason)

		// запись остается в очереди
		entry, err := h.queue.Get(testWallet, key)
		require.NoError(t, err)
		assert.Equal(t, domain.QueuePending, entry.Status)
	}

	assert.Equal(t, 1, h.dailyCount(t))
	assert.Equal(t, 1, h.adapter.wallet.calls)
	assert.Contains(t, h.audit.events, domain.AuditSecurityRejection)
}

func TestExecute_RechecksCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	key := h.enqueue(t, domain.VenueOrca, reopenAction)
	_, err := h.coord.Execute(ctx, testWallet, key, AutoConfirm)
	require.NoError(t, err)

	// та же позиция снова в очереди сразу после ребалансировки
	key = h.enqueue(t, domain.VenueOrca, reopenAction)
	_, err = h.coord.Execute(ctx, testWallet, key, AutoConfirm)

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, domain.ReasonFrequencyTooHigh, rejected.Reason)
	assert.Equal(t, 1, h.dailyCount(t))
}

func TestExecute_DailyLimitStopsRemainingActions(t *testing.T) {
	h := newHarnessWith(t, oneDailyTransaction())
	key := h.enqueue(t, domain.VenueRaydium, reopenAction, swapAction)

	report, err := h.coord.Execute(context.Background(), testWallet, key, AutoConfirm)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StateSuccess, report.Outcomes[0].State)
	assert.Equal(t, 1, h.dailyCount(t))
}

func TestExecute_ConcurrentEntriesRespectDailyLimit(t *testing.T) {
	h := newHarnessWith(t, oneDailyTransaction())
	ctx := context.Background()

	pools := []string{"SOL-USDC", "JUP-USDC", "BONK-SOL", "RAY-USDC"}
	keys := make([]string, 0, len(pools))
	for _, pool := range pools {
		keys = append(keys, h.enqueuePool(t, pool, domain.VenueOrca, reopenAction))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			report, err := h.coord.Execute(ctx, testWallet, key, AutoConfirm)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, domain.ErrSecurityRejected) {
				rejected++
				return
			}
			if assert.NoError(t, err) {
				succeeded += report.Succeeded()
			}
		}(key)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, len(pools)-1, rejected)
	assert.Equal(t, 1, h.dailyCount(t))
}
