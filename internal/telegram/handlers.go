package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/execution"
	"github.com/kirillm/defairy-rebalancer/internal/orchestrator"
	"github.com/kirillm/defairy-rebalancer/internal/preferences"
	"github.com/kirillm/defairy-rebalancer/internal/queue"
)

var errWalletNotLinked = errors.New("wallet not linked")

// Service команды движка ребалансировки, доступные из бота
type Service interface {
	Configure(ctx context.Context, walletAddress string, raw preferences.RawPreferences) (*domain.UserPreferences, error)
	Preferences(ctx context.Context, walletAddress string) (*orchestrator.PreferencesView, error)
	RunCycle(ctx context.Context, walletAddress string) (*orchestrator.CycleReport, error)
	Alerts(walletAddress string) []queue.Alert
	Preview(ctx context.Context, walletAddress, key string) ([]execution.Preview, error)
	ExecuteOneClick(ctx context.Context, walletAddress, key string) (*execution.Report, error)
	ConfirmAndExecute(ctx context.Context, walletAddress, key string) (*execution.Report, error)
	Cancel(ctx context.Context, walletAddress, key string) error
	Snooze(walletAddress, key string, d time.Duration) (time.Time, error)
	Dismiss(walletAddress, key string) error
	EnablePool(ctx context.Context, walletAddress, poolID string) error
	History(ctx context.Context, walletAddress string, limit int) ([]domain.RebalanceResult, error)
	KillSwitch() execution.KillSwitchStatus
	ActivateKillSwitch(ctx context.Context, reason string) execution.KillSwitchStatus
	DeactivateKillSwitch(ctx context.Context) execution.KillSwitchStatus
}

// Reply одно сообщение ответа, опционально с inline клавиатурой
type Reply struct {
	Text   string
	Markup *tgbotapi.InlineKeyboardMarkup
}

func textReply(s string) []Reply {
	return []Reply{{Text: s}}
}

// Handlers содержит все обработчики команд
type Handlers struct {
	svc       Service
	auth      *AuthManager
	formatter *Formatter
}

// NewHandlers создает новый набор обработчиков
func NewHandlers(svc Service, auth *AuthManager, formatter *Formatter) *Handlers {
	return &Handlers{
		svc:       svc,
		auth:      auth,
		formatter: formatter,
	}
}

func (h *Handlers) walletFor(chatID int64) (string, error) {
	w, ok := h.auth.WalletFor(chatID)
	if !ok {
		return "", errWalletNotLinked
	}
	return w, nil
}

// HandleHelp обрабатывает /help и /start
func (h *Handlers) HandleHelp(_ context.Context, _ *CommandArgs) ([]Reply, error) {
	return textReply(h.formatter.FormatHelp()), nil
}

// HandleLink обрабатывает /link <WALLET>
func (h *Handlers) HandleLink(_ context.Context, args *CommandArgs) ([]Reply, error) {
	if err := h.auth.LinkWallet(args.ChatID, args.Wallet); err != nil {
		return nil, err
	}
	return textReply(fmt.Sprintf("👛 %s: %s", h.formatter.T("wallet_linked"), shortAddress(args.Wallet))), nil
}

// HandleUnlink обрабатывает /unlink
func (h *Handlers) HandleUnlink(_ context.Context, args *CommandArgs) ([]Reply, error) {
	if !h.auth.UnlinkWallet(args.ChatID) {
		return nil, errWalletNotLinked
	}
	return textReply("👋 " + h.formatter.T("wallet_unlinked")), nil
}

// HandleStatus обрабатывает /status
func (h *Handlers) HandleStatus(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	w, err := h.walletFor(args.ChatID)
	if err != nil {
		return nil, err
	}

	view, err := h.svc.Preferences(ctx, w)
	if errors.Is(err, domain.ErrNotFound) {
		return textReply("⚙️ " + h.formatter.T("not_configured") + "\n/enable"), nil
	}
	if err != nil {
		return nil, err
	}
	return textReply(h.formatter.FormatStatus(view, h.svc.KillSwitch())), nil
}

// HandleEnable обрабатывает /enable и /disable
func (h *Handlers) HandleEnable(enabled bool) CommandHandler {
	return func(ctx context.Context, args *CommandArgs) ([]Reply, error) {
		return h.reconfigure(ctx, args.ChatID, func(raw *preferences.RawPreferences) {
			raw.EnableGlobalRebalancing = &enabled
		})
	}
}

// HandleAuto обрабатывает /auto on|off
func (h *Handlers) HandleAuto(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	action := domain.OutOfRangeAlert
	if args.Action == "on" {
		action = domain.OutOfRangeAuto
	}
	return h.reconfigure(ctx, args.ChatID, func(raw *preferences.RawPreferences) {
		raw.OutOfRangeAction = &action
	})
}

// reconfigure меняет одно поле, сохраняя остальные настройки кошелька
func (h *Handlers) reconfigure(ctx context.Context, chatID int64, mutate func(raw *preferences.RawPreferences)) ([]Reply, error) {
	w, err := h.walletFor(chatID)
	if err != nil {
		return nil, err
	}

	var raw preferences.RawPreferences
	view, err := h.svc.Preferences(ctx, w)
	switch {
	case err == nil:
		raw = rawFromPreferences(view.Preferences)
	case errors.Is(err, domain.ErrNotFound):
		// настроено из Telegram: алерты приходят сюда же
		on := true
		raw.NotifyTelegram = &on
	default:
		return nil, err
	}
	mutate(&raw)

	if _, err := h.svc.Configure(ctx, w, raw); err != nil {
		return nil, err
	}

	view, err = h.svc.Preferences(ctx, w)
	if err != nil {
		return nil, err
	}
	return textReply(h.formatter.FormatStatus(view, h.svc.KillSwitch())), nil
}

func rawFromPreferences(p *domain.UserPreferences) preferences.RawPreferences {
	enabled := p.EnableGlobalRebalancing
	maxAmount := p.MaxRebalanceAmount
	maxDaily := p.MaxDailyTransactions
	imbalance := p.RebalanceThresholds.ImbalanceRatio
	deviation := p.RebalanceThresholds.PriceDeviation
	action := p.RebalanceThresholds.OutOfRangeAction
	inApp := p.NotificationChannels.InApp
	email := p.NotificationChannels.Email
	tg := p.NotificationChannels.Telegram
	autoBelow := p.AutoExecuteBelow
	confirmAbove := p.RequireConfirmationAbove

	return preferences.RawPreferences{
		EnableGlobalRebalancing:  &enabled,
		PoolSpecificSettings:     p.PoolSpecificSettings,
		MaxRebalanceAmount:       &maxAmount,
		MaxDailyTransactions:     &maxDaily,
		ImbalanceRatio:           &imbalance,
		PriceDeviation:           &deviation,
		OutOfRangeAction:         &action,
		NotifyInApp:              &inApp,
		NotifyEmail:              &email,
		NotifyTelegram:           &tg,
		AutoExecuteBelow:         &autoBelow,
		RequireConfirmationAbove: &confirmAbove,
	}
}

// HandleCheck обрабатывает /check: внеочередной цикл мониторинга
func (h *Handlers) HandleCheck(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	w, err := h.walletFor(args.ChatID)
	if err != nil {
		return nil, err
	}

	report, err := h.svc.RunCycle(ctx, w)
	if err != nil {
		return nil, err
	}
	return textReply(h.formatter.FormatCycle(report)), nil
}

// HandleAlerts обрабатывает /alerts: по сообщению с кнопками на алерт
func (h *Handlers) HandleAlerts(_ context.Context, args *CommandArgs) ([]Reply, error) {
	w, err := h.walletFor(args.ChatID)
	if err != nil {
		return nil, err
	}

	alerts := h.svc.Alerts(w)
	if len(alerts) == 0 {
		return textReply("✨ " + h.formatter.T("no_alerts")), nil
	}

	replies := make([]Reply, 0, len(alerts)+1)
	replies = append(replies, Reply{Text: fmt.Sprintf("🔔 %s: %d", h.formatter.T("alerts"), len(alerts))})
	for _, a := range alerts {
		markup := AlertKeyboard(a, h.formatter)
		replies = append(replies, Reply{Text: h.formatter.FormatAlert(a), Markup: &markup})
	}
	return replies, nil
}

// HandlePreview обрабатывает /preview <KEY>
func (h *Handlers) HandlePreview(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	reply, err := h.review(ctx, args.ChatID, args.Key)
	if err != nil {
		return nil, err
	}
	return []Reply{reply}, nil
}

func (h *Handlers) review(ctx context.Context, chatID int64, key string) (Reply, error) {
	w, err := h.walletFor(chatID)
	if err != nil {
		return Reply{}, err
	}

	previews, err := h.svc.Preview(ctx, w, key)
	if err != nil {
		return Reply{}, err
	}
	markup := ConfirmKeyboard(key, h.formatter)
	return Reply{
		Text:   h.formatter.T("confirm_action") + "\n\n" + h.formatter.FormatPreview(previews),
		Markup: &markup,
	}, nil
}

// HandleExecute обрабатывает /execute <KEY> (one-click)
func (h *Handlers) HandleExecute(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	return h.execute(ctx, args.ChatID, args.Key, false)
}

// HandleConfirm обрабатывает /confirm <KEY>
func (h *Handlers) HandleConfirm(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	return h.execute(ctx, args.ChatID, args.Key, true)
}

func (h *Handlers) execute(ctx context.Context, chatID int64, key string, confirmed bool) ([]Reply, error) {
	w, err := h.walletFor(chatID)
	if err != nil {
		return nil, err
	}

	var report *execution.Report
	if confirmed {
		report, err = h.svc.ConfirmAndExecute(ctx, w, key)
	} else {
		report, err = h.svc.ExecuteOneClick(ctx, w, key)
	}
	if err != nil {
		return nil, err
	}
	return textReply(h.formatter.FormatReport(report)), nil
}

// HandleCancel обрабатывает /cancel <KEY>
func (h *Handlers) HandleCancel(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	w, err := h.walletFor(args.ChatID)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Cancel(ctx, w, args.Key); err != nil {
		return nil, err
	}
	return textReply("↩️ " + h.formatter.T("cancelled")), nil
}

// HandleSnooze обрабатывает /snooze <KEY> [DURATION]
func (h *Handlers) HandleSnooze(_ context.Context, args *CommandArgs) ([]Reply, error) {
	w, err := h.walletFor(args.ChatID)
	if err != nil {
		return nil, err
	}
	until, err := h.svc.Snooze(w, args.Key, args.Duration)
	if err != nil {
		return nil, err
	}
	return textReply(fmt.Sprintf("⏰ %s %s", h.formatter.T("snoozed_until"), until.Format("15:04"))), nil
}

// HandleDismiss обрабатывает /dismiss <KEY>
func (h *Handlers) HandleDismiss(_ context.Context, args *CommandArgs) ([]Reply, error) {
	w, err := h.walletFor(args.ChatID)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Dismiss(w, args.Key); err != nil {
		return nil, err
	}
	return textReply("🙈 " + h.formatter.T("dismissed")), nil
}

// HandleEnablePool обрабатывает /enable_pool <POOL_ID>
func (h *Handlers) HandleEnablePool(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	w, err := h.walletFor(args.ChatID)
	if err != nil {
		return nil, err
	}
	if err := h.svc.EnablePool(ctx, w, args.PoolID); err != nil {
		return nil, err
	}
	return textReply(fmt.Sprintf("✅ %s: %s", h.formatter.T("pool_enabled"), args.PoolID)), nil
}

// HandleHistory обрабатывает /history [N]
func (h *Handlers) HandleHistory(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	w, err := h.walletFor(args.ChatID)
	if err != nil {
		return nil, err
	}
	results, err := h.svc.History(ctx, w, args.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return textReply(h.formatter.FormatHistory(results)), nil
}

// HandleKillSwitch обрабатывает /killswitch [on <reason>|off]
func (h *Handlers) HandleKillSwitch(ctx context.Context, args *CommandArgs) ([]Reply, error) {
	var status execution.KillSwitchStatus
	switch args.Action {
	case "on":
		status = h.svc.ActivateKillSwitch(ctx, args.Reason)
	case "off":
		status = h.svc.DeactivateKillSwitch(ctx)
	default:
		status = h.svc.KillSwitch()
	}
	return textReply(h.formatter.FormatKillSwitch(status)), nil
}

// HandleCallback обрабатывает нажатие inline кнопки
func (h *Handlers) HandleCallback(ctx context.Context, chatID int64, data string) (Reply, error) {
	op, key, err := ParseCallback(data)
	if err != nil {
		return Reply{}, err
	}

	var replies []Reply
	switch op {
	case CallbackExecute:
		replies, err = h.execute(ctx, chatID, key, false)
	case CallbackReview:
		return h.review(ctx, chatID, key)
	case CallbackConfirmYes:
		replies, err = h.execute(ctx, chatID, key, true)
	case CallbackConfirmNo:
		replies, err = h.HandleCancel(ctx, &CommandArgs{ChatID: chatID, Key: key})
	case CallbackSnooze:
		replies, err = h.HandleSnooze(ctx, &CommandArgs{ChatID: chatID, Key: key})
	case CallbackDismiss:
		replies, err = h.HandleDismiss(ctx, &CommandArgs{ChatID: chatID, Key: key})
	}
	if err != nil {
		return Reply{}, err
	}
	if len(replies) == 0 {
		return Reply{}, nil
	}
	return replies[0], nil
}

// AlertKeyboard кнопки под алертом
func AlertKeyboard(alert queue.Alert, f *Formatter) tgbotapi.InlineKeyboardMarkup {
	primary := tgbotapi.NewInlineKeyboardButtonData("🔍 "+f.T("review"), CallbackData(CallbackReview, alert.Key))
	if alert.Type == queue.AlertAutoExecutable {
		primary = tgbotapi.NewInlineKeyboardButtonData("⚡ "+f.T("execute"), CallbackData(CallbackExecute, alert.Key))
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(primary),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏰ "+f.T("snooze"), CallbackData(CallbackSnooze, alert.Key)),
			tgbotapi.NewInlineKeyboardButtonData("🙈 "+f.T("dismiss"), CallbackData(CallbackDismiss, alert.Key)),
		),
	)
}

// ConfirmKeyboard создает клавиатуру подтверждения
func ConfirmKeyboard(key string, f *Formatter) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ "+f.T("confirm"), CallbackData(CallbackConfirmYes, key)),
			tgbotapi.NewInlineKeyboardButtonData("❌ "+f.T("cancel"), CallbackData(CallbackConfirmNo, key)),
		),
	)
}
