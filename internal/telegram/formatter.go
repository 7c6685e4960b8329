package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/execution"
	"github.com/kirillm/defairy-rebalancer/internal/orchestrator"
	"github.com/kirillm/defairy-rebalancer/internal/queue"
)

// Lang представляет язык
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// ParseLang "ru" или английский по умолчанию
func ParseLang(s string) Lang {
	if strings.EqualFold(strings.TrimSpace(s), string(LangRU)) {
		return LangRU
	}
	return LangEN
}

// Formatter форматирует ответы для пользователя
type Formatter struct {
	lang Lang
}

// NewFormatter создает новый форматтер
func NewFormatter(lang Lang) *Formatter {
	if lang != LangRU && lang != LangEN {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

// SetLang устанавливает язык
func (f *Formatter) SetLang(lang Lang) {
	f.lang = lang
}

// GetLang возвращает текущий язык
func (f *Formatter) GetLang() Lang {
	return f.lang
}

var translations = map[string]map[Lang]string{
	"status":                {LangEN: "Status", LangRU: "Статус"},
	"alerts":                {LangEN: "Rebalance alerts", LangRU: "Алерты ребалансировки"},
	"no_alerts":             {LangEN: "No pending rebalances", LangRU: "Нет ожидающих ребалансировок"},
	"history":               {LangEN: "Rebalance history", LangRU: "История ребалансировок"},
	"no_history":            {LangEN: "No rebalances yet", LangRU: "Ребалансировок пока нет"},
	"preview":               {LangEN: "Transaction preview", LangRU: "Предпросмотр транзакции"},
	"enabled":               {LangEN: "Enabled", LangRU: "Включено"},
	"disabled":              {LangEN: "Disabled", LangRU: "Выключено"},
	"active":                {LangEN: "Active", LangRU: "Активно"},
	"inactive":              {LangEN: "Inactive", LangRU: "Неактивно"},
	"error":                 {LangEN: "Error", LangRU: "Ошибка"},
	"executing":             {LangEN: "Executing", LangRU: "Выполняется"},
	"urgency":               {LangEN: "Urgency", LangRU: "Срочность"},
	"estimated_value":       {LangEN: "Estimated value", LangRU: "Оценка"},
	"reasons":               {LangEN: "Reasons", LangRU: "Причины"},
	"one_click":             {LangEN: "One-click", LangRU: "В один клик"},
	"needs_confirmation":    {LangEN: "Confirmation required", LangRU: "Требуется подтверждение"},
	"security_rejected":     {LangEN: "Blocked by security limits", LangRU: "Заблокировано лимитами безопасности"},
	"high_value":            {LangEN: "High value, review the plan before confirming", LangRU: "Крупная сумма, проверьте план перед подтверждением"},
	"execute":               {LangEN: "Execute", LangRU: "Исполнить"},
	"review":                {LangEN: "Review", LangRU: "Просмотреть"},
	"snooze":                {LangEN: "Snooze", LangRU: "Отложить"},
	"dismiss":               {LangEN: "Dismiss", LangRU: "Скрыть"},
	"confirm":               {LangEN: "Confirm", LangRU: "Подтвердить"},
	"cancel":                {LangEN: "Cancel", LangRU: "Отмена"},
	"cancelled":             {LangEN: "Rebalance cancelled", LangRU: "Ребалансировка отменена"},
	"dismissed":             {LangEN: "Alert dismissed", LangRU: "Алерт скрыт"},
	"snoozed_until":         {LangEN: "Snoozed until", LangRU: "Отложено до"},
	"confirm_action":        {LangEN: "Please confirm this rebalance:", LangRU: "Пожалуйста, подтвердите ребалансировку:"},
	"access_denied":         {LangEN: "Access denied", LangRU: "Доступ запрещен"},
	"admin_required":        {LangEN: "Admin permission required", LangRU: "Требуются права администратора"},
	"rate_limit_exceeded":   {LangEN: "Too many requests, please wait", LangRU: "Слишком много запросов, подождите"},
	"wallet_not_linked":     {LangEN: "No wallet linked. Use /link <WALLET>", LangRU: "Кошелек не привязан. Используйте /link <WALLET>"},
	"wallet_linked":         {LangEN: "Wallet linked", LangRU: "Кошелек привязан"},
	"wallet_unlinked":       {LangEN: "Wallet unlinked", LangRU: "Кошелек отвязан"},
	"not_configured":        {LangEN: "Rebalancing is not configured for this wallet", LangRU: "Ребалансировка для кошелька не настроена"},
	"monitoring":            {LangEN: "Monitoring", LangRU: "Мониторинг"},
	"max_amount":            {LangEN: "Max per rebalance", LangRU: "Макс. за ребалансировку"},
	"daily":                 {LangEN: "Today", LangRU: "Сегодня"},
	"weekly":                {LangEN: "This week", LangRU: "За неделю"},
	"auto_below":            {LangEN: "One-click below", LangRU: "В один клик до"},
	"out_of_range":          {LangEN: "Out of range", LangRU: "Вне диапазона"},
	"disabled_pools":        {LangEN: "Disabled pools", LangRU: "Отключенные пулы"},
	"kill_switch":           {LangEN: "Kill switch", LangRU: "Аварийная остановка"},
	"positions":             {LangEN: "Positions", LangRU: "Позиции"},
	"queued":                {LangEN: "Queued", LangRU: "В очереди"},
	"rejected":              {LangEN: "Blocked", LangRU: "Заблокировано"},
	"executed":              {LangEN: "Executed", LangRU: "Исполнено"},
	"malformed":             {LangEN: "Malformed", LangRU: "Битые записи"},
	"skipped":               {LangEN: "Skipped", LangRU: "Пропущено"},
	"pool_enabled":          {LangEN: "Pool re-enabled", LangRU: "Пул снова включен"},
	"not_auto_executable":   {LangEN: "This rebalance needs confirmation, use /confirm", LangRU: "Нужно явное подтверждение, используйте /confirm"},
	"wallet_not_connected":  {LangEN: "Connect your wallet to sign the rebalance", LangRU: "Подключите кошелек, чтобы подписать ребалансировку"},
	"kill_switch_is_active": {LangEN: "Execution is halted by the kill switch", LangRU: "Исполнение остановлено аварийным выключателем"},
}

// T переводит строку
func (f *Formatter) T(key string) string {
	if trans, ok := translations[key]; ok {
		if val, ok := trans[f.lang]; ok {
			return val
		}
	}
	return key
}

func urgencyEmoji(u domain.Urgency) string {
	switch u {
	case domain.UrgencyHigh:
		return "🔴"
	case domain.UrgencyMedium:
		return "🟠"
	default:
		return "🟡"
	}
}

// FormatAlert один алерт очереди
func (f *Formatter) FormatAlert(alert queue.Alert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s %s (%s)\n", urgencyEmoji(alert.Urgency), alert.Location.PoolID, alert.Location.Venue))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("urgency"), alert.Urgency))
	sb.WriteString(fmt.Sprintf("%s: ~$%.2f\n", f.T("estimated_value"), alert.EstimatedValue))

	if len(alert.Reasons) > 0 {
		sb.WriteString(f.T("reasons") + ":\n")
		for _, r := range alert.Reasons {
			sb.WriteString("  • " + r + "\n")
		}
	}

	if alert.Type == queue.AlertAutoExecutable {
		sb.WriteString("⚡ " + f.T("one_click"))
	} else {
		sb.WriteString("✍️ " + f.T("needs_confirmation"))
	}
	if alert.HighValue {
		sb.WriteString("\n⚠️ " + f.T("high_value"))
	}
	sb.WriteString(fmt.Sprintf("\n🔑 %s", alert.Key))
	return sb.String()
}

// FormatPreview планы транзакций перед подписью
func (f *Formatter) FormatPreview(previews []execution.Preview) string {
	var sb strings.Builder

	sb.WriteString("🔍 ")
	sb.WriteString(f.T("preview"))
	sb.WriteString("\n")

	for i, p := range previews {
		sb.WriteString(fmt.Sprintf("\n%d. %s ~$%.2f\n", i+1, p.Action.Type, p.EstimatedValue))
		if p.PlanError != "" {
			sb.WriteString(fmt.Sprintf("   ❌ %s\n", p.PlanError))
			continue
		}
		if p.Plan == nil {
			continue
		}
		for _, step := range p.Plan.Steps {
			sb.WriteString(fmt.Sprintf("   • %s\n", step.Instruction))
		}
	}
	return sb.String()
}

// FormatReport итог исполнения
func (f *Formatter) FormatReport(report *execution.Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("📋 %s\n", report.EntryKey))
	for _, o := range report.Outcomes {
		switch o.State {
		case execution.StateSuccess:
			sig := ""
			if o.Result != nil {
				sig = shortSignature(o.Result.Signature)
			}
			sb.WriteString(fmt.Sprintf("✅ %s %s\n", o.Action.Type, sig))
		case execution.StateFailure:
			sb.WriteString(fmt.Sprintf("❌ %s: %s\n", o.Action.Type, o.Error))
		case execution.StateUserCancelled:
			sb.WriteString(fmt.Sprintf("↩️ %s: %s\n", o.Action.Type, f.T("cancelled")))
		default:
			sb.WriteString(fmt.Sprintf("⏸ %s: %s\n", o.Action.Type, o.State))
		}
	}
	sb.WriteString(fmt.Sprintf("\n%s: %d/%d", f.T("executed"), report.Succeeded(), len(report.Outcomes)))
	return sb.String()
}

// FormatCycle итог ручной проверки
func (f *Formatter) FormatCycle(report *orchestrator.CycleReport) string {
	if report.Skipped != "" {
		if report.Skipped == "not_configured" {
			return "⚙️ " + f.T("not_configured")
		}
		return fmt.Sprintf("💤 %s: %s", f.T("skipped"), f.T(report.Skipped))
	}

	var sb strings.Builder
	sb.WriteString("🔎 ")
	sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("positions"), report.Positions))
	sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("queued"), len(report.Queued)))
	sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("rejected"), len(report.Rejected)))
	if len(report.Executed) > 0 {
		sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("executed"), len(report.Executed)))
	}
	if report.Malformed > 0 {
		sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("malformed"), report.Malformed))
	}
	for _, r := range report.Rejected {
		sb.WriteString(fmt.Sprintf("🚫 %s: %s\n", r.Key, r.Message))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatStatus настройки и состояние кошелька
func (f *Formatter) FormatStatus(view *orchestrator.PreferencesView, ks execution.KillSwitchStatus) string {
	var sb strings.Builder
	prefs := view.Preferences

	sb.WriteString("📊 ")
	sb.WriteString(f.T("status"))
	sb.WriteString(fmt.Sprintf("\n👛 %s\n\n", shortAddress(prefs.WalletAddress)))

	state := f.T("disabled")
	if prefs.EnableGlobalRebalancing {
		state = f.T("enabled")
	}
	monitoring := f.T("inactive")
	if view.Monitoring {
		monitoring = f.T("active")
	}
	sb.WriteString(fmt.Sprintf("Auto-rebalance: %s\n", state))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("monitoring"), monitoring))
	sb.WriteString(fmt.Sprintf("%s: $%.2f\n", f.T("max_amount"), prefs.MaxRebalanceAmount))
	sb.WriteString(fmt.Sprintf("%s: %d/%d tx\n", f.T("daily"), prefs.DailyTransactionCount, prefs.MaxDailyTransactions))
	sb.WriteString(fmt.Sprintf("%s: $%.2f/$%.2f\n", f.T("weekly"), prefs.WeeklyTransactionAmount, view.Limits.MaxWeeklyAmount))
	sb.WriteString(fmt.Sprintf("%s: $%.2f\n", f.T("auto_below"), prefs.AutoExecuteBelow))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("out_of_range"), prefs.RebalanceThresholds.OutOfRangeAction))

	var disabled []string
	for poolID, s := range prefs.PoolSpecificSettings {
		if !s.Enabled {
			disabled = append(disabled, poolID)
		}
	}
	if len(disabled) > 0 {
		sb.WriteString(fmt.Sprintf("⛔ %s: %s\n", f.T("disabled_pools"), strings.Join(disabled, ", ")))
	}

	if ks.Active {
		sb.WriteString(fmt.Sprintf("\n🚨 %s: %s", f.T("kill_switch"), ks.Reason))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatHistory последние подписанные ребалансировки
func (f *Formatter) FormatHistory(results []domain.RebalanceResult) string {
	var sb strings.Builder

	sb.WriteString("📜 ")
	sb.WriteString(f.T("history"))
	sb.WriteString("\n\n")

	if len(results) == 0 {
		sb.WriteString(f.T("no_history"))
		return sb.String()
	}

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. %s (%s) %s\n", i+1, r.Pool, r.Venue, r.Action.Type))
		sb.WriteString(fmt.Sprintf("   ~$%.2f  %s\n", r.EstimatedValue, shortSignature(r.Signature)))
		sb.WriteString(fmt.Sprintf("   %s\n", r.Timestamp.Format("2006-01-02 15:04")))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatKillSwitch состояние аварийной остановки
func (f *Formatter) FormatKillSwitch(ks execution.KillSwitchStatus) string {
	if !ks.Active {
		return fmt.Sprintf("🟢 %s: %s", f.T("kill_switch"), f.T("inactive"))
	}
	return fmt.Sprintf("🚨 %s: %s\n%s (%s ago)", f.T("kill_switch"), f.T("active"),
		ks.Reason, FormatDuration(time.Since(ks.ActivatedAt)))
}

// FormatHelp список команд
func (f *Formatter) FormatHelp() string {
	if f.lang == LangRU {
		return `🧚 DeFairy Rebalancer

👛 КОШЕЛЕК
/link <WALLET> - Привязать кошелек
/unlink - Отвязать
/status - Настройки и лимиты
/enable, /disable - Включить/выключить авто-ребалансировку
/auto on|off - Авто-исполнение позиций вне диапазона
/check - Проверить позиции сейчас

🔔 ОЧЕРЕДЬ
/alerts - Ожидающие ребалансировки
/preview <KEY> - Предпросмотр транзакций
/execute <KEY> - Исполнить в один клик
/confirm <KEY> - Исполнить с подтверждением
/cancel <KEY> - Отменить
/snooze <KEY> [30m] - Отложить
/dismiss <KEY> - Скрыть
/enable_pool <POOL> - Включить пул после сбоев
/history [N] - История

🛑 /killswitch [on <причина>|off] - Аварийная остановка (админ)`
	}
	return `🧚 DeFairy Rebalancer

👛 WALLET
/link <WALLET> - Link a wallet to this chat
/unlink - Unlink
/status - Preferences and limits
/enable, /disable - Toggle auto-rebalancing
/auto on|off - Auto-execute out-of-range positions
/check - Check positions now

🔔 QUEUE
/alerts - Pending rebalances
/preview <KEY> - Transaction preview
/execute <KEY> - One-click execute
/confirm <KEY> - Execute with confirmation
/cancel <KEY> - Cancel
/snooze <KEY> [30m] - Snooze
/dismiss <KEY> - Dismiss
/enable_pool <POOL> - Re-enable a pool after failures
/history [N] - History

🛑 /killswitch [on <reason>|off] - Emergency stop (admin)`
}

// FormatError форматирует сообщение об ошибке. Ожидаемые доменные ошибки
// показываются как подсказка, а не как сбой.
func (f *Formatter) FormatError(err error) string {
	var rejected *execution.RejectedError
	if errors.As(err, &rejected) {
		return fmt.Sprintf("🚫 %s: %s", f.T("security_rejected"), rejected.Message)
	}

	switch {
	case errors.Is(err, domain.ErrNotAutoExecutable):
		return "✍️ " + f.T("not_auto_executable")
	case errors.Is(err, domain.ErrWalletNotConnected):
		return "🔌 " + f.T("wallet_not_connected")
	case errors.Is(err, domain.ErrKillSwitchActive):
		return "🚨 " + f.T("kill_switch_is_active")
	case errors.Is(err, errWalletNotLinked):
		return "👛 " + f.T("wallet_not_linked")
	}
	return fmt.Sprintf("❌ %s: %v", f.T("error"), err)
}

// FormatExecuting форматирует сообщение о выполнении
func (f *Formatter) FormatExecuting(action string) string {
	return fmt.Sprintf("🔄 %s %s...", f.T("executing"), action)
}

// FormatDuration форматирует длительность
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func shortAddress(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:4] + "…" + s[len(s)-4:]
}

func shortSignature(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + "…" + s[len(s)-8:]
}
