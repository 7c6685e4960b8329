package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CommandArgs представляет распарсенные аргументы команды
type CommandArgs struct {
	Command  string
	Wallet   string
	Key      string // ключ записи очереди poolId_venue
	PoolID   string
	Duration time.Duration
	Count    int
	Action   string // on/off/status
	Reason   string
	Raw      []string

	// Заполняются роутером
	ChatID int64
	UserID int64
}

// CommandType представляет тип команды
type CommandType string

const (
	// Info commands
	CmdStart   CommandType = "start"
	CmdHelp    CommandType = "help"
	CmdStatus  CommandType = "status"
	CmdAlerts  CommandType = "alerts"
	CmdHistory CommandType = "history"

	// Wallet commands
	CmdLink    CommandType = "link"
	CmdUnlink  CommandType = "unlink"
	CmdEnable  CommandType = "enable"
	CmdDisable CommandType = "disable"
	CmdAuto    CommandType = "auto"
	CmdCheck   CommandType = "check"

	// Queue commands
	CmdPreview CommandType = "preview"
	CmdExecute CommandType = "execute"
	CmdConfirm CommandType = "confirm"
	CmdCancel  CommandType = "cancel"
	CmdSnooze  CommandType = "snooze"
	CmdDismiss CommandType = "dismiss"

	CmdEnablePool CommandType = "enable_pool"

	// Admin commands
	CmdKillSwitch CommandType = "killswitch"
)

// ParseCommand парсит команду и аргументы
func ParseCommand(text string) (*CommandArgs, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil, fmt.Errorf("not a command")
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	// /alerts@DeFairyBot -> alerts
	cmd := strings.TrimPrefix(parts[0], "/")
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	cmd = normalizeCommand(cmd)

	args := &CommandArgs{
		Command: cmd,
		Raw:     parts[1:],
	}

	switch CommandType(cmd) {
	case CmdStart, CmdHelp, CmdStatus, CmdAlerts, CmdUnlink, CmdEnable, CmdDisable, CmdCheck:
		// Команды без параметров
		return args, nil

	case CmdHistory:
		// /history [N]
		args.Count = 10
		if len(parts) >= 2 {
			args.Count = parseInt(parts[1], 10)
			if args.Count <= 0 || args.Count > 50 {
				return nil, fmt.Errorf("count must be between 1 and 50")
			}
		}
		return args, nil

	case CmdLink:
		// /link <WALLET>
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /link <WALLET_ADDRESS>")
		}
		args.Wallet = parts[1]
		return args, nil

	case CmdAuto:
		// /auto on|off
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /auto on|off")
		}
		args.Action = normalizeAction(parts[1])
		if args.Action != "on" && args.Action != "off" {
			return nil, fmt.Errorf("usage: /auto on|off")
		}
		return args, nil

	case CmdPreview, CmdExecute, CmdConfirm, CmdCancel, CmdDismiss:
		// /execute <KEY>
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /%s <POOL_KEY>", cmd)
		}
		args.Key = parts[1]
		return args, nil

	case CmdSnooze:
		// /snooze <KEY> [DURATION]
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /snooze <POOL_KEY> [DURATION]")
		}
		args.Key = parts[1]
		if len(parts) >= 3 {
			d, err := parseDuration(parts[2])
			if err != nil {
				return nil, err
			}
			args.Duration = d
		}
		return args, nil

	case CmdEnablePool:
		// /enable_pool <POOL_ID>
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /enable_pool <POOL_ID>")
		}
		args.PoolID = parts[1]
		return args, nil

	case CmdKillSwitch:
		// /killswitch [on <reason>|off]
		args.Action = "status"
		if len(parts) >= 2 {
			args.Action = normalizeAction(parts[1])
			if args.Action != "on" && args.Action != "off" {
				return nil, fmt.Errorf("usage: /killswitch [on <reason>|off]")
			}
			if args.Action == "on" {
				args.Reason = strings.Join(parts[2:], " ")
				if args.Reason == "" {
					args.Reason = "manual"
				}
			}
		}
		return args, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", cmd)
	}
}

// CallbackOp действие inline кнопки
type CallbackOp string

const (
	CallbackExecute    CallbackOp = "x" // one-click
	CallbackReview     CallbackOp = "c" // показать preview с подтверждением
	CallbackConfirmYes CallbackOp = "y"
	CallbackConfirmNo  CallbackOp = "n"
	CallbackSnooze     CallbackOp = "s"
	CallbackDismiss    CallbackOp = "d"
)

// maxCallbackData лимит Telegram на callback_data
const maxCallbackData = 64

// CallbackData кодирует кнопку как "<op>:<key>"
func CallbackData(op CallbackOp, key string) string {
	data := string(op) + ":" + key
	if len(data) > maxCallbackData {
		data = data[:maxCallbackData]
	}
	return data
}

// ParseCallback разбирает callback_data
func ParseCallback(data string) (CallbackOp, string, error) {
	op, key, ok := strings.Cut(data, ":")
	if !ok || key == "" {
		return "", "", fmt.Errorf("malformed callback: %q", data)
	}

	switch CallbackOp(op) {
	case CallbackExecute, CallbackReview, CallbackConfirmYes, CallbackConfirmNo, CallbackSnooze, CallbackDismiss:
		return CallbackOp(op), key, nil
	default:
		return "", "", fmt.Errorf("unknown callback op: %q", op)
	}
}

// normalizeCommand нормализует команду (поддержка русского языка)
func normalizeCommand(cmd string) string {
	cmd = strings.ToLower(strings.TrimSpace(cmd))

	ruToEn := map[string]string{
		"статус":      "status",
		"алерты":      "alerts",
		"история":     "history",
		"помощь":      "help",
		"привязать":   "link",
		"отвязать":    "unlink",
		"включить":    "enable",
		"выключить":   "disable",
		"проверить":   "check",
		"исполнить":   "execute",
		"подтвердить": "confirm",
		"отмена":      "cancel",
		"отложить":    "snooze",
		"скрыть":      "dismiss",
		"стоп":        "killswitch",
	}

	if enCmd, ok := ruToEn[cmd]; ok {
		return enCmd
	}
	if cmd == "enablepool" {
		return string(CmdEnablePool)
	}
	return cmd
}

// normalizeAction нормализует действие (on/off)
func normalizeAction(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))

	actionMap := map[string]string{
		"вкл":       "on",
		"включить":  "on",
		"да":        "on",
		"yes":       "on",
		"выкл":      "off",
		"выключить": "off",
		"нет":       "off",
		"no":        "off",
	}

	if normalized, ok := actionMap[action]; ok {
		return normalized
	}
	return action
}

// parseDuration "45m", "2h" или просто минуты "45"
func parseDuration(s string) (time.Duration, error) {
	if minutes, err := strconv.Atoi(s); err == nil {
		if minutes <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return time.Duration(minutes) * time.Minute, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	if d > 24*time.Hour {
		return 0, fmt.Errorf("snooze is limited to 24h")
	}
	return d, nil
}

// parseInt безопасно парсит int
func parseInt(s string, defaultVal int) int {
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return val
}
