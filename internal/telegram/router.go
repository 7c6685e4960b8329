package telegram

import (
	"context"
	"fmt"
)

// CommandHandler представляет обработчик команды
type CommandHandler func(ctx context.Context, args *CommandArgs) ([]Reply, error)

// Router маршрутизирует команды к обработчикам
type Router struct {
	handlers      map[string]CommandHandler
	callbacks     *Handlers
	authManager   *AuthManager
	formatter     *Formatter
	adminCommands map[string]bool
}

// NewRouter создает новый роутер
func NewRouter(authManager *AuthManager, formatter *Formatter) *Router {
	return &Router{
		handlers:      make(map[string]CommandHandler),
		authManager:   authManager,
		formatter:     formatter,
		adminCommands: make(map[string]bool),
	}
}

// RegisterHandler регистрирует обработчик команды
func (r *Router) RegisterHandler(command CommandType, handler CommandHandler) {
	r.handlers[string(command)] = handler
}

// RegisterAdminHandler регистрирует обработчик с требованием админских прав
func (r *Router) RegisterAdminHandler(command CommandType, handler CommandHandler) {
	r.adminCommands[string(command)] = true
	r.handlers[string(command)] = handler
}

// RegisterHandlers регистрирует все команды бота
func RegisterHandlers(r *Router, h *Handlers) {
	r.callbacks = h

	r.RegisterHandler(CmdStart, h.HandleHelp)
	r.RegisterHandler(CmdHelp, h.HandleHelp)
	r.RegisterHandler(CmdLink, h.HandleLink)
	r.RegisterHandler(CmdUnlink, h.HandleUnlink)
	r.RegisterHandler(CmdStatus, h.HandleStatus)
	r.RegisterHandler(CmdEnable, h.HandleEnable(true))
	r.RegisterHandler(CmdDisable, h.HandleEnable(false))
	r.RegisterHandler(CmdAuto, h.HandleAuto)
	r.RegisterHandler(CmdCheck, h.HandleCheck)

	r.RegisterHandler(CmdAlerts, h.HandleAlerts)
	r.RegisterHandler(CmdPreview, h.HandlePreview)
	r.RegisterHandler(CmdExecute, h.HandleExecute)
	r.RegisterHandler(CmdConfirm, h.HandleConfirm)
	r.RegisterHandler(CmdCancel, h.HandleCancel)
	r.RegisterHandler(CmdSnooze, h.HandleSnooze)
	r.RegisterHandler(CmdDismiss, h.HandleDismiss)
	r.RegisterHandler(CmdEnablePool, h.HandleEnablePool)
	r.RegisterHandler(CmdHistory, h.HandleHistory)

	r.RegisterAdminHandler(CmdKillSwitch, h.HandleKillSwitch)
}

// HandleCommand обрабатывает команду. Ошибки превращаются в текст ответа.
func (r *Router) HandleCommand(ctx context.Context, chatID, userID int64, text string) ([]Reply, error) {
	if err := r.authManager.CheckRateLimit(userID); err != nil {
		return []Reply{{Text: "⏳ " + r.formatter.T("rate_limit_exceeded")}}, nil
	}

	if !r.authManager.IsAllowed(userID) {
		return []Reply{{Text: "⛔ " + r.formatter.T("access_denied")}}, nil
	}

	args, err := ParseCommand(text)
	if err != nil {
		return []Reply{{Text: r.formatter.FormatError(err)}}, nil
	}
	args.ChatID = chatID
	args.UserID = userID

	if r.adminCommands[args.Command] {
		if err := r.authManager.RequireAdmin(userID); err != nil {
			return []Reply{{Text: "⛔ " + r.formatter.T("admin_required")}}, nil
		}
	}

	handler, exists := r.handlers[args.Command]
	if !exists {
		return []Reply{{Text: fmt.Sprintf("%s: %s", r.formatter.T("error"), "unknown command")}}, nil
	}

	replies, err := handler(ctx, args)
	if err != nil {
		return []Reply{{Text: r.formatter.FormatError(err)}}, err
	}
	return replies, nil
}

// HandleCallback обрабатывает callback от inline кнопок
func (r *Router) HandleCallback(ctx context.Context, chatID, userID int64, data string) (Reply, error) {
	if err := r.authManager.CheckRateLimit(userID); err != nil {
		return Reply{Text: "⏳ " + r.formatter.T("rate_limit_exceeded")}, nil
	}
	if !r.authManager.IsAllowed(userID) {
		return Reply{Text: "⛔ " + r.formatter.T("access_denied")}, nil
	}
	if r.callbacks == nil {
		return Reply{}, fmt.Errorf("callbacks are not registered")
	}

	reply, err := r.callbacks.HandleCallback(ctx, chatID, data)
	if err != nil {
		return Reply{Text: r.formatter.FormatError(err)}, err
	}
	return reply, nil
}

// IsAdminCommand проверяет, является ли команда админской
func (r *Router) IsAdminCommand(command string) bool {
	return r.adminCommands[command]
}
