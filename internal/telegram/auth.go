package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/wallet"
	"golang.org/x/time/rate"
)

// AuthManager права доступа, rate limiting и привязка чатов к кошелькам
type AuthManager struct {
	adminIDs        map[int64]bool
	whitelist       map[int64]bool
	enableWhitelist bool

	limit        rate.Limit
	burst        int
	rateLimiters map[int64]*userLimiter

	// chatID -> wallet, один кошелек на чат
	links map[int64]string

	mu sync.RWMutex
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAuthManager создает новый менеджер авторизации.
// perSecond и burst задают лимит запросов одного пользователя.
func NewAuthManager(adminIDsStr, whitelistStr string, perSecond float64, burst int) *AuthManager {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 3
	}

	am := &AuthManager{
		adminIDs:     parseIDs(adminIDsStr),
		whitelist:    parseIDs(whitelistStr),
		limit:        rate.Limit(perSecond),
		burst:        burst,
		rateLimiters: make(map[int64]*userLimiter),
		links:        make(map[int64]string),
	}
	am.enableWhitelist = strings.TrimSpace(whitelistStr) != ""
	return am
}

func parseIDs(s string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			ids[id] = true
		}
	}
	return ids
}

// IsAdmin проверяет, является ли пользователь администратором
func (am *AuthManager) IsAdmin(userID int64) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()

	// Если список админов пуст, разрешаем всем
	if len(am.adminIDs) == 0 {
		return true
	}
	return am.adminIDs[userID]
}

// IsAllowed проверяет, разрешен ли доступ пользователю
func (am *AuthManager) IsAllowed(userID int64) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if !am.enableWhitelist {
		return true
	}
	if am.adminIDs[userID] {
		return true
	}
	return am.whitelist[userID]
}

// CheckRateLimit token bucket на пользователя
func (am *AuthManager) CheckRateLimit(userID int64) error {
	am.mu.Lock()
	ul, ok := am.rateLimiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(am.limit, am.burst)}
		am.rateLimiters[userID] = ul
	}
	ul.lastSeen = time.Now()
	am.mu.Unlock()

	if !ul.limiter.Allow() {
		return fmt.Errorf("rate limit exceeded, please wait")
	}
	return nil
}

// RequireAdmin возвращает ошибку, если пользователь не администратор
func (am *AuthManager) RequireAdmin(userID int64) error {
	if !am.IsAdmin(userID) {
		return fmt.Errorf("access denied: admin permission required")
	}
	return nil
}

// GetAdminIDs возвращает список ID администраторов
func (am *AuthManager) GetAdminIDs() []int64 {
	am.mu.RLock()
	defer am.mu.RUnlock()

	ids := make([]int64, 0, len(am.adminIDs))
	for id := range am.adminIDs {
		ids = append(ids, id)
	}
	return ids
}

// LinkWallet привязывает чат к кошельку
func (am *AuthManager) LinkWallet(chatID int64, walletAddress string) error {
	if err := wallet.ValidateAddress(walletAddress); err != nil {
		return err
	}

	am.mu.Lock()
	defer am.mu.Unlock()
	am.links[chatID] = walletAddress
	return nil
}

// UnlinkWallet снимает привязку, false если ее не было
func (am *AuthManager) UnlinkWallet(chatID int64) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	if _, ok := am.links[chatID]; !ok {
		return false
	}
	delete(am.links, chatID)
	return true
}

// WalletFor кошелек чата
func (am *AuthManager) WalletFor(chatID int64) (string, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	w, ok := am.links[chatID]
	return w, ok
}

// ChatsFor чаты, подписанные на кошелек
func (am *AuthManager) ChatsFor(walletAddress string) []int64 {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var chats []int64
	for chatID, w := range am.links {
		if w == walletAddress {
			chats = append(chats, chatID)
		}
	}
	return chats
}

// CleanupRateLimiters очищает старые rate limiters (вызывать периодически)
func (am *AuthManager) CleanupRateLimiters(idle time.Duration) int {
	am.mu.Lock()
	defer am.mu.Unlock()

	removed := 0
	now := time.Now()
	for userID, ul := range am.rateLimiters {
		if now.Sub(ul.lastSeen) > idle {
			delete(am.rateLimiters, userID)
			removed++
		}
	}
	return removed
}
