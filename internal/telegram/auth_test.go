package telegram

import (
	"testing"
	"time"
)

const linkedWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func TestNewAuthManager(t *testing.T) {
	tests := []struct {
		name          string
		adminIDs      string
		whitelist     string
		wantAdmins    int
		wantWhitelist int
	}{
		{"empty", "", "", 0, 0},
		{"single admin", "123", "", 1, 0},
		{"multiple admins", "123,456,789", "", 3, 0},
		{"with whitelist", "123", "456,789", 1, 2},
		{"with spaces", "123, 456, 789", "", 3, 0},
		{"garbage skipped", "123,abc", "", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			am := NewAuthManager(tt.adminIDs, tt.whitelist, 0, 0)
			if len(am.adminIDs) != tt.wantAdmins {
				t.Errorf("NewAuthManager() admins = %v, want %v", len(am.adminIDs), tt.wantAdmins)
			}
			if len(am.whitelist) != tt.wantWhitelist {
				t.Errorf("NewAuthManager() whitelist = %v, want %v", len(am.whitelist), tt.wantWhitelist)
			}
		})
	}
}

func TestAuthManager_IsAdmin(t *testing.T) {
	am := NewAuthManager("123,456", "", 0, 0)

	tests := []struct {
		name   string
		userID int64
		want   bool
	}{
		{"admin 1", 123, true},
		{"admin 2", 456, true},
		{"not admin", 789, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := am.IsAdmin(tt.userID); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthManager_IsAdmin_EmptyList(t *testing.T) {
	// Если список админов пуст, все должны быть админами
	am := NewAuthManager("", "", 0, 0)

	if !am.IsAdmin(123) {
		t.Error("IsAdmin() should return true when admin list is empty")
	}
}

func TestAuthManager_IsAllowed(t *testing.T) {
	am := NewAuthManager("123", "456,789", 0, 0)

	tests := []struct {
		name   string
		userID int64
		want   bool
	}{
		{"admin (always allowed)", 123, true},
		{"whitelisted", 456, true},
		{"whitelisted 2", 789, true},
		{"not allowed", 999, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := am.IsAllowed(tt.userID); got != tt.want {
				t.Errorf("IsAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthManager_IsAllowed_NoWhitelist(t *testing.T) {
	am := NewAuthManager("123", "", 0, 0)

	if !am.IsAllowed(999) {
		t.Error("IsAllowed() should return true when whitelist is disabled")
	}
}

func TestAuthManager_CheckRateLimit(t *testing.T) {
	// 1 запрос в минуту, burst 2: третий подряд отклоняется
	am := NewAuthManager("", "", 1.0/60, 2)
	userID := int64(123)

	if err := am.CheckRateLimit(userID); err != nil {
		t.Errorf("CheckRateLimit() first request failed: %v", err)
	}
	if err := am.CheckRateLimit(userID); err != nil {
		t.Errorf("CheckRateLimit() second request failed: %v", err)
	}
	if err := am.CheckRateLimit(userID); err == nil {
		t.Error("CheckRateLimit() should have blocked third request")
	}

	// другой пользователь не затронут
	if err := am.CheckRateLimit(456); err != nil {
		t.Errorf("CheckRateLimit() other user blocked: %v", err)
	}
}

func TestAuthManager_RequireAdmin(t *testing.T) {
	am := NewAuthManager("123", "", 0, 0)

	tests := []struct {
		name    string
		userID  int64
		wantErr bool
	}{
		{"admin", 123, false},
		{"not admin", 456, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := am.RequireAdmin(tt.userID)
			if (err != nil) != tt.wantErr {
				t.Errorf("RequireAdmin() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthManager_GetAdminIDs(t *testing.T) {
	am := NewAuthManager("123,456,789", "", 0, 0)

	ids := am.GetAdminIDs()
	if len(ids) != 3 {
		t.Errorf("GetAdminIDs() returned %d IDs, want 3", len(ids))
	}

	found := make(map[int64]bool)
	for _, id := range ids {
		found[id] = true
	}
	for _, wantID := range []int64{123, 456, 789} {
		if !found[wantID] {
			t.Errorf("GetAdminIDs() missing ID %d", wantID)
		}
	}
}

func TestAuthManager_LinkWallet(t *testing.T) {
	am := NewAuthManager("", "", 0, 0)

	if err := am.LinkWallet(1, "not-a-wallet"); err == nil {
		t.Error("LinkWallet() should reject invalid address")
	}

	if err := am.LinkWallet(1, linkedWallet); err != nil {
		t.Fatalf("LinkWallet() error = %v", err)
	}
	if err := am.LinkWallet(2, linkedWallet); err != nil {
		t.Fatalf("LinkWallet() error = %v", err)
	}

	if w, ok := am.WalletFor(1); !ok || w != linkedWallet {
		t.Errorf("WalletFor() = %q, %v", w, ok)
	}
	if chats := am.ChatsFor(linkedWallet); len(chats) != 2 {
		t.Errorf("ChatsFor() = %v, want 2 chats", chats)
	}

	if !am.UnlinkWallet(1) {
		t.Error("UnlinkWallet() should report existing link")
	}
	if am.UnlinkWallet(1) {
		t.Error("UnlinkWallet() twice should return false")
	}
	if _, ok := am.WalletFor(1); ok {
		t.Error("WalletFor() after unlink should be empty")
	}
}

func TestAuthManager_CleanupRateLimiters(t *testing.T) {
	am := NewAuthManager("", "", 0, 0)

	_ = am.CheckRateLimit(123)
	_ = am.CheckRateLimit(456)
	_ = am.CheckRateLimit(789)

	if len(am.rateLimiters) != 3 {
		t.Errorf("Expected 3 rate limiters, got %d", len(am.rateLimiters))
	}

	// симулируем старый limiter
	am.mu.Lock()
	am.rateLimiters[123].lastSeen = time.Now().Add(-10 * time.Minute)
	am.mu.Unlock()

	if removed := am.CleanupRateLimiters(5 * time.Minute); removed != 1 {
		t.Errorf("CleanupRateLimiters() removed %d, want 1", removed)
	}

	am.mu.RLock()
	defer am.mu.RUnlock()
	if _, exists := am.rateLimiters[123]; exists {
		t.Error("Old rate limiter should have been cleaned up")
	}
}
