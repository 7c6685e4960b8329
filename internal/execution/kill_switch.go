package execution

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// KillSwitch аварийная остановка всех ребалансировок
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	activatedAt time.Time
	reason      string
	log         zerolog.Logger
}

// KillSwitchStatus снимок состояния
type KillSwitchStatus struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
}

// NewKillSwitch создает новый kill switch
func NewKillSwitch(log zerolog.Logger) *KillSwitch {
	return &KillSwitch{
		log: log.With().Str("component", "kill_switch").Logger(),
	}
}

// Activate активирует kill switch
func (ks *KillSwitch) Activate(reason string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = true
	ks.activatedAt = time.Now()
	ks.reason = reason

	ks.log.Error().Str("reason", reason).Msg("🚨 KILL SWITCH ACTIVATED")
}

// Deactivate деактивирует kill switch (требует ручного вмешательства)
func (ks *KillSwitch) Deactivate() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = false
	ks.reason = ""
	ks.activatedAt = time.Time{}

	ks.log.Info().Msg("✅ Kill switch deactivated")
}

// IsActive проверяет активен ли kill switch
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active
}

// Status возвращает статус kill switch
func (ks *KillSwitch) Status() KillSwitchStatus {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return KillSwitchStatus{Active: ks.active, Reason: ks.reason, ActivatedAt: ks.activatedAt}
}
