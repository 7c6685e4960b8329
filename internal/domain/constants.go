package domain

import "strings"

// Venue DEX на котором живет позиция
type Venue string

const (
	VenueOrca    Venue = "Orca"
	VenueRaydium Venue = "Raydium"
	VenueMeteora Venue = "Meteora"
	VenueUnknown Venue = "Unknown"
)

// ParseVenue нормализует название DEX
func ParseVenue(s string) Venue {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "orca", "whirlpool", "whirlpools":
		return VenueOrca
	case "raydium", "raydium-clmm":
		return VenueRaydium
	case "meteora", "meteora-dlmm":
		return VenueMeteora
	default:
		return VenueUnknown
	}
}

// Urgency уровень срочности
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) rank() int {
	switch u {
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	default:
		return 0
	}
}

// Escalate поднимает срочность, никогда не понижает
func (u Urgency) Escalate(to Urgency) Urgency {
	if to.rank() > u.rank() {
		return to
	}
	if u == "" {
		return UrgencyLow
	}
	return u
}

// ActionType тип корректирующего действия
type ActionType string

const (
	ActionCloseAndReopen ActionType = "close_and_reopen_position"
	ActionSwapRebalance  ActionType = "swap_rebalance"
)

// OutOfRangeAction что делать с позицией вне диапазона
type OutOfRangeAction string

const (
	OutOfRangeAlert OutOfRangeAction = "alert"
	OutOfRangeAuto  OutOfRangeAction = "auto"
)

// QueueStatus статус записи в очереди
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueExecuting QueueStatus = "executing"
	QueueDone      QueueStatus = "done"
	QueueExpired   QueueStatus = "expired"
)

// AuditEventType типы событий аудита
type AuditEventType string

const (
	AuditPreferencesConfigured AuditEventType = "preferences_configured"
	AuditSecurityRejection     AuditEventType = "security_rejection"
	AuditRebalanceQueued       AuditEventType = "rebalance_queued"
	AuditRebalanceExecuted     AuditEventType = "rebalance_executed"
	AuditRebalanceFailed       AuditEventType = "rebalance_failed"
	AuditRebalanceCancelled    AuditEventType = "rebalance_cancelled"
	AuditPoolDisabled          AuditEventType = "pool_disabled"
	AuditPoolEnabled           AuditEventType = "pool_enabled"
	AuditKillSwitch            AuditEventType = "kill_switch"
)

// Rejection reasons security gate
const (
	ReasonDailyLimitExceeded   = "daily_transaction_limit_exceeded"
	ReasonAmountTooLarge       = "transaction_amount_too_large"
	ReasonFrequencyTooHigh     = "rebalance_frequency_too_high"
	ReasonConsecutiveFailures  = "too_many_consecutive_failures"
	ReasonWeeklyAmountExceeded = "weekly_amount_limit_exceeded"
	ReasonKillSwitchActive     = "kill_switch_active"
)
