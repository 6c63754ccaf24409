package models

import "time"

// Outcomes recorded on the idempotency ledger.
const (
	EventOutcomeProcessing = "processing"
	EventOutcomeProcessed  = "processed"
	EventOutcomeIgnored    = "ignored"
	EventOutcomeFailed     = "failed"
)

// ProcessedEvent is the idempotency ledger for provider webhook deliveries.
// The (provider, external_event_id) unique index is what makes claiming safe
// under concurrent delivery; the application never relies on a prior read.
type ProcessedEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_processed_events_provider_event,priority:1" json:"provider"`
	ExternalEventID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_processed_events_provider_event,priority:2" json:"external_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Outcome         string     `gorm:"type:varchar(20);not null;default:'processing';index" json:"outcome"`
	ErrorDetail     string     `gorm:"type:text" json:"error_detail"`
	Attempts        int        `gorm:"not null;default:1" json:"attempts"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFinal reports whether the event reached a terminal, non-retryable outcome.
func (e *ProcessedEvent) IsFinal() bool {
	return e.Outcome == EventOutcomeProcessed || e.Outcome == EventOutcomeIgnored
}
