package model

import "time"

// ClickEvent records one resolution of a short link. Events are append-only.
type ClickEvent struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	LinkID     int64     `json:"link_id" gorm:"not null;index:idx_click_events_link_time,priority:1"`
	OccurredAt time.Time `json:"occurred_at" gorm:"not null;index:idx_click_events_link_time,priority:2"`
}

// ClickNotification is the message published after a click has been stored.
type ClickNotification struct {
	EventID    int64     `json:"event_id"`
	LinkID     int64     `json:"link_id"`
	ShortCode  string    `json:"short_code"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	ClickStreamName     = "CLICKS"
	ClickStreamSubject  = "clicks.events"
	ClickStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
