package model

import "time"

// Link describes the core short-link entity.
//
// A link is persisted in two steps: the draft row gets its ID first and the
// ShortCode derived from that ID is written right after, so ShortCode is nil
// only for that short window.
type Link struct {
	ID          int64     `db:"id" gorm:"primaryKey;autoIncrement"`
	OriginalURL string    `db:"original_url" gorm:"type:text;not null"`
	ShortCode   *string   `db:"short_code" gorm:"uniqueIndex;size:16"`
	ClickCount  int64     `db:"click_count" gorm:"not null;default:0"`
	CreatedAt   time.Time `db:"created_at" gorm:"not null"`
	OwnerID     int64     `db:"owner_id" gorm:"index;not null"`
}

// Code returns the short code, or "" while the link is still a draft.
func (l *Link) Code() string {
	if l == nil || l.ShortCode == nil {
		return ""
	}
	return *l.ShortCode
}

// Owner is the authenticated principal a link belongs to. Owners are issued
// by an external identity provider and are not persisted here.
type Owner struct {
	ID       int64
	Username string
}
