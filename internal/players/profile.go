package players

import (
	"strings"
	"time"
)

// Profile captures the notification-relevant view of a skater: display name
// and push token keyed by the opaque player identifier. Authoritative game
// state never lives here; the locked session row owns it.
type Profile struct {
	ODV         string    `gorm:"column:odv;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	PushToken   string    `gorm:"column:push_token;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing skater profiles.
func (Profile) TableName() string {
	return "player_profiles"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
