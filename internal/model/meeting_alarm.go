package model

import "time"

// MeetingAlarm is a server-created alarm owned by a Meeting. It is settled
// together with its meeting's alarm flag.
type MeetingAlarm struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	MeetingID     uint      `gorm:"index;not null" json:"-"`
	ScheduledTime time.Time `gorm:"not null;index" json:"scheduled_time"`
	IsTriggered   bool      `gorm:"not null;default:false" json:"is_triggered"`
	IsSent        bool      `gorm:"not null;default:false" json:"is_sent"`
	CreatedAt     time.Time `json:"created_at"`
}
