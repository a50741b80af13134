package model

import (
	"time"

	"gorm.io/gorm"
)

// Default offsets applied when a meeting is saved without explicit times.
const (
	DefaultNotificationLead = 5 * time.Minute
)

// Meeting is a client-scheduled meeting that the server reminds devices about.
// MeetingID is supplied by the caller and is not unique at the storage layer.
type Meeting struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	MeetingID        string     `gorm:"size:100;index;not null" json:"meeting_id"`
	Title            string     `gorm:"size:200;not null" json:"title"`
	Description      string     `gorm:"type:text" json:"description"`
	StartTime        time.Time  `gorm:"not null;index" json:"start_time"`
	NotificationTime *time.Time `gorm:"index" json:"notification_time"`
	AlarmTime        *time.Time `gorm:"index" json:"alarm_time"`
	NotificationSent bool       `gorm:"not null;default:false" json:"notification_sent"`
	AlarmTriggered   bool       `gorm:"not null;default:false" json:"alarm_triggered"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	// Associations
	Alarms []MeetingAlarm `gorm:"foreignKey:MeetingID;references:ID;constraint:OnDelete:CASCADE" json:"alarms"`
}

// ApplyScheduleDefaults fills NotificationTime and AlarmTime from StartTime
// when they are unset. Times that are already set are never recomputed.
func (m *Meeting) ApplyScheduleDefaults() {
	if m.StartTime.IsZero() {
		return
	}
	if m.NotificationTime == nil {
		t := m.StartTime.Add(-DefaultNotificationLead)
		m.NotificationTime = &t
	}
	if m.AlarmTime == nil {
		t := m.StartTime
		m.AlarmTime = &t
	}
}

// BeforeSave is a gorm hook run on both create and update. Times are stored
// in UTC so every driver compares them the same way.
func (m *Meeting) BeforeSave(tx *gorm.DB) error {
	if m.StartTime.IsZero() {
		return nil
	}
	m.StartTime = m.StartTime.UTC()
	m.ApplyScheduleDefaults()
	utc := func(t *time.Time) *time.Time {
		u := t.UTC()
		return &u
	}
	m.NotificationTime = utc(m.NotificationTime)
	m.AlarmTime = utc(m.AlarmTime)
	return nil
}

// AlarmScheduleTime is when the meeting's alarm record should fire.
func (m *Meeting) AlarmScheduleTime() time.Time {
	if m.NotificationTime != nil {
		return *m.NotificationTime
	}
	return m.StartTime.Add(-DefaultNotificationLead)
}
