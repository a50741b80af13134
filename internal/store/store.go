package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meeting-reminder-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	CreateMeeting(ctx context.Context, m *model.Meeting) error
	GetMeeting(ctx context.Context, id uint) (*model.Meeting, error)
	FindMeetingByMeetingID(ctx context.Context, meetingID string) (*model.Meeting, error)
	ListMeetings(ctx context.Context) ([]model.Meeting, error)
	UpdateMeeting(ctx context.Context, m *model.Meeting) error
	DeleteMeeting(ctx context.Context, id uint) error
	CancelMeeting(ctx context.Context, meetingID string) (*model.Meeting, error)
	AcknowledgeMeeting(ctx context.Context, meetingID string) (bool, error)

	DueNotifications(ctx context.Context, now time.Time, limit int) ([]model.Meeting, error)
	DueMeetingAlarms(ctx context.Context, now time.Time, limit int) ([]model.Meeting, error)
	DueAlarmRecords(ctx context.Context, now time.Time, limit int) ([]model.MeetingAlarm, error)
	MarkNotificationsSent(ctx context.Context, ids []uint) error
	MarkAlarmsTriggered(ctx context.Context, ids []uint) error

	UpsertDeviceToken(ctx context.Context, token string) error
	ActiveTokens(ctx context.Context) ([]string, error)

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// CreateMeeting persists the meeting together with its single alarm.
func (s *gormStore) CreateMeeting(ctx context.Context, m *model.Meeting) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(m).Error; err != nil {
			return fmt.Errorf("failed to create meeting %q: %w", m.MeetingID, err)
		}
		alarm, err := scheduleAlarm(tx, m)
		if err != nil {
			return err
		}
		m.Alarms = []model.MeetingAlarm{alarm}
		return nil
	})
}

// UpdateMeeting saves the meeting and replaces its alarms with a fresh one.
func (s *gormStore) UpdateMeeting(ctx context.Context, m *model.Meeting) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).Save(m)
		if res.Error != nil {
			return fmt.Errorf("failed to update meeting %d: %w", m.ID, res.Error)
		}
		if err := tx.Where("meeting_id = ?", m.ID).Delete(&model.MeetingAlarm{}).Error; err != nil {
			return fmt.Errorf("failed to delete alarms for meeting %d: %w", m.ID, err)
		}
		alarm, err := scheduleAlarm(tx, m)
		if err != nil {
			return err
		}
		m.Alarms = []model.MeetingAlarm{alarm}
		return nil
	})
}

func scheduleAlarm(tx *gorm.DB, m *model.Meeting) (model.MeetingAlarm, error) {
	// A replacement alarm for a meeting whose alarm already fired stays settled.
	alarm := model.MeetingAlarm{
		MeetingID:     m.ID,
		ScheduledTime: m.AlarmScheduleTime().UTC(),
		IsTriggered:   m.AlarmTriggered,
		IsSent:        m.AlarmTriggered,
	}
	if err := tx.Create(&alarm).Error; err != nil {
		return alarm, fmt.Errorf("failed to schedule alarm for meeting %d: %w", m.ID, err)
	}
	return alarm, nil
}

func (s *gormStore) GetMeeting(ctx context.Context, id uint) (*model.Meeting, error) {
	var m model.Meeting
	if err := s.db.WithContext(ctx).Preload("Alarms").First(&m, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// FindMeetingByMeetingID returns the oldest meeting carrying meetingID.
func (s *gormStore) FindMeetingByMeetingID(ctx context.Context, meetingID string) (*model.Meeting, error) {
	var m model.Meeting
	if err := s.db.WithContext(ctx).Preload("Alarms").
		Where("meeting_id = ?", meetingID).
		Order("id").
		First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *gormStore) ListMeetings(ctx context.Context) ([]model.Meeting, error) {
	var meetings []model.Meeting
	if err := s.db.WithContext(ctx).Preload("Alarms").Order("start_time, id").Find(&meetings).Error; err != nil {
		return nil, err
	}
	return meetings, nil
}

// DeleteMeeting removes the meeting and all of its alarms.
func (s *gormStore) DeleteMeeting(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteMeeting(tx, id)
	})
}

// CancelMeeting deletes the meeting identified by meetingID and returns it.
func (s *gormStore) CancelMeeting(ctx context.Context, meetingID string) (*model.Meeting, error) {
	var cancelled model.Meeting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meeting_id = ?", meetingID).Order("id").First(&cancelled).Error; err != nil {
			return notFound(err)
		}
		return deleteMeeting(tx, cancelled.ID)
	})
	if err != nil {
		return nil, err
	}
	return &cancelled, nil
}

func deleteMeeting(tx *gorm.DB, id uint) error {
	if err := tx.Where("meeting_id = ?", id).Delete(&model.MeetingAlarm{}).Error; err != nil {
		return fmt.Errorf("failed to delete alarms for meeting %d: %w", id, err)
	}
	res := tx.Delete(&model.Meeting{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete meeting %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AcknowledgeMeeting marks the meeting's notification as sent. It reports
// false without error when no meeting carries meetingID.
func (s *gormStore) AcknowledgeMeeting(ctx context.Context, meetingID string) (bool, error) {
	m, err := s.FindMeetingByMeetingID(ctx, meetingID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.MarkNotificationsSent(ctx, []uint{m.ID}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *gormStore) DueNotifications(ctx context.Context, now time.Time, limit int) ([]model.Meeting, error) {
	var meetings []model.Meeting
	err := s.db.WithContext(ctx).
		Where("notification_time <= ? AND notification_sent = ?", now.UTC(), false).
		Order("notification_time, id").
		Limit(limit).
		Find(&meetings).Error
	return meetings, err
}

func (s *gormStore) DueMeetingAlarms(ctx context.Context, now time.Time, limit int) ([]model.Meeting, error) {
	var meetings []model.Meeting
	err := s.db.WithContext(ctx).
		Where("alarm_time <= ? AND alarm_triggered = ?", now.UTC(), false).
		Order("alarm_time, id").
		Limit(limit).
		Find(&meetings).Error
	return meetings, err
}

func (s *gormStore) DueAlarmRecords(ctx context.Context, now time.Time, limit int) ([]model.MeetingAlarm, error) {
	var alarms []model.MeetingAlarm
	err := s.db.WithContext(ctx).
		Where("scheduled_time <= ? AND is_sent = ?", now.UTC(), false).
		Order("scheduled_time, id").
		Limit(limit).
		Find(&alarms).Error
	return alarms, err
}

func (s *gormStore) MarkNotificationsSent(ctx context.Context, ids []uint) error {
	return s.setMeetingFlag(ctx, ids, "notification_sent")
}

// MarkAlarmsTriggered sets alarm_triggered on the meetings and settles their
// alarm records in the same transaction.
func (s *gormStore) MarkAlarmsTriggered(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Meeting{}).
			Where("id IN ?", ids).
			Update("alarm_triggered", true).Error; err != nil {
			return fmt.Errorf("failed to set alarm_triggered on %d meetings: %w", len(ids), err)
		}
		if err := tx.Model(&model.MeetingAlarm{}).
			Where("meeting_id IN ?", ids).
			Updates(map[string]any{"is_sent": true, "is_triggered": true}).Error; err != nil {
			return fmt.Errorf("failed to settle alarms for %d meetings: %w", len(ids), err)
		}
		return nil
	})
}

func (s *gormStore) setMeetingFlag(ctx context.Context, ids []uint, column string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&model.Meeting{}).
		Where("id IN ?", ids).
		Update(column, true).Error; err != nil {
		return fmt.Errorf("failed to set %s on %d meetings: %w", column, len(ids), err)
	}
	return nil
}

// UpsertDeviceToken registers token as active, refreshing updated_at when it
// already exists.
func (s *gormStore) UpsertDeviceToken(ctx context.Context, token string) error {
	now := time.Now().UTC()
	dt := model.DeviceToken{
		Token:     token,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "updated_at"}),
	}).Create(&dt).Error
}

func (s *gormStore) ActiveTokens(ctx context.Context) ([]string, error) {
	var tokens []string
	err := s.db.WithContext(ctx).Model(&model.DeviceToken{}).
		Where("is_active = ?", true).
		Pluck("token", &tokens).Error
	return tokens, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
