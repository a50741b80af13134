package store

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meeting-reminder-backend/internal/model"
)

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// newSQLiteStore opens a fresh file-backed SQLite database with the schema applied.
func newSQLiteStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")+"?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, gormDB.AutoMigrate(&model.Meeting{}, &model.MeetingAlarm{}, &model.DeviceToken{}))
	return NewGormStore(gormDB), gormDB
}

func countAlarms(t *testing.T, db *gorm.DB, meetingPK uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.MeetingAlarm{}).Where("meeting_id = ?", meetingPK).Count(&n).Error)
	return n
}

func TestGormStore_CreateMeeting_DefaultsAndAlarm(t *testing.T) {
	s, db := newSQLiteStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	m := &model.Meeting{MeetingID: "standup", Title: "Standup", StartTime: start}
	require.NoError(t, s.CreateMeeting(ctx, m))

	require.NotZero(t, m.ID)
	require.NotNil(t, m.NotificationTime)
	require.NotNil(t, m.AlarmTime)
	assert.True(t, m.NotificationTime.Equal(time.Date(2024, 1, 1, 9, 55, 0, 0, time.UTC)))
	assert.True(t, m.AlarmTime.Equal(start))

	require.Len(t, m.Alarms, 1)
	assert.True(t, m.Alarms[0].ScheduledTime.Equal(*m.NotificationTime))
	assert.Equal(t, int64(1), countAlarms(t, db, m.ID))

	stored, err := s.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.NotificationTime.Equal(*m.NotificationTime))
	assert.Len(t, stored.Alarms, 1)
}

func TestGormStore_UpdateMeeting_ReplacesAlarmAndKeepsTimes(t *testing.T) {
	s, db := newSQLiteStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	m := &model.Meeting{MeetingID: "review", Title: "Review", StartTime: start}
	require.NoError(t, s.CreateMeeting(ctx, m))
	notify := *m.NotificationTime

	for i := 0; i < 3; i++ {
		m.Title = "Design review"
		m.StartTime = start.Add(time.Hour)
		require.NoError(t, s.UpdateMeeting(ctx, m))
	}

	assert.Equal(t, int64(1), countAlarms(t, db, m.ID))

	stored, err := s.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Design review", stored.Title)
	assert.True(t, stored.NotificationTime.Equal(notify), "notification time must not be recomputed")
	assert.True(t, stored.AlarmTime.Equal(start), "alarm time must not be recomputed")
}

func TestGormStore_DeleteMeeting_CascadesAlarms(t *testing.T) {
	s, db := newSQLiteStore(t)
	ctx := context.Background()

	m := &model.Meeting{MeetingID: "retro", Title: "Retro", StartTime: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateMeeting(ctx, m))
	require.NoError(t, s.UpdateMeeting(ctx, m))

	require.NoError(t, s.DeleteMeeting(ctx, m.ID))

	assert.Equal(t, int64(0), countAlarms(t, db, m.ID))
	_, err := s.GetMeeting(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteMeeting(ctx, m.ID), ErrNotFound)
}

func TestGormStore_CancelMeeting(t *testing.T) {
	s, db := newSQLiteStore(t)
	ctx := context.Background()

	m := &model.Meeting{MeetingID: "sync-42", Title: "Sync", StartTime: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateMeeting(ctx, m))

	cancelled, err := s.CancelMeeting(ctx, "sync-42")
	require.NoError(t, err)
	assert.Equal(t, "Sync", cancelled.Title)
	assert.Equal(t, int64(0), countAlarms(t, db, m.ID))

	_, err = s.CancelMeeting(ctx, "sync-42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_AcknowledgeMeeting(t *testing.T) {
	s, db := newSQLiteStore(t)
	ctx := context.Background()

	m := &model.Meeting{MeetingID: "ack-me", Title: "Ack", StartTime: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateMeeting(ctx, m))

	found, err := s.AcknowledgeMeeting(ctx, "ack-me")
	require.NoError(t, err)
	assert.True(t, found)

	stored, err := s.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.NotificationSent)

	var before int64
	require.NoError(t, db.Model(&model.Meeting{}).Count(&before).Error)

	found, err = s.AcknowledgeMeeting(ctx, "does-not-exist")
	assert.NoError(t, err)
	assert.False(t, found)

	var after int64
	require.NoError(t, db.Model(&model.Meeting{}).Count(&after).Error)
	assert.Equal(t, before, after)
}

func TestGormStore_DueQueries(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	due := &model.Meeting{MeetingID: "due", Title: "Due", StartTime: now.Add(2 * time.Minute)}
	alarmDue := &model.Meeting{MeetingID: "alarm-due", Title: "Alarm", StartTime: now.Add(-time.Minute)}
	future := &model.Meeting{MeetingID: "future", Title: "Future", StartTime: now.Add(time.Hour)}
	for _, m := range []*model.Meeting{due, alarmDue, future} {
		require.NoError(t, s.CreateMeeting(ctx, m))
	}

	notifications, err := s.DueNotifications(ctx, now, 50)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due", "alarm-due"}, meetingIDs(notifications))

	alarms, err := s.DueMeetingAlarms(ctx, now, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"alarm-due"}, meetingIDs(alarms))

	records, err := s.DueAlarmRecords(ctx, now, 50)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{due.ID, alarmDue.ID}, alarmMeetingIDs(records))

	limited, err := s.DueNotifications(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, s.MarkNotificationsSent(ctx, []uint{due.ID, alarmDue.ID}))
	require.NoError(t, s.MarkAlarmsTriggered(ctx, []uint{alarmDue.ID}))

	notifications, err = s.DueNotifications(ctx, now, 50)
	require.NoError(t, err)
	assert.Empty(t, notifications)
	alarms, err = s.DueMeetingAlarms(ctx, now, 50)
	require.NoError(t, err)
	assert.Empty(t, alarms)

	// Triggering a meeting's alarm settles its alarm record too.
	records, err = s.DueAlarmRecords(ctx, now, 50)
	require.NoError(t, err)
	assert.Equal(t, []uint{due.ID}, alarmMeetingIDs(records))

	stored, err := s.GetMeeting(ctx, alarmDue.ID)
	require.NoError(t, err)
	require.Len(t, stored.Alarms, 1)
	assert.True(t, stored.Alarms[0].IsSent)
	assert.True(t, stored.Alarms[0].IsTriggered)
}

func TestGormStore_UpdateKeepsFiredAlarmSettled(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := &model.Meeting{MeetingID: "past", Title: "Past", StartTime: now.Add(-time.Hour)}
	require.NoError(t, s.CreateMeeting(ctx, m))
	require.NoError(t, s.MarkNotificationsSent(ctx, []uint{m.ID}))
	require.NoError(t, s.MarkAlarmsTriggered(ctx, []uint{m.ID}))

	stored, err := s.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	stored.Title = "Past (renamed)"
	require.NoError(t, s.UpdateMeeting(ctx, stored))

	records, err := s.DueAlarmRecords(ctx, now, 50)
	require.NoError(t, err)
	assert.Empty(t, records, "replacement alarm of a fired meeting must not be due")

	stored, err = s.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, stored.Alarms, 1)
	assert.True(t, stored.Alarms[0].IsSent)
}

func TestGormStore_UpsertDeviceToken(t *testing.T) {
	s, db := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDeviceToken(ctx, "device-abc"))
	var first model.DeviceToken
	require.NoError(t, db.Where("token = ?", "device-abc").First(&first).Error)

	// Deactivate, then register again: the row must be reactivated, not duplicated.
	require.NoError(t, db.Model(&model.DeviceToken{}).Where("id = ?", first.ID).Update("is_active", false).Error)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.UpsertDeviceToken(ctx, "device-abc"))

	var rows []model.DeviceToken
	require.NoError(t, db.Where("token = ?", "device-abc").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsActive)
	assert.True(t, rows[0].UpdatedAt.After(first.UpdatedAt))

	tokens, err := s.ActiveTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"device-abc"}, tokens)
}

func TestGormStore_DuplicateTokenViolatesUniqueIndex(t *testing.T) {
	_, db := newSQLiteStore(t)
	require.NoError(t, db.Create(&model.DeviceToken{Token: "dup", IsActive: true}).Error)
	assert.Error(t, db.Create(&model.DeviceToken{Token: "dup", IsActive: true}).Error)
}

func TestGormStore_ActiveTokens_Query(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "token" FROM "device_tokens" WHERE is_active = $1`)).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("t1").AddRow("t2"))

	tokens, err := s.ActiveTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_MarkNotificationsSent_Query(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "meetings" SET "notification_sent"=$1,"updated_at"=$2 WHERE id IN ($3,$4)`)).
		WithArgs(true, Any{}, 7, 9).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, s.MarkNotificationsSent(context.Background(), []uint{7, 9}))
	assert.NoError(t, mock.ExpectationsWereMet())

	// An empty id list issues no statement at all.
	require.NoError(t, s.MarkNotificationsSent(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func alarmMeetingIDs(alarms []model.MeetingAlarm) []uint {
	ids := make([]uint, 0, len(alarms))
	for _, a := range alarms {
		ids = append(ids, a.MeetingID)
	}
	return ids
}

func meetingIDs(meetings []model.Meeting) []string {
	ids := make([]string, 0, len(meetings))
	for _, m := range meetings {
		ids = append(ids, m.MeetingID)
	}
	return ids
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
