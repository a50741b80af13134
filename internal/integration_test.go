package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-reminder-backend/config"
	"meeting-reminder-backend/internal/api"
	"meeting-reminder-backend/internal/db"
	"meeting-reminder-backend/internal/live"
	"meeting-reminder-backend/internal/model"
	"meeting-reminder-backend/internal/notification"
	"meeting-reminder-backend/internal/push"
	"meeting-reminder-backend/internal/scanner"
	"meeting-reminder-backend/internal/store"
)

// recordingTransport stands in for the push provider.
type recordingTransport struct {
	mu         sync.Mutex
	direct     []string // "token|title"
	multicasts []push.Message
}

func (r *recordingTransport) Send(ctx context.Context, token string, msg push.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct = append(r.direct, token+"|"+msg.Title)
	return nil
}

func (r *recordingTransport) SendMulticast(ctx context.Context, tokens []string, msg push.Message) (*push.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.multicasts = append(r.multicasts, msg)
	return &push.BatchResult{SuccessCount: len(tokens)}, nil
}

func (r *recordingTransport) SubscribeToTopic(ctx context.Context, tokens []string, topic string) error {
	return nil
}

func (r *recordingTransport) sentDirect() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.direct...)
}

func (r *recordingTransport) multicastTitles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var titles []string
	for _, m := range r.multicasts {
		titles = append(titles, m.Title)
	}
	return titles
}

// TestMeetingLifecycle drives a meeting from creation through the scanner,
// the live channel and cancellation, checking stored state at each step.
func TestMeetingLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// --- Test Setup ---
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "lifecycle.db"),
	})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	appStore := store.NewGormStore(gormDB)
	transport := &recordingTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerPool := notification.NewWorkerPool(2, 8, appStore, transport)
	workerPool.Start(ctx)

	hub := live.NewHub()
	dispatcher := notification.NewDispatcher(transport, notification.DispatcherConfig{BatchSize: 50, MaxAttempts: 1})
	scan := scanner.NewService(config.ScannerConfig{Enabled: true, BatchSize: 50, Interval: time.Minute}, appStore, dispatcher, hub)

	handler := api.NewHandler(appStore, workerPool, transport, "")
	router := api.NewRouter(handler, live.NewHandler(hub, appStore, nil), config.ServerConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTLSeconds: 1,
	})
	server := httptest.NewServer(router)
	defer server.Close()

	post := func(path, body string) *http.Response {
		t.Helper()
		resp, err := http.Post(server.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	// --- Step 1: A device connects over the live channel. ---
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/notifications/dev-1/"
	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Devices() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		tokens, err := appStore.ActiveTokens(ctx)
		return err == nil && len(tokens) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// --- Step 2: A meeting is created whose reminder is already due. ---
	startTime := time.Now().UTC().Add(2 * time.Minute).Truncate(time.Second)
	resp := post("/meetings/", fmt.Sprintf(`{"meeting_id":"m1","title":"Standup","start_time":%q}`, startTime.Format(time.RFC3339)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The creation announcement reaches the registered device through the worker pool.
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"dev-1|Meeting Scheduled: Standup"}, transport.sentDirect())
	}, 2*time.Second, 10*time.Millisecond)

	// --- Step 3: The scanner pushes the reminder and relays it live. ---
	report := scan.ScanOnce(ctx)
	assert.Equal(t, 1, report.DueNotifications)
	assert.Equal(t, 0, report.DueAlarms)
	assert.Equal(t, 1, report.NotificationsMarked)
	assert.Equal(t, []string{"Meeting Reminder: Standup"}, transport.multicastTitles())

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	defer readCancel()
	var frame live.Message
	require.NoError(t, wsjson.Read(readCtx, conn, &frame))
	assert.Equal(t, live.TypeNotification, frame.Type)
	assert.Equal(t, "m1", frame.MeetingID)

	m1, err := appStore.FindMeetingByMeetingID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m1.NotificationSent)
	assert.False(t, m1.AlarmTriggered)

	// A second scan finds nothing new.
	report = scan.ScanOnce(ctx)
	assert.Equal(t, 0, report.DueNotifications)
	assert.Equal(t, 0, report.DueAlarms)

	// --- Step 4: The device acknowledges a future meeting over the live channel. ---
	resp = post("/schedule/", `{"meeting_id":"m2","title":"Retro","body":"sprint retro","scheduled_time":"2030-01-01T10:00:00Z","device_token":"dev-1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, wsjson.Write(readCtx, conn, live.Message{Type: live.TypeAcknowledge, MeetingID: "m2"}))
	require.Eventually(t, func() bool {
		m2, err := appStore.FindMeetingByMeetingID(ctx, "m2")
		return err == nil && m2.NotificationSent
	}, 2*time.Second, 10*time.Millisecond)

	// --- Step 5: Cancelling removes the meeting and its alarms and confirms to the device. ---
	resp = post("/cancel/", `{"meeting_id":"m1","device_token":"dev-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = appStore.FindMeetingByMeetingID(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	var alarms int64
	require.NoError(t, gormDB.Model(&model.MeetingAlarm{}).Where("meeting_id = ?", m1.ID).Count(&alarms).Error)
	assert.Zero(t, alarms)

	require.Eventually(t, func() bool {
		for _, s := range transport.sentDirect() {
			if s == "dev-1|Meeting Cancelled" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	resp = post("/cancel/", `{"meeting_id":"m1","device_token":"dev-1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return hub.Devices() == 0 }, 2*time.Second, 10*time.Millisecond)
}
