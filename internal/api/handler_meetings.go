package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"meeting-reminder-backend/internal/model"
	"meeting-reminder-backend/internal/parse"
	"meeting-reminder-backend/internal/push"
	"meeting-reminder-backend/internal/store"
)

// meetingRequest is the body of create and update requests. Absent fields
// are nil so updates can be partial.
type meetingRequest struct {
	MeetingID        *string `json:"meeting_id"`
	Title            *string `json:"title"`
	Description      *string `json:"description"`
	StartTime        *string `json:"start_time"`
	NotificationTime *string `json:"notification_time"`
	AlarmTime        *string `json:"alarm_time"`
}

func (r *meetingRequest) missing() string {
	required := []struct {
		name  string
		value *string
	}{
		{"meeting_id", r.MeetingID},
		{"title", r.Title},
		{"start_time", r.StartTime},
	}
	for _, f := range required {
		if f.value == nil || strings.TrimSpace(*f.value) == "" {
			return f.name
		}
	}
	return ""
}

// apply copies the provided fields onto m. It returns the name of the first
// timestamp field that fails to parse.
func (r *meetingRequest) apply(m *model.Meeting) string {
	if r.MeetingID != nil {
		m.MeetingID = *r.MeetingID
	}
	if r.Title != nil {
		m.Title = *r.Title
	}
	if r.Description != nil {
		m.Description = *r.Description
	}
	if r.StartTime != nil {
		t, err := parse.Timestamp(*r.StartTime)
		if err != nil {
			return "start_time"
		}
		m.StartTime = t
	}
	if t, err := parse.OptionalTimestamp(r.NotificationTime); err != nil {
		return "notification_time"
	} else if t != nil {
		m.NotificationTime = t
	}
	if t, err := parse.OptionalTimestamp(r.AlarmTime); err != nil {
		return "alarm_time"
	} else if t != nil {
		m.AlarmTime = t
	}
	return ""
}

func invalidTime(field string) gin.H {
	return gin.H{"error": "Invalid datetime format for " + field}
}

// ListMeetings handles GET /meetings/.
func (h *Handler) ListMeetings(c *gin.Context) {
	meetings, err := h.store.ListMeetings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if meetings == nil {
		meetings = []model.Meeting{}
	}
	c.JSON(http.StatusOK, meetings)
}

// GetMeeting handles GET /meetings/:id/.
func (h *Handler) GetMeeting(c *gin.Context) {
	m, ok := h.loadMeeting(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m)
}

// CreateMeeting handles POST /meetings/.
func (h *Handler) CreateMeeting(c *gin.Context) {
	var req meetingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !emptyBody(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if field := req.missing(); field != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: " + field})
		return
	}

	var m model.Meeting
	if field := req.apply(&m); field != "" {
		c.JSON(http.StatusBadRequest, invalidTime(field))
		return
	}

	if err := h.store.CreateMeeting(c.Request.Context(), &m); err != nil {
		log.Printf("Error creating meeting %q: %v", m.MeetingID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.announceLifecycle(&m, "Meeting Scheduled")
	c.JSON(http.StatusCreated, m)
}

// UpdateMeeting handles PUT and PATCH /meetings/:id/. Only the fields present
// in the body change; the meeting's alarm is replaced.
func (h *Handler) UpdateMeeting(c *gin.Context) {
	m, ok := h.loadMeeting(c)
	if !ok {
		return
	}

	var req meetingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !emptyBody(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if field := req.apply(m); field != "" {
		c.JSON(http.StatusBadRequest, invalidTime(field))
		return
	}

	if err := h.store.UpdateMeeting(c.Request.Context(), m); err != nil {
		log.Printf("Error updating meeting %d: %v", m.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.announceLifecycle(m, "Meeting Updated")
	c.JSON(http.StatusOK, m)
}

// DeleteMeeting handles DELETE /meetings/:id/.
func (h *Handler) DeleteMeeting(c *gin.Context) {
	id, ok := meetingPK(c)
	if !ok {
		return
	}
	err := h.store.DeleteMeeting(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type subscribeRequest struct {
	DeviceToken string `json:"device_token"`
}

// SubscribeToMeeting handles POST /meetings/:id/subscribe/ by subscribing the
// device to the meeting's push topic.
func (h *Handler) SubscribeToMeeting(c *gin.Context) {
	m, ok := h.loadMeeting(c)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !emptyBody(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DeviceToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_token is required"})
		return
	}
	if h.topics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "topic subscriptions are not available"})
		return
	}

	topic := fmt.Sprintf("meeting_%d", m.ID)
	err := h.topics.SubscribeToTopic(c.Request.Context(), []string{req.DeviceToken}, topic)
	if errors.Is(err, push.ErrTopicsUnsupported) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "topic subscriptions are not available"})
		return
	}
	if err != nil {
		log.Printf("Error subscribing device to %s: %v", topic, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "subscribed"})
}

func (h *Handler) announceLifecycle(m *model.Meeting, action string) {
	h.announce(nil,
		fmt.Sprintf("%s: %s", action, m.Title),
		fmt.Sprintf("Meeting scheduled for %s", m.StartTime.Format("2006-01-02 15:04:05-07:00")),
		map[string]string{
			"meeting_id": m.MeetingID,
			"action":     strings.ReplaceAll(strings.ToLower(action), " ", "_"),
		})
}

func (h *Handler) loadMeeting(c *gin.Context) (*model.Meeting, bool) {
	id, ok := meetingPK(c)
	if !ok {
		return nil, false
	}
	m, err := h.store.GetMeeting(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return m, true
}

func meetingPK(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
		return 0, false
	}
	return uint(id), true
}

// formatScheduled renders a time the way confirmation pushes show it.
func formatScheduled(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
