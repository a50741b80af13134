package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"meeting-reminder-backend/internal/model"
	"meeting-reminder-backend/internal/parse"
	"meeting-reminder-backend/internal/store"
)

type scheduleRequest struct {
	MeetingID     string `json:"meeting_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	ScheduledTime string `json:"scheduled_time"`
	DeviceToken   string `json:"device_token"`
}

// ScheduleMeeting handles POST /schedule/: it stores a meeting starting at
// scheduled_time and confirms it to the requesting device right away.
func (h *Handler) ScheduleMeeting(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil && !emptyBody(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MeetingID == "" || req.Title == "" || req.Body == "" || req.ScheduledTime == "" || req.DeviceToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	scheduled, err := parse.Timestamp(req.ScheduledTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid datetime format"})
		return
	}

	m := model.Meeting{
		MeetingID:   req.MeetingID,
		Title:       req.Title,
		Description: req.Body,
		StartTime:   scheduled,
	}
	if err := h.store.CreateMeeting(c.Request.Context(), &m); err != nil {
		log.Printf("Error scheduling meeting %q: %v", req.MeetingID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to schedule notification: %v", err)})
		return
	}

	h.announce([]string{req.DeviceToken},
		"Meeting Scheduled",
		fmt.Sprintf("Meeting '%s' scheduled for %s", req.Title, formatScheduled(scheduled)),
		nil)

	c.JSON(http.StatusCreated, gin.H{
		"message":        "Meeting notification scheduled successfully",
		"meeting_id":     req.MeetingID,
		"scheduled_time": scheduled.UTC().Format(time.RFC3339),
	})
}

type cancelRequest struct {
	MeetingID   string `json:"meeting_id"`
	DeviceToken string `json:"device_token"`
}

// CancelMeeting handles POST /cancel/. Unknown meetings produce a 404 and no push.
func (h *Handler) CancelMeeting(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !emptyBody(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MeetingID == "" || req.DeviceToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	m, err := h.store.CancelMeeting(c.Request.Context(), req.MeetingID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to cancel meeting: %v", err)})
		return
	}

	h.announce([]string{req.DeviceToken},
		"Meeting Cancelled",
		fmt.Sprintf("Meeting '%s' has been cancelled", m.Title),
		nil)

	c.JSON(http.StatusOK, gin.H{
		"message":    "Meeting cancelled successfully",
		"meeting_id": req.MeetingID,
	})
}
