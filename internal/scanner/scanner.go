package scanner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"meeting-reminder-backend/config"
	"meeting-reminder-backend/internal/live"
	"meeting-reminder-backend/internal/model"
	"meeting-reminder-backend/internal/notification"
	"meeting-reminder-backend/internal/push"
	"meeting-reminder-backend/internal/store"
)

const alarmBody = "Your meeting is starting now!"

// Sender dispatches payloads to device tokens.
type Sender interface {
	SendAll(ctx context.Context, tokens []string, msgs []push.Message) []notification.Result
}

// Relay forwards due items to connected live sessions.
type Relay interface {
	Broadcast(msg live.Message) int
}

// Report summarises one scan.
type Report struct {
	DueNotifications int
	DueAlarms        int
	Tokens           int

	NotificationsMarked int
	AlarmsMarked        int
}

// Service periodically pushes due meeting notifications and alarms.
type Service struct {
	cfg    config.ScannerConfig
	store  store.Store
	sender Sender
	relay  Relay
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewService creates a scanner. relay may be nil.
func NewService(cfg config.ScannerConfig, s store.Store, sender Sender, relay Relay) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Service{
		cfg:    cfg,
		store:  s,
		sender: sender,
		relay:  relay,
		now:    time.Now,
	}
}

// Start runs the scan loop in the background. Wait blocks until it has exited.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Wait blocks until a loop launched by Start has returned, including any scan
// that was in progress when ctx ended.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Run scans immediately and then on every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("[Scanner] Scanner is disabled. Not starting.")
		return
	}
	log.Printf("[Scanner] Starting, interval %s", s.cfg.Interval)

	s.ScanOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Scanner] Shutting down.")
			return
		case <-timer.C:
			s.ScanOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// ScanOnce runs a single scan. Errors are logged and never escalated; flags
// already set by this run stay set.
func (s *Service) ScanOnce(ctx context.Context) Report {
	var report Report
	if err := s.scan(ctx, &report); err != nil {
		log.Printf("[Scanner] Error in scan: %v", err)
	}
	return report
}

func (s *Service) scan(ctx context.Context, report *Report) error {
	now := s.now().UTC()
	limit := s.cfg.BatchSize

	notifications, err := s.store.DueNotifications(ctx, now, limit)
	if err != nil {
		return fmt.Errorf("failed to query due notifications: %w", err)
	}
	alarms, err := s.store.DueMeetingAlarms(ctx, now, limit)
	if err != nil {
		return fmt.Errorf("failed to query due alarms: %w", err)
	}
	report.DueNotifications = len(notifications)
	report.DueAlarms = len(alarms)

	if len(notifications) == 0 && len(alarms) == 0 {
		return nil
	}

	tokens, err := s.store.ActiveTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device tokens: %w", err)
	}
	report.Tokens = len(tokens)
	if len(tokens) == 0 {
		log.Println("[Scanner] No device tokens registered")
		return nil
	}

	// Whatever was delivered is recorded even when shutdown interrupts the run.
	markCtx := context.WithoutCancel(ctx)

	if len(notifications) > 0 {
		msgs := make([]push.Message, len(notifications))
		for i, m := range notifications {
			msgs[i] = notificationMessage(m)
			s.relayMessage(live.Message{Type: live.TypeNotification, Title: msgs[i].Title, Body: msgs[i].Body, MeetingID: m.MeetingID})
		}
		results := s.sender.SendAll(ctx, tokens, msgs)
		ids := settled(results, func(i int) uint { return notifications[i].ID })
		if err := s.store.MarkNotificationsSent(markCtx, ids); err != nil {
			return err
		}
		report.NotificationsMarked = len(ids)
	}

	if len(alarms) > 0 {
		msgs := make([]push.Message, len(alarms))
		for i, m := range alarms {
			msgs[i] = alarmMessage(m)
			s.relayMessage(live.Message{Type: live.TypeAlarm, Title: "Meeting Alarm: " + m.Title, Body: alarmBody, MeetingID: m.MeetingID})
		}
		results := s.sender.SendAll(ctx, tokens, msgs)
		ids := settled(results, func(i int) uint { return alarms[i].ID })
		if err := s.store.MarkAlarmsTriggered(markCtx, ids); err != nil {
			return err
		}
		report.AlarmsMarked = len(ids)
	}

	log.Printf("[Scanner] Scan complete: %d notifications, %d alarms sent to %d devices",
		report.NotificationsMarked, report.AlarmsMarked, len(tokens))
	return nil
}

func (s *Service) relayMessage(msg live.Message) {
	if s.relay != nil {
		s.relay.Broadcast(msg)
	}
}

// settled returns the ids whose payload was delivered or whose batches all
// reached the push service.
func settled(results []notification.Result, id func(int) uint) []uint {
	var ids []uint
	for i, r := range results {
		if r.Delivered() || r.Completed() {
			ids = append(ids, id(i))
		}
	}
	return ids
}

func notificationMessage(m model.Meeting) push.Message {
	return push.Message{
		Title: fmt.Sprintf("Meeting Reminder: %s", m.Title),
		Body:  fmt.Sprintf("Meeting starts in 5 minutes: %s", m.Description),
		Data: map[string]string{
			"type":       live.TypeNotification,
			"meeting_id": m.MeetingID,
		},
	}
}

// alarmMessage is data-only so the device wakes its alarm UI instead of
// showing a plain notification.
func alarmMessage(m model.Meeting) push.Message {
	return push.Message{
		Data: map[string]string{
			"type":       live.TypeAlarm,
			"meeting_id": m.MeetingID,
			"title":      m.Title,
		},
		Hints: push.AlarmHints(),
	}
}
