package notification

import (
	"context"
	"log"
	"sync"

	"meeting-reminder-backend/internal/push"
)

// Announcement is a push triggered by a meeting lifecycle event. When Tokens
// is empty it is sent to every active device token.
type Announcement struct {
	Tokens  []string
	Message push.Message
}

// Announcer queues announcements without blocking the caller.
type Announcer interface {
	Announce(a Announcement) bool
}

// TokenSource lists the device tokens that receive broadcast announcements.
type TokenSource interface {
	ActiveTokens(ctx context.Context) ([]string, error)
}

// WorkerPool manages a pool of workers for sending announcements.
type WorkerPool struct {
	size      int
	jobs      chan Announcement
	tokens    TokenSource
	transport push.Transport
	wg        sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size, queueSize int, tokens TokenSource, transport push.Transport) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	return &WorkerPool{
		size:      size,
		jobs:      make(chan Announcement, queueSize), // Buffered channel
		tokens:    tokens,
		transport: transport,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	log.Printf("Worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			wp.deliver(ctx, job)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Announce queues a job. It reports false and drops the job when the queue is full.
func (wp *WorkerPool) Announce(a Announcement) bool {
	select {
	case wp.jobs <- a:
		return true
	default:
		log.Printf("Announcement queue full, dropping %q", a.Message.Title)
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Announcement {
	return wp.jobs
}

// deliver sends the announcement to each target token individually.
func (wp *WorkerPool) deliver(ctx context.Context, job Announcement) {
	tokens := job.Tokens
	if len(tokens) == 0 {
		var err error
		tokens, err = wp.tokens.ActiveTokens(ctx)
		if err != nil {
			log.Printf("Error fetching device tokens for %q: %v", job.Message.Title, err)
			return
		}
	}
	if len(tokens) == 0 {
		return
	}

	log.Printf("Sending %q to %d devices", job.Message.Title, len(tokens))
	for _, token := range tokens {
		if err := wp.transport.Send(ctx, token, job.Message); err != nil {
			log.Printf("Error sending %q: %v", job.Message.Title, err)
		}
	}
}
