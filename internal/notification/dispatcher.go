package notification

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"meeting-reminder-backend/internal/push"
)

// DispatcherConfig controls batching and retry behaviour.
type DispatcherConfig struct {
	BatchSize     int           // tokens per multicast request
	BatchInterval time.Duration // minimum gap between multicast requests
	RetryDelay    time.Duration // wait before retrying a throttled batch
	MaxAttempts   int           // attempts per batch, including the first
}

// DefaultDispatcherConfig returns the production batching policy.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:     50,
		BatchInterval: time.Second,
		RetryDelay:    60 * time.Second,
		MaxAttempts:   3,
	}
}

// Result describes the outcome of dispatching one payload.
type Result struct {
	Batches       int
	SuccessCount  int
	FailureCount  int
	FailedBatches int
}

// Delivered reports whether at least one device accepted the payload.
func (r Result) Delivered() bool {
	return r.SuccessCount > 0
}

// Completed reports whether every batch reached the push service.
func (r Result) Completed() bool {
	return r.FailedBatches == 0
}

// Dispatcher fans a payload out to device tokens in paced batches.
type Dispatcher struct {
	transport push.Transport
	cfg       DispatcherConfig
	limiter   *rate.Limiter
}

// NewDispatcher creates a dispatcher. Zero config values fall back to the defaults.
func NewDispatcher(transport push.Transport, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	limit := rate.Inf
	if cfg.BatchInterval > 0 {
		limit = rate.Every(cfg.BatchInterval)
	}
	return &Dispatcher{
		transport: transport,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Send delivers msg to tokens, splitting them into batches of BatchSize.
// A failed batch never stops the following ones.
func (d *Dispatcher) Send(ctx context.Context, tokens []string, msg push.Message) Result {
	var res Result
	for start := 0; start < len(tokens); start += d.cfg.BatchSize {
		end := start + d.cfg.BatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]
		res.Batches++

		br, err := d.sendBatch(ctx, batch, msg)
		if err != nil {
			res.FailedBatches++
			res.FailureCount += len(batch)
			log.Printf("[Dispatcher] Batch %d (%d tokens) failed permanently: %v", res.Batches, len(batch), err)
			if ctx.Err() != nil {
				// Remaining batches cannot be paced or sent any more.
				rest := len(tokens) - end
				if rest > 0 {
					n := (rest + d.cfg.BatchSize - 1) / d.cfg.BatchSize
					res.Batches += n
					res.FailedBatches += n
					res.FailureCount += rest
				}
				break
			}
			continue
		}
		res.SuccessCount += br.SuccessCount
		res.FailureCount += br.FailureCount
	}
	return res
}

// SendAll dispatches each payload to all tokens and returns one Result per payload.
func (d *Dispatcher) SendAll(ctx context.Context, tokens []string, msgs []push.Message) []Result {
	results := make([]Result, len(msgs))
	for i, msg := range msgs {
		results[i] = d.Send(ctx, tokens, msg)
	}
	return results
}

func (d *Dispatcher) sendBatch(ctx context.Context, batch []string, msg push.Message) (*push.BatchResult, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		br, err := d.transport.SendMulticast(ctx, batch, msg)
		if err == nil {
			return br, nil
		}
		lastErr = err
		if !push.IsRateLimited(err) {
			return nil, err
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}

		log.Printf("[Dispatcher] Rate limited, retrying in %s (attempt %d/%d)", d.cfg.RetryDelay, attempt, d.cfg.MaxAttempts)
		if err := sleep(ctx, d.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
