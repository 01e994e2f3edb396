package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ReaperConfig contains eviction timing configuration
type ReaperConfig struct {
	// RetentionDelay is how long a session survives after its stream ends.
	RetentionDelay time.Duration

	// MaxSessionAge bounds the lifetime of sessions that are never streamed.
	MaxSessionAge time.Duration

	// SweepInterval is how often the max-age sweep runs.
	SweepInterval time.Duration
}

// Reaper evicts sessions from the store. Each finished stream schedules a
// one-shot eviction after the retention delay; a background sweep enforces the
// absolute max-age bound for sessions no client ever streamed. Evictions are
// idempotent and a pending eviction can be cancelled by a re-subscribing
// client.
type Reaper struct {
	store   *Store
	config  ReaperConfig
	logger  *slog.Logger
	onEvict func(id string) // optional metrics hook

	timers map[string]*time.Timer
	mu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a reaper bound to the given store. onEvict, if non-nil,
// runs after every successful eviction.
func NewReaper(store *Store, config ReaperConfig, logger *slog.Logger, onEvict func(id string)) *Reaper {
	ctx, cancel := context.WithCancel(context.Background())

	return &Reaper{
		store:   store,
		config:  config,
		logger:  logger,
		onEvict: onEvict,
		timers:  make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the max-age sweep goroutine
func (r *Reaper) Start() {
	go r.sweepLoop()

	r.logger.Info("Session reaper started",
		slog.Duration("retention_delay", r.config.RetentionDelay),
		slog.Duration("max_session_age", r.config.MaxSessionAge),
		slog.Duration("sweep_interval", r.config.SweepInterval),
	)
}

// ScheduleEviction arms a one-shot eviction of the session after the
// retention delay. A pending timer for the same id is replaced, so the delay
// always counts from the most recent stream end.
func (r *Reaper) ScheduleEviction(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.timers[id]; ok {
		existing.Stop()
	}

	r.timers[id] = time.AfterFunc(r.config.RetentionDelay, func() {
		r.evict(id, "retention delay elapsed")
	})

	r.logger.Debug("Eviction scheduled",
		slog.String("session_id", id),
		slog.Duration("delay", r.config.RetentionDelay),
	)
}

// CancelEviction disarms a pending eviction, typically because a client
// re-subscribed to the session before the delay elapsed.
func (r *Reaper) CancelEviction(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[id]; ok {
		timer.Stop()
		delete(r.timers, id)

		r.logger.Debug("Eviction cancelled", slog.String("session_id", id))
	}
}

// PendingEvictions returns the number of armed eviction timers
func (r *Reaper) PendingEvictions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels the sweep loop and all pending eviction timers
func (r *Reaper) Stop() {
	r.logger.Info("Stopping session reaper...")

	r.cancel()
	<-r.done

	r.mu.Lock()
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()

	r.logger.Info("Session reaper stopped")
}

// evict removes the session and its timer entry
func (r *Reaper) evict(id string, reason string) {
	r.mu.Lock()
	delete(r.timers, id)
	r.mu.Unlock()

	if !r.store.Evict(id) {
		return
	}

	r.logger.Info("Session reaped",
		slog.String("session_id", id),
		slog.String("reason", reason),
	)

	if r.onEvict != nil {
		r.onEvict(id)
	}
}

// sweepLoop periodically evicts sessions older than the max-age bound
func (r *Reaper) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

// sweepExpired evicts every session past the absolute age bound
func (r *Reaper) sweepExpired() {
	now := time.Now()

	for _, info := range r.store.Snapshot() {
		if now.Sub(info.CreatedAt) > r.config.MaxSessionAge {
			r.mu.Lock()
			if timer, ok := r.timers[info.ID]; ok {
				timer.Stop()
				delete(r.timers, info.ID)
			}
			r.mu.Unlock()

			r.evict(info.ID, "max session age exceeded")
		}
	}
}
