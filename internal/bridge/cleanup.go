package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/gitbridge/internal/githost"
)

const (
	defaultMirrorMaxAge      = 60 * time.Second
	defaultCleanupInterval   = 10 * time.Second
	defaultMaxCleanupRetries = 3
)

type CleanupOptions struct {
	Registry    *Registry
	Store       *MirrorStore
	Logger      *zap.Logger
	MaxAge      time.Duration
	Interval    time.Duration
	MaxAttempts int
	Now         func() time.Time
}

// CleanupScheduler reclaims expired temporary mirrors. One repeating timer,
// started on demand, stopped when the store runs empty.
type CleanupScheduler struct {
	registry    *Registry
	store       *MirrorStore
	logger      *zap.Logger
	maxAge      time.Duration
	interval    time.Duration
	maxAttempts int
	now         func() time.Time

	mu   sync.Mutex
	stop chan struct{}
}

func NewCleanupScheduler(opts CleanupOptions) *CleanupScheduler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMirrorMaxAge
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxCleanupRetries
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CleanupScheduler{
		registry:    opts.Registry,
		store:       opts.Store,
		logger:      logger,
		maxAge:      maxAge,
		interval:    interval,
		maxAttempts: maxAttempts,
		now:         now,
	}
}

// Start launches the repeating cleanup timer. Calling it while the timer is
// already running is a no-op.
func (s *CleanupScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	s.stop = stop
	go s.run(stop)
	s.logger.Info("cleanup scheduler started", zap.Duration("interval", s.interval))
}

func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
	s.logger.Info("cleanup scheduler stopped")
}

func (s *CleanupScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *CleanupScheduler) run(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			remaining, err := s.RunCleanupPass(context.Background(), false)
			if err != nil {
				s.logger.Warn("cleanup pass failed", zap.Error(err))
				continue
			}
			if remaining == 0 {
				s.Stop()
				return
			}
		}
	}
}

// RunCleanupPass scans the store once and deletes every expired (or, with
// force, every) mirror. Candidates are processed sequentially to bound the
// burst of provider calls; survivors are written back in a single store
// replace. Returns the number of surviving records.
func (s *CleanupScheduler) RunCleanupPass(ctx context.Context, force bool) (int, error) {
	records, ok, err := s.store.Records()
	if err != nil {
		return 0, err
	}
	if !ok {
		// Corrupted snapshot: leave the stored value untouched.
		s.logger.Warn("mirror store snapshot is not an array, skipping cleanup pass")
		return 0, nil
	}

	host := s.registry.Host()
	now := s.now()
	survivors := make([]MirrorRecord, 0, len(records))
	changed := false
	for _, rec := range records {
		if !force && now.Sub(rec.CreatedAt) <= s.maxAge {
			survivors = append(survivors, rec)
			continue
		}
		if err := host.DeleteRepo(ctx, rec.Owner, rec.MirrorRepo); err != nil {
			if githost.IsNotFound(err) {
				// Already gone remotely, self-heal the record.
				s.logger.Info("mirror already deleted remotely", zap.String("mirrorRepo", rec.MirrorRepo))
				changed = true
				continue
			}
			rec.CleanupAttempts++
			changed = true
			if rec.CleanupAttempts >= s.maxAttempts {
				s.logger.Error("giving up on mirror cleanup, repository abandoned remotely",
					zap.String("mirrorRepo", rec.MirrorRepo),
					zap.Int("attempts", rec.CleanupAttempts),
					zap.Error(err))
				continue
			}
			s.logger.Warn("mirror delete failed, will retry",
				zap.String("mirrorRepo", rec.MirrorRepo),
				zap.Int("attempts", rec.CleanupAttempts),
				zap.Error(err))
			survivors = append(survivors, rec)
			continue
		}
		changed = true
		s.logger.Info("temporary mirror deleted", zap.String("mirrorRepo", rec.MirrorRepo))
	}

	if changed {
		if err := s.store.Replace(survivors); err != nil {
			return len(survivors), err
		}
	}
	if len(survivors) == 0 {
		s.Stop()
	}
	return len(survivors), nil
}
