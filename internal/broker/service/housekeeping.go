package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
)

const DefaultHousekeepingInterval = time.Minute

// HousekeepingService periodically evicts expired pending authorizations,
// authorization codes and device codes. Reads already ignore expired
// records; this only bounds memory.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval defaults to one minute.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the sweep in the background. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress sweep has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one cleanup pass and returns how many records were removed.
// A failing repository does not stop the others.
func (s *HousekeepingService) Sweep(ctx context.Context) int {
	sweeps := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{"pending authorizations", s.Store.PendingAuthorizations().DeleteExpiredPendingAuthorizations},
		{"authorization codes", s.Store.AuthorizationCodes().DeleteExpiredAuthorizationCodes},
		{"device codes", s.Store.DeviceCodes().DeleteExpiredDeviceCodes},
	}

	total := 0
	for _, sw := range sweeps {
		n, err := sw.fn(ctx)
		if err != nil {
			s.Logger.Error("failed to delete expired "+sw.name, "error", err)
			continue
		}
		total += n
	}

	if total > 0 {
		s.Logger.Info("housekeeping cleanup completed", "deleted", total)
	} else {
		s.Logger.Debug("housekeeping cleanup completed", "deleted", 0)
	}
	return total
}
