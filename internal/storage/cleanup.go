package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/docsite/internal/log"
)

// CleanupManager periodically sweeps expired sessions from a Cleaner backend.
// The first sweep runs immediately on Start.
type CleanupManager struct {
	cleaner  Cleaner
	interval time.Duration

	once     sync.Once
	cancel   context.CancelFunc
	doneChan chan struct{}
}

// NewCleanupManager creates a sweeper for cleaner
func NewCleanupManager(cleaner Cleaner, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		cleaner:  cleaner,
		interval: interval,
		cancel:   func() {},
		doneChan: make(chan struct{}),
	}
}

// Start launches the sweep loop. It exits when ctx is done or Stop is called.
func (cm *CleanupManager) Start(ctx context.Context) {
	ctx, cm.cancel = context.WithCancel(ctx)
	log.LogInfoWithFields("cleanup", "Starting session sweeper", map[string]any{
		"interval": cm.interval.String(),
	})
	go cm.run(ctx)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
// It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.once.Do(func() {
		cm.cancel()
		<-cm.doneChan
		log.LogInfo("Session sweeper stopped")
	})
}

// Sweep removes expired sessions once and returns how many were deleted
func (cm *CleanupManager) Sweep(ctx context.Context) int {
	start := time.Now()
	count, err := cm.cleaner.CleanupExpiredSessions(ctx)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Session sweep failed", map[string]any{
			"error":   err.Error(),
			"deleted": count,
		})
		return count
	}
	if count > 0 {
		log.LogInfoWithFields("cleanup", "Swept expired sessions", map[string]any{
			"deleted":  count,
			"duration": time.Since(start).String(),
		})
	}
	return count
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	cm.Sweep(ctx)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.Sweep(ctx)
		}
	}
}
