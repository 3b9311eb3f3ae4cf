package usecase

import (
	"context"
	"sync"
	"time"

	pkgcache "CascadeAdvisor/pkg/cache"
	"CascadeAdvisor/pkg/logger"
)

const sweepLockKey = "lock:expiry-sweep"

// ExpirySweeper periodically expires lapsed suggestions and signals. With a
// shared lock store only one instance sweeps per tick.
type ExpirySweeper struct {
	suggestions *SuggestionManager
	signals     *SignalManager
	lock        pkgcache.Service
	interval    time.Duration
	log         *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExpirySweeper(sm *SuggestionManager, sig *SignalManager, lock pkgcache.Service, interval time.Duration, log *logger.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{suggestions: sm, signals: sig, lock: lock, interval: interval, log: log}
}

func (s *ExpirySweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

func (s *ExpirySweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunOnce performs a single sweep and reports how many items expired.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (suggestions, signals int) {
	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx, sweepLockKey, s.interval)
		if err != nil {
			s.log.Warn("sweeper.lock failed", logger.Error(err))
			return 0, 0
		}
		if !ok {
			return 0, 0
		}
		defer func() { _ = s.lock.Unlock(context.WithoutCancel(ctx), sweepLockKey) }()
	}

	var err error
	if suggestions, err = s.suggestions.SweepExpired(ctx); err != nil {
		s.log.Error("sweeper.suggestions failed", logger.Error(err))
	}
	if signals, err = s.signals.SweepExpired(ctx); err != nil {
		s.log.Error("sweeper.signals failed", logger.Error(err))
	}
	if suggestions+signals > 0 {
		s.log.Info("sweeper.expired", logger.Int("suggestions", suggestions), logger.Int("signals", signals))
	}
	return suggestions, signals
}
