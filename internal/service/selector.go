package service

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/SergeiKhy/fairlink/internal/config"
	"github.com/SergeiKhy/fairlink/internal/metrics"
	"github.com/SergeiKhy/fairlink/internal/repository"
	"go.uber.org/zap"
)

// FairSelector распределяет переходы по направлениям ссылки почти строго
// по кругу: счётчики любых двух направлений отличаются не более чем на 1.
// Вся арифметика выполняется в Redis одним скриптом, поэтому порядок
// выбора общий для всех экземпляров сервиса.
type FairSelector struct {
	balance    repository.BalanceRepository
	timeout    time.Duration
	counterTTL time.Duration
	logger     *zap.Logger
	randIndex  func(n int) int
}

func NewFairSelector(balance repository.BalanceRepository, cfg config.RedirectConfig, logger *zap.Logger) *FairSelector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FairSelector{
		balance:    balance,
		timeout:    cfg.SelectTimeout,
		counterTTL: cfg.CounterTTL,
		logger:     logger,
		randIndex:  rand.IntN,
	}
}

// Select returns one of destinations. It never fails: when the counter
// store is unavailable a uniformly random destination is returned.
// destinations must not be empty.
func (s *FairSelector) Select(ctx context.Context, domain, shortKey string, destinations []string) string {
	n := len(destinations)
	if n == 1 {
		return destinations[0]
	}

	// Клиент может отключиться, но учёт распределения должен завершиться
	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	idx, err := s.balance.Pick(ctx, domain, shortKey, n, s.counterTTL)
	if err != nil {
		idx = s.randIndex(n)
		metrics.SelectorFallbacks.Inc()
		s.logger.Warn("Fair selection failed, using random destination",
			zap.String("op", "balance_pick"),
			zap.String("domain", domain),
			zap.String("short_key", shortKey),
			zap.Int("index", idx),
			zap.Error(err),
		)
	}

	return destinations[idx]
}
