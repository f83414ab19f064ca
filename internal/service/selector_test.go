package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/SergeiKhy/fairlink/internal/config"
	"github.com/SergeiKhy/fairlink/internal/service"
	"github.com/SergeiKhy/fairlink/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var redirectCfg = config.RedirectConfig{
	SelectTimeout: 100 * time.Millisecond,
	CounterTTL:    30 * 24 * time.Hour,
}

func spread(counts map[string]int) int {
	lo, hi := -1, 0
	for _, c := range counts {
		if lo == -1 || c < lo {
			lo = c
		}
		hi = max(hi, c)
	}
	return hi - lo
}

// TestFairSelector_Fairness проверяет, что разброс счётчиков не превышает 1
// на каждом шаге, а каждое направление выбирается раньше, чем любое другое
// выбирается повторно.
func TestFairSelector_Fairness(t *testing.T) {
	for _, n := range []int{2, 3, 5, 10} {
		balance := mocks.NewMockBalanceRepository()
		selector := service.NewFairSelector(balance, redirectCfg, nil)

		destinations := make([]string, n)
		counts := make(map[string]int, n)
		for i := range destinations {
			destinations[i] = "https://dest.example/" + string(rune('a'+i))
			counts[destinations[i]] = 0
		}

		for round := 0; round < 7; round++ {
			seen := make(map[string]bool, n)
			for i := 0; i < n; i++ {
				got := selector.Select(context.Background(), "example.com", "fair", destinations)
				assert.False(t, seen[got], "n=%d round=%d: %s picked twice in one round", n, round, got)
				seen[got] = true
				counts[got]++
				assert.LessOrEqual(t, spread(counts), 1)
			}
		}

		for _, d := range destinations {
			assert.Equal(t, 7, counts[d])
		}
	}
}

func TestFairSelector_Abc123Scenario(t *testing.T) {
	balance := mocks.NewMockBalanceRepository()
	selector := service.NewFairSelector(balance, redirectCfg, nil)
	destinations := []string{"https://a.example", "https://b.example"}

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		counts[selector.Select(context.Background(), "example.com", "abc123", destinations)]++
		assert.LessOrEqual(t, spread(counts), 1)
	}
	assert.Equal(t, map[string]int{"https://a.example": 5, "https://b.example": 5}, counts)

	// 11-й выбор уходит на любое направление, разброс становится ровно 1
	counts[selector.Select(context.Background(), "example.com", "abc123", destinations)]++
	assert.Equal(t, 1, spread(counts))

	stored, err := balance.Counts(context.Background(), "example.com", "abc123", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(11), stored[0]+stored[1])
}

func TestFairSelector_SingleDestinationSkipsStore(t *testing.T) {
	balance := mocks.NewMockBalanceRepository()
	selector := service.NewFairSelector(balance, redirectCfg, nil)

	for i := 0; i < 5; i++ {
		got := selector.Select(context.Background(), "example.com", "solo", []string{"https://only.example"})
		assert.Equal(t, "https://only.example", got)
	}

	assert.Equal(t, 0, balance.PickCalls())
}

func TestFairSelector_FallbackOnStoreFailure(t *testing.T) {
	balance := mocks.NewMockBalanceRepository()
	balance.SetFail(true)
	selector := service.NewFairSelector(balance, redirectCfg, nil)
	destinations := []string{"https://a.example", "https://b.example", "https://c.example"}

	for i := 0; i < 20; i++ {
		got := selector.Select(context.Background(), "example.com", "down", destinations)
		assert.Contains(t, destinations, got)
	}
	assert.Equal(t, 20, balance.PickCalls())
}

func TestFairSelector_IgnoresClientCancellation(t *testing.T) {
	balance := mocks.NewMockBalanceRepository()
	selector := service.NewFairSelector(balance, redirectCfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	selector.Select(ctx, "example.com", "gone", []string{"https://a.example", "https://b.example"})

	counts, err := balance.Counts(context.Background(), "example.com", "gone", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[0]+counts[1])
}

func TestFairSelector_CountersScopedByDomain(t *testing.T) {
	balance := mocks.NewMockBalanceRepository()
	selector := service.NewFairSelector(balance, redirectCfg, nil)
	destinations := []string{"https://a.example", "https://b.example"}

	// Первый выбор для каждого домена идёт с чистых счётчиков
	first := selector.Select(context.Background(), "one.example", "promo", destinations)
	second := selector.Select(context.Background(), "two.example", "promo", destinations)
	assert.Equal(t, first, second)
}
