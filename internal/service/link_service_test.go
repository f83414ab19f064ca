package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/SergeiKhy/fairlink/internal/models"
	"github.com/SergeiKhy/fairlink/internal/repository"
	"github.com/SergeiKhy/fairlink/internal/service"
	"github.com/SergeiKhy/fairlink/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type linkEnv struct {
	service service.LinkService
	links   *mocks.MockLinkRepository
	cache   *mocks.MockCacheRepository
	balance *mocks.MockBalanceRepository
}

// setupTestService создаёт тестовое окружение с моковыми репозиториями
func setupTestService() *linkEnv {
	links := mocks.NewMockLinkRepository()
	cache := mocks.NewMockCacheRepository()
	balance := mocks.NewMockBalanceRepository()
	logger, _ := zap.NewDevelopment()

	return &linkEnv{
		service: service.NewLinkService(links, cache, balance, testConfig(), logger),
		links:   links,
		cache:   cache,
		balance: balance,
	}
}

func ptr[T any](v T) *T { return &v }

func TestLinkService_CreateLink_Success(t *testing.T) {
	env := setupTestService()

	input := &models.CreateLinkInput{
		Destinations: []string{"https://a.example/x", " https://b.example/y "},
		Domain:       "Example.com",
		Remark:       "spring campaign",
	}

	link, err := env.service.CreateLink(context.Background(), input, "")

	require.NoError(t, err)
	assert.Len(t, link.ShortKey, 6)
	assert.Equal(t, "example.com", link.Domain)
	assert.Equal(t, []string{"https://a.example/x", "https://b.example/y"}, link.Destinations)
	assert.Equal(t, "https://example.com/r/"+link.ShortKey, link.ShortURL)
	assert.NotZero(t, link.ID)
	assert.False(t, link.CreatedAt.IsZero())
}

func TestLinkService_CreateLink_WithCustomKey(t *testing.T) {
	env := setupTestService()

	link, err := env.service.CreateLink(context.Background(), &models.CreateLinkInput{
		Destinations: []string{"https://a.example"},
		CustomKey:    ptr("my-promo_1"),
	}, "go.example.com")

	require.NoError(t, err)
	assert.Equal(t, "my-promo_1", link.ShortKey)
	assert.Equal(t, "go.example.com", link.Domain)
}

func TestLinkService_CreateLink_DomainFromRequestHost(t *testing.T) {
	env := setupTestService()
	input := &models.CreateLinkInput{Destinations: []string{"https://a.example"}}

	link, err := env.service.CreateLink(context.Background(), input, "www.brand.example")
	require.NoError(t, err)
	assert.Equal(t, "brand.example", link.Domain)

	link, err = env.service.CreateLink(context.Background(), input, "")
	require.NoError(t, err)
	assert.Equal(t, "sho.rt", link.Domain)
}

func TestLinkService_CreateLink_IPHostUsesHTTP(t *testing.T) {
	env := setupTestService()

	link, err := env.service.CreateLink(context.Background(), &models.CreateLinkInput{
		Destinations: []string{"https://a.example"},
		CustomKey:    ptr("local"),
	}, "127.0.0.1:8080")

	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/r/local", link.ShortURL)
}

func TestLinkService_CreateLink_InvalidURL(t *testing.T) {
	env := setupTestService()

	for _, dest := range []string{"not-a-valid-url", "ftp://files.example", "https://", "javascript:alert(1)"} {
		link, err := env.service.CreateLink(context.Background(), &models.CreateLinkInput{
			Destinations: []string{"https://ok.example", dest},
		}, "")

		assert.ErrorIs(t, err, service.ErrInvalidURL, dest)
		assert.Nil(t, link)
	}
}

func TestLinkService_CreateLink_InvalidCustomKey(t *testing.T) {
	env := setupTestService()

	// Слишком короткий, слишком длинный, с недопустимыми символами
	for _, key := range []string{"ab", "toolongcustomkey123", "invalid@key"} {
		link, err := env.service.CreateLink(context.Background(), &models.CreateLinkInput{
			Destinations: []string{"https://a.example"},
			CustomKey:    ptr(key),
		}, "")

		assert.ErrorIs(t, err, service.ErrInvalidCode, key)
		assert.Nil(t, link)
	}
}

func TestLinkService_CreateLink_KeyUniqueCaseInsensitivePerDomain(t *testing.T) {
	env := setupTestService()
	input := func(key, domain string) *models.CreateLinkInput {
		return &models.CreateLinkInput{Destinations: []string{"https://a.example"}, CustomKey: ptr(key), Domain: domain}
	}

	_, err := env.service.CreateLink(context.Background(), input("Promo", "one.example"), "")
	require.NoError(t, err)

	_, err = env.service.CreateLink(context.Background(), input("pROMO", "one.example"), "")
	assert.ErrorIs(t, err, service.ErrKeyExists)

	// Другой домен: тот же ключ разрешён
	_, err = env.service.CreateLink(context.Background(), input("promo", "two.example"), "")
	assert.NoError(t, err)
}

func TestLinkService_CreateLink_DestinationLimits(t *testing.T) {
	env := setupTestService()

	_, err := env.service.CreateLink(context.Background(), &models.CreateLinkInput{Destinations: []string{" ", ""}}, "")
	assert.ErrorIs(t, err, service.ErrNoDestinations)

	many := make([]string, 11)
	for i := range many {
		many[i] = "https://a.example"
	}
	_, err = env.service.CreateLink(context.Background(), &models.CreateLinkInput{Destinations: many}, "")
	assert.ErrorIs(t, err, service.ErrTooManyDestinations)
}

func TestLinkService_CreateLink_RemarkTooLong(t *testing.T) {
	env := setupTestService()

	remark := make([]rune, 257)
	for i := range remark {
		remark[i] = 'я'
	}
	_, err := env.service.CreateLink(context.Background(), &models.CreateLinkInput{
		Destinations: []string{"https://a.example"},
		Remark:       string(remark),
	}, "")

	assert.ErrorIs(t, err, service.ErrRemarkTooLong)
}

func TestLinkService_UpdateLink_DestinationsResetCounters(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	link, err := env.service.CreateLink(ctx, &models.CreateLinkInput{
		Destinations: []string{"https://a.example", "https://b.example"},
		CustomKey:    ptr("abc123"),
		Domain:       "example.com",
	}, "")
	require.NoError(t, err)

	// Набиваем счётчики и кэш, как это сделал бы редирект
	for i := 0; i < 3; i++ {
		_, err := env.balance.Pick(ctx, "example.com", "abc123", 2, 0)
		require.NoError(t, err)
	}
	require.NoError(t, env.cache.SetLink(ctx, "abc123", link.ToCached(), 0))

	updated, err := env.service.UpdateLink(ctx, link.ID, &models.UpdateLinkInput{
		Destinations: []string{"https://c.example", "https://a.example", "https://b.example"},
	})
	require.NoError(t, err)
	assert.Len(t, updated.Destinations, 3)

	counts, err := env.balance.Counts(ctx, "example.com", "abc123", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0}, counts)

	_, cached := env.cache.Cached("abc123")
	assert.False(t, cached)
}

func TestLinkService_UpdateLink_KeyChangeInvalidatesBothIdentities(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	link, err := env.service.CreateLink(ctx, &models.CreateLinkInput{
		Destinations: []string{"https://a.example", "https://b.example"},
		CustomKey:    ptr("old-key"),
		Domain:       "example.com",
	}, "")
	require.NoError(t, err)

	updated, err := env.service.UpdateLink(ctx, link.ID, &models.UpdateLinkInput{
		CustomKey: ptr("new-key"),
		Domain:    ptr("other.example"),
	})
	require.NoError(t, err)

	assert.Equal(t, "new-key", updated.ShortKey)
	assert.Equal(t, "https://other.example/r/new-key", updated.ShortURL)
	assert.Contains(t, env.cache.Deleted, "old-key")
	assert.Contains(t, env.cache.Deleted, "new-key")
	assert.Contains(t, env.balance.Resets, repository.BalanceKey("example.com", "old-key"))
	assert.Contains(t, env.balance.Resets, repository.BalanceKey("other.example", "new-key"))
}

func TestLinkService_UpdateLink_RemarkKeepsCounters(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	link, err := env.service.CreateLink(ctx, &models.CreateLinkInput{
		Destinations: []string{"https://a.example", "https://b.example"},
		CustomKey:    ptr("keep"),
		Domain:       "example.com",
	}, "")
	require.NoError(t, err)
	resetsAfterCreate := len(env.balance.Resets)

	_, err = env.balance.Pick(ctx, "example.com", "keep", 2, 0)
	require.NoError(t, err)

	_, err = env.service.UpdateLink(ctx, link.ID, &models.UpdateLinkInput{Remark: ptr("renamed")})
	require.NoError(t, err)

	assert.Len(t, env.balance.Resets, resetsAfterCreate)
	counts, err := env.balance.Counts(ctx, "example.com", "keep", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[0]+counts[1])
}

func TestLinkService_UpdateLink_KeyTaken(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	for _, key := range []string{"first", "second"} {
		_, err := env.service.CreateLink(ctx, &models.CreateLinkInput{
			Destinations: []string{"https://a.example"},
			CustomKey:    ptr(key),
			Domain:       "example.com",
		}, "")
		require.NoError(t, err)
	}

	_, err := env.service.UpdateLink(ctx, 2, &models.UpdateLinkInput{CustomKey: ptr("FIRST")})
	assert.ErrorIs(t, err, service.ErrKeyExists)
}

func TestLinkService_UpdateLink_NotFound(t *testing.T) {
	env := setupTestService()

	_, err := env.service.UpdateLink(context.Background(), 42, &models.UpdateLinkInput{Remark: ptr("x")})
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

func TestLinkService_DeleteLink(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	link, err := env.service.CreateLink(ctx, &models.CreateLinkInput{
		Destinations: []string{"https://a.example", "https://b.example"},
		CustomKey:    ptr("byebye"),
		Domain:       "example.com",
	}, "")
	require.NoError(t, err)
	require.NoError(t, env.cache.SetLink(ctx, "byebye", link.ToCached(), 0))

	require.NoError(t, env.service.DeleteLink(ctx, link.ID))

	_, cached := env.cache.Cached("byebye")
	assert.False(t, cached)
	assert.Contains(t, env.balance.Resets, repository.BalanceKey("example.com", "byebye"))

	_, err = env.service.GetLink(ctx, link.ID)
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)

	assert.ErrorIs(t, env.service.DeleteLink(ctx, link.ID), repository.ErrLinkNotFound)
}

func TestLinkService_UpdateLink_DelayedInvalidation(t *testing.T) {
	links := mocks.NewMockLinkRepository()
	cache := mocks.NewMockCacheRepository()
	balance := mocks.NewMockBalanceRepository()
	cfg := testConfig()
	cfg.Cache.InvalidateDelay = 200 * time.Millisecond
	svc := service.NewLinkService(links, cache, balance, cfg, nil)
	ctx := context.Background()

	link, err := svc.CreateLink(ctx, &models.CreateLinkInput{
		Destinations: []string{"https://old.example"},
		CustomKey:    ptr("racy1"),
		Domain:       "example.com",
	}, "")
	require.NoError(t, err)
	stale := link.ToCached()

	_, err = svc.UpdateLink(ctx, link.ID, &models.UpdateLinkInput{
		Destinations: []string{"https://new.example"},
	})
	require.NoError(t, err)

	// Промах кэша, начатый до обновления, пишет старый список уже после сброса
	require.NoError(t, cache.SetLink(ctx, "racy1", stale, time.Hour))
	_, cached := cache.Cached("racy1")
	require.True(t, cached)

	svc.Wait()
	_, cached = cache.Cached("racy1")
	assert.False(t, cached)
}

func TestLinkService_InvalidationFailureDoesNotFailMutation(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	link, err := env.service.CreateLink(ctx, &models.CreateLinkInput{
		Destinations: []string{"https://a.example"},
		CustomKey:    ptr("sturdy"),
	}, "example.com")
	require.NoError(t, err)

	env.cache.SetFail(true)
	env.balance.SetFail(true)

	_, err = env.service.UpdateLink(ctx, link.ID, &models.UpdateLinkInput{Destinations: []string{"https://b.example"}})
	assert.NoError(t, err)
}

func TestLinkService_GetDistributionStats(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	link, err := env.service.CreateLink(ctx, &models.CreateLinkInput{
		Destinations: []string{"https://a.example", "https://b.example", "https://c.example"},
		CustomKey:    ptr("dist"),
		Domain:       "example.com",
	}, "")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := env.balance.Pick(ctx, "example.com", "dist", 3, 0)
		require.NoError(t, err)
	}

	stats, err := env.service.GetDistributionStats(ctx, link.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.TotalCount)
	assert.True(t, stats.IsBalanced)
	require.Len(t, stats.Stats, 3)
	assert.Equal(t, []int64{2, 1, 1}, []int64{stats.Stats[0].Count, stats.Stats[1].Count, stats.Stats[2].Count})
	assert.InDelta(t, 50.0, stats.Stats[0].Percentage, 0.001)
	assert.Equal(t, "https://b.example", stats.Stats[1].URL)
}

func TestLinkService_ListLinks(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	for _, owner := range []string{"alice", "bob", "alice"} {
		_, err := env.service.CreateLink(ctx, &models.CreateLinkInput{
			Destinations: []string{"https://a.example"},
			OwnerID:      owner,
		}, "example.com")
		require.NoError(t, err)
	}

	links, total, err := env.service.ListLinks(ctx, models.LinkFilter{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, links, 2)
}
