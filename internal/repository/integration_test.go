package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SergeiKhy/fairlink/internal/config"
	"github.com/SergeiKhy/fairlink/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// integrationEnv хранит подключения к настоящим PostgreSQL и Redis
type integrationEnv struct {
	db    *PostgresDB
	redis *RedisDB
}

// setupIntegration поднимает контейнеры, применяет миграции и подключается
func setupIntegration(t *testing.T) *integrationEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	ctx := t.Context()

	// Запускаем контейнер PostgreSQL
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("fairlink"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pgContainer) })

	// Запускаем контейнер Redis
	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(redisContainer) })

	// Получаем данные для подключения
	dbHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	dbPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	dbCfg := config.DBConfig{
		Host:     dbHost,
		Port:     dbPort.Port(),
		User:     "user",
		Password: "password",
		Name:     "fairlink",
	}
	require.NoError(t, Migrate(dbCfg.URL(), nil))
	// Повторный запуск ничего не меняет
	require.NoError(t, Migrate(dbCfg.URL(), nil))

	db, err := NewPostgresDB(dbCfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	rdb, err := NewRedisClient(config.RedisConfig{Host: redisHost, Port: redisPort.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	return &integrationEnv{db: db, redis: rdb}
}

func newLink(key, domain string, destinations ...string) *models.Link {
	return &models.Link{
		ShortKey:     key,
		Domain:       domain,
		Destinations: destinations,
		ShortURL:     "https://" + domain + "/r/" + key,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestIntegration_LinkRepository(t *testing.T) {
	env := setupIntegration(t)
	repo := NewLinkRepository(env.db)
	ctx := context.Background()

	link := newLink("Promo", "example.com", "https://a.example", "https://b.example")
	require.NoError(t, repo.Create(ctx, link))
	assert.NotZero(t, link.ID)

	t.Run("поиск по ключу чувствителен к регистру", func(t *testing.T) {
		got, err := repo.GetByShortKey(ctx, "Promo")
		require.NoError(t, err)
		assert.Equal(t, link.Destinations, got.Destinations)

		_, err = repo.GetByShortKey(ctx, "promo")
		assert.ErrorIs(t, err, ErrLinkNotFound)
	})

	t.Run("уникальность без учёта регистра в пределах домена", func(t *testing.T) {
		taken, err := repo.ShortKeyTaken(ctx, "example.com", "PROMO", 0)
		require.NoError(t, err)
		assert.True(t, taken)

		taken, err = repo.ShortKeyTaken(ctx, "example.com", "PROMO", link.ID)
		require.NoError(t, err)
		assert.False(t, taken)

		err = repo.Create(ctx, newLink("pRoMo", "example.com", "https://c.example"))
		assert.ErrorIs(t, err, ErrKeyExists)

		require.NoError(t, repo.Create(ctx, newLink("promo", "other.example", "https://c.example")))
	})

	t.Run("обновление и удаление", func(t *testing.T) {
		link.Destinations = []string{"https://c.example"}
		link.Remark = "updated"
		require.NoError(t, repo.Update(ctx, link))

		got, err := repo.GetByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"https://c.example"}, got.Destinations)
		assert.Equal(t, "updated", got.Remark)

		links, total, err := repo.List(ctx, models.LinkFilter{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, links, 2)

		require.NoError(t, repo.Delete(ctx, link.ID))
		assert.ErrorIs(t, repo.Delete(ctx, link.ID), ErrLinkNotFound)
		_, err = repo.GetByID(ctx, link.ID)
		assert.ErrorIs(t, err, ErrLinkNotFound)
	})
}

func TestIntegration_ClickRepository(t *testing.T) {
	env := setupIntegration(t)
	links := NewLinkRepository(env.db)
	clicks := NewClickRepository(env.db)
	ctx := context.Background()

	link := newLink("stats", "example.com", "https://a.example", "https://b.example")
	require.NoError(t, links.Create(ctx, link))

	record := func(ip, url string, bot bool) {
		region := "CA"
		require.NoError(t, clicks.RecordClick(ctx, &models.Click{
			LinkID:      link.ID,
			ShortKey:    link.ShortKey,
			Domain:      link.Domain,
			SelectedURL: url,
			IPAddress:   ip,
			UserAgent:   "Mozilla/5.0",
			Referer:     "direct",
			IsBot:       bot,
			Country:     "US",
			Region:      &region,
			ClickedAt:   time.Now().UTC(),
		}))
	}
	record("8.8.8.8", "https://a.example", false)
	record("8.8.8.8", "https://b.example", false)
	record("8.8.4.4", "https://a.example", false)
	record("66.249.66.1", "https://b.example", true)

	stats, err := clicks.GetStats(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalClicks)
	assert.Equal(t, int64(2), stats.UniqueClicks)
	assert.NotNil(t, stats.LastClickAt)

	daily, err := clicks.GetDailyStats(ctx, link.ID, 7)
	require.NoError(t, err)
	var dailyTotal int64
	for _, d := range daily {
		dailyTotal += d.Clicks
	}
	assert.Equal(t, int64(3), dailyTotal)

	perDest, err := clicks.GetDestinationStats(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.DestinationClickStats{
		{URL: "https://a.example", Clicks: 2},
		{URL: "https://b.example", Clicks: 1},
	}, perDest)

	// Клики удаляются вместе со ссылкой
	require.NoError(t, links.Delete(ctx, link.ID))
	stats, err = clicks.GetStats(ctx, link.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalClicks)
}

// TestIntegration_BalanceScriptOnRedis гоняет Lua-скрипт на настоящем Redis
// из нескольких горутин
func TestIntegration_BalanceScriptOnRedis(t *testing.T) {
	env := setupIntegration(t)
	repo := NewBalanceRepository(env.redis)
	ctx := context.Background()

	const workers, perWorker, n = 16, 30, 3
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := repo.Pick(ctx, "example.com", "load", n, time.Hour)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	counts, err := repo.Counts(ctx, "example.com", "load", n)
	require.NoError(t, err)
	assert.Equal(t, []int64{160, 160, 160}, counts)

	ttl, err := env.redis.Client.TTL(ctx, BalanceSeqKey("example.com", "load")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}
