package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/SergeiKhy/fairlink/internal/config"
	"github.com/SergeiKhy/fairlink/internal/models"
	"github.com/SergeiKhy/fairlink/internal/repository"
	"go.uber.org/zap"
)

// Ошибки сервиса
var (
	ErrInvalidURL          = errors.New("invalid destination URL")
	ErrInvalidCode         = errors.New("invalid custom short key")
	ErrKeyExists           = repository.ErrKeyExists
	ErrNoDestinations      = errors.New("at least one destination is required")
	ErrTooManyDestinations = errors.New("too many destinations")
	ErrRemarkTooLong       = errors.New("remark is too long")
)

// Константы сервиса
const (
	keyLength       = 6
	maxKeyAttempts  = 5
	maxRemarkLength = 256
	charset         = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	invalidateAfter = 2 * time.Second
)

var customKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{4,12}$`)

// LinkService управляет справочником ссылок и сбрасывает производное
// состояние в Redis при каждом изменении.
type LinkService interface {
	CreateLink(ctx context.Context, input *models.CreateLinkInput, requestHost string) (*models.Link, error)
	GetLink(ctx context.Context, id int64) (*models.Link, error)
	ListLinks(ctx context.Context, filter models.LinkFilter) ([]*models.Link, int64, error)
	UpdateLink(ctx context.Context, id int64, input *models.UpdateLinkInput) (*models.Link, error)
	DeleteLink(ctx context.Context, id int64) error
	GetDistributionStats(ctx context.Context, id int64) (*models.DistributionStats, error)
	// Wait blocks until delayed cache deletes have run
	Wait()
}

type linkService struct {
	linkRepo        repository.LinkRepository
	cacheRepo       repository.CacheRepository
	balanceRepo     repository.BalanceRepository
	defaultDomain   string
	maxDestinations int
	invalidateDelay time.Duration
	pending         sync.WaitGroup
	logger          *zap.Logger
}

func NewLinkService(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	balanceRepo repository.BalanceRepository,
	cfg *config.Config,
	logger *zap.Logger,
) LinkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxDest := cfg.Link.MaxDestinations
	if maxDest <= 0 {
		maxDest = 10
	}
	return &linkService{
		linkRepo:        linkRepo,
		cacheRepo:       cacheRepo,
		balanceRepo:     balanceRepo,
		defaultDomain:   normalizeDomain(cfg.App.DefaultDomain),
		maxDestinations: maxDest,
		invalidateDelay: cfg.Cache.InvalidateDelay,
		logger:          logger,
	}
}

func (s *linkService) CreateLink(ctx context.Context, input *models.CreateLinkInput, requestHost string) (*models.Link, error) {
	destinations, err := s.validateDestinations(input.Destinations)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(input.Remark) > maxRemarkLength {
		return nil, ErrRemarkTooLong
	}

	domain := normalizeDomain(input.Domain)
	if domain == "" {
		domain = normalizeDomain(requestHost)
	}
	if domain == "" {
		domain = s.defaultDomain
	}

	custom := input.CustomKey != nil && *input.CustomKey != ""
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		shortKey, err := s.pickKey(ctx, input.CustomKey, domain)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		link := &models.Link{
			ShortKey:     shortKey,
			Domain:       domain,
			Destinations: destinations,
			OwnerID:      input.OwnerID,
			Remark:       input.Remark,
			ShortURL:     buildShortURL(domain, shortKey),
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err = s.linkRepo.Create(ctx, link)
		if err == nil {
			// Ключ мог остаться в кэше от удалённой ссылки
			s.invalidate(ctx, []string{shortKey}, [][2]string{{domain, shortKey}})
			s.logger.Info("Link created",
				zap.Int64("id", link.ID),
				zap.String("short_key", link.ShortKey),
				zap.String("domain", link.Domain),
				zap.Int("destinations", len(link.Destinations)),
			)
			return link, nil
		}
		// Гонка с параллельным созданием: для сгенерированного ключа пробуем ещё раз
		if !errors.Is(err, repository.ErrKeyExists) || custom {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to generate a free short key after %d attempts", maxKeyAttempts)
}

func (s *linkService) GetLink(ctx context.Context, id int64) (*models.Link, error) {
	return s.linkRepo.GetByID(ctx, id)
}

func (s *linkService) ListLinks(ctx context.Context, filter models.LinkFilter) ([]*models.Link, int64, error) {
	return s.linkRepo.List(ctx, filter)
}

func (s *linkService) UpdateLink(ctx context.Context, id int64, input *models.UpdateLinkInput) (*models.Link, error) {
	link, err := s.linkRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldKey, oldDomain := link.ShortKey, link.Domain
	oldDestinations := link.Destinations

	if input.Destinations != nil {
		destinations, err := s.validateDestinations(input.Destinations)
		if err != nil {
			return nil, err
		}
		link.Destinations = destinations
	}
	if input.Remark != nil {
		if utf8.RuneCountInString(*input.Remark) > maxRemarkLength {
			return nil, ErrRemarkTooLong
		}
		link.Remark = *input.Remark
	}
	if input.Domain != nil {
		if d := normalizeDomain(*input.Domain); d != "" {
			link.Domain = d
		}
	}
	if input.CustomKey != nil && *input.CustomKey != "" {
		if !ValidShortKey(*input.CustomKey) {
			return nil, ErrInvalidCode
		}
		link.ShortKey = *input.CustomKey
	}

	identityChanged := link.ShortKey != oldKey || link.Domain != oldDomain
	if identityChanged {
		taken, err := s.linkRepo.ShortKeyTaken(ctx, link.Domain, link.ShortKey, link.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrKeyExists
		}
	}
	link.ShortURL = buildShortURL(link.Domain, link.ShortKey)

	if err := s.linkRepo.Update(ctx, link); err != nil {
		return nil, err
	}

	// Кэш сбрасываем всегда, счётчики только при смене набора или идентичности
	cacheKeys := []string{oldKey}
	if link.ShortKey != oldKey {
		cacheKeys = append(cacheKeys, link.ShortKey)
	}
	var counters [][2]string
	if identityChanged || !slices.Equal(oldDestinations, link.Destinations) {
		counters = append(counters, [2]string{oldDomain, oldKey})
		if identityChanged {
			counters = append(counters, [2]string{link.Domain, link.ShortKey})
		}
	}
	s.invalidate(ctx, cacheKeys, counters)

	s.logger.Info("Link updated",
		zap.Int64("id", link.ID),
		zap.String("short_key", link.ShortKey),
		zap.String("domain", link.Domain),
		zap.Bool("counters_reset", len(counters) > 0),
	)
	return link, nil
}

func (s *linkService) DeleteLink(ctx context.Context, id int64) error {
	link, err := s.linkRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.linkRepo.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, []string{link.ShortKey}, [][2]string{{link.Domain, link.ShortKey}})
	s.logger.Info("Link deleted", zap.Int64("id", id), zap.String("short_key", link.ShortKey))
	return nil
}

func (s *linkService) GetDistributionStats(ctx context.Context, id int64) (*models.DistributionStats, error) {
	link, err := s.linkRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.balanceRepo.Counts(ctx, link.Domain, link.ShortKey, len(link.Destinations))
	if err != nil {
		return nil, err
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	stats := &models.DistributionStats{
		LinkID:     link.ID,
		ShortKey:   link.ShortKey,
		Domain:     link.Domain,
		TotalCount: total,
		Stats:      make([]models.DestinationShare, 0, len(counts)),
		IsBalanced: models.IsBalanced(counts),
	}
	for i, c := range counts {
		share := models.DestinationShare{Index: i, URL: link.Destinations[i], Count: c}
		if total > 0 {
			share.Percentage = float64(c) * 100 / float64(total)
		}
		stats.Stats = append(stats.Stats, share)
	}

	return stats, nil
}

// invalidate drops cache entries and distribution counters. The database
// change is already committed, so failures are only logged.
func (s *linkService) invalidate(ctx context.Context, cacheKeys []string, counters [][2]string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateAfter)
	defer cancel()

	if err := s.cacheRepo.DeleteLink(ctx, cacheKeys...); err != nil {
		s.logger.Error("Failed to invalidate link cache",
			zap.String("op", "cache_delete"),
			zap.Strings("short_keys", cacheKeys),
			zap.Error(err),
		)
	}

	for _, c := range counters {
		if err := s.balanceRepo.Reset(ctx, c[0], c[1]); err != nil {
			s.logger.Error("Failed to reset distribution counters",
				zap.String("op", "balance_reset"),
				zap.String("domain", c[0]),
				zap.String("short_key", c[1]),
				zap.Error(err),
			)
		}
	}

	// Повторное удаление снимает запись, которую успел вернуть
	// идущий параллельно промах кэша в Resolver
	if s.invalidateDelay > 0 {
		s.pending.Add(1)
		time.AfterFunc(s.invalidateDelay, func() {
			defer s.pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), invalidateAfter)
			defer cancel()
			if err := s.cacheRepo.DeleteLink(ctx, cacheKeys...); err != nil {
				s.logger.Warn("Delayed cache invalidation failed",
					zap.String("op", "cache_delete_delayed"),
					zap.Strings("short_keys", cacheKeys),
					zap.Error(err),
				)
			}
		})
	}
}

func (s *linkService) Wait() {
	s.pending.Wait()
}

func (s *linkService) pickKey(ctx context.Context, custom *string, domain string) (string, error) {
	if custom != nil && *custom != "" {
		if !ValidShortKey(*custom) {
			return "", ErrInvalidCode
		}
		taken, err := s.linkRepo.ShortKeyTaken(ctx, domain, *custom, 0)
		if err != nil {
			return "", err
		}
		if taken {
			return "", ErrKeyExists
		}
		return *custom, nil
	}

	for i := 0; i < maxKeyAttempts; i++ {
		key, err := generateShortKey()
		if err != nil {
			return "", fmt.Errorf("failed to generate key: %w", err)
		}
		taken, err := s.linkRepo.ShortKeyTaken(ctx, domain, key, 0)
		if err != nil {
			return "", err
		}
		if !taken {
			return key, nil
		}
	}

	return "", fmt.Errorf("failed to generate a free short key after %d attempts", maxKeyAttempts)
}

func (s *linkService) validateDestinations(raw []string) ([]string, error) {
	destinations := make([]string, 0, len(raw))
	for _, d := range raw {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if err := ValidateURL(d); err != nil {
			return nil, err
		}
		destinations = append(destinations, d)
	}

	if len(destinations) == 0 {
		return nil, ErrNoDestinations
	}
	if len(destinations) > s.maxDestinations {
		return nil, ErrTooManyDestinations
	}
	return destinations, nil
}

// generateShortKey генерирует случайный ключ длиной 6 символов
func generateShortKey() (string, error) {
	result := make([]byte, keyLength)
	for i := range result {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[num.Int64()]
	}
	return string(result), nil
}

// ValidShortKey: 4-12 символов из [a-zA-Z0-9_-]
func ValidShortKey(key string) bool {
	return customKeyPattern.MatchString(key)
}

// ValidateURL принимает только абсолютные http(s) URL с хостом
func ValidateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

func normalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	return strings.TrimPrefix(host, "www.")
}

// buildShortURL: https для доменов, http для голого IP
func buildShortURL(domain, shortKey string) string {
	host := domain
	if h, _, err := net.SplitHostPort(domain); err == nil {
		host = h
	}
	scheme := "https"
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		scheme = "http"
	}
	return scheme + "://" + domain + "/r/" + shortKey
}
