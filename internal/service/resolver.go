package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SergeiKhy/fairlink/internal/config"
	"github.com/SergeiKhy/fairlink/internal/metrics"
	"github.com/SergeiKhy/fairlink/internal/models"
	"github.com/SergeiKhy/fairlink/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrDurableLookup означает, что PostgreSQL не ответил и существование
// ссылки установить нельзя.
var ErrDurableLookup = errors.New("durable lookup failed")

type Outcome int

const (
	OutcomeRedirected Outcome = iota + 1
	OutcomeNotFound
	OutcomeRestricted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRedirected:
		return "redirected"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRestricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// VisitorClassifier is satisfied by *classifier.Classifier.
type VisitorClassifier interface {
	Classify(ip, userAgent string) models.Classification
}

type RedirectRequest struct {
	ShortKey   string
	IPAddress  string
	UserAgent  string
	Referer    string
	IsLoadTest bool
}

type Resolution struct {
	Outcome  Outcome
	Location string
	// Visit is set only for OutcomeRedirected and should be handed to the
	// recorder once the response is written.
	Visit *models.VisitEvent
}

type Resolver struct {
	linkRepo     repository.LinkRepository
	cacheRepo    repository.CacheRepository
	selector     *FairSelector
	classifier   VisitorClassifier
	cacheTTL     time.Duration
	cacheTimeout time.Duration
	dbTimeout    time.Duration
	logger       *zap.Logger

	group    singleflight.Group
	populate sync.WaitGroup
}

func NewResolver(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	selector *FairSelector,
	classifier VisitorClassifier,
	cfg *config.Config,
	logger *zap.Logger,
) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		linkRepo:     linkRepo,
		cacheRepo:    cacheRepo,
		selector:     selector,
		classifier:   classifier,
		cacheTTL:     cfg.Cache.TTL,
		cacheTimeout: cfg.Cache.OpTimeout,
		dbTimeout:    cfg.DB.LookupTimeout,
		logger:       logger,
	}
}

// Resolve answers one redirect request. A non-nil error wraps
// ErrDurableLookup; NotFound and Restricted are outcomes, not errors.
func (r *Resolver) Resolve(ctx context.Context, req RedirectRequest) (*Resolution, error) {
	link, err := r.lookup(ctx, req.ShortKey)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			metrics.Redirects.WithLabelValues(OutcomeNotFound.String()).Inc()
			return &Resolution{Outcome: OutcomeNotFound}, nil
		}
		metrics.Redirects.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrDurableLookup, err)
	}

	class := r.classifier.Classify(req.IPAddress, req.UserAgent)
	if class.IsRestrictedRegion {
		metrics.Redirects.WithLabelValues(OutcomeRestricted.String()).Inc()
		return &Resolution{Outcome: OutcomeRestricted}, nil
	}

	location := r.selector.Select(ctx, link.Domain, req.ShortKey, link.Destinations)

	referer := req.Referer
	if referer == "" {
		referer = "direct"
	}

	metrics.Redirects.WithLabelValues(OutcomeRedirected.String()).Inc()
	return &Resolution{
		Outcome:  OutcomeRedirected,
		Location: location,
		Visit: &models.VisitEvent{
			LinkID:         link.ID,
			ShortKey:       req.ShortKey,
			Domain:         link.Domain,
			SelectedURL:    location,
			IPAddress:      req.IPAddress,
			UserAgent:      req.UserAgent,
			Referer:        referer,
			IsLoadTest:     req.IsLoadTest,
			Classification: class,
			OccurredAt:     time.Now().UTC(),
		},
	}, nil
}

// Wait blocks until background cache writes have finished.
func (r *Resolver) Wait() {
	r.populate.Wait()
}

func (r *Resolver) lookup(ctx context.Context, shortKey string) (*models.CachedLink, error) {
	cacheCtx, cancel := r.withTimeout(ctx, r.cacheTimeout)
	cached, err := r.cacheRepo.GetLink(cacheCtx, shortKey)
	cancel()

	switch {
	case err == nil:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	case errors.Is(err, repository.ErrCacheMiss):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		r.logger.Warn("Cache read failed, falling back to database",
			zap.String("op", "cache_get"),
			zap.String("short_key", shortKey),
			zap.Error(err),
		)
	}

	// Одновременные промахи по одному ключу дают один запрос в БД
	v, err, _ := r.group.Do(shortKey, func() (any, error) {
		dbCtx, cancel := r.withTimeout(context.WithoutCancel(ctx), r.dbTimeout)
		defer cancel()

		link, err := r.linkRepo.GetByShortKey(dbCtx, shortKey)
		if err != nil {
			return nil, err
		}
		if len(link.Destinations) == 0 {
			return nil, repository.ErrLinkNotFound
		}

		cached := link.ToCached()
		r.storeAsync(shortKey, cached)
		return cached, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*models.CachedLink), nil
}

func (r *Resolver) storeAsync(shortKey string, link *models.CachedLink) {
	r.populate.Add(1)
	go func() {
		defer r.populate.Done()

		ctx, cancel := r.withTimeout(context.Background(), r.cacheTimeout)
		defer cancel()

		if err := r.cacheRepo.SetLink(ctx, shortKey, link, r.cacheTTL); err != nil {
			r.logger.Warn("Failed to populate link cache",
				zap.String("op", "cache_set"),
				zap.String("short_key", shortKey),
				zap.String("domain", link.Domain),
				zap.Error(err),
			)
		}
	}()
}

func (r *Resolver) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
