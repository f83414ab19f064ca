package service

import (
	"context"
	"sync"
	"time"

	"github.com/SergeiKhy/fairlink/internal/config"
	"github.com/SergeiKhy/fairlink/internal/metrics"
	"github.com/SergeiKhy/fairlink/internal/models"
	"github.com/SergeiKhy/fairlink/internal/repository"
	"go.uber.org/zap"
)

// Значения по умолчанию для worker pool
const (
	defaultWorkerCount   = 3
	defaultChannelBuffer = 1000
	defaultWriteTimeout  = 5 * time.Second
	defaultDedupTTL      = 300 * time.Second
)

// VisitRecorder асинхронно пишет клики, не задерживая ответ редиректа
type VisitRecorder interface {
	Start()
	// Stop drains queued events and waits for the workers.
	Stop()
	// Record enqueues the event without blocking; a full buffer drops it.
	Record(event *models.VisitEvent)
	GetStats(ctx context.Context, linkID int64) (*models.ClickStats, error)
	GetDailyStats(ctx context.Context, linkID int64, days int) ([]models.DailyClickStats, error)
	GetDestinationStats(ctx context.Context, linkID int64) ([]models.DestinationClickStats, error)
	QueueStats() QueueStats
}

// visitRecorder реализация с использованием Worker Pool
type visitRecorder struct {
	clickRepo    repository.ClickRepository
	cacheRepo    repository.CacheRepository
	logger       *zap.Logger
	events       chan *models.VisitEvent
	workerCount  int
	dedupTTL     time.Duration
	writeTimeout time.Duration
	wg           sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewVisitRecorder(
	clickRepo repository.ClickRepository,
	cacheRepo repository.CacheRepository,
	cfg config.RecorderConfig,
	logger *zap.Logger,
) VisitRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	dedupTTL := cfg.DedupTTL
	if dedupTTL <= 0 {
		dedupTTL = defaultDedupTTL
	}

	return &visitRecorder{
		clickRepo:    clickRepo,
		cacheRepo:    cacheRepo,
		logger:       logger,
		events:       make(chan *models.VisitEvent, buffer),
		workerCount:  workers,
		dedupTTL:     dedupTTL,
		writeTimeout: writeTimeout,
	}
}

func (p *visitRecorder) Start() {
	p.logger.Info("Запуск воркеров записи переходов", zap.Int("count", p.workerCount))

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *visitRecorder) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.events)
	p.mu.Unlock()

	p.logger.Info("Остановка записи переходов, дописываем очередь", zap.Int("pending", len(p.events)))
	p.wg.Wait()
	metrics.RecorderQueueDepth.Set(0)
	p.logger.Info("Запись переходов остановлена")
}

func (p *visitRecorder) Record(event *models.VisitEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		metrics.Visits.WithLabelValues("dropped").Inc()
		return
	}

	select {
	case p.events <- event:
		metrics.RecorderQueueDepth.Set(float64(len(p.events)))
	default:
		// Буфер заполнен: теряем статистику, но не блокируем редирект
		metrics.Visits.WithLabelValues("dropped").Inc()
		p.logger.Warn("Буфер переходов заполнен, событие потеряно",
			zap.String("short_key", event.ShortKey),
			zap.String("domain", event.Domain),
		)
	}
}

func (p *visitRecorder) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Воркер записи переходов запущен", zap.Int("id", id))

	// Канал закрывается в Stop, поэтому воркер выходит только после того,
	// как очередь вычитана
	for event := range p.events {
		metrics.RecorderQueueDepth.Set(float64(len(p.events)))
		p.process(event)
	}

	p.logger.Debug("Воркер записи переходов остановлен", zap.Int("id", id))
}

func (p *visitRecorder) process(event *models.VisitEvent) {
	// Бот пишется всегда, даже с X-Load-Test
	if event.IsLoadTest && !event.Classification.IsBot {
		metrics.Visits.WithLabelValues("load_test").Inc()
		return
	}
	if event.Classification.IsRestrictedRegion {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()

	noDedup := false
	if !event.Classification.IsBot {
		fresh, err := p.cacheRepo.MarkVisit(ctx, event.Domain, event.ShortKey, event.IPAddress, p.dedupTTL)
		switch {
		case err != nil:
			// Без дедупликации лучше, чем без статистики
			noDedup = true
			p.logger.Warn("Dedup check failed, recording without dedup",
				zap.String("op", "visit_mark"),
				zap.String("short_key", event.ShortKey),
				zap.String("domain", event.Domain),
				zap.Error(err),
			)
		case !fresh:
			metrics.Visits.WithLabelValues("duplicate").Inc()
			return
		}
	}

	click := &models.Click{
		LinkID:             event.LinkID,
		ShortKey:           event.ShortKey,
		Domain:             event.Domain,
		SelectedURL:        event.SelectedURL,
		IPAddress:          event.IPAddress,
		UserAgent:          event.UserAgent,
		Referer:            event.Referer,
		IsBot:              event.Classification.IsBot,
		Country:            event.Classification.Country,
		Region:             event.Classification.Region,
		City:               event.Classification.City,
		IsRestrictedRegion: event.Classification.IsRestrictedRegion,
		NoDedup:            noDedup,
		ClickedAt:          event.OccurredAt,
	}
	if click.ClickedAt.IsZero() {
		click.ClickedAt = time.Now().UTC()
	}

	// Одна попытка: повтор после неоднозначной ошибки может задвоить запись
	if err := p.clickRepo.RecordClick(ctx, click); err != nil {
		metrics.Visits.WithLabelValues("failed").Inc()
		p.logger.Error("Не удалось записать переход",
			zap.String("op", "record_click"),
			zap.String("short_key", event.ShortKey),
			zap.String("domain", event.Domain),
			zap.Error(err),
		)
		return
	}

	metrics.Visits.WithLabelValues("recorded").Inc()
}

func (p *visitRecorder) GetStats(ctx context.Context, linkID int64) (*models.ClickStats, error) {
	return p.clickRepo.GetStats(ctx, linkID)
}

func (p *visitRecorder) GetDailyStats(ctx context.Context, linkID int64, days int) ([]models.DailyClickStats, error) {
	return p.clickRepo.GetDailyStats(ctx, linkID, days)
}

func (p *visitRecorder) GetDestinationStats(ctx context.Context, linkID int64) ([]models.DestinationClickStats, error) {
	return p.clickRepo.GetDestinationStats(ctx, linkID)
}

// QueueStats возвращает состояние очереди для мониторинга
func (p *visitRecorder) QueueStats() QueueStats {
	return QueueStats{
		BufferSize:  cap(p.events),
		BufferUsed:  len(p.events),
		WorkerCount: p.workerCount,
	}
}

type QueueStats struct {
	BufferSize  int `json:"buffer_size"`
	BufferUsed  int `json:"buffer_used"`
	WorkerCount int `json:"worker_count"`
}
