package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"benchboard/internal/cache"
)

var ErrInvalid = errors.New("invalid input")

const (
	DefaultModelLimit       = 50
	MaxModelLimit           = 500
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// Service fronts the repository with the per-domain caches. Reads go through
// the cache unless refresh is set; writes drop every domain they can affect.
type Service struct {
	repo   Repository
	caches *cache.Manager
	logger zerolog.Logger
}

func NewService(repo Repository, caches *cache.Manager) *Service {
	return &Service{
		repo:   repo,
		caches: caches,
		logger: log.With().Str("component", "leaderboard").Logger(),
	}
}

func (s *Service) ListModels(ctx context.Context, limit, offset int, refresh bool) ([]Model, error) {
	limit = clamp(limit, DefaultModelLimit, MaxModelLimit)
	if offset < 0 {
		offset = 0
	}
	key := cache.Key(modelListPrefix, map[string]any{"limit": limit, "offset": offset})
	return cache.Fetch(ctx, s.caches.Models(), key, func(ctx context.Context) ([]Model, error) {
		return s.repo.ListModels(ctx, limit, offset)
	}, refresh)
}

func (s *Service) GetModel(ctx context.Context, id string, refresh bool) (Model, error) {
	return cache.Fetch(ctx, s.caches.Models(), modelKey(id), func(ctx context.Context) (Model, error) {
		return s.repo.GetModel(ctx, id)
	}, refresh)
}

func (s *Service) CreateModel(ctx context.Context, m Model) (Model, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return Model{}, fmt.Errorf("%w: model name is required", ErrInvalid)
	}
	created, err := s.repo.CreateModel(ctx, m)
	if err != nil {
		return Model{}, err
	}
	// Single-model entries can't be stale after an insert; only listings are.
	s.caches.Models().InvalidatePrefix(modelListPrefix + ":")
	s.invalidate(cache.DomainStatistics)
	return created, nil
}

func (s *Service) DeleteModel(ctx context.Context, id string) error {
	if err := s.repo.DeleteModel(ctx, id); err != nil {
		return err
	}
	models := s.caches.Models()
	models.Invalidate(modelKey(id))
	models.InvalidatePrefix(modelListPrefix + ":")
	s.invalidate(cache.DomainMetrics, cache.DomainLeaderboard, cache.DomainStatistics)
	return nil
}

func (s *Service) ListMetrics(ctx context.Context, refresh bool) ([]Metric, error) {
	return cache.Fetch(ctx, s.caches.Metrics(), "metrics", s.repo.ListMetrics, refresh)
}

func (s *Service) MetricAggregates(ctx context.Context, refresh bool) ([]MetricAggregate, error) {
	return cache.Fetch(ctx, s.caches.Metrics(), "metric_aggregates", s.repo.MetricAggregates, refresh)
}

func (s *Service) CreateMetric(ctx context.Context, m Metric) (Metric, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return Metric{}, fmt.Errorf("%w: metric name is required", ErrInvalid)
	}
	created, err := s.repo.CreateMetric(ctx, m)
	if err != nil {
		return Metric{}, err
	}
	s.invalidate(cache.DomainMetrics, cache.DomainStatistics)
	return created, nil
}

func (s *Service) CreateSubmission(ctx context.Context, sub Submission) (Submission, error) {
	if sub.ModelID == "" || sub.MetricID == "" {
		return Submission{}, fmt.Errorf("%w: model_id and metric_id are required", ErrInvalid)
	}
	created, err := s.repo.CreateSubmission(ctx, sub)
	if err != nil {
		return Submission{}, err
	}
	s.invalidate(cache.DomainMetrics, cache.DomainLeaderboard, cache.DomainStatistics)
	return created, nil
}

func (s *Service) Leaderboard(ctx context.Context, metric string, limit int, refresh bool) (Ranking, error) {
	limit = clamp(limit, DefaultLeaderboardLimit, MaxLeaderboardLimit)
	key := cache.Key("leaderboard", map[string]any{"metric": metric, "limit": limit})
	return cache.Fetch(ctx, s.caches.Leaderboard(), key, func(ctx context.Context) (Ranking, error) {
		return s.repo.Leaderboard(ctx, metric, limit)
	}, refresh)
}

func (s *Service) Statistics(ctx context.Context, refresh bool) (Statistics, error) {
	return cache.Fetch(ctx, s.caches.Statistics(), "statistics", s.repo.Statistics, refresh)
}

func (s *Service) invalidate(domains ...string) {
	for _, d := range domains {
		if err := s.caches.Invalidate(d); err != nil {
			s.logger.Error().Err(err).Str("domain", d).Msg("cache invalidation failed")
		}
	}
	s.logger.Debug().Strs("domains", domains).Msg("caches invalidated")
}

const modelListPrefix = "models"

func modelKey(id string) string { return "model:" + id }

func clamp(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	if v > hi {
		return hi
	}
	return v
}
