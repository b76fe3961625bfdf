package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/shorturl/internal/app/model"
	"github.com/sifan077/shorturl/internal/app/repository"
	"go.uber.org/zap"
)

// AnalyticsService aggregates stored click events into per-day counts.
type AnalyticsService interface {
	// ClicksByCodeAndRange counts the clicks on one link with
	// start <= occurred_at < end, grouped by calendar date.
	ClicksByCodeAndRange(ctx context.Context, code string, start, end time.Time) (model.DailyClicks, error)
	// ClicksByOwnerAndDateRange counts the clicks on all of the owner's links
	// from the start of startDate through the end of endDate, grouped by
	// calendar date. Only the date part of startDate and endDate is used.
	ClicksByOwnerAndDateRange(ctx context.Context, ownerID int64, startDate, endDate time.Time) (model.DailyClicks, error)
}

// AnalyticsDeps groups dependencies required by the analytics service.
type AnalyticsDeps struct {
	Logger *zap.Logger
	Links  repository.LinkRepository
	Clicks repository.ClickEventRepository
	// Location defines calendar days. Defaults to UTC.
	Location       *time.Location
	StorageTimeout time.Duration
}

type analyticsService struct {
	logger  *zap.Logger
	links   repository.LinkRepository
	clicks  repository.ClickEventRepository
	loc     *time.Location
	timeout time.Duration
}

// NewAnalyticsService returns an analytics service backed by the given repositories.
func NewAnalyticsService(deps AnalyticsDeps) AnalyticsService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &analyticsService{
		logger:  logger,
		links:   deps.Links,
		clicks:  deps.Clicks,
		loc:     loc,
		timeout: deps.StorageTimeout,
	}
}

func (s *analyticsService) ClicksByCodeAndRange(ctx context.Context, code string, start, end time.Time) (model.DailyClicks, error) {
	findCtx, cancel := withTimeout(ctx, s.timeout)
	link, err := s.links.FindByCode(findCtx, code)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("clicks by code %q: %w", code, err)
	}

	if !end.After(start) {
		return model.DailyClicks{}, nil
	}

	eventsCtx, cancel := withTimeout(ctx, s.timeout)
	events, err := s.clicks.FindByLinkAndRange(eventsCtx, link.ID, start, end)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("clicks by code %q: %w", code, err)
	}

	return s.countByDate(events), nil
}

func (s *analyticsService) ClicksByOwnerAndDateRange(ctx context.Context, ownerID int64, startDate, endDate time.Time) (model.DailyClicks, error) {
	start := s.startOfDay(startDate)
	end := s.startOfDay(endDate).AddDate(0, 0, 1)
	if !end.After(start) {
		return model.DailyClicks{}, nil
	}

	linksCtx, cancel := withTimeout(ctx, s.timeout)
	links, err := s.links.FindByOwner(linksCtx, ownerID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("clicks by owner %d: %w", ownerID, err)
	}
	if len(links) == 0 {
		return model.DailyClicks{}, nil
	}

	ids := make([]int64, len(links))
	for i, link := range links {
		ids[i] = link.ID
	}

	eventsCtx, cancel := withTimeout(ctx, s.timeout)
	events, err := s.clicks.FindByLinksAndRange(eventsCtx, ids, start, end)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("clicks by owner %d: %w", ownerID, err)
	}

	s.logger.Debug("aggregated owner clicks",
		zap.Int64("owner_id", ownerID),
		zap.Int("links", len(links)),
		zap.Int("events", len(events)),
	)
	return s.countByDate(events), nil
}

// countByDate groups events by the calendar date of OccurredAt. Dates
// without events are left out.
func (s *analyticsService) countByDate(events []model.ClickEvent) model.DailyClicks {
	counts := make(model.DailyClicks)
	for _, e := range events {
		counts[e.OccurredAt.In(s.loc).Format(model.DateLayout)]++
	}
	return counts
}

func (s *analyticsService) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}
