package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sifan077/shorturl/internal/app/model"
	"github.com/sifan077/shorturl/internal/app/repository"
	"github.com/sifan077/shorturl/internal/app/shortcode"
	"go.uber.org/zap"
)

// ErrInvalidInput signals a request rejected before any storage call.
var ErrInvalidInput = errors.New("invalid input")

// notifyTimeout bounds the post-commit click notification.
const notifyTimeout = 5 * time.Second

// LinkService defines behaviour-level operations on links.
type LinkService interface {
	CreateShortLink(ctx context.Context, originalURL string, ownerID int64) (*model.Link, error)
	ListShortLinks(ctx context.Context, ownerID int64) ([]model.Link, error)
	// Resolve looks up code, counts the click and returns the updated link.
	Resolve(ctx context.Context, code string) (*model.Link, error)
}

// LinkDeps groups dependencies required by the link service.
type LinkDeps struct {
	Logger   *zap.Logger
	Links    repository.LinkRepository
	Recorder repository.ClickRecorder
	// Notifier is told about every stored click. Optional.
	Notifier ClickNotifier
	// StorageTimeout bounds each repository call. Zero disables it.
	StorageTimeout time.Duration
	Now            func() time.Time
}

type linkService struct {
	logger   *zap.Logger
	links    repository.LinkRepository
	recorder repository.ClickRecorder
	notifier ClickNotifier
	timeout  time.Duration
	now      func() time.Time
}

// NewLinkService returns a service implementation backed by the given repositories.
func NewLinkService(deps LinkDeps) LinkService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = utcNow
	}
	return &linkService{
		logger:   logger,
		links:    deps.Links,
		recorder: deps.Recorder,
		notifier: deps.Notifier,
		timeout:  deps.StorageTimeout,
		now:      now,
	}
}

func (s *linkService) CreateShortLink(ctx context.Context, originalURL string, ownerID int64) (*model.Link, error) {
	if strings.TrimSpace(originalURL) == "" {
		return nil, fmt.Errorf("create link: %w: original url is required", ErrInvalidInput)
	}
	if ownerID <= 0 {
		return nil, fmt.Errorf("create link: %w: owner id must be positive", ErrInvalidInput)
	}

	link := &model.Link{
		OriginalURL: originalURL,
		OwnerID:     ownerID,
		CreatedAt:   s.now(),
	}

	insertCtx, cancel := withTimeout(ctx, s.timeout)
	id, err := s.links.Insert(insertCtx, link)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	// The code is derived from the id, which only exists after the insert.
	code := shortcode.Encode(uint64(id))

	updateCtx, cancel := withTimeout(ctx, s.timeout)
	err = s.links.UpdateCode(updateCtx, id, code)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("assign short code: %w", err)
	}

	link.ID = id
	link.ShortCode = &code

	s.logger.Info("short link created",
		zap.Int64("link_id", id),
		zap.String("code", code),
		zap.Int64("owner_id", ownerID),
	)
	return link, nil
}

func (s *linkService) ListShortLinks(ctx context.Context, ownerID int64) ([]model.Link, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	links, err := s.links.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

func (s *linkService) Resolve(ctx context.Context, code string) (*model.Link, error) {
	findCtx, cancel := withTimeout(ctx, s.timeout)
	link, err := s.links.FindByCode(findCtx, code)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", code, err)
	}

	event := &model.ClickEvent{
		LinkID:     link.ID,
		OccurredAt: s.now(),
	}

	recordCtx, cancel := withTimeout(ctx, s.timeout)
	clicks, err := s.recorder.RecordClick(recordCtx, event)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("record click on %q: %w", code, err)
	}
	link.ClickCount = clicks

	s.logger.Debug("short link resolved",
		zap.String("code", code),
		zap.Int64("link_id", link.ID),
		zap.Int64("clicks", clicks),
	)

	// The notification outlives the request, so it is built from stored
	// values only.
	if s.notifier != nil {
		go s.notify(model.ClickNotification{
			EventID:    event.ID,
			LinkID:     link.ID,
			ShortCode:  link.Code(),
			OccurredAt: event.OccurredAt,
		})
	}
	return link, nil
}

func (s *linkService) notify(n model.ClickNotification) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := s.notifier.NotifyClick(ctx, n); err != nil {
		s.logger.Warn("failed to publish click notification",
			zap.Error(err),
			zap.String("code", n.ShortCode),
			zap.Int64("event_id", n.EventID),
		)
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
