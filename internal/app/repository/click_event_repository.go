package repository

import (
	"context"
	"time"

	"github.com/sifan077/shorturl/internal/app/model"
	"gorm.io/gorm"
)

// ClickEventRepository defines the data access contract for click events.
// Range queries are half-open: start <= occurred_at < end.
type ClickEventRepository interface {
	Append(ctx context.Context, event *model.ClickEvent) error
	FindByLinkAndRange(ctx context.Context, linkID int64, start, end time.Time) ([]model.ClickEvent, error)
	FindByLinksAndRange(ctx context.Context, linkIDs []int64, start, end time.Time) ([]model.ClickEvent, error)
}

// ClickRecorder increments a link's click count and appends the matching
// click event as one atomic unit.
type ClickRecorder interface {
	// RecordClick stores event, assigns event.ID and returns the link's new
	// click count. It returns ErrLinkNotFound if event.LinkID does not exist.
	RecordClick(ctx context.Context, event *model.ClickEvent) (int64, error)
}

type clickEventRepository struct {
	db *gorm.DB
}

// NewClickEventRepository returns a GORM-backed ClickEventRepository.
func NewClickEventRepository(db *gorm.DB) ClickEventRepository {
	return &clickEventRepository{db: db}
}

func (r *clickEventRepository) Append(ctx context.Context, event *model.ClickEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *clickEventRepository) FindByLinkAndRange(ctx context.Context, linkID int64, start, end time.Time) ([]model.ClickEvent, error) {
	var result []model.ClickEvent
	if err := r.db.WithContext(ctx).
		Where("link_id = ? AND occurred_at >= ? AND occurred_at < ?", linkID, start, end).
		Order("occurred_at ASC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *clickEventRepository) FindByLinksAndRange(ctx context.Context, linkIDs []int64, start, end time.Time) ([]model.ClickEvent, error) {
	if len(linkIDs) == 0 {
		return nil, nil
	}

	var result []model.ClickEvent
	if err := r.db.WithContext(ctx).
		Where("link_id IN ? AND occurred_at >= ? AND occurred_at < ?", linkIDs, start, end).
		Order("occurred_at ASC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

type clickRecorder struct {
	db *gorm.DB
}

// NewClickRecorder returns a ClickRecorder that wraps the increment and the
// event insert in one database transaction.
func NewClickRecorder(db *gorm.DB) ClickRecorder {
	return &clickRecorder{db: db}
}

func (r *clickRecorder) RecordClick(ctx context.Context, event *model.ClickEvent) (int64, error) {
	var clicks int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := incrementClickCount(tx, event.LinkID)
		if err != nil {
			return err
		}
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		clicks = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return clicks, nil
}
