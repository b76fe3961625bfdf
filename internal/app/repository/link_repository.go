package repository

import (
	"context"
	"errors"

	"github.com/sifan077/shorturl/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrDuplicateCode signals that a short code is already bound to another link.
	ErrDuplicateCode = errors.New("short code already assigned")
)

// LinkRepository defines the data access contract for short links.
type LinkRepository interface {
	// Insert persists a draft link and returns the id the store assigned to it.
	Insert(ctx context.Context, link *model.Link) (int64, error)
	UpdateCode(ctx context.Context, id int64, code string) error
	FindByCode(ctx context.Context, code string) (*model.Link, error)
	// FindByOwner returns the owner's coded links ordered by id.
	FindByOwner(ctx context.Context, ownerID int64) ([]model.Link, error)
	IncrementClickCount(ctx context.Context, id int64) (int64, error)
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Insert(ctx context.Context, link *model.Link) (int64, error) {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		return 0, err
	}
	return link.ID, nil
}

func (r *linkRepository) UpdateCode(ctx context.Context, id int64, code string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ?", id).
		Update("short_code", code)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateCode
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *linkRepository) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where("short_code = ?", code).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) FindByOwner(ctx context.Context, ownerID int64) ([]model.Link, error) {
	var result []model.Link
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND short_code IS NOT NULL", ownerID).
		Order("id ASC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) IncrementClickCount(ctx context.Context, id int64) (int64, error) {
	return incrementClickCount(r.db.WithContext(ctx), id)
}

// incrementClickCount bumps the counter in a single UPDATE so concurrent
// callers never lose an increment.
func incrementClickCount(db *gorm.DB, id int64) (int64, error) {
	var link model.Link
	result := db.Model(&link).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "click_count"}}}).
		Where("id = ?", id).
		UpdateColumn("click_count", gorm.Expr("click_count + ?", 1))

	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrLinkNotFound
	}
	return link.ClickCount, nil
}
