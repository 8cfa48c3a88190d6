package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camforge/camforge/internal/store/model"
)

type DeadLetter interface {
	Create(ctx context.Context, letter model.DeadLetter) (*model.DeadLetter, error)
	Get(ctx context.Context, id uint) (*model.DeadLetter, error)
	List(ctx context.Context, opts *DeadLetterQueryOptions) (model.DeadLetterList, error)
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id uint) error
	InitialMigration(ctx context.Context) error
}

type DeadLetterStore struct {
	db *gorm.DB
}

// Make sure we conform to DeadLetter interface
var _ DeadLetter = (*DeadLetterStore)(nil)

func NewDeadLetterStore(db *gorm.DB) DeadLetter {
	return &DeadLetterStore{db: db}
}

func (d *DeadLetterStore) InitialMigration(ctx context.Context) error {
	return d.getDB(ctx).AutoMigrate(&model.DeadLetter{})
}

func (d *DeadLetterStore) Create(ctx context.Context, letter model.DeadLetter) (*model.DeadLetter, error) {
	result := d.getDB(ctx).Clauses(clause.Returning{}).Create(&letter)
	if result.Error != nil {
		return nil, result.Error
	}
	return &letter, nil
}

func (d *DeadLetterStore) Get(ctx context.Context, id uint) (*model.DeadLetter, error) {
	var letter model.DeadLetter
	result := d.getDB(ctx).First(&letter, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &letter, nil
}

// List returns dead letters newest first.
func (d *DeadLetterStore) List(ctx context.Context, opts *DeadLetterQueryOptions) (model.DeadLetterList, error) {
	var letters model.DeadLetterList
	tx := d.getDB(ctx).Model(&letters).Order("created_at DESC")

	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	result := tx.Find(&letters)
	if result.Error != nil {
		return nil, result.Error
	}
	return letters, nil
}

func (d *DeadLetterStore) Count(ctx context.Context) (int64, error) {
	var count int64
	result := d.getDB(ctx).Model(&model.DeadLetter{}).Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

func (d *DeadLetterStore) Delete(ctx context.Context, id uint) error {
	result := d.getDB(ctx).Delete(&model.DeadLetter{}, "id = ?", id)
	return result.Error
}

func (d *DeadLetterStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return d.db
}
