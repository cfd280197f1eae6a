package capturedb

import (
	"context"

	"github.com/gowvp/recap/internal/core/capture"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

// Recording 录像元数据存储
type Recording struct {
	db *gorm.DB
}

func NewRecording(db *gorm.DB) Recording {
	return Recording{db: db}
}

func (r Recording) session(ctx context.Context, opts ...orm.QueryOption) *gorm.DB {
	db := r.db.WithContext(ctx)
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}

func (r Recording) Find(ctx context.Context, out *[]*capture.Recording, pager orm.Pager, opts ...orm.QueryOption) (int64, error) {
	db := r.session(ctx, opts...).Model(&capture.Recording{})
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return 0, err
	}
	if pager != nil {
		db = db.Offset(pager.Offset()).Limit(pager.Limit())
	}
	return total, db.Find(out).Error
}

func (r Recording) Get(ctx context.Context, out *capture.Recording, opts ...orm.QueryOption) error {
	return r.session(ctx, opts...).First(out).Error
}

func (r Recording) Add(ctx context.Context, in *capture.Recording) error {
	return r.db.WithContext(ctx).Create(in).Error
}

func (r Recording) Edit(ctx context.Context, out *capture.Recording, fn func(*capture.Recording), opts ...orm.QueryOption) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		db := tx
		for _, opt := range opts {
			db = opt(db)
		}
		if err := db.First(out).Error; err != nil {
			return err
		}
		fn(out)
		return tx.Save(out).Error
	})
}

func (r Recording) Del(ctx context.Context, out *capture.Recording, opts ...orm.QueryOption) error {
	if err := r.session(ctx, opts...).First(out).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(out).Error
}

func (r Recording) Session(ctx context.Context, fns ...func(*gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range fns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}
