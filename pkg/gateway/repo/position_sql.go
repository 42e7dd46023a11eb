package repo

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

type PositionSQLRepo struct {
	db *gorm.DB
}

func NewPositionSQLRepo(db *gorm.DB) *PositionSQLRepo {
	return &PositionSQLRepo{
		db: db,
	}
}

func (s *PositionSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *PositionSQLRepo) Upsert(ctx context.Context, symbol string, qty decimal.Decimal, syncedAt time.Time) error {
	record := &model.Position{
		Symbol:   symbol,
		Quantity: qty,
		SyncedAt: syncedAt,
	}
	return s.dbWithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "synced_at", "updated_at"}),
		}).
		Create(record).Error
}

// ApplyDelta holds the row lock only for the single-row increment; the
// critical section never spans a network call.
func (s *PositionSQLRepo) ApplyDelta(ctx context.Context, symbol string, delta decimal.Decimal) error {
	return s.dbWithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record model.Position
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("symbol = ?", symbol).
			First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&model.Position{
				Symbol:   symbol,
				Quantity: delta,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&record).
			Update("quantity", record.Quantity.Add(delta)).Error
	})
}

func (s *PositionSQLRepo) Get(ctx context.Context, symbol string) (*model.Position, error) {
	var record model.Position
	err := s.dbWithContext(ctx).
		Where("symbol = ?", symbol).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *PositionSQLRepo) List(ctx context.Context) ([]*model.Position, error) {
	var records []*model.Position
	err := s.dbWithContext(ctx).
		Order("symbol ASC").
		Find(&records).Error
	return records, err
}
