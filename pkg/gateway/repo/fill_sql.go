package repo

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

type FillSQLRepo struct {
	db *gorm.DB
}

func NewFillSQLRepo(db *gorm.DB) *FillSQLRepo {
	return &FillSQLRepo{
		db: db,
	}
}

func (s *FillSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *FillSQLRepo) Create(ctx context.Context, record *model.Fill) (*model.Fill, error) {
	return record, s.dbWithContext(ctx).Create(record).Error
}

func (s *FillSQLRepo) ListByOrder(ctx context.Context, orderID int64) ([]*model.Fill, error) {
	var records []*model.Fill
	err := s.dbWithContext(ctx).
		Where("order_id = ?", orderID).
		Order("filled_at ASC").
		Find(&records).Error
	return records, err
}

func (s *FillSQLRepo) SumQtyByOrder(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := s.dbWithContext(ctx).
		Model(&model.Fill{}).
		Select("SUM(quantity)").
		Where("order_id = ?", orderID).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
