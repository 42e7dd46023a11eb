package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

type OrderSQLRepo struct {
	db *gorm.DB
}

func NewOrderSQLRepo(db *gorm.DB) *OrderSQLRepo {
	return &OrderSQLRepo{
		db: db,
	}
}

func (s *OrderSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *OrderSQLRepo) Create(ctx context.Context, record *model.Order) (*model.Order, error) {
	err := s.dbWithContext(ctx).Create(record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("order %s: %w", record.ClientOrderID, ErrDuplicateKey)
	}
	return record, err
}

func (s *OrderSQLRepo) GetByClientOrderID(ctx context.Context, clientOrderID string) (*model.Order, error) {
	var record model.Order
	err := s.dbWithContext(ctx).
		Where("client_order_id = ?", clientOrderID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *OrderSQLRepo) GetByBrokerOrderID(ctx context.Context, brokerOrderID string) (*model.Order, error) {
	var record model.Order
	err := s.dbWithContext(ctx).
		Where("broker_order_id = ?", brokerOrderID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *OrderSQLRepo) ListOpen(ctx context.Context) ([]*model.Order, error) {
	var records []*model.Order
	err := s.dbWithContext(ctx).
		Where("status NOT IN ?", []model.OrderStatus{
			model.OrderStatusFilled,
			model.OrderStatusCanceled,
			model.OrderStatusRejected,
		}).
		Find(&records).Error
	return records, err
}

func (s *OrderSQLRepo) UpdateWithVersion(ctx context.Context, id int64, expectVersion int64, priority model.SourcePriority, updates map[string]interface{}) (int64, error) {
	updates["version"] = expectVersion + 1
	updates["source_priority"] = priority

	tx := s.dbWithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND version = ? AND source_priority <= ?", id, expectVersion, priority).
		Updates(updates)
	return tx.RowsAffected, tx.Error
}
