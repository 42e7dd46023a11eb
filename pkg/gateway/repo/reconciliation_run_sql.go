package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

type ReconciliationRunSQLRepo struct {
	db *gorm.DB
}

func NewReconciliationRunSQLRepo(db *gorm.DB) *ReconciliationRunSQLRepo {
	return &ReconciliationRunSQLRepo{
		db: db,
	}
}

func (s *ReconciliationRunSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *ReconciliationRunSQLRepo) Create(ctx context.Context, record *model.ReconciliationRun) (*model.ReconciliationRun, error) {
	return record, s.dbWithContext(ctx).Create(record).Error
}

func (s *ReconciliationRunSQLRepo) Finish(ctx context.Context, record *model.ReconciliationRun) error {
	return s.dbWithContext(ctx).Save(record).Error
}

func (s *ReconciliationRunSQLRepo) LatestSuccess(ctx context.Context) (*model.ReconciliationRun, error) {
	var record model.ReconciliationRun
	err := s.dbWithContext(ctx).
		Where("status = ?", model.RunStatusSuccess).
		Order("started_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
