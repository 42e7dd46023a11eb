package repo

import (
	"gorm.io/gorm"
)

type IRepo interface {
	Order() IOrder
	Fill() IFill
	Position() IPosition
	ReconciliationRun() IReconciliationRun
	OrderEvent() IOrderEvent
}

type Repo struct {
	gatewayDB *gorm.DB
}

func NewRepo(gatewayDB *gorm.DB) IRepo {
	return &Repo{
		gatewayDB: gatewayDB,
	}
}

func (r *Repo) Order() IOrder {
	return NewOrderSQLRepo(r.gatewayDB)
}

func (r *Repo) Fill() IFill {
	return NewFillSQLRepo(r.gatewayDB)
}

func (r *Repo) Position() IPosition {
	return NewPositionSQLRepo(r.gatewayDB)
}

func (r *Repo) ReconciliationRun() IReconciliationRun {
	return NewReconciliationRunSQLRepo(r.gatewayDB)
}

func (r *Repo) OrderEvent() IOrderEvent {
	return NewOrderEventSQLRepo(r.gatewayDB)
}
