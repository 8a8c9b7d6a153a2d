package repository

import (
	"time"

	"github.com/cantina/credit-ledger/internal/model"
)

type CustomerEntity struct {
	ID             int64      `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Name           string     `db:"name"            gorm:"column:name;not null"`
	InitialBalance float64    `db:"initial_balance" gorm:"column:initial_balance;not null;default:0"`
	CreditLimit    *float64   `db:"credit_limit"    gorm:"column:credit_limit"`
	CreatedAt      time.Time  `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
	DeletedAt      *time.Time `db:"deleted_at"      gorm:"column:deleted_at;index"`
	Version        int64      `db:"version"         gorm:"column:version;not null;default:1"`
}

func (CustomerEntity) TableName() string {
	return "customers"
}

func toCustomerEntity(m *model.Customer) *CustomerEntity {
	if m == nil {
		return nil
	}
	return &CustomerEntity{
		ID:             m.ID,
		Name:           m.Name,
		InitialBalance: m.InitialBalance,
		CreditLimit:    m.CreditLimit,
		CreatedAt:      m.CreatedAt,
		DeletedAt:      m.DeletedAt,
		Version:        m.Version,
	}
}

func toCustomerModel(e *CustomerEntity) *model.Customer {
	if e == nil {
		return nil
	}
	return &model.Customer{
		ID:             e.ID,
		Name:           e.Name,
		InitialBalance: e.InitialBalance,
		CreditLimit:    e.CreditLimit,
		CreatedAt:      e.CreatedAt,
		DeletedAt:      e.DeletedAt,
		Version:        e.Version,
	}
}

func toCustomerModels(entities []*CustomerEntity) []*model.Customer {
	if entities == nil {
		return nil
	}
	models := make([]*model.Customer, len(entities))
	for i, e := range entities {
		models[i] = toCustomerModel(e)
	}
	return models
}
