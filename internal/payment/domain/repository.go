package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	InsertApplications(ctx context.Context, db *gorm.DB, applications []PaymentApplication) error
	ListApplications(ctx context.Context, db *gorm.DB, orgID, paymentID snowflake.ID) ([]PaymentApplication, error)
}
