package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/openledger/payline/internal/payment/domain"
	"gorm.io/gorm"
)

type Store struct{}

func Provide() paymentdomain.Repository {
	return &Store{}
}

func (s *Store) InsertPayment(ctx context.Context, db *gorm.DB, payment *paymentdomain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (s *Store) InsertApplications(ctx context.Context, db *gorm.DB, applications []paymentdomain.PaymentApplication) error {
	if len(applications) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&applications).Error
}

func (s *Store) ListApplications(ctx context.Context, db *gorm.DB, orgID, paymentID snowflake.ID) ([]paymentdomain.PaymentApplication, error) {
	var applications []paymentdomain.PaymentApplication
	err := db.WithContext(ctx).
		Where("org_id = ? AND payment_id = ?", orgID, paymentID).
		Order("position ASC").
		Find(&applications).Error
	if err != nil {
		return nil, err
	}
	return applications, nil
}
