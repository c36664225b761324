package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/utils"
)

// Subscription outcomes.
const (
	OutcomeSubscribed        = "subscribed"
	OutcomeReactivated       = "reactivated"
	OutcomeAlreadySubscribed = "already_subscribed"
)

// NewsletterService manages newsletter subscriptions.
type NewsletterService struct {
	db *gorm.DB
}

// NewNewsletterService creates a NewsletterService.
func NewNewsletterService(db *gorm.DB) *NewsletterService {
	return &NewsletterService{db: db}
}

// SubscribeResult reports what Subscribe did.
type SubscribeResult struct {
	Subscription models.Newsletter `json:"subscription"`
	Outcome      string            `json:"outcome"`
}

// Changed reports whether the subscription became active by this call.
func (r SubscribeResult) Changed() bool {
	return r.Outcome != OutcomeAlreadySubscribed
}

// Subscribe activates email. Inactive subscriptions are reactivated.
func (s *NewsletterService) Subscribe(ctx context.Context, email string) (SubscribeResult, error) {
	email = utils.NormalizeEmail(email)
	if !utils.ValidEmail(email) {
		return SubscribeResult{}, validationError("invalid email address %q", email)
	}

	var res SubscribeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Newsletter
		err := tx.Where("email = ?", email).First(&existing).Error
		switch {
		case err == nil && existing.IsActive:
			res.Outcome = OutcomeAlreadySubscribed
		case err == nil:
			res.Outcome = OutcomeReactivated
		case errors.Is(err, gorm.ErrRecordNotFound):
			res.Outcome = OutcomeSubscribed
		default:
			return fmt.Errorf("load subscription: %w", err)
		}
		if res.Outcome == OutcomeAlreadySubscribed {
			res.Subscription = existing
			return nil
		}

		row := models.Newsletter{Email: email, IsActive: true}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_active", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		return tx.Where("email = ?", email).First(&res.Subscription).Error
	})
	if err != nil {
		return SubscribeResult{}, err
	}
	return res, nil
}

// Unsubscribe deactivates email.
func (s *NewsletterService) Unsubscribe(ctx context.Context, email string) error {
	email = utils.NormalizeEmail(email)
	res := s.db.WithContext(ctx).Model(&models.Newsletter{}).Where("email = ?", email).
		Updates(map[string]any{"is_active": false})
	if res.Error != nil {
		return fmt.Errorf("unsubscribe: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("no subscription for %q", email)
	}
	return nil
}

// ActiveCount returns the number of active subscriptions.
func (s *NewsletterService) ActiveCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Newsletter{}).Where("is_active = ?", true).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}
