package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mirlo/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RegisterParams carries the inputs for registering a purchase.
type RegisterParams struct {
	UserID       int64
	Target       model.Target
	PricePaid    int64
	CurrencyPaid string
	PaymentKey   string
}

// PurchaseRepository is the durable record of who purchased what, including
// each purchase's single-use anonymous download token.
type PurchaseRepository interface {
	// FindActive returns the purchase row for (user, target) or ErrNotFound.
	FindActive(ctx context.Context, userID int64, target model.Target) (*model.Purchase, error)

	// Register upserts a purchase. A repeated registration (e.g. a retried
	// payment webhook) keeps the original row's price and payment key and
	// only rotates the token, so exactly one row ever exists per
	// (user, target).
	Register(ctx context.Context, params RegisterParams) (*model.Purchase, error)

	// RedeemToken invalidates a purchase's token, conditionally: the update
	// only lands if the stored token still equals the presented one, so
	// concurrent redemptions of the same token cannot both succeed. Returns
	// true when this call consumed the token.
	RedeemToken(ctx context.Context, purchaseID int64, token string) (bool, error)
}

// gormPurchaseRepository implements PurchaseRepository on GORM.
type gormPurchaseRepository struct {
	db *gorm.DB
}

// NewGormPurchaseRepository creates a new instance of gormPurchaseRepository.
func NewGormPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &gormPurchaseRepository{db: db}
}

// mintToken produces a fresh opaque download token.
func mintToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (r *gormPurchaseRepository) FindActive(ctx context.Context, userID int64, target model.Target) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND target_kind = ? AND target_id = ?", userID, target.Kind, target.ID).
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find purchase for user %d: %w", userID, err)
	}
	return &purchase, nil
}

func (r *gormPurchaseRepository) Register(ctx context.Context, params RegisterParams) (*model.Purchase, error) {
	var purchase model.Purchase

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND target_kind = ? AND target_id = ?",
			params.UserID, params.Target.Kind, params.Target.ID).
			First(&purchase).Error

		token := mintToken()
		switch {
		case err == nil:
			// Existing purchase: rotate the token only. Price and payment
			// key keep the values of the first registration.
			res := tx.Model(&purchase).Updates(map[string]interface{}{
				"token":      token,
				"updated_at": time.Now(),
			})
			if res.Error != nil {
				return fmt.Errorf("failed to rotate token: %w", res.Error)
			}
			purchase.Token = &token
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			purchase = model.Purchase{
				UserID:       params.UserID,
				TargetKind:   params.Target.Kind,
				TargetID:     params.Target.ID,
				Token:        &token,
				PricePaid:    params.PricePaid,
				CurrencyPaid: params.CurrencyPaid,
				PaymentKey:   params.PaymentKey,
				PurchasedAt:  time.Now(),
				UpdatedAt:    time.Now(),
			}
			if err := tx.Create(&purchase).Error; err != nil {
				return fmt.Errorf("failed to create purchase: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("failed to look up purchase: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}

	return &purchase, nil
}

func (r *gormPurchaseRepository) RedeemToken(ctx context.Context, purchaseID int64, token string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Purchase{}).
		Where("id = ? AND token = ?", purchaseID, token).
		Updates(map[string]interface{}{
			"token":      nil,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to redeem token for purchase %d: %w", purchaseID, res.Error)
	}
	return res.RowsAffected == 1, nil
}
