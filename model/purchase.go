package model

import "time"

// TargetKind distinguishes the two purchasable download targets.
type TargetKind string

const (
	TargetTrackGroup TargetKind = "trackGroup"
	TargetTrack      TargetKind = "track"
)

// Target identifies a downloadable entity.
type Target struct {
	Kind TargetKind
	ID   int64
}

// Purchase records that a user is entitled to download a target, together
// with the single-use anonymous download token for that purchase.
//
// At most one row exists per (user, target kind, target id); re-registering
// the same purchase rotates the token instead of inserting a new row. Token
// is set to NULL exactly once, when an anonymous holder redeems it;
// authenticated owner downloads never touch it.
type Purchase struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       int64      `json:"userId" gorm:"column:user_id;uniqueIndex:uniq_user_target,priority:1"`
	TargetKind   TargetKind `json:"targetKind" gorm:"column:target_kind;size:16;uniqueIndex:uniq_user_target,priority:2"`
	TargetID     int64      `json:"targetId" gorm:"column:target_id;uniqueIndex:uniq_user_target,priority:3"`
	Token        *string    `json:"-" gorm:"column:token;size:64"`
	PricePaid    int64      `json:"pricePaid" gorm:"column:price_paid"` // minor currency units
	CurrencyPaid string     `json:"currencyPaid" gorm:"column:currency_paid;size:8"`
	PaymentKey   string     `json:"-" gorm:"column:payment_key;size:128"` // payment-processor reference
	PurchasedAt  time.Time  `json:"purchasedAt" gorm:"column:purchased_at"`
	UpdatedAt    time.Time  `json:"updatedAt" gorm:"column:updated_at"`
}

// TableName returns the database table name for Purchase.
func (Purchase) TableName() string {
	return "purchases"
}
