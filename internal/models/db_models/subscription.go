package db_models

import "fmt"

type SubscriptionType string

const (
	SubTypeMonthly SubscriptionType = "MONTHLY"
	SubTypeYearly  SubscriptionType = "YEARLY"
)

type SubscriptionStatus string

const (
	SubStatusNone      SubscriptionStatus = "NONE"
	SubStatusActive    SubscriptionStatus = "ACTIVE"
	SubStatusCancelled SubscriptionStatus = "CANCELLED"
	SubStatusExpired   SubscriptionStatus = "EXPIRED"
)

func (s SubscriptionStatus) Terminal() bool {
	return s == SubStatusCancelled || s == SubStatusExpired
}

// Subscription is the single authoritative record per (subscriber, plan).
type Subscription struct {
	Subscriber string `gorm:"primaryKey;size:42"`
	PlanID     uint64 `gorm:"primaryKey"`

	SubType SubscriptionType   `gorm:"size:16;not null"`
	Status  SubscriptionStatus `gorm:"size:16;not null;index"`

	// Rate snapshot taken at subscription time.
	MonthlyRate int64 `gorm:"not null"`
	YearlyRate  int64 `gorm:"not null"`

	StartTime      int64 `gorm:"not null"`
	LastPayment    int64 `gorm:"not null"`
	ExpirationTime int64 `gorm:"not null;index"`
	AutoPayEnabled bool  `gorm:"not null"`

	StakedAmount int64 `gorm:"not null;default:0"`
	VaultShares  int64 `gorm:"not null;default:0"`

	Timestamps
}

func (s *Subscription) Staked() bool {
	return s.VaultShares > 0
}

// Validate checks the custody invariant: principal and shares are zero together.
func (s *Subscription) Validate() error {
	if s.StakedAmount < 0 || s.VaultShares < 0 {
		return fmt.Errorf("subscription %s/%d: negative stake (%d) or shares (%d)",
			s.Subscriber, s.PlanID, s.StakedAmount, s.VaultShares)
	}
	if (s.StakedAmount == 0) != (s.VaultShares == 0) {
		return fmt.Errorf("subscription %s/%d: staked amount %d and vault shares %d must be zero together",
			s.Subscriber, s.PlanID, s.StakedAmount, s.VaultShares)
	}
	return nil
}

// PaymentDue reports whether a recurring charge is payable at now: less than a day
// remains before expiration, or expiration has already passed.
func (s *Subscription) PaymentDue(now, dueWindow int64) bool {
	return s.ExpirationTime-now < dueWindow
}

func (s *Subscription) Expired(now int64) bool {
	return now > s.ExpirationTime
}
