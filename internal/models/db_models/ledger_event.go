package db_models

import "gorm.io/datatypes"

type LedgerEventKind string

const (
	EventPlanCreated             LedgerEventKind = "PlanCreated"
	EventPlanUpdated             LedgerEventKind = "PlanUpdated"
	EventSubscriptionCreated     LedgerEventKind = "SubscriptionCreated"
	EventMonthlyPaymentProcessed LedgerEventKind = "MonthlyPaymentProcessed"
	EventSubscriptionCancelled   LedgerEventKind = "SubscriptionCancelled"
	EventSubscriptionExpired     LedgerEventKind = "SubscriptionExpired"
	EventAutoPayUpdated          LedgerEventKind = "AutoPayUpdated"
	EventLedgerPaused            LedgerEventKind = "LedgerPaused"
	EventLedgerUnpaused          LedgerEventKind = "LedgerUnpaused"
	EventBackendRotated          LedgerEventKind = "BackendRotated"
)

// LedgerEvent is an append-only record of a committed transition. ID order is commit order
// and doubles as the scheduler's replay cursor.
type LedgerEvent struct {
	ID         uint64           `gorm:"primaryKey;autoIncrement"`
	Kind       LedgerEventKind  `gorm:"size:40;not null;index"`
	Subscriber string           `gorm:"size:42;index"`
	PlanID     uint64           `gorm:"index"`
	SubType    SubscriptionType `gorm:"size:16"`
	Amount     int64
	Yield      int64
	Shortfall  int64
	Timestamp  int64          `gorm:"not null"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;default:'{}'"`
	CreatedAt  int64          `gorm:"autoCreateTime"`
}
