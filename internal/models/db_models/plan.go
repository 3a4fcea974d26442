package db_models

import "strings"

type Plan struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Provider string `gorm:"size:42;index"`
	Name     string `gorm:"not null"`

	// Token minor units (6 decimals: 10_000_000 = 10 tokens).
	MonthlyRate int64 `gorm:"not null"`
	YearlyRate  int64 `gorm:"not null"`
	IsActive    bool  `gorm:"default:true"`

	// Informational only, never consulted for custody.
	SubscriberCount uint64 `gorm:"not null;default:0"`
	TotalRevenue    int64  `gorm:"not null;default:0"`

	Timestamps
}

func (p *Plan) Valid() bool {
	return p.MonthlyRate >= 0 && p.YearlyRate >= 0 && strings.TrimSpace(p.Name) != ""
}
