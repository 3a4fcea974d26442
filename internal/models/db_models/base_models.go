package db_models

import (
	"time"

	"gorm.io/gorm"
)

// Timestamps keeps unix-second bookkeeping columns. Ledger time (start, expiration)
// comes from the injected clock; these only record wall-clock persistence time.
type Timestamps struct {
	CreatedAt int64 `gorm:"autoCreateTime"`
	UpdatedAt int64 `gorm:"autoUpdateTime"`
}

func (b *Timestamps) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if b.CreatedAt == 0 {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	return nil
}

func (b *Timestamps) BeforeUpdate(tx *gorm.DB) error {
	b.UpdatedAt = time.Now().Unix()
	return nil
}
