package db_models

// LedgerSettingID is the primary key of the only settings row.
const LedgerSettingID = 1

type LedgerSetting struct {
	ID              uint   `gorm:"primaryKey"`
	Paused          bool   `gorm:"not null;default:false"`
	BackendIdentity string `gorm:"size:42"`
	Timestamps
}
