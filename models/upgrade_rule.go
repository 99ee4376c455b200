package models

import "gorm.io/gorm"

// UpgradeRule gates entry into LevelID: reach Value progress on this rule.
// Rules targeting the same level are alternative paths (points OR purchases OR referrals).
type UpgradeRule struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	Title   string `gorm:"size:100;not null" json:"title"`
	LevelID string `gorm:"size:36;index;not null" json:"level_id"`
	Value   int64  `gorm:"not null;default:0;check:value >= 0" json:"value"`
	Valid   bool   `gorm:"not null;default:false" json:"valid"`

	Level *Level `gorm:"foreignKey:LevelID" json:"level,omitempty"`

	Blameable
	Timestamps
}

func (UpgradeRule) TableName() string { return "user_level_upgrade_rules" }

func (r *UpgradeRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	return nil
}
