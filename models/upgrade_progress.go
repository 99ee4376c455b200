package models

import "gorm.io/gorm"

// UpgradeProgress is a user's counter toward one rule. At most one row per (user, rule).
type UpgradeProgress struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	UserID        string `gorm:"size:64;not null;uniqueIndex:idx_progress_user_rule" json:"user_id"`
	UpgradeRuleID string `gorm:"size:36;not null;uniqueIndex:idx_progress_user_rule;index" json:"upgrade_rule_id"`
	Value         *int64 `json:"value"` // nil = not started

	UpgradeRule *UpgradeRule `gorm:"foreignKey:UpgradeRuleID" json:"upgrade_rule,omitempty"`

	Timestamps
}

func (UpgradeProgress) TableName() string { return "user_level_upgrade_progress" }

func (p *UpgradeProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	return nil
}

// Current returns the counter value, treating "not started" as 0.
func (p *UpgradeProgress) Current() int64 {
	if p == nil || p.Value == nil {
		return 0
	}
	return *p.Value
}
