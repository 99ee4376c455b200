package models

import (
	"time"

	"gorm.io/gorm"
)

// AssignType is the direction of a level transition.
type AssignType int8

const (
	AssignTypeDowngrade AssignType = 0
	AssignTypeUpgrade   AssignType = 1
)

func (t AssignType) String() string {
	if t == AssignTypeUpgrade {
		return "upgrade"
	}
	return "downgrade"
}

// RemarkMaxLen is the column limit of AssignLog.Remark, in characters.
const RemarkMaxLen = 100

// AssignLog is the append-only audit record of one level transition.
// OldLevelID is nil for a user's first assignment.
type AssignLog struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UserID     string     `gorm:"size:64;not null;index" json:"user_id"`
	OldLevelID *string    `gorm:"size:36" json:"old_level_id"`
	NewLevelID string     `gorm:"size:36;not null" json:"new_level_id"`
	Type       AssignType `gorm:"not null" json:"type"`
	AssignTime time.Time  `gorm:"not null;index" json:"assign_time"`
	Remark     string     `gorm:"size:100;not null;default:''" json:"remark"`

	OldLevel *Level `gorm:"foreignKey:OldLevelID" json:"old_level,omitempty"`
	NewLevel *Level `gorm:"foreignKey:NewLevelID" json:"new_level,omitempty"`

	Blameable
	Timestamps
}

func (AssignLog) TableName() string { return "user_level_assign_logs" }

func (a *AssignLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	return nil
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Level{},
		&UpgradeRule{},
		&UpgradeProgress{},
		&UserLevelRelation{},
		&AssignLog{},
	}
}
