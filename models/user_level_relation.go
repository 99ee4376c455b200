package models

import "gorm.io/gorm"

// UserLevelRelation is the single current-level row of a user.
// Version increments on every level change and backs the compare-and-swap update.
type UserLevelRelation struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	UserID  string `gorm:"size:64;not null;uniqueIndex" json:"user_id"`
	LevelID string `gorm:"size:36;not null;index" json:"level_id"`
	Valid   bool   `gorm:"not null;default:false" json:"valid"`
	Version int64  `gorm:"not null;default:0" json:"version"`

	Level *Level `gorm:"foreignKey:LevelID" json:"level,omitempty"`

	Timestamps
}

func (UserLevelRelation) TableName() string { return "user_level_relations" }

func (r *UserLevelRelation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	return nil
}
