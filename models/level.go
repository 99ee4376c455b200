package models

import (
	"gorm.io/gorm"
)

// Level is one rung of the membership ladder. Rank defines the ordering.
type Level struct {
	ID    string `gorm:"primaryKey;size:36" json:"id"`
	Title string `gorm:"size:100;uniqueIndex;not null" json:"title"`
	Slug  string `gorm:"size:160;index" json:"slug"`
	Rank  int    `gorm:"uniqueIndex;not null" json:"rank"`
	Valid bool   `gorm:"not null;default:false" json:"valid"`

	Rules []UpgradeRule `gorm:"foreignKey:LevelID" json:"rules,omitempty"`

	Blameable
	Timestamps
}

func (Level) TableName() string { return "user_levels" }

func (l *Level) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = NewID()
	}
	return nil
}

// LevelInfo is the compact admin view of a level.
type LevelInfo struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
	Title string `json:"title"`
}

// Info returns the compact view; a nil level yields nil.
func (l *Level) Info() *LevelInfo {
	if l == nil {
		return nil
	}
	return &LevelInfo{ID: l.ID, Level: l.Rank, Title: l.Title}
}

func (l *Level) String() string {
	if l == nil {
		return "Level#none"
	}
	if l.Title != "" {
		return l.Title
	}
	if l.ID != "" {
		return "Level#" + l.ID
	}
	return "Level#new"
}
