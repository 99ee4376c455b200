package models

import (
	"time"

	"github.com/google/uuid"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Blameable records which actor created / last touched a row.
type Blameable struct {
	CreatedBy string `json:"created_by,omitempty" gorm:"size:64"`
	UpdatedBy string `json:"updated_by,omitempty" gorm:"size:64"`
}

// NewID returns a time-ordered UUID (v7), so ordering by ID follows creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
