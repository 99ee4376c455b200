package services

import (
	"context"
	"strings"

	"user-level-system/models"

	"gorm.io/gorm"
)

// RelationService reads current levels. Writes go through the upgrade engine so
// every change is logged.
type RelationService struct {
	DB       *gorm.DB
	Upgrades *UpgradeService
}

func NewRelationService(db *gorm.DB, upgrades *UpgradeService) *RelationService {
	return &RelationService{DB: db, Upgrades: upgrades}
}

// Current returns the user's relation with its level, or ErrNotFound.
func (s *RelationService) Current(ctx context.Context, userID string) (*models.UserLevelRelation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	var rel models.UserLevelRelation
	if err := s.DB.WithContext(ctx).Preload("Level").Where("user_id = ?", userID).First(&rel).Error; err != nil {
		return nil, storeErr("current level", err)
	}
	return &rel, nil
}

// RelationQuery filters the relation listing; LevelID is optional.
type RelationQuery struct {
	LevelID string `query:"level_id"`
	Page    int    `query:"page"`
	Size    int    `query:"size"`
}

func (s *RelationService) List(ctx context.Context, q RelationQuery) (Page[models.UserLevelRelation], error) {
	page, size := normalizePage(q.Page, q.Size)
	out := Page[models.UserLevelRelation]{Items: []models.UserLevelRelation{}, Page: page, Size: size}

	db := s.DB.WithContext(ctx).Model(&models.UserLevelRelation{})
	if q.LevelID != "" {
		db = db.Where("level_id = ?", q.LevelID)
	}
	db = db.Session(&gorm.Session{})
	if err := db.Count(&out.Total).Error; err != nil {
		return out, storeErr("count relations", err)
	}
	err := db.Preload("Level").
		Order("updated_at DESC, id DESC").
		Scopes(paginate(page, size)).
		Find(&out.Items).Error
	if err != nil {
		return out, storeErr("list relations", err)
	}
	return out, nil
}

// Assign is the admin override: put userID on levelID and log it.
func (s *RelationService) Assign(ctx context.Context, userID, levelID, remark string) (Outcome, error) {
	if strings.TrimSpace(levelID) == "" {
		return Outcome{}, validationErr("level_id is required")
	}
	return s.Upgrades.Assign(ctx, UserID(userID), levelID, remark)
}
