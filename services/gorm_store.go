package services

import (
	"context"
	"errors"
	"time"

	"user-level-system/models"

	"gorm.io/gorm"
)

// GormStore implements every collaborator of the upgrade engine on one *gorm.DB.
// Inside WithinTx the DB is the transaction handle.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) Tiers() TierCatalog           { return s }
func (s *GormStore) Progress() ProgressStore      { return s }
func (s *GormStore) Assignments() AssignmentStore { return s }
func (s *GormStore) History() HistoryStore        { return s }

func (s *GormStore) WithinTx(ctx context.Context, fn func(Stores) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{DB: tx})
	})
}

func (s *GormStore) firstLevel(ctx context.Context, q *gorm.DB, order string) (*models.Level, error) {
	var lvl models.Level
	err := q.WithContext(ctx).Order(order).First(&lvl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find level", err)
	}
	return &lvl, nil
}

func (s *GormStore) FindLowestValidTier(ctx context.Context) (*models.Level, error) {
	return s.firstLevel(ctx, s.DB.Where("valid = ?", true), "rank ASC, id ASC")
}

func (s *GormStore) FindNextValidTier(ctx context.Context, currentRank int) (*models.Level, error) {
	return s.firstLevel(ctx, s.DB.Where("valid = ? AND rank > ?", true, currentRank), "rank ASC, id ASC")
}

func (s *GormStore) FindPreviousValidTier(ctx context.Context, currentRank int) (*models.Level, error) {
	return s.firstLevel(ctx, s.DB.Where("valid = ? AND rank < ?", true, currentRank), "rank DESC, id ASC")
}

func (s *GormStore) GetLevel(ctx context.Context, id string) (*models.Level, error) {
	var lvl models.Level
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&lvl).Error; err != nil {
		return nil, storeErr("get level", err)
	}
	return &lvl, nil
}

func (s *GormStore) GetRulesForTier(ctx context.Context, levelID string) ([]models.UpgradeRule, error) {
	var rules []models.UpgradeRule
	err := s.DB.WithContext(ctx).
		Where("level_id = ? AND valid = ?", levelID, true).
		Order("value ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, storeErr("get rules", err)
	}
	return rules, nil
}

func (s *GormStore) GetProgress(ctx context.Context, userID, ruleID string) (int64, error) {
	var prog models.UpgradeProgress
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND upgrade_rule_id = ?", userID, ruleID).
		First(&prog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("get progress", err)
	}
	return prog.Current(), nil
}

func (s *GormStore) GetCurrentAssignment(ctx context.Context, userID string) (*models.UserLevelRelation, error) {
	var rel models.UserLevelRelation
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get assignment", err)
	}
	return &rel, nil
}

func (s *GormStore) SetAssignment(ctx context.Context, userID, levelID string, expectedPrior *string, expectedVersion int64) error {
	if expectedPrior == nil {
		rel := models.UserLevelRelation{UserID: userID, LevelID: levelID, Valid: true, Version: 1}
		err := s.DB.WithContext(ctx).Create(&rel).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConcurrentModification
		}
		return storeErr("create assignment", err)
	}

	res := s.DB.WithContext(ctx).
		Model(&models.UserLevelRelation{}).
		Where("user_id = ? AND level_id = ? AND version = ?", userID, *expectedPrior, expectedVersion).
		Updates(map[string]interface{}{
			"level_id":   levelID,
			"valid":      true,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return storeErr("update assignment", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (s *GormStore) AppendEntry(ctx context.Context, entry *models.AssignLog) error {
	return storeErr("append assign log", s.DB.WithContext(ctx).Create(entry).Error)
}
