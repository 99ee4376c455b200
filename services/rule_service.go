package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"user-level-system/logger"
	"user-level-system/models"

	"gorm.io/gorm"
)

// RuleInput is the writable part of an upgrade rule.
type RuleInput struct {
	Title   string `json:"title" validate:"required,max=100"`
	LevelID string `json:"level_id" validate:"required"`
	Value   int64  `json:"value" validate:"min=0"`
	Valid   *bool  `json:"valid"`
}

func (in RuleInput) check() error {
	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		return validationErr("title is required")
	case utf8.RuneCountInString(title) > 100:
		return validationErr("title exceeds 100 characters")
	case strings.TrimSpace(in.LevelID) == "":
		return validationErr("level_id is required")
	case in.Value < 0:
		return validationErr("value must be >= 0")
	}
	return nil
}

type RuleService struct {
	DB  *gorm.DB
	log *logger.Logger
}

func NewRuleService(db *gorm.DB, log *logger.Logger) *RuleService {
	return &RuleService{DB: db, log: log}
}

func levelExists(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&models.Level{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RuleService) Create(ctx context.Context, in RuleInput) (*models.UpgradeRule, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	actor := ActorFromContext(ctx)
	rule := &models.UpgradeRule{
		Title:     strings.TrimSpace(in.Title),
		LevelID:   in.LevelID,
		Value:     in.Value,
		Valid:     in.Valid != nil && *in.Valid,
		Blameable: models.Blameable{CreatedBy: actor, UpdatedBy: actor},
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := levelExists(tx, in.LevelID); err != nil {
			return err
		}
		return tx.Create(rule).Error
	})
	if err != nil {
		return nil, storeErr("create rule", err)
	}
	s.log.Info("[RULE] created", "id", rule.ID, "level_id", rule.LevelID, "value", rule.Value)
	return rule, nil
}

func (s *RuleService) Update(ctx context.Context, id string, in RuleInput) (*models.UpgradeRule, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	var rule models.UpgradeRule
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&rule).Error; err != nil {
			return err
		}
		if rule.LevelID != in.LevelID {
			if err := levelExists(tx, in.LevelID); err != nil {
				return err
			}
		}
		rule.Title = strings.TrimSpace(in.Title)
		rule.LevelID = in.LevelID
		rule.Value = in.Value
		if in.Valid != nil {
			rule.Valid = *in.Valid
		}
		rule.UpdatedBy = ActorFromContext(ctx)
		return tx.Save(&rule).Error
	})
	if err != nil {
		return nil, storeErr("update rule", err)
	}
	s.log.Info("[RULE] updated", "id", rule.ID, "level_id", rule.LevelID, "value", rule.Value, "valid", rule.Valid)
	return &rule, nil
}

// Delete removes the rule and every progress row counting toward it.
func (s *RuleService) Delete(ctx context.Context, id string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("upgrade_rule_id = ?", id).Delete(&models.UpgradeProgress{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.UpgradeRule{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return storeErr("delete rule", err)
	}
	s.log.Info("[RULE] deleted", "id", id, "by", ActorFromContext(ctx))
	return nil
}

func (s *RuleService) Get(ctx context.Context, id string) (*models.UpgradeRule, error) {
	var rule models.UpgradeRule
	if err := s.DB.WithContext(ctx).Preload("Level").Where("id = ?", id).First(&rule).Error; err != nil {
		return nil, storeErr("get rule", err)
	}
	return &rule, nil
}

// ListByLevel returns every rule of a level, valid or not.
func (s *RuleService) ListByLevel(ctx context.Context, levelID string) ([]models.UpgradeRule, error) {
	if err := levelExists(s.DB.WithContext(ctx), levelID); err != nil {
		return nil, storeErr("list rules", err)
	}
	rules := []models.UpgradeRule{}
	err := s.DB.WithContext(ctx).
		Where("level_id = ?", levelID).
		Order("value ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, storeErr("list rules", err)
	}
	return rules, nil
}

// FindByTitle looks a rule up by its level and title; (nil, nil) when absent.
func (s *RuleService) FindByTitle(ctx context.Context, levelID, title string) (*models.UpgradeRule, error) {
	var rule models.UpgradeRule
	err := s.DB.WithContext(ctx).
		Where("level_id = ? AND title = ?", levelID, strings.TrimSpace(title)).
		Order("id ASC").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find rule", err)
	}
	return &rule, nil
}
