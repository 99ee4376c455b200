package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"user-level-system/logger"
	"user-level-system/models"

	"github.com/gosimple/slug"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

// LevelInput is the writable part of a level.
type LevelInput struct {
	Title string `json:"title" validate:"required,max=100"`
	Rank  int    `json:"level" validate:"min=0"`
	Valid *bool  `json:"valid"`
}

// LevelQuery filters the admin level listing. Title matches as a substring.
type LevelQuery struct {
	Title string `query:"title"`
	Page  int    `query:"page"`
	Size  int    `query:"size"`
}

type LevelService struct {
	DB  *gorm.DB
	log *logger.Logger
}

func NewLevelService(db *gorm.DB, log *logger.Logger) *LevelService {
	return &LevelService{DB: db, log: log}
}

// normalizeTitle trims and NFC-normalizes a title so visually equal titles collide
// on the unique index.
func normalizeTitle(title string) (string, error) {
	t := norm.NFC.String(strings.TrimSpace(title))
	if t == "" {
		return "", validationErr("title is required")
	}
	if utf8.RuneCountInString(t) > 100 {
		return "", validationErr("title exceeds 100 characters")
	}
	return t, nil
}

func levelSlug(title string, rank int) string {
	if s := slug.Make(title); s != "" {
		return s
	}
	return fmt.Sprintf("level-%d", rank)
}

func (s *LevelService) Create(ctx context.Context, in LevelInput) (*models.Level, error) {
	title, err := normalizeTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if in.Rank < 0 {
		return nil, validationErr("level must be >= 0")
	}
	actor := ActorFromContext(ctx)
	lvl := &models.Level{
		Title:     title,
		Slug:      levelSlug(title, in.Rank),
		Rank:      in.Rank,
		Valid:     in.Valid != nil && *in.Valid,
		Blameable: models.Blameable{CreatedBy: actor, UpdatedBy: actor},
	}
	if err := s.DB.WithContext(ctx).Create(lvl).Error; err != nil {
		return nil, storeErr("create level", err)
	}
	s.log.Info("[LEVEL] created", "id", lvl.ID, "title", lvl.Title, "rank", lvl.Rank, "by", actor)
	return lvl, nil
}

func (s *LevelService) Update(ctx context.Context, id string, in LevelInput) (*models.Level, error) {
	title, err := normalizeTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if in.Rank < 0 {
		return nil, validationErr("level must be >= 0")
	}

	var lvl models.Level
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&lvl).Error; err != nil {
			return err
		}
		lvl.Title = title
		lvl.Slug = levelSlug(title, in.Rank)
		lvl.Rank = in.Rank
		if in.Valid != nil {
			lvl.Valid = *in.Valid
		}
		lvl.UpdatedBy = ActorFromContext(ctx)
		return tx.Save(&lvl).Error
	})
	if err != nil {
		return nil, storeErr("update level", err)
	}
	s.log.Info("[LEVEL] updated", "id", lvl.ID, "title", lvl.Title, "rank", lvl.Rank, "valid", lvl.Valid)
	return &lvl, nil
}

// Delete removes a level with its rules and their progress rows. A level that is
// still someone's current level is refused with ErrLevelInUse.
func (s *LevelService) Delete(ctx context.Context, id string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteLevel(tx, id)
	})
	if err != nil {
		return storeErr("delete level", err)
	}
	s.log.Info("[LEVEL] deleted", "id", id, "by", ActorFromContext(ctx))
	return nil
}

// BatchDelete deletes all ids or none of them.
func (s *LevelService) BatchDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return validationErr("ids must not be empty")
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			if err := deleteLevel(tx, id); err != nil {
				return fmt.Errorf("level %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return storeErr("batch delete levels", err)
	}
	s.log.Info("[LEVEL] batch deleted", "count", len(ids), "by", ActorFromContext(ctx))
	return nil
}

func deleteLevel(tx *gorm.DB, id string) error {
	var inUse int64
	if err := tx.Model(&models.UserLevelRelation{}).Where("level_id = ?", id).Count(&inUse).Error; err != nil {
		return err
	}
	if inUse > 0 {
		return ErrLevelInUse
	}

	ruleIDs := tx.Model(&models.UpgradeRule{}).Select("id").Where("level_id = ?", id)
	if err := tx.Where("upgrade_rule_id IN (?)", ruleIDs).Delete(&models.UpgradeProgress{}).Error; err != nil {
		return err
	}
	if err := tx.Where("level_id = ?", id).Delete(&models.UpgradeRule{}).Error; err != nil {
		return err
	}
	res := tx.Where("id = ?", id).Delete(&models.Level{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the level with all of its rules.
func (s *LevelService) Get(ctx context.Context, id string) (*models.Level, error) {
	var lvl models.Level
	err := s.DB.WithContext(ctx).
		Preload("Rules", func(db *gorm.DB) *gorm.DB { return db.Order("value ASC, id ASC") }).
		Where("id = ?", id).
		First(&lvl).Error
	if err != nil {
		return nil, storeErr("get level", err)
	}
	return &lvl, nil
}

// List pages through levels newest first.
func (s *LevelService) List(ctx context.Context, q LevelQuery) (Page[models.Level], error) {
	page, size := normalizePage(q.Page, q.Size)
	out := Page[models.Level]{Items: []models.Level{}, Page: page, Size: size}

	db := s.DB.WithContext(ctx).Model(&models.Level{})
	if t := strings.TrimSpace(q.Title); t != "" {
		db = db.Where("title LIKE ?", "%"+t+"%")
	}
	db = db.Session(&gorm.Session{})
	if err := db.Count(&out.Total).Error; err != nil {
		return out, storeErr("count levels", err)
	}
	if err := db.Order("id DESC").Scopes(paginate(page, size)).Find(&out.Items).Error; err != nil {
		return out, storeErr("list levels", err)
	}
	return out, nil
}

// Ladder returns the valid levels in rank order, each with its valid rules.
func (s *LevelService) Ladder(ctx context.Context) ([]models.Level, error) {
	var levels []models.Level
	err := s.DB.WithContext(ctx).
		Preload("Rules", func(db *gorm.DB) *gorm.DB {
			return db.Where("valid = ?", true).Order("value ASC, id ASC")
		}).
		Where("valid = ?", true).
		Order("rank ASC, id ASC").
		Find(&levels).Error
	if err != nil {
		return nil, storeErr("list ladder", err)
	}
	return levels, nil
}

// FindByTitle is used by fixture loading; it returns (nil, nil) when absent.
func (s *LevelService) FindByTitle(ctx context.Context, title string) (*models.Level, error) {
	t, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	var lvl models.Level
	err = s.DB.WithContext(ctx).Where("title = ?", t).First(&lvl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find level", err)
	}
	return &lvl, nil
}
