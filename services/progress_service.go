package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"user-level-system/logger"
	"user-level-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProgressService maintains the per-user counters the upgrade rules read.
// It never triggers an upgrade itself; callers run UpgradeService.Advance afterwards.
type ProgressService struct {
	DB  *gorm.DB
	log *logger.Logger
}

func NewProgressService(db *gorm.DB, log *logger.Logger) *ProgressService {
	return &ProgressService{DB: db, log: log}
}

var progressConflict = []clause.Column{{Name: "user_id"}, {Name: "upgrade_rule_id"}}

func checkProgressKey(userID, ruleID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	if strings.TrimSpace(ruleID) == "" {
		return validationErr("rule_id is required")
	}
	return nil
}

func ruleExists(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&models.UpgradeRule{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Set overwrites the counter of (user, rule).
func (s *ProgressService) Set(ctx context.Context, userID, ruleID string, value int64) (*models.UpgradeProgress, error) {
	if err := checkProgressKey(userID, ruleID); err != nil {
		return nil, err
	}
	if value < 0 {
		return nil, validationErr("value must be >= 0")
	}
	var out models.UpgradeProgress
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ruleExists(tx, ruleID); err != nil {
			return err
		}
		return upsertProgress(tx, userID, ruleID, value, time.Now(), &out)
	})
	if err != nil {
		return nil, storeErr("set progress", err)
	}
	s.log.Debug("[PROGRESS] set", "user_id", userID, "rule_id", ruleID, "value", value)
	return &out, nil
}

// upsertProgress writes value for (user, rule) and reloads the row into out.
func upsertProgress(tx *gorm.DB, userID, ruleID string, value int64, at time.Time, out *models.UpgradeProgress) error {
	row := models.UpgradeProgress{UserID: userID, UpgradeRuleID: ruleID, Value: &value}
	row.UpdatedAt = at
	err := tx.Clauses(clause.OnConflict{
		Columns:   progressConflict,
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	return tx.Where("user_id = ? AND upgrade_rule_id = ?", userID, ruleID).First(out).Error
}

// Increment adds delta (possibly negative) to the counter. The result never drops below 0.
func (s *ProgressService) Increment(ctx context.Context, userID, ruleID string, delta int64) (*models.UpgradeProgress, error) {
	if err := checkProgressKey(userID, ruleID); err != nil {
		return nil, err
	}
	initial := delta
	if initial < 0 {
		initial = 0
	}
	table := models.UpgradeProgress{}.TableName()
	next := gorm.Expr(
		"CASE WHEN COALESCE("+table+".value, 0) + ? < 0 THEN 0 ELSE COALESCE("+table+".value, 0) + ? END",
		delta, delta,
	)

	var out models.UpgradeProgress
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ruleExists(tx, ruleID); err != nil {
			return err
		}
		row := models.UpgradeProgress{UserID: userID, UpgradeRuleID: ruleID, Value: &initial}
		err := tx.Clauses(clause.OnConflict{
			Columns: progressConflict,
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":      next,
				"updated_at": time.Now(),
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Where("user_id = ? AND upgrade_rule_id = ?", userID, ruleID).First(&out).Error
	})
	if err != nil {
		return nil, storeErr("increment progress", err)
	}
	s.log.Debug("[PROGRESS] incremented", "user_id", userID, "rule_id", ruleID, "delta", delta, "value", out.Current())
	return &out, nil
}

// ListByUser returns the user's counters with their rules.
func (s *ProgressService) ListByUser(ctx context.Context, userID string) ([]models.UpgradeProgress, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	rows := []models.UpgradeProgress{}
	err := s.DB.WithContext(ctx).
		Preload("UpgradeRule").
		Where("user_id = ?", userID).
		Order("upgrade_rule_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list progress", err)
	}
	return rows, nil
}

// UserIDsWithProgress lists every user that has at least one counter, sorted.
func (s *ProgressService) UserIDsWithProgress(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).
		Model(&models.UpgradeProgress{}).
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, storeErr("list progress users", err)
	}
	return ids, nil
}

// SyncedValue is one externally reported counter.
type SyncedValue struct {
	UserID string
	RuleID string
	Value  int64
}

// ApplySynced upserts a batch of external counters in one transaction and returns
// the distinct users touched. Rows for unknown rules are skipped.
func (s *ProgressService) ApplySynced(ctx context.Context, values []SyncedValue) ([]string, int, error) {
	var (
		users   []string
		skipped int
	)
	seen := map[string]bool{}
	now := time.Now()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, v := range values {
			if checkProgressKey(v.UserID, v.RuleID) != nil || v.Value < 0 {
				skipped++
				continue
			}
			if err := ruleExists(tx, v.RuleID); err != nil {
				if errors.Is(err, ErrNotFound) {
					skipped++
					continue
				}
				return err
			}
			var row models.UpgradeProgress
			if err := upsertProgress(tx, v.UserID, v.RuleID, v.Value, now, &row); err != nil {
				return err
			}
			if !seen[v.UserID] {
				seen[v.UserID] = true
				users = append(users, v.UserID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, storeErr("apply synced progress", err)
	}
	return users, skipped, nil
}
