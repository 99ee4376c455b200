// Package testutil opens throwaway SQLite databases and seeds level fixtures for tests.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"user-level-system/database"
	"user-level-system/models"

	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// DB returns a migrated in-memory SQLite database private to the test.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:userlevel_%d?mode=memory&cache=shared&_busy_timeout=5000", dbSeq.Add(1))
	db, err := database.Open("sqlite", dsn, true)
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	// One connection keeps the shared in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

func SeedLevel(tb testing.TB, ctx context.Context, db *gorm.DB, title string, rank int, valid bool) *models.Level {
	tb.Helper()
	l := &models.Level{Title: title, Slug: title, Rank: rank, Valid: valid}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		tb.Fatalf("seed level %s: %v", title, err)
	}
	return l
}

func SeedRule(tb testing.TB, ctx context.Context, db *gorm.DB, levelID, title string, value int64, valid bool) *models.UpgradeRule {
	tb.Helper()
	r := &models.UpgradeRule{Title: title, LevelID: levelID, Value: value, Valid: valid}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed rule %s: %v", title, err)
	}
	return r
}

func SeedProgress(tb testing.TB, ctx context.Context, db *gorm.DB, userID, ruleID string, value int64) *models.UpgradeProgress {
	tb.Helper()
	p := &models.UpgradeProgress{UserID: userID, UpgradeRuleID: ruleID, Value: &value}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed progress %s/%s: %v", userID, ruleID, err)
	}
	return p
}

func SeedRelation(tb testing.TB, ctx context.Context, db *gorm.DB, userID, levelID string) *models.UserLevelRelation {
	tb.Helper()
	r := &models.UserLevelRelation{UserID: userID, LevelID: levelID, Valid: true, Version: 1}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed relation %s: %v", userID, err)
	}
	return r
}

// Count returns the number of rows of model.
func Count(tb testing.TB, db *gorm.DB, model interface{}) int64 {
	tb.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	return n
}
