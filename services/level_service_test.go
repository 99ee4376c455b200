package services

import (
	"context"
	"testing"

	"user-level-system/logger"
	"user-level-system/models"
	"user-level-system/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestLevelServiceCRUD(t *testing.T) {
	db := testutil.DB(t)
	svc := NewLevelService(db, logger.NewNop())
	ctx := WithActor(context.Background(), "admin-1")

	lvl, err := svc.Create(ctx, LevelInput{Title: "  Gold Member ", Rank: 3, Valid: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, "Gold Member", lvl.Title)
	assert.Equal(t, "gold-member", lvl.Slug)
	assert.True(t, lvl.Valid)
	assert.Equal(t, "admin-1", lvl.CreatedBy)

	_, err = svc.Create(ctx, LevelInput{Title: "Gold Member", Rank: 4})
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = svc.Create(ctx, LevelInput{Title: "Other", Rank: 3})
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = svc.Create(ctx, LevelInput{Title: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	updated, err := svc.Update(ctx, lvl.ID, LevelInput{Title: "Gold", Rank: 30})
	require.NoError(t, err)
	assert.Equal(t, "gold", updated.Slug)
	assert.True(t, updated.Valid, "nil Valid keeps the flag")

	_, err = svc.Update(ctx, "missing", LevelInput{Title: "x", Rank: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Get(ctx, lvl.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Rank)

	require.NoError(t, svc.Delete(ctx, lvl.ID))
	_, err = svc.Get(ctx, lvl.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, lvl.ID), ErrNotFound)
}

func TestLevelServiceNormalizesUnicodeTitles(t *testing.T) {
	db := testutil.DB(t)
	svc := NewLevelService(db, logger.NewNop())
	ctx := context.Background()

	_, err := svc.Create(ctx, LevelInput{Title: "Caf\u00e9", Rank: 1})
	require.NoError(t, err)
	// Decomposed form of the same title.
	_, err = svc.Create(ctx, LevelInput{Title: "Cafe\u0301", Rank: 2})
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := svc.FindByTitle(ctx, "Café")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "cafe", found.Slug)
}

func TestLevelServiceDeleteCascadesAndRefusesInUse(t *testing.T) {
	db := testutil.DB(t)
	svc := NewLevelService(db, logger.NewNop())
	ctx := context.Background()

	free := testutil.SeedLevel(t, ctx, db, "Free", 1, true)
	used := testutil.SeedLevel(t, ctx, db, "Used", 2, true)
	rule := testutil.SeedRule(t, ctx, db, free.ID, "points", 10, true)
	testutil.SeedProgress(t, ctx, db, "u1", rule.ID, 3)
	testutil.SeedRelation(t, ctx, db, "u2", used.ID)

	assert.ErrorIs(t, svc.Delete(ctx, used.ID), ErrLevelInUse)

	require.NoError(t, svc.Delete(ctx, free.ID))
	assert.EqualValues(t, 0, testutil.Count(t, db, &models.UpgradeRule{}))
	assert.EqualValues(t, 0, testutil.Count(t, db, &models.UpgradeProgress{}))
}

func TestLevelServiceBatchDeleteIsAllOrNothing(t *testing.T) {
	db := testutil.DB(t)
	svc := NewLevelService(db, logger.NewNop())
	ctx := context.Background()

	a := testutil.SeedLevel(t, ctx, db, "A", 1, true)
	b := testutil.SeedLevel(t, ctx, db, "B", 2, true)

	err := svc.BatchDelete(ctx, []string{a.ID, "missing", b.ID})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 2, testutil.Count(t, db, &models.Level{}))

	require.NoError(t, svc.BatchDelete(ctx, []string{a.ID, b.ID}))
	assert.EqualValues(t, 0, testutil.Count(t, db, &models.Level{}))

	assert.ErrorIs(t, svc.BatchDelete(ctx, nil), ErrValidation)
}

func TestLevelServiceListAndLadder(t *testing.T) {
	db := testutil.DB(t)
	svc := NewLevelService(db, logger.NewNop())
	ctx := context.Background()

	bronze := testutil.SeedLevel(t, ctx, db, "Bronze", 1, true)
	testutil.SeedLevel(t, ctx, db, "Silver", 2, false)
	gold := testutil.SeedLevel(t, ctx, db, "Gold", 3, true)
	testutil.SeedRule(t, ctx, db, gold.ID, "purchases", 5, true)
	testutil.SeedRule(t, ctx, db, gold.ID, "hidden", 1, false)

	page, err := svc.List(ctx, LevelQuery{Page: 1, Size: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Gold", page.Items[0].Title, "newest first")

	page, err = svc.List(ctx, LevelQuery{Title: "ron"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, bronze.ID, page.Items[0].ID)

	ladder, err := svc.Ladder(ctx)
	require.NoError(t, err)
	require.Len(t, ladder, 2)
	assert.Equal(t, "Bronze", ladder[0].Title)
	assert.Equal(t, "Gold", ladder[1].Title)
	require.Len(t, ladder[1].Rules, 1)
	assert.Equal(t, "purchases", ladder[1].Rules[0].Title)
}

func TestRuleService(t *testing.T) {
	db := testutil.DB(t)
	svc := NewRuleService(db, logger.NewNop())
	ctx := context.Background()
	silver := testutil.SeedLevel(t, ctx, db, "Silver", 2, true)
	gold := testutil.SeedLevel(t, ctx, db, "Gold", 3, true)

	_, err := svc.Create(ctx, RuleInput{Title: "points", LevelID: "missing", Value: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Create(ctx, RuleInput{Title: "points", LevelID: silver.ID, Value: -1})
	assert.ErrorIs(t, err, ErrValidation)

	rule, err := svc.Create(ctx, RuleInput{Title: "points", LevelID: silver.ID, Value: 1000, Valid: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, rule.Valid)

	rule, err = svc.Update(ctx, rule.ID, RuleInput{Title: "points", LevelID: gold.ID, Value: 2000, Valid: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, gold.ID, rule.LevelID)
	assert.False(t, rule.Valid)

	rules, err := svc.ListByLevel(ctx, gold.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	_, err = svc.ListByLevel(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Get(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Level)
	assert.Equal(t, "Gold", got.Level.Title)

	testutil.SeedProgress(t, ctx, db, "u1", rule.ID, 10)
	require.NoError(t, svc.Delete(ctx, rule.ID))
	assert.EqualValues(t, 0, testutil.Count(t, db, &models.UpgradeProgress{}))
	assert.ErrorIs(t, svc.Delete(ctx, rule.ID), ErrNotFound)
}
