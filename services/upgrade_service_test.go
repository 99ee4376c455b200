package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"user-level-system/logger"
	"user-level-system/models"
	"user-level-system/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type ladder struct {
	bronze, silver, gold *models.Level
	points, purchases    *models.UpgradeRule
}

// seedLadder creates Bronze(1) without rules, Silver(2) gated by 1000 points and
// Gold(3) gated by 5 purchases.
func seedLadder(t *testing.T, db *gorm.DB) ladder {
	t.Helper()
	ctx := context.Background()
	l := ladder{
		bronze: testutil.SeedLevel(t, ctx, db, "Bronze", 1, true),
		silver: testutil.SeedLevel(t, ctx, db, "Silver", 2, true),
		gold:   testutil.SeedLevel(t, ctx, db, "Gold", 3, true),
	}
	l.points = testutil.SeedRule(t, ctx, db, l.silver.ID, "points", 1000, true)
	l.purchases = testutil.SeedRule(t, ctx, db, l.gold.ID, "purchases", 5, true)
	return l
}

func newEngine(db *gorm.DB, opts ...UpgradeOption) *UpgradeService {
	return NewUpgradeService(NewGormStore(db), logger.NewNop(), opts...)
}

func currentLevelID(t *testing.T, db *gorm.DB, userID string) string {
	t.Helper()
	var rel models.UserLevelRelation
	if err := db.Where("user_id = ?", userID).First(&rel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ""
		}
		t.Fatalf("load relation: %v", err)
	}
	return rel.LevelID
}

func TestAdvanceBronzeSilverScenario(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := context.Background()
	testutil.SeedProgress(t, ctx, db, "u1", l.points.ID, 1000)
	engine := newEngine(db)

	out, err := engine.Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, out.Kind)
	assert.Equal(t, l.bronze.ID, out.To.ID)
	assert.Nil(t, out.From)
	require.NotNil(t, out.Log)
	assert.Nil(t, out.Log.OldLevelID)
	assert.Equal(t, models.AssignTypeUpgrade, out.Log.Type)

	out, err = engine.Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, out.Kind)
	assert.Equal(t, l.silver.ID, out.To.ID)
	assert.Equal(t, l.bronze.ID, out.From.ID)
	require.NotNil(t, out.Rule)
	assert.Equal(t, l.points.ID, out.Rule.ID)
	require.NotNil(t, out.Log.OldLevelID)
	assert.Equal(t, l.bronze.ID, *out.Log.OldLevelID)

	assert.Equal(t, l.silver.ID, currentLevelID(t, db, "u1"))
	assert.EqualValues(t, 2, testutil.Count(t, db, &models.AssignLog{}))

	var rel models.UserLevelRelation
	require.NoError(t, db.Where("user_id = ?", "u1").First(&rel).Error)
	assert.EqualValues(t, 2, rel.Version)
	assert.True(t, rel.Valid)
}

func TestAdvanceOrAcrossRules(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	base := testutil.SeedLevel(t, ctx, db, "Base", 0, true)
	vip := testutil.SeedLevel(t, ctx, db, "VIP", 1, true)
	hard := testutil.SeedRule(t, ctx, db, vip.ID, "spend", 100, true)
	easy := testutil.SeedRule(t, ctx, db, vip.ID, "referrals", 50, true)
	testutil.SeedRelation(t, ctx, db, "u1", base.ID)
	testutil.SeedProgress(t, ctx, db, "u1", hard.ID, 80)
	testutil.SeedProgress(t, ctx, db, "u1", easy.ID, 50)

	out, err := newEngine(db).Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, out.Kind)
	assert.Equal(t, vip.ID, out.To.ID)
	assert.Equal(t, easy.ID, out.Rule.ID)
}

func TestAdvanceNotYetQualifiedIsSideEffectFree(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := context.Background()
	testutil.SeedRelation(t, ctx, db, "u1", l.bronze.ID)
	testutil.SeedProgress(t, ctx, db, "u1", l.points.ID, 999)
	engine := newEngine(db)

	for i := 0; i < 2; i++ {
		out, err := engine.Advance(ctx, UserID("u1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotYetQualified, out.Kind)
		assert.Equal(t, l.silver.ID, out.To.ID)
		assert.Nil(t, out.Log)
	}
	assert.EqualValues(t, 0, testutil.Count(t, db, &models.AssignLog{}))
	assert.Equal(t, l.bronze.ID, currentLevelID(t, db, "u1"))
}

func TestAdvanceOneTransitionPerCall(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := context.Background()
	testutil.SeedRelation(t, ctx, db, "u1", l.bronze.ID)
	testutil.SeedProgress(t, ctx, db, "u1", l.points.ID, 5000)
	engine := newEngine(db)

	out, err := engine.Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, out.Kind)
	assert.Equal(t, l.silver.ID, out.To.ID)

	// Points do not count toward Gold; purchases are still 0.
	out, err = engine.Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotYetQualified, out.Kind)
	assert.Equal(t, l.gold.ID, out.To.ID)
	assert.Equal(t, l.silver.ID, currentLevelID(t, db, "u1"))

	testutil.SeedProgress(t, ctx, db, "u1", l.purchases.ID, 5)
	out, err = engine.Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, out.Kind)
	assert.Equal(t, l.gold.ID, out.To.ID)

	out, err = engine.Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoEligibleTier, out.Kind)
	assert.Nil(t, out.To)
	assert.EqualValues(t, 2, testutil.Count(t, db, &models.AssignLog{}))
}

func TestAdvanceNoRuleConfigured(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	bronze := testutil.SeedLevel(t, ctx, db, "Bronze", 1, true)
	silver := testutil.SeedLevel(t, ctx, db, "Silver", 2, true)
	testutil.SeedRelation(t, ctx, db, "u1", bronze.ID)
	// An invalid rule does not count.
	testutil.SeedRule(t, ctx, db, silver.ID, "disabled", 0, false)

	out, err := newEngine(db).Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoRuleConfigured, out.Kind)
	assert.Equal(t, silver.ID, out.To.ID)
	assert.Equal(t, bronze.ID, currentLevelID(t, db, "u1"))
}

func TestAdvanceEntryTierAutoAssignDisabled(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := context.Background()

	out, err := newEngine(db, WithEntryTierAutoAssign(false)).Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoRuleConfigured, out.Kind)
	assert.Equal(t, l.bronze.ID, out.To.ID)
	assert.Equal(t, "", currentLevelID(t, db, "u1"))
}

func TestAdvanceEntryTierWithRule(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	bronze := testutil.SeedLevel(t, ctx, db, "Bronze", 1, true)
	signup := testutil.SeedRule(t, ctx, db, bronze.ID, "signup", 1, true)
	engine := newEngine(db)

	out, err := engine.Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotYetQualified, out.Kind)

	testutil.SeedProgress(t, ctx, db, "u1", signup.ID, 1)
	out, err = engine.Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, out.Kind)
	assert.Equal(t, bronze.ID, out.To.ID)
}

func TestAdvanceSkipsInvalidLevels(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	bronze := testutil.SeedLevel(t, ctx, db, "Bronze", 1, true)
	hidden := testutil.SeedLevel(t, ctx, db, "Hidden", 2, false)
	gold := testutil.SeedLevel(t, ctx, db, "Gold", 3, true)
	testutil.SeedRule(t, ctx, db, hidden.ID, "free", 0, true)
	testutil.SeedRule(t, ctx, db, gold.ID, "free", 0, true)
	testutil.SeedRelation(t, ctx, db, "u1", bronze.ID)

	out, err := newEngine(db).Advance(ctx, UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, out.Kind)
	assert.Equal(t, gold.ID, out.To.ID)
}

func TestAdvanceInvalidUserDoesNotTouchStores(t *testing.T) {
	tx := &countingTx{}
	engine := NewUpgradeService(tx, logger.NewNop())

	for _, u := range []User{nil, UserID(""), UserID("   ")} {
		_, err := engine.Advance(context.Background(), u)
		assert.ErrorIs(t, err, ErrInvalidUser)
		_, err = engine.Demote(context.Background(), u, "")
		assert.ErrorIs(t, err, ErrInvalidUser)
	}
	assert.Zero(t, tx.calls)
}

func TestAdvanceCancelledContext(t *testing.T) {
	tx := &countingTx{}
	engine := NewUpgradeService(tx, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Advance(ctx, UserID("u1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tx.calls)
}

func TestAdvanceAtomicWhenHistoryFails(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := context.Background()
	testutil.SeedRelation(t, ctx, db, "u2", l.bronze.ID)
	testutil.SeedProgress(t, ctx, db, "u2", l.points.ID, 1000)

	tx := faultyTx{inner: NewGormStore(db), err: errors.New("disk full")}
	engine := NewUpgradeService(tx, logger.NewNop())

	// First assignment: relation insert must roll back.
	_, err := engine.Advance(ctx, UserID("u1"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, "", currentLevelID(t, db, "u1"))

	// Existing assignment: relation update must roll back.
	_, err = engine.Advance(ctx, UserID("u2"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, l.bronze.ID, currentLevelID(t, db, "u2"))

	assert.EqualValues(t, 0, testutil.Count(t, db, &models.AssignLog{}))
}

func TestAdvanceConflictIsReported(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := context.Background()
	testutil.SeedRelation(t, ctx, db, "u1", l.bronze.ID)
	testutil.SeedProgress(t, ctx, db, "u1", l.points.ID, 1000)

	tx := racingTx{inner: NewGormStore(db), db: db, moveTo: l.gold.ID}
	_, err := NewUpgradeService(tx, logger.NewNop()).Advance(ctx, UserID("u1"))
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.EqualValues(t, 0, testutil.Count(t, db, &models.AssignLog{}))
}

func TestSetAssignmentCompareAndSwap(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := context.Background()
	store := NewGormStore(db)

	require.NoError(t, store.SetAssignment(ctx, "u1", l.bronze.ID, nil, 0))
	assert.ErrorIs(t, store.SetAssignment(ctx, "u1", l.silver.ID, nil, 0), ErrConcurrentModification)

	stale := l.gold.ID
	assert.ErrorIs(t, store.SetAssignment(ctx, "u1", l.silver.ID, &stale, 1), ErrConcurrentModification)

	prior := l.bronze.ID
	assert.ErrorIs(t, store.SetAssignment(ctx, "u1", l.silver.ID, &prior, 7), ErrConcurrentModification)
	require.NoError(t, store.SetAssignment(ctx, "u1", l.silver.ID, &prior, 1))
	assert.Equal(t, l.silver.ID, currentLevelID(t, db, "u1"))

	rel, err := store.GetCurrentAssignment(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rel.Version)
}

func TestAdvanceDetectsLevelChangedAndRestored(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := context.Background()
	testutil.SeedRelation(t, ctx, db, "u1", l.bronze.ID)
	testutil.SeedProgress(t, ctx, db, "u1", l.points.ID, 1000)

	// The row leaves Bronze and comes back before the write: same level, newer version.
	tx := racingTx{inner: NewGormStore(db), db: db, moveTo: l.gold.ID, restore: l.bronze.ID}
	_, err := NewUpgradeService(tx, logger.NewNop()).Advance(ctx, UserID("u1"))
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, l.bronze.ID, currentLevelID(t, db, "u1"))
	assert.EqualValues(t, 0, testutil.Count(t, db, &models.AssignLog{}))
}

func TestAdvanceCancelledBeforeWrite(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	testutil.SeedRelation(t, context.Background(), db, "u1", l.bronze.ID)
	testutil.SeedProgress(t, context.Background(), db, "u1", l.points.ID, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tx := cancellingTx{inner: NewGormStore(db), cancel: cancel}

	_, err := NewUpgradeService(tx, logger.NewNop()).Advance(ctx, UserID("u1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, l.bronze.ID, currentLevelID(t, db, "u1"))
	assert.EqualValues(t, 0, testutil.Count(t, db, &models.AssignLog{}))
}

func TestOutcomeMessageNoEligibleTier(t *testing.T) {
	top := &models.Level{Title: "Gold", Rank: 3}
	assert.Equal(t, "already at the highest level", Outcome{Kind: OutcomeNoEligibleTier, From: top}.Message())
	assert.Equal(t, "no valid level configured", Outcome{Kind: OutcomeNoEligibleTier}.Message())

	out, err := newEngine(testutil.DB(t)).Advance(context.Background(), UserID("u1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoEligibleTier, out.Kind)
	assert.Equal(t, "no valid level configured", out.Message())
}

func TestAdvanceConcurrentCallsTransitionOnce(t *testing.T) {
	db := testutil.DB(t)
	seedLadder(t, db)
	engine := newEngine(db)

	var wg sync.WaitGroup
	results := make([]Outcome, 6)
	errs := make([]error, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Advance(context.Background(), UserID("racer"))
		}(i)
	}
	wg.Wait()

	advanced := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Kind == OutcomeAdvanced {
			advanced++
		} else {
			assert.Equal(t, OutcomeNotYetQualified, results[i].Kind)
		}
	}
	assert.Equal(t, 1, advanced)
	assert.EqualValues(t, 1, testutil.Count(t, db, &models.AssignLog{}))
}

func TestDemote(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := WithActor(context.Background(), "admin-7")
	testutil.SeedRelation(t, ctx, db, "u1", l.silver.ID)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	engine := newEngine(db, WithClock(func() time.Time { return fixed }))

	out, err := engine.Demote(ctx, UserID("u1"), "refund abuse")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDemoted, out.Kind)
	assert.Equal(t, l.bronze.ID, out.To.ID)
	assert.Equal(t, models.AssignTypeDowngrade, out.Log.Type)
	assert.Equal(t, "refund abuse", out.Log.Remark)
	assert.Equal(t, "admin-7", out.Log.CreatedBy)
	assert.True(t, fixed.Equal(out.Log.AssignTime))

	out, err = engine.Demote(ctx, UserID("u1"), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoLowerTier, out.Kind)

	out, err = engine.Demote(ctx, UserID("nobody"), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotAssigned, out.Kind)
	assert.EqualValues(t, 1, testutil.Count(t, db, &models.AssignLog{}))
}

func TestAssignManual(t *testing.T) {
	db := testutil.DB(t)
	l := seedLadder(t, db)
	ctx := context.Background()
	engine := newEngine(db)

	out, err := engine.Assign(ctx, UserID("u1"), l.gold.ID, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, out.Kind)
	assert.Equal(t, "manual upgrade to Gold", out.Log.Remark)

	out, err = engine.Assign(ctx, UserID("u1"), l.bronze.ID, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDemoted, out.Kind)

	out, err = engine.Assign(ctx, UserID("u1"), l.bronze.ID, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Kind)

	_, err = engine.Assign(ctx, UserID("u1"), "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindNextValidTierIsMonotonic(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	for i, rank := range []int{7, 2, 11, 5, 0} {
		testutil.SeedLevel(t, ctx, db, "L"+string(rune('A'+i)), rank, true)
	}
	store := NewGormStore(db)

	expect := map[int]int{-1: 0, 0: 2, 1: 2, 2: 5, 4: 5, 5: 7, 7: 11, 10: 11}
	for from, want := range expect {
		got, err := store.FindNextValidTier(ctx, from)
		require.NoError(t, err)
		require.NotNil(t, got, "from %d", from)
		assert.Equal(t, want, got.Rank, "from %d", from)
	}
	got, err := store.FindNextValidTier(ctx, 11)
	require.NoError(t, err)
	assert.Nil(t, got)

	prev, err := store.FindPreviousValidTier(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, prev.Rank)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "铜牌", truncateRunes("铜牌会员", 2))
}

type countingTx struct{ calls int }

func (c *countingTx) WithinTx(ctx context.Context, fn func(Stores) error) error {
	c.calls++
	return errors.New("unexpected store access")
}

type failingHistory struct{ err error }

func (f failingHistory) AppendEntry(context.Context, *models.AssignLog) error { return f.err }

type faultyStores struct {
	Stores
	history HistoryStore
}

func (f faultyStores) History() HistoryStore { return f.history }

// faultyTx fails every history append inside an otherwise real transaction.
type faultyTx struct {
	inner Transactor
	err   error
}

func (f faultyTx) WithinTx(ctx context.Context, fn func(Stores) error) error {
	return f.inner.WithinTx(ctx, func(st Stores) error {
		return fn(faultyStores{Stores: st, history: failingHistory{err: f.err}})
	})
}

// racingStores moves the user to another level right before the engine writes,
// and back again when restore is set.
type racingStores struct {
	Stores
	moveTo  string
	restore string
	userDB  *gorm.DB
}

func (r racingStores) Assignments() AssignmentStore { return r }

func (r racingStores) GetCurrentAssignment(ctx context.Context, userID string) (*models.UserLevelRelation, error) {
	return r.Stores.Assignments().GetCurrentAssignment(ctx, userID)
}

func (r racingStores) SetAssignment(ctx context.Context, userID, levelID string, expectedPrior *string, expectedVersion int64) error {
	moves := []string{r.moveTo}
	if r.restore != "" {
		moves = append(moves, r.restore)
	}
	for _, to := range moves {
		if err := r.userDB.Model(&models.UserLevelRelation{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{"level_id": to, "version": gorm.Expr("version + 1")}).Error; err != nil {
			return err
		}
	}
	return r.Stores.Assignments().SetAssignment(ctx, userID, levelID, expectedPrior, expectedVersion)
}

type racingTx struct {
	inner   Transactor
	db      *gorm.DB
	moveTo  string
	restore string
}

func (r racingTx) WithinTx(ctx context.Context, fn func(Stores) error) error {
	return r.inner.WithinTx(ctx, func(st Stores) error {
		gs := st.(*GormStore)
		return fn(racingStores{Stores: st, moveTo: r.moveTo, restore: r.restore, userDB: gs.DB})
	})
}

// cancellingProgress cancels the caller's context once progress has been read.
type cancellingProgress struct {
	inner  ProgressStore
	cancel context.CancelFunc
}

func (c cancellingProgress) GetProgress(ctx context.Context, userID, ruleID string) (int64, error) {
	v, err := c.inner.GetProgress(ctx, userID, ruleID)
	c.cancel()
	return v, err
}

type cancellingStores struct {
	Stores
	cancel context.CancelFunc
}

func (c cancellingStores) Progress() ProgressStore {
	return cancellingProgress{inner: c.Stores.Progress(), cancel: c.cancel}
}

type cancellingTx struct {
	inner  Transactor
	cancel context.CancelFunc
}

func (c cancellingTx) WithinTx(ctx context.Context, fn func(Stores) error) error {
	return c.inner.WithinTx(ctx, func(st Stores) error {
		return fn(cancellingStores{Stores: st, cancel: c.cancel})
	})
}
