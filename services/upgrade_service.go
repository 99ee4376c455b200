package services

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"user-level-system/logger"
	"user-level-system/models"
)

// OutcomeKind says what an Advance/Demote/Assign call decided.
type OutcomeKind string

const (
	OutcomeAdvanced         OutcomeKind = "advanced"
	OutcomeDemoted          OutcomeKind = "demoted"
	OutcomeNoEligibleTier   OutcomeKind = "no_eligible_tier"
	OutcomeNoRuleConfigured OutcomeKind = "no_rule_configured"
	OutcomeNotYetQualified  OutcomeKind = "not_yet_qualified"
	OutcomeNotAssigned      OutcomeKind = "not_assigned"
	OutcomeNoLowerTier      OutcomeKind = "no_lower_tier"
	OutcomeUnchanged        OutcomeKind = "unchanged"
)

// Outcome is the result of one engine call. Only Advanced and Demoted carry a write.
//
// From is the level held before the call (nil = no level). To is the level moved to,
// or the candidate that was evaluated when nothing changed.
type Outcome struct {
	Kind   OutcomeKind         `json:"kind"`
	UserID string              `json:"user_id"`
	From   *models.Level       `json:"from,omitempty"`
	To     *models.Level       `json:"to,omitempty"`
	Rule   *models.UpgradeRule `json:"rule,omitempty"`
	Log    *models.AssignLog   `json:"log,omitempty"`
}

// Changed reports whether the call moved the user.
func (o Outcome) Changed() bool {
	return o.Kind == OutcomeAdvanced || o.Kind == OutcomeDemoted
}

// Message is the user-facing explanation of the outcome.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeAdvanced:
		return fmt.Sprintf("upgraded to %s", o.To)
	case OutcomeDemoted:
		return fmt.Sprintf("downgraded to %s", o.To)
	case OutcomeNoEligibleTier:
		if o.From == nil {
			return "no valid level configured"
		}
		return "already at the highest level"
	case OutcomeNoRuleConfigured:
		return fmt.Sprintf("no upgrade rule configured for %s", o.To)
	case OutcomeNotYetQualified:
		return fmt.Sprintf("requirements for %s not met yet", o.To)
	case OutcomeNotAssigned:
		return "user has no level"
	case OutcomeNoLowerTier:
		return "already at the lowest level"
	case OutcomeUnchanged:
		return fmt.Sprintf("already at %s", o.To)
	default:
		return string(o.Kind)
	}
}

// UpgradeService decides and commits level transitions.
//
// Every call re-reads state inside one transaction, serialized per user by the
// Locker, and commits the relation update and the assign log together.
type UpgradeService struct {
	tx              Transactor
	locker          Locker
	log             *logger.Logger
	now             func() time.Time
	entryAutoAssign bool
}

// UpgradeOption configures an UpgradeService.
type UpgradeOption func(*UpgradeService)

// WithLocker replaces the default in-process locker (e.g. with a RedisLocker).
func WithLocker(l Locker) UpgradeOption {
	return func(s *UpgradeService) { s.locker = l }
}

// WithClock sets the time source for assign log timestamps.
func WithClock(now func() time.Time) UpgradeOption {
	return func(s *UpgradeService) { s.now = now }
}

// WithEntryTierAutoAssign controls whether a user without a level is enrolled into
// the lowest valid level when that level has no rules. Default true.
func WithEntryTierAutoAssign(enabled bool) UpgradeOption {
	return func(s *UpgradeService) { s.entryAutoAssign = enabled }
}

// NewUpgradeService returns an engine over tx with an in-process locker.
func NewUpgradeService(tx Transactor, log *logger.Logger, opts ...UpgradeOption) *UpgradeService {
	s := &UpgradeService{
		tx:              tx,
		locker:          NewLocalLocker(),
		log:             log,
		now:             time.Now,
		entryAutoAssign: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Advance moves the user one level up when any valid rule of the next level is met
// (progress >= threshold, OR across rules).
func (s *UpgradeService) Advance(ctx context.Context, user User) (Outcome, error) {
	return s.run(ctx, user, "advance", s.advance)
}

// Demote moves the user to the valid level immediately below the current one.
// An empty remark gets a generated one.
func (s *UpgradeService) Demote(ctx context.Context, user User, remark string) (Outcome, error) {
	return s.run(ctx, user, "demote", func(ctx context.Context, st Stores, userID string) (Outcome, error) {
		return s.demote(ctx, st, userID, remark)
	})
}

// Assign puts the user on levelID regardless of rules (admin override).
// The log direction follows the rank comparison with the previous level.
func (s *UpgradeService) Assign(ctx context.Context, user User, levelID, remark string) (Outcome, error) {
	return s.run(ctx, user, "assign", func(ctx context.Context, st Stores, userID string) (Outcome, error) {
		return s.assign(ctx, st, userID, levelID, remark)
	})
}

type stepFunc func(ctx context.Context, st Stores, userID string) (Outcome, error)

func (s *UpgradeService) run(ctx context.Context, user User, op string, step stepFunc) (Outcome, error) {
	userID, err := userKey(user)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	var out Outcome
	err = s.tx.WithinTx(ctx, func(st Stores) error {
		var stepErr error
		out, stepErr = step(ctx, st, userID)
		return stepErr
	})
	if err != nil {
		err = storeErr(op, err)
		s.log.Warn("[UPGRADE] "+op+" failed", "user_id", userID, "error", err)
		return Outcome{}, err
	}

	if out.Changed() {
		s.log.Info("[UPGRADE] level changed",
			"user_id", userID, "op", op, "kind", out.Kind,
			"from", out.From.String(), "to", out.To.String())
	} else {
		s.log.Debug("[UPGRADE] no transition", "user_id", userID, "op", op, "kind", out.Kind)
	}
	return out, nil
}

func (s *UpgradeService) currentLevel(ctx context.Context, st Stores, userID string) (*models.UserLevelRelation, *models.Level, error) {
	rel, err := st.Assignments().GetCurrentAssignment(ctx, userID)
	if err != nil || rel == nil {
		return nil, nil, err
	}
	lvl, err := st.Tiers().GetLevel(ctx, rel.LevelID)
	if err != nil {
		return nil, nil, fmt.Errorf("level %s of user %s: %w", rel.LevelID, userID, err)
	}
	return rel, lvl, nil
}

func (s *UpgradeService) advance(ctx context.Context, st Stores, userID string) (Outcome, error) {
	rel, current, err := s.currentLevel(ctx, st, userID)
	if err != nil {
		return Outcome{}, err
	}

	var candidate *models.Level
	if rel == nil {
		candidate, err = st.Tiers().FindLowestValidTier(ctx)
	} else {
		candidate, err = st.Tiers().FindNextValidTier(ctx, current.Rank)
	}
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{UserID: userID, From: current, To: candidate}
	if candidate == nil {
		out.Kind = OutcomeNoEligibleTier
		return out, nil
	}

	rules, err := st.Tiers().GetRulesForTier(ctx, candidate.ID)
	if err != nil {
		return Outcome{}, err
	}
	if len(rules) == 0 {
		// Entry level: nothing gates a user that holds no level yet.
		if rel == nil && s.entryAutoAssign {
			remark := fmt.Sprintf("enrolled into %s", candidate)
			return s.commit(ctx, st, userID, nil, current, candidate, models.AssignTypeUpgrade, nil, remark)
		}
		out.Kind = OutcomeNoRuleConfigured
		return out, nil
	}

	rule, reached, err := firstSatisfied(ctx, st, userID, rules)
	if err != nil {
		return Outcome{}, err
	}
	if rule == nil {
		out.Kind = OutcomeNotYetQualified
		return out, nil
	}

	remark := fmt.Sprintf("upgrade to %s: %s reached %d/%d", candidate, rule.Title, reached, rule.Value)
	return s.commit(ctx, st, userID, rel, current, candidate, models.AssignTypeUpgrade, rule, remark)
}

// firstSatisfied returns the first rule whose threshold the user's progress meets.
func firstSatisfied(ctx context.Context, st Stores, userID string, rules []models.UpgradeRule) (*models.UpgradeRule, int64, error) {
	for i := range rules {
		got, err := st.Progress().GetProgress(ctx, userID, rules[i].ID)
		if err != nil {
			return nil, 0, err
		}
		if got >= rules[i].Value {
			return &rules[i], got, nil
		}
	}
	return nil, 0, nil
}

func (s *UpgradeService) demote(ctx context.Context, st Stores, userID, remark string) (Outcome, error) {
	rel, current, err := s.currentLevel(ctx, st, userID)
	if err != nil {
		return Outcome{}, err
	}
	if rel == nil {
		return Outcome{Kind: OutcomeNotAssigned, UserID: userID}, nil
	}

	target, err := st.Tiers().FindPreviousValidTier(ctx, current.Rank)
	if err != nil {
		return Outcome{}, err
	}
	if target == nil {
		return Outcome{Kind: OutcomeNoLowerTier, UserID: userID, From: current}, nil
	}

	if remark == "" {
		remark = fmt.Sprintf("downgrade from %s to %s", current, target)
	}
	return s.commit(ctx, st, userID, rel, current, target, models.AssignTypeDowngrade, nil, remark)
}

func (s *UpgradeService) assign(ctx context.Context, st Stores, userID, levelID, remark string) (Outcome, error) {
	target, err := st.Tiers().GetLevel(ctx, levelID)
	if err != nil {
		return Outcome{}, err
	}
	if !target.Valid {
		return Outcome{}, validationErr("level %s is not valid", target)
	}

	rel, current, err := s.currentLevel(ctx, st, userID)
	if err != nil {
		return Outcome{}, err
	}
	if current != nil && current.ID == target.ID {
		return Outcome{Kind: OutcomeUnchanged, UserID: userID, From: current, To: target}, nil
	}

	typ := models.AssignTypeUpgrade
	if current != nil && target.Rank < current.Rank {
		typ = models.AssignTypeDowngrade
	}
	if remark == "" {
		remark = fmt.Sprintf("manual %s to %s", typ, target)
	}
	return s.commit(ctx, st, userID, rel, current, target, typ, nil, remark)
}

// commit performs the conditional relation write and the log append. The caller's
// transaction makes the pair atomic.
func (s *UpgradeService) commit(
	ctx context.Context, st Stores, userID string,
	rel *models.UserLevelRelation, from, to *models.Level,
	typ models.AssignType, rule *models.UpgradeRule, remark string,
) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	var expected *string
	var version int64
	if rel != nil {
		prior := rel.LevelID
		expected, version = &prior, rel.Version
	}
	if err := st.Assignments().SetAssignment(ctx, userID, to.ID, expected, version); err != nil {
		return Outcome{}, err
	}

	actor := ActorFromContext(ctx)
	entry := &models.AssignLog{
		UserID:     userID,
		OldLevelID: expected,
		NewLevelID: to.ID,
		Type:       typ,
		AssignTime: s.now(),
		Remark:     truncateRunes(remark, models.RemarkMaxLen),
		Blameable:  models.Blameable{CreatedBy: actor, UpdatedBy: actor},
	}
	if err := st.History().AppendEntry(ctx, entry); err != nil {
		return Outcome{}, err
	}

	kind := OutcomeAdvanced
	if typ == models.AssignTypeDowngrade {
		kind = OutcomeDemoted
	}
	return Outcome{Kind: kind, UserID: userID, From: from, To: to, Rule: rule, Log: entry}, nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
