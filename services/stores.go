package services

import (
	"context"

	"user-level-system/models"
)

// TierCatalog is the read side of levels and their upgrade rules.
// Finder methods return (nil, nil) when nothing matches.
type TierCatalog interface {
	FindLowestValidTier(ctx context.Context) (*models.Level, error)
	// FindNextValidTier returns the valid level with the smallest rank > currentRank.
	FindNextValidTier(ctx context.Context, currentRank int) (*models.Level, error)
	// FindPreviousValidTier returns the valid level with the largest rank < currentRank.
	FindPreviousValidTier(ctx context.Context, currentRank int) (*models.Level, error)
	GetLevel(ctx context.Context, id string) (*models.Level, error)
	// GetRulesForTier returns the valid rules targeting levelID.
	GetRulesForTier(ctx context.Context, levelID string) ([]models.UpgradeRule, error)
}

// ProgressStore reads per-user rule counters. Missing progress is 0.
type ProgressStore interface {
	GetProgress(ctx context.Context, userID, ruleID string) (int64, error)
}

// AssignmentStore holds the current level of each user.
type AssignmentStore interface {
	// GetCurrentAssignment returns (nil, nil) for a user without a level.
	GetCurrentAssignment(ctx context.Context, userID string) (*models.UserLevelRelation, error)
	// SetAssignment moves userID to levelID only if the stored row still holds
	// expectedPrior at expectedVersion (nil = the user must have no row yet). A lost
	// race returns ErrConcurrentModification.
	SetAssignment(ctx context.Context, userID, levelID string, expectedPrior *string, expectedVersion int64) error
}

// HistoryStore appends transition records.
type HistoryStore interface {
	AppendEntry(ctx context.Context, entry *models.AssignLog) error
}

// Stores is the set of collaborators bound to one unit of work.
type Stores interface {
	Tiers() TierCatalog
	Progress() ProgressStore
	Assignments() AssignmentStore
	History() HistoryStore
}

// Transactor runs fn inside a unit of work: fn's writes commit together or not at all.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Stores) error) error
}
