// Package fixtures loads level ladders and sample progress from YAML.
package fixtures

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"

	"user-level-system/logger"
	"user-level-system/services"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Rule struct {
	Title string `yaml:"title"`
	Value int64  `yaml:"value"`
	Valid *bool  `yaml:"valid"`
}

type Level struct {
	Title string `yaml:"title"`
	Rank  int    `yaml:"level"`
	Valid bool   `yaml:"valid"`
	Rules []Rule `yaml:"rules"`
}

// Progress references its rule by level title and rule title.
type Progress struct {
	UserID string `yaml:"user_id"`
	Level  string `yaml:"level"`
	Rule   string `yaml:"rule"`
	Value  int64  `yaml:"value"`
}

type Set struct {
	Levels   []Level    `yaml:"levels"`
	Progress []Progress `yaml:"progress"`
}

// Parse decodes a fixture document, rejecting unknown keys.
func Parse(data []byte) (*Set, error) {
	var set Set
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	for i, l := range set.Levels {
		if strings.TrimSpace(l.Title) == "" {
			return nil, fmt.Errorf("parse fixtures: level #%d has no title", i+1)
		}
	}
	return &set, nil
}

// Default returns the embedded ladder.
func Default() (*Set, error) {
	return Parse(defaultYAML)
}

// Summary counts what Apply wrote.
type Summary struct {
	LevelsCreated int
	LevelsUpdated int
	RulesCreated  int
	RulesUpdated  int
	Progress      int
}

type Loader struct {
	Levels   *services.LevelService
	Rules    *services.RuleService
	Progress *services.ProgressService
	Log      *logger.Logger
}

// Apply writes set through the admin services. Levels match on title and rules on
// (level, title), so applying the same set twice changes nothing.
func (l *Loader) Apply(ctx context.Context, set *Set) (Summary, error) {
	var sum Summary
	ruleIDs := map[string]string{}

	for _, fl := range set.Levels {
		valid := fl.Valid
		in := services.LevelInput{Title: fl.Title, Rank: fl.Rank, Valid: &valid}
		existing, err := l.Levels.FindByTitle(ctx, fl.Title)
		if err != nil {
			return sum, err
		}

		levelID := ""
		if existing == nil {
			lvl, err := l.Levels.Create(ctx, in)
			if err != nil {
				return sum, fmt.Errorf("level %q: %w", fl.Title, err)
			}
			levelID = lvl.ID
			sum.LevelsCreated++
		} else {
			if _, err := l.Levels.Update(ctx, existing.ID, in); err != nil {
				return sum, fmt.Errorf("level %q: %w", fl.Title, err)
			}
			levelID = existing.ID
			sum.LevelsUpdated++
		}

		for _, fr := range fl.Rules {
			valid := true
			if fr.Valid != nil {
				valid = *fr.Valid
			}
			rin := services.RuleInput{Title: fr.Title, LevelID: levelID, Value: fr.Value, Valid: &valid}
			rule, err := l.Rules.FindByTitle(ctx, levelID, fr.Title)
			if err != nil {
				return sum, err
			}
			if rule == nil {
				rule, err = l.Rules.Create(ctx, rin)
				sum.RulesCreated++
			} else {
				rule, err = l.Rules.Update(ctx, rule.ID, rin)
				sum.RulesUpdated++
			}
			if err != nil {
				return sum, fmt.Errorf("rule %q of %q: %w", fr.Title, fl.Title, err)
			}
			ruleIDs[ruleKey(fl.Title, fr.Title)] = rule.ID
		}
	}

	for _, fp := range set.Progress {
		id, ok := ruleIDs[ruleKey(fp.Level, fp.Rule)]
		if !ok {
			return sum, fmt.Errorf("progress for %s: unknown rule %q of level %q", fp.UserID, fp.Rule, fp.Level)
		}
		if _, err := l.Progress.Set(ctx, fp.UserID, id, fp.Value); err != nil {
			return sum, fmt.Errorf("progress for %s: %w", fp.UserID, err)
		}
		sum.Progress++
	}

	l.Log.Info("[SEED] fixtures applied",
		"levels_created", sum.LevelsCreated, "levels_updated", sum.LevelsUpdated,
		"rules_created", sum.RulesCreated, "rules_updated", sum.RulesUpdated,
		"progress", sum.Progress)
	return sum, nil
}

// ruleKey compares titles in NFC, the form LevelService stores them in.
func ruleKey(level, rule string) string {
	return norm.NFC.String(strings.TrimSpace(level)) + "\x00" + norm.NFC.String(strings.TrimSpace(rule))
}
