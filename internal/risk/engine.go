// Package risk classifies schema changes by data-loss and downtime
// likelihood. Assessment is deterministic and performs no I/O.
package risk

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/sleipnir/api"
)

// Rule is a caller-supplied classification override. It returns the level
// to assign and whether the rule applies to the change at all. Rules run
// after the built-in chain and may override it. A rule that errors or
// panics fails closed to HIGH for that change.
type Rule func(change api.SchemaChange) (api.RiskLevel, bool, error)

// Engine runs the ordered rule chain: built-in matrix, dialect overrides,
// then custom rules.
type Engine struct {
	dialect api.Dialect
	custom  []Rule
	logger  zerolog.Logger
}

// New creates a risk engine for the given dialect.
func New(dialect api.Dialect, custom ...Rule) *Engine {
	return &Engine{
		dialect: dialect,
		custom:  custom,
		logger:  log.With().Str("component", "risk").Logger(),
	}
}

// Assess returns the risk level for one change.
func (e *Engine) Assess(change api.SchemaChange) api.RiskLevel {
	level := baseline(change)
	level = e.dialectOverride(change, level)

	for _, rule := range e.custom {
		override, applies, err := e.runRule(rule, change)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("table", change.Table).
				Str("kind", string(change.Kind)).
				Msg("custom risk rule failed; classifying HIGH")
			return api.RiskHigh
		}
		if applies {
			level = override
		}
	}
	return level
}

// runRule isolates one custom rule so a panicking rule cannot take down
// assessment of other changes.
func (e *Engine) runRule(rule Rule, change api.SchemaChange) (level api.RiskLevel, applies bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule(change)
}

// baseline is the built-in classification chain.
func baseline(change api.SchemaChange) api.RiskLevel {
	switch change.Kind {
	case api.AddTable:
		return api.RiskSafe

	case api.AddColumn:
		if change.NewType == nil {
			return api.RiskHigh
		}
		if change.NewType.Nullable || change.NewType.Default != nil {
			return api.RiskSafe
		}
		if change.TablePopulated {
			return api.RiskHigh
		}
		return api.RiskMedium

	case api.AlterType:
		if change.OldType == nil || change.NewType == nil {
			return api.RiskHigh
		}
		switch classifyCast(change.OldType.Name, change.NewType.Name) {
		case castWidening:
			return api.RiskSafe
		case castNarrowing:
			return api.RiskMedium
		default:
			return api.RiskHigh
		}

	case api.AlterConstraint:
		if change.NewType != nil && change.NewType.Nullable {
			// relaxing NOT NULL never loses data
			return api.RiskSafe
		}
		if change.TablePopulated && (change.NewType == nil || change.NewType.Default == nil) {
			return api.RiskHigh
		}
		return api.RiskMedium

	case api.DropColumn, api.DropTable:
		return api.RiskHigh

	default:
		return api.RiskHigh
	}
}

// dialectOverride elevates classifications for dialects whose execution of
// a change is heavier than the change itself suggests. Defaults never lower
// a level; only explicit custom rules may downgrade.
func (e *Engine) dialectOverride(change api.SchemaChange, level api.RiskLevel) api.RiskLevel {
	if e.dialect.SupportsFlexibleAlter() {
		return level
	}

	// Copy-rebuild dialects rewrite the whole table for column-level
	// changes, so nothing below MEDIUM is accurate for them.
	switch change.Kind {
	case api.AddColumn, api.AlterType, api.AlterConstraint:
		if level < api.RiskMedium && change.TablePopulated {
			return api.RiskMedium
		}
	}
	return level
}
