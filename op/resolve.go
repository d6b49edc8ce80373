package op

import (
	"fmt"
	"strings"
	"time"

	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/sql"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// UnionMerger combines both sides of a schema/schema conflict into one
// definition. Implementations must refuse (with an error) any pair they
// cannot combine losslessly; the engine never guesses.
type UnionMerger interface {
	Union(base, source, target string) (string, error)
}

// ColumnUnionMerger is the default UnionMerger. It accepts only the provably
// safe case: both sides are pure column additions to the same base table,
// and the added column sets are disjoint. The union is the base table plus
// both added sets, source's columns first.
type ColumnUnionMerger struct{}

func (ColumnUnionMerger) Union(base, source, target string) (string, error) {
	baseDef, ok := sql.ParseCreateTable(base)
	if !ok {
		return "", fmt.Errorf("base definition is not a parseable table")
	}
	sourceDef, ok := sql.ParseCreateTable(source)
	if !ok {
		return "", fmt.Errorf("source definition is not a parseable table")
	}
	targetDef, ok := sql.ParseCreateTable(target)
	if !ok {
		return "", fmt.Errorf("target definition is not a parseable table")
	}

	sourceAdded, ok := sql.AddedColumns(baseDef, sourceDef)
	if !ok {
		return "", fmt.Errorf("source side is not a pure column addition")
	}
	targetAdded, ok := sql.AddedColumns(baseDef, targetDef)
	if !ok {
		return "", fmt.Errorf("target side is not a pure column addition")
	}
	for _, sc := range sourceAdded {
		for _, tc := range targetAdded {
			if sc.Name == tc.Name {
				return "", fmt.Errorf("both sides add column %q", sc.Name)
			}
		}
	}

	union := &sql.TableDef{
		Name:        baseDef.Name,
		Columns:     append(append(append([]sql.ColumnDef{}, baseDef.Columns...), sourceAdded...), targetAdded...),
		Constraints: baseDef.Constraints,
	}
	return union.Render(), nil
}

// Resolution is one caller-supplied conflict resolution.
type Resolution struct {
	ConflictID string
	Strategy   core.ResolutionStrategy
	// Content is the replacement definition for the manual strategy.
	Content string
}

// Resolve applies a resolution to one conflict of a pending attempt and
// persists the updated attempt. Inapplicable strategies fail with an error
// unwrapping to core.ErrInvalidConflictResolution; the conflict stays
// pending.
func (m *MergeOp) Resolve(attemptID string, res Resolution) (core.MergeAttempt, error) {
	attempt, err := m.Persistence.GetAttempt(attemptID)
	if err != nil {
		return core.MergeAttempt{}, err
	}
	conflict, idx, ok := attempt.FindConflict(res.ConflictID)
	if !ok {
		return core.MergeAttempt{}, fmt.Errorf("attempt %s has no conflict %s: %w",
			attemptID, res.ConflictID, core.ErrObjectNotFound)
	}

	resolved, err := m.resolveBlob(conflict, res)
	if err != nil {
		return core.MergeAttempt{}, err
	}

	conflict.Status = core.ResolutionResolved
	conflict.Strategy = res.Strategy
	conflict.Resolved = resolved
	attempt.Conflicts[idx] = conflict
	if err := m.Persistence.SaveAttempt(attempt, nil); err != nil {
		return core.MergeAttempt{}, err
	}
	return attempt, nil
}

func (m *MergeOp) resolveBlob(conflict core.Conflict, res Resolution) (core.Hash, error) {
	fail := func(reason string) error {
		return &core.ResolutionError{
			ConflictID: conflict.ID,
			Type:       conflict.Type,
			Strategy:   res.Strategy,
			Reason:     reason,
		}
	}

	switch res.Strategy {
	case core.ResolveUseSource:
		// Zero means the source side dropped the object; the resolution is
		// a drop.
		return conflict.Source, nil

	case core.ResolveUseTarget:
		return conflict.Target, nil

	case core.ResolveUnion:
		if conflict.Type != core.ConflictSchemaSchema {
			return core.ZeroHash, fail(fmt.Sprintf("union only applies to %s conflicts", core.ConflictSchemaSchema))
		}
		if conflict.Base.IsZero() || conflict.Source.IsZero() || conflict.Target.IsZero() {
			return core.ZeroHash, fail("union needs the object present on all three sides")
		}
		base, err := m.Persistence.GetBlob(conflict.Base)
		if err != nil {
			return core.ZeroHash, err
		}
		source, err := m.Persistence.GetBlob(conflict.Source)
		if err != nil {
			return core.ZeroHash, err
		}
		target, err := m.Persistence.GetBlob(conflict.Target)
		if err != nil {
			return core.ZeroHash, err
		}
		union, err := m.Union.Union(base, source, target)
		if err != nil {
			return core.ZeroHash, fail(err.Error())
		}
		return m.Persistence.StoreBlob(union)

	case core.ResolveManual:
		if strings.TrimSpace(res.Content) == "" {
			return core.ZeroHash, fail("manual resolution needs replacement content")
		}
		return m.Persistence.StoreBlob(res.Content)

	default:
		return core.ZeroHash, fail(fmt.Sprintf("unknown strategy %q", res.Strategy))
	}
}
