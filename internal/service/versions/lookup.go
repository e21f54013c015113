package versions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tessera-labs/tessera/internal/repo"
	"github.com/tessera-labs/tessera/internal/versioning"
)

// Sources label where a reserved version came from.
const (
	SourceOpen             = "open"
	SourceFollowed         = "followed"
	SourceBranchHistory    = "branch_history"
	SourceComponentHistory = "component_history"
	SourceInitial          = "initial"
)

// lookup proposes the next version, or reports false to defer to the next one.
type lookup struct {
	source string
	find   func(ctx context.Context, t target, action versioning.BumpAction) (versioning.Version, bool, error)
}

func (e *Engine) lookups() []lookup {
	return []lookup{
		{source: SourceFollowed, find: e.fromFollowed},
		{source: SourceBranchHistory, find: e.fromBranchHistory},
		{source: SourceComponentHistory, find: e.fromComponentHistory},
		{source: SourceInitial, find: e.fromInitial},
	}
}

func (e *Engine) derive(ctx context.Context, t target, action versioning.BumpAction) (versioning.Version, string, error) {
	for _, l := range e.lookups() {
		v, ok, err := l.find(ctx, t, action)
		if err != nil {
			if errors.Is(err, versioning.ErrPinExhausted) || errors.Is(err, versioning.ErrInvalidPin) {
				return versioning.Version{}, "", fmt.Errorf("%w: %w", ErrConfiguration, err)
			}
			return versioning.Version{}, "", fmt.Errorf("%s lookup: %w", l.source, err)
		}
		if ok {
			return v, l.source, nil
		}
	}
	return versioning.Version{}, "", fmt.Errorf("%w: no version could be derived for branch %s", ErrConfiguration, t.branch.ID)
}

// rederive runs the lookups again after a collision. History may have moved;
// when it has not moved past the collided version, the collided version is bumped.
func (e *Engine) rederive(ctx context.Context, t target, action versioning.BumpAction, collided versioning.Version) (versioning.Version, string, error) {
	next, source, err := e.derive(ctx, t, action)
	if err != nil {
		return versioning.Version{}, "", err
	}
	if e.strategy.Compare(next, collided) > 0 {
		return next, source, nil
	}
	bumped, err := e.strategy.Bump(collided, t.pin, action, t.ns)
	if err != nil {
		return versioning.Version{}, "", fmt.Errorf("bump collided version: %w", err)
	}
	return bumped, source, nil
}

// fromFollowed tracks the lineage of another branch. A followed version that
// fits this branch's pin is bumped; one that does not is adopted as is.
func (e *Engine) fromFollowed(ctx context.Context, t target, action versioning.BumpAction) (versioning.Version, bool, error) {
	followID := strings.TrimSpace(t.branch.FollowVersionOf)
	if followID == "" || followID == t.branch.ID {
		return versioning.Version{}, false, nil
	}
	recent, err := e.assignments.ListRecent(ctx, repo.AssignmentFilter{
		BranchID:    followID,
		VersionType: t.versionType,
		Limit:       1,
	})
	if err != nil {
		return versioning.Version{}, false, fmt.Errorf("list followed assignments: %w", err)
	}
	if len(recent) == 0 {
		return versioning.Version{}, false, nil
	}
	followed, err := e.strategy.Parse(t.schema, recent[0].Version)
	if err != nil {
		e.logger.Debug("followed version does not parse under schema", "branch_id", t.branch.ID, "followed_branch_id", followID, "version", recent[0].Version)
		return versioning.Version{}, false, nil
	}
	local, hasLocal, err := e.branchMax(ctx, t)
	if err != nil {
		return versioning.Version{}, false, err
	}

	if e.strategy.IsVersionMatchingSchemaAndPin(t.schema, t.pin, recent[0].Version) {
		base := followed
		if hasLocal && e.strategy.Compare(local, base) > 0 {
			base = local
		}
		v, err := e.strategy.Bump(base, t.pin, action, t.ns)
		return v, err == nil, err
	}

	adopted, err := e.strategy.Decorate(followed, t.ns)
	if err != nil {
		return versioning.Version{}, false, err
	}
	if hasLocal && e.strategy.Compare(adopted, local) <= 0 {
		v, err := e.strategy.Bump(local, t.pin, action, t.ns)
		return v, err == nil, err
	}
	return adopted, true, nil
}

func (e *Engine) fromBranchHistory(ctx context.Context, t target, action versioning.BumpAction) (versioning.Version, bool, error) {
	latest, ok, err := e.branchMax(ctx, t)
	if err != nil || !ok {
		return versioning.Version{}, false, err
	}
	v, err := e.strategy.Bump(latest, t.pin, action, t.ns)
	return v, err == nil, err
}

func (e *Engine) fromComponentHistory(ctx context.Context, t target, action versioning.BumpAction) (versioning.Version, bool, error) {
	latest, ok, err := e.historyMax(ctx, repo.AssignmentFilter{
		ComponentID:   t.component.ID,
		VersionType:   t.versionType,
		VersionSchema: t.schema,
		Limit:         e.cfg.HistoryWindow,
	}, t.pin)
	if err != nil || !ok {
		return versioning.Version{}, false, err
	}
	v, err := e.strategy.Bump(latest, t.pin, action, t.ns)
	return v, err == nil, err
}

func (e *Engine) fromInitial(ctx context.Context, t target, _ versioning.BumpAction) (versioning.Version, bool, error) {
	v, err := e.strategy.Initial(t.schema, t.pin, t.ns)
	return v, err == nil, err
}

// branchMax is the greatest recent version of the branch under its schema and pin.
func (e *Engine) branchMax(ctx context.Context, t target) (versioning.Version, bool, error) {
	return e.historyMax(ctx, repo.AssignmentFilter{
		BranchID:      t.branch.ID,
		VersionType:   t.versionType,
		VersionSchema: t.schema,
		BranchSchema:  t.pin,
		Limit:         e.cfg.HistoryWindow,
	}, t.pin)
}

// latestAssigned is the greatest recent version of the branch under its
// schema, whatever pin it was reserved under.
func (e *Engine) latestAssigned(ctx context.Context, t target) (versioning.Version, bool, error) {
	return e.historyMax(ctx, repo.AssignmentFilter{
		BranchID:      t.branch.ID,
		VersionType:   t.versionType,
		VersionSchema: t.schema,
		Limit:         e.cfg.HistoryWindow,
	}, "")
}

// historyMax compares versions with the strategy, never as strings. A non-empty
// pin drops versions outside it.
func (e *Engine) historyMax(ctx context.Context, filter repo.AssignmentFilter, pin string) (versioning.Version, bool, error) {
	recent, err := e.assignments.ListRecent(ctx, filter)
	if err != nil {
		return versioning.Version{}, false, fmt.Errorf("list assignments: %w", err)
	}
	versions := make([]versioning.Version, 0, len(recent))
	for _, a := range recent {
		if pin != "" && !e.strategy.IsVersionMatchingSchemaAndPin(filter.VersionSchema, pin, a.Version) {
			continue
		}
		v, err := e.strategy.Parse(filter.VersionSchema, a.Version)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	latest, ok := versioning.Max(e.strategy, versions)
	return latest, ok, nil
}
