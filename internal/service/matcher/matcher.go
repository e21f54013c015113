// Package matcher finds an existing product release that already composes a
// given release set.
//
// Identity is compared on core releases only: releases reached through an
// IGNORED or TRANSIENT dependency edge are left out of both sides. A release
// reference that cannot be resolved makes the affected candidate a non-match,
// which may lead to a duplicate product release but never to a failure; every
// such case is logged and counted.
package matcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/platform/metrics"
	"github.com/tessera-labs/tessera/internal/repo"
)

// DependencySource yields the effective dependency edges of a feature set.
type DependencySource interface {
	EffectiveDependencies(ctx context.Context, branch domain.Branch) ([]domain.DependencyEdge, error)
}

type storedDependencies struct{}

func (storedDependencies) EffectiveDependencies(ctx context.Context, branch domain.Branch) ([]domain.DependencyEdge, error) {
	return branch.Dependencies, nil
}

type Matcher struct {
	branches repo.BranchRepository
	releases repo.ReleaseRepository
	deps     DependencySource
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Matcher)

func WithDependencies(deps DependencySource) Option {
	return func(m *Matcher) {
		if deps != nil {
			m.deps = deps
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

func New(branches repo.BranchRepository, releases repo.ReleaseRepository, opts ...Option) *Matcher {
	if branches == nil || releases == nil {
		return nil
	}
	m := &Matcher{
		branches: branches,
		releases: releases,
		deps:     storedDependencies{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// edgeTable finds the dependency edge a composed release was resolved
// through: by the release's component and branch, then by its component,
// then by a release id pinned on an edge.
type edgeTable struct {
	byBranch    map[branchKey]domain.DependencyEdge
	byComponent map[string]domain.DependencyEdge
	byRelease   map[string]domain.DependencyEdge
}

type branchKey struct {
	component string
	branch    string
}

func newEdgeTable(edges []domain.DependencyEdge) edgeTable {
	t := edgeTable{
		byBranch:    make(map[branchKey]domain.DependencyEdge),
		byComponent: make(map[string]domain.DependencyEdge, len(edges)),
		byRelease:   make(map[string]domain.DependencyEdge),
	}
	for _, edge := range edges {
		if edge.PinnedBranch != "" {
			key := branchKey{component: edge.TargetComponent, branch: edge.PinnedBranch}
			if _, ok := t.byBranch[key]; !ok {
				t.byBranch[key] = edge
			}
		}
		// An unpinned edge speaks for the whole component.
		existing, ok := t.byComponent[edge.TargetComponent]
		if !ok || (existing.PinnedBranch != "" && edge.PinnedBranch == "") {
			t.byComponent[edge.TargetComponent] = edge
		}
		if edge.PinnedRelease != "" {
			t.byRelease[edge.PinnedRelease] = edge
		}
	}
	return t
}

func (t edgeTable) lookup(r domain.Release) (domain.DependencyEdge, bool) {
	if edge, ok := t.byBranch[branchKey{component: r.ComponentID, branch: r.BranchID}]; ok {
		return edge, true
	}
	if edge, ok := t.byComponent[r.ComponentID]; ok {
		return edge, true
	}
	edge, ok := t.byRelease[r.ID]
	return edge, ok
}

// core reports whether r counts towards product identity. A release without
// an edge does.
func (t edgeTable) core(r domain.Release) bool {
	edge, ok := t.lookup(r)
	return !ok || edge.Status.Core()
}

// MatchToProductRelease returns the newest product release on the branch
// whose core releases equal the core releases of releaseIDs.
func (m *Matcher) MatchToProductRelease(ctx context.Context, branchID string, releaseIDs []string) (domain.Release, bool, error) {
	start := time.Now()
	defer func() { m.metrics.ObserveMatch(time.Since(start).Seconds()) }()

	branch, err := m.branches.GetBranch(ctx, branchID)
	if err != nil {
		return domain.Release{}, false, fmt.Errorf("get branch: %w", err)
	}
	edges, err := m.deps.EffectiveDependencies(ctx, branch)
	if err != nil {
		return domain.Release{}, false, fmt.Errorf("effective dependencies: %w", err)
	}
	table := newEdgeTable(edges)

	ids := uniqueIDs(releaseIDs)
	known, err := m.releases.GetReleases(ctx, ids)
	if err != nil {
		return domain.Release{}, false, fmt.Errorf("get releases: %w", err)
	}
	toMatch := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		r, ok := known[id]
		if !ok {
			m.unresolved(branchID, "", id)
			return domain.Release{}, false, nil
		}
		if !table.core(r) {
			continue
		}
		toMatch[id] = struct{}{}
	}
	if len(toMatch) == 0 {
		return domain.Release{}, false, nil
	}

	candidates, err := m.candidates(ctx, branch.ID, ids)
	if err != nil {
		return domain.Release{}, false, err
	}
	if len(candidates) == 0 {
		return domain.Release{}, false, nil
	}

	missing := make([]string, 0)
	for _, c := range candidates {
		for _, id := range c.ParentIDs() {
			if _, ok := known[id]; !ok {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) > 0 {
		parents, err := m.releases.GetReleases(ctx, uniqueIDs(missing))
		if err != nil {
			return domain.Release{}, false, fmt.Errorf("get parent releases: %w", err)
		}
		for id, r := range parents {
			known[id] = r
		}
	}

	for _, c := range candidates {
		if m.coreEquals(branchID, c, known, table, toMatch) {
			return c, true, nil
		}
	}
	return domain.Release{}, false, nil
}

// candidates walks product releases composing any of ids, directly or through
// intermediate products, and keeps those on branchID. The visited set makes
// cyclic compositions terminate.
func (m *Matcher) candidates(ctx context.Context, branchID string, ids []string) ([]domain.Release, error) {
	visited := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		visited[id] = struct{}{}
	}
	worklist := append([]string(nil), ids...)
	var out []domain.Release
	for len(worklist) > 0 {
		parents, err := m.releases.ListParents(ctx, worklist)
		if err != nil {
			return nil, fmt.Errorf("list parent releases: %w", err)
		}
		worklist = worklist[:0]
		for _, p := range parents {
			if _, seen := visited[p.ID]; seen {
				continue
			}
			visited[p.ID] = struct{}{}
			worklist = append(worklist, p.ID)
			if p.BranchID == branchID && !p.Lifecycle.Terminal() {
				out = append(out, p)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

// coreEquals compares the core releases of candidate with toMatch, rejecting
// as soon as one core release falls outside it.
func (m *Matcher) coreEquals(branchID string, candidate domain.Release, known map[string]domain.Release, table edgeTable, toMatch map[string]struct{}) bool {
	matched := 0
	for _, id := range candidate.ParentIDs() {
		r, ok := known[id]
		if !ok {
			m.unresolved(branchID, candidate.ID, id)
			return false
		}
		if !table.core(r) {
			continue
		}
		if _, ok := toMatch[id]; !ok {
			return false
		}
		matched++
	}
	return matched == len(toMatch)
}

func (m *Matcher) unresolved(branchID, candidateID, releaseID string) {
	m.metrics.MatcherUnresolved()
	m.logger.Warn("unresolvable release during product match",
		"branch_id", branchID,
		"candidate_release_id", candidateID,
		"release_id", releaseID,
	)
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
