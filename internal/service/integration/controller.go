// Package integration composes product releases for feature sets whose
// dependencies produced new releases.
package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/patterns"
	"github.com/tessera-labs/tessera/internal/platform/auditlog"
	"github.com/tessera-labs/tessera/internal/platform/metrics"
	"github.com/tessera-labs/tessera/internal/repo"
	"github.com/tessera-labs/tessera/internal/service/versions"
	"github.com/tessera-labs/tessera/internal/versioning"
)

var (
	// ErrNotFeatureSet means the branch does not belong to a product.
	ErrNotFeatureSet = errors.New("branch is not a feature set")
	// ErrValidation rejects malformed dependency updates.
	ErrValidation = errors.New("dependency validation error")
)

type Outcome string

const (
	OutcomeDisabled          Outcome = "disabled"
	OutcomeRequirementsUnmet Outcome = "requirements_unmet"
	OutcomeMatched           Outcome = "matched"
	OutcomeCreated           Outcome = "created"
)

// Result describes one auto-integration run.
type Result struct {
	Outcome Outcome
	// Release is the matched or created product release.
	Release domain.Release
	// Missing lists target components of REQUIRED edges without a release.
	Missing []string
}

// VersionSource reserves and binds product release versions.
type VersionSource interface {
	GetSetNewVersion(ctx context.Context, req versions.Request) (domain.VersionAssignment, error)
	BindRelease(ctx context.Context, assignmentID, releaseID string) (domain.VersionAssignment, error)
}

// ProductMatcher finds an existing product release composing a release set.
type ProductMatcher interface {
	MatchToProductRelease(ctx context.Context, branchID string, releaseIDs []string) (domain.Release, bool, error)
}

type Deps struct {
	Components  repo.ComponentRepository
	Branches    repo.BranchRepository
	Releases    repo.ReleaseRepository
	Checkpoints repo.SweepCheckpointRepository
	Locker      repo.BranchLocker
	Versions    VersionSource
	Matcher     ProductMatcher
	// Patterns optionally overrides stored dependency edges.
	Patterns *patterns.Resolver
}

type Controller struct {
	components  repo.ComponentRepository
	branches    repo.BranchRepository
	releases    repo.ReleaseRepository
	checkpoints repo.SweepCheckpointRepository
	locker      repo.BranchLocker
	versions    VersionSource
	matcher     ProductMatcher
	patterns    *patterns.Resolver

	sweep   SweepConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   auditlog.Recorder
	now     func() time.Time
	newID   func() string
}

type Option func(*Controller)

func WithSweepConfig(cfg SweepConfig) Option {
	return func(c *Controller) { c.sweep = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithAudit(r auditlog.Recorder) Option {
	return func(c *Controller) { c.audit = r }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func New(deps Deps, opts ...Option) (*Controller, error) {
	switch {
	case deps.Components == nil:
		return nil, errors.New("component repository is required")
	case deps.Branches == nil:
		return nil, errors.New("branch repository is required")
	case deps.Releases == nil:
		return nil, errors.New("release repository is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("checkpoint repository is required")
	case deps.Locker == nil:
		return nil, errors.New("branch locker is required")
	case deps.Versions == nil:
		return nil, errors.New("version source is required")
	case deps.Matcher == nil:
		return nil, errors.New("product matcher is required")
	}
	c := &Controller{
		components:  deps.Components,
		branches:    deps.Branches,
		releases:    deps.Releases,
		checkpoints: deps.Checkpoints,
		locker:      deps.Locker,
		versions:    deps.Versions,
		matcher:     deps.Matcher,
		patterns:    deps.Patterns,
		sweep:       DefaultSweepConfig(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.sweep.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// AutoIntegrateFeatureSetOnDemand composes a product release from the latest
// qualifying releases of the feature set's dependencies, unless an equivalent
// product release exists. Runs for one branch are serialized.
func (c *Controller) AutoIntegrateFeatureSetOnDemand(ctx context.Context, branchID string) (Result, error) {
	res, err := c.autoIntegrate(ctx, branchID)
	if err != nil {
		c.metrics.AutoIntegrateOutcome("error")
		return Result{}, err
	}
	c.metrics.AutoIntegrateOutcome(string(res.Outcome))
	return res, nil
}

func (c *Controller) autoIntegrate(ctx context.Context, branchID string) (Result, error) {
	branch, err := c.featureSet(ctx, branchID)
	if err != nil {
		return Result{}, err
	}
	if !branch.AutoIntegrate {
		return Result{Outcome: OutcomeDisabled}, nil
	}

	var res Result
	err = c.locker.WithBranchLock(ctx, branch.ID, func(ctx context.Context) error {
		var err error
		res, err = c.integrate(ctx, branch)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (c *Controller) integrate(ctx context.Context, branch domain.Branch) (Result, error) {
	edges, err := c.EffectiveDependencies(ctx, branch)
	if err != nil {
		return Result{}, err
	}

	resolved := make([]string, 0, len(edges))
	seen := make(map[string]struct{}, len(edges))
	var missing []string
	for _, edge := range edges {
		if edge.Status == domain.DependencyIgnored {
			continue
		}
		release, ok, err := c.candidate(ctx, edge)
		if err != nil {
			return Result{}, fmt.Errorf("resolve dependency %s: %w", edge.TargetComponent, err)
		}
		if !ok {
			if edge.Status == domain.DependencyRequired {
				missing = append(missing, edge.TargetComponent)
			}
			continue
		}
		if _, dup := seen[release.ID]; dup {
			continue
		}
		seen[release.ID] = struct{}{}
		resolved = append(resolved, release.ID)
	}
	if len(missing) > 0 || len(resolved) == 0 {
		c.logger.Info("auto-integrate skipped", "branch_id", branch.ID, "missing", missing)
		return Result{Outcome: OutcomeRequirementsUnmet, Missing: missing}, nil
	}

	match, ok, err := c.matcher.MatchToProductRelease(ctx, branch.ID, resolved)
	if err != nil {
		c.metrics.MatcherUnresolved()
		c.logger.Warn("product match failed, composing a new release", "branch_id", branch.ID, "error", err)
	}
	if err == nil && ok {
		return Result{Outcome: OutcomeMatched, Release: match}, nil
	}

	created, err := c.createProductRelease(ctx, branch, resolved)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeCreated, Release: created}, nil
}

// candidate resolves an edge to a release: its pinned release, else the
// latest qualifying release of its pinned branch or of the target
// component's base branch.
func (c *Controller) candidate(ctx context.Context, edge domain.DependencyEdge) (domain.Release, bool, error) {
	if id := strings.TrimSpace(edge.PinnedRelease); id != "" {
		release, err := c.releases.GetRelease(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Release{}, false, nil
		}
		if err != nil {
			return domain.Release{}, false, err
		}
		return release, !release.Lifecycle.Terminal(), nil
	}

	branchID := strings.TrimSpace(edge.PinnedBranch)
	if branchID == "" {
		base, err := c.branches.GetBaseBranch(ctx, edge.TargetComponent)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Release{}, false, nil
		}
		if err != nil {
			return domain.Release{}, false, err
		}
		branchID = base.ID
	}
	release, err := c.releases.LatestRelease(ctx, repo.ReleaseFilter{
		BranchID:   branchID,
		Lifecycles: domain.QualifyingLifecycles(),
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Release{}, false, nil
	}
	if err != nil {
		return domain.Release{}, false, err
	}
	return release, true, nil
}

// createProductRelease reserves a version, stores the release and binds the
// reservation. A failed bind leaves a RESERVED gap and is only logged.
func (c *Controller) createProductRelease(ctx context.Context, branch domain.Branch, parents []string) (domain.Release, error) {
	assignment, err := c.versions.GetSetNewVersion(ctx, versions.Request{
		BranchID:    branch.ID,
		Action:      versioning.ActionBump,
		VersionType: domain.VersionTypeDev,
		Actor:       "auto-integrate",
	})
	if err != nil {
		return domain.Release{}, fmt.Errorf("reserve version: %w", err)
	}

	release := domain.Release{
		ID:          c.newID(),
		Org:         branch.Org,
		ComponentID: branch.ComponentID,
		BranchID:    branch.ID,
		Version:     assignment.Version,
		Lifecycle:   domain.LifecycleAssembled,
		CreatedAt:   c.now().UTC(),
	}
	for _, id := range parents {
		release.ParentReleases = append(release.ParentReleases, domain.ParentRelease{ReleaseID: id})
	}
	created, err := c.releases.CreateRelease(ctx, release)
	if err != nil {
		return domain.Release{}, fmt.Errorf("create product release: %w", err)
	}
	if _, err := c.versions.BindRelease(ctx, assignment.ID, created.ID); err != nil {
		c.logger.Warn("bind version failed", "assignment_id", assignment.ID, "release_id", created.ID, "error", err)
	}

	c.logger.Info("product release created", "branch_id", branch.ID, "release_id", created.ID, "version", created.Version)
	if c.audit != nil {
		err := c.audit.Record(ctx, auditlog.Event{
			OccurredAt:   c.now().UTC(),
			Actor:        "auto-integrate",
			Action:       auditlog.ActionProductAutoCreated,
			ResourceType: "release",
			ResourceID:   created.ID,
			Payload: map[string]any{
				"branch_id":       branch.ID,
				"version":         created.Version,
				"parent_releases": parents,
			},
		})
		if err != nil {
			c.logger.Warn("audit record failed", "action", auditlog.ActionProductAutoCreated, "resource_id", created.ID, "error", err)
		}
	}
	return created, nil
}

func (c *Controller) featureSet(ctx context.Context, branchID string) (domain.Branch, error) {
	branch, err := c.branches.GetBranch(ctx, strings.TrimSpace(branchID))
	if err != nil {
		return domain.Branch{}, fmt.Errorf("get branch: %w", err)
	}
	component, err := c.components.GetComponent(ctx, branch.ComponentID)
	if err != nil {
		return domain.Branch{}, fmt.Errorf("get component: %w", err)
	}
	if component.Type != domain.ComponentTypeProduct {
		return domain.Branch{}, fmt.Errorf("%w: %s", ErrNotFeatureSet, branch.ID)
	}
	return branch, nil
}
