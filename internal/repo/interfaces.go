package repo

import (
	"context"

	"github.com/tessera-labs/tessera/internal/domain"
)

type ReleaseFilter struct {
	BranchID   string
	Lifecycles []domain.Lifecycle
	Limit      int
}

type AssignmentFilter struct {
	ComponentID   string
	BranchID      string
	VersionType   domain.VersionType
	VersionSchema string
	BranchSchema  string
	Limit         int
}

// BranchPage selects feature-set branches after a keyset cursor.
type BranchPage struct {
	After         string
	Limit         int
	AutoIntegrate bool
	// ComponentID restricts the page to one product when set.
	ComponentID string
}

// ComponentRepository reads components.
type ComponentRepository interface {
	GetComponent(ctx context.Context, id string) (domain.Component, error)
}

// BranchRepository reads branches and persists their dependency edges.
type BranchRepository interface {
	GetBranch(ctx context.Context, id string) (domain.Branch, error)
	GetBranchByName(ctx context.Context, componentID, name string) (domain.Branch, error)
	GetBaseBranch(ctx context.Context, componentID string) (domain.Branch, error)
	UpdateDependencies(ctx context.Context, branchID string, edges []domain.DependencyEdge) error
	// ListDependents returns feature-set branches with an edge targeting the
	// component or pinning the branch.
	ListDependents(ctx context.Context, componentID, branchID string) ([]domain.Branch, error)
	// ListFeatureSets returns product branches ordered by id, strictly after page.After.
	ListFeatureSets(ctx context.Context, page BranchPage) ([]domain.Branch, error)
}

// ReleaseRepository reads releases and creates product releases.
type ReleaseRepository interface {
	GetRelease(ctx context.Context, id string) (domain.Release, error)
	// GetReleases fetches releases in one round trip. Missing ids are absent from the result.
	GetReleases(ctx context.Context, ids []string) (map[string]domain.Release, error)
	// LatestRelease returns the newest release on the branch whose lifecycle is in
	// filter.Lifecycles.
	LatestRelease(ctx context.Context, filter ReleaseFilter) (domain.Release, error)
	// ListParents returns releases that directly compose any of ids.
	ListParents(ctx context.Context, ids []string) ([]domain.Release, error)
	CreateRelease(ctx context.Context, release domain.Release) (domain.Release, error)
}

// VersionAssignmentRepository persists version reservations.
type VersionAssignmentRepository interface {
	// ListRecent returns non-OPEN assignments newest first.
	ListRecent(ctx context.Context, filter AssignmentFilter) ([]domain.VersionAssignment, error)
	// VersionExists reports whether version is held by a non-OPEN assignment of the component.
	VersionExists(ctx context.Context, componentID string, versionType domain.VersionType, version string) (bool, error)
	// Reserve inserts a non-OPEN assignment. It returns ErrConflict when the
	// version is already held for (component, versionType).
	Reserve(ctx context.Context, assignment domain.VersionAssignment) error
	GetOpen(ctx context.Context, branchID string, versionType domain.VersionType) (domain.VersionAssignment, error)
	// UpsertOpen creates or overwrites the single OPEN row for (branch, versionType).
	UpsertOpen(ctx context.Context, assignment domain.VersionAssignment) (domain.VersionAssignment, error)
	// ConsumeOpen atomically turns the OPEN row into a RESERVED one and returns it.
	ConsumeOpen(ctx context.Context, branchID string, versionType domain.VersionType) (domain.VersionAssignment, error)
	BindRelease(ctx context.Context, assignmentID, releaseID string) (domain.VersionAssignment, error)
}

// SweepCheckpointRepository stores the cursor of a resumable reconciliation sweep.
type SweepCheckpointRepository interface {
	LoadCheckpoint(ctx context.Context, name string) (string, error)
	SaveCheckpoint(ctx context.Context, name, cursor string) error
	ClearCheckpoint(ctx context.Context, name string) error
}

// BranchLocker serializes work on a branch across callers.
type BranchLocker interface {
	WithBranchLock(ctx context.Context, branchID string, fn func(ctx context.Context) error) error
}
