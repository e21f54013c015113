// Package versions hands out schema-compliant, strictly increasing version
// strings per branch.
//
// A request first consumes an administrative OPEN override when one exists.
// Otherwise the next version comes from the first lookup that yields a
// result: the followed lineage, the branch history, the component history,
// and finally the schema's initial version. Reservations are inserted with a
// uniqueness constraint per (component, version type); a conflicting insert
// re-derives the version and retries within the configured budget.
package versions

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
	"github.com/tessera-labs/tessera/internal/platform/auditlog"
	"github.com/tessera-labs/tessera/internal/platform/metrics"
	"github.com/tessera-labs/tessera/internal/repo"
	"github.com/tessera-labs/tessera/internal/versioning"
)

var (
	// ErrConfiguration means the branch resolves no usable schema and pin.
	ErrConfiguration = errors.New("version configuration error")
	// ErrValidation rejects a manual version override.
	ErrValidation = errors.New("version validation error")
	// ErrVersionCollision means every attempt collided with a held version.
	ErrVersionCollision = errors.New("version collision retries exhausted")
)

// Request asks for the next version of a branch.
type Request struct {
	BranchID    string
	Action      versioning.BumpAction
	Modifier    string
	Metadata    string
	VersionType domain.VersionType
	// Actor is recorded on audit events; defaults to "system".
	Actor string
}

type Engine struct {
	components  repo.ComponentRepository
	branches    repo.BranchRepository
	assignments repo.VersionAssignmentRepository
	strategy    versioning.Strategy

	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   auditlog.Recorder
	now     func() time.Time
	newID   func() string
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithAudit(r auditlog.Recorder) Option {
	return func(e *Engine) { e.audit = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(components repo.ComponentRepository, branches repo.BranchRepository, assignments repo.VersionAssignmentRepository, strategy versioning.Strategy, opts ...Option) *Engine {
	if components == nil || branches == nil || assignments == nil || strategy == nil {
		return nil
	}
	e := &Engine{
		components:  components,
		branches:    branches,
		assignments: assignments,
		strategy:    strategy,
		cfg:         DefaultConfig(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// target is the resolved versioning context of a branch.
type target struct {
	component   domain.Component
	branch      domain.Branch
	versionType domain.VersionType
	schema      string
	pin         string
	ns          versioning.Namespace
}

func (e *Engine) resolveTarget(ctx context.Context, branchID string, versionType domain.VersionType) (target, error) {
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		return target{}, fmt.Errorf("%w: branch id is required", ErrValidation)
	}
	if versionType == "" {
		versionType = domain.VersionTypeDev
	}
	if !versionType.Valid() {
		return target{}, fmt.Errorf("%w: invalid version type %q", ErrValidation, versionType)
	}
	branch, err := e.branches.GetBranch(ctx, branchID)
	if err != nil {
		return target{}, fmt.Errorf("get branch: %w", err)
	}
	component, err := e.components.GetComponent(ctx, branch.ComponentID)
	if err != nil {
		return target{}, fmt.Errorf("get component: %w", err)
	}
	schema := component.SchemaFor(versionType)
	if schema == "" {
		return target{}, fmt.Errorf("%w: component %s has no %s version schema", ErrConfiguration, component.ID, versionType)
	}
	pin := branch.PinFor(versionType, schema)
	if !e.strategy.IsPinMatchingSchema(schema, pin) {
		return target{}, fmt.Errorf("%w: pin %q does not match schema %q", ErrConfiguration, pin, schema)
	}
	t := target{
		component:   component,
		branch:      branch,
		versionType: versionType,
		schema:      schema,
		pin:         pin,
	}
	if !branch.IsBase(component) && e.strategy.SupportsNamespace(schema) {
		t.ns.Token = versioning.NamespaceToken(branch.Name)
	}
	return t, nil
}

// GetSetNewVersion reserves the next version of a branch.
func (e *Engine) GetSetNewVersion(ctx context.Context, req Request) (domain.VersionAssignment, error) {
	t, err := e.resolveTarget(ctx, req.BranchID, req.VersionType)
	if err != nil {
		return domain.VersionAssignment{}, err
	}
	action := req.Action
	if action == "" {
		action = versioning.ActionBump
	}
	if !e.strategy.ReservesModifier(t.schema) {
		t.ns.Modifier = req.Modifier
	}
	t.ns.Metadata = req.Metadata

	open, err := e.assignments.ConsumeOpen(ctx, t.branch.ID, t.versionType)
	switch {
	case err == nil:
		e.metrics.VersionAssigned(SourceOpen)
		e.logger.Info("open version consumed", "branch_id", t.branch.ID, "version", open.Version, "version_type", t.versionType)
		return open, nil
	case errors.Is(err, repo.ErrConflict):
		e.metrics.VersionCollision()
		return domain.VersionAssignment{}, fmt.Errorf("%w: open version for branch %s is already held", ErrVersionCollision, t.branch.ID)
	case !errors.Is(err, repo.ErrNotFound):
		return domain.VersionAssignment{}, fmt.Errorf("consume open version: %w", err)
	}

	next, source, err := e.derive(ctx, t, action)
	if err != nil {
		return domain.VersionAssignment{}, err
	}
	for attempt := 0; ; attempt++ {
		assignment, ok, err := e.tryReserve(ctx, t, next)
		if err != nil {
			return domain.VersionAssignment{}, err
		}
		if ok {
			e.metrics.VersionAssigned(source)
			return assignment, nil
		}
		e.metrics.VersionCollision()
		if attempt >= e.cfg.CollisionRetries {
			e.metrics.VersionCollisionExhausted()
			e.logger.Warn("version collision retries exhausted",
				"branch_id", t.branch.ID,
				"component_id", t.component.ID,
				"version", assignment.Version,
				"attempts", attempt+1,
			)
			return domain.VersionAssignment{}, fmt.Errorf("%w: %s on component %s", ErrVersionCollision, assignment.Version, t.component.ID)
		}
		next, source, err = e.rederive(ctx, t, action, next)
		if err != nil {
			return domain.VersionAssignment{}, err
		}
	}
}

// tryReserve inserts the version unless it is already held. It reports false
// with the rendered candidate when the version collided.
func (e *Engine) tryReserve(ctx context.Context, t target, v versioning.Version) (domain.VersionAssignment, bool, error) {
	assignment := domain.VersionAssignment{
		ID:             e.newID(),
		Org:            t.branch.Org,
		ComponentID:    t.component.ID,
		BranchID:       t.branch.ID,
		Version:        e.strategy.Render(v),
		VersionSchema:  t.schema,
		BranchSchema:   t.pin,
		VersionType:    t.versionType,
		AssignmentType: domain.AssignmentReserved,
		CreatedAt:      e.now().UTC(),
	}
	if assignment.Version == "" {
		return domain.VersionAssignment{}, false, fmt.Errorf("render version under schema %q", t.schema)
	}
	held, err := e.assignments.VersionExists(ctx, t.component.ID, t.versionType, assignment.Version)
	if err != nil {
		return domain.VersionAssignment{}, false, fmt.Errorf("check version: %w", err)
	}
	if held {
		return assignment, false, nil
	}
	if err := e.assignments.Reserve(ctx, assignment); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return assignment, false, nil
		}
		return domain.VersionAssignment{}, false, fmt.Errorf("reserve version: %w", err)
	}
	return assignment, true, nil
}

// SetNextVersion records an administrative override consumed by the next
// GetSetNewVersion call. The version must be ahead of both the branch history
// and the current override.
func (e *Engine) SetNextVersion(ctx context.Context, branchID, version string, versionType domain.VersionType, actor string) (domain.VersionAssignment, error) {
	t, err := e.resolveTarget(ctx, branchID, versionType)
	if err != nil {
		return domain.VersionAssignment{}, err
	}
	version = strings.TrimSpace(version)
	if !e.strategy.IsVersionMatchingSchemaAndPin(t.schema, t.pin, version) {
		return domain.VersionAssignment{}, fmt.Errorf("%w: %q does not match schema %q and pin %q", ErrValidation, version, t.schema, t.pin)
	}
	requested, err := e.strategy.Parse(t.schema, version)
	if err != nil {
		return domain.VersionAssignment{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	latest, ok, err := e.latestAssigned(ctx, t)
	if err != nil {
		return domain.VersionAssignment{}, err
	}
	if ok && e.strategy.Compare(requested, latest) <= 0 {
		return domain.VersionAssignment{}, fmt.Errorf("%w: %s is not greater than latest version %s", ErrValidation, version, e.strategy.Render(latest))
	}
	open, err := e.assignments.GetOpen(ctx, t.branch.ID, t.versionType)
	switch {
	case err == nil:
		if current, perr := e.strategy.Parse(t.schema, open.Version); perr == nil && e.strategy.Compare(requested, current) <= 0 {
			return domain.VersionAssignment{}, fmt.Errorf("%w: %s is not greater than open version %s", ErrValidation, version, open.Version)
		}
	case !errors.Is(err, repo.ErrNotFound):
		return domain.VersionAssignment{}, fmt.Errorf("get open version: %w", err)
	}

	saved, err := e.assignments.UpsertOpen(ctx, domain.VersionAssignment{
		ID:             e.newID(),
		Org:            t.branch.Org,
		ComponentID:    t.component.ID,
		BranchID:       t.branch.ID,
		Version:        e.strategy.Render(requested),
		VersionSchema:  t.schema,
		BranchSchema:   t.pin,
		VersionType:    t.versionType,
		AssignmentType: domain.AssignmentOpen,
		CreatedAt:      e.now().UTC(),
	})
	if err != nil {
		return domain.VersionAssignment{}, fmt.Errorf("save open version: %w", err)
	}
	e.record(ctx, auditlog.Event{
		OccurredAt:   e.now().UTC(),
		Actor:        actorOrSystem(actor),
		Action:       auditlog.ActionNextVersionSet,
		ResourceType: "branch",
		ResourceID:   t.branch.ID,
		Payload: map[string]any{
			"assignment_id": saved.ID,
			"version":       saved.Version,
			"version_type":  string(saved.VersionType),
		},
	})
	return saved, nil
}

// GetCurrentNextVersion previews the version the next request would receive.
// Nothing is persisted.
func (e *Engine) GetCurrentNextVersion(ctx context.Context, branchID string, versionType domain.VersionType) (string, error) {
	t, err := e.resolveTarget(ctx, branchID, versionType)
	if err != nil {
		return "", err
	}
	open, err := e.assignments.GetOpen(ctx, t.branch.ID, t.versionType)
	switch {
	case err == nil:
		return open.Version, nil
	case !errors.Is(err, repo.ErrNotFound):
		return "", fmt.Errorf("get open version: %w", err)
	}
	next, _, err := e.derive(ctx, t, versioning.ActionBump)
	if err != nil {
		return "", err
	}
	return e.strategy.Render(next), nil
}

// BindRelease marks a reserved version as used by a durable release.
func (e *Engine) BindRelease(ctx context.Context, assignmentID, releaseID string) (domain.VersionAssignment, error) {
	assignmentID = strings.TrimSpace(assignmentID)
	releaseID = strings.TrimSpace(releaseID)
	if assignmentID == "" || releaseID == "" {
		return domain.VersionAssignment{}, fmt.Errorf("%w: assignment id and release id are required", ErrValidation)
	}
	bound, err := e.assignments.BindRelease(ctx, assignmentID, releaseID)
	if err != nil {
		return domain.VersionAssignment{}, fmt.Errorf("bind release: %w", err)
	}
	return bound, nil
}

func (e *Engine) record(ctx context.Context, event auditlog.Event) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, event); err != nil {
		e.logger.Warn("audit record failed", "action", event.Action, "resource_id", event.ResourceID, "error", err)
	}
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "system"
	}
	return strings.TrimSpace(actor)
}
