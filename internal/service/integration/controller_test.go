package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/patterns"
	"github.com/tessera-labs/tessera/internal/platform/auditlog"
	"github.com/tessera-labs/tessera/internal/repo"
	"github.com/tessera-labs/tessera/internal/repo/memory"
	"github.com/tessera-labs/tessera/internal/service/matcher"
	"github.com/tessera-labs/tessera/internal/service/versions"
	"github.com/tessera-labs/tessera/internal/versioning"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	store *memory.Store
	clock *clock
	audit *auditlog.Memory
	ctrl  *Controller
}

func newFixture(t *testing.T, resolver *patterns.Resolver, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		clock: &clock{now: time.Date(2026, time.October, 18, 9, 0, 0, 0, time.UTC)},
		audit: &auditlog.Memory{},
	}
	f.store.SetClock(f.clock.Now)
	for _, c := range []domain.Component{
		{ID: "shop", Org: "acme", Name: "shop", Type: domain.ComponentTypeProduct, VersionSchema: "semver"},
		{ID: "broken", Org: "acme", Name: "broken", Type: domain.ComponentTypeProduct},
		{ID: "a", Org: "acme", Name: "a", Type: domain.ComponentTypeComponent, VersionSchema: "semver", DefaultBranchID: "a-main"},
		{ID: "b", Org: "acme", Name: "b", Type: domain.ComponentTypeComponent, VersionSchema: "semver", DefaultBranchID: "b-main"},
		{ID: "o", Org: "acme", Name: "o", Type: domain.ComponentTypeComponent, VersionSchema: "semver", DefaultBranchID: "o-main"},
		{ID: "t", Org: "acme", Name: "t", Type: domain.ComponentTypeComponent, VersionSchema: "semver", DefaultBranchID: "t-main"},
	} {
		if err := f.store.PutComponent(c); err != nil {
			t.Fatalf("PutComponent() err=%v", err)
		}
	}
	for _, id := range []string{"a", "b", "o", "t"} {
		f.branch(t, domain.Branch{ID: id + "-main", ComponentID: id, Name: "main", Type: domain.BranchTypeBase})
	}

	engine := versions.New(f.store, f.store, f.store, versioning.Default(), versions.WithClock(f.clock.Now))
	m := matcher.New(f.store, f.store, matcher.WithDependencies(resolver))
	ctrl, err := New(Deps{
		Components:  f.store,
		Branches:    f.store,
		Releases:    f.store,
		Checkpoints: f.store,
		Locker:      memory.NewLocker(),
		Versions:    engine,
		Matcher:     m,
		Patterns:    resolver,
	}, append([]Option{WithClock(f.clock.Now), WithAudit(f.audit)}, opts...)...)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	f.ctrl = ctrl
	return f
}

func (f *fixture) branch(t *testing.T, b domain.Branch) {
	t.Helper()
	b.Org = "acme"
	if err := f.store.PutBranch(b); err != nil {
		t.Fatalf("PutBranch(%s) err=%v", b.ID, err)
	}
}

func (f *fixture) featureSet(t *testing.T, id string, edges ...domain.DependencyEdge) {
	t.Helper()
	f.branch(t, domain.Branch{ID: id, ComponentID: "shop", Name: id, Type: domain.BranchTypeFeature, AutoIntegrate: true, Dependencies: edges})
}

func (f *fixture) release(t *testing.T, id, component string, lifecycle domain.Lifecycle) {
	t.Helper()
	_, err := f.store.CreateRelease(context.Background(), domain.Release{
		ID:          id,
		Org:         "acme",
		ComponentID: component,
		BranchID:    component + "-main",
		Version:     "1.0.0",
		Lifecycle:   lifecycle,
		CreatedAt:   f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("CreateRelease(%s) err=%v", id, err)
	}
}

func (f *fixture) integrate(t *testing.T, branchID string) Result {
	t.Helper()
	res, err := f.ctrl.AutoIntegrateFeatureSetOnDemand(context.Background(), branchID)
	if err != nil {
		t.Fatalf("AutoIntegrateFeatureSetOnDemand(%s) err=%v", branchID, err)
	}
	return res
}

func edge(component string, status domain.DependencyStatus) domain.DependencyEdge {
	return domain.DependencyEdge{TargetComponent: component, Status: status}
}

func parents(r domain.Release) []string {
	return r.ParentIDs()
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAutoIntegrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.featureSet(t, "f", edge("a", domain.DependencyRequired))
	f.release(t, "a1", "a", domain.LifecycleAssembled)

	first := f.integrate(t, "f")
	if first.Outcome != OutcomeCreated {
		t.Fatalf("outcome=%q, want created", first.Outcome)
	}
	if first.Release.Lifecycle != domain.LifecycleAssembled || !equalIDs(parents(first.Release), []string{"a1"}) {
		t.Fatalf("unexpected product release: %+v", first.Release)
	}
	if first.Release.Version != "0.1.0-f" {
		t.Fatalf("version=%q, want 0.1.0-f", first.Release.Version)
	}

	second := f.integrate(t, "f")
	if second.Outcome != OutcomeMatched || second.Release.ID != first.Release.ID {
		t.Fatalf("second run=%+v, want match of %s", second, first.Release.ID)
	}
	if n := f.store.ReleaseCount("f"); n != 1 {
		t.Fatalf("product releases=%d, want 1", n)
	}

	recent, err := f.store.ListRecent(ctx, repo.AssignmentFilter{BranchID: "f"})
	if err != nil {
		t.Fatalf("ListRecent() err=%v", err)
	}
	if len(recent) != 1 || recent[0].AssignmentType != domain.AssignmentAssigned || recent[0].BoundRelease != first.Release.ID {
		t.Fatalf("assignments=%+v, want one bound to %s", recent, first.Release.ID)
	}
	records := f.audit.Records()
	if len(records) != 1 || records[0].Event.Action != auditlog.ActionProductAutoCreated {
		t.Fatalf("audit records=%+v", records)
	}
}

func TestEdgesPinnedToBranchesOfOneComponentAreIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.branch(t, domain.Branch{ID: "a-rc", ComponentID: "a", Name: "rc", Type: domain.BranchTypeRelease})
	f.featureSet(t, "f",
		domain.DependencyEdge{TargetComponent: "a", PinnedBranch: "a-main", Status: domain.DependencyTransient},
		domain.DependencyEdge{TargetComponent: "a", PinnedBranch: "a-rc", Status: domain.DependencyRequired},
	)
	f.release(t, "a1", "a", domain.LifecycleAssembled)
	_, err := f.store.CreateRelease(ctx, domain.Release{
		ID:          "rc1",
		Org:         "acme",
		ComponentID: "a",
		BranchID:    "a-rc",
		Version:     "1.1.0-rc.1",
		Lifecycle:   domain.LifecycleAssembled,
		CreatedAt:   f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("CreateRelease(rc1) err=%v", err)
	}

	first := f.integrate(t, "f")
	if first.Outcome != OutcomeCreated || !equalIDs(parents(first.Release), []string{"a1", "rc1"}) {
		t.Fatalf("first run=%+v, want created with parents [a1 rc1]", first)
	}
	second := f.integrate(t, "f")
	if second.Outcome != OutcomeMatched || second.Release.ID != first.Release.ID {
		t.Fatalf("second run=%+v, want match of %s", second, first.Release.ID)
	}
	if n := f.store.ReleaseCount("f"); n != 1 {
		t.Fatalf("product releases=%d, want 1", n)
	}
}

func TestIgnoredDependencyScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.featureSet(t, "f", edge("a", domain.DependencyRequired), edge("b", domain.DependencyIgnored))
	f.release(t, "a1", "a", domain.LifecycleAssembled)
	f.release(t, "b1", "b", domain.LifecycleAssembled)

	p1 := f.integrate(t, "f")
	if p1.Outcome != OutcomeCreated || !equalIDs(parents(p1.Release), []string{"a1"}) {
		t.Fatalf("P1=%+v, want created with [a1]", p1)
	}

	f.release(t, "a2", "a", domain.LifecycleAssembled)
	p2 := f.integrate(t, "f")
	if p2.Outcome != OutcomeCreated || !equalIDs(parents(p2.Release), []string{"a2"}) {
		t.Fatalf("P2=%+v, want created with [a2]", p2)
	}
	if p1.Release.ID == p2.Release.ID {
		t.Fatalf("P1 and P2 must differ")
	}

	stored, err := f.store.GetRelease(ctx, p1.Release.ID)
	if err != nil {
		t.Fatalf("GetRelease() err=%v", err)
	}
	if !equalIDs(parents(stored), []string{"a1"}) {
		t.Fatalf("P1 parents changed: %v", parents(stored))
	}

	m := matcher.New(f.store, f.store)
	got, ok, err := m.MatchToProductRelease(ctx, "f", []string{"a1", "b1"})
	if err != nil || !ok || got.ID != p1.Release.ID {
		t.Fatalf("match [a1 b1]=%q ok=%v err=%v, want P1", got.ID, ok, err)
	}
	got, ok, err = m.MatchToProductRelease(ctx, "f", []string{"a2"})
	if err != nil || !ok || got.ID != p2.Release.ID {
		t.Fatalf("match [a2]=%q ok=%v err=%v, want P2", got.ID, ok, err)
	}
}

func TestMissingRequiredBlocksSilently(t *testing.T) {
	f := newFixture(t, nil)
	f.featureSet(t, "f", edge("a", domain.DependencyRequired), edge("b", domain.DependencyRequired))
	f.release(t, "a1", "a", domain.LifecycleAssembled)
	f.release(t, "b0", "b", domain.LifecycleDraft)
	f.release(t, "b-cancelled", "b", domain.LifecycleCancelled)

	res := f.integrate(t, "f")
	if res.Outcome != OutcomeRequirementsUnmet {
		t.Fatalf("outcome=%q, want requirements_unmet", res.Outcome)
	}
	if !equalIDs(res.Missing, []string{"b"}) {
		t.Fatalf("missing=%v, want [b]", res.Missing)
	}
	if n := f.store.ReleaseCount("f"); n != 0 {
		t.Fatalf("product releases=%d, want 0", n)
	}
}

func TestOptionalAndTransientDependencies(t *testing.T) {
	f := newFixture(t, nil)
	f.featureSet(t, "f",
		edge("a", domain.DependencyRequired),
		edge("o", domain.DependencyOptional),
		edge("t", domain.DependencyTransient),
	)
	f.release(t, "a1", "a", domain.LifecycleAssembled)
	f.release(t, "t1", "t", domain.LifecycleScheduled)

	first := f.integrate(t, "f")
	if first.Outcome != OutcomeCreated || !equalIDs(parents(first.Release), []string{"a1", "t1"}) {
		t.Fatalf("first=%+v, want created with [a1 t1]", first)
	}

	f.release(t, "t2", "t", domain.LifecycleAssembled)
	if res := f.integrate(t, "f"); res.Outcome != OutcomeMatched || res.Release.ID != first.Release.ID {
		t.Fatalf("transient change=%+v, want match of first", res)
	}

	f.release(t, "o1", "o", domain.LifecycleAssembled)
	res := f.integrate(t, "f")
	if res.Outcome != OutcomeCreated || !equalIDs(parents(res.Release), []string{"a1", "o1", "t2"}) {
		t.Fatalf("optional release=%+v, want created with [a1 o1 t2]", res)
	}
}

func TestDisabledAndNonFeatureSet(t *testing.T) {
	f := newFixture(t, nil)
	f.branch(t, domain.Branch{ID: "manual", ComponentID: "shop", Name: "manual", Type: domain.BranchTypeFeature, Dependencies: []domain.DependencyEdge{edge("a", domain.DependencyRequired)}})
	f.release(t, "a1", "a", domain.LifecycleAssembled)

	if res := f.integrate(t, "manual"); res.Outcome != OutcomeDisabled {
		t.Fatalf("outcome=%q, want disabled", res.Outcome)
	}
	if _, err := f.ctrl.AutoIntegrateFeatureSetOnDemand(context.Background(), "a-main"); !errors.Is(err, ErrNotFeatureSet) {
		t.Fatalf("err=%v, want ErrNotFeatureSet", err)
	}
	if _, err := f.ctrl.AutoIntegrateFeatureSetOnDemand(context.Background(), "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestConcurrentRunsCreateOneRelease(t *testing.T) {
	f := newFixture(t, nil)
	f.featureSet(t, "f", edge("a", domain.DependencyRequired))
	f.release(t, "a1", "a", domain.LifecycleAssembled)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ctrl.AutoIntegrateFeatureSetOnDemand(context.Background(), "f"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AutoIntegrateFeatureSetOnDemand() err=%v", err)
	}
	if n := f.store.ReleaseCount("f"); n != 1 {
		t.Fatalf("product releases=%d, want 1", n)
	}
}

func TestUpdateBranchDependencies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.featureSet(t, "f", edge("a", domain.DependencyRequired), edge("t", domain.DependencyTransient))

	got, err := f.ctrl.UpdateBranchDependencies(ctx, "f", []domain.DependencyEdge{
		{TargetComponent: "a", Status: "optional"},
		{TargetComponent: "b"},
	})
	if err != nil {
		t.Fatalf("UpdateBranchDependencies() err=%v", err)
	}
	want := []domain.DependencyEdge{
		edge("a", domain.DependencyOptional),
		edge("t", domain.DependencyTransient),
		edge("b", domain.DependencyRequired),
	}
	stored, err := f.store.GetBranch(ctx, "f")
	if err != nil {
		t.Fatalf("GetBranch() err=%v", err)
	}
	for _, edges := range [][]domain.DependencyEdge{got.Dependencies, stored.Dependencies} {
		if len(edges) != len(want) {
			t.Fatalf("edges=%+v, want %+v", edges, want)
		}
		for i := range want {
			if edges[i] != want[i] {
				t.Fatalf("edges[%d]=%+v, want %+v", i, edges[i], want[i])
			}
		}
	}

	if _, err := f.ctrl.UpdateBranchDependencies(ctx, "f", []domain.DependencyEdge{{Status: "REQUIRED"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v, want ErrValidation", err)
	}
	if _, err := f.ctrl.UpdateBranchDependencies(ctx, "f", []domain.DependencyEdge{{TargetComponent: "a", Status: "sometimes"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v, want ErrValidation", err)
	}
}

func TestPatternsOverrideStoredDependencies(t *testing.T) {
	spec, err := patterns.ParseSpec([]byte(`
schema: tessera.dependency-patterns.v1
rules:
  - id: checkout
    component: shop
    branch: "^f$"
    dependencies:
      - component: a
      - component: b
`))
	if err != nil {
		t.Fatalf("ParseSpec() err=%v", err)
	}
	store := memory.New()
	resolver, err := patterns.NewResolver(spec, store)
	if err != nil {
		t.Fatalf("NewResolver() err=%v", err)
	}
	f := newFixture(t, resolver)
	f.featureSet(t, "f", edge("a", domain.DependencyRequired))
	f.release(t, "a1", "a", domain.LifecycleAssembled)

	res := f.integrate(t, "f")
	if res.Outcome != OutcomeRequirementsUnmet || !equalIDs(res.Missing, []string{"b"}) {
		t.Fatalf("result=%+v, want b missing through the pattern rule", res)
	}
}
