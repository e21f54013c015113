package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

func TestBuildFeatureSetQuery(t *testing.T) {
	query, args := buildFeatureSetQuery(repo.BranchPage{After: "br-10", Limit: 50, AutoIntegrate: true, ComponentID: "prod-1"})
	if len(args) != 3 || args[0] != "br-10" || args[1] != "prod-1" || args[2] != 50 {
		t.Fatalf("unexpected args: %v", args)
	}
	for _, want := range []string{
		"c.component_type = 'PRODUCT'",
		"b.branch_id > $1",
		" AND b.auto_integrate",
		"b.component_id = $2",
		"ORDER BY b.branch_id",
		"LIMIT $3",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("expected %q in query, got %s", want, query)
		}
	}
}

func TestBuildFeatureSetQueryMinimal(t *testing.T) {
	query, args := buildFeatureSetQuery(repo.BranchPage{})
	if len(args) != 1 || args[0] != "" {
		t.Fatalf("unexpected args: %v", args)
	}
	if strings.Contains(query, " AND b.auto_integrate") || strings.Contains(query, "b.component_id = $") || strings.Contains(query, "LIMIT") {
		t.Fatalf("unexpected optional clauses in query: %s", query)
	}
}

func TestBuildLatestReleaseQuery(t *testing.T) {
	if _, _, err := buildLatestReleaseQuery(repo.ReleaseFilter{}); err == nil {
		t.Fatalf("expected error for missing branch id")
	}

	query, args, err := buildLatestReleaseQuery(repo.ReleaseFilter{
		BranchID:   "br-1",
		Lifecycles: domain.QualifyingLifecycles(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lifecycles, ok := args[1].([]string)
	if !ok || len(lifecycles) != 2 || lifecycles[0] != "ASSEMBLED" {
		t.Fatalf("unexpected lifecycle arg: %v", args)
	}
	if !strings.Contains(query, "r.lifecycle = ANY($2)") {
		t.Fatalf("expected lifecycle filter, got %s", query)
	}
	if !strings.Contains(query, "ORDER BY r.created_at DESC, r.seq DESC LIMIT 1") {
		t.Fatalf("expected newest-first ordering, got %s", query)
	}

	query, _, err = buildLatestReleaseQuery(repo.ReleaseFilter{BranchID: "br-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(query, "NOT IN ('CANCELLED', 'REJECTED')") {
		t.Fatalf("expected terminal releases excluded, got %s", query)
	}
}

func TestBuildRecentAssignmentsQuery(t *testing.T) {
	query, args := buildRecentAssignmentsQuery(repo.AssignmentFilter{
		ComponentID:   "comp-1",
		BranchID:      "br-1",
		VersionType:   domain.VersionTypeDev,
		VersionSchema: "semver",
		BranchSchema:  "1.x.x",
		Limit:         10,
	})
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	for _, want := range []string{
		"assignment_type <> 'OPEN'",
		"component_id = $1",
		"branch_id = $2",
		"version_type = $3",
		"lower(version_schema) = lower($4)",
		"branch_schema = $5",
		"ORDER BY seq DESC",
		"LIMIT $6",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("expected %q in query, got %s", want, query)
		}
	}
}

func TestAssignmentQueriesHonorUniqueness(t *testing.T) {
	if !strings.Contains(reserveAssignmentQuery, "ON CONFLICT (component_id, version_type, version) WHERE assignment_type <> 'OPEN' DO NOTHING") {
		t.Fatalf("expected reserve to yield on held versions")
	}
	if !strings.Contains(upsertOpenAssignmentQuery, "ON CONFLICT (branch_id, version_type) WHERE assignment_type = 'OPEN' DO UPDATE") {
		t.Fatalf("expected a single OPEN row per branch and version type")
	}
	if !strings.Contains(consumeOpenAssignmentQuery, "assignment_type = 'OPEN'") || !strings.Contains(consumeOpenAssignmentQuery, "RETURNING") {
		t.Fatalf("expected consume to convert the OPEN row in one statement")
	}
	if !strings.Contains(bindAssignmentQuery, "assignment_type <> 'OPEN'") {
		t.Fatalf("expected bind to skip OPEN rows")
	}
}

func TestReleaseQueries(t *testing.T) {
	if !strings.Contains(selectParentsQuery, "p.release_id = ANY($1)") {
		t.Fatalf("expected reverse composition lookup, got %s", selectParentsQuery)
	}
	if !strings.Contains(selectParentReleasesQuery, "ORDER BY product_release_id, position") {
		t.Fatalf("expected parents in composition order")
	}
	if !strings.Contains(selectBaseBranchQuery, "default_branch_id") {
		t.Fatalf("expected default branch preference")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error is not a unique violation")
	}
}

func TestAdvisoryKeyIsStable(t *testing.T) {
	a := advisoryKey(branchLockNamespace, "br-1")
	if a != advisoryKey(branchLockNamespace, "br-1") {
		t.Fatalf("expected stable key")
	}
	if a == advisoryKey(branchLockNamespace, "br-2") {
		t.Fatalf("expected distinct keys per branch")
	}
	if a == advisoryKey("other", "br-1") {
		t.Fatalf("expected distinct keys per namespace")
	}
}

func TestNilStores(t *testing.T) {
	if NewBranchStore(nil) != nil || NewReleaseStore(nil) != nil || NewAssignmentStore(nil) != nil {
		t.Fatalf("expected nil stores for nil db")
	}
	var s *AssignmentStore
	if err := s.Reserve(context.Background(), domain.VersionAssignment{}); err == nil {
		t.Fatalf("expected error from nil store")
	}
	var l *AdvisoryLocker
	if err := l.WithBranchLock(context.Background(), "br-1", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error from nil locker")
	}
}
