package patterns

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

const sample = `
schema: tessera.dependency-patterns.v1
rules:
  - id: features
    component: shop
    branch: "^feature/"
    dependencies:
      - component: api
        branch: "${branch}"
      - component: ui
        branch: main
        status: transient
      - component: docs
        status: IGNORED
  - id: fallback
    component: shop
    dependencies:
      - component: api
`

type fakeBranches map[string]domain.Branch

func (f fakeBranches) GetBranchByName(ctx context.Context, componentID, name string) (domain.Branch, error) {
	if b, ok := f[componentID+"/"+name]; ok {
		return b, nil
	}
	return domain.Branch{}, repo.ErrNotFound
}

func TestResolveEffectiveDependencies(t *testing.T) {
	spec, err := ParseSpec([]byte(sample))
	if err != nil {
		t.Fatalf("ParseSpec() err=%v", err)
	}
	r, err := NewResolver(spec, fakeBranches{
		"api/feature/cart": {ID: "api-cart"},
		"ui/main":          {ID: "ui-main"},
	})
	if err != nil {
		t.Fatalf("NewResolver() err=%v", err)
	}

	edges, ok, err := r.ResolveEffectiveDependencies(context.Background(), domain.Branch{ComponentID: "shop", Name: "feature/cart"})
	if err != nil || !ok {
		t.Fatalf("ResolveEffectiveDependencies() ok=%v err=%v", ok, err)
	}
	want := []domain.DependencyEdge{
		{TargetComponent: "api", PinnedBranch: "api-cart", Status: domain.DependencyRequired},
		{TargetComponent: "ui", PinnedBranch: "ui-main", Status: domain.DependencyTransient},
		{TargetComponent: "docs", Status: domain.DependencyIgnored},
	}
	if len(edges) != len(want) {
		t.Fatalf("edges=%+v, want %+v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Fatalf("edges[%d]=%+v, want %+v", i, edges[i], want[i])
		}
	}

	edges, ok, err = r.ResolveEffectiveDependencies(context.Background(), domain.Branch{ComponentID: "shop", Name: "feature/search"})
	if err != nil || !ok {
		t.Fatalf("unmatched branch name ok=%v err=%v", ok, err)
	}
	if edges[0].PinnedBranch != "" {
		t.Fatalf("missing branch should stay unpinned, got %+v", edges[0])
	}

	edges, ok, err = r.ResolveEffectiveDependencies(context.Background(), domain.Branch{ComponentID: "shop", Name: "main"})
	if err != nil || !ok || len(edges) != 1 {
		t.Fatalf("fallback rule edges=%+v ok=%v err=%v", edges, ok, err)
	}

	if _, ok, _ := r.ResolveEffectiveDependencies(context.Background(), domain.Branch{ComponentID: "other", Name: "main"}); ok {
		t.Fatalf("expected no rule for another component")
	}
}

func TestNilResolver(t *testing.T) {
	var r *Resolver
	if _, ok, err := r.ResolveEffectiveDependencies(context.Background(), domain.Branch{}); ok || err != nil {
		t.Fatalf("nil resolver ok=%v err=%v", ok, err)
	}
}

func TestSpecValidate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "schema", in: "schema: other\nrules: []", want: "spec.schema"},
		{name: "rules", in: "schema: tessera.dependency-patterns.v1\nrules: []", want: "spec.rules must be non-empty"},
		{name: "duplicate", in: "schema: tessera.dependency-patterns.v1\nrules:\n  - {id: a, component: x, dependencies: [{component: y}]}\n  - {id: a, component: x, dependencies: [{component: y}]}", want: "must be unique"},
		{name: "regex", in: "schema: tessera.dependency-patterns.v1\nrules:\n  - {id: a, component: x, branch: \"([\", dependencies: [{component: y}]}", want: "spec.rules[0].branch"},
		{name: "status", in: "schema: tessera.dependency-patterns.v1\nrules:\n  - {id: a, component: x, dependencies: [{component: y, status: maybe}]}", want: "dependencies[0].status"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSpec([]byte(tc.in))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("ParseSpec() err=%v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	spec, err := LoadSpec(path)
	if err != nil {
		t.Fatalf("LoadSpec() err=%v", err)
	}
	if len(spec.Rules) != 2 {
		t.Fatalf("rules=%d, want 2", len(spec.Rules))
	}
}

func TestEffectiveDependenciesFallsBackToStored(t *testing.T) {
	stored := []domain.DependencyEdge{{TargetComponent: "db", Status: domain.DependencyOptional}}
	var r *Resolver
	edges, err := r.EffectiveDependencies(context.Background(), domain.Branch{ComponentID: "shop", Dependencies: stored})
	if err != nil || len(edges) != 1 || edges[0] != stored[0] {
		t.Fatalf("edges=%+v err=%v, want stored edges", edges, err)
	}
}

func TestProductsDependingOn(t *testing.T) {
	spec, err := ParseSpec([]byte(sample))
	if err != nil {
		t.Fatalf("ParseSpec() err=%v", err)
	}
	r, err := NewResolver(spec, fakeBranches{})
	if err != nil {
		t.Fatalf("NewResolver() err=%v", err)
	}
	if got := r.ProductsDependingOn("api"); len(got) != 1 || got[0] != "shop" {
		t.Fatalf("ProductsDependingOn(api)=%v, want [shop]", got)
	}
	if got := r.ProductsDependingOn("unknown"); len(got) != 0 {
		t.Fatalf("ProductsDependingOn(unknown)=%v, want none", got)
	}
}
