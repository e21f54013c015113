package patterns

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

// BranchReader looks up dependency branches by name.
type BranchReader interface {
	GetBranchByName(ctx context.Context, componentID, name string) (domain.Branch, error)
}

type compiledRule struct {
	Rule
	branch *regexp.Regexp
}

// Resolver evaluates rules in file order; the first matching rule wins.
type Resolver struct {
	rules    []compiledRule
	branches BranchReader
}

func NewResolver(spec Spec, branches BranchReader) (*Resolver, error) {
	if branches == nil {
		return nil, errors.New("branch reader is required")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	rules := make([]compiledRule, 0, len(spec.Rules))
	for _, rule := range spec.Rules {
		compiled := compiledRule{Rule: rule}
		if pattern := strings.TrimSpace(rule.Branch); pattern != "" {
			compiled.branch = regexp.MustCompile(pattern)
		}
		rules = append(rules, compiled)
	}
	return &Resolver{rules: rules, branches: branches}, nil
}

// ResolveEffectiveDependencies returns the edges of the first rule matching
// branch. It reports false when no rule applies and the stored edges stand.
//
// A dependency branch that does not exist in its component leaves the edge
// unpinned, so it resolves through the component's base branch.
func (r *Resolver) ResolveEffectiveDependencies(ctx context.Context, branch domain.Branch) ([]domain.DependencyEdge, bool, error) {
	if r == nil {
		return nil, false, nil
	}
	for _, rule := range r.rules {
		if !rule.matches(branch) {
			continue
		}
		edges := make([]domain.DependencyEdge, 0, len(rule.Dependencies))
		for _, dep := range rule.Dependencies {
			edge := domain.DependencyEdge{
				TargetComponent: strings.TrimSpace(dep.Component),
				Status:          domain.NormalizeDependencyStatus(dep.Status),
			}
			name := strings.ReplaceAll(strings.TrimSpace(dep.Branch), BranchNamePlaceholder, branch.Name)
			if name != "" {
				target, err := r.branches.GetBranchByName(ctx, edge.TargetComponent, name)
				switch {
				case err == nil:
					edge.PinnedBranch = target.ID
				case !errors.Is(err, repo.ErrNotFound):
					return nil, false, fmt.Errorf("rule %s: resolve branch %q of %s: %w", rule.ID, name, edge.TargetComponent, err)
				}
			}
			edges = append(edges, edge)
		}
		return domain.MergeDependencies(nil, edges), true, nil
	}
	return nil, false, nil
}

func (r compiledRule) matches(branch domain.Branch) bool {
	if strings.TrimSpace(r.Component) != branch.ComponentID {
		return false
	}
	return r.branch == nil || r.branch.MatchString(branch.Name)
}

// EffectiveDependencies returns the rule edges for branch when a rule applies,
// else the edges stored on the branch. A nil Resolver always returns the
// stored edges.
func (r *Resolver) EffectiveDependencies(ctx context.Context, branch domain.Branch) ([]domain.DependencyEdge, error) {
	edges, ok, err := r.ResolveEffectiveDependencies(ctx, branch)
	if err != nil {
		return nil, err
	}
	if ok {
		return edges, nil
	}
	return branch.Dependencies, nil
}

// ProductsDependingOn lists the product components with a rule that emits an
// edge to componentID.
func (r *Resolver) ProductsDependingOn(componentID string) []string {
	if r == nil {
		return nil
	}
	var out []string
	seen := map[string]struct{}{}
	for _, rule := range r.rules {
		for _, dep := range rule.Dependencies {
			if strings.TrimSpace(dep.Component) != componentID {
				continue
			}
			product := strings.TrimSpace(rule.Component)
			if _, ok := seen[product]; !ok {
				seen[product] = struct{}{}
				out = append(out, product)
			}
			break
		}
	}
	return out
}
