package integration

import (
	"context"
	"fmt"
	"strings"

	"github.com/tessera-labs/tessera/internal/domain"
)

// EffectiveDependencies returns the pattern edges of the branch when a
// pattern rule applies, else its stored edges.
func (c *Controller) EffectiveDependencies(ctx context.Context, branch domain.Branch) ([]domain.DependencyEdge, error) {
	edges, err := c.patterns.EffectiveDependencies(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("resolve dependency patterns: %w", err)
	}
	return edges, nil
}

// UpdateBranchDependencies merges updates into the stored edges of a feature set.
func (c *Controller) UpdateBranchDependencies(ctx context.Context, branchID string, updates []domain.DependencyEdge) (domain.Branch, error) {
	if len(updates) == 0 {
		return domain.Branch{}, fmt.Errorf("%w: no dependency updates", ErrValidation)
	}
	for i, edge := range updates {
		edge.TargetComponent = strings.TrimSpace(edge.TargetComponent)
		edge.PinnedBranch = strings.TrimSpace(edge.PinnedBranch)
		edge.PinnedRelease = strings.TrimSpace(edge.PinnedRelease)
		edge.Status = domain.NormalizeDependencyStatus(string(edge.Status))
		if err := edge.Validate(); err != nil {
			return domain.Branch{}, fmt.Errorf("%w: dependencies[%d]: %v", ErrValidation, i, err)
		}
		updates[i] = edge
	}
	branch, err := c.featureSet(ctx, branchID)
	if err != nil {
		return domain.Branch{}, err
	}
	merged := domain.MergeDependencies(branch.Dependencies, updates)
	if err := c.branches.UpdateDependencies(ctx, branch.ID, merged); err != nil {
		return domain.Branch{}, fmt.Errorf("update dependencies: %w", err)
	}
	branch.Dependencies = merged
	return branch, nil
}
