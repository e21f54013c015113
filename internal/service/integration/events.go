package integration

import (
	"context"
	"fmt"
	"sort"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

// OnReleaseChanged auto-integrates every feature set depending on the
// release's component or branch, through stored edges or pattern rules.
func (c *Controller) OnReleaseChanged(ctx context.Context, releaseID string) (Report, error) {
	release, err := c.releases.GetRelease(ctx, releaseID)
	if err != nil {
		return Report{}, fmt.Errorf("get release: %w", err)
	}
	dependents, err := c.dependents(ctx, release)
	if err != nil {
		return Report{}, err
	}
	t := &tally{}
	c.integrateAll(ctx, dependents, t, "release_changed")
	return t.snapshot(), nil
}

func (c *Controller) dependents(ctx context.Context, release domain.Release) ([]domain.Branch, error) {
	byID := map[string]domain.Branch{}
	stored, err := c.branches.ListDependents(ctx, release.ComponentID, release.BranchID)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	for _, b := range stored {
		if b.AutoIntegrate {
			byID[b.ID] = b
		}
	}

	for _, product := range c.patterns.ProductsDependingOn(release.ComponentID) {
		after := ""
		for {
			page, err := c.branches.ListFeatureSets(ctx, repo.BranchPage{
				After:         after,
				Limit:         c.sweep.PageSize,
				AutoIntegrate: true,
				ComponentID:   product,
			})
			if err != nil {
				return nil, fmt.Errorf("list feature sets of %s: %w", product, err)
			}
			for _, b := range page {
				if _, ok := byID[b.ID]; ok {
					continue
				}
				if c.dependsOn(ctx, b, release) {
					byID[b.ID] = b
				}
			}
			if len(page) < c.sweep.PageSize {
				break
			}
			after = page[len(page)-1].ID
		}
	}

	out := make([]domain.Branch, 0, len(byID))
	for _, b := range byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Controller) dependsOn(ctx context.Context, branch domain.Branch, release domain.Release) bool {
	edges, err := c.EffectiveDependencies(ctx, branch)
	if err != nil {
		c.logger.Warn("effective dependencies failed", "branch_id", branch.ID, "error", err)
		return false
	}
	for _, edge := range edges {
		if edge.Status == domain.DependencyIgnored {
			continue
		}
		if edge.TargetComponent == release.ComponentID || edge.PinnedBranch == release.BranchID || edge.PinnedRelease == release.ID {
			return true
		}
	}
	return false
}
