package app

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo/memory"
)

// Fixtures seeds an in-memory store for local runs.
type Fixtures struct {
	Components []fixtureComponent `yaml:"components"`
	Branches   []fixtureBranch    `yaml:"branches"`
	Releases   []fixtureRelease   `yaml:"releases"`
}

type fixtureComponent struct {
	ID                     string `yaml:"id"`
	Org                    string `yaml:"org"`
	Name                   string `yaml:"name"`
	Type                   string `yaml:"type"`
	VersionSchema          string `yaml:"version_schema"`
	MarketingVersionSchema string `yaml:"marketing_version_schema"`
	DefaultBranchID        string `yaml:"default_branch_id"`
}

type fixtureBranch struct {
	ID                  string              `yaml:"id"`
	ComponentID         string              `yaml:"component_id"`
	Name                string              `yaml:"name"`
	Type                string              `yaml:"type"`
	VersionPin          string              `yaml:"version_pin"`
	MarketingVersionPin string              `yaml:"marketing_version_pin"`
	AutoIntegrate       bool                `yaml:"auto_integrate"`
	FollowVersionOf     string              `yaml:"follow_version_of"`
	Dependencies        []fixtureDependency `yaml:"dependencies"`
}

type fixtureDependency struct {
	Component string `yaml:"component"`
	Branch    string `yaml:"branch"`
	Release   string `yaml:"release"`
	Status    string `yaml:"status"`
}

type fixtureRelease struct {
	ID          string   `yaml:"id"`
	ComponentID string   `yaml:"component_id"`
	BranchID    string   `yaml:"branch_id"`
	Version     string   `yaml:"version"`
	Lifecycle   string   `yaml:"lifecycle"`
	Parents     []string `yaml:"parents"`
}

func ParseFixtures(input []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(input, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	return f, nil
}

func LoadFixtures(store *memory.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}
	f, err := ParseFixtures(raw)
	if err != nil {
		return err
	}
	return f.Apply(context.Background(), store)
}

// Apply stores components, then branches, then releases in file order.
func (f Fixtures) Apply(ctx context.Context, store *memory.Store) error {
	for i, c := range f.Components {
		component := domain.Component{
			ID:                     c.ID,
			Org:                    c.Org,
			Name:                   c.Name,
			Type:                   domain.ComponentType(c.Type),
			VersionSchema:          c.VersionSchema,
			MarketingVersionSchema: c.MarketingVersionSchema,
			DefaultBranchID:        c.DefaultBranchID,
		}
		if err := store.PutComponent(component); err != nil {
			return fmt.Errorf("components[%d]: %w", i, err)
		}
	}
	for i, b := range f.Branches {
		branch := domain.Branch{
			ID:                  b.ID,
			ComponentID:         b.ComponentID,
			Name:                b.Name,
			Type:                domain.BranchType(b.Type),
			VersionPin:          b.VersionPin,
			MarketingVersionPin: b.MarketingVersionPin,
			AutoIntegrate:       b.AutoIntegrate,
			FollowVersionOf:     b.FollowVersionOf,
		}
		for _, d := range b.Dependencies {
			branch.Dependencies = append(branch.Dependencies, domain.DependencyEdge{
				TargetComponent: d.Component,
				PinnedBranch:    d.Branch,
				PinnedRelease:   d.Release,
				Status:          domain.NormalizeDependencyStatus(d.Status),
			})
		}
		if err := store.PutBranch(branch); err != nil {
			return fmt.Errorf("branches[%d]: %w", i, err)
		}
	}
	for i, r := range f.Releases {
		release := domain.Release{
			ID:          r.ID,
			ComponentID: r.ComponentID,
			BranchID:    r.BranchID,
			Version:     r.Version,
			Lifecycle:   domain.Lifecycle(r.Lifecycle),
		}
		for _, parent := range r.Parents {
			release.ParentReleases = append(release.ParentReleases, domain.ParentRelease{ReleaseID: parent})
		}
		if _, err := store.CreateRelease(ctx, release); err != nil {
			return fmt.Errorf("releases[%d]: %w", i, err)
		}
	}
	return nil
}
