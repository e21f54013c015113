// Package memory implements the repository interfaces in process memory with
// the same uniqueness and ordering rules as the Postgres stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

type Store struct {
	mu          sync.RWMutex
	components  map[string]domain.Component
	branches    map[string]domain.Branch
	releases    map[string]domain.Release
	assignments []domain.VersionAssignment
	checkpoints map[string]string
	seq         int64
	now         func() time.Time
}

func New() *Store {
	return &Store{
		components:  map[string]domain.Component{},
		branches:    map[string]domain.Branch{},
		releases:    map[string]domain.Release{},
		checkpoints: map[string]string{},
		now:         time.Now,
	}
}

// SetClock overrides the time source used for CreatedAt defaults.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) PutComponent(component domain.Component) error {
	if err := component.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[component.ID] = component
	return nil
}

func (s *Store) PutBranch(branch domain.Branch) error {
	if err := branch.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.components[branch.ComponentID]; !ok {
		return fmt.Errorf("component %s: %w", branch.ComponentID, repo.ErrNotFound)
	}
	branch.Dependencies = append([]domain.DependencyEdge(nil), branch.Dependencies...)
	s.branches[branch.ID] = branch
	return nil
}

func (s *Store) GetComponent(ctx context.Context, id string) (domain.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	component, ok := s.components[strings.TrimSpace(id)]
	if !ok {
		return domain.Component{}, repo.ErrNotFound
	}
	return component, nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	branch, ok := s.branches[strings.TrimSpace(id)]
	if !ok {
		return domain.Branch{}, repo.ErrNotFound
	}
	return copyBranch(branch), nil
}

func (s *Store) GetBranchByName(ctx context.Context, componentID, name string) (domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, branch := range s.branches {
		if branch.ComponentID == componentID && branch.Name == name {
			return copyBranch(branch), nil
		}
	}
	return domain.Branch{}, repo.ErrNotFound
}

func (s *Store) GetBaseBranch(ctx context.Context, componentID string) (domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	component, ok := s.components[componentID]
	if !ok {
		return domain.Branch{}, repo.ErrNotFound
	}
	if branch, ok := s.branches[component.DefaultBranchID]; ok {
		return copyBranch(branch), nil
	}
	ids := s.sortedBranchIDs()
	for _, id := range ids {
		branch := s.branches[id]
		if branch.ComponentID == componentID && branch.Type == domain.BranchTypeBase {
			return copyBranch(branch), nil
		}
	}
	return domain.Branch{}, repo.ErrNotFound
}

func (s *Store) UpdateDependencies(ctx context.Context, branchID string, edges []domain.DependencyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	branch, ok := s.branches[branchID]
	if !ok {
		return repo.ErrNotFound
	}
	branch.Dependencies = append([]domain.DependencyEdge(nil), edges...)
	s.branches[branchID] = branch
	return nil
}

func (s *Store) ListDependents(ctx context.Context, componentID, branchID string) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Branch, 0)
	for _, id := range s.sortedBranchIDs() {
		branch := s.branches[id]
		if !s.isProduct(branch.ComponentID) {
			continue
		}
		for _, edge := range branch.Dependencies {
			if (componentID != "" && edge.TargetComponent == componentID) || (branchID != "" && edge.PinnedBranch == branchID) {
				out = append(out, copyBranch(branch))
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ListFeatureSets(ctx context.Context, page repo.BranchPage) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Branch, 0)
	for _, id := range s.sortedBranchIDs() {
		if id <= page.After {
			continue
		}
		branch := s.branches[id]
		if !s.isProduct(branch.ComponentID) {
			continue
		}
		if page.AutoIntegrate && !branch.AutoIntegrate {
			continue
		}
		if page.ComponentID != "" && branch.ComponentID != page.ComponentID {
			continue
		}
		out = append(out, copyBranch(branch))
		if page.Limit > 0 && len(out) >= page.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) isProduct(componentID string) bool {
	return s.components[componentID].Type == domain.ComponentTypeProduct
}

func (s *Store) sortedBranchIDs() []string {
	ids := make([]string, 0, len(s.branches))
	for id := range s.branches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyBranch(b domain.Branch) domain.Branch {
	b.Dependencies = append([]domain.DependencyEdge(nil), b.Dependencies...)
	return b
}
