package memory

import (
	"context"
	"strings"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

func (s *Store) ListRecent(ctx context.Context, filter repo.AssignmentFilter) ([]domain.VersionAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.VersionAssignment, 0)
	for i := len(s.assignments) - 1; i >= 0; i-- {
		a := s.assignments[i]
		if a.AssignmentType == domain.AssignmentOpen {
			continue
		}
		if filter.ComponentID != "" && a.ComponentID != filter.ComponentID {
			continue
		}
		if filter.BranchID != "" && a.BranchID != filter.BranchID {
			continue
		}
		if filter.VersionType != "" && a.VersionType != filter.VersionType {
			continue
		}
		if filter.VersionSchema != "" && !strings.EqualFold(a.VersionSchema, filter.VersionSchema) {
			continue
		}
		if filter.BranchSchema != "" && a.BranchSchema != filter.BranchSchema {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) VersionExists(ctx context.Context, componentID string, versionType domain.VersionType, version string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionHeld(componentID, versionType, version, ""), nil
}

func (s *Store) versionHeld(componentID string, versionType domain.VersionType, version, exceptID string) bool {
	for _, a := range s.assignments {
		if a.ID == exceptID || a.AssignmentType == domain.AssignmentOpen {
			continue
		}
		if a.ComponentID == componentID && a.VersionType == versionType && a.Version == version {
			return true
		}
	}
	return false
}

func (s *Store) Reserve(ctx context.Context, assignment domain.VersionAssignment) error {
	if err := assignment.Validate(); err != nil {
		return err
	}
	if assignment.AssignmentType == domain.AssignmentOpen {
		return repo.ErrConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versionHeld(assignment.ComponentID, assignment.VersionType, assignment.Version, "") {
		return repo.ErrConflict
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = s.now().UTC()
	}
	s.assignments = append(s.assignments, assignment)
	return nil
}

func (s *Store) GetOpen(ctx context.Context, branchID string, versionType domain.VersionType) (domain.VersionAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.openIndex(branchID, versionType); i >= 0 {
		return s.assignments[i], nil
	}
	return domain.VersionAssignment{}, repo.ErrNotFound
}

func (s *Store) UpsertOpen(ctx context.Context, assignment domain.VersionAssignment) (domain.VersionAssignment, error) {
	assignment.AssignmentType = domain.AssignmentOpen
	if err := assignment.Validate(); err != nil {
		return domain.VersionAssignment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = s.now().UTC()
	}
	if i := s.openIndex(assignment.BranchID, assignment.VersionType); i >= 0 {
		assignment.ID = s.assignments[i].ID
		s.assignments[i] = assignment
		return assignment, nil
	}
	s.assignments = append(s.assignments, assignment)
	return assignment, nil
}

func (s *Store) ConsumeOpen(ctx context.Context, branchID string, versionType domain.VersionType) (domain.VersionAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.openIndex(branchID, versionType)
	if i < 0 {
		return domain.VersionAssignment{}, repo.ErrNotFound
	}
	open := s.assignments[i]
	if s.versionHeld(open.ComponentID, open.VersionType, open.Version, open.ID) {
		return domain.VersionAssignment{}, repo.ErrConflict
	}
	open.AssignmentType = domain.AssignmentReserved
	open.CreatedAt = s.now().UTC()
	// Move to the end so history stays ordered by reservation time.
	s.assignments = append(s.assignments[:i], s.assignments[i+1:]...)
	s.assignments = append(s.assignments, open)
	return open, nil
}

func (s *Store) BindRelease(ctx context.Context, assignmentID, releaseID string) (domain.VersionAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.assignments {
		if a.ID != assignmentID {
			continue
		}
		if a.AssignmentType == domain.AssignmentOpen {
			return domain.VersionAssignment{}, repo.ErrConflict
		}
		a.AssignmentType = domain.AssignmentAssigned
		a.BoundRelease = releaseID
		s.assignments[i] = a
		return a, nil
	}
	return domain.VersionAssignment{}, repo.ErrNotFound
}

func (s *Store) openIndex(branchID string, versionType domain.VersionType) int {
	for i, a := range s.assignments {
		if a.AssignmentType == domain.AssignmentOpen && a.BranchID == branchID && a.VersionType == versionType {
			return i
		}
	}
	return -1
}
