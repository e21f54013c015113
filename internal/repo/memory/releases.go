package memory

import (
	"context"
	"sort"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

func (s *Store) GetRelease(ctx context.Context, id string) (domain.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	release, ok := s.releases[id]
	if !ok {
		return domain.Release{}, repo.ErrNotFound
	}
	return copyRelease(release), nil
}

func (s *Store) GetReleases(ctx context.Context, ids []string) (map[string]domain.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Release, len(ids))
	for _, id := range ids {
		if release, ok := s.releases[id]; ok {
			out[id] = copyRelease(release)
		}
	}
	return out, nil
}

func (s *Store) LatestRelease(ctx context.Context, filter repo.ReleaseFilter) (domain.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed := make(map[domain.Lifecycle]struct{}, len(filter.Lifecycles))
	for _, lc := range filter.Lifecycles {
		allowed[lc] = struct{}{}
	}
	var (
		best  domain.Release
		found bool
	)
	for _, release := range s.releases {
		if release.BranchID != filter.BranchID {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[release.Lifecycle]; !ok {
				continue
			}
		} else if release.Lifecycle.Terminal() {
			continue
		}
		if !found || newer(release, best) {
			best = release
			found = true
		}
	}
	if !found {
		return domain.Release{}, repo.ErrNotFound
	}
	return copyRelease(best), nil
}

func (s *Store) ListParents(ctx context.Context, ids []string) ([]domain.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]domain.Release, 0)
	for _, release := range s.releases {
		for _, parent := range release.ParentReleases {
			if _, ok := wanted[parent.ReleaseID]; ok {
				out = append(out, copyRelease(release))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// CreateRelease stores release, assigning Seq and defaulting CreatedAt.
func (s *Store) CreateRelease(ctx context.Context, release domain.Release) (domain.Release, error) {
	if err := release.Validate(); err != nil {
		return domain.Release{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.releases[release.ID]; ok {
		return domain.Release{}, repo.ErrConflict
	}
	s.seq++
	release.Seq = s.seq
	if release.CreatedAt.IsZero() {
		release.CreatedAt = s.now().UTC()
	}
	release = copyRelease(release)
	s.releases[release.ID] = release
	return copyRelease(release), nil
}

// ReleaseCount returns the number of releases on a branch.
func (s *Store) ReleaseCount(branchID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, release := range s.releases {
		if release.BranchID == branchID {
			n++
		}
	}
	return n
}

func newer(a, b domain.Release) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

func copyRelease(r domain.Release) domain.Release {
	r.ParentReleases = append([]domain.ParentRelease(nil), r.ParentReleases...)
	return r
}
