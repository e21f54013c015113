package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

const releaseColumns = `r.release_id, r.org, r.component_id, r.branch_id, r.version, r.lifecycle, r.created_at, r.seq`

const (
	selectReleasesQuery = `SELECT ` + releaseColumns + `
	FROM releases r
	WHERE r.release_id = ANY($1)`

	// Releases composing any of $1, oldest first.
	selectParentsQuery = `SELECT ` + releaseColumns + `
	FROM releases r
	WHERE r.release_id IN (
		SELECT p.product_release_id FROM parent_releases p WHERE p.release_id = ANY($1)
	)
	ORDER BY r.seq`

	selectParentReleasesQuery = `SELECT product_release_id, release_id
	FROM parent_releases
	WHERE product_release_id = ANY($1)
	ORDER BY product_release_id, position`

	insertReleaseQuery = `INSERT INTO releases (
		release_id,
		org,
		component_id,
		branch_id,
		version,
		lifecycle,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	RETURNING seq, created_at`

	insertParentReleaseQuery = `INSERT INTO parent_releases (
		product_release_id,
		position,
		release_id
	) VALUES ($1,$2,$3)`
)

type ReleaseStore struct {
	db TxDB
}

func NewReleaseStore(db TxDB) *ReleaseStore {
	if db == nil {
		return nil
	}
	return &ReleaseStore{db: db}
}

func (s *ReleaseStore) GetRelease(ctx context.Context, id string) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Release{}, fmt.Errorf("release id is required")
	}
	found, err := s.GetReleases(ctx, []string{id})
	if err != nil {
		return domain.Release{}, err
	}
	release, ok := found[id]
	if !ok {
		return domain.Release{}, repo.ErrNotFound
	}
	return release, nil
}

func (s *ReleaseStore) GetReleases(ctx context.Context, ids []string) (map[string]domain.Release, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("release store not initialized")
	}
	out := make(map[string]domain.Release, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	releases, err := s.list(ctx, selectReleasesQuery, ids)
	if err != nil {
		return nil, err
	}
	for _, release := range releases {
		out[release.ID] = release
	}
	return out, nil
}

func (s *ReleaseStore) LatestRelease(ctx context.Context, filter repo.ReleaseFilter) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	query, args, err := buildLatestReleaseQuery(filter)
	if err != nil {
		return domain.Release{}, err
	}
	releases, err := s.list(ctx, query, args...)
	if err != nil {
		return domain.Release{}, err
	}
	if len(releases) == 0 {
		return domain.Release{}, repo.ErrNotFound
	}
	return releases[0], nil
}

func buildLatestReleaseQuery(filter repo.ReleaseFilter) (string, []any, error) {
	branchID := strings.TrimSpace(filter.BranchID)
	if branchID == "" {
		return "", nil, fmt.Errorf("branch id is required")
	}
	args := []any{branchID}
	clauses := []string{"r.branch_id = $1"}
	if len(filter.Lifecycles) > 0 {
		lifecycles := make([]string, 0, len(filter.Lifecycles))
		for _, lc := range filter.Lifecycles {
			lifecycles = append(lifecycles, string(lc))
		}
		args = append(args, lifecycles)
		clauses = append(clauses, fmt.Sprintf("r.lifecycle = ANY($%d)", len(args)))
	} else {
		clauses = append(clauses, "r.lifecycle NOT IN ('CANCELLED', 'REJECTED')")
	}

	query := `SELECT ` + releaseColumns + ` FROM releases r`
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY r.created_at DESC, r.seq DESC LIMIT 1"
	return query, args, nil
}

func (s *ReleaseStore) ListParents(ctx context.Context, ids []string) ([]domain.Release, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("release store not initialized")
	}
	if len(ids) == 0 {
		return []domain.Release{}, nil
	}
	return s.list(ctx, selectParentsQuery, ids)
}

// CreateRelease inserts the release and its composition edges in one
// transaction. Seq and CreatedAt come back from the database.
func (s *ReleaseStore) CreateRelease(ctx context.Context, release domain.Release) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	if err := release.Validate(); err != nil {
		return domain.Release{}, err
	}
	release.CreatedAt = normalizeTime(release.CreatedAt)
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(
			ctx,
			insertReleaseQuery,
			strings.TrimSpace(release.ID),
			strings.TrimSpace(release.Org),
			strings.TrimSpace(release.ComponentID),
			strings.TrimSpace(release.BranchID),
			strings.TrimSpace(release.Version),
			string(release.Lifecycle),
			release.CreatedAt,
		).Scan(&release.Seq, &release.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return repo.ErrConflict
			}
			return fmt.Errorf("insert release: %w", err)
		}
		for i, parent := range release.ParentReleases {
			if _, err := tx.ExecContext(ctx, insertParentReleaseQuery, release.ID, i, strings.TrimSpace(parent.ReleaseID)); err != nil {
				return fmt.Errorf("insert parent release %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Release{}, err
	}
	release.CreatedAt = release.CreatedAt.UTC()
	return release, nil
}

func (s *ReleaseStore) list(ctx context.Context, query string, args ...any) ([]domain.Release, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	releases := make([]domain.Release, 0)
	for rows.Next() {
		var r domain.Release
		if err := rows.Scan(&r.ID, &r.Org, &r.ComponentID, &r.BranchID, &r.Version, &r.Lifecycle, &r.CreatedAt, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		releases = append(releases, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	if err := s.attachParents(ctx, releases); err != nil {
		return nil, err
	}
	return releases, nil
}

func (s *ReleaseStore) attachParents(ctx context.Context, releases []domain.Release) error {
	if len(releases) == 0 {
		return nil
	}
	ids := make([]string, 0, len(releases))
	index := make(map[string]int, len(releases))
	for i, release := range releases {
		ids = append(ids, release.ID)
		index[release.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, selectParentReleasesQuery, ids)
	if err != nil {
		return fmt.Errorf("list parent releases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID, releaseID string
		if err := rows.Scan(&productID, &releaseID); err != nil {
			return fmt.Errorf("scan parent release: %w", err)
		}
		if i, ok := index[productID]; ok {
			releases[i].ParentReleases = append(releases[i].ParentReleases, domain.ParentRelease{ReleaseID: releaseID})
		}
	}
	return rows.Err()
}
