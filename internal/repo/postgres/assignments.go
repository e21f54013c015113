package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

const assignmentColumns = `assignment_id, org, component_id, branch_id, version, version_schema, branch_schema, version_type, assignment_type, bound_release, created_at`

const (
	versionExistsQuery = `SELECT EXISTS (
		SELECT 1 FROM version_assignments
		WHERE component_id = $1 AND version_type = $2 AND version = $3 AND assignment_type <> 'OPEN'
	)`

	// The conflict target names the partial index that holds non-OPEN versions.
	reserveAssignmentQuery = `INSERT INTO version_assignments (
		assignment_id,
		org,
		component_id,
		branch_id,
		version,
		version_schema,
		branch_schema,
		version_type,
		assignment_type,
		bound_release,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (component_id, version_type, version) WHERE assignment_type <> 'OPEN' DO NOTHING`

	selectOpenAssignmentQuery = `SELECT ` + assignmentColumns + `
	FROM version_assignments
	WHERE branch_id = $1 AND version_type = $2 AND assignment_type = 'OPEN'`

	upsertOpenAssignmentQuery = `INSERT INTO version_assignments (
		assignment_id,
		org,
		component_id,
		branch_id,
		version,
		version_schema,
		branch_schema,
		version_type,
		assignment_type,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'OPEN',$9)
	ON CONFLICT (branch_id, version_type) WHERE assignment_type = 'OPEN' DO UPDATE SET
		org = EXCLUDED.org,
		component_id = EXCLUDED.component_id,
		version = EXCLUDED.version,
		version_schema = EXCLUDED.version_schema,
		branch_schema = EXCLUDED.branch_schema,
		created_at = EXCLUDED.created_at
	RETURNING ` + assignmentColumns

	// Taking a fresh seq keeps history ordered by reservation time.
	consumeOpenAssignmentQuery = `UPDATE version_assignments
	SET assignment_type = 'RESERVED',
		created_at = now(),
		seq = nextval(pg_get_serial_sequence('version_assignments', 'seq'))
	WHERE branch_id = $1 AND version_type = $2 AND assignment_type = 'OPEN'
	RETURNING ` + assignmentColumns

	bindAssignmentQuery = `UPDATE version_assignments
	SET assignment_type = 'ASSIGNED', bound_release = $2
	WHERE assignment_id = $1 AND assignment_type <> 'OPEN'
	RETURNING ` + assignmentColumns

	assignmentExistsQuery = `SELECT EXISTS (SELECT 1 FROM version_assignments WHERE assignment_id = $1)`
)

type AssignmentStore struct {
	db DB
}

func NewAssignmentStore(db DB) *AssignmentStore {
	if db == nil {
		return nil
	}
	return &AssignmentStore{db: db}
}

func (s *AssignmentStore) ListRecent(ctx context.Context, filter repo.AssignmentFilter) ([]domain.VersionAssignment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("assignment store not initialized")
	}
	query, args := buildRecentAssignmentsQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.VersionAssignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return out, nil
}

func buildRecentAssignmentsQuery(filter repo.AssignmentFilter) (string, []any) {
	clauses := []string{"assignment_type <> 'OPEN'"}
	args := make([]any, 0, 6)

	if v := strings.TrimSpace(filter.ComponentID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("component_id = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.BranchID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	if filter.VersionType != "" {
		args = append(args, string(filter.VersionType))
		clauses = append(clauses, fmt.Sprintf("version_type = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.VersionSchema); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("lower(version_schema) = lower($%d)", len(args)))
	}
	if v := filter.BranchSchema; v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("branch_schema = $%d", len(args)))
	}

	query := `SELECT ` + assignmentColumns + ` FROM version_assignments`
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *AssignmentStore) VersionExists(ctx context.Context, componentID string, versionType domain.VersionType, version string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("assignment store not initialized")
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, versionExistsQuery, componentID, string(versionType), version).Scan(&exists); err != nil {
		return false, fmt.Errorf("version exists: %w", err)
	}
	return exists, nil
}

func (s *AssignmentStore) Reserve(ctx context.Context, a domain.VersionAssignment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("assignment store not initialized")
	}
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if a.AssignmentType == domain.AssignmentOpen {
		return repo.ErrConflict
	}
	res, err := s.db.ExecContext(
		ctx,
		reserveAssignmentQuery,
		a.ID,
		strings.TrimSpace(a.Org),
		a.ComponentID,
		a.BranchID,
		a.Version,
		a.VersionSchema,
		a.BranchSchema,
		string(a.VersionType),
		string(a.AssignmentType),
		a.BoundRelease,
		normalizeTime(a.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrConflict
		}
		return fmt.Errorf("reserve version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve version: %w", err)
	}
	if n == 0 {
		return repo.ErrConflict
	}
	return nil
}

func (s *AssignmentStore) GetOpen(ctx context.Context, branchID string, versionType domain.VersionType) (domain.VersionAssignment, error) {
	if s == nil || s.db == nil {
		return domain.VersionAssignment{}, fmt.Errorf("assignment store not initialized")
	}
	a, err := scanAssignment(s.db.QueryRowContext(ctx, selectOpenAssignmentQuery, branchID, string(versionType)))
	if err != nil {
		return domain.VersionAssignment{}, handleNotFound(err)
	}
	return a, nil
}

func (s *AssignmentStore) UpsertOpen(ctx context.Context, a domain.VersionAssignment) (domain.VersionAssignment, error) {
	if s == nil || s.db == nil {
		return domain.VersionAssignment{}, fmt.Errorf("assignment store not initialized")
	}
	a.AssignmentType = domain.AssignmentOpen
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return domain.VersionAssignment{}, err
	}
	out, err := scanAssignment(s.db.QueryRowContext(
		ctx,
		upsertOpenAssignmentQuery,
		a.ID,
		strings.TrimSpace(a.Org),
		a.ComponentID,
		a.BranchID,
		a.Version,
		a.VersionSchema,
		a.BranchSchema,
		string(a.VersionType),
		normalizeTime(a.CreatedAt),
	))
	if err != nil {
		return domain.VersionAssignment{}, fmt.Errorf("upsert open version: %w", err)
	}
	return out, nil
}

// ConsumeOpen converts the OPEN row in a single statement, so two callers can
// never both receive it. A version already held elsewhere yields ErrConflict.
func (s *AssignmentStore) ConsumeOpen(ctx context.Context, branchID string, versionType domain.VersionType) (domain.VersionAssignment, error) {
	if s == nil || s.db == nil {
		return domain.VersionAssignment{}, fmt.Errorf("assignment store not initialized")
	}
	a, err := scanAssignment(s.db.QueryRowContext(ctx, consumeOpenAssignmentQuery, branchID, string(versionType)))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.VersionAssignment{}, repo.ErrConflict
		}
		return domain.VersionAssignment{}, handleNotFound(err)
	}
	return a, nil
}

func (s *AssignmentStore) BindRelease(ctx context.Context, assignmentID, releaseID string) (domain.VersionAssignment, error) {
	if s == nil || s.db == nil {
		return domain.VersionAssignment{}, fmt.Errorf("assignment store not initialized")
	}
	a, err := scanAssignment(s.db.QueryRowContext(ctx, bindAssignmentQuery, assignmentID, releaseID))
	if err == nil {
		return a, nil
	}
	if !errors.Is(handleNotFound(err), repo.ErrNotFound) {
		return domain.VersionAssignment{}, fmt.Errorf("bind release: %w", err)
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, assignmentExistsQuery, assignmentID).Scan(&exists); err != nil {
		return domain.VersionAssignment{}, fmt.Errorf("bind release: %w", err)
	}
	if exists {
		return domain.VersionAssignment{}, repo.ErrConflict
	}
	return domain.VersionAssignment{}, repo.ErrNotFound
}

func scanAssignment(row rowScanner) (domain.VersionAssignment, error) {
	var a domain.VersionAssignment
	err := row.Scan(&a.ID, &a.Org, &a.ComponentID, &a.BranchID, &a.Version, &a.VersionSchema, &a.BranchSchema, &a.VersionType, &a.AssignmentType, &a.BoundRelease, &a.CreatedAt)
	if err == nil {
		a.CreatedAt = a.CreatedAt.UTC()
	}
	return a, err
}
