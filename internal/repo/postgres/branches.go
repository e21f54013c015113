package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

const branchColumns = `b.branch_id, b.org, b.component_id, b.name, b.branch_type, b.version_pin, b.marketing_version_pin, b.auto_integrate, b.follow_version_of`

const (
	selectBranchQuery = `SELECT ` + branchColumns + `
	FROM branches b
	WHERE b.branch_id = $1`

	selectBranchByNameQuery = `SELECT ` + branchColumns + `
	FROM branches b
	WHERE b.component_id = $1 AND b.name = $2`

	// The component's default branch wins over any other BASE branch.
	selectBaseBranchQuery = `SELECT ` + branchColumns + `
	FROM branches b
	JOIN components c ON c.component_id = b.component_id
	WHERE b.component_id = $1 AND (b.branch_id = c.default_branch_id OR b.branch_type = 'BASE')
	ORDER BY (b.branch_id = c.default_branch_id) DESC, b.branch_id
	LIMIT 1`

	selectDependentsQuery = `SELECT ` + branchColumns + `
	FROM branches b
	JOIN components c ON c.component_id = b.component_id
	WHERE c.component_type = 'PRODUCT'
	  AND EXISTS (
		SELECT 1 FROM branch_dependencies d
		WHERE d.branch_id = b.branch_id
		  AND ((d.target_component = $1 AND $1 <> '') OR (d.pinned_branch = $2 AND $2 <> ''))
	  )
	ORDER BY b.branch_id`

	selectDependenciesQuery = `SELECT branch_id, target_component, pinned_branch, pinned_release, status
	FROM branch_dependencies
	WHERE branch_id = ANY($1)
	ORDER BY branch_id, position`

	lockBranchQuery = `SELECT branch_id FROM branches WHERE branch_id = $1 FOR UPDATE`

	deleteDependenciesQuery = `DELETE FROM branch_dependencies WHERE branch_id = $1`

	insertDependencyQuery = `INSERT INTO branch_dependencies (
		branch_id,
		position,
		target_component,
		pinned_branch,
		pinned_release,
		status
	) VALUES ($1,$2,$3,$4,$5,$6)`
)

type BranchStore struct {
	db TxDB
}

func NewBranchStore(db TxDB) *BranchStore {
	if db == nil {
		return nil
	}
	return &BranchStore{db: db}
}

func (s *BranchStore) GetBranch(ctx context.Context, id string) (domain.Branch, error) {
	if s == nil || s.db == nil {
		return domain.Branch{}, fmt.Errorf("branch store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Branch{}, fmt.Errorf("branch id is required")
	}
	return s.getOne(ctx, selectBranchQuery, id)
}

func (s *BranchStore) GetBranchByName(ctx context.Context, componentID, name string) (domain.Branch, error) {
	if s == nil || s.db == nil {
		return domain.Branch{}, fmt.Errorf("branch store not initialized")
	}
	componentID = strings.TrimSpace(componentID)
	if componentID == "" {
		return domain.Branch{}, fmt.Errorf("component id is required")
	}
	return s.getOne(ctx, selectBranchByNameQuery, componentID, name)
}

func (s *BranchStore) GetBaseBranch(ctx context.Context, componentID string) (domain.Branch, error) {
	if s == nil || s.db == nil {
		return domain.Branch{}, fmt.Errorf("branch store not initialized")
	}
	componentID = strings.TrimSpace(componentID)
	if componentID == "" {
		return domain.Branch{}, fmt.Errorf("component id is required")
	}
	return s.getOne(ctx, selectBaseBranchQuery, componentID)
}

func (s *BranchStore) getOne(ctx context.Context, query string, args ...any) (domain.Branch, error) {
	branch, err := scanBranch(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Branch{}, handleNotFound(err)
	}
	branches := []domain.Branch{branch}
	if err := s.attachDependencies(ctx, branches); err != nil {
		return domain.Branch{}, err
	}
	return branches[0], nil
}

// UpdateDependencies replaces the stored edges of the branch in one transaction.
func (s *BranchStore) UpdateDependencies(ctx context.Context, branchID string, edges []domain.DependencyEdge) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("branch store not initialized")
	}
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		return fmt.Errorf("branch id is required")
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var locked string
		if err := tx.QueryRowContext(ctx, lockBranchQuery, branchID).Scan(&locked); err != nil {
			return handleNotFound(err)
		}
		if _, err := tx.ExecContext(ctx, deleteDependenciesQuery, branchID); err != nil {
			return fmt.Errorf("delete dependencies: %w", err)
		}
		for i, edge := range edges {
			if _, err := tx.ExecContext(
				ctx,
				insertDependencyQuery,
				branchID,
				i,
				strings.TrimSpace(edge.TargetComponent),
				strings.TrimSpace(edge.PinnedBranch),
				strings.TrimSpace(edge.PinnedRelease),
				string(edge.Status),
			); err != nil {
				return fmt.Errorf("insert dependency %d: %w", i, err)
			}
		}
		return nil
	})
}

func (s *BranchStore) ListDependents(ctx context.Context, componentID, branchID string) ([]domain.Branch, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("branch store not initialized")
	}
	return s.list(ctx, selectDependentsQuery, strings.TrimSpace(componentID), strings.TrimSpace(branchID))
}

func (s *BranchStore) ListFeatureSets(ctx context.Context, page repo.BranchPage) ([]domain.Branch, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("branch store not initialized")
	}
	query, args := buildFeatureSetQuery(page)
	return s.list(ctx, query, args...)
}

func buildFeatureSetQuery(page repo.BranchPage) (string, []any) {
	args := []any{strings.TrimSpace(page.After)}
	clauses := []string{"c.component_type = 'PRODUCT'", "b.branch_id > $1"}
	if page.AutoIntegrate {
		clauses = append(clauses, "b.auto_integrate")
	}
	if componentID := strings.TrimSpace(page.ComponentID); componentID != "" {
		args = append(args, componentID)
		clauses = append(clauses, fmt.Sprintf("b.component_id = $%d", len(args)))
	}

	query := `SELECT ` + branchColumns + ` FROM branches b JOIN components c ON c.component_id = b.component_id`
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY b.branch_id"
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *BranchStore) list(ctx context.Context, query string, args ...any) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0)
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	if err := s.attachDependencies(ctx, branches); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *BranchStore) attachDependencies(ctx context.Context, branches []domain.Branch) error {
	if len(branches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(branches))
	index := make(map[string]int, len(branches))
	for i, branch := range branches {
		ids = append(ids, branch.ID)
		index[branch.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, selectDependenciesQuery, ids)
	if err != nil {
		return fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			branchID string
			edge     domain.DependencyEdge
		)
		if err := rows.Scan(&branchID, &edge.TargetComponent, &edge.PinnedBranch, &edge.PinnedRelease, &edge.Status); err != nil {
			return fmt.Errorf("scan dependency: %w", err)
		}
		if i, ok := index[branchID]; ok {
			branches[i].Dependencies = append(branches[i].Dependencies, edge)
		}
	}
	return rows.Err()
}

func scanBranch(row rowScanner) (domain.Branch, error) {
	var b domain.Branch
	err := row.Scan(&b.ID, &b.Org, &b.ComponentID, &b.Name, &b.Type, &b.VersionPin, &b.MarketingVersionPin, &b.AutoIntegrate, &b.FollowVersionOf)
	return b, err
}
