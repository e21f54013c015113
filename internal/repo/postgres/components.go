package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/tessera-labs/tessera/internal/domain"
)

const selectComponentQuery = `SELECT component_id, org, name, component_type, version_schema, marketing_version_schema, default_branch_id
	FROM components
	WHERE component_id = $1`

type ComponentStore struct {
	db DB
}

func NewComponentStore(db DB) *ComponentStore {
	if db == nil {
		return nil
	}
	return &ComponentStore{db: db}
}

func (s *ComponentStore) GetComponent(ctx context.Context, id string) (domain.Component, error) {
	if s == nil || s.db == nil {
		return domain.Component{}, fmt.Errorf("component store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Component{}, fmt.Errorf("component id is required")
	}
	var c domain.Component
	row := s.db.QueryRowContext(ctx, selectComponentQuery, id)
	if err := row.Scan(&c.ID, &c.Org, &c.Name, &c.Type, &c.VersionSchema, &c.MarketingVersionSchema, &c.DefaultBranchID); err != nil {
		return domain.Component{}, handleNotFound(err)
	}
	return c, nil
}
