package domain

import (
	"errors"
	"fmt"
	"strings"
)

type BranchType string

const (
	BranchTypeBase        BranchType = "BASE"
	BranchTypeFeature     BranchType = "FEATURE"
	BranchTypeRelease     BranchType = "RELEASE"
	BranchTypePullRequest BranchType = "PULL_REQUEST"
)

// Branch is a line of development of a component. A branch owned by a
// product component acts as a feature set.
type Branch struct {
	ID                  string
	Org                 string
	ComponentID         string
	Name                string
	Type                BranchType
	VersionPin          string
	MarketingVersionPin string
	AutoIntegrate       bool
	FollowVersionOf     string
	Dependencies        []DependencyEdge
}

func (b Branch) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.New("branch id is required")
	}
	if strings.TrimSpace(b.ComponentID) == "" {
		return errors.New("component id is required")
	}
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("branch name is required")
	}
	if !b.Type.Valid() {
		return errors.New("invalid branch type")
	}
	for i, edge := range b.Dependencies {
		if err := edge.Validate(); err != nil {
			return fmt.Errorf("dependencies[%d]: %w", i, err)
		}
	}
	return nil
}

func (t BranchType) Valid() bool {
	switch t {
	case BranchTypeBase, BranchTypeFeature, BranchTypeRelease, BranchTypePullRequest:
		return true
	default:
		return false
	}
}

// IsBase reports whether the branch carries the component's main version line.
func (b Branch) IsBase(component Component) bool {
	return b.Type == BranchTypeBase || (component.DefaultBranchID != "" && component.DefaultBranchID == b.ID)
}

// PinFor returns the branch pin for the version type, falling back to the schema
// itself, which leaves every slot free.
func (b Branch) PinFor(versionType VersionType, schema string) string {
	pin := strings.TrimSpace(b.VersionPin)
	if versionType == VersionTypeMarketing {
		pin = strings.TrimSpace(b.MarketingVersionPin)
	}
	if pin == "" {
		return strings.TrimSpace(schema)
	}
	return pin
}
