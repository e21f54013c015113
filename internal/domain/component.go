package domain

import (
	"errors"
	"strings"
)

// ComponentType distinguishes plain components from products composed of other releases.
type ComponentType string

const (
	ComponentTypeComponent ComponentType = "COMPONENT"
	ComponentTypeProduct   ComponentType = "PRODUCT"
)

// Component is a unit with its own branches and releases.
type Component struct {
	ID                     string
	Org                    string
	Name                   string
	Type                   ComponentType
	VersionSchema          string
	MarketingVersionSchema string
	DefaultBranchID        string
}

func (c Component) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("component id is required")
	}
	if strings.TrimSpace(c.Org) == "" {
		return errors.New("org is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("component name is required")
	}
	if !c.Type.Valid() {
		return errors.New("invalid component type")
	}
	return nil
}

func (t ComponentType) Valid() bool {
	switch t {
	case ComponentTypeComponent, ComponentTypeProduct:
		return true
	default:
		return false
	}
}

// SchemaFor returns the version schema used for the given version type.
func (c Component) SchemaFor(versionType VersionType) string {
	if versionType == VersionTypeMarketing {
		return strings.TrimSpace(c.MarketingVersionSchema)
	}
	return strings.TrimSpace(c.VersionSchema)
}
