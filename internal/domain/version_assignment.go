package domain

import (
	"errors"
	"strings"
	"time"
)

type VersionType string

const (
	VersionTypeDev       VersionType = "DEV"
	VersionTypeMarketing VersionType = "MARKETING"
)

func (t VersionType) Valid() bool {
	return t == VersionTypeDev || t == VersionTypeMarketing
}

// NormalizeVersionType defaults empty input to DEV.
func NormalizeVersionType(s string) VersionType {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return VersionTypeDev
	}
	return VersionType(s)
}

type AssignmentType string

const (
	// AssignmentReserved is a version handed out but not yet bound to a release.
	AssignmentReserved AssignmentType = "RESERVED"
	// AssignmentAssigned is a version bound to a durable release.
	AssignmentAssigned AssignmentType = "ASSIGNED"
	// AssignmentOpen is an administrative override consumed by the next request.
	AssignmentOpen AssignmentType = "OPEN"
)

func (t AssignmentType) Valid() bool {
	switch t {
	case AssignmentReserved, AssignmentAssigned, AssignmentOpen:
		return true
	default:
		return false
	}
}

// VersionAssignment reserves a version string for a branch.
type VersionAssignment struct {
	ID             string
	Org            string
	ComponentID    string
	BranchID       string
	Version        string
	VersionSchema  string
	BranchSchema   string
	VersionType    VersionType
	AssignmentType AssignmentType
	BoundRelease   string
	CreatedAt      time.Time
}

func (a VersionAssignment) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("assignment id is required")
	}
	if strings.TrimSpace(a.ComponentID) == "" {
		return errors.New("component id is required")
	}
	if strings.TrimSpace(a.BranchID) == "" {
		return errors.New("branch id is required")
	}
	if strings.TrimSpace(a.Version) == "" {
		return errors.New("version is required")
	}
	if strings.TrimSpace(a.VersionSchema) == "" {
		return errors.New("version schema is required")
	}
	if !a.VersionType.Valid() {
		return errors.New("invalid version type")
	}
	if !a.AssignmentType.Valid() {
		return errors.New("invalid assignment type")
	}
	if a.AssignmentType == AssignmentAssigned && strings.TrimSpace(a.BoundRelease) == "" {
		return errors.New("assigned version requires a bound release")
	}
	return nil
}
