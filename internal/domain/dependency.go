package domain

import (
	"errors"
	"strings"
)

// DependencyStatus governs how an edge takes part in resolution and in product identity.
type DependencyStatus string

const (
	// DependencyRequired must resolve to a qualifying release before a product is composed.
	DependencyRequired DependencyStatus = "REQUIRED"
	// DependencyOptional is composed when resolvable and never blocks.
	DependencyOptional DependencyStatus = "OPTIONAL"
	// DependencyIgnored is excluded from resolution, matching and composition.
	DependencyIgnored DependencyStatus = "IGNORED"
	// DependencyTransient is composed but excluded from product identity comparisons.
	DependencyTransient DependencyStatus = "TRANSIENT"
)

func (s DependencyStatus) Valid() bool {
	switch s {
	case DependencyRequired, DependencyOptional, DependencyIgnored, DependencyTransient:
		return true
	default:
		return false
	}
}

// Core reports whether releases resolved through an edge with this status count
// towards the identity of a product release.
func (s DependencyStatus) Core() bool {
	return s != DependencyIgnored && s != DependencyTransient
}

// NormalizeDependencyStatus upper-cases and trims s; empty input yields REQUIRED.
func NormalizeDependencyStatus(s string) DependencyStatus {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DependencyRequired
	}
	return DependencyStatus(s)
}

// DependencyEdge links a feature set to a component it composes.
type DependencyEdge struct {
	TargetComponent string
	PinnedBranch    string
	PinnedRelease   string
	Status          DependencyStatus
}

func (e DependencyEdge) Validate() error {
	if strings.TrimSpace(e.TargetComponent) == "" {
		return errors.New("target component is required")
	}
	if !e.Status.Valid() {
		return errors.New("invalid dependency status")
	}
	return nil
}

// Key identifies an edge when merging updates with stored edges.
func (e DependencyEdge) Key() string {
	if branch := strings.TrimSpace(e.PinnedBranch); branch != "" {
		return "branch:" + branch
	}
	return "component:" + strings.TrimSpace(e.TargetComponent)
}

// MergeDependencies applies updates onto existing. An update replaces the
// existing edge sharing its key in place; unknown keys are appended in update
// order. Existing edges without an update are kept.
func MergeDependencies(existing, updates []DependencyEdge) []DependencyEdge {
	out := make([]DependencyEdge, 0, len(existing)+len(updates))
	index := make(map[string]int, len(existing)+len(updates))
	for _, edge := range existing {
		key := edge.Key()
		if pos, ok := index[key]; ok {
			out[pos] = edge
			continue
		}
		index[key] = len(out)
		out = append(out, edge)
	}
	for _, edge := range updates {
		edge.Status = NormalizeDependencyStatus(string(edge.Status))
		key := edge.Key()
		if pos, ok := index[key]; ok {
			out[pos] = edge
			continue
		}
		index[key] = len(out)
		out = append(out, edge)
	}
	return out
}
