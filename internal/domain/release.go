package domain

import (
	"errors"
	"strings"
	"time"
)

// Lifecycle is the state of a release.
type Lifecycle string

const (
	LifecycleDraft     Lifecycle = "DRAFT"
	LifecyclePending   Lifecycle = "PENDING"
	LifecycleAssembled Lifecycle = "ASSEMBLED"
	LifecycleScheduled Lifecycle = "SCHEDULED"
	LifecycleCancelled Lifecycle = "CANCELLED"
	LifecycleRejected  Lifecycle = "REJECTED"
)

var lifecycleRank = map[Lifecycle]int{
	LifecycleDraft:     1,
	LifecyclePending:   2,
	LifecycleAssembled: 3,
	LifecycleScheduled: 4,
}

func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleCancelled, LifecycleRejected:
		return true
	}
	_, ok := lifecycleRank[l]
	return ok
}

// Terminal reports whether the release was withdrawn.
func (l Lifecycle) Terminal() bool {
	return l == LifecycleCancelled || l == LifecycleRejected
}

// AtLeast reports whether l has progressed to min or beyond. Terminal states
// never qualify.
func (l Lifecycle) AtLeast(min Lifecycle) bool {
	rank, ok := lifecycleRank[l]
	if !ok {
		return false
	}
	return rank >= lifecycleRank[min]
}

// QualifyingLifecycles lists the states a release must be in to be picked up
// by auto-integration.
func QualifyingLifecycles() []Lifecycle {
	return []Lifecycle{LifecycleAssembled, LifecycleScheduled}
}

// ParentRelease is an edge from a product release to one release it composes.
type ParentRelease struct {
	ReleaseID string
}

// Release is a versioned snapshot of a component branch.
type Release struct {
	ID             string
	Org            string
	ComponentID    string
	BranchID       string
	Version        string
	Lifecycle      Lifecycle
	ParentReleases []ParentRelease
	CreatedAt      time.Time
	Seq            int64
}

func (r Release) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("release id is required")
	}
	if strings.TrimSpace(r.ComponentID) == "" {
		return errors.New("component id is required")
	}
	if strings.TrimSpace(r.BranchID) == "" {
		return errors.New("branch id is required")
	}
	if strings.TrimSpace(r.Version) == "" {
		return errors.New("release version is required")
	}
	if !r.Lifecycle.Valid() {
		return errors.New("invalid release lifecycle")
	}
	seen := make(map[string]struct{}, len(r.ParentReleases))
	for _, parent := range r.ParentReleases {
		id := strings.TrimSpace(parent.ReleaseID)
		if id == "" {
			return errors.New("parent release id is required")
		}
		if id == r.ID {
			return errors.New("release cannot compose itself")
		}
		if _, ok := seen[id]; ok {
			return errors.New("duplicate parent release " + id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ParentIDs returns the ids of the composed releases in order.
func (r Release) ParentIDs() []string {
	out := make([]string, 0, len(r.ParentReleases))
	for _, parent := range r.ParentReleases {
		out = append(out, parent.ReleaseID)
	}
	return out
}
