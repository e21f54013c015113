package domain

import "testing"

func TestMergeDependencies(t *testing.T) {
	existing := []DependencyEdge{
		{TargetComponent: "a", Status: DependencyRequired},
		{TargetComponent: "b", PinnedBranch: "b-rel", Status: DependencyRequired},
		{TargetComponent: "c", Status: DependencyOptional},
	}
	updates := []DependencyEdge{
		{TargetComponent: "b", PinnedBranch: "b-rel", Status: "ignored"},
		{TargetComponent: "d"},
		{TargetComponent: "a", Status: DependencyTransient},
	}

	got := MergeDependencies(existing, updates)
	want := []DependencyEdge{
		{TargetComponent: "a", Status: DependencyTransient},
		{TargetComponent: "b", PinnedBranch: "b-rel", Status: DependencyIgnored},
		{TargetComponent: "c", Status: DependencyOptional},
		{TargetComponent: "d", Status: DependencyRequired},
	}
	if len(got) != len(want) {
		t.Fatalf("len=%d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("edge[%d]=%+v, want %+v", i, got[i], want[i])
		}
	}
	if existing[1].Status != DependencyRequired {
		t.Fatalf("existing edges must not be modified")
	}
}

func TestDependencyStatus(t *testing.T) {
	if NormalizeDependencyStatus("") != DependencyRequired {
		t.Fatalf("empty status must default to REQUIRED")
	}
	if NormalizeDependencyStatus(" transient ") != DependencyTransient {
		t.Fatalf("status must be trimmed and upper-cased")
	}
	if DependencyStatus("MAYBE").Valid() {
		t.Fatalf("unknown status must be invalid")
	}
	for status, core := range map[DependencyStatus]bool{
		DependencyRequired:  true,
		DependencyOptional:  true,
		DependencyIgnored:   false,
		DependencyTransient: false,
	} {
		if status.Core() != core {
			t.Fatalf("%s.Core()=%v, want %v", status, status.Core(), core)
		}
	}
}

func TestEdgeKey(t *testing.T) {
	if got := (DependencyEdge{TargetComponent: "a", PinnedBranch: "a-rel"}).Key(); got != "branch:a-rel" {
		t.Fatalf("key=%q, want branch:a-rel", got)
	}
	if got := (DependencyEdge{TargetComponent: "a"}).Key(); got != "component:a" {
		t.Fatalf("key=%q, want component:a", got)
	}
}

func TestLifecycle(t *testing.T) {
	if !LifecycleScheduled.AtLeast(LifecycleAssembled) {
		t.Fatalf("SCHEDULED must be at least ASSEMBLED")
	}
	if LifecyclePending.AtLeast(LifecycleAssembled) {
		t.Fatalf("PENDING must not qualify")
	}
	if LifecycleCancelled.AtLeast(LifecycleDraft) || !LifecycleCancelled.Terminal() {
		t.Fatalf("CANCELLED is terminal and never qualifies")
	}
	if !LifecycleRejected.Valid() || Lifecycle("SHIPPED").Valid() {
		t.Fatalf("unexpected lifecycle validity")
	}
}

func TestReleaseValidate(t *testing.T) {
	base := Release{ID: "p1", ComponentID: "shop", BranchID: "p-main", Version: "1.0.0", Lifecycle: LifecycleAssembled}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	self := base
	self.ParentReleases = []ParentRelease{{ReleaseID: "p1"}}
	if err := self.Validate(); err == nil {
		t.Fatalf("expected error for self composition")
	}

	dup := base
	dup.ParentReleases = []ParentRelease{{ReleaseID: "a1"}, {ReleaseID: "a1"}}
	if err := dup.Validate(); err == nil {
		t.Fatalf("expected error for duplicate parent")
	}
}

func TestBranchPinFor(t *testing.T) {
	b := Branch{VersionPin: "2.x.x"}
	if got := b.PinFor(VersionTypeDev, "semver"); got != "2.x.x" {
		t.Fatalf("pin=%q, want 2.x.x", got)
	}
	if got := b.PinFor(VersionTypeMarketing, "YYYY.Micro"); got != "YYYY.Micro" {
		t.Fatalf("pin=%q, want schema fallback", got)
	}

	c := Component{ID: "c", DefaultBranchID: "b-dev"}
	if !(Branch{ID: "b-dev", Type: BranchTypeFeature}).IsBase(c) {
		t.Fatalf("default branch must count as base")
	}
	if (Branch{ID: "b-x", Type: BranchTypeFeature}).IsBase(c) {
		t.Fatalf("feature branch must not count as base")
	}
}

func TestVersionAssignmentValidate(t *testing.T) {
	a := VersionAssignment{
		ID:             "va1",
		ComponentID:    "c",
		BranchID:       "b",
		Version:        "1.0.0",
		VersionSchema:  "semver",
		VersionType:    VersionTypeDev,
		AssignmentType: AssignmentAssigned,
	}
	if err := a.Validate(); err == nil {
		t.Fatalf("expected error for ASSIGNED without release")
	}
	a.BoundRelease = "r1"
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if NormalizeVersionType("") != VersionTypeDev || NormalizeVersionType("marketing") != VersionTypeMarketing {
		t.Fatalf("unexpected version type normalization")
	}
}
