package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/platform/httpserver"
	"github.com/tessera-labs/tessera/internal/repo"
	"github.com/tessera-labs/tessera/internal/service/integration"
	"github.com/tessera-labs/tessera/internal/service/versions"
	"github.com/tessera-labs/tessera/internal/versioning"
)

const actorHeader = "X-Tessera-Actor"

type versionService interface {
	GetSetNewVersion(ctx context.Context, req versions.Request) (domain.VersionAssignment, error)
	SetNextVersion(ctx context.Context, branchID, version string, versionType domain.VersionType, actor string) (domain.VersionAssignment, error)
	GetCurrentNextVersion(ctx context.Context, branchID string, versionType domain.VersionType) (string, error)
	BindRelease(ctx context.Context, assignmentID, releaseID string) (domain.VersionAssignment, error)
}

type matchService interface {
	MatchToProductRelease(ctx context.Context, branchID string, releaseIDs []string) (domain.Release, bool, error)
}

type integrationService interface {
	AutoIntegrateFeatureSetOnDemand(ctx context.Context, branchID string) (integration.Result, error)
	UpdateBranchDependencies(ctx context.Context, branchID string, updates []domain.DependencyEdge) (domain.Branch, error)
	OnReleaseChanged(ctx context.Context, releaseID string) (integration.Report, error)
	Sweep(ctx context.Context, name string) (integration.Report, error)
}

type registryAPI struct {
	logger      *slog.Logger
	versions    versionService
	matcher     matchService
	integration integrationService
}

func newRegistryAPI(logger *slog.Logger, versions versionService, matcher matchService, integration integrationService) *registryAPI {
	return &registryAPI{
		logger:      logger,
		versions:    versions,
		matcher:     matcher,
		integration: integration,
	}
}

func (api *registryAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /branches/{branch_id}/versions", api.handleNewVersion)
	mux.HandleFunc("GET /branches/{branch_id}/next-version", api.handleGetNextVersion)
	mux.HandleFunc("PUT /branches/{branch_id}/next-version", api.handleSetNextVersion)
	mux.HandleFunc("POST /versions/{assignment_id}/bind", api.handleBindRelease)

	mux.HandleFunc("PUT /branches/{branch_id}/dependencies", api.handleUpdateDependencies)
	mux.HandleFunc("POST /branches/{branch_id}/auto-integrate", api.handleAutoIntegrate)
	mux.HandleFunc("POST /branches/{branch_id}/match", api.handleMatch)

	mux.HandleFunc("POST /releases/{release_id}/changed", api.handleReleaseChanged)
	mux.HandleFunc("POST /reconcile", api.handleReconcile)
}

type versionAssignment struct {
	AssignmentID   string    `json:"assignment_id"`
	ComponentID    string    `json:"component_id"`
	BranchID       string    `json:"branch_id"`
	Version        string    `json:"version"`
	VersionSchema  string    `json:"version_schema"`
	BranchSchema   string    `json:"branch_schema,omitempty"`
	VersionType    string    `json:"version_type"`
	AssignmentType string    `json:"assignment_type"`
	BoundRelease   string    `json:"bound_release,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toVersionAssignment(a domain.VersionAssignment) versionAssignment {
	return versionAssignment{
		AssignmentID:   a.ID,
		ComponentID:    a.ComponentID,
		BranchID:       a.BranchID,
		Version:        a.Version,
		VersionSchema:  a.VersionSchema,
		BranchSchema:   a.BranchSchema,
		VersionType:    string(a.VersionType),
		AssignmentType: string(a.AssignmentType),
		BoundRelease:   a.BoundRelease,
		CreatedAt:      a.CreatedAt,
	}
}

type release struct {
	ReleaseID      string    `json:"release_id"`
	ComponentID    string    `json:"component_id"`
	BranchID       string    `json:"branch_id"`
	Version        string    `json:"version"`
	Lifecycle      string    `json:"lifecycle"`
	ParentReleases []string  `json:"parent_releases"`
	CreatedAt      time.Time `json:"created_at"`
}

func toRelease(r domain.Release) *release {
	return &release{
		ReleaseID:      r.ID,
		ComponentID:    r.ComponentID,
		BranchID:       r.BranchID,
		Version:        r.Version,
		Lifecycle:      string(r.Lifecycle),
		ParentReleases: r.ParentIDs(),
		CreatedAt:      r.CreatedAt,
	}
}

type dependency struct {
	Component string `json:"component"`
	Branch    string `json:"branch,omitempty"`
	Release   string `json:"release,omitempty"`
	Status    string `json:"status,omitempty"`
}

type newVersionRequest struct {
	Action      string `json:"action,omitempty"`
	Modifier    string `json:"modifier,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
	VersionType string `json:"version_type,omitempty"`
}

func (api *registryAPI) handleNewVersion(w http.ResponseWriter, r *http.Request) {
	var req newVersionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	action, err := versioning.ParseBumpAction(req.Action)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_action")
		return
	}
	versionType, ok := parseVersionType(req.VersionType)
	if !ok {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_version_type")
		return
	}

	assignment, err := api.versions.GetSetNewVersion(r.Context(), versions.Request{
		BranchID:    r.PathValue("branch_id"),
		Action:      action,
		Modifier:    strings.TrimSpace(req.Modifier),
		Metadata:    strings.TrimSpace(req.Metadata),
		VersionType: versionType,
		Actor:       actor(r),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, toVersionAssignment(assignment))
}

func (api *registryAPI) handleGetNextVersion(w http.ResponseWriter, r *http.Request) {
	versionType, ok := parseVersionType(r.URL.Query().Get("version_type"))
	if !ok {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_version_type")
		return
	}
	branchID := r.PathValue("branch_id")
	version, err := api.versions.GetCurrentNextVersion(r.Context(), branchID, versionType)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"branch_id":    branchID,
		"version_type": string(versionType),
		"version":      version,
	})
}

type setNextVersionRequest struct {
	Version     string `json:"version"`
	VersionType string `json:"version_type,omitempty"`
}

func (api *registryAPI) handleSetNextVersion(w http.ResponseWriter, r *http.Request) {
	var req setNextVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Version) == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "version_required")
		return
	}
	versionType, ok := parseVersionType(req.VersionType)
	if !ok {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_version_type")
		return
	}
	assignment, err := api.versions.SetNextVersion(r.Context(), r.PathValue("branch_id"), req.Version, versionType, actor(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toVersionAssignment(assignment))
}

type bindReleaseRequest struct {
	ReleaseID string `json:"release_id"`
}

func (api *registryAPI) handleBindRelease(w http.ResponseWriter, r *http.Request) {
	var req bindReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	assignment, err := api.versions.BindRelease(r.Context(), r.PathValue("assignment_id"), req.ReleaseID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toVersionAssignment(assignment))
}

type updateDependenciesRequest struct {
	Dependencies []dependency `json:"dependencies"`
}

func (api *registryAPI) handleUpdateDependencies(w http.ResponseWriter, r *http.Request) {
	var req updateDependenciesRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	updates := make([]domain.DependencyEdge, 0, len(req.Dependencies))
	for _, d := range req.Dependencies {
		updates = append(updates, domain.DependencyEdge{
			TargetComponent: d.Component,
			PinnedBranch:    d.Branch,
			PinnedRelease:   d.Release,
			Status:          domain.DependencyStatus(d.Status),
		})
	}
	branch, err := api.integration.UpdateBranchDependencies(r.Context(), r.PathValue("branch_id"), updates)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]dependency, 0, len(branch.Dependencies))
	for _, edge := range branch.Dependencies {
		out = append(out, dependency{
			Component: edge.TargetComponent,
			Branch:    edge.PinnedBranch,
			Release:   edge.PinnedRelease,
			Status:    string(edge.Status),
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"branch_id":    branch.ID,
		"dependencies": out,
	})
}

type integrateResponse struct {
	Outcome string   `json:"outcome"`
	Release *release `json:"release,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

func (api *registryAPI) handleAutoIntegrate(w http.ResponseWriter, r *http.Request) {
	res, err := api.integration.AutoIntegrateFeatureSetOnDemand(r.Context(), r.PathValue("branch_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := integrateResponse{Outcome: string(res.Outcome), Missing: res.Missing}
	if res.Outcome == integration.OutcomeMatched || res.Outcome == integration.OutcomeCreated {
		out.Release = toRelease(res.Release)
	}
	status := http.StatusOK
	if res.Outcome == integration.OutcomeCreated {
		status = http.StatusCreated
	}
	httpserver.WriteJSON(w, status, out)
}

type matchRequest struct {
	ReleaseIDs []string `json:"release_ids"`
}

func (api *registryAPI) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.ReleaseIDs) == 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "release_ids_required")
		return
	}
	matched, ok, err := api.matcher.MatchToProductRelease(r.Context(), r.PathValue("branch_id"), req.ReleaseIDs)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	body := map[string]any{"matched": ok}
	if ok {
		body["release"] = toRelease(matched)
	}
	httpserver.WriteJSON(w, http.StatusOK, body)
}

func (api *registryAPI) handleReleaseChanged(w http.ResponseWriter, r *http.Request) {
	report, err := api.integration.OnReleaseChanged(r.Context(), r.PathValue("release_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, report)
}

type reconcileRequest struct {
	Name string `json:"name,omitempty"`
}

func (api *registryAPI) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = integration.DefaultSweepName
	}
	report, err := api.integration.Sweep(r.Context(), name)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"name":   name,
		"report": report,
	})
}

func (api *registryAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, versions.ErrValidation), errors.Is(err, integration.ErrValidation):
		httpserver.WriteError(w, r, http.StatusBadRequest, "validation_error")
	case errors.Is(err, versions.ErrConfiguration):
		httpserver.WriteError(w, r, http.StatusUnprocessableEntity, "version_configuration_error")
	case errors.Is(err, integration.ErrNotFeatureSet):
		httpserver.WriteError(w, r, http.StatusUnprocessableEntity, "not_feature_set")
	case errors.Is(err, versions.ErrVersionCollision):
		httpserver.WriteError(w, r, http.StatusConflict, "version_collision")
	case errors.Is(err, repo.ErrConflict):
		httpserver.WriteError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "request_cancelled")
	default:
		api.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func parseVersionType(raw string) (domain.VersionType, bool) {
	t := domain.NormalizeVersionType(raw)
	return t, t.Valid()
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(actorHeader))
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
