package handler

import (
	"fmt"
	"net/http"
	"strings"

	"latentsetup/internal/setup/entity"
	"latentsetup/internal/setup/service/session"
)

// SessionHandler serves the JSON session endpoints. Every mutating call
// answers with the snapshot produced by the transition.
type SessionHandler struct {
	sessions *session.Manager
}

func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type navigateRequest struct {
	Dataset string `json:"dataset"`
	Scope   string `json:"scope"`
}

type selectRequest struct {
	Layer string `json:"layer"`
	Name  string `json:"name"`
}

type textColumnRequest struct {
	Column string `json:"column"`
}

type artifactRequest struct {
	Kind string `json:"kind"`
	Mode string `json:"mode"`

	Embedding string                  `json:"embedding,omitempty"`
	Map       *entity.MapArtifact     `json:"umap,omitempty"`
	Cluster   *entity.ClusterArtifact `json:"cluster,omitempty"`
	Scope     *entity.Scope           `json:"scope,omitempty"`
}

type pointsRequest struct {
	Indices []int `json:"indices"`
}

type retryRequest struct {
	Resources []string `json:"resources"`
}

type saveScopeResponse struct {
	Scope    entity.Scope     `json:"scope"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func (h *SessionHandler) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	c, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return c, true
}

func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in navigateRequest
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Dataset) == "" {
		badRequest(w, "dataset is required")
		return
	}
	_, snap, err := h.sessions.Create(in.Dataset, in.Scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var in navigateRequest
	if !decodeBody(w, r, &in) {
		return
	}
	var (
		snap session.Snapshot
		err  error
	)
	if strings.TrimSpace(in.Dataset) == "" {
		snap, err = c.NavigateScope(in.Scope)
	} else {
		snap, err = c.Navigate(in.Dataset, in.Scope)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var in selectRequest
	if !decodeBody(w, r, &in) {
		return
	}
	layer, ok := session.ParseLayer(in.Layer)
	if !ok {
		badRequest(w, fmt.Sprintf("unknown layer %q", in.Layer))
		return
	}
	snap, err := c.Select(layer, in.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) HandleTextColumn(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var in textColumnRequest
	if !decodeBody(w, r, &in) {
		return
	}
	snap, err := c.SetTextColumn(r.Context(), in.Column)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleArtifacts applies an artifact event: "refresh" replaces the list of
// kind from the backend, "created" appends the artifact in the body.
func (h *SessionHandler) HandleArtifacts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var in artifactRequest
	if !decodeBody(w, r, &in) {
		return
	}
	kind, ok := entity.ParseArtifactKind(in.Kind)
	if !ok {
		badRequest(w, fmt.Sprintf("unknown artifact kind %q", in.Kind))
		return
	}

	var (
		snap session.Snapshot
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(in.Mode)) {
	case "", "refresh":
		snap, err = c.Refresh(kind)
	case "created":
		snap, err = addCreated(c, kind, in)
	default:
		badRequest(w, fmt.Sprintf("unknown mode %q", in.Mode))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func addCreated(c *session.Controller, kind entity.ArtifactKind, in artifactRequest) (session.Snapshot, error) {
	switch kind {
	case entity.KindEmbedding:
		return c.AddEmbedding(in.Embedding)
	case entity.KindMap:
		if in.Map == nil {
			return session.Snapshot{}, fmt.Errorf("%w: umap is required", session.ErrInvalidArtifact)
		}
		return c.AddMap(*in.Map)
	case entity.KindCluster:
		if in.Cluster == nil {
			return session.Snapshot{}, fmt.Errorf("%w: cluster is required", session.ErrInvalidArtifact)
		}
		return c.AddCluster(*in.Cluster)
	default:
		if in.Scope == nil {
			return session.Snapshot{}, fmt.Errorf("%w: scope is required", session.ErrInvalidArtifact)
		}
		return c.AddScope(*in.Scope)
	}
}

func (h *SessionHandler) HandleSaveScope(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var in session.ScopeDraft
	if !decodeBody(w, r, &in) {
		return
	}
	saved, snap, err := c.SaveScope(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saveScopeResponse{Scope: saved, Snapshot: snap})
}

func (h *SessionHandler) HandleSetPoints(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var in pointsRequest
	if !decodeBody(w, r, &in) {
		return
	}
	snap, err := c.SetSelectedIndices(in.Indices)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) HandleClearPoints(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	snap, err := c.ClearSelection()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var in retryRequest
	if !decodeBody(w, r, &in) {
		return
	}
	resources := make([]session.Resource, 0, len(in.Resources))
	for _, raw := range in.Resources {
		res, ok := session.ParseResource(raw)
		if !ok {
			badRequest(w, fmt.Sprintf("unknown resource %q", raw))
			return
		}
		resources = append(resources, res)
	}
	snap, err := c.Retry(resources...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
