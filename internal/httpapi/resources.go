package httpapi

import (
	"net/http"
	"strings"

	"crabstack.local/claude-gateway/internal/apierr"
	"crabstack.local/claude-gateway/internal/ids"
	"crabstack.local/claude-gateway/internal/openai"
	"crabstack.local/claude-gateway/internal/store"
)

const defaultPerPage = 20

type pagination struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

type listResponse[T any] struct {
	Data       []T        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func newListResponse[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{
		Data:       items,
		Pagination: pagination{Total: len(items), Page: 1, PerPage: defaultPerPage},
	}
}

func (s *server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openai.ModelList{
		Object: openai.ObjectList,
		Data:   s.deps.Models.List(),
	})
}

func (s *server) handleModelCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.deps.Models.Capabilities(),
	})
}

func (s *server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("model_id")
	m, ok := s.deps.Models.Get(modelID)
	if !ok {
		writeError(w, apierr.NotFound("Model '%s' not found", modelID))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

func (s *server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, storeError(err, "list projects"))
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(projects))
}

func (s *server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, apierr.BadRequest("name is required"))
		return
	}

	project, err := s.deps.Store.CreateProject(r.Context(), store.ProjectRecord{
		ID:          ids.NewSessionID(),
		Name:        req.Name,
		Description: req.Description,
		Path:        req.Path,
	})
	if err != nil {
		writeError(w, storeError(err, "create project"))
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	project, err := s.deps.Store.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, storeError(err, "Project %s not found", projectID))
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	if err := s.deps.Store.DeleteProject(r.Context(), projectID); err != nil {
		writeError(w, storeError(err, "Project %s not found", projectID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"status":     "deleted",
	})
}

type createSessionRequest struct {
	ProjectID    string `json:"project_id"`
	Title        string `json:"title"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Store.ListSessions(r.Context())
	if err != nil {
		writeError(w, storeError(err, "list sessions"))
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(sessions))
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		writeError(w, apierr.BadRequest("project_id is required"))
		return
	}
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = s.deps.Models.DefaultModel()
	}

	session, err := s.deps.Store.CreateSession(r.Context(), store.SessionRecord{
		ID:           ids.NewSessionID(),
		ProjectID:    req.ProjectID,
		Title:        req.Title,
		Model:        modelName,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		writeError(w, storeError(err, "create session"))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *server) handleSessionStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_claude_sessions": s.deps.Sessions.ActiveCount(),
		"claude_sessions":        s.deps.Sessions.ActiveSessionIDs(),
		"max_concurrent":         s.deps.Sessions.MaxConcurrent(),
	})
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	session, err := s.deps.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, storeError(err, "Session %s not found", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := s.deps.Store.DeleteSession(r.Context(), sessionID); err != nil {
		writeError(w, storeError(err, "Session %s not found", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     "deleted",
	})
}
