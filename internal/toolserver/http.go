package toolserver

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/apperrors"
	"github.com/codexec/codexec/internal/skills"
)

// Handler returns the full HTTP surface: the streamable MCP endpoint at
// /mcp plus the plain side-endpoints. Specific routes are registered before
// the catch-all user-scoped artifact routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	// Path traversal in artifact names must reach the validator as-is
	// instead of being normalized away into a 404.
	r.SkipClean(true)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/skills", s.handleListSkills).Methods(http.MethodGet)
	r.HandleFunc("/skills/{id}", s.handleGetSkill).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)

	streamable := server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath("/mcp"),
		server.WithHTTPContextFunc(UserIDFromHeader),
	)
	r.PathPrefix("/mcp").Handler(streamable)

	r.HandleFunc("/{user_id}/artifacts", s.handleListArtifacts).Methods(http.MethodGet)
	r.HandleFunc("/{user_id}/artifacts/{name:.+}", s.handleGetArtifact).Methods(http.MethodGet)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, route string, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to encode response", zap.String("route", route), zap.Error(err))
	}
	s.metrics.observeHTTP(route, code)
}

func (s *Server) writeError(w http.ResponseWriter, route string, err error) {
	code := apperrors.HTTPStatus(err)
	s.writeJSON(w, route, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.sandbox.Ready() {
		status = "unhealthy"
	}
	s.writeJSON(w, "/health", http.StatusOK, map[string]any{
		"status":             status,
		"service":            serviceName,
		"client_initialized": s.sandbox.Ready(),
	})
}

type skillSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	summaries := make([]skillSummary, 0, len(list))
	for _, sk := range list {
		summaries = append(summaries, skillSummary{
			ID:          sk.ID,
			Name:        sk.Name,
			Description: sk.Description,
			Version:     sk.Version,
		})
	}
	s.writeJSON(w, "/skills", http.StatusOK, map[string]any{
		"skills": summaries,
		"count":  len(summaries),
	})
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	skill, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, "/skills/{id}", err)
		return
	}
	s.writeJSON(w, "/skills/{id}", http.StatusOK, fullSkill(skill))
}

func fullSkill(sk skills.Skill) map[string]any {
	return map[string]any{
		"skill_id":     sk.ID,
		"name":         sk.Name,
		"description":  sk.Description,
		"version":      sk.Version,
		"dependencies": sk.Dependencies,
		"content":      sk.Body,
	}
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["user_id"]
	names, err := s.sandbox.ListArtifacts(r.Context(), uid)
	if err != nil {
		s.writeError(w, "/{user_id}/artifacts", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, "/{user_id}/artifacts", http.StatusOK, map[string]any{
		"artifacts": names,
		"count":     len(names),
	})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uid := vars["user_id"]
	name := vars["name"]

	data, err := s.sandbox.GetArtifact(r.Context(), uid, name)
	if err != nil {
		s.writeError(w, "/{user_id}/artifacts/{name}", err)
		return
	}
	s.writeJSON(w, "/{user_id}/artifacts/{name}", http.StatusOK, map[string]any{
		"artifact_id": name,
		"data":        base64.StdEncoding.EncodeToString(data),
		"encoding":    "base64",
	})
}
