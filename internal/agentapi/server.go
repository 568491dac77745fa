package agentapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/agent"
	"github.com/codexec/codexec/internal/apperrors"
)

const serviceName = "agent-api"

// Runner executes one chat turn and streams events. Implemented by the
// agent manager.
type Runner interface {
	Run(ctx context.Context, userID, model, userMessage string) (<-chan agent.Event, error)
}

// Config carries the server's wiring.
type Config struct {
	DefaultModel string
	MCPBaseURL   string
	MCPHealthURL string
}

// Server is the OpenAI-compatible HTTP front of the agent.
type Server struct {
	runner Runner
	cfg    Config
	http   *http.Client
	log    *zap.Logger
}

func New(runner Runner, cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		runner: runner,
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/models", s.handleListModels).Methods(http.MethodGet)
	r.HandleFunc("/v1/chat/completions", s.handleChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/artifacts/{user_id}", s.handleListArtifacts).Methods(http.MethodGet)
	r.HandleFunc("/artifacts/{user_id}/{artifact_id}", s.handleDownloadArtifact).Methods(http.MethodGet)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeAPIError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, ErrorFrame{Error: ErrorBody{Message: message, Type: "invalid_request_error"}})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":        "Code Execution Agent API",
		"version":     "1.0.0",
		"description": "OpenAI-compatible API for code execution agents",
		"endpoints": map[string]string{
			"health": "/health",
			"models": "/v1/models",
			"chat":   "/v1/chat/completions",
		},
		"default_model": s.cfg.DefaultModel,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.toolServerHealthy(r.Context())
	status := "healthy"
	if !connected {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":               status,
		"service":              serviceName,
		"mcp_server_connected": connected,
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) toolServerHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.MCPHealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Warn("tool server health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ModelList{
		Object: "list",
		Data: []ModelInfo{{
			ID:      s.cfg.DefaultModel,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: modelOwner(s.cfg.DefaultModel),
		}},
	})
}

func modelOwner(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	default:
		return "organization"
	}
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAPIError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Stream {
		s.writeAPIError(w, http.StatusBadRequest, "Only streaming responses are supported. Set stream=true")
		return
	}
	if len(req.Messages) == 0 {
		s.writeAPIError(w, http.StatusBadRequest, "No messages provided")
		return
	}

	userID := req.User
	if userID == "" {
		userID = "user-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	model := req.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}
	userMessage := req.Messages[len(req.Messages)-1].Content

	s.log.Info("chat completion request",
		zap.String("user_id", userID),
		zap.String("model", model))

	events, err := s.runner.Run(r.Context(), userID, model, userMessage)
	if err != nil {
		s.writeJSON(w, apperrors.HTTPStatus(err), ErrorFrame{Error: ErrorBody{
			Message: err.Error(),
			Type:    "internal_error",
		}})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeAPIError(w, http.StatusInternalServerError, "streaming unsupported by transport")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	conv := newConverter(model)
	writeFrame := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			s.log.Warn("failed to marshal SSE frame", zap.Error(err))
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for ev := range events {
		if ee, isErr := ev.(agent.ErrorEvent); isErr {
			s.log.Warn("agent run errored",
				zap.String("user_id", userID),
				zap.String("kind", string(ee.Kind)))
			writeFrame(ErrorFrame{Error: ErrorBody{Message: ee.Message, Type: "internal_error"}})
			break
		}
		for _, chunk := range conv.convert(ev) {
			writeFrame(chunk)
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	s.log.Info("chat completion finished", zap.String("user_id", userID))
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["user_id"]
	url := fmt.Sprintf("%s/%s/artifacts", s.cfg.MCPBaseURL, uid)

	body, code, err := s.proxyGet(r.Context(), url)
	if err != nil {
		s.writeAPIError(w, http.StatusInternalServerError, "Failed to list artifacts: "+err.Error())
		return
	}
	if code != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		w.Write(body)
		return
	}

	var data struct {
		Artifacts []string `json:"artifacts"`
		Count     int      `json:"count"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		s.writeAPIError(w, http.StatusInternalServerError, "invalid tool server response")
		return
	}
	if data.Artifacts == nil {
		data.Artifacts = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"artifacts": data.Artifacts,
		"count":     data.Count,
	})
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uid, artifactID := vars["user_id"], vars["artifact_id"]
	url := fmt.Sprintf("%s/%s/artifacts/%s", s.cfg.MCPBaseURL, uid, artifactID)

	body, code, err := s.proxyGet(r.Context(), url)
	if err != nil {
		s.writeAPIError(w, http.StatusInternalServerError, "Failed to download artifact: "+err.Error())
		return
	}
	if code != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		w.Write(body)
		return
	}

	var data struct {
		ArtifactID string `json:"artifact_id"`
		Data       string `json:"data"`
		Encoding   string `json:"encoding"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		s.writeAPIError(w, http.StatusInternalServerError, "invalid tool server response")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		s.writeAPIError(w, http.StatusInternalServerError, "artifact payload is not valid base64")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifactID))
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) proxyGet(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
