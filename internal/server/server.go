// Package server exposes the sandbox over HTTP/JSON: tool dispatch, the
// episode call log, scenario activation, and scoring.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trajectoryRL/trajectory-sandbox/internal/auth"
	"github.com/trajectoryRL/trajectory-sandbox/internal/fixtures"
	"github.com/trajectoryRL/trajectory-sandbox/internal/recorder"
	"github.com/trajectoryRL/trajectory-sandbox/internal/rubric"
	"github.com/trajectoryRL/trajectory-sandbox/internal/scenario"
	"github.com/trajectoryRL/trajectory-sandbox/internal/scoring"
	"github.com/trajectoryRL/trajectory-sandbox/internal/storage"
)

// Server wires the registry, authenticator, and event writer behind the
// HTTP surface.
type Server struct {
	registry *scenario.Registry
	auth     auth.Authenticator
	writer   storage.EventWriter
	logger   *zap.Logger
	audit    auditTrail
}

// New creates a Server with the given dependencies.
func New(reg *scenario.Registry, authenticator auth.Authenticator, writer storage.EventWriter, logger *zap.Logger) *Server {
	return &Server{
		registry: reg,
		auth:     authenticator,
		writer:   writer,
		logger:   logger,
	}
}

// Handler returns the route table. Liveness and the tool inventory are
// open; everything that touches episode state is authenticated.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("POST /tools/{name}", s.audited(s.authed(s.handleDispatch)))
	mux.HandleFunc("GET /calls", s.authed(s.handleCalls))
	mux.HandleFunc("GET /calls/export", s.authed(s.handleCallsExport))
	mux.HandleFunc("GET /requests", s.authed(s.handleRequests))
	mux.HandleFunc("POST /scenario/{id}", s.authed(s.handleActivate))
	mux.HandleFunc("POST /context", s.authed(s.handleContext))
	mux.HandleFunc("POST /score", s.authed(s.handleScore))
	return mux
}

type projectKey struct{}

func contextWithProject(ctx context.Context, p *auth.ProjectContext) context.Context {
	return context.WithValue(ctx, projectKey{}, p)
}

func projectFromContext(ctx context.Context) *auth.ProjectContext {
	p, _ := ctx.Value(projectKey{}).(*auth.ProjectContext)
	return p
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := s.auth.Authenticate(r.Context(), r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		ctx := contextWithProject(r.Context(), project)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleTools reports the active scenario's tool allow-list.
func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	active := s.registry.Active()
	if active == nil {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": "", "tools": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario": active.Scenario.Name,
		"tools":    active.Scenario.Tools,
	})
}

// handleDispatch resolves one tool call against the active episode. The
// pipeline snapshots the episode once, so a concurrent scenario switch never
// splits a dispatch across two episodes. An unrecognized tool still resolves
// (flagged fallback) and is still recorded.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	active := s.registry.Active()
	if active == nil {
		writeError(w, http.StatusConflict, "no active scenario")
		return
	}

	tool := r.PathValue("name")
	// An empty body means no arguments.
	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "request body is not a JSON object")
		return
	}

	res := active.Resolver.Resolve(tool, args, active.UserContext())
	seq := active.Recorder.Record(recorder.Call{
		Tool:         tool,
		Args:         args,
		Response:     res.Body,
		Irreversible: res.Irreversible,
		Fallback:     res.Fallback,
	})

	requestID := uuid.New().String()
	latencyMs := float32(float64(time.Since(start)) / float64(time.Millisecond))

	// Fire-and-forget: write event
	s.writeEvent(r, active, requestID, tool, args, res.Body, seq, res.Irreversible, res.Fallback, latencyMs)

	writeJSON(w, http.StatusOK, map[string]any{
		"result":       res.Body,
		"irreversible": res.Irreversible,
		"fallback":     res.Fallback,
		"seq":          seq,
		"request_id":   requestID,
	})
}

func (s *Server) handleCalls(w http.ResponseWriter, _ *http.Request) {
	active := s.registry.Active()
	if active == nil {
		writeError(w, http.StatusConflict, "no active scenario")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"episode_id": active.EpisodeID,
		"scenario":   active.Scenario.Name,
		"calls":      active.Recorder.Calls(),
	})
}

func (s *Server) handleCallsExport(w http.ResponseWriter, _ *http.Request) {
	active := s.registry.Active()
	if active == nil {
		writeError(w, http.StatusConflict, "no active scenario")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	if err := active.Recorder.WriteJSONL(w); err != nil {
		s.logger.Warn("call log export failed", zap.Error(err))
	}
}

// handleActivate swaps the active scenario. Activation is all-or-nothing:
// any load or validation failure leaves the previous episode running.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	active, err := s.registry.Activate(id)
	if err != nil {
		var verr *rubric.ValidationError
		var nferr *fixtures.NotFoundError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    "scenario definition invalid",
				"scenario": verr.Scenario,
				"problems": verr.Problems,
			})
		case errors.As(err, &nferr):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    "required fixture missing",
				"scenario": nferr.Scenario,
				"fixture":  nferr.Name,
			})
		case errors.Is(err, fs.ErrNotExist):
			writeError(w, http.StatusNotFound, "scenario not found")
		default:
			s.logger.Error("scenario activation failed", zap.String("scenario", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "activation failed")
		}
		return
	}

	s.audit.reset()
	s.logger.Info("scenario activated",
		zap.String("scenario", active.Scenario.Name),
		zap.String("episode_id", active.EpisodeID),
		zap.Uint64("version", active.Version),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario":   active.Scenario.Name,
		"episode_id": active.EpisodeID,
		"version":    active.Version,
		"prompt":     active.Scenario.Prompt,
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	active := s.registry.Active()
	if active == nil {
		writeError(w, http.StatusConflict, "no active scenario")
		return
	}
	var ctx map[string]string
	if err := json.NewDecoder(r.Body).Decode(&ctx); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not a JSON object of strings")
		return
	}
	active.SetUserContext(ctx)
	writeJSON(w, http.StatusOK, map[string]any{"context": active.UserContext()})
}

// handleScore scores the active episode's log. The report is returned even
// when individual checks failed to evaluate; those failures ride along on
// the check outcomes.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	active := s.registry.Active()
	if active == nil {
		writeError(w, http.StatusConflict, "no active scenario")
		return
	}
	var body struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not a JSON object")
		return
	}

	log := active.Recorder.Snapshot(body.Response)
	report, err := scoring.Score(active.Scenario.Rubric, log)
	if err != nil {
		s.logger.Warn("some checks failed to evaluate",
			zap.String("scenario", active.Scenario.Name),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) writeEvent(r *http.Request, active *scenario.Active, requestID, tool string, args, response map[string]any, seq int, irreversible, fallback bool, latencyMs float32) {
	argsJSON, _ := json.Marshal(args)
	responseJSON, _ := json.Marshal(response)

	var projectID string
	if project := projectFromContext(r.Context()); project != nil {
		projectID = project.ProjectID
	}

	s.writer.Write(&storage.DispatchEvent{
		RequestID:    requestID,
		EpisodeID:    active.EpisodeID,
		Scenario:     active.Scenario.Name,
		ProjectID:    projectID,
		Timestamp:    time.Now().UTC(),
		Seq:          int32(seq),
		Tool:         tool,
		ArgsJSON:     string(argsJSON),
		ResponseJSON: string(responseJSON),
		Irreversible: irreversible,
		Fallback:     fallback,
		LatencyMs:    latencyMs,
		Source:       "http",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
