// Package api exposes the bonding and memory engines over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/evermind-ai/companion/pkg/bonding"
	"github.com/evermind-ai/companion/pkg/model"
)

const (
	defaultTopK                 = 5
	maxTopK                     = 20
	defaultConsolidateThreshold = 0.8
)

// Server holds the handler dependencies.
type Server struct {
	bonding model.BondingService
	memory  model.MemoryService
	logger  *slog.Logger
}

// New creates the HTTP server facade.
func New(bondingSvc model.BondingService, memorySvc model.MemoryService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &Server{bonding: bondingSvc, memory: memorySvc, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/bonding-status", s.handleGetBondingStatus)
	r.Put("/bonding-status", s.handleUpdatePersona)
	r.Post("/bonding/interaction", s.handleRecordInteraction)
	r.Get("/bonding/milestones", s.handleMilestones)

	r.Post("/memory/store", s.handleStoreMemory)
	r.Get("/memory/recall", s.handleRecall)
	r.Get("/memory/proactive-recall", s.handleProactiveRecall)
	r.Post("/memory/consolidate", s.handleConsolidate)

	return r
}

func (s *Server) handleGetBondingStatus(w http.ResponseWriter, req *http.Request) {
	userID := req.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, model.InvalidArgumentf("user_id is required"))
		return
	}
	status, err := s.bonding.GetStatus(req.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type personaRequest struct {
	UserID string `json:"user_id"`
	model.PersonaUpdate
}

func (s *Server) handleUpdatePersona(w http.ResponseWriter, req *http.Request) {
	var in personaRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		s.writeError(w, model.InvalidArgumentf("decode request: %v", err))
		return
	}
	if in.UserID == "" {
		s.writeError(w, model.InvalidArgumentf("user_id is required"))
		return
	}
	status, err := s.bonding.UpdatePersona(req.Context(), in.UserID, in.PersonaUpdate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type interactionRequest struct {
	UserID          string  `json:"user_id"`
	DurationMinutes float64 `json:"duration_minutes"`
}

type interactionResponse struct {
	LeveledUp bool                 `json:"leveled_up"`
	Status    *model.BondingStatus `json:"status"`
}

func (s *Server) handleRecordInteraction(w http.ResponseWriter, req *http.Request) {
	var in interactionRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		s.writeError(w, model.InvalidArgumentf("decode request: %v", err))
		return
	}
	if in.UserID == "" {
		s.writeError(w, model.InvalidArgumentf("user_id is required"))
		return
	}
	status, leveledUp, err := s.bonding.RecordInteraction(req.Context(), in.UserID, in.DurationMinutes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, interactionResponse{LeveledUp: leveledUp, Status: status})
}

func (s *Server) handleMilestones(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"milestones": bonding.Milestones(),
	})
}

func (s *Server) handleStoreMemory(w http.ResponseWriter, req *http.Request) {
	var in model.StoreParams
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		s.writeError(w, model.InvalidArgumentf("decode request: %v", err))
		return
	}
	in.IdempotencyKey = req.Header.Get("Idempotency-Key")
	m, err := s.memory.Store(req.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleRecall(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		s.writeError(w, model.InvalidArgumentf("user_id is required"))
		return
	}
	topK := defaultTopK
	if raw := q.Get("top_k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, model.InvalidArgumentf("top_k must be an integer, got %q", raw))
			return
		}
		topK = v
	}
	if topK < 1 {
		topK = 1
	}
	if topK > maxTopK {
		topK = maxTopK
	}
	res, err := s.memory.Recall(req.Context(), userID, q.Get("query"), topK)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProactiveRecall(w http.ResponseWriter, req *http.Request) {
	userID := req.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, model.InvalidArgumentf("user_id is required"))
		return
	}
	res, err := s.memory.ProactiveRecall(req.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type consolidateRequest struct {
	UserID              string   `json:"user_id"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

func (s *Server) handleConsolidate(w http.ResponseWriter, req *http.Request) {
	var in consolidateRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		s.writeError(w, model.InvalidArgumentf("decode request: %v", err))
		return
	}
	if in.UserID == "" {
		s.writeError(w, model.InvalidArgumentf("user_id is required"))
		return
	}
	threshold := defaultConsolidateThreshold
	if in.SimilarityThreshold != nil {
		threshold = *in.SimilarityThreshold
	}
	report, err := s.memory.Consolidate(req.Context(), in.UserID, threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	var body errorBody
	body.Error.Kind = string(kind)
	body.Error.Message = err.Error()
	s.writeJSON(w, statusFor(kind), body)
}

func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindInvalidArgument:
		return http.StatusBadRequest
	case model.KindConflict:
		return http.StatusConflict
	case model.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
