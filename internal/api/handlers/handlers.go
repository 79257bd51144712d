// Package handlers implements the HTTP handlers for the Whisker chat
// service: single-shot chat, the multi-phase ultra pipeline, pro-max
// dual invocation, SSE sessions and usage stats.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smartcathome/whisker/internal/api/middleware"
	"github.com/smartcathome/whisker/internal/chat"
	"github.com/smartcathome/whisker/internal/config"
	"github.com/smartcathome/whisker/internal/policy"
	"github.com/smartcathome/whisker/internal/promax"
	"github.com/smartcathome/whisker/internal/stats"
	"github.com/smartcathome/whisker/internal/stream"
	"github.com/smartcathome/whisker/internal/ultra"
	"github.com/smartcathome/whisker/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Config  *config.Config
	Chat    *chat.Service
	Ultra   *ultra.Orchestrator
	ProMax  *promax.Runner
	Streams *stream.Pool
	Sink    *stats.Sink
}

// New creates a Handlers instance with all dependencies.
func New(cfg *config.Config, chatSvc *chat.Service, orch *ultra.Orchestrator, pm *promax.Runner, pool *stream.Pool, sink *stats.Sink) *Handlers {
	return &Handlers{
		Config:  cfg,
		Chat:    chatSvc,
		Ultra:   orch,
		ProMax:  pm,
		Streams: pool,
		Sink:    sink,
	}
}

// ── Chat ─────────────────────────────────────────────────────

type chatRequest struct {
	Message      string               `json:"message"`
	History      []models.ChatMessage `json:"history,omitempty"`
	Tier         models.Tier          `json:"tier,omitempty"`
	EnableSearch bool                 `json:"enable_search,omitempty"`
	RequestID    string               `json:"request_id,omitempty"`
}

// PostChat handles POST /api/v1/chat.
func (h *Handlers) PostChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "Request must include a non-empty 'message' field")
		return
	}
	if req.Tier != "" && req.Tier != models.TierStandard && req.Tier != models.TierPro {
		respondError(w, http.StatusBadRequest, "Unknown tier: "+string(req.Tier))
		return
	}

	resp, err := h.Chat.Respond(r.Context(), chat.Request{
		RequestID:    req.RequestID,
		Message:      req.Message,
		History:      req.History,
		Tier:         req.Tier,
		Language:     middleware.GetLanguage(r.Context()),
		EnableSearch: req.EnableSearch,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── Ultra ────────────────────────────────────────────────────

type ultraRequest struct {
	Message      string `json:"message"`
	Context      string `json:"context,omitempty"`
	EnableSearch bool   `json:"enable_search,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// PostUltra handles POST /api/v1/chat/ultra. When connection_id names a
// live SSE session, phases, tokens and tool events stream to it while
// the pipeline runs; the full result is still returned in the response.
func (h *Handlers) PostUltra(w http.ResponseWriter, r *http.Request) {
	var req ultraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "Request must include a non-empty 'message' field")
		return
	}

	lang := middleware.GetLanguage(r.Context())
	if lang == "" {
		lang = models.DetectLanguage(req.Message)
	}
	if decision := policy.CheckInput(req.Message, lang); decision != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"content": decision.Message,
			"blocked": true,
			"reason":  decision.Reason,
		})
		return
	}

	ultraReq := ultra.Request{
		RequestID:      req.RequestID,
		Prompt:         req.Message,
		Language:       lang,
		EnableSearch:   req.EnableSearch,
		ContextSummary: req.Context,
	}

	var result *models.UltraResult
	var err error
	if conn, ok := h.Streams.Get(req.ConnectionID); ok {
		result, err = h.Ultra.RunStreaming(r.Context(), ultraReq, conn)
		if err != nil {
			conn.SendError(err.Error(), "ultra_failed")
		} else {
			conn.SendDone(result)
		}
	} else {
		result, err = h.Ultra.Run(r.Context(), ultraReq)
	}
	if err != nil {
		log.Error().Str("request_id", req.RequestID).Err(err).Msg("ultra run failed")
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Pro-Max ──────────────────────────────────────────────────

type proMaxRequest struct {
	Message      string `json:"message"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// PostProMax handles POST /api/v1/chat/promax.
func (h *Handlers) PostProMax(w http.ResponseWriter, r *http.Request) {
	var req proMaxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "Request must include a non-empty 'message' field")
		return
	}

	lang := middleware.GetLanguage(r.Context())
	if lang == "" {
		lang = models.DetectLanguage(req.Message)
	}
	if decision := policy.CheckInput(req.Message, lang); decision != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"content": decision.Message,
			"blocked": true,
			"reason":  decision.Reason,
		})
		return
	}

	var conn *stream.Connection
	if req.ConnectionID != "" {
		conn, _ = h.Streams.Get(req.ConnectionID)
	}

	result, err := h.ProMax.Run(r.Context(), promax.Request{
		RequestID:    req.RequestID,
		Prompt:       req.Message,
		SystemPrompt: req.SystemPrompt,
		Language:     lang,
		MaxTokens:    req.MaxTokens,
	}, conn)
	if err != nil {
		if conn != nil {
			conn.SendError(err.Error(), "promax_failed")
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if conn != nil {
		conn.SendDone(result)
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Streaming ────────────────────────────────────────────────

// GetStream handles GET /api/v1/stream/{connectionID}. The response
// stays open, delivering SSE events, until the session is closed by a
// pipeline finishing or the client going away.
func (h *Handlers) GetStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connectionID")
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := h.Streams.Create(w, id)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	log.Info().Str("connection", id).Int("active", h.Streams.Count()).Msg("sse session opened")

	select {
	case <-r.Context().Done():
		h.Streams.CloseConnection(id)
	case <-conn.Done():
	}
	log.Info().Str("connection", id).Msg("sse session closed")
}

// ── Stats ────────────────────────────────────────────────────

// GetStats handles GET /api/v1/stats.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	snap := h.Sink.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"invocations":    snap.Invocations,
		"degraded":       snap.Degraded,
		"tool_calls":     snap.ToolCalls,
		"tool_errors":    snap.ToolErrors,
		"recent":         snap.Recent,
		"active_streams": h.Streams.Count(),
	})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
