package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
	"github.com/ricesearch/rankeval/internal/pkg/security"
)

// DefaultMaxBodyBytes bounds the size of an evaluation request.
const DefaultMaxBodyBytes = 32 << 20

// Handler provides HTTP handlers for evaluation.
type Handler struct {
	evaluator    *Evaluator
	log          *logger.Logger
	maxBodyBytes int64
}

// NewHandler creates a new evaluation handler.
func NewHandler(e *Evaluator, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		evaluator:    e,
		log:          log,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// RegisterRoutes registers evaluation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluation/mrr", h.handleMRR)
	mux.HandleFunc("POST /v1/evaluation/reciprocal-rank", h.handleReciprocalRank)
}

// MRRRequest is a batch plus option overrides, flattened into one object.
type MRRRequest struct {
	Batch
	Options
	PerQuery bool `json:"per_query,omitempty"`
}

// ReciprocalRankResponse is the score of a single query.
type ReciprocalRankResponse struct {
	ReciprocalRank float64 `json:"reciprocal_rank"`
}

func (h *Handler) handleMRR(w http.ResponseWriter, r *http.Request) {
	var req MRRRequest
	if err := h.decode(w, r, &req); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	result, err := h.evaluator.Evaluate(r.Context(), req.Batch, req.Options, req.PerQuery)
	if err != nil {
		h.log.WithContext(r.Context()).Debug("Evaluation rejected", "code", apperrors.Code(err), "error", security.SanitizeForLog(err.Error()))
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReciprocalRank(w http.ResponseWriter, r *http.Request) {
	var q Query
	if err := h.decode(w, r, &q); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	rr, err := h.evaluator.ReciprocalRank(q)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReciprocalRankResponse{ReciprocalRank: rr})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.InvalidRequestError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return apperrors.InvalidRequestError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
