package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/logger"
)

type Handler struct {
	mutator ingestion.Mutator
	logger  *slog.Logger
}

func New(m ingestion.Mutator) *Handler {
	return &Handler{
		mutator: m,
		logger:  slog.Default().With("component", "ingestion-handler"),
	}
}

// Index serves POST /index.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.mutateDocument(w, r, ingestion.OpIndex)
}

// Update serves POST /update.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	h.mutateDocument(w, r, ingestion.OpUpdate)
}

// Delete serves DELETE /delete?id=.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, ingestion.MutationEvent{
		Op: ingestion.OpDelete,
		ID: r.URL.Query().Get("id"),
	})
}

func (h *Handler) mutateDocument(w http.ResponseWriter, r *http.Request, op ingestion.Op) {
	var doc document.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	h.apply(w, r, ingestion.MutationEvent{Op: op, Document: &doc})
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, ev ingestion.MutationEvent) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	ev.RequestID = logger.RequestID(ctx)
	ev.At = time.Now().UTC()

	if err := validator.ValidateMutation(&ev); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := ingestion.Apply(ctx, h.mutator, ev)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("mutation failed",
			"op", ev.Op,
			"doc_id", ev.Key(),
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, err.Error())
		return
	}
	log.Debug("mutation accepted", "op", ev.Op, "doc_id", ev.Key())
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
