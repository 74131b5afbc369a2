// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"nubia/internal/consumer"
	"nubia/internal/event"
	"nubia/internal/projection"
	"nubia/internal/router"
)

// Handler is the transport collaborator surface. POST /events applies an
// envelope synchronously and maps the typed failure to a protocol
// rejection; POST /ingest hands the envelope to the bus consumer and
// acknowledges with 202; the GET routes are read-only projection queries.
type Handler struct {
	service projection.Service
	router  *router.Router
	ingest  consumer.ChanSource
	logger  *zap.Logger
}

// New creates the HTTP handler. ingest may be nil when no consumer loop
// is wired; the /ingest route then answers 503.
func New(service projection.Service, r *router.Router, ingest consumer.ChanSource, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		router:  r,
		ingest:  ingest,
		logger:  logger,
	}
}

// Routes assembles the chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Post("/events", h.handleEvent)
	r.Post("/ingest", h.handleIngest)
	r.Get("/accounts/{id}", h.handleGetAccount)
	r.Get("/accounts/{id}/library", h.handleGetLibrary)
	r.Get("/items/{id}", h.handleGetItem)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var env event.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.router.Route(r.Context(), env)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if h.ingest == nil {
		http.Error(w, "ingest unavailable", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg := consumer.Message{
		ID:    uuid.New(),
		Topic: r.URL.Query().Get("topic"),
		Key:   r.Header.Get("X-Partition-Key"),
		Value: body,
	}
	if err := h.ingest.Enqueue(r.Context(), msg); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"deliveryId": msg.ID.String()})
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	library, err := h.service.GetLibrary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, library)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// failureResponse is the wire form of a rejected event.
type failureResponse struct {
	Error    string `json:"error"`
	Field    string `json:"field,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Expected int    `json:"expected,omitempty"`
	Received int    `json:"received,omitempty"`
}

// writeFailure maps the error taxonomy onto protocol rejections:
// malformed envelopes and validation failures are 400, missing records
// 404, out-of-order and duplicate deliveries 409.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	resp := failureResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var validation *projection.ValidationError
	var outOfOrder *projection.OutOfOrderError
	switch {
	case errors.Is(err, event.ErrMissingKind):
		status = http.StatusBadRequest
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		resp.Field = validation.Field
	case errors.As(err, &outOfOrder):
		status = http.StatusConflict
		resp.Kind = outOfOrder.Kind
		resp.Expected = outOfOrder.Expected
		resp.Received = outOfOrder.Received
	case errors.Is(err, projection.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, projection.ErrDuplicate):
		status = http.StatusConflict
	default:
		h.logger.Error("unhandled failure", zap.Error(err))
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
