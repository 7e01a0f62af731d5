package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/klauspost/compress/gzhttp"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/internal/ratelimiter"
	"github.com/marmos91/plevy/pkg/content"
	"github.com/marmos91/plevy/pkg/metrics"
	"github.com/marmos91/plevy/pkg/store/entry"
)

// SkippedHeader carries the number of stored records GET /entries could not
// decode and left out of the response.
const SkippedHeader = "X-Plevy-Skipped"

// EntryResponse is the wire form of a stored entry.
type EntryResponse struct {
	ID entry.ID `json:"id"`
	entry.Entry
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	entries      entry.Store
	metrics      metrics.APIMetrics
	maxBodyBytes int64
}

func newHandler(entries entry.Store, m metrics.APIMetrics, maxBodyBytes int64, limiter *ratelimiter.RateLimiter) http.Handler {
	h := &handler{entries: entries, metrics: m, maxBodyBytes: maxBodyBytes}

	mux := http.NewServeMux()
	h.handle(mux, "GET /health", h.handleHealth)
	h.handle(mux, "GET /entries", h.handleList)
	h.handle(mux, "POST /entries", h.handleCreate)
	h.handle(mux, "GET /entries/{id}", h.handleGet)

	return requestID(accessLog(rateLimit(limiter, gzhttp.GzipHandler(mux))))
}

// handle registers fn under pattern with per-route metrics.
func (h *handler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, observe(h.metrics, pattern, fn))
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.entries.List(r.Context())
	if err != nil {
		logRequest(r).Error("Failed to list entries: %v", err)
		writeError(w, statusFor(err), "failed to list entries")
		return
	}

	out := make([]EntryResponse, 0, len(records))
	skipped := 0
	for _, rec := range records {
		if !rec.OK() {
			logRequest(r).Warn("Skipping entry %d: %v", rec.ID, rec.Err)
			skipped++
			continue
		}
		out = append(out, EntryResponse{ID: rec.ID, Entry: rec.Entry})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	w.Header().Set(SkippedHeader, strconv.Itoa(skipped))
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var e entry.Entry
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "malformed entry: "+err.Error())
		return
	}

	if err := e.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref := content.Ref{SourceID: e.SourceID, Index: e.SourceIndex}
	if err := ref.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.entries.Add(r.Context(), e)
	if err != nil {
		logRequest(r).Error("Failed to add entry %q: %v", e.Name, err)
		writeError(w, statusFor(err), "failed to add entry")
		return
	}

	h.metrics.RecordEntryCreated()
	logRequest(r).Info("Created entry %d (%s)", id, e.Name)
	w.Header().Set("Location", "/entries/"+strconv.FormatUint(uint64(id), 10))
	writeJSON(w, http.StatusCreated, id)
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id "+strconv.Quote(raw))
		return
	}

	e, err := h.entries.Get(r.Context(), entry.ID(id))
	if err != nil {
		if !entry.IsNotFound(err) {
			logRequest(r).Error("Failed to get entry %d: %v", id, err)
		}
		writeError(w, statusFor(err), errorText(err, id))
		return
	}

	writeJSON(w, http.StatusOK, EntryResponse{ID: entry.ID(id), Entry: *e})
}

// statusFor maps entry store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case entry.IsNotFound(err):
		return http.StatusNotFound
	case entry.IsValidationError(err):
		return http.StatusBadRequest
	case entry.IsDecodeError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorText(err error, id uint64) string {
	switch {
	case entry.IsNotFound(err):
		return "entry " + strconv.FormatUint(id, 10) + " not found"
	case entry.IsDecodeError(err):
		return "entry " + strconv.FormatUint(id, 10) + " is malformed"
	default:
		return "failed to get entry"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
