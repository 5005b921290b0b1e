package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"freight-insights/internal/domain"
)

// listResponse is the common envelope for paginated list endpoints.
type listResponse struct {
	Data          interface{} `json:"data"`
	Total         int64       `json:"total"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

func pageFromQuery(r *http.Request) domain.PageRequest {
	p := domain.PageRequest{PageToken: r.URL.Query().Get("page_token")}
	if v := r.URL.Query().Get("max_results"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.MaxResults = n
		}
	}
	return p
}

func (h *Handler) createQuery(w http.ResponseWriter, r *http.Request) {
	var def domain.QueryDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	created, err := h.queries.CreateDefinition(r.Context(), &def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listQueries(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	defs, total, err := h.queries.ListDefinitions(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:          defs,
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	})
}

func (h *Handler) getQuery(w http.ResponseWriter, r *http.Request) {
	def, err := h.queries.GetDefinition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) updateQuery(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	updated, err := h.queries.UpdateDefinition(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteQuery(w http.ResponseWriter, r *http.Request) {
	if err := h.queries.DeleteDefinition(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// executeRequest selects the execution mode for a stored definition.
type executeRequest struct {
	Parameters domain.RuntimeParameters `json:"parameters,omitempty"`
	// Mode is "rows" (default), "paginated", or "stream".
	Mode     string `json:"mode,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
}

func (h *Handler) executeQuery(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.ErrValidation("invalid request body: %v", err))
			return
		}
	}

	def, err := h.queries.GetDefinition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	switch req.Mode {
	case "", "rows":
		res, err := h.queries.Execute(r.Context(), def, req.Parameters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "paginated":
		res, err := h.queries.ExecutePaginated(r.Context(), def, req.Parameters, req.Page, req.PageSize)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "stream":
		h.streamQuery(w, r, def, req.Parameters)
	default:
		writeError(w, domain.ErrValidation("unknown execution mode %q", req.Mode))
	}
}

// streamQuery writes one JSON object per row (NDJSON). Rows are emitted as
// they arrive from the warehouse; an error after the first row can only be
// reported by cutting the stream short.
func (h *Handler) streamQuery(w http.ResponseWriter, r *http.Request, def *domain.QueryDefinition, params domain.RuntimeParameters) {
	it, err := h.queries.ExecuteStream(r.Context(), def, params)
	if err != nil {
		writeError(w, err)
		return
	}
	defer it.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	columns := it.Columns()
	for it.Next() {
		row := it.Row()
		obj := make(map[string]interface{}, len(columns))
		for i, c := range columns {
			if i < len(row) {
				obj[c] = row[i]
			}
		}
		if err := enc.Encode(obj); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := it.Err(); err != nil {
		h.logger.Error("row stream aborted", "query_id", def.ID, "error", err)
	}
}

// invalidateRequest names the cache pattern to drop.
type invalidateRequest struct {
	Pattern string `json:"pattern"`
}

func (h *Handler) invalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if req.Pattern == "" {
		writeError(w, domain.ErrValidation("pattern must not be empty"))
		return
	}
	n, err := h.queries.Invalidate(r.Context(), req.Pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}
