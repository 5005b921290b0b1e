package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"freight-insights/internal/domain"
)

func (h *Handler) createExport(w http.ResponseWriter, r *http.Request) {
	var spec domain.ExportSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}

	// ?sync=true renders inline and returns a terminal job.
	if r.URL.Query().Get("sync") == "true" {
		job, err := h.exports.CreateAndProcess(r.Context(), spec)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
		return
	}

	job, err := h.exports.Create(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.queue != nil {
		if err := h.queue.Enqueue(job.ID); err != nil {
			// The job is durable; it will be picked up on the next restart
			// or by an explicit process call.
			h.logger.Warn("export job not enqueued", "job_id", job.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	jobs, total, err := h.exports.ListJobs(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:          jobs,
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	})
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	job, err := h.exports.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) processExport(w http.ResponseWriter, r *http.Request) {
	job, err := h.exports.Process(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) deleteExport(w http.ResponseWriter, r *http.Request) {
	if err := h.exports.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) downloadExport(w http.ResponseWriter, r *http.Request) {
	art, err := h.exports.Artifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", art.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+art.FileName+`"`)
	http.ServeFile(w, r, art.FilePath)
}
