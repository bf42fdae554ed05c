package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"photo-organizer/export/internal/archive"
	"photo-organizer/export/internal/catalog"
	"photo-organizer/export/internal/export"
	"photo-organizer/export/internal/jobs"
	"photo-organizer/export/internal/render"
)

var streamFolderZip = archive.WriteZip

type exportRequestBody struct {
	AlbumID         *int64  `json:"album_id"`
	ImageIDs        []int64 `json:"image_ids"`
	ExportFormat    string  `json:"export_format"`
	Quality         string  `json:"quality"`
	IncludeMetadata *bool   `json:"include_metadata"`
	DestinationPath string  `json:"destination_path"`
}

func (st *appState) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/export").Subrouter()
	api.HandleFunc("", st.handleExportCreate).Methods(http.MethodPost)
	api.HandleFunc("/", st.handleExportCreate).Methods(http.MethodPost)
	api.HandleFunc("/jobs", st.handleJobsList).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}", st.handleJobGet).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}", st.handleJobDelete).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{job_id}/cancel", st.handleJobCancel).Methods(http.MethodPost)
	api.HandleFunc("/download/{job_id}", st.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/cleanup", st.handleCleanup).Methods(http.MethodPost)
	return r
}

func (st *appState) handleExportCreate(w http.ResponseWriter, r *http.Request) {
	var body exportRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	includeMetadata := true
	if body.IncludeMetadata != nil {
		includeMetadata = *body.IncludeMetadata
	}

	job, err := st.orch.Submit(r.Context(), export.Request{
		AlbumID:         body.AlbumID,
		ImageIDs:        body.ImageIDs,
		Format:          archive.Format(body.ExportFormat),
		Quality:         render.Tier(body.Quality),
		IncludeMetadata: includeMetadata,
		DestinationPath: body.DestinationPath,
	})
	switch {
	case errors.Is(err, export.ErrNoImagesSelected), errors.Is(err, export.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, catalog.ErrAlbumNotFound):
		writeError(w, http.StatusNotFound, "Album not found")
		return
	case err != nil:
		logger.Error("failed to create export job", "request_id", requestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create export job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": fmt.Sprintf("Export job created with %d images", job.TotalImages),
	})
}

func (st *appState) handleJobsList(w http.ResponseWriter, r *http.Request) {
	all, err := st.orch.List(r.Context())
	if err != nil {
		logger.Error("failed to list export jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list export jobs")
		return
	}
	items := make([]jobResponse, 0, len(all))
	for _, j := range all {
		items = append(items, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": items})
}

func (st *appState) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, err := st.orch.Status(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		st.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (st *appState) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	job, err := st.orch.Cancel(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		st.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (st *appState) handleJobDelete(w http.ResponseWriter, r *http.Request) {
	if err := st.orch.Delete(r.Context(), mux.Vars(r)["job_id"]); err != nil {
		st.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Export job deleted"})
}

func (st *appState) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["job_id"]
	art, err := st.orch.Download(r.Context(), id)
	if err != nil {
		st.writeJobError(w, err)
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	if art.IsDir {
		if err := streamFolderZip(w, art.Path); err != nil {
			logger.Error("folder export stream failed", "request_id", requestID(r.Context()), "job_id", id, "error", err)
			// The status line is already sent; drop the connection so the
			// client does not take a truncated zip for a complete one.
			panic(http.ErrAbortHandler)
		}
		return
	}

	f, err := os.Open(art.Path)
	if err != nil {
		w.Header().Del("Content-Disposition")
		writeError(w, http.StatusNotFound, export.ErrArtifactMissing.Error())
		return
	}
	defer f.Close()
	http.ServeContent(w, r, art.Name, art.ModTime, f)
}

func (st *appState) handleCleanup(w http.ResponseWriter, r *http.Request) {
	hours := parsePositiveInt(r.URL.Query().Get("max_age_hours"), st.cfg.RetentionHours)
	res, err := st.orch.Cleanup(time.Duration(hours) * time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Cleanup failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Cleanup completed",
		"deleted":     len(res.Deleted),
		"freed_bytes": res.FreedBytes,
		"errors":      len(res.Errors),
	})
}

func (st *appState) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Export job not found")
	case errors.Is(err, export.ErrJobNotReady):
		writeError(w, http.StatusBadRequest, "Export not completed yet")
	case errors.Is(err, export.ErrArtifactMissing):
		writeError(w, http.StatusNotFound, "Export file not found")
	case errors.Is(err, jobs.ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("export job request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
