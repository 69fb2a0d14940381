package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"mirlo/cache"
	"mirlo/core/archive"
	"mirlo/core/fulfillment"
	"mirlo/logger"
	"mirlo/model"

	"github.com/gorilla/mux"
)

// headerUnsafe matches bytes that must never reach an HTTP header from
// user-influenced text: control characters, quotes, backslashes and
// separator characters. Track and release titles are artist-supplied.
var headerUnsafe = regexp.MustCompile("[\x00-\x1f\x7f\"\\\\;]")

// sanitizeHeaderValue strips header-unsafe bytes from a display name before
// it is placed in a Content-Disposition header.
func sanitizeHeaderValue(s string) string {
	s = headerUnsafe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func contentTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".zip"):
		return "application/zip"
	case strings.HasSuffix(filename, ".flac"):
		return "audio/flac"
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(filename, ".opus"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// DownloadTrackGroupHandler serves GET /api/trackGroups/{id}/download.
func (h *APIHandler) DownloadTrackGroupHandler(w http.ResponseWriter, r *http.Request) {
	h.handleDownload(w, r, model.TargetTrackGroup)
}

// DownloadTrackHandler serves GET /api/tracks/{id}/download.
func (h *APIHandler) DownloadTrackHandler(w http.ResponseWriter, r *http.Request) {
	h.handleDownload(w, r, model.TargetTrack)
}

func (h *APIHandler) handleDownload(w http.ResponseWriter, r *http.Request, kind model.TargetKind) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return
	}

	format, err := model.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	target := model.Target{Kind: kind, ID: id}
	identity := identityFromRequest(r)

	outcome, err := h.fulfillment.RequestDownload(r.Context(), target, identity, format)
	if err != nil {
		h.writeDownloadError(w, target, err)
		return
	}

	if !outcome.Ready {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"message": "Generating download archive",
			"result":  map[string]interface{}{"jobId": outcome.JobID},
		})
		return
	}

	h.streamArtifact(w, r, outcome)
}

func (h *APIHandler) writeDownloadError(w http.ResponseWriter, target model.Target, err error) {
	switch {
	case errors.Is(err, fulfillment.ErrNotEntitled),
		errors.Is(err, fulfillment.ErrArtifactUnavailable):
		// Uniform response: no distinction between "doesn't exist" and
		// "not yours".
		http.Error(w, "Not found", http.StatusNotFound)
	default:
		logger.Error("download request failed",
			logger.String("target", fmt.Sprintf("%s/%d", target.Kind, target.ID)),
			logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *APIHandler) streamArtifact(w http.ResponseWriter, r *http.Request, outcome *fulfillment.Outcome) {
	rc, err := h.store.Get(r.Context(), outcome.Bucket, outcome.Key)
	if err != nil {
		logger.Error("failed to open artifact stream",
			logger.String("key", outcome.Key),
			logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	filename := sanitizeHeaderValue(outcome.Filename)
	if filename == "" {
		filename = "download"
	}

	w.Header().Set("Content-Type", contentTypeFor(outcome.Filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if _, err := io.Copy(w, rc); err != nil {
		// Response already partially written; nothing to send but a log.
		logger.Warn("artifact stream interrupted",
			logger.String("key", outcome.Key),
			logger.ErrorField(err))
	}
}

// GenerateTrackGroupHandler serves POST /api/trackGroups/{id}/generate:
// trigger a build without streaming a response.
func (h *APIHandler) GenerateTrackGroupHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return
	}

	format, err := model.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	target := model.Target{Kind: model.TargetTrackGroup, ID: id}
	identity := identityFromRequest(r)

	jobID, generated, err := h.fulfillment.Generate(r.Context(), target, identity, format)
	if err != nil {
		h.writeDownloadError(w, target, err)
		return
	}

	if generated {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"result": map[string]interface{}{"generated": true},
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Generating download archive",
		"result":  map[string]interface{}{"jobId": jobID},
	})
}

// DownloadStatusHandler serves GET /api/trackGroups/{id}/download-status:
// poll the build state for one (release, format) pair. Release ids are
// guessable, so the poll carries the same entitlement requirement and
// uniform denial as the download itself; otherwise it would leak which
// artifacts exist. An artifact already in storage reports completed even
// when no build state survives in the cache (states expire, artifacts do
// not).
func (h *APIHandler) DownloadStatusHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return
	}

	format, err := model.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	target := model.Target{Kind: model.TargetTrackGroup, ID: id}

	claims, ok := sessionClaims(r)
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if _, err := h.fulfillment.ResolveForUser(r.Context(), claims.UserID, claims.IsAdmin, target); err != nil {
		h.writeDownloadError(w, target, err)
		return
	}

	state, found, err := h.status.TargetState(r.Context(), target, format)
	if err != nil {
		logger.Error("failed to read build state",
			logger.Int64("trackGroupId", id),
			logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if !found {
		exists, err := h.store.Exists(r.Context(), h.downloadsBucket, archive.ArtifactKey(id, format))
		if err != nil {
			logger.Error("failed to probe artifact",
				logger.Int64("trackGroupId", id),
				logger.ErrorField(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !exists {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		state = cache.BuildCompleted
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": map[string]interface{}{
			"trackGroupId": id,
			"format":       format.String(),
			"state":        string(state),
		},
	})
}

// JobStatusHandler serves GET /api/jobs/{id}: poll a build job's state.
// Job ids are unguessable uuids handed out only in 202 responses that
// already passed entitlement; possession of the id is the authorization.
// Anonymous token holders have spent their token by the time they poll, so
// no stronger check is possible here.
func (h *APIHandler) JobStatusHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]

	state, found, err := h.status.JobState(r.Context(), jobID)
	if err != nil {
		logger.Error("failed to read job state",
			logger.String("jobId", jobID),
			logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": map[string]interface{}{
			"jobId": jobID,
			"state": string(state),
		},
	})
}
