package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/recordings"
	"github.com/openvidu/openvidu-meet/internal/rooms"
)

const downloadURLTTL = 15 * time.Minute

type RecordingHandler struct {
	Service *recordings.Service
	Logger  *zap.Logger
}

func NewRecordingHandler(svc *recordings.Service, logger *zap.Logger) *RecordingHandler {
	return &RecordingHandler{Service: svc, Logger: logger}
}

// POST /internal-api/v1/recordings
func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var opts recordings.StartOptions
	if err := decodeBody(r, &opts); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	if opts.RoomID == "" {
		respondError(w, h.Logger, errs.Validation("roomId is required",
			errs.FieldError{Field: "roomId", Message: "must not be empty"}))
		return
	}
	rec, err := h.Service.Start(r.Context(), opts)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// POST /internal-api/v1/recordings/{recordingId}/stop
func (h *RecordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Stop(r.Context(), chi.URLParam(r, "recordingId"))
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// GET /api/v1/recordings?roomId=&maxItems=&nextPageToken=
func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	maxItems, err := queryInt(r, "maxItems")
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	page, err := h.Service.List(r.Context(), r.URL.Query().Get("roomId"), maxItems, r.URL.Query().Get("nextPageToken"))
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"recordings":    page.Recordings,
		"nextPageToken": page.NextPageToken,
	})
}

// GET /api/v1/recordings/{recordingId}
func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Get(r.Context(), chi.URLParam(r, "recordingId"))
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// DELETE /api/v1/recordings/{recordingId}
func (h *RecordingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "recordingId")); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"code": "RECORDING_DELETED"})
}

// DELETE /api/v1/recordings?recordingIds=a,b,c
func (h *RecordingHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ids := rooms.ParseCSV(r.URL.Query().Get("recordingIds"))
	if len(ids) == 0 {
		respondError(w, h.Logger, errs.Validation("recordingIds is required",
			errs.FieldError{Field: "recordingIds", Message: "must list at least one recording id"}))
		return
	}
	result := h.Service.BulkDelete(r.Context(), ids)
	status := http.StatusOK
	if len(result.NotDeleted) > 0 {
		status = http.StatusBadRequest
	}
	respondJSON(w, status, result)
}

// GET /api/v1/recordings/{recordingId}/media
func (h *RecordingHandler) Media(w http.ResponseWriter, r *http.Request) {
	stream, err := h.Service.OpenStream(r.Context(), chi.URLParam(r, "recordingId"), r.Header.Get("Range"))
	if err != nil {
		if errs.IsKind(err, errs.KindRangeNotSatisfiable) {
			w.Header().Set("Content-Range", "bytes */*")
		}
		respondError(w, h.Logger, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(stream.End-stream.Start+1, 10))
	if stream.Partial {
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", stream.Start, stream.End, stream.FileSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := io.Copy(w, stream.Reader); err != nil {
		h.Logger.Warn("recording stream interrupted", zap.Error(err))
	}
}

// GET /api/v1/recordings/{recordingId}/url
func (h *RecordingHandler) URL(w http.ResponseWriter, r *http.Request) {
	url, err := h.Service.DownloadURL(r.Context(), chi.URLParam(r, "recordingId"), downloadURLTTL)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// GET /api/v1/recordings/download?recordingIds=a,b,c
func (h *RecordingHandler) Download(w http.ResponseWriter, r *http.Request) {
	ids := rooms.ParseCSV(r.URL.Query().Get("recordingIds"))
	if len(ids) == 0 {
		respondError(w, h.Logger, errs.Validation("recordingIds is required",
			errs.FieldError{Field: "recordingIds", Message: "must list at least one recording id"}))
		return
	}
	urls := make(map[string]string, len(ids))
	for _, id := range ids {
		url, err := h.Service.DownloadURL(r.Context(), id, downloadURLTTL)
		if err != nil {
			respondError(w, h.Logger, err)
			return
		}
		urls[id] = url
	}
	respondJSON(w, http.StatusOK, map[string]any{"urls": urls})
}
