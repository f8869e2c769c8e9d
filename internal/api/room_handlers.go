package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/middleware"
	"github.com/openvidu/openvidu-meet/internal/rooms"
)

type RoomHandler struct {
	Service *rooms.Service
	APIBase string
	Logger  *zap.Logger
}

func NewRoomHandler(svc *rooms.Service, apiBase string, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{Service: svc, APIBase: apiBase, Logger: logger}
}

// POST /api/v1/rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var opts rooms.CreateOptions
	if err := decodeBody(r, &opts); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	room, err := h.Service.Create(r.Context(), opts)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, rooms.View(room, h.APIBase, h.viewOptions(r)))
}

// GET /api/v1/rooms
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	maxItems, err := queryInt(r, "maxItems")
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	page, err := h.Service.List(r.Context(), maxItems, r.URL.Query().Get("nextPageToken"))
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	opts := h.viewOptions(r)
	views := make([]map[string]any, len(page.Rooms))
	for i, room := range page.Rooms {
		views[i] = rooms.View(room, h.APIBase, opts)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"rooms":         views,
		"nextPageToken": page.NextPageToken,
	})
}

// GET /api/v1/rooms/{roomId}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.Service.GetByID(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms.View(room, h.APIBase, h.viewOptions(r)))
}

// PUT /api/v1/rooms/{roomId}/config
func (h *RoomHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg data.RoomConfig
	if err := decodeBody(r, &cfg); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	room, err := h.Service.UpdateConfig(r.Context(), chi.URLParam(r, "roomId"), cfg)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms.View(room, h.APIBase, rooms.ViewOptions{Expand: []string{"config"}}))
}

// PUT /api/v1/rooms/{roomId}/roles
func (h *RoomHandler) UpdateRoles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Roles []data.RoomRole `json:"roles"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	room, err := h.Service.UpdateRoles(r.Context(), chi.URLParam(r, "roomId"), req.Roles)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms.View(room, h.APIBase, h.viewOptions(r)))
}

// PUT /api/v1/rooms/{roomId}/anonymous
func (h *RoomHandler) UpdateAnonymous(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []rooms.AnonymousUpdate `json:"entries"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	room, err := h.Service.UpdateAnonymous(r.Context(), chi.URLParam(r, "roomId"), req.Entries)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms.View(room, h.APIBase, h.viewOptions(r)))
}

// PUT /api/v1/rooms/{roomId}/status
func (h *RoomHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status data.RoomStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	room, err := h.Service.UpdateStatus(r.Context(), chi.URLParam(r, "roomId"), req.Status)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms.View(room, h.APIBase, h.viewOptions(r)))
}

// PUT /api/v1/rooms/{roomId}/auto-deletion
func (h *RoomHandler) UpdateAutoDeletion(w http.ResponseWriter, r *http.Request) {
	var req rooms.CreateOptions // reuses autoDeletionDate/autoDeletionPolicy fields
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	room, err := h.Service.UpdateAutoDeletion(r.Context(), chi.URLParam(r, "roomId"), req.AutoDeletionDate, req.AutoDeletionPolicy)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms.View(room, h.APIBase, h.viewOptions(r)))
}

// DELETE /api/v1/rooms/{roomId}?withMeeting=&withRecordings=
func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	withMeeting, withRecordings := deletePolicies(r)
	outcome, err := h.Service.Delete(r.Context(), chi.URLParam(r, "roomId"), withMeeting, withRecordings)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	body := map[string]any{"code": outcome.Code}
	if outcome.Room != nil {
		body["room"] = rooms.View(outcome.Room, h.APIBase, rooms.ViewOptions{})
	}
	if outcome.Status >= http.StatusBadRequest {
		body["error"] = outcome.Code
		body["message"] = "the room could not be deleted in its current state"
	}
	respondJSON(w, outcome.Status, body)
}

// DELETE /api/v1/rooms?roomIds=a,b,c&withMeeting=&withRecordings=
func (h *RoomHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ids := rooms.ParseCSV(r.URL.Query().Get("roomIds"))
	if len(ids) == 0 {
		respondError(w, h.Logger, errs.Validation("roomIds is required",
			errs.FieldError{Field: "roomIds", Message: "must list at least one room id"}))
		return
	}
	withMeeting, withRecordings := deletePolicies(r)
	result, err := h.Service.BulkDelete(r.Context(), ids, withMeeting, withRecordings)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	status := http.StatusOK
	if len(result.Failed) > 0 {
		status = http.StatusBadRequest
	}
	respondJSON(w, status, result)
}

func (h *RoomHandler) viewOptions(r *http.Request) rooms.ViewOptions {
	opts := rooms.ViewOptions{
		Fields: rooms.ParseCSV(r.URL.Query().Get("fields")),
		Expand: rooms.ParseCSV(r.URL.Query().Get("expand")),
	}
	// Member tokens see the room through their permission mask; platform
	// principals see everything.
	if member, ok := middleware.MemberFrom(r.Context()); ok {
		opts.Perms = &member.Permissions
	}
	return opts
}

func deletePolicies(r *http.Request) (data.MeetingDeletePolicy, data.RecordingsDeletePolicy) {
	withMeeting := data.MeetingDeletePolicy(r.URL.Query().Get("withMeeting"))
	if withMeeting == "" {
		withMeeting = data.MeetingPolicyFail
	}
	withRecordings := data.RecordingsDeletePolicy(r.URL.Query().Get("withRecordings"))
	if withRecordings == "" {
		withRecordings = data.RecordingsPolicyFail
	}
	return withMeeting, withRecordings
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation("invalid "+name,
			errs.FieldError{Field: name, Message: "must be an integer"})
	}
	return n, nil
}
