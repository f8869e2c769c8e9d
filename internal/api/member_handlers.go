package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/members"
	"github.com/openvidu/openvidu-meet/internal/rooms"
)

type MemberHandler struct {
	Service *members.Service
	Logger  *zap.Logger
}

func NewMemberHandler(svc *members.Service, logger *zap.Logger) *MemberHandler {
	return &MemberHandler{Service: svc, Logger: logger}
}

// POST /api/v1/rooms/{roomId}/members
func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var opts members.CreateOptions
	if err := decodeBody(r, &opts); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	member, err := h.Service.Create(r.Context(), chi.URLParam(r, "roomId"), opts)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, member)
}

// GET /api/v1/rooms/{roomId}/members
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	maxItems, err := queryInt(r, "maxItems")
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	page, err := h.Service.List(r.Context(), chi.URLParam(r, "roomId"), maxItems, r.URL.Query().Get("nextPageToken"))
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"members":       page.Members,
		"nextPageToken": page.NextPageToken,
	})
}

// GET /api/v1/rooms/{roomId}/members/{memberId}
func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	member, err := h.Service.Get(r.Context(), chi.URLParam(r, "roomId"), chi.URLParam(r, "memberId"))
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, member)
}

// PUT /api/v1/rooms/{roomId}/members/{memberId}
func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	var opts members.UpdateOptions
	if err := decodeBody(r, &opts); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	member, err := h.Service.Update(r.Context(), chi.URLParam(r, "roomId"), chi.URLParam(r, "memberId"), opts)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, member)
}

// DELETE /api/v1/rooms/{roomId}/members/{memberId}
func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "roomId"), chi.URLParam(r, "memberId")); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"code": "MEMBER_DELETED"})
}

// DELETE /api/v1/rooms/{roomId}/members?memberIds=a,b,c
func (h *MemberHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ids := rooms.ParseCSV(r.URL.Query().Get("memberIds"))
	if len(ids) == 0 {
		respondError(w, h.Logger, errs.Validation("memberIds is required",
			errs.FieldError{Field: "memberIds", Message: "must list at least one member id"}))
		return
	}
	result := h.Service.BulkDelete(r.Context(), chi.URLParam(r, "roomId"), ids)
	status := http.StatusOK
	if len(result.Failed) > 0 {
		status = http.StatusBadRequest
	}
	respondJSON(w, status, result)
}
