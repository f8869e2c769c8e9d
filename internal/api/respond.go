package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/errs"
)

// Helpers
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// errorBody is the uniform error shape: {error, message, details?}. details
// only appears on validation failures.
type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details []errs.FieldError `json:"details,omitempty"`
}

// respondError maps a typed service error onto the wire. Internal causes are
// logged, never leaked.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := errs.HTTPStatus(err)
	body := errorBody{Error: errs.CodeOf(err), Message: "Internal server error"}
	if typed, ok := errs.As(err); ok && typed.Kind != errs.KindInternal {
		body.Message = typed.Message
		body.Details = typed.Details
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	respondJSON(w, status, body)
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Validation("invalid JSON body",
			errs.FieldError{Field: "body", Message: err.Error()})
	}
	return nil
}
