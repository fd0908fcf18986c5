// Package shared holds the thin JSON plumbing every handler uses.
package shared

import (
	"encoding/json"
	"net/http"

	dErrors "geosync/pkg/domain-errors"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error onto an HTTP status and JSON body. Unknown
// errors surface as 500 without leaking internals.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = dErrors.MessageOf(err)
	WriteJSON(w, statusFor(code), body)
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeInvalidHierarchy:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvalidState, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeSyncPersistence:
		// Retryable: the whole transaction rolled back, resubmit.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
