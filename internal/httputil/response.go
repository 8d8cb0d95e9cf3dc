package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Machine-readable error codes returned by the device API
const (
	CodeInternalError          = "internal_error"
	CodeInvalidRequestBody     = "invalid_request_body"
	CodeValidationFailed       = "validation_failed"
	CodeTooManyRequests        = "too_many_requests"
	CodeCooldownActive         = "cooldown_active"
	CodeEmailAlreadyExists     = "email_already_exists"
	CodeInvalidCredentials     = "invalid_credentials"
	CodeMissingAuth            = "missing_auth"
	CodeInvalidAuthHeader      = "invalid_auth_header"
	CodeInvalidToken           = "invalid_token"
	CodeTokenExpired           = "token_expired"
	CodeSessionMismatch        = "session_mismatch"
	CodeVerificationFailed     = "verification_failed"
	CodeAlreadyVerified        = "already_verified"
	CodeRecentLoginRequired    = "recent_login_required"
	CodeAccountDataRemoved     = "account_data_removed"
	CodeWrongMode              = "wrong_mode"
	CodeScanIgnored            = "scan_ignored"
	CodeNothingToAcknowledge   = "nothing_to_acknowledge"
	CodeStoreUnavailable       = "store_unavailable"
	CodeRecordNotFound         = "record_not_found"
	CodeVerificationTokenEmpty = "verification_token_required"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RespondJSON sends a JSON response with the given status code.
// Encoding errors are logged; the status line is already written by then.
func RespondJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// RespondError sends a JSON error response with the given message and status code.
func RespondError(w http.ResponseWriter, message string, statusCode int) {
	RespondJSON(w, ErrorResponse{Error: message}, statusCode)
}

// RespondErrorWithCode sends a JSON error response with a machine-readable error code.
func RespondErrorWithCode(w http.ResponseWriter, message string, code string, statusCode int) {
	RespondJSON(w, ErrorResponse{Error: message, Code: code}, statusCode)
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
