// Package respond writes JSON bodies and error envelopes for the HTTP
// handlers.
package respond

import (
	"encoding/json"
	"net/http"

	"memoria/internal/apperr"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error renders err using the status and public message from apperr.
func Error(w http.ResponseWriter, err error) {
	JSON(w, apperr.HTTPStatus(err), errorBody{Error: errorDetail{
		Code:    apperr.Code(err),
		Message: apperr.PublicMessage(err),
	}})
}

// BadRequest renders a validation failure for malformed requests.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, apperr.Invalid(apperr.CodeInvalidInput, "%s", message))
}

// Decode reads a JSON body into v and rejects unknown fields.
func Decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Forbidden renders a 403 for callers acting on another owner's resource.
func Forbidden(w http.ResponseWriter, message string) {
	JSON(w, http.StatusForbidden, errorBody{Error: errorDetail{Code: "FORBIDDEN", Message: message}})
}
