package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/apperr"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its HTTP status via apperr and writes the
// {error:{code,message,details?}} envelope, per SPEC_FULL.md §4.13.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	info := errorInfo{Code: apperr.Code(err), Message: err.Error()}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Details != nil {
		info.Details = appErr.Details
	}
	writeJSON(w, status, errorEnvelope{Error: info})
}

// decodeBody reads body into dst, rejecting legacy camelCase fields
// (spec.md §6) and reporting malformed JSON as apperr.BadInput. An
// empty body is left as dst's zero value, matching the source's
// optional-body request handlers.
func decodeBody(r *http.Request, dst any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return apperr.BadInput("failed to read request body")
	}
	if len(data) == 0 {
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperr.BadInput("malformed JSON body: " + err.Error())
	}
	if err := config.RejectLegacyFields(raw); err != nil {
		return apperr.BadInput(err.Error())
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.BadInput("malformed JSON body: " + err.Error())
	}
	return nil
}
