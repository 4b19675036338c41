// Package httputil provides the shared JSON response envelope and request
// decoding helpers used by every HTTP handler in the command surface.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"
)

// MaxRequestSize is the maximum allowed request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// envelope is the wire shape every /record/* endpoint replies with:
// {"state": s, "code": m} on success/failure, or
// {"state": s, "code": "See data.", "data": ...} when a payload is attached.
type envelope struct {
	State int         `json:"state"`
	Code  string      `json:"code"`
	Data  interface{} `json:"data,omitempty"`
}

// WriteOK writes a success envelope (state=1) with a human-readable message.
func WriteOK(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusOK, envelope{State: 1, Code: message})
}

// WriteData writes a success envelope carrying a data payload.
func WriteData(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, http.StatusOK, envelope{State: 1, Code: "See data.", Data: data})
}

// WriteFail writes a failure envelope with the negative numeric code and
// message defined by the caller (see the canonical error codes in room.Error).
func WriteFail(w http.ResponseWriter, code int, message string) {
	if code >= 0 {
		code = -1 // defensive: callers should only ever pass negative codes here
	}
	writeEnvelope(w, http.StatusOK, envelope{State: code, Code: message})
}

func writeEnvelope(w http.ResponseWriter, status int, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}

// DecodeJSON decodes JSON from request body into v with size limit protection
func DecodeJSON(r *http.Request, v interface{}) error {
	// Limit request body size to prevent DoS attacks
	limitedReader := io.LimitReader(r.Body, MaxRequestSize)
	defer r.Body.Close()

	decoder := json.NewDecoder(limitedReader)
	decoder.DisallowUnknownFields() // Reject unknown fields for security
	return decoder.Decode(v)
}
