package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned by the API.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeValidation  = "validation_error"
	ErrCodeInternal    = "internal_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodePersist     = "persist_failed"
)

var codeStatus = map[string]int{
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeValidation:  http.StatusUnprocessableEntity,
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,
	ErrCodePersist:     http.StatusInternalServerError,
}

// writeJSON encodes v before touching the response so an encoding failure
// still produces a well-formed 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if v != nil {
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			status = http.StatusInternalServerError
			buf.Reset()
			buf.WriteString(`{"status":500,"code":"internal_error","message":"response encoding failed"}` + "\n")
		}
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	w.Write(buf.Bytes())
}

// writeError responds with the status registered for code.
func writeError(w http.ResponseWriter, code, message string) {
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}
