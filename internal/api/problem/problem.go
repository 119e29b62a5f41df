// Package problem renders the MRS error envelope of §7:
// {"status":"error","error":"<code>","message":"<human-readable>","detail":{...}}
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mrs-federation/server/internal/apperr"
)

// Body is the wire shape of an error response, per §7.
type Body struct {
	Status  string         `json:"status"`
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// WriteError maps err to the §7 HTTP status and envelope and writes it.
// env gates whether the Internal code's message carries the underlying
// error text (development/test) or a generic message (everything else).
func WriteError(w http.ResponseWriter, r *http.Request, err error, env string) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)

	body := Body{Status: "error", Error: string(code)}
	if ae, ok := apperr.As(err); ok {
		body.Message = ae.Message
		body.Detail = ae.Detail
	} else {
		body.Message = "internal error"
	}
	if code == apperr.Internal && env != "development" && env != "test" {
		body.Message = http.StatusText(http.StatusInternalServerError)
	}

	logger := zerolog.Ctx(r.Context())
	event := logger.Warn()
	if status >= 500 {
		event = logger.Error()
	}
	event.Err(err).Int("status", status).Str("error_code", string(code)).
		Str("path", r.URL.Path).Str("method", r.Method).Msg("request failed")

	WriteBody(w, status, body)
}

// WriteBody writes a pre-built error body at status, for callers (e.g.
// middleware) that build the envelope without an underlying apperr.Error.
func WriteBody(w http.ResponseWriter, status int, body Body) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// New is a convenience constructor for middleware that rejects a request
// before a domain error exists (e.g. rate limiting, body-size limits).
func New(code apperr.Code, message string) Body {
	return Body{Status: "error", Error: string(code), Message: message}
}
