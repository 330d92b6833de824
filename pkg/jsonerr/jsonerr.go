// Package jsonerr provides the {error, publicMessage} JSON envelope the
// HTTP surface (§6/§7) returns for malformed-request errors: 400 for a bad
// query shape, 406 when the Accept header matches none of the supported
// media types.
package jsonerr

import (
	"encoding/json"
	"net/http"
)

// Response is the body of an error response from the HTTP surface.
//
// Error is a short machine-readable tag; PublicMessage is safe to show to a
// caller (internal details belong in the server's logs, not here).
type Response struct {
	Error         string `json:"error"`
	PublicMessage string `json:"publicMessage"`
}

// Error works like http.Error but uses Response as the body. Like
// http.Error, callers still need a naked return in the http.Handler.
func Error(w http.ResponseWriter, r *Response, httpcode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpcode)
	b, _ := json.Marshal(r)
	w.Write(b)
}
