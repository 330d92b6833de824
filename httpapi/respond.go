package httpapi

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/psi-daq/daqbuffer-go/pkg/jsonerr"
)

func jsonError(w http.ResponseWriter, code, publicMessage string, httpcode int) {
	jsonerr.Error(w, &jsonerr.Response{Error: code, PublicMessage: publicMessage}, httpcode)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// mediaKind is the negotiated response encoding for an endpoint that
// supports more than one (§6's Accept column).
type mediaKind int

const (
	mediaJSON mediaKind = iota
	mediaOctet
)

// negotiate picks the best mediaKind the request's Accept header and the
// endpoint's supported set agree on, returning ok=false (and having
// already written a 406 response) when none match.
func negotiate(w http.ResponseWriter, r *http.Request, supported ...mediaKind) (mediaKind, bool) {
	accept := r.Header.Get("Accept")
	if accept == "" || accept == "*/*" {
		return supported[0], true
	}
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		for _, k := range supported {
			if mediaMatches(k, mt) {
				return k, true
			}
		}
	}
	jsonError(w, "not-acceptable", "Accept header matches no supported media type", http.StatusNotAcceptable)
	return 0, false
}

func mediaMatches(k mediaKind, mt string) bool {
	switch k {
	case mediaJSON:
		return mt == "application/json" || mt == "*/*"
	case mediaOctet:
		return mt == "application/octet-stream" || strings.Contains(mt, "octet") || mt == "*/*"
	default:
		return false
	}
}
