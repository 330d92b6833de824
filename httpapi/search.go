package httpapi

import "net/http"

// searchResult is one channel entry in a /api/4/search response.
type searchResult struct {
	Backend    string `json:"backend"`
	Name       string `json:"name"`
	ScalarType string `json:"scalarType"`
	Shape      string `json:"shape"`
}

// handleSearch answers /api/4/search: a substring lookup against the
// catalog, scoped to one backend (§6).
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := negotiate(w, r, mediaJSON); !ok {
		return
	}
	backend := r.URL.Query().Get("channelBackend")
	pattern := r.URL.Query().Get("channelName")
	if backend == "" {
		badRequest(w, "bad-request", "channelBackend is required", http.StatusBadRequest)
		return
	}

	cfgs, err := s.Catalog.Search(r.Context(), backend, pattern)
	if err != nil {
		internalError(w, err)
		return
	}

	out := make([]searchResult, len(cfgs))
	for i, c := range cfgs {
		out[i] = searchResult{Backend: c.Backend, Name: c.Name, ScalarType: c.ScalarType.String(), Shape: c.Shape.String()}
	}
	writeJSON(w, http.StatusOK, out)
}
