package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// problem mirrors api.ProblemDetail; middleware cannot import the api package.
type problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// writeProblem writes an RFC 7807 problem+json response.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) error {
	p := problem{
		Type:          fmt.Sprintf("https://sheetpipe.io/problems/%d", status),
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: GetCorrelationID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(p)
}
