package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

func newGroup(ctx context.Context) (*errgroup.Group, context.Context) {
	return errgroup.WithContext(ctx)
}

type errorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{ErrorCode: code, Message: msg})
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// wantsPlain decides whether the caller gets the text rendering of a check
// response. Block-based client runtimes can't parse JSON replies, and humans
// in a browser read text more easily than raw JSON, so both get plain text,
// as does anyone asking for it explicitly.
func wantsPlain(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/plain") {
		return true
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, marker := range []string{"scratch", "turbowarp", "mozilla"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
