package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes a simplified problem+json error body.
func WriteProblem(w http.ResponseWriter, code int, typ, detail string) {
	WriteJSON(w, code, map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}

// PathID parses the {key} path value as an int64 id.
func PathID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(key), 10, 64)
	return id, err == nil && id > 0
}
