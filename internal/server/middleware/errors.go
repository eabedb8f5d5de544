package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError sends the same {"error","code"} body the handlers use.
func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
