// Package httperr writes the JSON error bodies used for HTTP-level
// rejections that happen outside a JSON-RPC exchange.
package httperr

import (
	"encoding/json"
	"net/http"
)

type body struct {
	Error detail `json:"error"`
}

type detail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Write sends {"error":{"code":status,"message":msg}} with the given status.
func Write(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Error: detail{Code: status, Message: msg}})
}
