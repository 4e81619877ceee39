package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":       "not_found",
			"message":    "not found",
			"request_id": reqID,
		},
	})
}
