package middleware

import (
	"encoding/json"
	"net/http"

	"autoshop-api/internal/model"
)

func writeError(w http.ResponseWriter, status int, code string, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{
		Message: message,
		Code:    code,
		Details: details,
	})
}
