package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"autoshop-api/internal/model"
)

// Timeout bounds handler run time. A handler still running at the deadline
// gets its writes discarded and the client receives a 503 JSON error.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	body, _ := json.Marshal(model.ErrorResponse{Message: "Request timed out", Code: "REQUEST_TIMEOUT"})

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(body))
	}
}
