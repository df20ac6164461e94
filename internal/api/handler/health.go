package handler

import (
	"net/http"
)

// Health handles GET /health/live: a liveness probe that returns plain
// text rather than JSON, since it's polled by infrastructure (load
// balancers, orchestrators) that don't care about content negotiation
// (§6).
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
