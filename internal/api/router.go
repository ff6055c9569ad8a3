package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/dispatcher/status", h.DispatcherStatus)
	mux.HandleFunc("POST /v1/dispatcher/start", h.DispatcherStart)
	mux.HandleFunc("POST /v1/dispatcher/stop", h.DispatcherStop)
	mux.HandleFunc("POST /v1/dispatcher/interval", h.DispatcherInterval)

	mux.HandleFunc("GET /v1/messages/sent", h.ListSentMessages)
	mux.HandleFunc("GET /v1/messages/pending", h.ListPendingMessages)

	mux.HandleFunc("GET /v1/logs", h.Logs)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("whatsapp-dispatch"))
	})

	return withToken(h.apiToken, mux)
}

// withToken guards everything but the health probe with a shared-secret
// header. A blank configured token disables the check.
func withToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Token") != token {
			http.Error(w, "unauthorized", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
