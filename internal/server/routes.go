package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// exemptPaths bypass HTTP admission control.
var exemptPaths = []string{"/health", "/healthz", "/metrics"}

// upgradePaths serve the WebSocket endpoint. Upgrade requests on them are
// not counted against the HTTP limit.
var upgradePaths = []string{"/ws", "/ws/websocket"}

// Handler returns the complete HTTP handler: routes wrapped in CORS, the
// admission controller and the security headers.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.HandleFunc("", s.handleWebSocket)
	ws.HandleFunc("/websocket", s.handleWebSocket)
	ws.HandleFunc("/test", s.handleTestPage).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ws/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/ws/rooms", s.handleListRooms).Methods(http.MethodGet)
	api.HandleFunc("/ws/rooms/{room}/broadcast", s.handleRoomBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/ai/chat", s.handleAIChat).Methods(http.MethodPost)
	api.HandleFunc("/ai/models", s.handleAIModels).Methods(http.MethodGet)
	api.HandleFunc("/system/info", s.handleSystemInfo).Methods(http.MethodGet)
	api.HandleFunc("/system/health", s.handleSystemHealth).Methods(http.MethodGet)
	api.HandleFunc("/github/user", s.handleGitHubUser).Methods(http.MethodGet)
	api.HandleFunc("/github/repos", s.handleGitHubRepos).Methods(http.MethodGet)
	api.HandleFunc("/github/status", s.handleGitHubStatus).Methods(http.MethodGet)

	// Subrouters do not inherit these from r.
	for _, router := range []*mux.Router{r, ws, api} {
		router.NotFoundHandler = http.HandlerFunc(notFound)
		router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}

	c := cors.New(cors.Options{
		AllowOriginFunc:  s.origins.Allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
	})

	return s.securityHeaders(c.Handler(s.limiter.Middleware(r)))
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "Resource not found")
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
}
