package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/dkriz/voicegate/internal/eventlog"
	"github.com/dkriz/voicegate/internal/store"
)

type RouterConfig struct {
	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// AdminAPIKey is exchanged for a JWT on the token endpoint.
	AdminAPIKey string
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	store    *store.Store
	eventLog *eventlog.Logger
	gateway  http.HandlerFunc
	mux      *http.ServeMux
}

// NewRouter mounts the device websocket endpoint and the admin API.
func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, eventLog *eventlog.Logger, gatewayWS http.HandlerFunc) http.Handler {
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		eventLog: eventLog,
		gateway:  gatewayWS,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)

	// Device websocket (devices authenticate by registering their mac)
	r.mux.HandleFunc("GET /ws", r.handleWS)

	// Auth endpoint (public, exchanges the admin API key for a JWT)
	r.mux.HandleFunc("POST /api/auth/token", r.handleIssueToken)

	// Protected admin endpoints
	r.mux.HandleFunc("GET /api/devices", r.withAuth(r.handleListDevices))
	r.mux.HandleFunc("GET /api/devices/{mac}/events", r.withAuth(r.handleDeviceEvents))
	r.mux.HandleFunc("PUT /api/devices/{mac}/memory", r.withAuth(r.handleSaveMemory))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	if r.gateway == nil {
		http.Error(w, `{"error": "gateway not configured"}`, http.StatusServiceUnavailable)
		return
	}
	r.gateway(w, req)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
