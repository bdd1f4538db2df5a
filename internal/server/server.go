// Package server exposes the host HTTP surface: health and state probes,
// Prometheus metrics, and the session endpoints that mint tokens and accept
// guest websocket connections.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surfacekit/uibridge/internal/bridge"
	"github.com/surfacekit/uibridge/internal/bus"
	"github.com/surfacekit/uibridge/internal/catalog"
	"github.com/surfacekit/uibridge/internal/config"
	"github.com/surfacekit/uibridge/internal/logx"
	"github.com/surfacekit/uibridge/internal/metrics"
	"github.com/surfacekit/uibridge/internal/state"
	"github.com/surfacekit/uibridge/internal/uires"
	"github.com/surfacekit/uibridge/internal/wire"
)

// HostOrigin is the sender identity the host presents on every session
// channel.
const HostOrigin = "uibridge-host"

// New constructs the HTTP handler for the host daemon. cat may be nil when
// no catalog is configured; sessions then mount inline content only and
// route every guest request through the fallback.
func New(cfg config.HostConfig, sessions *Sessions, cat catalog.Catalog) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	preg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = preg
	prometheus.DefaultGatherer = preg
	metrics.Register(preg)

	var builtins map[string]bridge.Handler
	var resolver bridge.ContentResolver
	if cat != nil {
		builtins = catalog.Builtins(cat)
		resolver = catalog.Resolver{Catalog: cat}
	}

	r.Get("/healthz", handleHealthz)
	r.Get("/state", handleState)
	r.Route("/api", func(ar chi.Router) {
		ar.Group(func(g chi.Router) {
			if cfg.GuestKey != "" {
				g.Use(bearerSecretMiddleware(cfg.GuestKey))
			}
			g.Post("/session", handleCreateSession(sessions))
		})
		ar.Get("/session/{token}/connect", handleConnect(sessions, builtins, resolver))
	})

	if cfg.MetricsAddr == fmt.Sprintf(":%d", cfg.Port) {
		r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	}

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": state.GetStatus()})
}

func handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state.Snapshot())
}

// createSessionRequest is the POST /api/session body: a literal resource or
// a ui:// URI to resolve through the catalog at connect time.
type createSessionRequest struct {
	Resource *uires.Resource `json:"resource,omitempty"`
	URI      string          `json:"uri,omitempty"`
}

type createSessionResponse struct {
	Token       string `json:"token"`
	ConnectPath string `json:"connect_path"`
}

func handleCreateSession(sessions *Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if state.IsDraining() {
			httpError(w, http.StatusServiceUnavailable, "draining")
			return
		}
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid body")
			return
		}
		var content uires.Content
		switch {
		case req.Resource != nil:
			if err := req.Resource.Validate(); err != nil {
				httpError(w, http.StatusBadRequest, err.Error())
				return
			}
			content = uires.InlineContent(*req.Resource)
		case req.URI != "":
			if !strings.HasPrefix(req.URI, uires.Scheme) {
				httpError(w, http.StatusBadRequest, "uri must use ui:// scheme")
				return
			}
			content = uires.URIContent(req.URI)
		default:
			httpError(w, http.StatusBadRequest, "resource or uri required")
			return
		}
		token := sessions.Mint(content)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createSessionResponse{
			Token:       token,
			ConnectPath: "/api/session/" + token + "/connect",
		})
	}
}

func handleConnect(sessions *Sessions, builtins map[string]bridge.Handler, resolver bridge.ContentResolver) http.HandlerFunc {
	log := logx.With("server")
	return func(w http.ResponseWriter, r *http.Request) {
		if state.IsDraining() {
			httpError(w, http.StatusServiceUnavailable, "draining")
			return
		}
		token := chi.URLParam(r, "token")
		content, ok := sessions.Claim(token)
		if !ok {
			httpError(w, http.StatusNotFound, "unknown or expired token")
			return
		}
		ep, err := bus.AcceptWebsocket(w, r, token, HostOrigin)
		if err != nil {
			// AcceptWebsocket already closed the socket with a status.
			log.Debug().Err(err).Msg("guest handshake failed")
			return
		}
		sess := bridge.NewSession()
		cfg := bridge.MountConfig{
			Endpoint: ep,
			Content:  content,
			Resolver: resolver,
			Builtins: builtins,
			OnNotify: func(method string, params json.RawMessage) {
				log.Debug().Str("method", method).Msg("guest notification")
			},
		}
		if err := sess.Mount(context.Background(), cfg); err != nil {
			log.Error().Err(err).Msg("session mount failed")
			env := wire.NewNotification(wire.NotifyTeardown, nil)
			_ = ep.Send(r.Context(), env)
			_ = ep.Close()
			return
		}
		sessions.Track(sess)
		state.SessionStarted()
		go func() {
			<-sess.Done()
			sess.Teardown(context.Background())
			sessions.Untrack(sess.ID())
			state.SessionEnded()
		}()
	}
}

// bearerSecretMiddleware rejects requests missing the shared secret.
func bearerSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if extractBearer(r) != secret {
				httpError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
