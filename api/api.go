package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/doodleup/api/rest"
	"github.com/zlnvch/doodleup/api/session"
	"github.com/zlnvch/doodleup/api/ws"
	"github.com/zlnvch/doodleup/cache"
	"github.com/zlnvch/doodleup/config"
	"github.com/zlnvch/doodleup/mq"
	"github.com/zlnvch/doodleup/registry"
	"github.com/zlnvch/doodleup/service"
	"github.com/zlnvch/doodleup/store"
	"github.com/zlnvch/doodleup/worker"
	"golang.org/x/oauth2"
)

type DoodleAPI struct {
	Service        *service.Service
	restHandler    *rest.Handler
	wsHandler      *ws.Handler
	wsUpgrader     websocket.Upgrader
	allowedOrigins []string
	shutdownCtx    context.Context
	workers        sync.WaitGroup
}

func NewDoodleAPI(
	cfg *config.Config,
	doodleStore store.DoodleStore,
	purgeStrokesQueue mq.MessageQueue,
	doodleCache cache.DoodleCache,
	oauthConfigs map[string]*oauth2.Config,
	shutdownCtx context.Context,
) (*DoodleAPI, error) {
	identities := registry.NewIdentityRegistry()
	boards := registry.NewBoardRegistry(service.EncodeRoster)

	strokeBatcher := worker.NewStrokeBatcher(doodleStore, doodleCache, int(cfg.StrokeFlushInterval/time.Millisecond))
	activityBatcher := worker.NewActivityBatcher(identities, int(cfg.ActivityFlushInterval/time.Millisecond))
	mqConsumer := worker.NewMQConsumer(purgeStrokesQueue, doodleStore, doodleCache, boards)
	reaper := worker.NewReaper(identities, purgeStrokesQueue, cfg.RetentionWindow, cfg.ReaperInterval)

	svc, err := service.NewService(
		doodleStore,
		doodleCache,
		identities,
		boards,
		strokeBatcher,
		activityBatcher,
		oauthConfigs,
		cfg.JWTSecret,
		service.Settings{
			DefaultAvatar: cfg.DefaultAvatar(),
			TokenTTL:      cfg.TokenTTL,
		},
	)
	if err != nil {
		slog.Error("failed to create service", "err", err)
		return nil, err
	}

	// Boards survive restarts; the store being down only costs the old ones.
	restoreCtx, cancel := context.WithTimeout(shutdownCtx, 30*time.Second)
	restored, err := svc.RestoreBoards(restoreCtx)
	cancel()
	if err != nil {
		slog.Error("failed to restore boards", "err", err)
	} else {
		slog.Info("restored boards", "count", restored)
	}

	wsHub := ws.NewHub(cfg.MaxConnectionsPerIdentity)

	doodleAPI := &DoodleAPI{
		Service: svc,
		restHandler: rest.NewHandler(svc, session.CookieSettings{
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
			MaxAge: cfg.TokenTTL,
		}),
		wsHandler:      ws.NewHandler(svc, wsHub),
		allowedOrigins: cfg.AllowedOrigins,
		shutdownCtx:    shutdownCtx,
	}
	doodleAPI.wsUpgrader = doodleAPI.wsHandler.NewWsUpgrader(cfg.AllowedOrigins)

	doodleAPI.start(wsHub.Run)
	doodleAPI.start(strokeBatcher.Run)
	doodleAPI.start(activityBatcher.Run)
	doodleAPI.start(mqConsumer.Run)
	doodleAPI.start(reaper.Run)

	return doodleAPI, nil
}

func (doodleAPI *DoodleAPI) start(run func(context.Context)) {
	doodleAPI.workers.Add(1)
	go func() {
		defer doodleAPI.workers.Done()
		run(doodleAPI.shutdownCtx)
	}()
}

// Wait blocks until the background workers have finished their final
// flushes after shutdown.
func (doodleAPI *DoodleAPI) Wait() {
	doodleAPI.workers.Wait()
}

func (doodleAPI *DoodleAPI) RegisterRoutes(mux *http.ServeMux) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/login", doodleAPI.restHandler.HandleLogin)
	mux.HandleFunc("/login/oauth", doodleAPI.restHandler.HandleOauthLogin)
	mux.HandleFunc("/protected", doodleAPI.restHandler.HandleProtected)
	mux.HandleFunc("/createboard", doodleAPI.restHandler.HandleCreateBoard)
	mux.HandleFunc("/checkboard", doodleAPI.restHandler.HandleCheckBoard)
	mux.HandleFunc("/boards", doodleAPI.restHandler.HandleBoards)
	mux.HandleFunc("/strokes", doodleAPI.restHandler.HandleStrokes)

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		doodleAPI.wsHandler.ServeWS(doodleAPI.wsUpgrader, w, r, doodleAPI.shutdownCtx)
	})
}

// Handler returns the routes wrapped in the CORS policy.
func (doodleAPI *DoodleAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	doodleAPI.RegisterRoutes(mux)
	return WithCORS(mux, doodleAPI.allowedOrigins)
}

// WithCORS lets the listed origins call the API with credentials. With no
// origins configured cross-origin requests get no CORS headers.
func WithCORS(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(allowedOrigins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
