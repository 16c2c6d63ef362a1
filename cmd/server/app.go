package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/herald/internal/auth"
	"github.com/darkden-lab/herald/internal/config"
	"github.com/darkden-lab/herald/internal/db"
	"github.com/darkden-lab/herald/internal/httputil"
	"github.com/darkden-lab/herald/internal/logging"
	mw "github.com/darkden-lab/herald/internal/middleware"
	"github.com/darkden-lab/herald/internal/notifications"
	"github.com/darkden-lab/herald/internal/ws"
)

// Login and registration get a much tighter per-IP budget than the rest of
// the API.
const (
	authRateRPS   = 1
	authRateBurst = 5
)

type app struct {
	cfg *config.Config
	log zerolog.Logger

	database *db.DB
	redis    *redis.Client

	authService *auth.Service
	validator   *auth.Validator
	registry    *ws.Registry
	broadcaster *ws.Broadcaster
	wsHandler   *ws.Handler
	broker      notifications.MessageBroker
	consumer    *notifications.Consumer
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	// Users
	var users auth.UserStore = auth.NewMemoryUserStore()
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("database connection failed, continuing with in-memory user store")
		} else {
			a.database = database
			if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
				log.Warn().Err(err).Msg("migrations failed")
			}
			users = auth.NewPostgresUserStore(database.Pool)
		}
	}

	// Revocation
	var revoked auth.RevocationList = auth.NewMemoryRevocationList()
	if cfg.RedisURL != "" {
		client, err := auth.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, token revocation is process-local")
		} else {
			list, err := auth.NewRedisRevocationList(client)
			if err != nil {
				client.Close() //nolint:errcheck
				a.close()
				return nil, fmt.Errorf("redis revocation list: %w", err)
			}
			a.redis = client
			revoked = list
		}
	}

	// Auth
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.TokenTTL)
	a.authService = auth.NewService(users, jwtService, revoked, log)
	a.validator = auth.NewValidator(jwtService, revoked, users, log)

	// WebSocket
	a.registry = ws.NewRegistry(cfg.MaxConnectionsPerUser, log)
	a.broadcaster = ws.NewBroadcaster(a.registry, cfg.DeliveryTimeout, log)
	opts := ws.DefaultOptions()
	opts.SendBuffer = cfg.SendBuffer
	a.wsHandler = ws.NewHandler(a.registry, a.validator, mw.ParseOrigins(cfg.AllowedOrigins), opts, log)

	// Notifications
	broker, err := notifications.NewBroker(cfg, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("notification broker: %w", err)
	}
	a.broker = broker
	notifications.NewEventProducer(broker, log).HookIntoAuth(a.authService)
	a.consumer = notifications.NewConsumer(broker, a.broadcaster, log)
	if err := a.consumer.Start(); err != nil {
		a.close()
		return nil, fmt.Errorf("notification consumer: %w", err)
	}

	return a, nil
}

// applyConfig picks up settings that can change without a restart. Only the
// log level qualifies; everything else is wired once in newApp.
func (a *app) applyConfig(cfg *config.Config) {
	lvl := logging.SetLevel(cfg.LogLevel)
	a.log.Info().Str("level", lvl.String()).Msg("log level updated")
}

// router builds the full HTTP surface. CORS wraps the router so OPTIONS
// preflight requests are answered before mux routing.
func (a *app) router() http.Handler {
	r := mux.NewRouter()
	r.Use(mw.RateLimitMiddleware(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst))
	r.Use(mw.RequestLogger(a.log))

	// Health check (no auth)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/metrics", ws.MetricsHandler(a.broadcaster)).Methods(http.MethodGet)

	authHandlers := auth.NewHandlers(a.authService)

	// No path prefix: the handlers register absolute paths, and the strict
	// limiter only runs for requests that match them.
	public := r.NewRoute().Subrouter()
	public.Use(mw.StrictRateLimitMiddleware(authRateRPS, authRateBurst))
	authHandlers.RegisterRoutes(public)

	// Protected routes. /api/ws/stats must be registered before the
	// websocket token routes or "stats" would be taken as a token.
	protected := r.PathPrefix("").Subrouter()
	protected.Use(mw.AuthMiddleware(a.validator))
	authHandlers.RegisterProtectedRoutes(protected)
	protected.HandleFunc("/api/ws/stats", ws.StatsHandler(a.broadcaster)).Methods(http.MethodGet)

	// WebSocket (token checked inside the handler, before the upgrade)
	a.wsHandler.RegisterRoutes(r)

	return mw.CORS(mw.ParseOrigins(a.cfg.AllowedOrigins))(r)
}

// shutdown closes websocket connections first so clients see 1001, then the
// notification pipeline and storage.
func (a *app) shutdown(ctx context.Context, srv *http.Server) {
	if err := a.wsHandler.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("websocket drain incomplete")
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Error().Err(err).Msg("http server shutdown failed")
		}
	}
	a.consumer.Stop()
	a.close()
}

func (a *app) close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.log.Warn().Err(err).Msg("broker close failed")
		}
	}
	if a.redis != nil {
		a.redis.Close() //nolint:errcheck
	}
	if a.database != nil {
		a.database.Close()
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
