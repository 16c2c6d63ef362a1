package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/herald/internal/auth"
	"github.com/darkden-lab/herald/internal/httputil"
)

// TokenValidator resolves a bearer token to an identity or fails with
// auth.ErrUnauthorized.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (auth.Identity, error)
}

// Handler upgrades authenticated HTTP requests into registered connections
// and owns each connection's read loop.
type Handler struct {
	registry  *Registry
	validator TokenValidator
	upgrader  websocket.Upgrader
	opts      Options
	log       zerolog.Logger

	mu       sync.Mutex
	shutdown bool
	active   sync.WaitGroup
}

func NewHandler(registry *Registry, validator TokenValidator, allowedOrigins []string, opts Options, log zerolog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		opts: opts.withDefaults(),
		log:  log.With().Str("component", "ws_handler").Logger(),
	}
}

// RegisterRoutes wires the upgrade endpoints. The token is normally the last
// path segment; /api/ws also accepts an Authorization bearer header.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/ws/{token}", h.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/ws/{token}", h.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", h.ServeWS).Methods(http.MethodGet)
}

// ServeWS runs one connection attempt end to end. The token is validated
// before the upgrade, so a rejected attempt never produces a Connection.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if token == "" {
		token = bearerToken(r)
	}

	identity, err := h.validator.Validate(r.Context(), token)
	if err != nil {
		h.log.Debug().Str("remote_addr", r.RemoteAddr).Msg("upgrade rejected: unauthorized")
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.registry.Admit(identity.UserID); err != nil {
		h.rejectAdmission(w, identity, err)
		return
	}

	if !h.begin() {
		httputil.WriteError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	defer h.active.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(conn, identity, h.opts, h.unregister, h.log)
	c.start()
	defer c.finish()

	if err := h.registry.Insert(c); err != nil {
		code := websocket.ClosePolicyViolation
		if errors.Is(err, ErrRegistryClosed) {
			code = websocket.CloseGoingAway
		}
		c.Close(code, err.Error())
		return
	}

	err = c.readPump()
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && c.State() == StateOpen {
		c.log.Info().Err(err).Msg("connection read error")
	}
}

func (h *Handler) unregister(c *Connection) {
	h.registry.Remove(c.ID)
}

func (h *Handler) rejectAdmission(w http.ResponseWriter, identity auth.Identity, err error) {
	switch {
	case errors.Is(err, ErrTooManyConnections):
		h.log.Info().Str("user", identity.UserID).Msg("upgrade rejected: connection cap reached")
		httputil.WriteError(w, http.StatusTooManyRequests, err.Error())
	default:
		httputil.WriteError(w, http.StatusServiceUnavailable, "server shutting down")
	}
}

// begin registers an in-flight handler unless Shutdown has started.
func (h *Handler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.active.Add(1)
	return true
}

// Shutdown refuses new upgrades, closes every registered connection and
// waits for their handlers to finish or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()

	if err := h.registry.Drain(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("all connections closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
