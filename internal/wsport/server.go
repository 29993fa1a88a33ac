package wsport

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/gitbridge/internal/bridge"
)

type ServerConfig struct {
	// AuthToken, when set, requires a matching bearer token on /v1/connect.
	AuthToken   string
	SendTimeout time.Duration
	ReadLimit   int64
}

// Server exposes the websocket endpoint UI surfaces connect to, plus small
// JSON endpoints for health and store status.
type Server struct {
	router  *bridge.PortRouter
	store   *bridge.MirrorStore
	logger  *zap.Logger
	cfg     ServerConfig
	nextKey atomic.Int64
}

func NewServer(router *bridge.PortRouter, store *bridge.MirrorStore, logger *zap.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		// Base64 archive uploads dominate message size.
		cfg.ReadLimit = 64 << 20
	}
	return &Server{router: router, store: store, logger: logger, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/v1/connect" && r.Method == http.MethodGet:
		s.handleConnect(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Store bridge.StoreStatus `json:"store"`
		Ports int                `json:"ports"`
	}{
		Store: s.store.Status(),
		Ports: s.router.PortCount(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}
	surface := strings.TrimSpace(r.URL.Query().Get("surface"))
	if surface == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing surface query")
		return
	}
	key := bridge.NoTabKey
	if raw := strings.TrimSpace(r.URL.Query().Get("tab")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid tab query")
			return
		}
		key = parsed
	}
	if key == bridge.NoTabKey {
		// Tab-less surfaces still need distinct keys so one popup does not
		// evict another.
		key = -int(s.nextKey.Add(1)) - 1
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.String("surface", surface), zap.Error(err))
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	port := &wsPort{
		name:        surface,
		key:         key,
		conn:        conn,
		sendTimeout: s.cfg.SendTimeout,
	}
	if err := s.router.Register(port); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "surface not allowed")
		return
	}
	go s.readLoop(port)
}

func (s *Server) readLoop(port *wsPort) {
	ctx := context.Background()
	defer func() {
		s.router.Unregister(port.key)
		port.conn.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		var msg bridge.Message
		if err := wsjson.Read(ctx, port.conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("port read failed", zap.String("surface", port.name), zap.Error(err))
			}
			return
		}
		s.router.Dispatch(ctx, port.key, msg)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

// wsPort adapts one websocket connection to the router's Port interface.
type wsPort struct {
	name        string
	key         int
	conn        *websocket.Conn
	sendTimeout time.Duration
}

func (p *wsPort) Name() string { return p.name }
func (p *wsPort) Key() int     { return p.key }

func (p *wsPort) Send(msg any) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
	defer cancel()
	return wsjson.Write(ctx, p.conn, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
