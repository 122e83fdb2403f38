package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"classhub/internal/broadcast"
	"classhub/internal/router"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

const (
	DefaultCookieName   = "classhub_session"
	DefaultReadLimit    = 64 * 1024
	DefaultPongWait     = 60 * time.Second
	DefaultMaxMalformed = 3
)

// Config tunes the socket endpoints.
type Config struct {
	CookieName     string
	ReadLimit      int64
	PongWait       time.Duration
	SendBuffer     int
	WriteTimeout   time.Duration
	MaxMalformed   int
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.MaxMalformed <= 0 {
		c.MaxMalformed = DefaultMaxMalformed
	}
	return c
}

// Lifecycle is the part of the router the socket layer drives directly.
type Lifecycle interface {
	Admitted(adm *types.Admission)
	Malformed(sender types.ParticipantInfo, err error)
	Forget(connectionID string)
}

// Queue accepts decoded envelopes for serialized dispatch.
type Queue interface {
	Submit(sender types.ParticipantInfo, env *types.Envelope) error
}

// Handler upgrades teacher and student sockets, admits them and pumps their
// inbound frames into the class queue.
// ARCHITECTURAL DISCOVERY: the handler knows nothing about envelope semantics;
// it only decodes, counts failures and hands off
type Handler struct {
	registry  interfaces.ConnectionRegistry
	lifecycle Lifecycle
	queue     Queue
	cfg       Config
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func NewHandler(registry interfaces.ConnectionRegistry, lifecycle Lifecycle, queue Queue, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg = cfg.withDefaults()
	h := &Handler{
		registry:  registry,
		lifecycle: lifecycle,
		queue:     queue,
		cfg:       cfg,
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// Register mounts the socket endpoints on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/ws/teacher", h.HandleTeacher).Methods(http.MethodGet)
	r.HandleFunc("/ws/student", h.HandleStudent).Methods(http.MethodGet)
}

func (h *Handler) HandleTeacher(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, types.RoleTeacher)
}

func (h *Handler) HandleStudent(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, types.RoleStudent)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// credential reads the session cookie, falling back to a bearer header for
// non-browser clients. Credentials never travel in the URL.
func (h *Handler) credential(r *http.Request) string {
	if cookie, err := r.Cookie(h.cfg.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, role types.Role) {
	req := types.AdmissionRequest{
		Token:   h.credential(r),
		Role:    role,
		ClassID: r.URL.Query().Get("classId"),
	}

	// FUNCTIONAL DISCOVERY: admission errors are reported over the socket so
	// browser clients can read the reason, which a failed HTTP upgrade hides
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "role", role, "error", err)
		return
	}
	ws.SetReadLimit(h.cfg.ReadLimit)
	conn := NewConnection(ws, h.cfg.SendBuffer, h.cfg.WriteTimeout)

	adm, err := h.registry.Admit(r.Context(), conn, req)
	if err != nil {
		h.reject(conn, role, err)
		return
	}

	h.logger.Info("participant admitted",
		"class_id", adm.Participant.ClassID, "connection_id", conn.ID(),
		"role", role, "identity_id", adm.Participant.IdentityID)
	h.lifecycle.Admitted(adm)
	h.readLoop(conn, adm.Participant)
}

func (h *Handler) reject(conn *Connection, role types.Role, err error) {
	code := types.AdmissionCode(err)
	level := slog.LevelInfo
	if code == types.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(context.Background(), level, "admission rejected", "role", role, "code", code, "error", err)

	env, encErr := types.NewEnvelope(types.KindConnectionStatus, map[string]any{"error": code})
	if encErr == nil {
		broadcast.Stamp(env, time.Now())
		if frame, mErr := json.Marshal(env); mErr == nil {
			_ = conn.Send(frame)
		}
	}
	conn.CloseAfterFlush(websocket.ClosePolicyViolation, code)
}

func (h *Handler) readLoop(conn *Connection, sender types.ParticipantInfo) {
	reason := "closed"
	defer func() {
		h.registry.Remove(conn.ID(), reason)
		h.lifecycle.Forget(conn.ID())
	}()

	ws := conn.conn
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		h.registry.Touch(conn.ID())
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	malformed := 0
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read failed", "connection_id", conn.ID(), "error", err)
			}
			return
		}
		h.registry.Touch(conn.ID())
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var env *types.Envelope
		if messageType != websocket.TextMessage {
			err = fmt.Errorf("%w: binary frames are not supported", types.ErrMalformedEnvelope)
		} else {
			env, err = router.Decode(data)
		}
		if err != nil {
			malformed++
			h.lifecycle.Malformed(sender, err)
			if malformed >= h.cfg.MaxMalformed {
				h.logger.Info("closing connection after repeated malformed envelopes",
					"class_id", sender.ClassID, "connection_id", conn.ID(), "count", malformed)
				reason = "malformed"
				// let the writer deliver the last error reply before the socket goes
				conn.CloseAfterFlush(websocket.ClosePolicyViolation, reason)
				<-conn.Done()
				return
			}
			continue
		}
		malformed = 0

		if err := h.queue.Submit(sender, env); err != nil {
			h.logger.Warn("envelope dropped",
				"class_id", sender.ClassID, "connection_id", conn.ID(), "kind", env.Kind, "error", err)
		}
	}
}
