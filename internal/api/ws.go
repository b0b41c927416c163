package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/common"
	"github.com/asuasu0131/parking-monitor/internal/engine"
	"github.com/asuasu0131/parking-monitor/internal/protocol"
	"github.com/asuasu0131/parking-monitor/internal/reactive"
)

// WSOptions tunes websocket sessions. Zero fields take the defaults below.
type WSOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	ReadLimit      int64
	AllowedOrigins []string
}

func (o WSOptions) withDefaults() WSOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = o.PongTimeout * 9 / 10
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	return o
}

var errSendQueueFull = errors.New("send queue full")

// WSHandler holds shared resources injected from app.Server
type WSHandler struct {
	eng      *engine.Engine
	opts     WSOptions
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

func NewWSHandler(eng *engine.Engine, opts WSOptions, log *zap.Logger) *WSHandler {
	opts = opts.withDefaults()
	h := &WSHandler{eng: eng, opts: opts, log: log, sessions: make(map[string]*session)}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)}
	return h
}

// originChecker allows requests without an Origin header, any origin when
// the list contains "*", and otherwise exact case-insensitive matches.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// session owns one connection. Only writeLoop writes to conn; send enqueues
// without blocking so a slow viewer cannot stall a broadcast.
type session struct {
	id   string
	conn *websocket.Conn
	opts WSOptions
	log  *zap.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) send(msgType string, payload any) error {
	select {
	case <-s.done:
		return reactive.ErrClientGone
	default:
	}

	frame, err := json.Marshal(outbound{Type: msgType, Data: payload})
	if err != nil {
		return err
	}

	select {
	case s.out <- frame:
		return nil
	case <-s.done:
		return reactive.ErrClientGone
	default:
		s.log.Warn("closing slow client", zap.String("conn_id", s.id))
		s.close()
		return errSendQueueFull
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.close()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("ws write failed", zap.String("conn_id", s.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				s.log.Debug("ws ping failed", zap.String("conn_id", s.id), zap.Error(err))
				return
			}
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
			return
		}
	}
}

// HandleWS upgrades the connection, registers it with the engine and feeds
// inbound frames to the dispatcher until the peer goes away.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Info("upgrade failed", zap.Error(err))
		return
	}

	id := common.NewConnectionID()
	s := &session{
		id:   id,
		conn: conn,
		opts: h.opts,
		log:  h.log,
		out:  make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	go s.writeLoop()
	h.track(s)

	log := h.log.With(zap.String("conn_id", id))
	log.Info("client connected", zap.String("remote", r.RemoteAddr))

	_ = s.send(protocol.TypeConnected, protocol.Connected{ID: id})
	h.eng.Connect(&reactive.Client{ID: id, Send: s.send})
	defer func() {
		h.eng.Disconnect(id)
		s.close()
		h.untrack(id)
		log.Info("client disconnected")
	}()

	conn.SetReadLimit(h.opts.ReadLimit)
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error { extend(); return nil })

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ws read error", zap.Error(err))
			}
			return
		}
		extend()
		protocol.HandleMessage(h.eng, id, msg, s.send, log)
	}
}

func (h *WSHandler) track(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

func (h *WSHandler) untrack(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// CloseAll closes every open session. Hijacked connections are not covered
// by http.Server.Shutdown.
func (h *WSHandler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		s.close()
	}
}
