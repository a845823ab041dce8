// Package server exposes the engine to the UI collaborator over a websocket
// bridge. The UI sends chat, consent, and cancel frames; the engine streams
// events back on the same connection.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"appforge/internal/engine"
	"appforge/internal/tools"
)

// Frame is an inbound message from the UI.
type Frame struct {
	Type           string `json:"type"` // "chat", "consent_response", "cancel"
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	Decision       string `json:"decision,omitempty"` // "accept-once", "accept-always", "decline"
}

// Server is the websocket bridge.
type Server struct {
	ctrl *engine.Controller
	log  *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu       sync.Mutex
	sessions map[*session]struct{}
	cancels  map[string]context.CancelFunc // running loop per conversation
}

// New creates a bridge for the controller.
func New(addr string, ctrl *engine.Controller, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		ctrl: ctrl,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local desktop bridge; the listener binds loopback.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
		cancels:  make(map[string]context.CancelFunc),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// NotifyConsent broadcasts a pending consent request to every connected UI
// session. Wire it as the consent gate's notify callback.
func (s *Server) NotifyConsent(req tools.ConsentRequest) {
	ev := engine.StreamEvent{
		Event: engine.EventConsentRequest,
		Name:  req.ToolName,
		RunID: req.RequestID,
		Data:  req,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		sess.send(ev)
	}
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown cancels every running loop and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	for sess := range s.sessions {
		sess.close()
	}
	s.mu.Unlock()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sess := &session{conn: conn, log: s.log}

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		sess.close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			sess.send(engine.StreamEvent{Event: engine.EventError, Text: "malformed frame"})
			continue
		}
		s.handleFrame(sess, frame)
	}
}

func (s *Server) handleFrame(sess *session, frame Frame) {
	switch frame.Type {
	case "chat":
		s.startChat(sess, frame)
	case "consent_response":
		d := tools.Decision(frame.Decision)
		switch d {
		case tools.DecisionAcceptOnce, tools.DecisionAcceptAlways, tools.DecisionDecline:
		default:
			sess.send(engine.StreamEvent{Event: engine.EventError, Text: "unknown decision " + frame.Decision})
			return
		}
		if !s.ctrl.Registry().Gate().Resolve(frame.RequestID, d) {
			s.log.Debug("stale consent response", zap.String("request", frame.RequestID))
		}
	case "cancel":
		s.mu.Lock()
		cancel := s.cancels[frame.ConversationID]
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	default:
		sess.send(engine.StreamEvent{Event: engine.EventError, Text: "unknown frame type " + frame.Type})
	}
}

func (s *Server) startChat(sess *session, frame Frame) {
	if frame.ConversationID == "" || frame.Message == "" {
		sess.send(engine.StreamEvent{Event: engine.EventError, Text: "chat requires conversation_id and message"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if _, running := s.cancels[frame.ConversationID]; running {
		s.mu.Unlock()
		cancel()
		sess.send(engine.StreamEvent{
			Event:          engine.EventError,
			ConversationID: frame.ConversationID,
			Text:           "conversation already has a running request",
		})
		return
	}
	s.cancels[frame.ConversationID] = cancel
	s.mu.Unlock()

	events := make(chan engine.StreamEvent, 64)
	go func() {
		for ev := range events {
			sess.send(ev)
		}
	}()
	go func() {
		defer func() {
			close(events)
			cancel()
			s.mu.Lock()
			delete(s.cancels, frame.ConversationID)
			s.mu.Unlock()
		}()
		if _, err := s.ctrl.Run(ctx, frame.ConversationID, frame.Message, events); err != nil {
			sess.send(engine.StreamEvent{
				Event:          engine.EventError,
				ConversationID: frame.ConversationID,
				Text:           err.Error(),
			})
		}
	}()
}

// session wraps one websocket connection. gorilla/websocket supports one
// concurrent writer, so all writes funnel through the mutex.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  *zap.Logger
}

func (s *session) send(ev engine.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteJSON(ev); err != nil {
		s.log.Debug("websocket write failed", zap.Error(err))
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}
