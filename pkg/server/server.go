// Package server exposes the voice bridge's HTTP and WebSocket surface.
//
// HTTP endpoints place and finalize outbound calls, serve TwiML answer
// documents, receive Telco status callbacks (including answering-machine
// detection), and report optimization state. Two WebSocket endpoints
// accept Telco media streams and hand each one to a bridge session.
package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brightcall/voicebridge/pkg/amd"
	"github.com/brightcall/voicebridge/pkg/audio"
	"github.com/brightcall/voicebridge/pkg/bridge"
	"github.com/brightcall/voicebridge/pkg/config"
	"github.com/brightcall/voicebridge/pkg/predictor"
	"github.com/brightcall/voicebridge/pkg/telco"
)

// CallControl is the Telco call-control surface the server needs.
type CallControl interface {
	PlaceCall(to, answerURL, statusCallbackURL string) (string, error)
	EndCall(callSid string) error
}

// URLCache is the signed-URL cache surface the server needs.
type URLCache interface {
	GetURL(ctx context.Context) (string, error)
	Size() int
	Target() int
}

// Deps wires the server's collaborators.
type Deps struct {
	Calls     CallControl
	URLs      URLCache
	Registry  *amd.Registry
	Predictor *predictor.Predictor
	Tools     bridge.ToolDispatcher
	Greetings *audio.GreetingCache
}

// Server is the HTTP and WebSocket front of the voice bridge.
type Server struct {
	cfg  *config.Config
	deps Deps

	upgrader   websocket.Upgrader
	httpServer *http.Server

	sessionsMu sync.RWMutex
	sessions   map[string]*bridge.Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server bound to the configured port.
func New(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*bridge.Session),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/outbound-call", s.handleOutboundCall)
	mux.HandleFunc("/end-call", s.handleEndCall)
	mux.HandleFunc("/outbound-call-twiml", s.handleOutboundTwiML)
	mux.HandleFunc("/incoming-call-eleven", s.handleInboundTwiML)
	mux.HandleFunc("/twilio/inbound_call", s.handleInboundTwiML)
	mux.HandleFunc("/call-status", s.handleCallStatus)
	mux.HandleFunc("/optimization-status", s.handleOptimizationStatus)
	mux.HandleFunc("/media-stream", s.handleMediaStream(bridge.DirectionInbound))
	mux.HandleFunc("/outbound-media-stream", s.handleMediaStream(bridge.DirectionOutbound))

	return mux
}

// Start begins serving. It returns immediately; Stop shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.httpServer = &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.Handler(),
	}

	log.Printf("[Server] Listening on :%s", s.cfg.Port)
	log.Printf("[Server] Media stream endpoints: /media-stream, /outbound-media-stream")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Server] Serve error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully, closing active sessions.
func (s *Server) Stop() error {
	log.Printf("[Server] Stopping...")

	if s.cancel != nil {
		s.cancel()
	}

	s.sessionsMu.Lock()
	sessions := make([]*bridge.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.Unlock()
	for _, sess := range sessions {
		select {
		case <-sess.Done():
		case <-time.After(2 * time.Second):
		}
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}

	s.wg.Wait()
	log.Printf("[Server] Stopped")
	return nil
}

// handleMediaStream upgrades a Telco media WebSocket and runs a bridge
// session for it until the call ends.
func (s *Server) handleMediaStream(direction string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[Server] Media stream (%s) from %s", direction, r.RemoteAddr)

		wsConn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[Server] WebSocket upgrade failed: %v", err)
			return
		}

		session := bridge.NewSession(bridge.Config{
			Telco:     telco.NewConn(wsConn),
			URLs:      s.deps.URLs,
			Tools:     s.deps.Tools,
			AMD:       s.deps.Registry,
			Finalizer: s.deps.Calls,
			Greetings: s.deps.Greetings,
			Direction: direction,
		})

		s.addSession(session)
		defer s.removeSession(session)

		if s.deps.Predictor != nil && direction == bridge.DirectionInbound {
			s.deps.Predictor.Record()
		}

		ctx := s.ctx
		if ctx == nil {
			ctx = r.Context()
		}
		session.Run(ctx)
	}
}

func (s *Server) addSession(sess *bridge.Session) {
	s.sessionsMu.Lock()
	s.sessions[sess.ID()] = sess
	s.sessionsMu.Unlock()
}

func (s *Server) removeSession(sess *bridge.Session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess.ID())
	s.sessionsMu.Unlock()
	log.Printf("[Server] Session %s removed", sess.ID())
}

// sessionByCallSid finds the live session bound to a call, if any.
func (s *Server) sessionByCallSid(callSid string) *bridge.Session {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	for _, sess := range s.sessions {
		if sess.CallSid() == callSid {
			return sess
		}
	}
	return nil
}

func (s *Server) activeSessions() []*bridge.Session {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sessions := make([]*bridge.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}
