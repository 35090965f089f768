package gateway

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dkriz/voicegate/internal/tool"
	"github.com/dkriz/voicegate/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// DefaultIdleTimeout is how long a connection may stay silent before the
// server drops it.
const DefaultIdleTimeout = 6000 * time.Second

// Server accepts device connections and runs one read loop per connection.
type Server struct {
	handler     *Handler
	sessions    *SessionRegistry
	builtins    *tool.Registry
	tts         tts.Client
	idleTimeout time.Duration
	logger      *log.Logger
}

// ServerConfig bundles the collaborators of the websocket endpoint.
type ServerConfig struct {
	Handler     *Handler
	Builtins    *tool.Registry
	TTS         tts.Client
	IdleTimeout time.Duration
}

// NewServer creates the websocket endpoint.
func NewServer(cfg ServerConfig, logger *log.Logger) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Server{
		handler:     cfg.Handler,
		sessions:    NewSessionRegistry(),
		builtins:    cfg.Builtins,
		tts:         cfg.TTS,
		idleTimeout: cfg.IdleTimeout,
		logger:      logger,
	}
}

// Sessions exposes the live-session registry.
func (srv *Server) Sessions() *SessionRegistry { return srv.sessions }

// HandleWS upgrades the request and serves the connection until it drops.
func (srv *Server) HandleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		srv.logger.Printf("gateway: upgrade failed: %v", err)
		return
	}

	sess := NewSession(uuid.NewString(), req.RemoteAddr, conn, srv.builtins, srv.tts, srv.logger)
	srv.sessions.Add(sess)
	srv.logger.Printf("gateway: connection from %s (session %s)", req.RemoteAddr, sess.ID)

	srv.serve(sess, conn)
}

func (srv *Server) serve(sess *Session, conn *websocket.Conn) {
	defer func() {
		srv.handler.Disconnected(sess)
		sess.Teardown()
		srv.sessions.Remove(sess.ID)
		conn.Close()
		srv.logger.Printf("gateway: session %s closed", sess.Label())
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(srv.idleTimeout)); err != nil {
			srv.logger.Printf("gateway: session %s: set read deadline: %v", sess.Label(), err)
			return
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				srv.logger.Printf("gateway: session %s disconnected", sess.Label())
			} else {
				srv.logger.Printf("gateway: session %s read error: %v", sess.Label(), err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if err := srv.handler.HandleText(sess, data); err != nil {
				if !errors.Is(err, errCloseConnection) {
					srv.logger.Printf("gateway: session %s: %v", sess.Label(), err)
				}
				return
			}
		case websocket.BinaryMessage:
			srv.handler.HandleBinary(sess, data)
		default:
			srv.logger.Printf("gateway: session %s: ignoring message type %d", sess.Label(), msgType)
		}
	}
}
