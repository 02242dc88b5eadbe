// Package stream pushes section state to open new tab pages over a websocket.
package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/newtab-sections/internal/logging"
	"github.com/shehryarbajwa/newtab-sections/internal/registry"
	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// MessageSnapshot is the first message on every connection
const MessageSnapshot = "snapshot"

var log = logging.ForComponent(logging.CompStream)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Registry is the part of the section registry the stream reads from
type Registry interface {
	List(enabledOnly bool) []*models.Section
	Subscribe(fn registry.Listener) func()
	Dispatch(action string, payload any)
}

// Message is one JSON frame sent to a page
type Message struct {
	Type      string            `json:"type"`
	ClientID  string            `json:"clientId,omitempty"`
	SectionID string            `json:"sectionId,omitempty"`
	Section   *models.Section   `json:"section,omitempty"`
	Sections  []*models.Section `json:"sections,omitempty"`
}

// Server streams registry changes to new tab pages
type Server struct {
	registry Registry
}

// NewServer creates a stream over the given registry
func NewServer(reg Registry) *Server {
	return &Server{
		registry: reg,
	}
}

// ServeHTTP upgrades the request and streams section changes until the page
// disconnects. Opening a connection counts as opening a new tab.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	logger := log.With(slog.String("client", clientID))

	out := make(chan Message, sendBuffer)
	unsubscribe := s.registry.Subscribe(func(ev models.Event) {
		switch ev.Kind {
		case models.EventUpdateSection, models.EventEnableSection, models.EventDisableSection:
		default:
			return
		}
		msg := Message{Type: string(ev.Kind), SectionID: ev.SectionID, Section: ev.Section}
		select {
		case out <- msg:
		default:
			logger.Warn("message_dropped", slog.String("type", msg.Type), slog.String("section", ev.SectionID))
		}
	})
	defer unsubscribe()

	logger.Info("client_connected", slog.String("remote", r.RemoteAddr))

	s.registry.Dispatch(models.ActionNewTabOpened, map[string]string{"clientId": clientID})

	snapshot := Message{
		Type:     MessageSnapshot,
		ClientID: clientID,
		Sections: s.registry.List(true),
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snapshot); err != nil {
		logger.Warn("snapshot_failed", slog.String("error", err.Error()))
		return
	}

	done := make(chan struct{})
	go s.readLoop(conn, done)

	err = s.writeLoop(conn, out, done)
	if err != nil {
		logger.Debug("write_failed", slog.String("error", err.Error()))
	}
	logger.Info("client_disconnected")
}

// readLoop discards page frames; it exists to process control frames and to
// notice the connection closing
func (s *Server) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("read_failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, out <-chan Message, done <-chan struct{}) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case msg := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
