package uibridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agenthive/internal/logging"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a silent client is tolerated.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 1 << 20

	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Session is one websocket-connected web client. The write pump serializes
// outbound command frames; the read pump feeds result frames back into the
// broker and detaches on disconnect.
type Session struct {
	id     string
	broker *Broker
	conn   *websocket.Conn

	send chan CommandFrame
	done chan struct{}
	once sync.Once
}

// Upgrade turns an HTTP request into an attached Session and starts its
// pumps. The new session becomes the broker's active session immediately.
func Upgrade(b *Broker, w http.ResponseWriter, r *http.Request) (*Session, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:     uuid.NewString(),
		broker: b,
		conn:   conn,
		send:   make(chan CommandFrame, sendBuffer),
		done:   make(chan struct{}),
	}
	b.Attach(s)

	go s.writePump()
	go s.readPump()
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Deliver hands a command frame to the write pump.
func (s *Session) Deliver(frame CommandFrame) error {
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrNoActiveSession
	}
}

// Close tears down the connection. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) readPump() {
	defer func() {
		s.broker.Detach(s)
		s.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame ResultFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.UI("Session %s: read error: %v", s.id, err)
			}
			return
		}
		if frame.ID == "" {
			logging.UIDebug("Session %s: dropping result frame without id", s.id)
			continue
		}
		s.broker.resolveFrame(frame)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				logging.UI("Session %s: write error: %v", s.id, err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
