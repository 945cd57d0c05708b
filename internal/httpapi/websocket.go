package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"backtester/pkg/backtester"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// wsConn serialises writes from worker goroutines onto one connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}

// handleBatchStream reads one BatchRequest frame, then streams a progress
// frame per finished symbol followed by a single result or error frame.
// Closing the connection cancels the queued runs of the batch.
func (s *Server) handleBatchStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()
	streamsActive.Inc()
	defer streamsActive.Dec()

	var req backtester.BatchRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.log.Warn("reading batch request", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The client sends nothing after the request, so a failed read means
	// it went away.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	ws := &wsConn{conn: conn}
	res, err := s.svc.Batch(ctx, req, func(p backtester.Progress) {
		_ = ws.send(backtester.StreamMessage{Type: backtester.MessageProgress, Progress: &p})
	})
	if err != nil {
		_ = ws.send(backtester.StreamMessage{Type: backtester.MessageError, Error: err.Error()})
		return
	}
	if err := ws.send(backtester.StreamMessage{Type: backtester.MessageResult, Batch: res}); err != nil {
		s.log.Warn("writing batch result", "error", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// handleEvents streams the progress events of every batch and grid search
// run by the server until the client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()
	streamsActive.Inc()
	defer streamsActive.Dec()

	hub := s.svc.Hub()
	id, events := hub.Subscribe(256)
	defer hub.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ws := &wsConn{conn: conn}
	for {
		select {
		case <-done:
			return
		case e := <-events:
			if err := ws.send(e); err != nil {
				return
			}
		}
	}
}
