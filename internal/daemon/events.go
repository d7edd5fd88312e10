package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/felixgeelhaar/pylearn/internal/app"
)

const (
	eventBuffer  = 32
	writeTimeout = 5 * time.Second
)

// handleEvents streams controller events over a WebSocket. The current
// view is sent first so clients can render without polling /v1/state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "correlation_id", GetCorrelationID(r.Context()))
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	// The read side only watches for the client going away
	ctx := ws.CloseRead(r.Context())

	events := make(chan app.Event, eventBuffer)
	unsubscribe := s.ctrl.Hub().Subscribe(func(e app.Event) {
		select {
		case events <- e:
		default:
			slog.Warn("event stream lagging, dropping event", "type", e.Type)
		}
	})
	defer unsubscribe()

	if err := writeEvent(ctx, ws, app.NewEvent(app.EventView, s.ctrl.View(ctx))); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if err := writeEvent(ctx, ws, e); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, e app.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
