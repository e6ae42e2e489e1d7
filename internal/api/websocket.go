package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"papertrade-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// websocket streams bar ticks and order lifecycle events to the client.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	subscribed := []events.Event{
		events.EventBarTick,
		events.EventOrderSubmitted,
		events.EventOrderPendingApproval,
		events.EventOrderApproved,
		events.EventOrderFilled,
		events.EventOrderRejected,
		events.EventOrderCancelled,
		events.EventPositionChange,
	}

	merged := make(chan wsFrame, 256)
	done := make(chan struct{})
	defer close(done)

	for _, e := range subscribed {
		stream, unsub := s.Bus.Subscribe(e, 100)
		defer unsub()
		go func(event events.Event, ch <-chan any) {
			for msg := range ch {
				select {
				case merged <- wsFrame{Event: string(event), Payload: msg}:
				case <-done:
					return
				}
			}
		}(e, stream)
	}

	for frame := range merged {
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
