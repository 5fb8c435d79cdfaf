package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"crowdcounter/internal/logger"
	wshub "crowdcounter/internal/services/websocket"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveWebsocketHandler streams count updates to a viewer until it goes away.
func LiveWebsocketHandler(hub *wshub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warning("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(wshub.PongWait))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(wshub.PongWait))
			return nil
		})

		if !hub.Register(connection) {
			connection.Close()
			return
		}
		defer hub.Unregister(connection)

		// Viewers only listen; reading handles their pongs and close frames.
		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				return
			}
		}
	}
}
