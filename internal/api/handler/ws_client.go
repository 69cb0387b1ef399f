package handler

import (
	"encoding/json"
	"log"
	"time"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/session"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// command is a client-originated instruction on the socket.
type command struct {
	Action      string             `json:"action"` // join | send | skip | logout | foreground
	DisplayName string             `json:"display_name,omitempty"`
	Interests   []string           `json:"interests,omitempty"`
	Content     string             `json:"content,omitempty"`
	Type        models.MessageType `json:"type,omitempty"`
	MediaRef    string             `json:"media_ref,omitempty"`
	Hidden      bool               `json:"hidden,omitempty"`
}

// frame is a server-originated message on the socket: either a state view or
// a surfaced error (with the draft content preserved for resubmission).
type frame struct {
	Kind  string        `json:"kind"` // "state" | "error"
	View  *session.View `json:"view,omitempty"`
	Error string        `json:"error,omitempty"`
	Draft string        `json:"draft,omitempty"`
}

// WSClient pumps one WebSocket connection: inbound commands go to the session
// controller, state views and errors stream back out.
type WSClient struct {
	Conn *websocket.Conn
	Ctrl *session.Controller
	send chan frame
}

// Run starts the pumps and the controller-updates forwarder.
func (c *WSClient) Run() {
	go c.writePump()
	go c.forwardUpdates()
	go c.readPump()
}

// forwardUpdates streams controller state transitions to the socket.
func (c *WSClient) forwardUpdates() {
	for {
		select {
		case <-c.Ctrl.Done():
			return
		case v := <-c.Ctrl.Updates():
			c.push(frame{Kind: "state", View: &v})
		}
	}
}

func (c *WSClient) push(f frame) {
	select {
	case c.send <- f:
	default:
		log.Printf("WARNING: Dropping frame for slow websocket client")
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.Ctrl.Shutdown()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error reading message: %v", err)
			}
			break
		}

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Printf("Error decoding command: %v", err)
			continue
		}
		c.dispatch(cmd)
	}
}

func (c *WSClient) dispatch(cmd command) {
	var err error
	switch cmd.Action {
	case "join":
		err = c.Ctrl.Join(cmd.DisplayName, cmd.Interests)
	case "send":
		if err = c.Ctrl.Send(cmd.Content, cmd.Type, cmd.MediaRef); err != nil {
			// Surface the failure with the draft intact; the client can
			// resubmit as typed.
			c.push(frame{Kind: "error", Error: err.Error(), Draft: cmd.Content})
			return
		}
	case "skip":
		err = c.Ctrl.Skip()
	case "logout":
		err = c.Ctrl.Logout()
	case "foreground":
		err = c.Ctrl.ForegroundChange(cmd.Hidden)
	default:
		log.Printf("Unknown command action %q", cmd.Action)
		return
	}
	if err != nil {
		c.push(frame{Kind: "error", Error: err.Error()})
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(f)
			if err != nil {
				log.Printf("Error encoding frame: %v", err)
				continue
			}
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)
			if err := w.Close(); err != nil {
				return
			}
		case <-c.Ctrl.Done():
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
