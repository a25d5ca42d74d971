package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinklegames/tinkle-proxy-service/service/lifecycle"
)

const (
	controlMessageMaxBytes = 4 << 10
	controlWriteTimeout    = 10 * time.Second

	MessageTypeError = "error"
)

// ControlErrorReply is sent back for control messages that could not be performed
type ControlErrorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

var controlUpgrader = websocket.Upgrader{
	ReadBufferSize:  controlMessageMaxBytes,
	WriteBufferSize: controlMessageMaxBytes,
	// pages served through the proxy live on other origins
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// controlErrorStatus maps a control message failure to a status code
func controlErrorStatus(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrUnknownMessageType):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrNotInstalled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// createControlHandler creates the handler answering control
// messages POSTed as JSON
func createControlHandler(service *ProxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var message lifecycle.Message
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, controlMessageMaxBytes)).Decode(&message); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			MarshalJSONResponse(ControlErrorReply{Type: MessageTypeError, Error: fmt.Sprintf("invalid control message: %v", err)}, w)
			return
		}

		reply, err := service.Lifecycle.HandleMessage(r.Context(), message)
		if err != nil {
			service.Debug().Msg(fmt.Sprintf("control message %+v failed: %s", message, err))

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(controlErrorStatus(err))
			MarshalJSONResponse(ControlErrorReply{Type: MessageTypeError, Error: err.Error()}, w)
			return
		}

		if err := MarshalJSONResponse(&reply, w); err != nil {
			service.Error().Msg(fmt.Sprintf("error %s encoding %+v to json", err, reply))
		}
	}
}

// createControlWebsocketHandler creates the handler of the control side channel,
// every text frame is a control message answered by one reply frame
func createControlWebsocketHandler(service *ProxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := controlUpgrader.Upgrade(w, r, nil)
		if err != nil {
			service.Debug().Msg(fmt.Sprintf("control websocket upgrade failed: %s", err))
			return
		}
		defer conn.Close()

		conn.SetReadLimit(controlMessageMaxBytes)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					service.Debug().Msg(fmt.Sprintf("control websocket read error: %s", err))
				}
				return
			}

			var frame interface{}
			var message lifecycle.Message
			if err := json.Unmarshal(data, &message); err != nil {
				frame = ControlErrorReply{Type: MessageTypeError, Error: fmt.Sprintf("invalid control message: %v", err)}
			} else if reply, err := service.Lifecycle.HandleMessage(r.Context(), message); err != nil {
				frame = ControlErrorReply{Type: MessageTypeError, Error: err.Error()}
			} else {
				frame = reply
			}

			if err := writeControlFrame(conn, frame); err != nil {
				service.Debug().Msg(fmt.Sprintf("control websocket write error: %s", err))
				return
			}
		}
	}
}

func writeControlFrame(conn *websocket.Conn, frame interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
