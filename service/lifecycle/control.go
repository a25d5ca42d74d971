package lifecycle

import (
	"context"
	"errors"
	"fmt"
)

// Control message types, the upper case spellings are accepted for older clients
const (
	MessageTypeSkipWait             = "skip-wait"
	MessageTypeSkipWaitLegacy       = "SKIP_WAITING"
	MessageTypeGetBackendList       = "get-backend-list"
	MessageTypeGetBackendListLegacy = "GET_BARE_SERVERS"

	MessageTypeBackendList = "backend-list"
	MessageTypeState       = "state"
)

var (
	ErrUnknownMessageType = errors.New("unknown control message type")
)

// Message is a control message sent to the service
type Message struct {
	Type string `json:"type"`
}

// Reply answers a control Message
type Reply struct {
	Type    string   `json:"type"`
	Servers []string `json:"servers,omitempty"`
	State   string   `json:"state,omitempty"`
}

// HandleMessage performs the control message and returns the reply to send back
func (m *Manager) HandleMessage(ctx context.Context, message Message) (Reply, error) {
	switch message.Type {
	case MessageTypeSkipWait, MessageTypeSkipWaitLegacy:
		if err := m.SkipWaiting(ctx); err != nil {
			return Reply{}, err
		}

		return Reply{
			Type:  MessageTypeState,
			State: string(m.State()),
		}, nil
	case MessageTypeGetBackendList, MessageTypeGetBackendListLegacy:
		return Reply{
			Type:    MessageTypeBackendList,
			Servers: m.Servers(),
		}, nil
	default:
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, message.Type)
	}
}
