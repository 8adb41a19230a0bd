// Package chat implements a real-time chat and presence core: a JSON
// wire protocol over WebSockets, a per-connection session state machine,
// and a room manager that mediates membership, broadcast, and presence.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Client-to-server actions.
const (
	ActionAuthenticate = "authenticate"
	ActionJoin         = "join"
	ActionLeave        = "leave"
	ActionSendMessage  = "sendMessage"
	ActionGetRoomInfo  = "getRoomInfo"
)

// Server-to-client event types.
const (
	EventAuthenticated    = "authenticated"
	EventJoined           = "joined"
	EventLeft             = "left"
	EventUserJoined       = "userJoined"
	EventUserDisconnected = "userDisconnected"
	EventOnlineUsers      = "onlineUsers"
	EventRoomInfo         = "roomInfo"
	EventMessage          = "message"
	EventError            = "error"
)

// Message kinds carried by sendMessage.
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// ErrMalformed marks payloads that could not be decoded at all. A
// connection sending one is treated as protocol-broken and closed;
// a decodable intent with missing fields only earns an error event.
var ErrMalformed = errors.New("malformed payload")

// RoomRef names a room in a join intent and in joined events.
type RoomRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

// ChatMessage is the payload of a sendMessage intent.
type ChatMessage struct {
	ChatRoomID  string `json:"chatRoomId" validate:"required"`
	Message     string `json:"message" validate:"required"`
	MessageType string `json:"messageType" validate:"omitempty,oneof=text system"`
}

// Intent is the envelope for every client-to-server message. Which
// fields are required depends on the action.
type Intent struct {
	Action      string       `json:"action" validate:"required,oneof=authenticate join leave sendMessage getRoomInfo"`
	Token       string       `json:"token,omitempty"`
	Room        *RoomRef     `json:"room,omitempty"`
	RoomID      string       `json:"roomId,omitempty"`
	ChatMessage *ChatMessage `json:"chatMessage,omitempty"`
}

// RoomInfo is the roster snapshot sent in roomInfo events and returned
// by the room listing endpoint. Members are display names in join order.
type RoomInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Event is the envelope for every server-to-client message. Only the
// fields relevant to Type are populated.
type Event struct {
	Type        string     `json:"type"`
	Message     string     `json:"message,omitempty"`
	RoomID      string     `json:"roomId,omitempty"`
	Room        *RoomInfo  `json:"room,omitempty"`
	User        *Identity  `json:"user,omitempty"`
	Users       []Identity `json:"users,omitempty"`
	ChatRoomID  string     `json:"chatRoomId,omitempty"`
	Sender      string     `json:"sender,omitempty"`
	MessageType string     `json:"messageType,omitempty"`
	Timestamp   time.Time  `json:"timestamp,omitzero"`
}

var validate = validator.New()

// decodeIntent unmarshals and validates a client payload. JSON errors
// come back wrapped in ErrMalformed; everything else is recoverable.
func decodeIntent(data []byte) (Intent, error) {
	var intent Intent

	if err := json.Unmarshal(data, &intent); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := validate.Struct(intent); err != nil {
		return Intent{}, fmt.Errorf("invalid intent: %w", err)
	}

	switch intent.Action {
	case ActionAuthenticate:
		if intent.Token == "" {
			return Intent{}, errors.New("authenticate requires a token")
		}
	case ActionJoin:
		if intent.Room == nil {
			return Intent{}, errors.New("join requires a room")
		}
		if err := validate.Struct(intent.Room); err != nil {
			return Intent{}, fmt.Errorf("invalid room: %w", err)
		}
	case ActionLeave, ActionGetRoomInfo:
		if intent.RoomID == "" {
			return Intent{}, fmt.Errorf("%s requires a roomId", intent.Action)
		}
	case ActionSendMessage:
		if intent.ChatMessage == nil {
			return Intent{}, errors.New("sendMessage requires a chatMessage")
		}
		if err := validate.Struct(intent.ChatMessage); err != nil {
			return Intent{}, fmt.Errorf("invalid chatMessage: %w", err)
		}
	}

	return intent, nil
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

func messageEvent(roomID string, sender Identity, msg ChatMessage) Event {
	messageType := msg.MessageType
	if messageType == "" {
		messageType = MessageTypeText
	}

	return Event{
		Type:        EventMessage,
		ChatRoomID:  roomID,
		Sender:      sender.Username,
		Message:     msg.Message,
		MessageType: messageType,
		Timestamp:   time.Now(),
	}
}
