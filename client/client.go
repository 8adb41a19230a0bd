// Package client is the Go mirror of the chat session state machine:
// it tracks the same Connecting → Authenticated → RoomJoined lifecycle
// as the server and refuses to emit intents that are illegal in the
// current state, so transport and UI state can never disagree on the
// wire.
package client

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"parley/chat"
)

// State is the client-side session state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateRoomJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateRoomJoined:
		return "roomJoined"
	}
	return "unknown"
}

var (
	ErrNotConnected     = errors.New("not connected")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotInRoom        = errors.New("not in that room")
)

// Client is a chat connection handle. The zero value is ready to use;
// it is not safe to share a single Client across independent sessions,
// but all methods are safe for concurrent use.
type Client struct {
	mu          sync.Mutex
	sock        *websocket.Conn
	state       State
	currentRoom string
	listeners   map[int]func(chat.Event)
	nextID      int
}

// PrivateChannelID derives the shared room id for a 1:1 conversation.
// Both parties compute it independently and simply join it; lazy room
// creation on the server turns that into a shared room with no
// coordination round-trip.
func PrivateChannelID(userA, userB string) string {
	return chat.PrivateChannelID(userA, userB)
}

// Connect dials the chat endpoint and immediately runs the
// authentication handshake. There is no automatic reconnection: when
// the connection drops, the caller decides whether to Connect again and
// re-run the authenticate→join sequence.
func (c *Client) Connect(ctx context.Context, url, token string) error {
	c.mu.Lock()
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.state = StateDisconnected
	c.currentRoom = ""
	c.mu.Unlock()

	sock, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sock = sock
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.write(chat.Intent{Action: chat.ActionAuthenticate, Token: token}); err != nil {
		c.Disconnect()
		return err
	}

	go c.readLoop(sock)

	return nil
}

// OnEvent subscribes to every server event and returns an unsubscribe
// function. Disconnect tears down all subscriptions.
func (c *Client) OnEvent(fn func(chat.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listeners == nil {
		c.listeners = make(map[int]func(chat.Event))
	}

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// JoinRoom asks to join a room; valid once authenticated. Joining a
// second room implicitly leaves the first on the server side.
func (c *Client) JoinRoom(roomID, roomName string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}

	return c.write(chat.Intent{
		Action: chat.ActionJoin,
		Room:   &chat.RoomRef{ID: roomID, Name: roomName},
	})
}

// LeaveRoom leaves the room currently joined.
func (c *Client) LeaveRoom(roomID string) error {
	c.mu.Lock()
	ok := c.state == StateRoomJoined && c.currentRoom == roomID
	c.mu.Unlock()

	if !ok {
		return ErrNotInRoom
	}

	return c.write(chat.Intent{Action: chat.ActionLeave, RoomID: roomID})
}

// SendMessage sends a chat message to the joined room. A room mismatch
// is a deliberate silent no-op rather than an error: UI state and
// transport state can transiently disagree during a room switch, and
// the stale send should simply vanish.
func (c *Client) SendMessage(roomID, body, messageType string) error {
	c.mu.Lock()
	ok := c.state == StateRoomJoined && c.currentRoom == roomID
	c.mu.Unlock()

	if !ok {
		return nil
	}

	if messageType == "" {
		messageType = chat.MessageTypeText
	}

	return c.write(chat.Intent{
		Action: chat.ActionSendMessage,
		ChatMessage: &chat.ChatMessage{
			ChatRoomID:  roomID,
			Message:     body,
			MessageType: messageType,
		},
	})
}

// GetRoomInfo requests the current roster of a room; the reply arrives
// as a roomInfo event.
func (c *Client) GetRoomInfo(roomID string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}

	return c.write(chat.Intent{Action: chat.ActionGetRoomInfo, RoomID: roomID})
}

// Disconnect closes the connection and clears identity, room, and all
// listeners. The server observes this identically to an explicit leave.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}

	c.state = StateDisconnected
	c.currentRoom = ""
	c.listeners = nil
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// CurrentRoom returns the id of the joined room, or "".
func (c *Client) CurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.currentRoom
}

func (c *Client) requireAuthenticated() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDisconnected:
		return ErrNotConnected
	case StateConnecting:
		return ErrNotAuthenticated
	}

	return nil
}

func (c *Client) write(intent chat.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sock == nil {
		return ErrNotConnected
	}

	return c.sock.WriteJSON(intent)
}

func (c *Client) readLoop(sock *websocket.Conn) {
	for {
		var ev chat.Event
		if err := sock.ReadJSON(&ev); err != nil {
			c.mu.Lock()
			if c.sock == sock {
				c.sock = nil
				c.state = StateDisconnected
				c.currentRoom = ""
			}
			c.mu.Unlock()
			return
		}

		c.apply(sock, ev)
	}
}

// apply is the client's authoritative transition function; every state
// change driven by a server event goes through it.
func (c *Client) apply(sock *websocket.Conn, ev chat.Event) {
	c.mu.Lock()

	if c.sock != sock {
		c.mu.Unlock()
		return
	}

	switch ev.Type {
	case chat.EventAuthenticated:
		if c.state == StateConnecting {
			c.state = StateAuthenticated
		}

	case chat.EventJoined:
		c.state = StateRoomJoined
		switch {
		case ev.RoomID != "":
			c.currentRoom = ev.RoomID
		case ev.Room != nil:
			c.currentRoom = ev.Room.ID
		}

	case chat.EventLeft:
		if c.state == StateRoomJoined {
			c.state = StateAuthenticated
		}
		c.currentRoom = ""

	case chat.EventError:
		msg := strings.ToLower(ev.Message)
		if strings.Contains(msg, "not authenticated") {
			c.state = StateConnecting
		}
		if strings.Contains(msg, "not found") && c.state == StateRoomJoined {
			c.state = StateAuthenticated
			c.currentRoom = ""
		}
	}

	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fns := make([]func(chat.Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
