package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// State is the per-connection session state. A connection only exists
// while the socket is open, so the pre-dial Disconnected state of the
// client mirror has no server-side counterpart.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateRoomJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateRoomJoined:
		return "roomJoined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type stateEvent int

const (
	eventAuthenticated stateEvent = iota
	eventJoined
	eventLeft
	eventClosed
)

// nextState is the single authoritative transition function for the
// session state machine. Every state change goes through it, so
// impossible flag combinations cannot exist.
func nextState(cur State, ev stateEvent) (State, error) {
	switch ev {
	case eventAuthenticated:
		if cur == StateConnecting {
			return StateAuthenticated, nil
		}
	case eventJoined:
		if cur == StateAuthenticated || cur == StateRoomJoined {
			return StateRoomJoined, nil
		}
	case eventLeft:
		if cur == StateRoomJoined {
			return StateAuthenticated, nil
		}
	case eventClosed:
		return StateClosed, nil
	}

	return cur, fmt.Errorf("illegal transition from %q", cur)
}

// Conn owns one physical duplex connection: it runs the session state
// machine, decodes intents, and forwards validated ones to the room
// manager. The manager holds only a non-owning reference and never
// assumes the socket is still alive beyond enqueue succeeding.
type Conn struct {
	id   string
	sock *websocket.Conn
	send chan Event
	done chan struct{}
	once sync.Once

	mu          sync.Mutex
	state       State
	identity    Identity
	currentRoom string

	srv *Server
}

func newConn(sock *websocket.Conn, srv *Server) *Conn {
	buffer := srv.opts.SendBuffer
	if buffer < 1 {
		buffer = 8
	}

	return &Conn{
		id:   uuid.NewString(),
		sock: sock,
		send: make(chan Event, buffer),
		done: make(chan struct{}),
		srv:  srv,
	}
}

// Identity returns the identity bound at authentication time. Zero
// before the handshake completes.
func (c *Conn) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.identity
}

// State returns the current session state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Conn) snapshotSession() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state, c.currentRoom
}

func (c *Conn) advance(ev stateEvent, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := nextState(c.state, ev)
	if err != nil {
		return err
	}

	c.state = next
	c.currentRoom = roomID

	return nil
}

// enqueue hands an event to the write pump without ever blocking a room
// operation. A full or closed queue means the peer is unreachable.
func (c *Conn) enqueue(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// drop makes the connection unusable. Safe to call from any goroutine,
// any number of times.
func (c *Conn) drop() {
	c.once.Do(func() {
		close(c.done)
		if c.sock != nil {
			_ = c.sock.Close()
		}
	})
}

// teardown runs exactly once when the read pump exits. Physical close
// is treated identically to an explicit leave: membership and presence
// reflect the absence before the handler returns.
func (c *Conn) teardown() {
	c.mu.Lock()
	room := c.currentRoom
	c.currentRoom = ""
	c.state = StateClosed
	c.mu.Unlock()

	if room != "" {
		c.srv.mgr.Leave(c, room)
	}

	c.drop()
	c.srv.logf("CHAT: Connection %s closed", c.id)
}

func (c *Conn) readPump() {
	defer c.teardown()

	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}

		intent, err := decodeIntent(data)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				// Unrecoverable protocol violation; the session ends here.
				c.enqueue(errorEvent("malformed payload"))
				c.srv.logf("CHAT: Closing %s: %v", c.id, err)
				return
			}
			c.enqueue(errorEvent(err.Error()))
			continue
		}

		c.handle(intent)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush whatever was queued before the drop, then say goodbye.
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.sock.WriteJSON(<-c.send); err != nil {
					return
				}
			}
			_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Conn) handle(intent Intent) {
	if intent.Action != ActionAuthenticate {
		if st, _ := c.snapshotSession(); st == StateConnecting {
			c.enqueue(errorEvent("not authenticated"))
			return
		}
	}

	switch intent.Action {
	case ActionAuthenticate:
		c.handleAuthenticate(intent.Token)
	case ActionJoin:
		c.handleJoin(*intent.Room)
	case ActionLeave:
		c.handleLeave(intent.RoomID)
	case ActionSendMessage:
		c.handleSendMessage(*intent.ChatMessage)
	case ActionGetRoomInfo:
		c.handleGetRoomInfo(intent.RoomID)
	}
}

func (c *Conn) handleAuthenticate(token string) {
	if st, _ := c.snapshotSession(); st != StateConnecting {
		c.enqueue(errorEvent("already authenticated"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.srv.authTimeout())
	defer cancel()

	identity, err := c.srv.verifier.Verify(ctx, token)
	if err != nil {
		c.srv.logf("CHAT: Authentication failed for %s: %v", c.id, err)
		c.enqueue(errorEvent("invalid token"))
		return
	}

	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()

	if err := c.advance(eventAuthenticated, ""); err != nil {
		c.enqueue(errorEvent("already authenticated"))
		return
	}

	c.srv.logf("CHAT: Connection %s authenticated as %q", c.id, identity.Username)
	c.enqueue(Event{Type: EventAuthenticated, User: &identity})
}

func (c *Conn) handleJoin(ref RoomRef) {
	st, cur := c.snapshotSession()

	// At most one room per connection: switching rooms leaves the old
	// one first.
	if st == StateRoomJoined && cur != ref.ID {
		c.srv.mgr.Leave(c, cur)
		if err := c.advance(eventLeft, ""); err != nil {
			return
		}
		c.enqueue(Event{Type: EventLeft, RoomID: cur})
	}

	snap := c.srv.mgr.Join(c, ref)
	if err := c.advance(eventJoined, snap.ID); err != nil {
		return
	}

	c.srv.logf("CHAT: %q joined room %q", c.Identity().Username, snap.ID)
}

func (c *Conn) handleLeave(roomID string) {
	st, cur := c.snapshotSession()
	if st != StateRoomJoined || cur != roomID {
		// Leaving a room you are not in is a safe no-op, and staying
		// silent avoids leaking which rooms exist.
		c.srv.logf("CHAT: Ignoring leave of %q from %s", roomID, c.id)
		return
	}

	c.srv.mgr.Leave(c, roomID)
	if err := c.advance(eventLeft, ""); err != nil {
		return
	}

	c.enqueue(Event{Type: EventLeft, RoomID: roomID})
	c.srv.logf("CHAT: %q left room %q", c.Identity().Username, roomID)
}

func (c *Conn) handleSendMessage(msg ChatMessage) {
	err := c.srv.mgr.Broadcast(c, msg)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		c.enqueue(errorEvent("not found"))
	case errors.Is(err, ErrNotAMember):
		// The server, not the client, is authoritative on membership.
		c.srv.logf("CHAT: Dropping message to %q from non-member %s", msg.ChatRoomID, c.id)
	}
}

func (c *Conn) handleGetRoomInfo(roomID string) {
	snap, ok := c.srv.mgr.Snapshot(roomID)
	if !ok {
		c.enqueue(errorEvent("not found"))
		return
	}

	c.enqueue(Event{Type: EventRoomInfo, Room: &snap})
}
