package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"parley/chat"
)

func TestGuardsBeforeConnect(t *testing.T) {
	req := require.New(t)

	var cl Client

	req.Equal(StateDisconnected, cl.State())
	req.ErrorIs(cl.JoinRoom("general", "General"), ErrNotConnected)
	req.ErrorIs(cl.GetRoomInfo("general"), ErrNotConnected)
	req.ErrorIs(cl.LeaveRoom("general"), ErrNotInRoom)

	// A stale send is a deliberate no-op, not an error.
	req.NoError(cl.SendMessage("general", "hello", ""))
}

func TestSendMessageRoomMismatchIsNoOp(t *testing.T) {
	req := require.New(t)

	cl := &Client{state: StateRoomJoined, currentRoom: "general"}

	// UI thinks it is still in another room; nothing goes on the wire
	// and nothing changes.
	req.NoError(cl.SendMessage("lounge", "stale", ""))
	req.Equal(StateRoomJoined, cl.State())
	req.Equal("general", cl.CurrentRoom())

	// Matching room but no socket: surfaced, since this send was legal.
	req.ErrorIs(cl.SendMessage("general", "hello", ""), ErrNotConnected)
}

func TestApplyTransitions(t *testing.T) {
	tests := []struct {
		name     string
		start    State
		room     string
		ev       chat.Event
		want     State
		wantRoom string
	}{
		{"authenticated", StateConnecting, "", chat.Event{Type: chat.EventAuthenticated}, StateAuthenticated, ""},
		{"authenticated out of order", StateAuthenticated, "", chat.Event{Type: chat.EventAuthenticated}, StateAuthenticated, ""},
		{"joined by room id", StateAuthenticated, "", chat.Event{Type: chat.EventJoined, RoomID: "general"}, StateRoomJoined, "general"},
		{"joined by room ref", StateAuthenticated, "", chat.Event{Type: chat.EventJoined, Room: &chat.RoomInfo{ID: "lounge"}}, StateRoomJoined, "lounge"},
		{"left", StateRoomJoined, "general", chat.Event{Type: chat.EventLeft, RoomID: "general"}, StateAuthenticated, ""},
		{"not authenticated error", StateAuthenticated, "", chat.Event{Type: chat.EventError, Message: "not authenticated"}, StateConnecting, ""},
		{"room not found error", StateRoomJoined, "ghost", chat.Event{Type: chat.EventError, Message: "not found"}, StateAuthenticated, ""},
		{"unrelated error", StateRoomJoined, "general", chat.Event{Type: chat.EventError, Message: "invalid intent"}, StateRoomJoined, "general"},
		{"message leaves state alone", StateRoomJoined, "general", chat.Event{Type: chat.EventMessage, Message: "hi"}, StateRoomJoined, "general"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)

			cl := &Client{state: tt.start, currentRoom: tt.room}
			cl.apply(nil, tt.ev)

			req.Equal(tt.want, cl.State())
			req.Equal(tt.wantRoom, cl.CurrentRoom())
		})
	}
}

func TestListenerRegistryAndTeardown(t *testing.T) {
	req := require.New(t)

	cl := &Client{}

	var first, second []string
	off := cl.OnEvent(func(ev chat.Event) { first = append(first, ev.Type) })
	cl.OnEvent(func(ev chat.Event) { second = append(second, ev.Type) })

	cl.apply(nil, chat.Event{Type: chat.EventMessage})
	req.Equal([]string{chat.EventMessage}, first)
	req.Equal([]string{chat.EventMessage}, second)

	off()
	cl.apply(nil, chat.Event{Type: chat.EventMessage})
	req.Len(first, 1)
	req.Len(second, 2)

	cl.Disconnect()
	cl.apply(nil, chat.Event{Type: chat.EventMessage})
	req.Len(second, 2)
	req.Equal(StateDisconnected, cl.State())
}

func TestPrivateChannelIDMatchesServer(t *testing.T) {
	req := require.New(t)

	req.Equal(chat.PrivateChannelID("alice", "bob"), PrivateChannelID("bob", "alice"))
}
