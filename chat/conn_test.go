package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticVerifier struct{}

func (staticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	return Identity{UserID: token, Username: token}, nil
}

type failingVerifier struct{}

func (failingVerifier) Verify(context.Context, string) (Identity, error) {
	return Identity{}, ErrInvalidToken
}

func newTestServer(buffer int) *Server {
	return NewServer(staticVerifier{}, Options{
		SendBuffer:  buffer,
		PublicRooms: []RoomRef{{ID: "general", Name: "General"}},
	})
}

func newTestConn(srv *Server, username string) *Conn {
	c := newConn(nil, srv)
	c.identity = Identity{UserID: username, Username: username}
	c.state = StateAuthenticated
	return c
}

func drain(c *Conn) []Event {
	var evs []Event
	for {
		select {
		case ev := <-c.send:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestNextState(t *testing.T) {
	tests := []struct {
		name    string
		cur     State
		ev      stateEvent
		want    State
		wantErr bool
	}{
		{"authenticate from connecting", StateConnecting, eventAuthenticated, StateAuthenticated, false},
		{"authenticate twice", StateAuthenticated, eventAuthenticated, StateAuthenticated, true},
		{"join when authenticated", StateAuthenticated, eventJoined, StateRoomJoined, false},
		{"join when already joined", StateRoomJoined, eventJoined, StateRoomJoined, false},
		{"join before authenticate", StateConnecting, eventJoined, StateConnecting, true},
		{"leave when joined", StateRoomJoined, eventLeft, StateAuthenticated, false},
		{"leave when not joined", StateAuthenticated, eventLeft, StateAuthenticated, true},
		{"close from connecting", StateConnecting, eventClosed, StateClosed, false},
		{"close from joined", StateRoomJoined, eventClosed, StateClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)

			got, err := nextState(tt.cur, tt.ev)
			if tt.wantErr {
				req.Error(err)
			} else {
				req.NoError(err)
				req.Equal(tt.want, got)
			}
		})
	}
}

func TestRejectsIntentsBeforeAuthentication(t *testing.T) {
	req := require.New(t)

	srv := newTestServer(8)
	c := newConn(nil, srv)

	c.handle(Intent{Action: ActionJoin, Room: &RoomRef{ID: "general"}})

	evs := drain(c)
	req.Len(evs, 1)
	req.Equal(EventError, evs[0].Type)
	req.Equal("not authenticated", evs[0].Message)
	req.Equal(StateConnecting, c.State())

	snap, ok := srv.mgr.Snapshot("general")
	req.True(ok)
	req.Empty(snap.Members)
}

func TestAuthenticateBindsIdentity(t *testing.T) {
	req := require.New(t)

	srv := newTestServer(8)
	c := newConn(nil, srv)

	c.handle(Intent{Action: ActionAuthenticate, Token: "alice"})

	evs := drain(c)
	req.Len(evs, 1)
	req.Equal(EventAuthenticated, evs[0].Type)
	req.Equal("alice", evs[0].User.Username)
	req.Equal(StateAuthenticated, c.State())
	req.Equal("alice", c.Identity().Username)

	c.handle(Intent{Action: ActionAuthenticate, Token: "mallory"})

	evs = drain(c)
	req.Len(evs, 1)
	req.Equal(EventError, evs[0].Type)
	req.Equal("already authenticated", evs[0].Message)
	req.Equal("alice", c.Identity().Username)
}

func TestAuthenticateRejectsInvalidToken(t *testing.T) {
	req := require.New(t)

	srv := NewServer(failingVerifier{}, Options{SendBuffer: 8})
	c := newConn(nil, srv)

	c.handle(Intent{Action: ActionAuthenticate, Token: "whatever"})

	evs := drain(c)
	req.Len(evs, 1)
	req.Equal(EventError, evs[0].Type)
	req.Equal("invalid token", evs[0].Message)
	req.Equal(StateConnecting, c.State())
}

func TestJoinSwitchesRooms(t *testing.T) {
	req := require.New(t)

	srv := newTestServer(16)
	alice := newTestConn(srv, "alice")
	witness := newTestConn(srv, "witness")

	alice.handle(Intent{Action: ActionJoin, Room: &RoomRef{ID: "general", Name: "General"}})
	req.Equal(StateRoomJoined, alice.State())

	srv.mgr.Join(witness, RoomRef{ID: "general", Name: "General"})
	drain(alice)
	drain(witness)

	alice.handle(Intent{Action: ActionJoin, Room: &RoomRef{ID: "lounge", Name: "Lounge"}})

	_, cur := alice.snapshotSession()
	req.Equal("lounge", cur)

	evs := drain(alice)
	req.Equal(EventLeft, evs[0].Type)
	req.Equal("general", evs[0].RoomID)
	req.Equal(EventJoined, evs[1].Type)
	req.Equal("lounge", evs[1].RoomID)

	var sawDeparture bool
	for _, ev := range drain(witness) {
		if ev.Type == EventUserDisconnected && ev.User.Username == "alice" {
			sawDeparture = true
		}
	}
	req.True(sawDeparture)

	snap, ok := srv.mgr.Snapshot("general")
	req.True(ok)
	req.Equal([]string{"witness"}, snap.Members)
}

func TestLeaveMismatchIsNoOp(t *testing.T) {
	req := require.New(t)

	srv := newTestServer(16)
	alice := newTestConn(srv, "alice")

	srv.mgr.Join(alice, RoomRef{ID: "general", Name: "General"})
	req.NoError(alice.advance(eventJoined, "general"))
	drain(alice)

	alice.handle(Intent{Action: ActionLeave, RoomID: "somewhere-else"})

	req.Empty(drain(alice))
	req.Equal(StateRoomJoined, alice.State())

	snap, ok := srv.mgr.Snapshot("general")
	req.True(ok)
	req.Equal([]string{"alice"}, snap.Members)
}

func TestSendAfterLeaveIsRejected(t *testing.T) {
	req := require.New(t)

	srv := newTestServer(16)
	alice := newTestConn(srv, "alice")
	bob := newTestConn(srv, "bob")

	srv.mgr.Join(alice, RoomRef{ID: "general", Name: "General"})
	srv.mgr.Join(bob, RoomRef{ID: "general", Name: "General"})
	req.NoError(alice.advance(eventJoined, "general"))
	drain(alice)
	drain(bob)

	alice.handle(Intent{Action: ActionLeave, RoomID: "general"})
	drain(alice)
	drain(bob)

	alice.handle(Intent{Action: ActionSendMessage, ChatMessage: &ChatMessage{ChatRoomID: "general", Message: "ghost"}})

	req.Empty(drain(alice))
	for _, ev := range drain(bob) {
		req.NotEqual(EventMessage, ev.Type)
	}
}

func TestSendToUnknownRoom(t *testing.T) {
	req := require.New(t)

	srv := newTestServer(16)
	alice := newTestConn(srv, "alice")

	alice.handle(Intent{Action: ActionSendMessage, ChatMessage: &ChatMessage{ChatRoomID: "nowhere", Message: "hi"}})

	evs := drain(alice)
	req.Len(evs, 1)
	req.Equal(EventError, evs[0].Type)
	req.Equal("not found", evs[0].Message)
}

func TestGetRoomInfo(t *testing.T) {
	req := require.New(t)

	srv := newTestServer(16)
	alice := newTestConn(srv, "alice")

	srv.mgr.Join(alice, RoomRef{ID: "general", Name: "General"})
	drain(alice)

	alice.handle(Intent{Action: ActionGetRoomInfo, RoomID: "general"})

	evs := drain(alice)
	req.Len(evs, 1)
	req.Equal(EventRoomInfo, evs[0].Type)
	req.Equal([]string{"alice"}, evs[0].Room.Members)

	alice.handle(Intent{Action: ActionGetRoomInfo, RoomID: "nowhere"})

	evs = drain(alice)
	req.Len(evs, 1)
	req.Equal(EventError, evs[0].Type)
	req.Equal("not found", evs[0].Message)
}
