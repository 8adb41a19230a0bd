package chat

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrRoomNotFound covers operations against rooms that were never
	// created or have already been collected. Surfaced to the caller
	// only, never broadcast.
	ErrRoomNotFound = errors.New("not found")

	// ErrNotAMember marks a broadcast attempt from a connection that is
	// not in the room. Dropped silently on the wire so non-members
	// cannot probe which rooms exist.
	ErrNotAMember = errors.New("not a member")
)

type member struct {
	conn     *Conn
	identity Identity
}

// Room is a named set of connections receiving each other's broadcasts.
// All operations on one room serialize on its mutex, which is what gives
// members a total order over joins, leaves, and messages; rooms never
// share a lock, so unrelated rooms never contend.
type Room struct {
	id     string
	name   string
	public bool

	mu      sync.Mutex
	members []*member
	closed  bool
}

// Manager owns the room registry. It is the only component allowed to
// mutate room membership.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	logf  func(format string, args ...any)
}

// NewManager creates a registry pre-seeded with the given public rooms,
// which survive even when empty. All other rooms are created lazily on
// first join and collected once their last member leaves.
func NewManager(publicRooms []RoomRef, logf func(format string, args ...any)) *Manager {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	m := &Manager{
		rooms: make(map[string]*Room),
		logf:  logf,
	}

	for _, ref := range publicRooms {
		name := ref.Name
		if name == "" {
			name = ref.ID
		}
		m.rooms[ref.ID] = &Room{id: ref.ID, name: name, public: true}
	}

	return m
}

func (m *Manager) lookup(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.rooms[roomID]
}

func (m *Manager) getOrCreate(ref RoomRef) *Room {
	if r := m.lookup(ref.ID); r != nil {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.rooms[ref.ID]; r != nil {
		return r
	}

	name := ref.Name
	if name == "" {
		name = ref.ID
	}

	r := &Room{id: ref.ID, name: name}
	m.rooms[ref.ID] = r
	m.logf("CHAT: Created room %q", ref.ID)

	return r
}

// collect removes an empty non-public room from the registry. The
// closed flag makes a concurrent Join retry against a fresh room
// instead of landing in one that is no longer registered.
func (m *Manager) collect(r *Room) {
	r.mu.Lock()
	if r.public || r.closed || len(r.members) > 0 {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	m.mu.Lock()
	if m.rooms[r.id] == r {
		delete(m.rooms, r.id)
	}
	m.mu.Unlock()

	m.logf("CHAT: Collected empty room %q", r.id)
}

// Join adds a connection to a room, creating the room if absent, and
// returns the resulting roster. Joining a room the connection is
// already in is idempotent: the current snapshot comes back and nothing
// is re-broadcast. The joiner's own queue sees its joined confirmation
// before anyone is told about it.
func (m *Manager) Join(c *Conn, ref RoomRef) RoomInfo {
	for {
		r := m.getOrCreate(ref)

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}

		snap := r.joinLocked(c)
		r.mu.Unlock()

		return snap
	}
}

func (r *Room) joinLocked(c *Conn) RoomInfo {
	for _, mb := range r.members {
		if mb.conn == c {
			snap := r.snapshotLocked()
			c.enqueue(Event{Type: EventRoomInfo, Room: &snap})
			return snap
		}
	}

	joiner := &member{conn: c, identity: c.Identity()}
	r.members = append(r.members, joiner)

	snap := r.snapshotLocked()
	joiner.conn.enqueue(Event{Type: EventJoined, RoomID: r.id, Room: &snap})

	user := joiner.identity
	var dead []*member
	for _, mb := range r.members {
		if mb == joiner {
			continue
		}
		if !mb.conn.enqueue(Event{Type: EventUserJoined, RoomID: r.id, User: &user}) {
			dead = append(dead, mb)
		}
	}
	r.removeAllLocked(dead)
	dropAll(dead)

	r.settleLocked(dead)

	return r.snapshotLocked()
}

// Leave removes the connection from the room if present; leaving twice,
// or leaving a room that no longer exists, is a safe no-op. Remaining
// members observe the departure and a fresh roster.
func (m *Manager) Leave(c *Conn, roomID string) bool {
	r := m.lookup(roomID)
	if r == nil {
		return false
	}

	r.mu.Lock()
	removed := r.removeConnLocked(c)
	if removed != nil {
		r.settleLocked([]*member{removed})
	}
	r.mu.Unlock()

	m.collect(r)

	return removed != nil
}

// Broadcast relays a message to every current member of the room,
// sender included; the sender's own connection never sees the message
// later than anyone else's. Membership is checked server-side
// regardless of what the client believes.
func (m *Manager) Broadcast(c *Conn, msg ChatMessage) error {
	r := m.lookup(msg.ChatRoomID)
	if r == nil {
		return ErrRoomNotFound
	}

	r.mu.Lock()

	var sender *member
	for _, mb := range r.members {
		if mb.conn == c {
			sender = mb
			break
		}
	}
	if sender == nil {
		r.mu.Unlock()
		return ErrNotAMember
	}

	dead := r.fanoutLocked(messageEvent(r.id, sender.identity, msg))
	dropAll(dead)
	if len(dead) > 0 {
		r.settleLocked(dead)
	}

	r.mu.Unlock()
	m.collect(r)

	return nil
}

// Snapshot returns the current roster. It serializes on the room lock,
// so it always reflects the latest completed join or leave.
func (m *Manager) Snapshot(roomID string) (RoomInfo, bool) {
	r := m.lookup(roomID)
	if r == nil {
		return RoomInfo{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return RoomInfo{}, false
	}

	return r.snapshotLocked(), true
}

// Rooms lists public rooms with their current rosters, sorted by id.
// Private channels are never listed.
func (m *Manager) Rooms() []RoomInfo {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if r.public {
			rooms = append(rooms, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].id < rooms[j].id
	})

	infos := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		infos = append(infos, r.snapshotLocked())
		r.mu.Unlock()
	}

	return infos
}

// fanoutLocked enqueues ev for every member. Members whose queues are
// full or closed are removed from the room and returned for reaping;
// a slow peer never blocks delivery to the rest.
func (r *Room) fanoutLocked(ev Event) []*member {
	var dead []*member

	kept := r.members[:0]
	for _, mb := range r.members {
		if mb.conn.enqueue(ev) {
			kept = append(kept, mb)
		} else {
			dead = append(dead, mb)
		}
	}
	r.members = kept

	return dead
}

func (r *Room) removeConnLocked(c *Conn) *member {
	for i, mb := range r.members {
		if mb.conn == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return mb
		}
	}
	return nil
}

func (r *Room) removeAllLocked(gone []*member) {
	for _, mb := range gone {
		r.removeConnLocked(mb.conn)
	}
}

func dropAll(gone []*member) {
	for _, mb := range gone {
		mb.conn.drop()
	}
}

// settleLocked announces the departures in gone (already removed from
// the member list) and pushes a recomputed roster and presence to the
// survivors, repeating until delivery settles: announcing one departure
// can reveal further unreachable members, which become implicit
// disconnects themselves.
func (r *Room) settleLocked(gone []*member) {
	for {
		var dead []*member

		for _, mb := range gone {
			user := mb.identity
			dead = append(dead, r.fanoutLocked(Event{Type: EventUserDisconnected, RoomID: r.id, User: &user})...)
		}

		snap := r.snapshotLocked()
		dead = append(dead, r.fanoutLocked(Event{Type: EventRoomInfo, Room: &snap})...)
		dead = append(dead, r.fanoutLocked(Event{Type: EventOnlineUsers, RoomID: r.id, Users: r.presenceLocked()})...)

		if len(dead) == 0 {
			return
		}

		dropAll(dead)
		gone = dead
	}
}
