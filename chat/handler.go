package chat

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Options configures a chat Server. The zero value is usable; defaults
// are filled in by NewServer.
type Options struct {
	// Prefix is prepended to every registered route, for use behind a
	// reverse proxy.
	Prefix string

	// AuthTimeout bounds a single token verification. An authenticate
	// intent that outlives it fails instead of hanging the connection.
	AuthTimeout time.Duration

	// SendBuffer is the number of outbound events queued per connection
	// before it is treated as unreachable.
	SendBuffer int

	// PublicRooms are pre-seeded and never garbage-collected.
	PublicRooms []RoomRef

	// Logf receives verbose diagnostics. Nil disables them.
	Logf func(format string, args ...any)
}

// Server ties the room manager, token verifier, and websocket endpoint
// together.
type Server struct {
	mgr      *Manager
	verifier TokenVerifier
	opts     Options
}

// NewServer creates a chat server with its own room registry.
func NewServer(verifier TokenVerifier, opts Options) *Server {
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 5 * time.Second
	}
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 8
	}

	return &Server{
		mgr:      NewManager(opts.PublicRooms, opts.Logf),
		verifier: verifier,
		opts:     opts,
	}
}

// Manager exposes the room registry, mainly for tests and listings.
func (s *Server) Manager() *Manager {
	return s.mgr
}

func (s *Server) logf(format string, args ...any) {
	s.opts.Logf(format, args...)
}

func (s *Server) authTimeout() time.Duration {
	return s.opts.AuthTimeout
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Register sets up routes so that:
//   - $path                    → WebSocket endpoint
//   - $path/rooms              → JSON listing of public rooms
//   - $path/rooms/:roomid/qr   → PNG QR code for sharing a room URL
func (s *Server) Register(path string, mux *httprouter.Router) {
	mux.GET(s.opts.Prefix+path, s.serveWS())

	mux.GET(s.opts.Prefix+path+"/rooms", s.serveRooms())

	mux.GET(s.opts.Prefix+path+"/rooms/:roomid/qr", s.serveQR())
}

// serveWS upgrades the connection and runs the session until the peer
// goes away. The read pump doubles as the per-connection worker, so
// intents from one connection are processed strictly in order.
func (s *Server) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logf("CHAT: Upgrade failed for %s: %v", r.RemoteAddr, err)
			return
		}

		conn := newConn(sock, s)
		s.logf("CHAT: Connection %s opened from %s", conn.id, r.RemoteAddr)

		go conn.writePump()
		conn.readPump()
	}
}

func (s *Server) serveRooms() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if err := json.NewEncoder(w).Encode(s.mgr.Rooms()); err != nil {
			s.logf("CHAT: Room listing failed: %v", err)
		}
	}
}

// serveQR generates a PNG QR code for a room's share URL, respecting
// TLS and X-Forwarded-Proto when running behind the gateway.
func (s *Server) serveQR() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" || IsPrivateChannel(roomID) {
			http.Error(w, "unknown room", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at .../rooms/:roomid/qr; strip the trailing "/qr" to
		// get the shareable room URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}
