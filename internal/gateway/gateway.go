// Package gateway implements the subscription gateway (C7): the
// bidirectional session channel that relays job-progress events from the
// event bus (internal/bus) to connected clients. Each API process runs one
// Gateway, which keeps one long-lived bus subscription and a per-process
// room -> session set mapping grounded on the same map+mutex shape the
// document-session store in session/inmemory uses for its own room
// bookkeeping, generalized here to websocket sessions instead of search
// sessions.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/Makar0n1/art-automation/internal/bus"
)

// clientEventPrefix turns a bus event name ("log", "status", "blocks",
// "completed", "error") into the client-facing event name the spec names
// ("generation:log", "generation:status", ...).
const clientEventPrefix = "generation:"

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// clientMessage is the shape of a subscribe/unsubscribe request a client
// sends after connecting.
type clientMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// outboundMessage is the shape of every event the gateway writes to a
// client session.
type outboundMessage struct {
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
}

// session is one connected client's websocket plus its outbound queue. A
// dedicated writer goroutine owns the connection so reads (subscribe
// messages) and writes (relayed events) never race on the same conn.
type session struct {
	conn    *websocket.Conn
	outbox  chan outboundMessage
	closeMu sync.Mutex
	closed  bool
}

func (s *session) send(msg outboundMessage) {
	select {
	case s.outbox <- msg:
	default:
		// slow or stuck client: drop the connection rather than block the
		// broadcast fan-out for everyone else sharing the room.
		s.close()
	}
}

func (s *session) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.outbox)
	s.conn.Close()
}

// Gateway holds the room -> session-set registry and relays bus events to
// the sessions subscribed to the matching room.
type Gateway struct {
	logger *log.Logger
	secret []byte

	mu    sync.RWMutex
	rooms map[string]map[*session]struct{}
}

// New builds a Gateway that authenticates connecting clients against secret,
// the same token-signing secret the HTTP surface issues bearer tokens with.
func New(logger *log.Logger, secret []byte) *Gateway {
	return &Gateway{
		logger: logger,
		secret: secret,
		rooms:  make(map[string]map[*session]struct{}),
	}
}

// Run subscribes to the bus and relays every message to the sessions
// registered for its room, until ctx is cancelled. Callers run this in its
// own goroutine, one per API process.
func (g *Gateway) Run(ctx context.Context, b *bus.Bus) error {
	return b.Subscribe(ctx, g.logger, func(msg bus.Message) {
		g.broadcast(msg)
	})
}

func (g *Gateway) broadcast(msg bus.Message) {
	g.mu.RLock()
	members := g.rooms[msg.Room]
	targets := make([]*session, 0, len(members))
	for s := range members {
		targets = append(targets, s)
	}
	g.mu.RUnlock()

	out := outboundMessage{Event: clientEventPrefix + msg.Event, Room: msg.Room, Data: msg.Data}
	for _, s := range targets {
		s.send(out)
	}
}

func (g *Gateway) join(room string, s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.rooms[room]
	if !ok {
		set = make(map[*session]struct{})
		g.rooms[room] = set
	}
	set[s] = struct{}{}
}

func (g *Gateway) leave(room string, s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.rooms[room]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(g.rooms, room)
	}
}

// leaveAll removes a session from every room it joined, used on disconnect.
func (g *Gateway) leaveAll(s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for room, set := range g.rooms {
		if _, ok := set[s]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(g.rooms, room)
			}
		}
	}
}

// ServeHTTP upgrades the connection after validating the identity token
// presented at connect time, then services subscribe/unsubscribe requests
// for the lifetime of the session.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := g.verifyToken(extractToken(r)); err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Printf("gateway: upgrade failed: %v", err)
		return
	}

	s := &session{conn: conn, outbox: make(chan outboundMessage, 64)}
	defer func() {
		g.leaveAll(s)
		s.close()
	}()

	go g.writeLoop(s)
	g.readLoop(s)
}

func (g *Gateway) writeLoop(s *session) {
	for msg := range s.outbox {
		if err := s.conn.WriteJSON(msg); err != nil {
			s.conn.Close()
			return
		}
	}
}

// readLoop blocks servicing subscribe/unsubscribe requests until the
// client disconnects or sends something unparseable.
func (g *Gateway) readLoop(s *session) {
	for {
		var msg clientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		room := strings.TrimSpace(msg.Room)
		if room == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			g.join(room, s)
		case "unsubscribe":
			g.leave(room, s)
		}
	}
}

// verifyToken parses and validates tok against the gateway's shared secret,
// the websocket-handshake counterpart of the HTTP bearer check.
func (g *Gateway) verifyToken(tok string) (string, error) {
	if tok == "" {
		return "", jwt.ErrTokenMalformed
	}
	parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) { return g.secret, nil })
	if err != nil || !parsed.Valid {
		if err != nil {
			return "", err
		}
		return "", jwt.ErrTokenInvalidClaims
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return sub, nil
}

// extractToken reads the identity token from the Authorization header or,
// since browsers cannot set custom headers on the WebSocket handshake
// request, the "token" query parameter.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return r.URL.Query().Get("token")
}
