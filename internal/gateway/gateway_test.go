package gateway

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Makar0n1/art-automation/internal/bus"
)

var testSecret = []byte("a-test-secret-at-least-32-bytes-long")

func signTestToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": subject, "exp": time.Now().Add(time.Hour).Unix()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return tok
}

func newTestServer(t *testing.T) (*Gateway, *httptest.Server, func()) {
	t.Helper()
	g := New(log.New(io.Discard, "", 0), testSecret)
	srv := httptest.NewServer(g)
	return g, srv, srv.Close
}

func wsURL(srv *httptest.Server, token string) string {
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func TestConnectRejectsMissingToken(t *testing.T) {
	_, srv, closeFn := newTestServer(t)
	defer closeFn()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, 401, resp.StatusCode)
	}
}

func TestConnectRejectsInvalidToken(t *testing.T) {
	_, srv, closeFn := newTestServer(t)
	defer closeFn()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "not-a-jwt"), nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, 401, resp.StatusCode)
	}
}

func TestConnectAcceptsValidToken(t *testing.T) {
	_, srv, closeFn := newTestServer(t)
	defer closeFn()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, signTestToken(t, "owner-1")), nil)
	require.NoError(t, err)
	defer conn.Close()
}

func TestSubscribeReceivesBroadcastEventsForItsRoom(t *testing.T) {
	g, srv, closeFn := newTestServer(t)
	defer closeFn()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, signTestToken(t, "owner-1")), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "subscribe", Room: "generation:job-1"}))

	// Give the read loop a beat to register the subscription before
	// broadcasting, since join happens asynchronously from this goroutine.
	require.Eventually(t, func() bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		return len(g.rooms["generation:job-1"]) == 1
	}, time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(map[string]string{"message": "hello"})
	require.NoError(t, err)
	g.broadcast(bus.Message{Room: "generation:job-1", Event: "log", Data: payload})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var out outboundMessage
	require.NoError(t, conn.ReadJSON(&out))
	require.Equal(t, "generation:log", out.Event)
	require.Equal(t, "generation:job-1", out.Room)
}

func TestBroadcastIsNotDeliveredToOtherRooms(t *testing.T) {
	g, srv, closeFn := newTestServer(t)
	defer closeFn()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, signTestToken(t, "owner-1")), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "subscribe", Room: "generation:job-1"}))
	require.Eventually(t, func() bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		return len(g.rooms["generation:job-1"]) == 1
	}, time.Second, 10*time.Millisecond)

	g.broadcast(bus.Message{Room: "generation:other-job", Event: "log", Data: json.RawMessage(`{}`)})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "a message for a room this session never joined must not arrive")
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	g, srv, closeFn := newTestServer(t)
	defer closeFn()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, signTestToken(t, "owner-1")), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "subscribe", Room: "generation:job-1"}))
	require.Eventually(t, func() bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		return len(g.rooms["generation:job-1"]) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "unsubscribe", Room: "generation:job-1"}))
	require.Eventually(t, func() bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		_, ok := g.rooms["generation:job-1"]
		return !ok
	}, time.Second, 10*time.Millisecond)

	g.broadcast(bus.Message{Room: "generation:job-1", Event: "log", Data: json.RawMessage(`{}`)})
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestDisconnectRemovesSessionFromAllRooms(t *testing.T) {
	g, srv, closeFn := newTestServer(t)
	defer closeFn()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, signTestToken(t, "owner-1")), nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "subscribe", Room: "generation:job-1"}))
	require.Eventually(t, func() bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		return len(g.rooms["generation:job-1"]) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		_, ok := g.rooms["generation:job-1"]
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestExtractTokenPrefersAuthorizationHeaderOverQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/?token=from-query", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer from-header")
	require.Equal(t, "from-header", extractToken(req))
}
