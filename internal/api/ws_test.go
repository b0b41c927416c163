package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asuasu0131/parking-monitor/internal/presence"
)

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, env *testEnv, header http.Header) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{t: t, conn: conn}
	first := c.next()
	require.Equal(t, "connected", first.Type)
	var hello struct{ ID string }
	require.NoError(t, json.Unmarshal(first.Data, &hello))
	require.NotEmpty(t, hello.ID)
	c.id = hello.ID
	return c
}

func (c *wsClient) next() wsFrame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f wsFrame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// waitFor skips frames until one of type typ satisfies ok.
func (c *wsClient) waitFor(typ string, ok func(json.RawMessage) bool) json.RawMessage {
	c.t.Helper()
	for {
		f := c.next()
		if f.Type == typ && (ok == nil || ok(f.Data)) {
			return f.Data
		}
	}
}

func (c *wsClient) send(v string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(v)))
}

func positions(t *testing.T, raw json.RawMessage) presence.Snapshot {
	var snap presence.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	return snap
}

func TestWSConnectReceivesSnapshot(t *testing.T) {
	env := newTestEnv(t, WSOptions{})
	c := dial(t, env, nil)

	f := c.next()
	assert.Equal(t, "positions", f.Type)
	assert.Empty(t, positions(t, f.Data))
}

func TestWSPositionsBroadcast(t *testing.T) {
	env := newTestEnv(t, WSOptions{})
	a := dial(t, env, nil)
	b := dial(t, env, nil)

	a.send(`{"type":"update_position","data":{"lat":38.1,"lng":140.8}}`)

	for _, c := range []*wsClient{a, b} {
		raw := c.waitFor("positions", func(raw json.RawMessage) bool {
			_, ok := positions(t, raw)[a.id]
			return ok
		})
		assert.Equal(t, presence.Position{Lat: 38.1, Lng: 140.8}, positions(t, raw)[a.id])
	}

	// inline fields are accepted too
	b.send(`{"type":"update_position","lat":1,"lng":2}`)
	raw := a.waitFor("positions", func(raw json.RawMessage) bool { return len(positions(t, raw)) == 2 })
	assert.Equal(t, presence.Position{Lat: 1, Lng: 2}, positions(t, raw)[b.id])

	require.NoError(t, b.conn.Close())
	raw = a.waitFor("positions", func(raw json.RawMessage) bool { return len(positions(t, raw)) == 1 })
	assert.Contains(t, positions(t, raw), a.id)

	assert.Eventually(t, func() bool { return env.eng.Stats().Connections == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWSInvalidMessageAnsweredToSenderOnly(t *testing.T) {
	env := newTestEnv(t, WSOptions{})
	a := dial(t, env, nil)
	b := dial(t, env, nil)
	a.next() // positions on connect
	b.next()

	a.send(`{"type":"update_position","data":{"lat":"north"}}`)
	f := a.next()
	assert.Equal(t, "error", f.Type)

	// b sees the following ping reply from itself, not a's error
	b.send(`{"type":"ping"}`)
	assert.Equal(t, "pong", b.next().Type)
	assert.Empty(t, env.eng.Positions())
}

func TestWSSensorRelay(t *testing.T) {
	env := newTestEnv(t, WSOptions{})
	a := dial(t, env, nil)
	b := dial(t, env, nil)

	a.send(`{"type":"update_sensor","data":{"A1":1,"B2":0}}`)
	raw := b.waitFor("sensor_update", nil)
	assert.JSONEq(t, `{"A1":1,"B2":0}`, string(raw))
}

func TestWSReceivesSavedLayout(t *testing.T) {
	env := newTestEnv(t, WSOptions{})
	c := dial(t, env, nil)

	resp, out := env.postLayout(t, `{"layout":`+lotA+`}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw := c.waitFor("layout_updated", nil)
	var ev struct {
		SpaceID string          `json:"space_id"`
		Layout  json.RawMessage `json:"layout"`
	}
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, out["space_id"], ev.SpaceID)
	assert.Contains(t, string(ev.Layout), `"Lot A"`)
}

func TestWSLayoutNotice(t *testing.T) {
	env := newTestEnv(t, WSOptions{})
	a := dial(t, env, nil)
	b := dial(t, env, nil)

	a.send(`{"type":"layout_updated"}`)
	raw := b.waitFor("layout_updated", nil)
	assert.JSONEq(t, `{}`, string(raw))

	a.send(`{"type":"layout_updated","data":{"space_id":"P7"}}`)
	f := a.waitFor("error", nil)
	assert.Contains(t, string(f), "not found")
}

func TestWSRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, WSOptions{AllowedOrigins: []string{"https://lot.example"}})
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	c := dial(t, env, http.Header{"Origin": {"https://lot.example"}})
	assert.NotEmpty(t, c.id)
}

func TestWSCloseAll(t *testing.T) {
	env := newTestEnv(t, WSOptions{})
	c := dial(t, env, nil)
	c.next()

	env.ws.CloseAll()

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := c.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Eventually(t, func() bool { return env.eng.Stats().Connections == 0 }, 5*time.Second, 10*time.Millisecond)
}
