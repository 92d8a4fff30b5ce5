package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"social_backend/internal/services/dto"
	"social_backend/test/helpers"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFrame struct {
	Event string          `json:"event"`
	ID    json.RawMessage `json:"id"`
	Data  json.RawMessage `json:"data"`
}

func dialWS(t *testing.T, ts *helpers.TestServer, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.Server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor reads frames until one with the given event arrives.
func waitFor(t *testing.T, conn *websocket.Conn, event string) wsFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", event)
		if f.Event == event {
			return f
		}
	}
}

func TestRealtime_RESTWritesArePushed(t *testing.T) {
	t.Parallel()

	ts := helpers.NewTestServer(t)
	alice := seedUser(t, ts, 1, "alice")
	bob := seedUser(t, ts, 2, "bob")
	chat := createChat(t, ts, alice, map[string]interface{}{"participantIds": []uint{bob.ID}})

	conn := dialWS(t, ts, bob.Token)
	waitFor(t, conn, "user_online")

	// Not in the room yet: only the chat list update reaches bob.
	sendText(t, ts, alice, chat.ID, "are you there?")
	updated := waitFor(t, conn, "chat_updated")
	assert.Contains(t, string(updated.Data), "are you there?")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "join_chat",
		"id":    "j1",
		"data":  map[string]interface{}{"chatId": chat.ID},
	}))
	joined := waitFor(t, conn, "ack")
	assert.Contains(t, string(joined.Data), `"status":"joined"`)

	msg := sendText(t, ts, alice, chat.ID, "now you are")
	pushed := waitFor(t, conn, "new_message")
	var got dto.MessageResponse
	require.NoError(t, json.Unmarshal(pushed.Data, &got))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "now you are", *got.Text)

	res, body := ts.SendRequest(t, http.MethodDelete, fmt.Sprintf("/api/v1/chats/messages/%d", msg.ID), alice.Token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	deleted := waitFor(t, conn, "message_deleted")
	assert.Contains(t, string(deleted.Data), "Message deleted")
}

func TestRealtime_PresenceIsVisibleOverREST(t *testing.T) {
	t.Parallel()

	ts := helpers.NewTestServer(t)
	alice := seedUser(t, ts, 1, "alice")
	bob := seedUser(t, ts, 2, "bob")

	conn := dialWS(t, ts, bob.Token)

	assert.Eventually(t, func() bool {
		status, ok := presenceOf(ts, alice.Token, bob.UserID)
		return ok && status.IsOnline
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		status, ok := presenceOf(ts, alice.Token, bob.UserID)
		return ok && !status.IsOnline && status.LastSeen != nil
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRealtime_RejectsUnauthenticatedHandshake(t *testing.T) {
	t.Parallel()

	ts := helpers.NewTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.Server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// presenceOf fetches presence without failing the test, for use in polling.
func presenceOf(ts *helpers.TestServer, token string, userID uint) (dto.PresenceResponse, bool) {
	var status dto.PresenceResponse
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v1/presence/%d", ts.Server.URL, userID), nil)
	if err != nil {
		return status, false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := ts.Server.Client().Do(req)
	if err != nil {
		return status, false
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return status, false
	}
	return status, json.NewDecoder(res.Body).Decode(&status) == nil
}
