package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/logging"
)

func startHub(t *testing.T) (*Hub, string, context.CancelFunc) {
	t.Helper()
	h := New(Options{}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ids []int64
		if raw := r.URL.Query().Get("case_id"); raw != "" {
			id, _ := strconv.ParseInt(raw, 10, 64)
			ids = append(ids, id)
		}
		_ = h.Serve(w, r, ids)
	}))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	msg := read(t, ws)
	require.Equal(t, TypeSubscribed, msg.Type)
	require.NotEmpty(t, msg.ConnectionID)
	return ws
}

func read(t *testing.T, ws *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg ServerMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func result(caseIDs ...int64) domain.ResultNotification {
	return domain.ResultNotification{
		ExecutionID: "exec-" + strconv.FormatInt(caseIDs[0], 10),
		Mode:        domain.ExecutionModeSingle,
		CaseIDs:     caseIDs,
		Status:      domain.ExecutionStatusSuccess,
	}
}

func waitForConnections(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ConnectionCount() == n }, 3*time.Second, 10*time.Millisecond)
}

func TestDeliverReachesAllSubscribers(t *testing.T) {
	h, url, _ := startHub(t)
	a := dial(t, url)
	b := dial(t, url)
	waitForConnections(t, h, 2)

	require.NoError(t, h.Deliver(context.Background(), result(7)))

	for _, ws := range []*websocket.Conn{a, b} {
		msg := read(t, ws)
		assert.Equal(t, TypeResult, msg.Type)
		require.NotNil(t, msg.Result)
		assert.Equal(t, "exec-7", msg.Result.ExecutionID)
	}
}

func TestCaseFilter(t *testing.T) {
	h, url, _ := startHub(t)
	ws := dial(t, url+"?case_id=42")
	waitForConnections(t, h, 1)

	require.NoError(t, h.Deliver(context.Background(), result(7)))
	require.NoError(t, h.Deliver(context.Background(), result(42)))
	require.NoError(t, h.Deliver(context.Background(), result(1, 42)))

	msg := read(t, ws)
	assert.Equal(t, "exec-42", msg.Result.ExecutionID)
	msg = read(t, ws)
	assert.Equal(t, "exec-1", msg.Result.ExecutionID)
}

func TestSubscribeChangesFilter(t *testing.T) {
	h, url, _ := startHub(t)
	ws := dial(t, url+"?case_id=42")
	waitForConnections(t, h, 1)

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: TypeSubscribe, CaseIDs: []int64{7}}))
	msg := read(t, ws)
	require.Equal(t, TypeSubscribed, msg.Type)
	assert.Equal(t, []int64{7}, msg.CaseIDs)

	require.NoError(t, h.Deliver(context.Background(), result(42)))
	require.NoError(t, h.Deliver(context.Background(), result(7)))
	msg = read(t, ws)
	assert.Equal(t, "exec-7", msg.Result.ExecutionID)
}

func TestInvalidClientMessages(t *testing.T) {
	h, url, _ := startHub(t)
	ws := dial(t, url)
	waitForConnections(t, h, 1)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{nope")))
	msg := read(t, ws)
	assert.Equal(t, TypeError, msg.Type)

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: "cancel"}))
	msg = read(t, ws)
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Message, "cancel")

	require.NoError(t, ws.WriteJSON(ClientMessage{Type: TypeSubscribe, CaseIDs: []int64{-1}}))
	msg = read(t, ws)
	assert.Equal(t, TypeError, msg.Type)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	h, url, _ := startHub(t)
	ws := dial(t, url)
	waitForConnections(t, h, 1)

	require.NoError(t, ws.Close())
	waitForConnections(t, h, 0)
}

func TestShutdownClosesSubscribers(t *testing.T) {
	h, url, cancel := startHub(t)
	ws := dial(t, url)
	waitForConnections(t, h, 1)

	cancel()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)

	assert.ErrorIs(t, h.Deliver(context.Background(), result(1)), ErrClosed)
	assert.Equal(t, "websocket", h.Name())
}
