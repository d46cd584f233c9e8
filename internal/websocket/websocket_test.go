package websocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/auth"
	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/dataflowslab/core.rompharm-sub001/internal/websocket"
	"github.com/gin-gonic/gin"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*websocket.Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := websocket.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws/documents/:id", auth.HeaderAuthMiddleware("administrator"),
		websocket.WebSocketHandler(hub, websocket.NewUpgrader([]string{"*"})))
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, documentID string) *gorillaWS.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/documents/" + documentID
	header := http.Header{}
	header.Set(auth.HeaderUserID, "alice")
	conn, _, err := gorillaWS.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_RoutesEventsByDocument(t *testing.T) {
	hub, srv := newServer(t)

	po1 := dial(t, srv, "po-1")
	po2 := dial(t, srv, "po-2")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.HandleEvent(event.Event{ID: "e1", Topic: event.TopicFlowChanged, DocumentID: "po-1"})

	require.NoError(t, po1.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := po1.ReadMessage()
	require.NoError(t, err)

	var evt event.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, "e1", evt.ID)
	assert.Equal(t, event.TopicFlowChanged, evt.Topic)

	// 其他单据的订阅者收不到
	require.NoError(t, po2.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = po2.ReadMessage()
	assert.Error(t, err)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, srv := newServer(t)

	conn := dial(t, srv, "po-1")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_RequiresIdentity(t *testing.T) {
	_, srv := newServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/documents/po-1"
	_, resp, err := gorillaWS.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
