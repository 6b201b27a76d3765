package signalr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newEchoWebSocketServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketTransportSendReceive(t *testing.T) {
	server := newEchoWebSocketServer(t)
	defer server.Close()

	wsURL := "http" + strings.TrimPrefix(server.URL, "http")
	transport := NewWebSocketTransport(nil)
	delegate := newRecordingDelegate()
	transport.SetDelegate(delegate)

	require.NoError(t, transport.Start(context.Background(), wsURL, StartTransportOptions{TransferFormat: TransferFormatText}))
	requireOpened(t, delegate)

	require.NoError(t, transport.Send(context.Background(), []byte("ping")))

	select {
	case data := <-delegate.data:
		require.Equal(t, "ping", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}

	require.NoError(t, transport.Close())
	requireClosed(t, delegate)
}

func TestWebSocketTransportSendAfterCloseFails(t *testing.T) {
	server := newEchoWebSocketServer(t)
	defer server.Close()

	wsURL := "http" + strings.TrimPrefix(server.URL, "http")
	transport := NewWebSocketTransport(nil)
	delegate := newRecordingDelegate()
	transport.SetDelegate(delegate)

	require.NoError(t, transport.Start(context.Background(), wsURL, StartTransportOptions{}))
	requireOpened(t, delegate)
	require.NoError(t, transport.Close())
	requireClosed(t, delegate)

	err := transport.Send(context.Background(), []byte("x"))
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestToWebSocketURL(t *testing.T) {
	ws, err := toWebSocketURL("https://example.com/hub")
	require.NoError(t, err)
	require.Equal(t, "wss://example.com/hub", ws)

	ws, err = toWebSocketURL("http://example.com/hub")
	require.NoError(t, err)
	require.Equal(t, "ws://example.com/hub", ws)
}
