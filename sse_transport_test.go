package signalr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSSETransportReceivesEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: hello\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	transport := NewSSETransport(server.Client(), nil)
	delegate := newRecordingDelegate()
	transport.SetDelegate(delegate)

	require.NoError(t, transport.Start(context.Background(), server.URL, StartTransportOptions{}))
	requireOpened(t, delegate)

	select {
	case data := <-delegate.data:
		require.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE event")
	}

	require.NoError(t, transport.Close())
	requireClosed(t, delegate)
}

func TestSSETransportRejectsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	transport := NewSSETransport(server.Client(), nil)
	err := transport.Start(context.Background(), server.URL, StartTransportOptions{})
	var webErr *WebError
	require.ErrorAs(t, err, &webErr)
	require.Equal(t, http.StatusForbidden, webErr.StatusCode)
}

