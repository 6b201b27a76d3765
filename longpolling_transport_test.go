package signalr

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingDelegate struct {
	opened  chan struct{}
	data    chan []byte
	closed  chan error
	openAt  func()
	closeAt func(err error)
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{
		opened: make(chan struct{}, 1),
		data:   make(chan []byte, 16),
		closed: make(chan error, 1),
	}
}

func (d *recordingDelegate) OnTransportOpen() {
	select {
	case d.opened <- struct{}{}:
	default:
	}
}
func (d *recordingDelegate) OnTransportReceive(data []byte) { d.data <- append([]byte(nil), data...) }
func (d *recordingDelegate) OnTransportClose(err error)     { d.closed <- err }

func requireOpened(t *testing.T, d *recordingDelegate) {
	t.Helper()
	select {
	case <-d.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnTransportOpen")
	}
}

func requireClosed(t *testing.T, d *recordingDelegate) error {
	t.Helper()
	select {
	case err := <-d.closed:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnTransportClose")
		return nil
	}
}

// TestLongPollingTransportLifecycle drives spec.md §8 scenario 4: the
// first 200 is the handshake, the second carries data, and Close ends
// the session with a DELETE and exactly one OnTransportClose(nil).
func TestLongPollingTransportLifecycle(t *testing.T) {
	fake := &FakeHTTPClient{
		GetQueue: []FakeResponse{
			{Status: http.StatusOK, Body: nil},
			{Status: http.StatusOK, Body: []byte("hello")},
		},
	}
	transport := NewLongPollingTransport(fake, nil)
	delegate := newRecordingDelegate()
	transport.SetDelegate(delegate)

	require.NoError(t, transport.Start(context.Background(), "http://example/poll", StartTransportOptions{}))
	requireOpened(t, delegate)

	select {
	case data := <-delegate.data:
		require.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnTransportReceive")
	}

	require.NoError(t, transport.Close())
	err := requireClosed(t, delegate)
	require.NoError(t, err)
	require.Equal(t, 1, fake.RequestCount(http.MethodDelete))
}

// TestLongPollingTransport204EndsSession covers spec.md §8 scenario 5:
// a 204 mid-session ends the transport with no further GET.
func TestLongPollingTransport204EndsSession(t *testing.T) {
	fake := &FakeHTTPClient{
		GetQueue: []FakeResponse{
			{Status: http.StatusOK, Body: nil},
			{Status: http.StatusNoContent},
		},
	}
	transport := NewLongPollingTransport(fake, nil)
	delegate := newRecordingDelegate()
	transport.SetDelegate(delegate)

	require.NoError(t, transport.Start(context.Background(), "http://example/poll", StartTransportOptions{}))
	requireOpened(t, delegate)

	err := requireClosed(t, delegate)
	require.NoError(t, err)

	// Give any stray goroutine a moment, then confirm no GET beyond the
	// two queued ones was issued.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, fake.RequestCount(http.MethodGet))
}

func TestLongPollingTransportNetworkErrorEndsSession(t *testing.T) {
	fake := &FakeHTTPClient{
		GetQueue: []FakeResponse{
			{Status: http.StatusOK, Body: nil},
			{Err: errors.New("connection reset by peer")},
		},
	}
	transport := NewLongPollingTransport(fake, nil)
	delegate := newRecordingDelegate()
	transport.SetDelegate(delegate)

	require.NoError(t, transport.Start(context.Background(), "http://example/poll", StartTransportOptions{}))
	requireOpened(t, delegate)

	err := requireClosed(t, delegate)
	require.Error(t, err)
}

func TestLongPollingTransportSendFailsWhenInactive(t *testing.T) {
	transport := NewLongPollingTransport(&FakeHTTPClient{}, nil)
	err := transport.Send(context.Background(), []byte("x"))
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
}

