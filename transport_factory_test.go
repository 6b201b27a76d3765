package signalr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectTransportPrefersWebSockets(t *testing.T) {
	available := []TransportDescription{
		{Kind: TransportLongPolling, Formats: []TransferFormat{TransferFormatText}},
		{Kind: TransportWebSockets, Formats: []TransferFormat{TransferFormatText, TransferFormatBinary}},
	}
	transport, err := SelectTransport(available, nil, nil)
	require.NoError(t, err)
	_, isWebSocket := transport.(*WebSocketTransport)
	require.True(t, isWebSocket)
}

func TestSelectTransportFallsBackToLongPolling(t *testing.T) {
	available := []TransportDescription{
		{Kind: TransportServerSentEvents, Formats: []TransferFormat{TransferFormatText}},
		{Kind: TransportLongPolling, Formats: []TransferFormat{TransferFormatText}},
	}
	transport, err := SelectTransport(available, &FakeHTTPClient{}, nil)
	require.NoError(t, err)
	_, isLongPolling := transport.(*LongPollingTransport)
	require.True(t, isLongPolling)
}

func TestSelectTransportNoSupportedTransport(t *testing.T) {
	available := []TransportDescription{
		{Kind: TransportServerSentEvents, Formats: []TransferFormat{TransferFormatText}},
	}
	_, err := SelectTransport(available, nil, nil)
	require.Error(t, err)
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	require.Equal(t, available, selErr.Available)
}

func TestSkipNegotiationTransports(t *testing.T) {
	transports := skipNegotiationTransports()
	require.Len(t, transports, 1)
	require.Equal(t, TransportWebSockets, transports[0].Kind)
	require.True(t, transports[0].SupportsFormat(TransferFormatText))
	require.True(t, transports[0].SupportsFormat(TransferFormatBinary))
}
