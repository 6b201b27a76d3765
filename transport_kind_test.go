package signalr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTransportKind(t *testing.T) {
	cases := map[string]TransportKind{
		"WebSockets":       TransportWebSockets,
		"ServerSentEvents": TransportServerSentEvents,
		"LongPolling":      TransportLongPolling,
	}
	for wire, want := range cases {
		got, err := ParseTransportKind(wire)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, wire, got.String())
	}
}

func TestParseTransportKindInvalid(t *testing.T) {
	_, err := ParseTransportKind("Carrier Pigeon")
	require.Error(t, err)
}

func TestParseTransferFormat(t *testing.T) {
	got, err := ParseTransferFormat("Binary")
	require.NoError(t, err)
	require.Equal(t, TransferFormatBinary, got)
	require.Equal(t, "Binary", got.String())

	_, err = ParseTransferFormat("Morse")
	require.Error(t, err)
}

func TestTransportDescriptionSupportsFormat(t *testing.T) {
	d := TransportDescription{Kind: TransportWebSockets, Formats: []TransferFormat{TransferFormatText}}
	require.True(t, d.SupportsFormat(TransferFormatText))
	require.False(t, d.SupportsFormat(TransferFormatBinary))
}

func TestTransportDescriptionEqual(t *testing.T) {
	a := TransportDescription{Kind: TransportLongPolling, Formats: []TransferFormat{TransferFormatText, TransferFormatBinary}}
	b := TransportDescription{Kind: TransportLongPolling, Formats: []TransferFormat{TransferFormatText, TransferFormatBinary}}
	c := TransportDescription{Kind: TransportLongPolling, Formats: []TransferFormat{TransferFormatText}}
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}
