package signalr

// SelectTransport implements spec.md §4.4's fixed-preference transport
// selection: WebSockets first, then LongPolling. ServerSentEvents is
// decoded but never selected here (see SSETransport for why). If
// neither preferred transport is advertised, selection fails with a
// *SelectionError.
func SelectTransport(available []TransportDescription, httpClient HTTPClient, logger Logger) (Transport, error) {
	if hasTransport(available, TransportWebSockets) {
		return NewWebSocketTransport(logger), nil
	}
	if hasTransport(available, TransportLongPolling) {
		return NewLongPollingTransport(httpClient, logger), nil
	}
	return nil, &SelectionError{Available: available}
}

func hasTransport(available []TransportDescription, kind TransportKind) bool {
	for _, d := range available {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// skipNegotiationTransports is the synthetic advertised-transport list
// used when a connection is configured with SkipNegotiation: the
// client commits to WebSockets, text and binary, without calling
// /negotiate at all (spec.md §4.4).
func skipNegotiationTransports() []TransportDescription {
	return []TransportDescription{
		{Kind: TransportWebSockets, Formats: []TransferFormat{TransferFormatText, TransferFormatBinary}},
	}
}
