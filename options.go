package signalr

// AccessTokenProvider supplies a bearer token to attach to negotiate
// and transport-start requests. It is called fresh on every request
// since SignalR servers commonly issue short-lived tokens.
type AccessTokenProvider func() (string, error)

// connectionOptions holds the enumerated configuration knobs of
// spec.md §6: httpClientFactory, accessTokenProvider, skipNegotiation,
// plus the ambient Logger and redirect cap this module adds.
type connectionOptions struct {
	httpClientFactory   HTTPClientFactory
	accessTokenProvider AccessTokenProvider
	skipNegotiation     bool
	logger              Logger
	maxRedirects        int
}

func defaultConnectionOptions() *connectionOptions {
	return &connectionOptions{
		httpClientFactory: DefaultHTTPClientFactory,
		logger:            noopLogger{},
		maxRedirects:      maxRedirects,
	}
}

// Option configures a Connection at construction time.
type Option func(*connectionOptions)

// WithHTTPClientFactory overrides how each connection builds its
// HTTPClient.
func WithHTTPClientFactory(f HTTPClientFactory) Option {
	return func(o *connectionOptions) { o.httpClientFactory = f }
}

// WithAccessTokenProvider installs a bearer-token source for negotiate
// and transport-start requests. A server redirection response's own
// access token (spec.md §3) overrides this for the remainder of the
// connection attempt.
func WithAccessTokenProvider(p AccessTokenProvider) Option {
	return func(o *connectionOptions) { o.accessTokenProvider = p }
}

// WithSkipNegotiation forces a WebSocket-only connection that never
// calls /negotiate (spec.md §4.4).
func WithSkipNegotiation() Option {
	return func(o *connectionOptions) { o.skipNegotiation = true }
}

// WithLogger installs a Logger. The default is a no-op logger.
func WithLogger(l Logger) Option {
	return func(o *connectionOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxRedirects overrides the redirect-chain cap (default 100,
// spec.md §9).
func WithMaxRedirects(n int) Option {
	return func(o *connectionOptions) { o.maxRedirects = n }
}
