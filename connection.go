package signalr

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// maxRedirects bounds a negotiate redirect chain (spec.md §9). It is
// the default; WithMaxRedirects overrides it per connection.
const maxRedirects = 100

// ConnectionDelegate receives HTTPConnection's lifecycle events.
// Exactly one of ConnectionDidOpen or ConnectionDidFailToOpen follows a
// call to Start, and exactly one ConnectionDidClose or
// ConnectionDidFailToOpen is the last callback a connection ever
// produces (spec.md §4.5). All callbacks for one connection are
// delivered in order, from a single goroutine.
type ConnectionDelegate interface {
	ConnectionDidOpen()
	ConnectionDidReceiveData(data []byte)
	ConnectionDidFailToOpen(err error)
	ConnectionDidClose(err error)
}

// HTTPConnection drives spec.md §4.5's state machine: negotiate,
// follow redirects, select and start a transport, then forward that
// transport's callbacks to a ConnectionDelegate until Stop or a
// transport-initiated close. It generalizes the teacher's package-level
// Client.start/send/stop into a reusable, per-instance type.
//
// A single mutex guards state, url, the access-token override, the
// active transport and the stop-initiated error together: startTransport
// must observe "still connecting" and install the transport as one
// atomic step, or a racing Stop could force the state to stopped between
// the check and the assignment and leave a transport nobody ever closes.
type HTTPConnection struct {
	id     string
	logger Logger
	opts   *connectionOptions

	httpClient HTTPClient

	mu                  sync.Mutex
	state               ConnectionState
	url                 string
	accessTokenOverride AccessTokenProvider
	transport           Transport
	stopError           error
	serverConnectionID  string

	startBarrier chan struct{}
	barrierOnce  sync.Once
	terminalOnce sync.Once

	delegateMu sync.Mutex
	delegate   ConnectionDelegate

	dispatcher *callbackDispatcher
}

// NewConnection constructs an HTTPConnection targeting url. It does not
// contact the server until Start is called.
func NewConnection(target string, opts ...Option) *HTTPConnection {
	o := defaultConnectionOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &HTTPConnection{
		id:           uuid.NewString(),
		logger:       o.logger,
		opts:         o,
		httpClient:   o.httpClientFactory(),
		state:        StateInitial,
		url:          target,
		startBarrier: make(chan struct{}),
		dispatcher:   newCallbackDispatcher(),
	}
}

// ID returns the correlation id this connection attaches to its log
// lines (SPEC_FULL §3 ADDED). It never travels on the wire.
func (c *HTTPConnection) ID() string { return c.id }

// ServerConnectionID returns the externally visible connection id the
// server assigned during the most recent successful negotiate (empty
// before negotiate completes, or when SkipNegotiation is set).
func (c *HTTPConnection) ServerConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverConnectionID
}

func (c *HTTPConnection) setServerConnectionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverConnectionID = id
}

// SetDelegate installs the delegate that receives this connection's
// callbacks. Call it before Start.
func (c *HTTPConnection) SetDelegate(d ConnectionDelegate) {
	c.delegateMu.Lock()
	defer c.delegateMu.Unlock()
	c.delegate = d
}

func (c *HTTPConnection) getDelegate() ConnectionDelegate {
	c.delegateMu.Lock()
	defer c.delegateMu.Unlock()
	return c.delegate
}

func (c *HTTPConnection) withDelegate(fn func(ConnectionDelegate)) {
	if d := c.getDelegate(); d != nil {
		fn(d)
	}
}

// State returns the connection's current phase.
func (c *HTTPConnection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *HTTPConnection) casState(from, to ConnectionState) (previous ConnectionState, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.state
	if previous != from {
		return previous, false
	}
	c.state = to
	return previous, true
}

func (c *HTTPConnection) forceState(to ConnectionState) (previous ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.state
	c.state = to
	return previous
}

func (c *HTTPConnection) currentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

func (c *HTTPConnection) setURL(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = u
}

func (c *HTTPConnection) setAccessTokenOverride(p AccessTokenProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessTokenOverride = p
}

// currentAccessToken prefers a redirection-supplied token over the
// connection's configured AccessTokenProvider, per spec.md §3.
func (c *HTTPConnection) currentAccessToken() (string, error) {
	c.mu.Lock()
	override := c.accessTokenOverride
	base := c.opts.accessTokenProvider
	c.mu.Unlock()

	if override != nil {
		return override()
	}
	if base != nil {
		return base()
	}
	return "", nil
}

// setTransportIfConnecting installs t as the active transport iff the
// state is still connecting, atomically with that check. It returns
// false if a concurrent Stop already forced the state to stopped.
func (c *HTTPConnection) setTransportIfConnecting(t Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.transport = t
	return true
}

func (c *HTTPConnection) currentTransport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *HTTPConnection) setStopError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopError = err
}

func (c *HTTPConnection) currentStopError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopError
}

func (c *HTTPConnection) leaveStartBarrier() {
	c.barrierOnce.Do(func() { close(c.startBarrier) })
}

// deliverTerminal guards every path that could fire the connection's
// one terminal callback: Stop synthesizing a close races the transport
// (or negotiate failure) path reporting its own outcome, and exactly
// one of them may reach the delegate (spec.md §9's "stop during
// connecting" scenario).
func (c *HTTPConnection) deliverTerminal(fn func()) {
	c.terminalOnce.Do(fn)
}

func (c *HTTPConnection) emitFailToOpen(err error) {
	c.dispatcher.enqueueTerminal(func() {
		c.withDelegate(func(d ConnectionDelegate) { d.ConnectionDidFailToOpen(err) })
	})
}

func (c *HTTPConnection) emitClose(err error) {
	c.dispatcher.enqueueTerminal(func() {
		c.withDelegate(func(d ConnectionDelegate) { d.ConnectionDidClose(err) })
	})
}

func (c *HTTPConnection) failOpen(err error) {
	c.forceState(StateStopped)
	c.leaveStartBarrier()
	c.deliverTerminal(func() { c.emitFailToOpen(err) })
}

// Start begins connecting: negotiate (unless skipped), follow
// redirects, select a transport, and start it. It returns immediately;
// the outcome arrives later via ConnectionDidOpen or
// ConnectionDidFailToOpen.
func (c *HTTPConnection) Start(ctx context.Context) {
	prev, ok := c.casState(StateInitial, StateConnecting)
	if !ok {
		c.logger.Warn("start called from invalid state", "conn_id", c.id, "state", prev.String())
		c.deliverTerminal(func() { c.emitFailToOpen(&StateError{Op: "start", State: prev}) })
		return
	}
	go c.runStart(ctx)
}

func (c *HTTPConnection) runStart(ctx context.Context) {
	if c.opts.skipNegotiation {
		transport, err := SelectTransport(skipNegotiationTransports(), c.httpClient, c.logger)
		if err != nil {
			c.failOpen(err)
			return
		}
		c.startTransport(ctx, transport, "")
		return
	}
	c.negotiateAndStart(ctx, 0)
}

// negotiateAndStart implements spec.md §4.1/§4.5: POST /negotiate,
// branch on the decoded response's variant, and recurse on redirection
// up to opts.maxRedirects.
func (c *HTTPConnection) negotiateAndStart(ctx context.Context, redirectCount int) {
	if redirectCount > c.opts.maxRedirects {
		c.failOpen(&NegotiationError{Message: "too many negotiate redirects", Cause: ErrTooManyRedirects})
		return
	}

	negotiateURL, err := buildNegotiateURL(c.currentURL())
	if err != nil {
		c.failOpen(err)
		return
	}

	token, err := c.currentAccessToken()
	if err != nil {
		c.failOpen(err)
		return
	}

	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Post(ctx, negotiateURL, headers, nil)
	if err != nil {
		c.failOpen(err)
		return
	}
	if res.StatusCode != http.StatusOK {
		c.failOpen(&WebError{StatusCode: res.StatusCode})
		return
	}

	resp, err := DecodeNegotiationResponse(res.Body)
	if err != nil {
		c.failOpen(&NegotiationError{Cause: err})
		return
	}

	switch resp.Kind {
	case NegotiationKindError:
		c.failOpen(&NegotiationError{Message: resp.ErrorMessage})

	case NegotiationKindRedirection:
		c.setURL(resp.RedirectURL)
		redirectToken := resp.RedirectAccessToken
		c.setAccessTokenOverride(func() (string, error) { return redirectToken, nil })
		c.negotiateAndStart(ctx, redirectCount+1)

	case NegotiationKindPayloadV0, NegotiationKindPayloadV1:
		if len(resp.AvailableTransports) == 0 {
			c.failOpen(&NegotiationError{Message: "negotiate response advertised no transports"})
			return
		}
		transport, err := SelectTransport(resp.AvailableTransports, c.httpClient, c.logger)
		if err != nil {
			c.failOpen(err)
			return
		}
		c.setServerConnectionID(resp.ConnectionID)
		c.startTransport(ctx, transport, resp.RoutingID())

	default:
		c.failOpen(&NegotiationError{Message: "unrecognized negotiate response"})
	}
}

// startTransport installs and starts transport. If a concurrent Stop
// already moved the state out of connecting, it fails open with
// *ConnectionIsBeingClosedError instead of starting a transport nobody
// would ever be told to close (spec.md §9).
func (c *HTTPConnection) startTransport(ctx context.Context, transport Transport, routingID string) {
	if !c.setTransportIfConnecting(transport) {
		c.failOpen(&ConnectionIsBeingClosedError{})
		return
	}

	transport.SetDelegate(&connectionTransportDelegate{conn: c})

	startURL, err := buildStartURL(c.currentURL(), routingID)
	if err != nil {
		c.failOpen(err)
		return
	}

	token, err := c.currentAccessToken()
	if err != nil {
		c.failOpen(err)
		return
	}

	opts := StartTransportOptions{TransferFormat: TransferFormatText, AccessToken: token}
	if err := transport.Start(ctx, startURL, opts); err != nil {
		c.failOpen(err)
	}
}

// connectionTransportDelegate adapts Transport's callbacks into
// HTTPConnection's private handlers. Go has no weak references; this
// thin adapter is the idiomatic stand-in for spec.md §4.2's
// back-reference: the Transport is owned and discarded by the
// connection, never the other way around, and the adapter carries no
// state of its own that would extend the transport's lifetime.
type connectionTransportDelegate struct {
	conn *HTTPConnection
}

func (a *connectionTransportDelegate) OnTransportOpen() { a.conn.onTransportOpen() }

func (a *connectionTransportDelegate) OnTransportReceive(data []byte) {
	a.conn.onTransportReceive(data)
}

func (a *connectionTransportDelegate) OnTransportClose(err error) {
	a.conn.onTransportClose(err)
}

func (c *HTTPConnection) onTransportOpen() {
	_, ok := c.casState(StateConnecting, StateConnected)
	// The barrier must be released even when a racing Stop already moved
	// the state past connecting: the transport has opened regardless, and
	// Stop is waiting on this barrier before it can call transport.Close.
	c.leaveStartBarrier()
	if !ok {
		return
	}
	c.dispatcher.enqueue(func() {
		c.withDelegate(func(d ConnectionDelegate) { d.ConnectionDidOpen() })
	})
}

func (c *HTTPConnection) onTransportReceive(data []byte) {
	c.dispatcher.enqueue(func() {
		c.withDelegate(func(d ConnectionDelegate) { d.ConnectionDidReceiveData(data) })
	})
}

// onTransportClose forces the state to stopped and reports either
// ConnectionDidFailToOpen (the transport closed before it ever opened,
// e.g. a dial that failed after Start returned nil) or
// ConnectionDidClose, depending on what the state was immediately
// before this call. A Stop already in progress has forced the state to
// stopped before calling transport.Close(), so "previous == connecting"
// here can only mean the transport failed on its own, never that the
// user asked for a stop (spec.md §4.5/§7).
func (c *HTTPConnection) onTransportClose(err error) {
	prev := c.forceState(StateStopped)

	finalErr := err
	if stopErr := c.currentStopError(); stopErr != nil {
		finalErr = stopErr
	}

	if prev == StateConnecting {
		c.leaveStartBarrier()
		c.deliverTerminal(func() { c.emitFailToOpen(finalErr) })
		return
	}

	c.deliverTerminal(func() { c.emitClose(finalErr) })
}

// Send forwards data to the active transport. It fails with *StateError
// unless the connection is connected.
func (c *HTTPConnection) Send(ctx context.Context, data []byte) error {
	state := c.State()
	if state != StateConnected {
		return &StateError{Op: "send", State: state}
	}
	transport := c.currentTransport()
	if transport == nil {
		return &StateError{Op: "send", State: state}
	}
	return transport.Send(ctx, data)
}

// Stop tears the connection down. Calling it before Start fires no
// callback (it is logged, not an error) but still moves the state to
// stopped, so a later Start fails; calling it more than once is
// idempotent. It blocks until any in-flight Start attempt has resolved
// one way or another before deciding how to finish: close the active
// transport if one was installed. If none was, the start attempt has
// already failed and reported ConnectionDidFailToOpen, so the
// ConnectionDidClose that Stop falls back to is dropped by the
// one-terminal-callback guard.
func (c *HTTPConnection) Stop(err error) {
	prev := c.forceState(StateStopped)
	c.setStopError(err)

	if prev == StateStopped {
		return
	}
	if prev == StateInitial {
		c.logger.Debug("stop called before start", "conn_id", c.id)
		return
	}

	<-c.startBarrier

	if transport := c.currentTransport(); transport != nil {
		transport.Close()
		return
	}

	c.deliverTerminal(func() { c.emitClose(err) })
}

// buildNegotiateURL appends "/negotiate" to base's path and sets
// negotiateVersion=1, preserving any query parameters already present
// (spec.md §4.1).
func buildNegotiateURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildStartURL adds an "id" query parameter carrying the negotiated
// routing id (connection token for v1, connection id for v0). A blank
// routingID (SkipNegotiation) leaves base untouched.
func buildStartURL(base, routingID string) (string, error) {
	if routingID == "" {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("id", routingID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
