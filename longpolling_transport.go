package signalr

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LongPollingTransport implements Transport with the poll/reissue loop
// of spec.md §4.3: each GET either opens the transport (first 200),
// delivers data (non-empty 200 body), or is a benign timeout to be
// reissued; a 204 or network error ends the session; a 404 observed
// while inactive is a benign shutdown race, not an error.
type LongPollingTransport struct {
	httpClient HTTPClient
	logger     Logger

	stateMu     sync.Mutex
	active      bool
	opened      bool
	closeError  error
	url         string
	accessToken string

	delegateMu sync.Mutex
	delegate   TransportDelegate

	closeOnce sync.Once
	closeDone chan struct{}
}

// NewLongPollingTransport constructs a LongPollingTransport. httpClient
// must not be nil; logger may be nil (no-op).
func NewLongPollingTransport(httpClient HTTPClient, logger Logger) *LongPollingTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LongPollingTransport{
		httpClient: httpClient,
		logger:     logger,
		closeDone:  make(chan struct{}),
	}
}

func (t *LongPollingTransport) SetDelegate(d TransportDelegate) {
	t.delegateMu.Lock()
	defer t.delegateMu.Unlock()
	t.delegate = d
}

func (t *LongPollingTransport) getDelegate() TransportDelegate {
	t.delegateMu.Lock()
	defer t.delegateMu.Unlock()
	return t.delegate
}

// InherentKeepAlive is true: long-polling's own request/response cycle
// already proves liveness (spec.md §4.2).
func (t *LongPollingTransport) InherentKeepAlive() bool { return true }

// Start records the session parameters and kicks off the poll loop on
// its own goroutine. It returns immediately; readiness is signaled
// later via OnTransportOpen, once the first 200 is consumed as a
// handshake.
func (t *LongPollingTransport) Start(ctx context.Context, url string, opts StartTransportOptions) error {
	t.stateMu.Lock()
	t.url = url
	t.accessToken = opts.AccessToken
	t.active = true
	t.opened = false
	t.closeError = nil
	t.stateMu.Unlock()

	go t.pollLoop(ctx)
	return nil
}

func (t *LongPollingTransport) headers() http.Header {
	h := http.Header{}
	t.stateMu.Lock()
	token := t.accessToken
	t.stateMu.Unlock()
	if token != "" {
		h.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	return h
}

func (t *LongPollingTransport) isActive() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.active
}

func (t *LongPollingTransport) pollLoop(ctx context.Context) {
	for t.isActive() {
		t.pollOnce(ctx)
	}
	t.close()
}

// pollOnce issues one GET with a cache-busting query parameter and
// applies spec.md §4.3's response-handling table. It must observe
// `active` only after the HTTP round trip completes, never before, to
// avoid racing a concurrent Close() that flips the flag between issue
// and handling (spec.md §9).
func (t *LongPollingTransport) pollOnce(ctx context.Context) {
	cacheBuster := strconv.FormatInt(time.Now().UnixMilli(), 10)
	var pollURL string
	if strings.Contains(t.url, "?") {
		pollURL = t.url + "&_=" + cacheBuster
	} else {
		pollURL = t.url + "?_=" + cacheBuster
	}

	res, err := t.httpClient.Get(ctx, pollURL, t.headers())
	if err != nil {
		if isClientTimeout(err) {
			t.logger.Debug("long-poll client timeout, reissuing")
			return
		}
		t.logger.Warn("long-poll network error", "error", err)
		t.setInactive(err)
		return
	}

	switch {
	case res.StatusCode == http.StatusNoContent:
		t.logger.Debug("long-poll received 204, graceful end")
		t.setInactive(nil)

	case res.StatusCode == http.StatusOK:
		t.handleSuccessfulPoll(res.Body)

	case res.StatusCode == http.StatusNotFound:
		if !t.isActive() {
			t.logger.Debug("long-poll 404 while inactive, benign shutdown race")
			return
		}
		t.logger.Warn("long-poll 404 while active", "status", res.StatusCode)
		t.setInactive(&WebError{StatusCode: res.StatusCode})

	default:
		t.logger.Warn("long-poll unexpected status", "status", res.StatusCode)
		t.setInactive(&WebError{StatusCode: res.StatusCode})
	}
}

func (t *LongPollingTransport) handleSuccessfulPoll(body []byte) {
	t.stateMu.Lock()
	alreadyOpened := t.opened
	if !alreadyOpened {
		t.opened = true
	}
	t.stateMu.Unlock()

	if !alreadyOpened {
		t.logger.Debug("long-poll handshake complete")
		if d := t.getDelegate(); d != nil {
			d.OnTransportOpen()
		}
		return
	}

	if len(body) > 0 {
		if d := t.getDelegate(); d != nil {
			d.OnTransportReceive(body)
		}
		return
	}

	t.logger.Debug("long-poll server-side timeout, reissuing")
}

func (t *LongPollingTransport) setInactive(err error) {
	t.stateMu.Lock()
	t.active = false
	t.closeError = err
	t.stateMu.Unlock()
}

// Send POSTs data to the session URL. Per spec.md §4.3 it fails
// synchronously with *StateError if the session is not active.
func (t *LongPollingTransport) Send(ctx context.Context, data []byte) error {
	if !t.isActive() {
		return &StateError{Op: "send", State: StateStopped}
	}

	t.stateMu.Lock()
	url := t.url
	t.stateMu.Unlock()

	res, err := t.httpClient.Post(ctx, url, t.headers(), data)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return &WebError{StatusCode: res.StatusCode}
	}
	return nil
}

// Close marks the session inactive and, exactly once, issues the
// session-terminating DELETE and reports OnTransportClose. It is safe
// to call concurrently with the poll loop's own terminal close() path;
// sync.Once (the idiomatic replacement for spec.md §5's "close queue")
// guarantees only one of them does the work.
func (t *LongPollingTransport) Close() error {
	t.stateMu.Lock()
	t.active = false
	t.stateMu.Unlock()

	t.close()
	<-t.closeDone
	return nil
}

func (t *LongPollingTransport) close() {
	t.closeOnce.Do(func() {
		defer close(t.closeDone)

		t.stateMu.Lock()
		t.active = false
		url := t.url
		closeErr := t.closeError
		t.stateMu.Unlock()

		res, err := t.httpClient.Delete(context.Background(), url, t.headers())
		if closeErr == nil {
			if err != nil {
				closeErr = err
			} else if res != nil && res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
				closeErr = &WebError{StatusCode: res.StatusCode}
			}
		}

		t.logger.Debug("long-poll session terminated", "error", closeErr)
		if d := t.getDelegate(); d != nil {
			d.OnTransportClose(closeErr)
		}
	})
}
