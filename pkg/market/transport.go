package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type transportEventKind int

const (
	transportOpened transportEventKind = iota
	transportMessage
	transportErrored
	transportClosed
)

// transportEvent is the single event shape every live-connection notification
// is reduced to. The feed's run loop consumes these through one transition
// function, so the reconnect logic lives in one place and is testable without
// a real socket.
type transportEvent struct {
	kind    transportEventKind
	payload []byte
	err     error
	code    int
	gen     int // connection epoch, stamped by the feed
}

// transport abstracts the live connection so the feed's state machine can be
// driven by a fake in tests.
type transport interface {
	// open starts the connection attempt. It returns an error only for
	// synchronous setup failures (bad URL, credential decoration); dial
	// results arrive asynchronously as transport events.
	open(ctx context.Context) error
	send(v interface{}) error
	close()
}

type transportFactory func(emit func(transportEvent)) transport

// subscribeRequest is the per-instrument envelope sent on every (re)connect.
type subscribeRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// wsTransport is the gorilla/websocket live transport.
type wsTransport struct {
	url  string
	auth Authenticator
	log  *logrus.Logger
	emit func(transportEvent)

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func newWSTransport(rawURL string, auth Authenticator, log *logrus.Logger) transportFactory {
	return func(emit func(transportEvent)) transport {
		return &wsTransport{
			url:  rawURL,
			auth: auth,
			log:  log,
			emit: emit,
		}
	}
}

func (t *wsTransport) open(ctx context.Context) error {
	u, err := url.Parse(t.url)
	if err != nil {
		return fmt.Errorf("invalid feed url: %w", err)
	}

	header := make(http.Header)
	if t.auth != nil {
		if err := t.auth.Decorate(u, header); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go t.dial(ctx, u.String(), header)
	return nil
}

func (t *wsTransport) dial(ctx context.Context, dialURL string, header http.Header) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, dialURL, header)
	if err != nil {
		t.emit(transportEvent{kind: transportErrored, err: err})
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.emit(transportEvent{kind: transportOpened})
	t.readLoop(ctx, conn)
}

func (t *wsTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				// Closed by our side; the feed already moved on.
				return
			default:
			}
			if ce, ok := err.(*websocket.CloseError); ok {
				t.emit(transportEvent{kind: transportClosed, err: err, code: ce.Code})
			} else {
				t.emit(transportEvent{kind: transportErrored, err: err})
			}
			return
		}
		t.emit(transportEvent{kind: transportMessage, payload: payload})
	}
}

func (t *wsTransport) send(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
