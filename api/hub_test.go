package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxdesk/pkg/market"
)

func newTestHub(t *testing.T, pingInterval time.Duration) (*Hub, context.CancelFunc) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hub := NewHub(logger)
	hub.pingInterval = pingInterval
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, cancel
}

func dialTestHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

// Broadcasts and keepalive pings target the same connections; every write
// must come from the single Run goroutine. This test interleaves both write
// paths under load so the race detector can catch a second writer.
func TestHubBroadcastAndPingSingleWriter(t *testing.T) {
	hub, cancel := newTestHub(t, time.Millisecond)
	defer cancel()

	conn, closeConn := dialTestHub(t, hub)
	defer closeConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			hub.OnTick(market.Tick{Symbol: "EURUSD", Price: 1.0842, Time: 1760000000})
			time.Sleep(100 * time.Microsecond)
		}
	}()

	// Reading services both data frames and ping control frames.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	received := 0
	for received < 100 {
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("read failed after %d messages: %v", received, err)
		}
		received++
	}
	<-done
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, cancel := newTestHub(t, defaultPingInterval)
	conn, closeConn := dialTestHub(t, hub)
	defer closeConn()

	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	var nerr net.Error
	if errors.As(err, &nerr) {
		assert.False(t, nerr.Timeout(), "connection should be closed by shutdown, not read timeout")
	}
}
