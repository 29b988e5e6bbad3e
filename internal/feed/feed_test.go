package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sequencerFeed/internal/model"
)

const validFrame = `{"version":1,"messages":[{"sequenceNumber":42,"message":{"message":{"header":{"kind":3,"blockNumber":100,"timestamp":1700000000},"l2Msg":"BAL4"},"delayedMessagesRead":1},"signature":null}]}`

func newFeedServer(t *testing.T, chainID string, handle func(conn *websocket.Conn)) (string, <-chan http.Header) {
	t.Helper()

	headers := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case headers <- r.Header.Clone():
		default:
		}

		respHeader := http.Header{}
		if chainID != "" {
			respHeader.Set(headerChainID, chainID)
		}
		conn, err := upgrader.Upgrade(w, r, respHeader)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http"), headers
}

func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestDialer(t *testing.T, url string, chainID uint64, out chan<- model.FeedFrame) *Dialer {
	t.Helper()
	dialer, err := NewDialer(DialerConfig{URL: url, ChainID: chainID, HandshakeTimeout: 2 * time.Second}, out, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	return dialer
}

func TestConnectSendsFeedHeaders(t *testing.T) {
	url, headers := newFeedServer(t, "42170", holdOpen)
	out := make(chan model.FeedFrame, 1)

	conn, err := newTestDialer(t, url, 42170, out).Connect(context.Background(), 0, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.conn.Close()

	var got http.Header
	select {
	case got = <-headers:
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not receive handshake")
	}

	expect := map[string]string{
		"Arbitrum-Feed-Client-Version":       "2",
		"Arbitrum-Requested-Sequence-Number": "0",
		"Upgrade":                            "websocket",
		"Connection":                         "Upgrade",
		"Sec-Websocket-Version":              "13",
	}
	for key, want := range expect {
		if value := got.Get(key); value != want {
			t.Fatalf("header %s mismatch: %q != %q", key, value, want)
		}
	}
	if got.Get("Sec-Websocket-Key") == "" {
		t.Fatalf("missing websocket key")
	}
}

func TestConnectRejectsChainIDMismatch(t *testing.T) {
	url, _ := newFeedServer(t, "42161", holdOpen)

	_, err := newTestDialer(t, url, 42170, make(chan model.FeedFrame)).Connect(context.Background(), 0, nil)
	if !errors.Is(err, ErrInvalidChainID) {
		t.Fatalf("expected chain id error, got %v", err)
	}
}

func TestConnectRejectsBadChainIDHeader(t *testing.T) {
	url, _ := newFeedServer(t, "nova", holdOpen)
	_, err := newTestDialer(t, url, 42170, make(chan model.FeedFrame)).Connect(context.Background(), 0, nil)
	if !errors.Is(err, ErrInvalidChainID) {
		t.Fatalf("expected chain id error, got %v", err)
	}

	url, _ = newFeedServer(t, "", holdOpen)
	_, err = newTestDialer(t, url, 42170, make(chan model.FeedFrame)).Connect(context.Background(), 0, nil)
	if !errors.Is(err, ErrMissingChainID) {
		t.Fatalf("expected missing chain id error, got %v", err)
	}
}

func TestConnectHandshakeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, err := newTestDialer(t, url, 42170, make(chan model.FeedFrame)).Connect(context.Background(), 0, nil)
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected handshake error, got %v", err)
	}
}

func TestNewDialerRejectsInvalidURL(t *testing.T) {
	out := make(chan model.FeedFrame)
	for _, raw := range []string{"https://arb1.arbitrum.io/feed", "wss://", "::not a url", ""} {
		if _, err := NewDialer(DialerConfig{URL: raw}, out, nil, nil); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("%q: expected invalid url error, got %v", raw, err)
		}
	}
}

func TestRunForwardsFramesAndReportsDisconnect(t *testing.T) {
	url, _ := newFeedServer(t, "42170", func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(validFrame))
	})

	out := make(chan model.FeedFrame, 4)
	disconnects := make(chan model.ConnectionID, 1)

	conn, err := newTestDialer(t, url, 42170, out).Connect(context.Background(), 5, disconnects)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan struct{})
	go func() {
		conn.Run(context.Background())
		close(done)
	}()

	select {
	case frame := <-out:
		if frame.ConnectionID != 5 {
			t.Fatalf("connection id mismatch: %d", frame.ConnectionID)
		}
		if len(frame.Envelope.Messages) != 1 || frame.Envelope.Messages[0].SequenceNumber != 42 {
			t.Fatalf("frame mismatch: %+v", frame.Envelope)
		}
		if frame.ReceivedAt.IsZero() {
			t.Fatalf("missing receive time")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}

	select {
	case id := <-disconnects:
		if id != 5 {
			t.Fatalf("disconnect id mismatch: %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for disconnect")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}

	select {
	case frame := <-out:
		t.Fatalf("unexpected extra frame: %+v", frame)
	default:
	}
}

func TestRunStopsOnCancelWithoutDisconnect(t *testing.T) {
	url, _ := newFeedServer(t, "42170", holdOpen)

	out := make(chan model.FeedFrame, 1)
	disconnects := make(chan model.ConnectionID, 1)
	conn, err := newTestDialer(t, url, 42170, out).Connect(context.Background(), 1, disconnects)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		conn.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}

	select {
	case id := <-disconnects:
		t.Fatalf("unexpected disconnect notification for %d", id)
	default:
	}
}
