package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestFramesWSDeliversMessages(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("SELECT (.+) FROM camera_streams WHERE id").
		WillReturnRows(streamRow("a", "bridge", true, "worker-a"))

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/frames?stream_id=a"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to attach before dispatching.
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.SubscriberCount("a") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	payload := `{"type":"frame","stream_id":"a","width":960}`
	env.hub.Dispatch("a", []byte(payload))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != payload {
		t.Fatalf("unexpected payload %q", msg)
	}
}

func TestFramesWSWithoutFilterSeesAllStreams(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/frames"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.SubscriberCount("") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.hub.Dispatch("a", []byte(`{"type":"frame","stream_id":"a"}`))
	env.hub.Dispatch("b", []byte(`{"type":"frame","stream_id":"b"}`))

	for _, want := range []string{`"stream_id":"a"`, `"stream_id":"b"`} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !strings.Contains(string(msg), want) {
			t.Fatalf("expected %s in %q", want, msg)
		}
	}
}

func TestFramesWSClosesOnEviction(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("SELECT (.+) FROM camera_streams WHERE id").
		WillReturnRows(streamRow("a", "bridge", true, "worker-a"))

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/frames?stream_id=a"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.SubscriberCount("a") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Flood with large frames while the client is not reading. The writer
	// stalls on the socket, the queue overflows on every dispatch and the
	// hub evicts the subscriber; once the client drains, it must see a
	// policy violation close.
	payload := []byte(strings.Repeat("x", 256*1024))
	for i := 0; i < 300; i++ {
		env.hub.Dispatch("a", payload)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("expected policy violation close, got %v", err)
			}
			return
		}
	}
}
