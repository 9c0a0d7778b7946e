package hub

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
)

func drain(sub *Subscriber) []string {
	var out []string
	for {
		select {
		case msg := <-sub.Out():
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestDispatchDeliversToStreamSubscribersOnly(t *testing.T) {
	h := New(logrus.New(), 4, 64)
	a := h.Subscribe("stream-a")
	b := h.Subscribe("stream-b")
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Dispatch("stream-a", []byte("frame-1"))

	if got := drain(a); len(got) != 1 || got[0] != "frame-1" {
		t.Fatalf("subscriber a got %v", got)
	}
	if got := drain(b); len(got) != 0 {
		t.Fatalf("subscriber b should get nothing, got %v", got)
	}
}

func TestWildcardSubscriberSeesAllStreams(t *testing.T) {
	h := New(logrus.New(), 4, 64)
	all := h.Subscribe("")
	only := h.Subscribe("stream-a")
	defer h.Unsubscribe(all)
	defer h.Unsubscribe(only)

	h.Dispatch("stream-a", []byte("a-1"))
	h.Dispatch("stream-b", []byte("b-1"))

	if got := drain(all); len(got) != 2 || got[0] != "a-1" || got[1] != "b-1" {
		t.Fatalf("wildcard subscriber got %v", got)
	}
	if got := drain(only); len(got) != 1 || got[0] != "a-1" {
		t.Fatalf("filtered subscriber got %v", got)
	}
}

func TestDispatchDropsOldestWhenFull(t *testing.T) {
	h := New(logrus.New(), 2, 64)
	sub := h.Subscribe("stream-a")
	defer h.Unsubscribe(sub)

	h.Dispatch("stream-a", []byte("1"))
	h.Dispatch("stream-a", []byte("2"))
	h.Dispatch("stream-a", []byte("3"))

	got := drain(sub)
	if len(got) != 2 || got[0] != "2" || got[1] != "3" {
		t.Fatalf("expected [2 3], got %v", got)
	}
	if sub.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", sub.Dropped())
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	h := New(logrus.New(), 2, 8)
	slow := h.Subscribe("stream-a")
	fast := h.Subscribe("stream-a")

	// Fill both queues, then keep pushing while only the fast consumer
	// drains. The slow one must be evicted after 8 forced drops.
	for i := 0; i < 2+8; i++ {
		h.Dispatch("stream-a", []byte(fmt.Sprintf("frame-%d", i)))
		drain(fast)
	}

	select {
	case <-slow.Done():
	default:
		t.Fatalf("slow subscriber not evicted after %d drops", slow.Dropped())
	}
	if slow.Reason() != CloseSlowConsumer {
		t.Fatalf("unexpected close reason %q", slow.Reason())
	}
	if h.SubscriberCount("stream-a") != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", h.SubscriberCount("stream-a"))
	}

	// The fast consumer keeps receiving.
	h.Dispatch("stream-a", []byte("after"))
	if got := drain(fast); len(got) != 1 || got[0] != "after" {
		t.Fatalf("fast subscriber got %v", got)
	}
	h.Unsubscribe(fast)
}

func TestDeliveryResetsConsecutiveDrops(t *testing.T) {
	h := New(logrus.New(), 1, 3)
	sub := h.Subscribe("stream-a")
	defer h.Unsubscribe(sub)

	// Alternate full and drained: drops never become consecutive enough
	// to evict.
	for i := 0; i < 10; i++ {
		h.Dispatch("stream-a", []byte("x"))
		h.Dispatch("stream-a", []byte("y"))
		drain(sub)
	}

	select {
	case <-sub.Done():
		t.Fatalf("subscriber evicted despite keeping up")
	default:
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := New(logrus.New(), 4, 64)
	sub := h.Subscribe("stream-a")

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	if h.SubscriberCount("stream-a") != 0 {
		t.Fatalf("expected 0 subscribers")
	}
	h.Dispatch("stream-a", []byte("frame"))
}
