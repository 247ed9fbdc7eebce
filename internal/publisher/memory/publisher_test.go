package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), map[string]string{"stage": "WATCH_SYNC"}, map[string]string{"course_id": "7"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "payload", nil)
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if string(msgs[0].Data) != `{"stage":"WATCH_SYNC"}` || string(msgs[1].Data) != `"payload"` {
		t.Fatalf("payloads not recorded correctly: %+v", msgs)
	}
	if msgs[0].Attributes["course_id"] != "7" {
		t.Fatalf("attributes not recorded: %+v", msgs[0].Attributes)
	}

	msgs[0].Data = nil
	if pub.Messages()[0].Data == nil {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	if _, err := New().Publish(context.Background(), make(chan int), nil); err == nil {
		t.Fatal("expected marshal error")
	}
}
