package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "usage", proxy.UsageEvent{TokenID: "a"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "usage" || msgs[1].Topic != "audit" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}

	usage := pub.Topic("usage")
	if len(usage) != 1 || usage[0].(proxy.UsageEvent).TokenID != "a" {
		t.Fatalf("Topic(usage) = %+v", usage)
	}
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("boom")
	pub.FailWith(boom)
	if _, err := pub.Publish(context.Background(), "usage", 1); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	pub.FailWith(nil)
	if _, err := pub.Publish(context.Background(), "usage", 1); err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}
	if len(pub.Messages()) != 1 {
		t.Fatalf("failed publish should not be recorded")
	}
}

func TestPublisherHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Publish(ctx, "usage", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
